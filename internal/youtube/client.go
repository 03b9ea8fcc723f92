package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
)

const (
	// DefaultMaxResults bounds a fetch when the caller does not.
	DefaultMaxResults = 50
	maxPageSize       = 100
)

// quota reasons arrive as 403s but are not a credential problem.
var transientReasons = map[string]struct{}{
	"quotaExceeded":         {},
	"rateLimitExceeded":     {},
	"userRateLimitExceeded": {},
	"dailyLimitExceeded":    {},
}

// Config configures the YouTube Data API client.
type Config struct {
	// Endpoint overrides the API base URL. Empty uses the public endpoint.
	Endpoint string
	Timeout  time.Duration
	// HTTPClient is the base transport the bearer token is layered on.
	HTTPClient *http.Client
}

// Client reads comment threads and writes replies on behalf of a credential.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint != "" && !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &Client{endpoint: endpoint, timeout: timeout, httpClient: base}
}

func (c *Client) service(ctx context.Context, cred models.Credential) (*yt.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), src)

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create youtube service: %w", ErrSourceUnavailable, err)
	}
	return svc, nil
}

// FetchLatest returns up to maxResults of the channel's most recent top-level
// comments, newest first. Items without a usable snippet are skipped.
func (c *Client) FetchLatest(ctx context.Context, cred models.Credential, channelExternalID string, maxResults int) ([]models.RawComment, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)
	comments := make([]models.RawComment, 0, maxResults)
	pageToken := ""
	for len(comments) < maxResults {
		call := svc.CommentThreads.List([]string{"snippet"}).
			AllThreadsRelatedToChannelId(channelExternalID).
			Order("time").
			TextFormat("plainText").
			MaxResults(int64(min(maxResults-len(comments), maxPageSize))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, classifyError(ctx, err)
		}

		for _, item := range resp.Items {
			raw, err := rawComment(item)
			if err != nil {
				logger.Warn("skipping malformed comment thread", slog.String("thread_id", threadID(item)), slog.Any("error", err))
				continue
			}
			comments = append(comments, raw)
			if len(comments) == maxResults {
				break
			}
		}

		if resp.NextPageToken == "" || len(resp.Items) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].PublishedAt.After(comments[j].PublishedAt)
	})
	return comments, nil
}

// ListOwnedChannels returns the external ids of the channels owned by the
// credential's user.
func (c *Client) ListOwnedChannels(ctx context.Context, cred models.Credential) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Channels.List([]string{"id"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	ids := make([]string, 0, len(resp.Items))
	for _, ch := range resp.Items {
		if ch != nil && ch.Id != "" {
			ids = append(ids, ch.Id)
		}
	}
	return ids, nil
}

// Reply posts text as a reply to the comment with the given external id and
// returns the id of the new reply.
func (c *Client) Reply(ctx context.Context, cred models.Credential, parentExternalID, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, cred)
	if err != nil {
		return "", err
	}

	reply := &yt.Comment{Snippet: &yt.CommentSnippet{ParentId: parentExternalID, TextOriginal: text}}
	resp, err := svc.Comments.Insert([]string{"snippet"}, reply).Context(ctx).Do()
	if err != nil {
		return "", classifyError(ctx, err)
	}
	return resp.Id, nil
}

func rawComment(item *yt.CommentThread) (models.RawComment, error) {
	if item == nil || item.Snippet == nil || item.Snippet.TopLevelComment == nil || item.Snippet.TopLevelComment.Snippet == nil {
		return models.RawComment{}, errors.New("missing top-level comment snippet")
	}
	top := item.Snippet.TopLevelComment
	id := top.Id
	if id == "" {
		id = item.Id
	}
	if id == "" {
		return models.RawComment{}, errors.New("missing comment id")
	}

	published, err := time.Parse(time.RFC3339, top.Snippet.PublishedAt)
	if err != nil {
		return models.RawComment{}, fmt.Errorf("parse publishedAt: %w", err)
	}

	videoID := top.Snippet.VideoId
	if videoID == "" {
		videoID = item.Snippet.VideoId
	}

	return models.RawComment{
		ExternalID:      id,
		Text:            top.Snippet.TextOriginal,
		AuthorName:      top.Snippet.AuthorDisplayName,
		AuthorAvatarURL: top.Snippet.AuthorProfileImageUrl,
		VideoID:         videoID,
		PublishedAt:     published.UTC(),
	}, nil
}

func threadID(item *yt.CommentThread) string {
	if item == nil {
		return ""
	}
	return item.Id
}

func classifyError(ctx context.Context, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		case http.StatusForbidden:
			for _, item := range apiErr.Errors {
				if _, ok := transientReasons[item.Reason]; ok {
					return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
				}
			}
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, ctx.Err())
	}
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}
