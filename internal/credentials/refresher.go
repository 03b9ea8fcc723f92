package credentials

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/commco/backend/internal/models"
)

// Refresher renews expired credentials.
type Refresher interface {
	Refresh(ctx context.Context, cred models.Credential) (models.Credential, bool, error)
}

// OAuthConfig describes the OAuth client used for token renewal.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	// Skew treats tokens this close to expiry as already expired.
	Skew time.Duration
	// HTTPClient overrides the client used to reach the token endpoint.
	HTTPClient *http.Client
}

// OAuthRefresher exchanges refresh tokens at an OAuth2 token endpoint.
type OAuthRefresher struct {
	config     oauth2.Config
	skew       time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// NewOAuthRefresher constructs a refresher for the configured client.
func NewOAuthRefresher(cfg OAuthConfig) *OAuthRefresher {
	return &OAuthRefresher{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		skew:       cfg.Skew,
		httpClient: cfg.HTTPClient,
		now:        time.Now,
	}
}

// Refresh returns cred untouched while it is still valid. Otherwise it asks the
// token endpoint for a new access token and reports wasRenewed.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred models.Credential) (models.Credential, bool, error) {
	if !cred.Expired(r.now(), r.skew) {
		return cred, false, nil
	}
	if !cred.HasRefreshToken() {
		return models.Credential{}, false, ErrCredentialExpired
	}

	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// An empty access token forces the token source to hit the endpoint.
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return models.Credential{}, false, fmt.Errorf("%w: %w", ErrTokenRefresh, err)
	}
	if tok.AccessToken == "" {
		return models.Credential{}, false, fmt.Errorf("%w: token endpoint returned no access token", ErrTokenRefresh)
	}

	renewed := models.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if tok.RefreshToken != "" {
		renewed.RefreshToken = tok.RefreshToken
	}
	return renewed, true, nil
}

var _ Refresher = (*OAuthRefresher)(nil)
