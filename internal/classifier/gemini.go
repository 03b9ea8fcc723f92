package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/template"
	"time"

	"golang.org/x/time/rate"

	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
)

const maxResponseBytes = 1 << 20

// GeminiConfig configures a GeminiClassifier.
type GeminiConfig struct {
	APIKey   string
	URL      string
	Taxonomy models.Taxonomy
	Prompt   *template.Template
	// RPS and Burst throttle outgoing requests. Zero RPS disables throttling.
	RPS        float64
	Burst      int
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   Observer
}

// GeminiClassifier asks a Gemini generateContent endpoint to pick a category.
type GeminiClassifier struct {
	apiKey   string
	url      string
	taxonomy models.Taxonomy
	prompt   *template.Template
	limiter  *rate.Limiter
	timeout  time.Duration
	client   *http.Client
	observer Observer
}

// NewGeminiClassifier validates cfg and constructs the classifier.
func NewGeminiClassifier(cfg GeminiConfig) (*GeminiClassifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("gemini api url is required")
	}
	if cfg.Prompt == nil {
		return nil, errors.New("classification prompt is required")
	}
	if len(cfg.Taxonomy.Categories) == 0 {
		return nil, errors.New("taxonomy has no categories")
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &GeminiClassifier{
		apiKey:   cfg.APIKey,
		url:      cfg.URL,
		taxonomy: cfg.Taxonomy,
		prompt:   cfg.Prompt,
		limiter:  limiter,
		timeout:  timeout,
		client:   client,
		observer: cfg.Observer,
	}, nil
}

// Classify returns the model's category, or the fallback when the call fails.
func (g *GeminiClassifier) Classify(ctx context.Context, text string) models.Category {
	category, _, _ := g.Label(ctx, text)
	return category
}

// Label classifies text and reports the match kind. On error the returned
// category is still the fallback.
func (g *GeminiClassifier) Label(ctx context.Context, text string) (models.Category, MatchKind, error) {
	reply, err := g.generate(ctx, text)
	if err != nil {
		logging.FromContext(ctx).Warn("classification failed, using fallback",
			slog.String("fallback", string(g.taxonomy.Fallback)),
			slog.Any("error", err),
		)
		g.observe(MatchError)
		return g.taxonomy.Fallback, MatchError, err
	}

	category, kind := ParseCategory(g.taxonomy, reply)
	if kind == MatchFallback {
		logging.FromContext(ctx).Debug("model reply matched no category", slog.String("reply", reply))
	}
	g.observe(kind)
	return category, kind, nil
}

func (g *GeminiClassifier) observe(kind MatchKind) {
	if g.observer != nil {
		g.observer.ObserveClassification(string(kind))
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (g *GeminiClassifier) generate(ctx context.Context, text string) (string, error) {
	var prompt bytes.Buffer
	data := struct {
		Categories []models.CategoryDefinition
		Comment    string
	}{Categories: g.taxonomy.Categories, Comment: text}
	if err := g.prompt.Execute(&prompt, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt.String()}}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini response has no candidates")
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}

var _ Labeler = (*GeminiClassifier)(nil)
