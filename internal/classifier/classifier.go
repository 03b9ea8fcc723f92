package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/commco/backend/internal/models"
)

// Classifier assigns a comment to exactly one category of the configured set.
// It never fails; any problem yields the fallback category.
type Classifier interface {
	Classify(ctx context.Context, text string) models.Category
}

// Labeler is a classifier that also reports how the label was obtained and
// whether the backing model could be reached at all.
type Labeler interface {
	Classifier
	Label(ctx context.Context, text string) (models.Category, MatchKind, error)
}

// MatchKind records which parsing rule produced a category.
type MatchKind string

const (
	MatchStrict    MatchKind = "strict"
	MatchSubstring MatchKind = "substring"
	MatchFallback  MatchKind = "fallback"
	// MatchCached marks a label served from the classification cache.
	MatchCached MatchKind = "cached"
	// MatchError marks a fallback caused by a failed model call.
	MatchError MatchKind = "error"
)

// Observer is told the outcome of each classification.
type Observer interface {
	ObserveClassification(outcome string)
}

// ParseCategory maps a model reply to a member of the taxonomy. A JSON object
// {"category": "..."} naming a known category wins, then the first category
// whose name appears in the reply, then the fallback.
func ParseCategory(taxonomy models.Taxonomy, raw string) (models.Category, MatchKind) {
	if category, ok := strictCategory(taxonomy, raw); ok {
		return category, MatchStrict
	}

	lowered := strings.ToLower(raw)
	for _, def := range taxonomy.Categories {
		if strings.Contains(lowered, strings.ToLower(string(def.Name))) {
			return def.Name, MatchSubstring
		}
	}

	return taxonomy.Fallback, MatchFallback
}

func strictCategory(taxonomy models.Taxonomy, raw string) (models.Category, bool) {
	body := stripCodeFence(raw)
	if body == "" {
		return "", false
	}

	var payload struct {
		Category *string `json:"category"`
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil || payload.Category == nil {
		return "", false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", false
	}

	return taxonomy.Lookup(*payload.Category)
}

func stripCodeFence(raw string) string {
	body := strings.TrimSpace(raw)
	if !strings.HasPrefix(body, "```") {
		return body
	}

	body = strings.TrimPrefix(body, "```")
	// Drop the info string, e.g. ```json.
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		return ""
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// FallbackClassifier labels every comment with the fallback category. It
// stands in when no model is configured.
type FallbackClassifier struct {
	Taxonomy models.Taxonomy
}

func (f FallbackClassifier) Classify(context.Context, string) models.Category {
	return f.Taxonomy.Fallback
}

func (f FallbackClassifier) Label(context.Context, string) (models.Category, MatchKind, error) {
	return f.Taxonomy.Fallback, MatchFallback, nil
}

var _ Labeler = FallbackClassifier{}
