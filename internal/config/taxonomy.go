package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"

	"github.com/commco/backend/internal/models"
)

//go:embed default_categories.toml
var defaultCategories string

// TaxonomyFile is the on-disk shape of the category configuration.
type TaxonomyFile struct {
	Fallback   string         `toml:"fallback"`
	Prompt     string         `toml:"prompt"`
	Categories []CategoryFile `toml:"category"`
}

// CategoryFile is one [[category]] table.
type CategoryFile struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// Classification bundles the closed category set with the instruction template
// sent to the text generation endpoint.
type Classification struct {
	Taxonomy models.Taxonomy
	Prompt   *template.Template
}

// LoadClassification reads the taxonomy file at path, or the embedded default
// when path is empty.
func LoadClassification(path string) (Classification, error) {
	if strings.TrimSpace(path) == "" {
		return ReadClassification(strings.NewReader(defaultCategories))
	}

	f, err := os.Open(path)
	if err != nil {
		return Classification{}, fmt.Errorf("open categories file: %w", err)
	}
	defer f.Close()

	c, err := ReadClassification(f)
	if err != nil {
		return Classification{}, fmt.Errorf("reading categories from %s: %w", path, err)
	}
	return c, nil
}

// ReadClassification decodes and validates a taxonomy document.
func ReadClassification(r io.Reader) (Classification, error) {
	var file TaxonomyFile
	if _, err := toml.NewDecoder(r).Decode(&file); err != nil {
		return Classification{}, fmt.Errorf("decode categories: %w", err)
	}

	if len(file.Categories) == 0 {
		return Classification{}, errors.New("categories: at least one category is required")
	}

	tax := models.Taxonomy{Fallback: models.Category(strings.TrimSpace(file.Fallback))}
	seen := make(map[string]struct{}, len(file.Categories))
	for _, c := range file.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return Classification{}, errors.New("categories: category name must not be empty")
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return Classification{}, fmt.Errorf("categories: duplicate category %q", name)
		}
		seen[key] = struct{}{}
		tax.Categories = append(tax.Categories, models.CategoryDefinition{
			Name:        models.Category(name),
			Description: strings.TrimSpace(c.Description),
		})
	}

	if !tax.Contains(tax.Fallback) {
		return Classification{}, fmt.Errorf("categories: fallback %q is not a declared category", tax.Fallback)
	}

	if strings.TrimSpace(file.Prompt) == "" {
		return Classification{}, errors.New("categories: prompt template is required")
	}
	prompt, err := template.New("prompt").Option("missingkey=error").Parse(file.Prompt)
	if err != nil {
		return Classification{}, fmt.Errorf("categories: parse prompt: %w", err)
	}

	return Classification{Taxonomy: tax, Prompt: prompt}, nil
}
