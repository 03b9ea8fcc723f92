package models

import "strings"

// Category labels the action a creator should take on a comment.
type Category string

// CategoryDefinition names a category and explains it to the classifier.
type CategoryDefinition struct {
	Name        Category
	Description string
}

// Taxonomy is the closed, ordered set of categories plus the catch-all label.
type Taxonomy struct {
	Categories []CategoryDefinition
	Fallback   Category
}

// Names returns the category names in declaration order.
func (t Taxonomy) Names() []Category {
	names := make([]Category, 0, len(t.Categories))
	for _, def := range t.Categories {
		names = append(names, def.Name)
	}
	return names
}

// Contains reports whether c is a member of the set.
func (t Taxonomy) Contains(c Category) bool {
	for _, def := range t.Categories {
		if def.Name == c {
			return true
		}
	}
	return false
}

// Lookup resolves a free-form label to a member of the set, ignoring case and
// surrounding whitespace.
func (t Taxonomy) Lookup(label string) (Category, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", false
	}
	for _, def := range t.Categories {
		if strings.EqualFold(string(def.Name), label) {
			return def.Name, true
		}
	}
	return "", false
}
