package core

import (
	"fmt"
	"strings"
)

// DefaultCategory is applied when an expense is submitted without a category.
const DefaultCategory = "Inne"

var (
	DefaultExpenseCategories = []string{
		"Jedzenie", "Transport", "Rozrywka", "Zakupy",
		"Rachunki", "Zdrowie", "Edukacja", "Rodzice",
		"Ubrania", "Delegacje", "Inwestycje", "Inne",
	}

	DefaultIncomeSources = []string{
		"Pensja", "Premia", "Freelance", "Inwestycje",
		"Zwrot podatku", "Sprzedaż", "Rodzina", "Inne",
	}
)

// Taxonomy is the enumerated set of expense categories and income sources
// accepted at the input boundary. Tags are stored as plain text.
type Taxonomy struct {
	categories []string
	sources    []string
	catIndex   map[string]struct{}
	srcIndex   map[string]struct{}
}

// NewTaxonomy builds a taxonomy; empty lists fall back to the defaults.
func NewTaxonomy(categories, sources []string) *Taxonomy {
	categories = cleanTags(categories)
	if len(categories) == 0 {
		categories = DefaultExpenseCategories
	}
	sources = cleanTags(sources)
	if len(sources) == 0 {
		sources = DefaultIncomeSources
	}
	t := &Taxonomy{
		categories: append([]string(nil), categories...),
		sources:    append([]string(nil), sources...),
		catIndex:   make(map[string]struct{}, len(categories)),
		srcIndex:   make(map[string]struct{}, len(sources)),
	}
	for _, c := range categories {
		t.catIndex[c] = struct{}{}
	}
	for _, s := range sources {
		t.srcIndex[s] = struct{}{}
	}
	return t
}

// DefaultTaxonomy returns the built-in vocabulary.
func DefaultTaxonomy() *Taxonomy {
	return NewTaxonomy(nil, nil)
}

func (t *Taxonomy) Categories() []string { return append([]string(nil), t.categories...) }
func (t *Taxonomy) Sources() []string    { return append([]string(nil), t.sources...) }

// Labels returns the tag set for kind.
func (t *Taxonomy) Labels(kind Kind) []string {
	if kind == KindIncome {
		return t.Sources()
	}
	return t.Categories()
}

// ResolveLabel validates label for kind and returns the canonical tag.
// An empty expense category resolves to DefaultCategory when it is part of the taxonomy.
func (t *Taxonomy) ResolveLabel(kind Kind, label string) (string, error) {
	label = strings.TrimSpace(label)
	switch kind {
	case KindExpense:
		if label == "" {
			if _, ok := t.catIndex[DefaultCategory]; ok {
				return DefaultCategory, nil
			}
			return "", fmt.Errorf("%w: empty", ErrInvalidCategory)
		}
		if _, ok := t.catIndex[label]; !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidCategory, label)
		}
	case KindIncome:
		if _, ok := t.srcIndex[label]; !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidSource, label)
		}
	default:
		return "", fmt.Errorf("unknown entry kind %q", kind)
	}
	return label, nil
}

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
