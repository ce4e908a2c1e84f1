// Package lexicon maps human-facing field labels, across languages, to the
// canonical contact fields. The built-in label data is embedded at build
// time and can be supplemented per tenant with an overlay.
package lexicon

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/colligo/internal/models"
)

//go:embed data.yaml
var builtinData []byte

// LabelEntry is one surface form bound to its canonical field.
type LabelEntry struct {
	Field   models.Field
	Surface string
}

// LabelPattern is a compiled boundary-aware pattern for one surface form.
// The pattern anchors the label at a line start, tolerates leading
// whitespace and terminates on a ":" or "-" separator.
type LabelPattern struct {
	Field   models.Field
	Surface string
	Re      *regexp.Regexp
}

// Lexicon resolves label text to canonical fields. Built-in surface forms
// always win over overlay forms, and within each tier fields are consulted
// in models.FieldOrder with the first substring match taking the label.
type Lexicon struct {
	builtins map[models.Field][]string
	overlay  map[models.Field][]string

	// builtinSet guards overlays from rebinding a built-in surface form.
	builtinSet map[string]bool

	patterns []LabelPattern
}

type lexiconFile struct {
	Fields map[string][]string `yaml:"fields"`
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default returns the shared lexicon built from the embedded data.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		lx, err := New()
		if err != nil {
			panic(fmt.Sprintf("lexicon: embedded data invalid: %v", err))
		}
		defaultLex = lx
	})
	return defaultLex
}

// New parses the embedded label data into a fresh lexicon.
func New() (*Lexicon, error) {
	var file lexiconFile
	if err := yaml.Unmarshal(builtinData, &file); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon data: %w", err)
	}

	known := make(map[models.Field]bool, len(models.FieldOrder))
	for _, f := range models.FieldOrder {
		known[f] = true
	}

	builtins := make(map[models.Field][]string, len(file.Fields))
	builtinSet := make(map[string]bool)
	for key, surfaces := range file.Fields {
		field := models.Field(key)
		if !known[field] {
			return nil, fmt.Errorf("lexicon data references unknown field %q", key)
		}
		for _, surface := range surfaces {
			surface = Fold(surface)
			if surface == "" {
				continue
			}
			if builtinSet[surface] {
				continue
			}
			builtinSet[surface] = true
			builtins[field] = append(builtins[field], surface)
		}
	}
	for _, f := range models.FieldOrder {
		if len(builtins[f]) == 0 {
			return nil, fmt.Errorf("lexicon data has no labels for field %q", f)
		}
	}

	lx := &Lexicon{
		builtins:   builtins,
		builtinSet: builtinSet,
	}
	lx.patterns = compilePatterns(lx.builtins, nil)
	return lx, nil
}

// WithOverlay returns a copy of the lexicon supplemented with tenant labels.
// Overlay surfaces that collide with a built-in surface are dropped so an
// overlay can add labels but never rebind one.
func (lx *Lexicon) WithOverlay(extra map[models.Field][]string) *Lexicon {
	merged := &Lexicon{
		builtins:   lx.builtins,
		builtinSet: lx.builtinSet,
		overlay:    make(map[models.Field][]string),
	}
	seen := make(map[string]bool)
	for _, field := range models.FieldOrder {
		for _, surface := range extra[field] {
			surface = Fold(surface)
			if surface == "" || lx.builtinSet[surface] || seen[surface] {
				continue
			}
			seen[surface] = true
			merged.overlay[field] = append(merged.overlay[field], surface)
		}
	}
	merged.patterns = compilePatterns(merged.builtins, merged.overlay)
	return merged
}

// FieldFor resolves label text to a canonical field. The label matches
// when any surface form is a substring of the case-folded text. Built-in
// forms are consulted before overlay forms, and fields in declaration
// order, so the first match wins deterministically.
func (lx *Lexicon) FieldFor(label string) (models.Field, bool) {
	text := Fold(label)
	if text == "" {
		return "", false
	}
	for _, field := range models.FieldOrder {
		for _, surface := range lx.builtins[field] {
			if strings.Contains(text, surface) {
				return field, true
			}
		}
	}
	for _, field := range models.FieldOrder {
		for _, surface := range lx.overlay[field] {
			if strings.Contains(text, surface) {
				return field, true
			}
		}
	}
	return "", false
}

// Labels returns every surface form with its field, built-ins first, in
// field declaration order.
func (lx *Lexicon) Labels() []LabelEntry {
	var entries []LabelEntry
	for _, field := range models.FieldOrder {
		for _, surface := range lx.builtins[field] {
			entries = append(entries, LabelEntry{Field: field, Surface: surface})
		}
	}
	for _, field := range models.FieldOrder {
		for _, surface := range lx.overlay[field] {
			entries = append(entries, LabelEntry{Field: field, Surface: surface})
		}
	}
	return entries
}

// Surfaces returns the surface forms bound to one field.
func (lx *Lexicon) Surfaces(field models.Field) []string {
	surfaces := make([]string, 0, len(lx.builtins[field])+len(lx.overlay[field]))
	surfaces = append(surfaces, lx.builtins[field]...)
	surfaces = append(surfaces, lx.overlay[field]...)
	return surfaces
}

// Patterns returns the compiled boundary-aware patterns for every surface
// form, in the same order as Labels.
func (lx *Lexicon) Patterns() []LabelPattern {
	return lx.patterns
}

func compilePatterns(builtins, overlay map[models.Field][]string) []LabelPattern {
	var patterns []LabelPattern
	add := func(field models.Field, surfaces []string) {
		for _, surface := range surfaces {
			patterns = append(patterns, LabelPattern{
				Field:   field,
				Surface: surface,
				Re:      regexp.MustCompile(`(?mi)^[ \t]*` + regexp.QuoteMeta(surface) + `[ \t]*[:\x{FF1A}-]`),
			})
		}
	}
	for _, field := range models.FieldOrder {
		add(field, builtins[field])
	}
	for _, field := range models.FieldOrder {
		add(field, overlay[field])
	}
	return patterns
}

// Fold lowercases text rune by rune with locale-neutral simple mappings.
// strings.ToLower turns the Turkish dotted İ into "i" plus a combining
// dot, which breaks substring matching against plain "i" surfaces, so the
// single-rune mapping is used instead.
func Fold(s string) string {
	return strings.Map(unicode.ToLower, strings.TrimSpace(s))
}
