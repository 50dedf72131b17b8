package extractors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aitastack/aita-fusion/internal/models"
)

// EntityRecognizer is the optional named-entity stage. Available is consulted once when
// the extractor is built; Recognize is only called on available recognizers.
type EntityRecognizer interface {
	Available() bool
	Recognize(ctx context.Context, text string) (map[models.EntityType][]string, error)
}

// LexiconFile is the YAML root of a gazetteer.
type LexiconFile struct {
	Entities map[models.EntityType][]string `yaml:"entities"`
}

type lexiconTerm struct {
	canonical string
	pattern   *regexp.Regexp
}

// LexiconRecognizer tags entities by whole-word, case-insensitive gazetteer lookup.
type LexiconRecognizer struct {
	terms map[models.EntityType][]lexiconTerm
}

// NewLexiconRecognizer loads a gazetteer from path. A missing file yields a recognizer
// that reports itself unavailable rather than an error.
func NewLexiconRecognizer(path string) (*LexiconRecognizer, error) {
	if path == "" {
		return &LexiconRecognizer{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &LexiconRecognizer{}, nil
		}
		return nil, fmt.Errorf("read entity lexicon: %w", err)
	}
	var file LexiconFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse entity lexicon: %w", err)
	}
	return NewLexiconRecognizerFromTerms(file.Entities)
}

// NewLexiconRecognizerFromTerms builds a recognizer from in-memory term lists.
func NewLexiconRecognizerFromTerms(entities map[models.EntityType][]string) (*LexiconRecognizer, error) {
	r := &LexiconRecognizer{terms: make(map[models.EntityType][]lexiconTerm)}
	for kind, values := range entities {
		if !knownEntityType(kind) {
			return nil, fmt.Errorf("unknown entity type %q", kind)
		}
		for _, v := range dedupe(values) {
			if v == "" {
				continue
			}
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(v) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("compile entity %q: %w", v, err)
			}
			r.terms[kind] = append(r.terms[kind], lexiconTerm{canonical: v, pattern: re})
		}
	}
	return r, nil
}

// Available reports whether the gazetteer holds any term.
func (r *LexiconRecognizer) Available() bool {
	if r == nil {
		return false
	}
	for _, terms := range r.terms {
		if len(terms) > 0 {
			return true
		}
	}
	return false
}

// Recognize returns the canonical form of every gazetteer term present in text.
func (r *LexiconRecognizer) Recognize(ctx context.Context, text string) (map[models.EntityType][]string, error) {
	out := make(map[models.EntityType][]string, len(models.EntityTypes))
	for _, kind := range models.EntityTypes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found := []string{}
		for _, term := range r.terms[kind] {
			if term.pattern.MatchString(text) {
				found = append(found, term.canonical)
			}
		}
		sort.Strings(found)
		out[kind] = found
	}
	return out, nil
}

func knownEntityType(kind models.EntityType) bool {
	for _, t := range models.EntityTypes {
		if t == kind {
			return true
		}
	}
	return false
}
