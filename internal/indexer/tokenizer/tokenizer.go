// Package tokenizer provides the text normalization pipeline shared by the
// indexer and the query engine. A Pipeline applies line filters to a whole
// text, splits it on whitespace, and applies word filters to every token;
// tokens that end up empty are dropped. Index and query text must go
// through the same Pipeline or terms silently stop matching.
package tokenizer

import (
	"strings"
	"unicode"

	"github.com/BScong/text-indexing/pkg/config"
)

// ConjunctionSeparator joins terms that must all match within one query token.
const ConjunctionSeparator = "&"

// LineFilter transforms a whole text before it is split into tokens.
type LineFilter interface {
	PrepareLine(line string) string
}

// WordFilter transforms a single token. Returning "" drops the token.
type WordFilter interface {
	PrepareWord(word string) string
}

// LineFunc adapts a plain function to LineFilter.
type LineFunc func(string) string

// PrepareLine calls f.
func (f LineFunc) PrepareLine(line string) string { return f(line) }

// WordFunc adapts a plain function to WordFilter.
type WordFunc func(string) string

// PrepareWord calls f.
func (f WordFunc) PrepareWord(word string) string { return f(word) }

// Pipeline is an ordered set of line and word filters.
type Pipeline struct {
	Lines []LineFilter
	Words []WordFilter
}

// New builds the pipeline selected by cfg. Line filters run lowercase first,
// then character deletion; word filters run stop words, stemming, then the
// minimum length check.
func New(cfg config.TokenizerConfig) Pipeline {
	var p Pipeline
	if cfg.Lowercase {
		p.Lines = append(p.Lines, Lowercase{})
	}
	if cfg.DeleteCharacters {
		p.Lines = append(p.Lines, DeleteCharacters{})
	}
	if cfg.StopWords {
		p.Words = append(p.Words, StopWords{})
	}
	if cfg.Stemming {
		p.Words = append(p.Words, Stemmer{})
	}
	if cfg.MinLength > 1 {
		p.Words = append(p.Words, MinLength(cfg.MinLength))
	}
	return p
}

// PrepareLine runs every line filter in order.
func (p Pipeline) PrepareLine(text string) string {
	for _, f := range p.Lines {
		text = f.PrepareLine(text)
	}
	return text
}

// PrepareWord runs every word filter in order, stopping early once the
// token is empty.
func (p Pipeline) PrepareWord(word string) string {
	for _, f := range p.Words {
		if word == "" {
			return ""
		}
		word = f.PrepareWord(word)
	}
	return word
}

// Terms returns the normalized, non-empty tokens of text in order. "&" is a
// separator in document text, so "AT&T" yields the terms a query "AT&T"
// looks up as a conjunction.
func (p Pipeline) Terms(text string) []string {
	words := strings.FieldsFunc(p.PrepareLine(text), isTermSeparator)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if t := p.PrepareWord(w); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

func isTermSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(ConjunctionSeparator, r)
}

// PrepareQuery normalizes a query exactly like document text while keeping
// its structure: whitespace separates tokens and the parts of an
// "&"-joined token are filtered one by one. A plain token that filters to
// nothing is dropped. A conjunction part that filters to nothing keeps its
// unfiltered text, which the index never holds, so the whole conjunction
// fails to match instead of degrading to its other parts.
func (p Pipeline) PrepareQuery(query string) string {
	tokens := strings.Fields(p.PrepareLine(query))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		var parts []string
		for _, part := range strings.Split(tok, ConjunctionSeparator) {
			if part != "" {
				parts = append(parts, part)
			}
		}
		switch len(parts) {
		case 0:
		case 1:
			if t := p.PrepareWord(parts[0]); t != "" {
				out = append(out, t)
			}
		default:
			for i, part := range parts {
				if t := p.PrepareWord(part); t != "" {
					parts[i] = t
				}
			}
			out = append(out, strings.Join(parts, ConjunctionSeparator))
		}
	}
	return strings.Join(out, " ")
}
