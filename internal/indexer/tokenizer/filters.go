package tokenizer

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kljensen/snowball/english"
)

// Lowercase folds the whole text to lower case.
type Lowercase struct{}

// PrepareLine lowercases line.
func (Lowercase) PrepareLine(line string) string {
	return strings.ToLower(line)
}

var deletedCharacters = regexp.MustCompile(`[. ()\[\]\-",:;\n!?]|[0-9]+`)

// DeleteCharacters replaces punctuation, brackets, newlines and digit runs
// with spaces. "&" is kept so conjunctive query tokens survive; Terms splits
// document text on it.
type DeleteCharacters struct{}

// PrepareLine blanks out the deleted characters.
func (DeleteCharacters) PrepareLine(line string) string {
	return deletedCharacters.ReplaceAllString(line, " ")
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// StopWords drops common English function words.
type StopWords struct{}

// PrepareWord returns "" for a stop word.
func (StopWords) PrepareWord(word string) string {
	if _, ok := stopWords[strings.ToLower(word)]; ok {
		return ""
	}
	return word
}

// IsStopWord reports whether word is dropped by StopWords.
func IsStopWord(word string) bool {
	_, ok := stopWords[strings.ToLower(word)]
	return ok
}

// Stemmer reduces a word to its Snowball (Porter2) English stem.
type Stemmer struct{}

// PrepareWord stems word.
func (Stemmer) PrepareWord(word string) string {
	return english.Stem(word, false)
}

// MinLength drops tokens shorter than n runes.
type MinLength int

// PrepareWord returns "" for words shorter than m.
func (m MinLength) PrepareWord(word string) string {
	if utf8.RuneCountInString(word) < int(m) {
		return ""
	}
	return word
}
