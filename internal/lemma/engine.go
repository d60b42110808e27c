package lemma

import (
	"strings"

	"github.com/kljensen/snowball"
)

const language = "russian"

// Engine normalizes text into lemma counts. The zero value is not usable;
// construct with New. An Engine is safe for concurrent use.
type Engine struct {
	stopWords map[string]struct{}
}

// New returns an Engine using the built-in Russian stop-word list.
func New() *Engine {
	return &Engine{stopWords: defaultStopWords()}
}

// Normalize counts lemma occurrences in plain text.
func (e *Engine) Normalize(text string) map[string]int {
	counts := make(map[string]int)
	for _, token := range Tokenize(text) {
		term, ok := e.Lemma(token)
		if !ok {
			continue
		}
		counts[term]++
	}
	return counts
}

// LemmaMapHTML strips markup from html and counts lemma occurrences.
func (e *Engine) LemmaMapHTML(html string) map[string]int {
	return e.Normalize(ExtractText(html))
}

// Lemma reduces one lowercase token to its stem. The second result is false
// for stop words and tokens that reduce to nothing.
func (e *Engine) Lemma(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	if _, stop := e.stopWords[token]; stop {
		return "", false
	}
	stem, err := snowball.Stem(token, language, false)
	if err != nil || stem == "" {
		return token, true
	}
	return stem, true
}

// Terms returns the distinct lemmas of text in first-seen order.
func (e *Engine) Terms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, token := range Tokenize(text) {
		term, ok := e.Lemma(token)
		if !ok {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

// Tokenize lowercases text, folds "ё" into "е" and splits on every rune
// outside the Russian alphabet.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "ё", "е")
	return strings.FieldsFunc(text, func(r rune) bool {
		return r < 'а' || r > 'я'
	})
}
