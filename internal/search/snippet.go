package search

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/sitesearch/internal/lemma"
)

const fallbackSnippetRunes = 250

// snippet picks the sentence matching the most distinct query lemmas and
// wraps the raw query words found in it with <b> tags.
func (s *Searcher) snippet(html, query string, queryLemmas map[string]struct{}) string {
	text := lemma.ExtractText(html)
	best, bestScore := "", 0
	for _, sentence := range splitSentences(text) {
		score := 0
		for _, term := range s.analyzer.Terms(sentence) {
			if _, ok := queryLemmas[term]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = sentence, score
		}
	}
	if bestScore == 0 {
		best = truncateRunes(text, fallbackSnippetRunes)
	}
	return highlight(best, strings.Fields(strings.ToLower(query)))
}

// splitSentences cuts text after every '.', '!' or '?' and trims the pieces.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + utf8.RuneLen(r)
		if piece := strings.TrimSpace(text[start:end]); piece != "" {
			out = append(out, piece)
		}
		start = end
	}
	if piece := strings.TrimSpace(text[start:]); piece != "" {
		out = append(out, piece)
	}
	return out
}

func truncateRunes(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}

func isBoundary(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(".,!?;:\"'()", r)
}

// highlight wraps every word of text equal, ignoring case, to one of words.
func highlight(text string, words []string) string {
	if len(words) == 0 {
		return text
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	var b strings.Builder
	b.Grow(len(text) + 16)
	word := -1
	flush := func(end int) {
		if word < 0 {
			return
		}
		part := text[word:end]
		if _, ok := set[strings.ToLower(part)]; ok {
			b.WriteString("<b>")
			b.WriteString(part)
			b.WriteString("</b>")
		} else {
			b.WriteString(part)
		}
		word = -1
	}
	for i, r := range text {
		if isBoundary(r) {
			flush(i)
			b.WriteRune(r)
			continue
		}
		if word < 0 {
			word = i
		}
	}
	flush(len(text))
	return b.String()
}
