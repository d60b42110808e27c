// Package lemma turns page markup and query strings into normalized Russian
// terms. It strips markup, keeps only Cyrillic letters, drops function words
// and reduces each remaining word to its Snowball stem.
package lemma
