// Package search answers free-text queries against the lemma index. Query
// terms are intersected rarest-first, ranked by summed index rank and
// returned with a highlighted snippet.
package search
