// Package indexer owns every write to lemma and index state. Maintainer
// applies batched page/lemma units and the decrement-on-delete path, and
// PageIndexer re-indexes a single URL synchronously.
package indexer
