// Package store defines interfaces for persistence dependencies (sites, pages,
// lemmas and the search index). Implementations live in other packages; this
// package must not import database drivers or concrete clients.
package store
