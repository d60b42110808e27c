// Package store declares interfaces for persisting the site index.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/sitesearch/internal/crawler"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate signals a unique key violation, e.g. a second page at the same (site, path).
	ErrDuplicate = errors.New("duplicate record")
)

// SiteRepository persists configured sites and their lifecycle status.
type SiteRepository interface {
	// CreateSite inserts a site and returns it with its assigned ID.
	CreateSite(ctx context.Context, site crawler.Site) (crawler.Site, error)
	// UpdateSiteStatus sets status, status time and last error (empty clears it).
	UpdateSiteStatus(ctx context.Context, siteID int64, status crawler.SiteStatus, lastError string, at time.Time) error
	// TouchSite bumps the status time without changing the status.
	TouchSite(ctx context.Context, siteID int64, at time.Time) error
	// GetSiteByURL loads a site by its base URL or returns ErrNotFound.
	GetSiteByURL(ctx context.Context, url string) (crawler.Site, error)
	ListSites(ctx context.Context) ([]crawler.Site, error)
	ListSitesByStatus(ctx context.Context, status crawler.SiteStatus) ([]crawler.Site, error)
	// DeleteSite removes the site together with its pages, lemmas and index entries.
	DeleteSite(ctx context.Context, siteID int64) error
}

// PageRepository persists fetched pages.
type PageRepository interface {
	// SavePage inserts a page or returns ErrDuplicate when (site, path) exists.
	SavePage(ctx context.Context, page crawler.Page) (crawler.Page, error)
	// GetPage loads the page at (site, path) or returns ErrNotFound.
	GetPage(ctx context.Context, siteID int64, path string) (crawler.Page, error)
	GetPages(ctx context.Context, ids []int64) ([]crawler.Page, error)
	// CountPages counts pages of one site, or of all sites when siteID is 0.
	CountPages(ctx context.Context, siteID int64) (int, error)
}

// IndexReader is the read side of lemma and index state used by search and statistics.
type IndexReader interface {
	// FindLemmasInSites returns lemma rows for terms in the given sites (all sites when nil).
	FindLemmasInSites(ctx context.Context, terms []string, siteIDs []int64) ([]crawler.Lemma, error)
	// PageIDsForLemmas returns the distinct pages holding an index entry for any of lemmaIDs.
	PageIDsForLemmas(ctx context.Context, lemmaIDs []int64) ([]int64, error)
	// FindIndexEntries returns the entries of pageID restricted to lemmaIDs.
	FindIndexEntries(ctx context.Context, pageID int64, lemmaIDs []int64) ([]crawler.IndexEntry, error)
	// CountLemmas counts lemmas of one site, or of all sites when siteID is 0.
	CountLemmas(ctx context.Context, siteID int64) (int, error)
}

// LemmaUpsert describes one lemma write inside an index transaction.
type LemmaUpsert struct {
	SiteID int64
	Term   string
	// Delta is added to the stored frequency, or used as the initial value on insert.
	Delta int
}

// IndexTx is the write side of lemma and index state. All calls made through
// one IndexTx commit or roll back together.
type IndexTx interface {
	FindLemmas(ctx context.Context, siteID int64, terms []string) ([]crawler.Lemma, error)
	// UpsertLemmas applies the deltas and returns the resulting rows in input order.
	UpsertLemmas(ctx context.Context, rows []LemmaUpsert) ([]crawler.Lemma, error)
	// AdjustFrequencies adds delta to each listed lemma ID.
	AdjustFrequencies(ctx context.Context, deltas map[int64]int) error
	// DeleteExhaustedLemmas removes lemmas among ids whose frequency is <= 0.
	DeleteExhaustedLemmas(ctx context.Context, ids []int64) error
	InsertIndexEntries(ctx context.Context, entries []crawler.IndexEntry) error
	FindIndexEntriesByPage(ctx context.Context, pageID int64) ([]crawler.IndexEntry, error)
	DeleteIndexEntriesByPage(ctx context.Context, pageID int64) error
	DeletePage(ctx context.Context, pageID int64) error
	// LivePages returns the IDs among pageIDs that still exist and keeps them
	// from being deleted until the transaction ends.
	LivePages(ctx context.Context, pageIDs []int64) ([]int64, error)
}

// Transactor runs fn inside a transaction, committing when fn returns nil.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx IndexTx) error) error
}

// Store bundles every persistence capability the application needs.
type Store interface {
	SiteRepository
	PageRepository
	IndexReader
	Transactor
	Close() error
}
