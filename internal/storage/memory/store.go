package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/store"
)

type pageKey struct {
	siteID int64
	path   string
}

type lemmaKey struct {
	siteID int64
	term   string
}

// Store provides an in-memory implementation for development/testing.
type Store struct {
	mu sync.RWMutex

	sites    map[int64]crawler.Site
	pages    map[int64]crawler.Page
	pageKeys map[pageKey]int64
	lemmas   map[int64]crawler.Lemma
	lemmaIDs map[lemmaKey]int64
	// entries is keyed by page ID, then lemma ID.
	entries map[int64]map[int64]float64
	// postings is keyed by lemma ID and lists the pages referencing it.
	postings map[int64]map[int64]struct{}

	nextSiteID  int64
	nextPageID  int64
	nextLemmaID int64
}

var _ store.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sites:    make(map[int64]crawler.Site),
		pages:    make(map[int64]crawler.Page),
		pageKeys: make(map[pageKey]int64),
		lemmas:   make(map[int64]crawler.Lemma),
		lemmaIDs: make(map[lemmaKey]int64),
		entries:  make(map[int64]map[int64]float64),
		postings: make(map[int64]map[int64]struct{}),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// CreateSite stores a new site.
func (s *Store) CreateSite(_ context.Context, site crawler.Site) (crawler.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sites {
		if existing.URL == site.URL {
			return crawler.Site{}, fmt.Errorf("site %s: %w", site.URL, store.ErrDuplicate)
		}
	}
	s.nextSiteID++
	site.ID = s.nextSiteID
	s.sites[site.ID] = site
	return site, nil
}

// UpdateSiteStatus updates status, timestamp and last error.
func (s *Store) UpdateSiteStatus(
	_ context.Context,
	siteID int64,
	status crawler.SiteStatus,
	lastError string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return store.ErrNotFound
	}
	site.Status = status
	site.LastError = lastError
	site.StatusTime = at
	s.sites[siteID] = site
	return nil
}

// TouchSite bumps the status time.
func (s *Store) TouchSite(_ context.Context, siteID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return store.ErrNotFound
	}
	site.StatusTime = at
	s.sites[siteID] = site
	return nil
}

// GetSiteByURL looks a site up by base URL.
func (s *Store) GetSiteByURL(_ context.Context, url string) (crawler.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, site := range s.sites {
		if site.URL == url {
			return site, nil
		}
	}
	return crawler.Site{}, store.ErrNotFound
}

// ListSites returns all sites ordered by ID.
func (s *Store) ListSites(_ context.Context) ([]crawler.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedSites(func(crawler.Site) bool { return true }), nil
}

// ListSitesByStatus returns sites in the given status ordered by ID.
func (s *Store) ListSitesByStatus(_ context.Context, status crawler.SiteStatus) ([]crawler.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedSites(func(site crawler.Site) bool { return site.Status == status }), nil
}

func (s *Store) sortedSites(keep func(crawler.Site) bool) []crawler.Site {
	out := make([]crawler.Site, 0, len(s.sites))
	for _, site := range s.sites {
		if keep(site) {
			out = append(out, site)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteSite removes a site and everything it owns.
func (s *Store) DeleteSite(_ context.Context, siteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[siteID]; !ok {
		return store.ErrNotFound
	}
	for id, page := range s.pages {
		if page.SiteID != siteID {
			continue
		}
		for lemmaID := range s.entries[id] {
			delete(s.postings[lemmaID], id)
		}
		delete(s.entries, id)
		delete(s.pageKeys, pageKey{siteID: siteID, path: page.Path})
		delete(s.pages, id)
	}
	for id, lemma := range s.lemmas {
		if lemma.SiteID != siteID {
			continue
		}
		delete(s.postings, id)
		delete(s.lemmaIDs, lemmaKey{siteID: siteID, term: lemma.Term})
		delete(s.lemmas, id)
	}
	delete(s.sites, siteID)
	return nil
}

// SavePage inserts a page unless (site, path) is taken.
func (s *Store) SavePage(_ context.Context, page crawler.Page) (crawler.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[page.SiteID]; !ok {
		return crawler.Page{}, fmt.Errorf("site %d: %w", page.SiteID, store.ErrNotFound)
	}
	key := pageKey{siteID: page.SiteID, path: page.Path}
	if _, exists := s.pageKeys[key]; exists {
		return crawler.Page{}, fmt.Errorf("page %s: %w", page.Path, store.ErrDuplicate)
	}
	s.nextPageID++
	page.ID = s.nextPageID
	s.pages[page.ID] = page
	s.pageKeys[key] = page.ID
	return page, nil
}

// GetPage loads the page at (site, path).
func (s *Store) GetPage(_ context.Context, siteID int64, path string) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pageKeys[pageKey{siteID: siteID, path: path}]
	if !ok {
		return crawler.Page{}, store.ErrNotFound
	}
	return s.pages[id], nil
}

// GetPages loads the listed pages, skipping unknown IDs.
func (s *Store) GetPages(_ context.Context, ids []int64) ([]crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Page, 0, len(ids))
	for _, id := range ids {
		if page, ok := s.pages[id]; ok {
			out = append(out, page)
		}
	}
	return out, nil
}

// CountPages counts pages of one site, or all pages when siteID is 0.
func (s *Store) CountPages(_ context.Context, siteID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if siteID == 0 {
		return len(s.pages), nil
	}
	n := 0
	for _, page := range s.pages {
		if page.SiteID == siteID {
			n++
		}
	}
	return n, nil
}

// FindLemmasInSites returns lemma rows for terms, optionally limited to sites.
func (s *Store) FindLemmasInSites(_ context.Context, terms []string, siteIDs []int64) ([]crawler.Lemma, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sites := siteIDs
	if sites == nil {
		for id := range s.sites {
			sites = append(sites, id)
		}
	}
	var out []crawler.Lemma
	for _, siteID := range sites {
		for _, term := range terms {
			if id, ok := s.lemmaIDs[lemmaKey{siteID: siteID, term: term}]; ok {
				out = append(out, s.lemmas[id])
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PageIDsForLemmas returns the distinct pages referencing any of lemmaIDs.
func (s *Store) PageIDsForLemmas(_ context.Context, lemmaIDs []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]struct{})
	var out []int64
	for _, lemmaID := range lemmaIDs {
		for pageID := range s.postings[lemmaID] {
			if _, dup := seen[pageID]; dup {
				continue
			}
			seen[pageID] = struct{}{}
			out = append(out, pageID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FindIndexEntries returns entries of pageID limited to lemmaIDs.
func (s *Store) FindIndexEntries(_ context.Context, pageID int64, lemmaIDs []int64) ([]crawler.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.IndexEntry
	for _, lemmaID := range lemmaIDs {
		if rank, ok := s.entries[pageID][lemmaID]; ok {
			out = append(out, crawler.IndexEntry{PageID: pageID, LemmaID: lemmaID, Rank: rank})
		}
	}
	return out, nil
}

// CountLemmas counts lemmas of one site, or all lemmas when siteID is 0.
func (s *Store) CountLemmas(_ context.Context, siteID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if siteID == 0 {
		return len(s.lemmas), nil
	}
	n := 0
	for _, lemma := range s.lemmas {
		if lemma.SiteID == siteID {
			n++
		}
	}
	return n, nil
}

// InTx runs fn under the write lock; on error every mutation made through
// the transaction is reverted.
func (s *Store) InTx(ctx context.Context, fn func(tx store.IndexTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) FindLemmas(_ context.Context, siteID int64, terms []string) ([]crawler.Lemma, error) {
	var out []crawler.Lemma
	for _, term := range terms {
		if id, ok := t.s.lemmaIDs[lemmaKey{siteID: siteID, term: term}]; ok {
			out = append(out, t.s.lemmas[id])
		}
	}
	return out, nil
}

func (t *memTx) UpsertLemmas(_ context.Context, rows []store.LemmaUpsert) ([]crawler.Lemma, error) {
	out := make([]crawler.Lemma, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Term) == "" {
			return nil, fmt.Errorf("upsert lemma: empty term")
		}
		key := lemmaKey{siteID: row.SiteID, term: row.Term}
		if id, ok := t.s.lemmaIDs[key]; ok {
			t.setLemma(id, t.s.lemmas[id].Frequency+row.Delta)
			out = append(out, t.s.lemmas[id])
			continue
		}
		t.s.nextLemmaID++
		lemma := crawler.Lemma{ID: t.s.nextLemmaID, SiteID: row.SiteID, Term: row.Term, Frequency: row.Delta}
		t.s.lemmas[lemma.ID] = lemma
		t.s.lemmaIDs[key] = lemma.ID
		t.undo = append(t.undo, func() {
			delete(t.s.lemmas, lemma.ID)
			delete(t.s.lemmaIDs, key)
		})
		out = append(out, lemma)
	}
	return out, nil
}

func (t *memTx) setLemma(id int64, frequency int) {
	prev := t.s.lemmas[id]
	next := prev
	next.Frequency = frequency
	t.s.lemmas[id] = next
	t.undo = append(t.undo, func() { t.s.lemmas[id] = prev })
}

func (t *memTx) AdjustFrequencies(_ context.Context, deltas map[int64]int) error {
	for id, delta := range deltas {
		lemma, ok := t.s.lemmas[id]
		if !ok {
			return fmt.Errorf("lemma %d: %w", id, store.ErrNotFound)
		}
		t.setLemma(id, lemma.Frequency+delta)
	}
	return nil
}

func (t *memTx) DeleteExhaustedLemmas(_ context.Context, ids []int64) error {
	for _, id := range ids {
		lemma, ok := t.s.lemmas[id]
		if !ok || lemma.Frequency > 0 {
			continue
		}
		key := lemmaKey{siteID: lemma.SiteID, term: lemma.Term}
		postings := t.s.postings[id]
		for pageID := range postings {
			t.deleteEntry(pageID, id)
		}
		delete(t.s.postings, id)
		delete(t.s.lemmas, id)
		delete(t.s.lemmaIDs, key)
		t.undo = append(t.undo, func() {
			t.s.lemmas[id] = lemma
			t.s.lemmaIDs[key] = id
		})
	}
	return nil
}

func (t *memTx) InsertIndexEntries(_ context.Context, entries []crawler.IndexEntry) error {
	for _, entry := range entries {
		if _, ok := t.s.pages[entry.PageID]; !ok {
			return fmt.Errorf("index entry page %d: %w", entry.PageID, store.ErrNotFound)
		}
		if _, ok := t.s.lemmas[entry.LemmaID]; !ok {
			return fmt.Errorf("index entry lemma %d: %w", entry.LemmaID, store.ErrNotFound)
		}
		if _, dup := t.s.entries[entry.PageID][entry.LemmaID]; dup {
			return fmt.Errorf("index entry %d/%d: %w", entry.PageID, entry.LemmaID, store.ErrDuplicate)
		}
		t.putEntry(entry.PageID, entry.LemmaID, entry.Rank)
		pageID, lemmaID := entry.PageID, entry.LemmaID
		t.undo = append(t.undo, func() { t.removeEntry(pageID, lemmaID) })
	}
	return nil
}

func (t *memTx) FindIndexEntriesByPage(_ context.Context, pageID int64) ([]crawler.IndexEntry, error) {
	out := make([]crawler.IndexEntry, 0, len(t.s.entries[pageID]))
	for lemmaID, rank := range t.s.entries[pageID] {
		out = append(out, crawler.IndexEntry{PageID: pageID, LemmaID: lemmaID, Rank: rank})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LemmaID < out[j].LemmaID })
	return out, nil
}

func (t *memTx) DeleteIndexEntriesByPage(_ context.Context, pageID int64) error {
	for lemmaID := range t.s.entries[pageID] {
		t.deleteEntry(pageID, lemmaID)
	}
	return nil
}

func (t *memTx) LivePages(_ context.Context, pageIDs []int64) ([]int64, error) {
	out := make([]int64, 0, len(pageIDs))
	for _, id := range pageIDs {
		if _, ok := t.s.pages[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (t *memTx) DeletePage(_ context.Context, pageID int64) error {
	page, ok := t.s.pages[pageID]
	if !ok {
		return store.ErrNotFound
	}
	for lemmaID := range t.s.entries[pageID] {
		t.deleteEntry(pageID, lemmaID)
	}
	key := pageKey{siteID: page.SiteID, path: page.Path}
	delete(t.s.pages, pageID)
	delete(t.s.pageKeys, key)
	t.undo = append(t.undo, func() {
		t.s.pages[pageID] = page
		t.s.pageKeys[key] = pageID
	})
	return nil
}

func (t *memTx) deleteEntry(pageID, lemmaID int64) {
	rank, ok := t.s.entries[pageID][lemmaID]
	if !ok {
		return
	}
	t.removeEntry(pageID, lemmaID)
	t.undo = append(t.undo, func() { t.putEntry(pageID, lemmaID, rank) })
}

func (t *memTx) putEntry(pageID, lemmaID int64, rank float64) {
	if t.s.entries[pageID] == nil {
		t.s.entries[pageID] = make(map[int64]float64)
	}
	t.s.entries[pageID][lemmaID] = rank
	if t.s.postings[lemmaID] == nil {
		t.s.postings[lemmaID] = make(map[int64]struct{})
	}
	t.s.postings[lemmaID][pageID] = struct{}{}
}

func (t *memTx) removeEntry(pageID, lemmaID int64) {
	delete(t.s.entries[pageID], lemmaID)
	if len(t.s.entries[pageID]) == 0 {
		delete(t.s.entries, pageID)
	}
	delete(t.s.postings[lemmaID], pageID)
	if len(t.s.postings[lemmaID]) == 0 {
		delete(t.s.postings, lemmaID)
	}
}
