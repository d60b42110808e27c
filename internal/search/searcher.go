package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/lemma"
	"github.com/JakeFAU/sitesearch/internal/metrics"
	"github.com/JakeFAU/sitesearch/internal/store"
)

var (
	// ErrEmptyQuery is returned for a blank query string.
	ErrEmptyQuery = errors.New("search query is empty")
	// ErrSiteNotFound is returned when the site filter names no stored site.
	ErrSiteNotFound = errors.New("site not found")
)

const (
	defaultFrequencyThreshold = 0.95
	defaultLimit              = 20
)

// Analyzer reduces query text to lemmas.
type Analyzer interface {
	Terms(text string) []string
	Lemma(token string) (string, bool)
}

// Config tunes ranking.
type Config struct {
	// FrequencyThreshold is the page share at or above which a term stops
	// constraining the candidate set.
	FrequencyThreshold float64
	DefaultLimit       int
}

// Query is one search request.
type Query struct {
	Text   string
	Site   string
	Offset int
	Limit  int
}

// Result is one ranked page.
type Result struct {
	Site      string  `json:"site"`
	SiteName  string  `json:"siteName"`
	URI       string  `json:"uri"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

// Response carries the total hit count and the requested page of results.
type Response struct {
	Count   int      `json:"count"`
	Results []Result `json:"data"`
}

// Searcher reads persisted index state. It never writes.
type Searcher struct {
	sites    store.SiteRepository
	pages    store.PageRepository
	index    store.IndexReader
	analyzer Analyzer
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Searcher.
func New(sites store.SiteRepository, pages store.PageRepository, index store.IndexReader, analyzer Analyzer, cfg Config, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FrequencyThreshold <= 0 {
		cfg.FrequencyThreshold = defaultFrequencyThreshold
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultLimit
	}
	return &Searcher{
		sites:    sites,
		pages:    pages,
		index:    index,
		analyzer: analyzer,
		cfg:      cfg,
		logger:   logger.Named("search"),
	}
}

// Search runs q and returns the ranked results page.
func (s *Searcher) Search(ctx context.Context, q Query) (Response, error) {
	start := time.Now()
	resp, err := s.search(ctx, q)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case resp.Count == 0:
		outcome = "empty"
	}
	metrics.ObserveSearch(outcome, time.Since(start))
	if err != nil {
		s.logger.Debug("search failed", zap.String("query", q.Text), zap.Error(err))
	}
	return resp, err
}

func (s *Searcher) search(ctx context.Context, q Query) (Response, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Response{}, ErrEmptyQuery
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = s.cfg.DefaultLimit
	}

	sites, err := s.targetSites(ctx, q.Site)
	if err != nil {
		return Response{}, err
	}
	terms := s.analyzer.Terms(text)
	if len(terms) == 0 || len(sites) == 0 {
		return Response{}, nil
	}

	siteIDs := make([]int64, 0, len(sites))
	for id := range sites {
		siteIDs = append(siteIDs, id)
	}
	found, err := s.index.FindLemmasInSites(ctx, terms, siteIDs)
	if err != nil {
		return Response{}, fmt.Errorf("find lemmas: %w", err)
	}

	singleSite := q.Site != ""
	if !singleSite && distinctTerms(found) < len(terms) {
		return Response{}, nil
	}
	filtered, err := s.filterFrequent(ctx, found, len(terms), siteIDs)
	if err != nil {
		return Response{}, err
	}
	groups := groupByTerm(filtered)
	if len(groups) == 0 {
		return Response{}, nil
	}

	candidates, err := s.intersect(ctx, groups)
	if err != nil || len(candidates) == 0 {
		return Response{}, err
	}

	results, err := s.rank(ctx, candidates, found, sites, text, terms)
	if err != nil {
		return Response{}, err
	}
	return paginate(results, q.Offset, q.Limit), nil
}

func (s *Searcher) targetSites(ctx context.Context, filter string) (map[int64]crawler.Site, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		all, err := s.sites.ListSites(ctx)
		if err != nil {
			return nil, fmt.Errorf("list sites: %w", err)
		}
		out := make(map[int64]crawler.Site, len(all))
		for _, site := range all {
			out[site.ID] = site
		}
		return out, nil
	}
	site, err := s.sites.GetSiteByURL(ctx, filter)
	if errors.Is(err, store.ErrNotFound) && strings.HasSuffix(filter, "/") {
		site, err = s.sites.GetSiteByURL(ctx, strings.TrimRight(filter, "/"))
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", filter, ErrSiteNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}
	return map[int64]crawler.Site{site.ID: site}, nil
}

// filterFrequent drops terms present on at least the threshold share of
// pages. A single-site single-term query is never filtered, and a filter that
// would remove everything is ignored.
func (s *Searcher) filterFrequent(ctx context.Context, found []crawler.Lemma, termCount int, siteIDs []int64) ([]crawler.Lemma, error) {
	if len(siteIDs) == 1 && termCount == 1 {
		return found, nil
	}
	total := 0
	for _, id := range siteIDs {
		n, err := s.pages.CountPages(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("count pages: %w", err)
		}
		total += n
	}
	if total == 0 {
		return nil, nil
	}
	freq := make(map[string]int)
	for _, l := range found {
		freq[l.Term] += l.Frequency
	}
	kept := make([]crawler.Lemma, 0, len(found))
	for _, l := range found {
		if float64(freq[l.Term])/float64(total) >= s.cfg.FrequencyThreshold {
			continue
		}
		kept = append(kept, l)
	}
	if len(kept) == 0 {
		return found, nil
	}
	return kept, nil
}

func distinctTerms(lemmas []crawler.Lemma) int {
	seen := make(map[string]struct{}, len(lemmas))
	for _, l := range lemmas {
		seen[l.Term] = struct{}{}
	}
	return len(seen)
}

type termGroup struct {
	term      string
	frequency int
	lemmaIDs  []int64
}

// groupByTerm merges per-site rows of the same term, rarest first.
func groupByTerm(lemmas []crawler.Lemma) []termGroup {
	idx := make(map[string]int)
	var groups []termGroup
	for _, l := range lemmas {
		i, ok := idx[l.Term]
		if !ok {
			i = len(groups)
			idx[l.Term] = i
			groups = append(groups, termGroup{term: l.Term})
		}
		groups[i].frequency += l.Frequency
		groups[i].lemmaIDs = append(groups[i].lemmaIDs, l.ID)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].frequency < groups[j].frequency
	})
	return groups
}

// intersect narrows the candidate pages term by term, starting from the rarest.
func (s *Searcher) intersect(ctx context.Context, groups []termGroup) ([]int64, error) {
	var candidates map[int64]struct{}
	for _, g := range groups {
		ids, err := s.index.PageIDsForLemmas(ctx, g.lemmaIDs)
		if err != nil {
			return nil, fmt.Errorf("pages for %q: %w", g.term, err)
		}
		next := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			if candidates == nil {
				next[id] = struct{}{}
				continue
			}
			if _, ok := candidates[id]; ok {
				next[id] = struct{}{}
			}
		}
		candidates = next
		if len(candidates) == 0 {
			return nil, nil
		}
	}
	out := make([]int64, 0, len(candidates))
	for id := range candidates {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Searcher) rank(ctx context.Context, pageIDs []int64, found []crawler.Lemma, sites map[int64]crawler.Site, query string, terms []string) ([]Result, error) {
	lemmasBySite := make(map[int64][]int64)
	for _, l := range found {
		lemmasBySite[l.SiteID] = append(lemmasBySite[l.SiteID], l.ID)
	}
	pages, err := s.pages.GetPages(ctx, pageIDs)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}

	type scored struct {
		page     crawler.Page
		absolute float64
	}
	var hits []scored
	maxRel := 0.0
	for _, page := range pages {
		ids := lemmasBySite[page.SiteID]
		if len(ids) == 0 {
			continue
		}
		entries, err := s.index.FindIndexEntries(ctx, page.ID, ids)
		if err != nil {
			return nil, fmt.Errorf("index entries for page %d: %w", page.ID, err)
		}
		sum := 0.0
		for _, e := range entries {
			sum += e.Rank
		}
		if sum <= 0 {
			continue
		}
		hits = append(hits, scored{page: page, absolute: sum})
		if sum > maxRel {
			maxRel = sum
		}
	}
	if maxRel == 0 {
		maxRel = 1
	}

	queryLemmas := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		queryLemmas[t] = struct{}{}
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		site := sites[h.page.SiteID]
		results = append(results, Result{
			Site:      site.URL,
			SiteName:  site.Name,
			URI:       h.page.Path,
			Title:     lemma.ExtractTitle(h.page.Content),
			Snippet:   s.snippet(h.page.Content, query, queryLemmas),
			Relevance: h.absolute / maxRel,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	return results, nil
}

func paginate(results []Result, offset, limit int) Response {
	resp := Response{Count: len(results), Results: []Result{}}
	if offset >= len(results) {
		return resp
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	resp.Results = results[offset:end]
	return resp
}
