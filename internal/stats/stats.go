// Package stats reports per-site crawl and index totals.
package stats

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/store"
)

// RunState reports whether a crawl session is active.
type RunState interface {
	Running() bool
}

// Total sums the whole installation.
type Total struct {
	Sites    int  `json:"sites"`
	Pages    int  `json:"pages"`
	Lemmas   int  `json:"lemmas"`
	Indexing bool `json:"indexing"`
}

// SiteDetail describes one stored site.
type SiteDetail struct {
	URL    string             `json:"url"`
	Name   string             `json:"name"`
	Status crawler.SiteStatus `json:"status"`
	// StatusTime is in Unix milliseconds.
	StatusTime int64  `json:"statusTime"`
	Error      string `json:"error,omitempty"`
	Pages      int    `json:"pages"`
	Lemmas     int    `json:"lemmas"`
}

// Report is the statistics payload.
type Report struct {
	Total    Total        `json:"total"`
	Detailed []SiteDetail `json:"detailed"`
}

// Service assembles reports from the store.
type Service struct {
	sites  store.SiteRepository
	pages  store.PageRepository
	index  store.IndexReader
	state  RunState
	logger *zap.Logger
}

// New constructs a Service. state may be nil, in which case Indexing is always false.
func New(sites store.SiteRepository, pages store.PageRepository, index store.IndexReader, state RunState, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sites: sites, pages: pages, index: index, state: state, logger: logger.Named("stats")}
}

// Statistics returns totals and a per-site breakdown.
func (s *Service) Statistics(ctx context.Context) (Report, error) {
	sites, err := s.sites.ListSites(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list sites: %w", err)
	}
	report := Report{
		Total:    Total{Sites: len(sites), Indexing: s.state != nil && s.state.Running()},
		Detailed: make([]SiteDetail, 0, len(sites)),
	}
	for _, site := range sites {
		pages, err := s.pages.CountPages(ctx, site.ID)
		if err != nil {
			return Report{}, fmt.Errorf("count pages for %s: %w", site.URL, err)
		}
		lemmas, err := s.index.CountLemmas(ctx, site.ID)
		if err != nil {
			return Report{}, fmt.Errorf("count lemmas for %s: %w", site.URL, err)
		}
		report.Total.Pages += pages
		report.Total.Lemmas += lemmas
		report.Detailed = append(report.Detailed, SiteDetail{
			URL:        site.URL,
			Name:       site.Name,
			Status:     site.Status,
			StatusTime: site.StatusTime.UnixMilli(),
			Error:      site.LastError,
			Pages:      pages,
			Lemmas:     lemmas,
		})
	}
	s.logger.Debug("statistics computed",
		zap.Int("sites", report.Total.Sites),
		zap.Int("pages", report.Total.Pages),
		zap.Int("lemmas", report.Total.Lemmas),
	)
	return report, nil
}
