package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/store"
)

var (
	// ErrEmptyURL is returned when no URL was supplied.
	ErrEmptyURL = errors.New("page url is empty")
	// ErrOutsideSites is returned for URLs that belong to no configured site.
	ErrOutsideSites = errors.New("page is outside the configured sites")
	// ErrBadStatus is returned when the page answers with a status >= 400.
	ErrBadStatus = errors.New("page returned an error status")
)

// PageIndexer fetches and re-indexes a single URL outside any crawl session.
type PageIndexer struct {
	sites      store.SiteRepository
	pages      store.PageRepository
	maintainer *Maintainer
	fetcher    crawler.Fetcher
	engine     crawler.LemmaEngine
	clock      crawler.Clock
	configured []crawler.SiteConfig
	headers    http.Header
	logger     *zap.Logger
}

// NewPageIndexer constructs a PageIndexer.
func NewPageIndexer(
	sites store.SiteRepository,
	pages store.PageRepository,
	maintainer *Maintainer,
	fetcher crawler.Fetcher,
	engine crawler.LemmaEngine,
	clock crawler.Clock,
	configured []crawler.SiteConfig,
	headers http.Header,
	logger *zap.Logger,
) *PageIndexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageIndexer{
		sites:      sites,
		pages:      pages,
		maintainer: maintainer,
		fetcher:    fetcher,
		engine:     engine,
		clock:      clock,
		configured: configured,
		headers:    headers,
		logger:     logger,
	}
}

// IndexPage fetches rawURL and replaces any stored copy of the page together
// with its index entries. Errors are returned to the caller; site status is
// left untouched.
func (p *PageIndexer) IndexPage(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ErrEmptyURL
	}
	cfg, ok := p.matchSite(rawURL)
	if !ok {
		return fmt.Errorf("%s: %w", rawURL, ErrOutsideSites)
	}
	path, err := crawler.PagePath(rawURL)
	if err != nil {
		return fmt.Errorf("%s: %w", rawURL, ErrOutsideSites)
	}
	site, err := p.ensureSite(ctx, cfg)
	if err != nil {
		return err
	}

	resp, err := p.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL, Headers: p.headers.Clone()})
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s: status %d: %w", rawURL, resp.StatusCode, ErrBadStatus)
	}

	logger := p.logger.With(zap.String("site", site.URL), zap.String("path", path))
	old, err := p.pages.GetPage(ctx, site.ID, path)
	switch {
	case err == nil:
		if err := p.maintainer.RemovePage(ctx, old); err != nil {
			return err
		}
		logger.Debug("previous page removed", zap.Int64("page_id", old.ID))
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("load page %s: %w", path, err)
	}

	content := string(resp.Body)
	page, err := p.pages.SavePage(ctx, crawler.Page{
		SiteID:  site.ID,
		Path:    path,
		Code:    resp.StatusCode,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("save page %s: %w", path, err)
	}
	lemmas := p.engine.LemmaMapHTML(content)
	if err := p.maintainer.SavePage(ctx, page, lemmas); err != nil {
		if rmErr := p.maintainer.RemovePage(context.WithoutCancel(ctx), page); rmErr != nil {
			return errors.Join(err, fmt.Errorf("undo page %s: %w", path, rmErr))
		}
		logger.Warn("page index failed, stored copy removed", zap.Int64("page_id", page.ID), zap.Error(err))
		return err
	}
	logger.Info("page indexed", zap.Int64("page_id", page.ID), zap.Int("lemmas", len(lemmas)))
	return nil
}

func (p *PageIndexer) matchSite(rawURL string) (crawler.SiteConfig, bool) {
	for _, cfg := range p.configured {
		if strings.HasPrefix(rawURL, cfg.URL) || crawler.SameHost(rawURL, cfg.URL) {
			return cfg, true
		}
	}
	return crawler.SiteConfig{}, false
}

func (p *PageIndexer) ensureSite(ctx context.Context, cfg crawler.SiteConfig) (crawler.Site, error) {
	site, err := p.sites.GetSiteByURL(ctx, cfg.URL)
	if err == nil {
		return site, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return crawler.Site{}, fmt.Errorf("load site %s: %w", cfg.URL, err)
	}
	site, err = p.sites.CreateSite(ctx, crawler.Site{
		URL:        cfg.URL,
		Name:       cfg.Name,
		Status:     crawler.SiteStatusIndexed,
		StatusTime: p.clock.Now().UTC(),
	})
	if err != nil {
		return crawler.Site{}, fmt.Errorf("create site %s: %w", cfg.URL, err)
	}
	return site, nil
}
