// Package worker implements the per-site crawl: a tree of fetch tasks run on
// a bounded ants pool, with a wait group counting outstanding tasks so the
// crawl returns only after every descendant has finished.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/clock/system"
	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/metrics"
	"github.com/JakeFAU/sitesearch/internal/store"
)

// StoppedByUser is the last error recorded for sites interrupted by a stop.
const StoppedByUser = "indexing stopped by user"

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls SiteCrawler behavior.
type Config struct {
	// Delay is the politeness pause before every fetch.
	Delay time.Duration
	// PoolSize bounds concurrent tasks per site; 0 means runtime.NumCPU().
	PoolSize int
	// Headers are sent with every request.
	Headers http.Header
}

// SiteCrawler crawls one site per Crawl call.
type SiteCrawler struct {
	sites     store.SiteRepository
	pages     store.PageRepository
	fetcher   crawler.Fetcher
	engine    crawler.LemmaEngine
	collector crawler.Collector
	limiter   Limiter
	pauser    crawler.Pauser
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a SiteCrawler. limiter may be nil.
func New(
	sites store.SiteRepository,
	pages store.PageRepository,
	fetcher crawler.Fetcher,
	engine crawler.LemmaEngine,
	collector crawler.Collector,
	limiter Limiter,
	pauser crawler.Pauser,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *SiteCrawler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = runtime.NumCPU()
	}
	if pauser == nil {
		pauser = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SiteCrawler{
		sites:     sites,
		pages:     pages,
		fetcher:   fetcher,
		engine:    engine,
		collector: collector,
		limiter:   limiter,
		pauser:    pauser,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// siteRun is the shared state of one site crawl.
type siteRun struct {
	session *Session
	site    crawler.Site
	pool    *ants.Pool
	visited crawler.VisitTracker
	wg      sync.WaitGroup
	pending atomic.Int64
	logger  *zap.Logger

	rootOnce sync.Once
	rootErr  error
}

// Crawl visits every same-host page reachable from site.URL and records the
// final status on the site: INDEXED on exhaustion, FAILED when the root page
// could not be fetched or when the session was stopped.
func (c *SiteCrawler) Crawl(ctx context.Context, session *Session, site crawler.Site) error {
	pool, err := ants.NewPool(c.cfg.PoolSize)
	if err != nil {
		return c.finish(ctx, session, site, fmt.Errorf("create pool: %w", err))
	}
	run := &siteRun{
		session: session,
		site:    site,
		pool:    pool,
		visited: crawler.NewVisitTracker(),
		logger:  c.logger.With(zap.String("session_id", session.ID), zap.String("site", site.URL)),
	}
	session.register(site.URL, pool, &run.pending)
	defer func() {
		session.unregister(site.URL)
		pool.Release()
	}()

	metrics.IncActiveSites()
	defer metrics.DecActiveSites()

	root := crawler.NormalizeLink(site.URL)
	run.visited.MarkIfNew(root)
	run.logger.Info("site crawl started", zap.Int("pool_size", c.cfg.PoolSize))
	c.spawn(ctx, run, root, true)
	run.wg.Wait()

	return c.finish(ctx, session, site, run.rootErr)
}

func (c *SiteCrawler) spawn(ctx context.Context, run *siteRun, url string, root bool) {
	run.wg.Add(1)
	run.pending.Add(1)
	done := func() {
		run.pending.Add(-1)
		run.wg.Done()
	}
	// Submit blocks while the pool is saturated, so it must not run on a
	// pool worker or a full pool would deadlock on its own children.
	go func() {
		err := run.pool.Submit(func() {
			defer done()
			c.visit(ctx, run, url, root)
		})
		if err != nil {
			if !errors.Is(err, ants.ErrPoolClosed) {
				run.logger.Warn("task submit failed", zap.String("url", url), zap.Error(err))
			}
			done()
		}
	}()
}

func (c *SiteCrawler) visit(ctx context.Context, run *siteRun, url string, root bool) {
	if !run.session.Active() || ctx.Err() != nil {
		return
	}
	c.pauser.Pause(ctx, c.cfg.Delay)
	if !run.session.Active() || ctx.Err() != nil {
		return
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return
		}
	}

	logger := run.logger.With(zap.String("url", url))
	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url, Headers: c.cfg.Headers.Clone()})
	if err != nil {
		if !run.session.Active() {
			return
		}
		metrics.ObserveFetchError(run.site.URL, fetchClass(err))
		if root {
			run.setRootErr(fmt.Errorf("fetch root page %s: %w", url, err))
			logger.Error("root page fetch failed", zap.Error(err))
			return
		}
		logger.Warn("page fetch failed", zap.Error(err))
		return
	}

	path, err := crawler.PagePath(url)
	if err != nil {
		logger.Warn("page path rejected", zap.Error(err))
		return
	}
	content := string(resp.Body)
	page, err := c.pages.SavePage(ctx, crawler.Page{
		SiteID:  run.site.ID,
		Path:    path,
		Code:    resp.StatusCode,
		Content: content,
	})
	if errors.Is(err, store.ErrDuplicate) {
		logger.Debug("page already stored", zap.String("path", path))
		return
	}
	if err != nil {
		if root {
			run.setRootErr(fmt.Errorf("save root page: %w", err))
		}
		logger.Error("save page failed", zap.Error(err))
		return
	}
	metrics.ObservePage(run.site.URL, resp.StatusCode, len(resp.Body))
	if err := c.sites.TouchSite(ctx, run.site.ID, c.clock.Now().UTC()); err != nil {
		logger.Warn("site status time update failed", zap.Error(err))
	}
	if !resp.IsSuccess() {
		logger.Debug("non-success page stored", zap.Int("status", resp.StatusCode))
		return
	}

	c.collector.Push(crawler.PageLemmas{Page: page, Lemmas: c.engine.LemmaMapHTML(content)})

	links, err := crawler.ExtractLinks(resp.Body, url, run.site.URL)
	if err != nil {
		logger.Warn("link extraction failed", zap.Error(err))
		return
	}
	for _, link := range links {
		if !run.session.Active() {
			return
		}
		if run.visited.MarkIfNew(link) {
			c.spawn(ctx, run, link, false)
		}
	}
}

func (r *siteRun) setRootErr(err error) {
	r.rootOnce.Do(func() { r.rootErr = err })
}

// finish records the final site status. It uses a context detached from
// cancellation so a stopped session still gets its status written.
func (c *SiteCrawler) finish(ctx context.Context, session *Session, site crawler.Site, rootErr error) error {
	stopped := !session.Active() || ctx.Err() != nil
	ctx = context.WithoutCancel(ctx)
	status, lastError := crawler.SiteStatusIndexed, ""
	switch {
	case stopped:
		status, lastError = crawler.SiteStatusFailed, StoppedByUser
		rootErr = nil
	case rootErr != nil:
		status, lastError = crawler.SiteStatusFailed, rootErr.Error()
	}
	metrics.ObserveSiteCrawl(string(status))
	if err := c.sites.UpdateSiteStatus(ctx, site.ID, status, lastError, c.clock.Now().UTC()); err != nil {
		return fmt.Errorf("update site %s status: %w", site.URL, err)
	}
	c.logger.Info("site crawl finished",
		zap.String("site", site.URL),
		zap.String("status", string(status)),
		zap.String("error", lastError),
	)
	return rootErr
}

func fetchClass(err error) string {
	switch {
	case errors.Is(err, crawler.ErrTimeout):
		return "timeout"
	case errors.Is(err, crawler.ErrNetwork):
		return "network"
	case errors.Is(err, crawler.ErrUnsupportedContent):
		return "unsupported_content"
	default:
		return "fetch"
	}
}
