// Package dispatcher schedules crawl sessions: it resets configured sites,
// fans the crawl out one goroutine per site, waits for every site to finish
// and supports a single-flight start and a user stop.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/metrics"
	"github.com/JakeFAU/sitesearch/internal/store"
	"github.com/JakeFAU/sitesearch/internal/worker"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("indexing is already running")
	// ErrNotRunning is returned by Stop when no session is active.
	ErrNotRunning = errors.New("indexing is not running")
	// ErrStopping is returned by Start while a stopped session is still draining.
	ErrStopping = errors.New("indexing is stopping")
)

// InterruptedByRestart is recorded on sites left CRAWLING by a previous process.
const InterruptedByRestart = "indexing interrupted by restart"

// SiteCrawler crawls one site within a session.
type SiteCrawler interface {
	Crawl(ctx context.Context, session *worker.Session, site crawler.Site) error
}

// Config controls Dispatcher behavior.
type Config struct {
	Sites           []crawler.SiteConfig
	MonitorInterval time.Duration
}

// Dispatcher owns at most one crawl session at a time.
type Dispatcher struct {
	sites     store.SiteRepository
	crawler   SiteCrawler
	collector crawler.Collector
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	session *worker.Session
	done    chan struct{}
}

// New creates a Dispatcher.
func New(
	sites store.SiteRepository,
	siteCrawler SiteCrawler,
	collector crawler.Collector,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sites:     sites,
		crawler:   siteCrawler,
		collector: collector,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Recover marks every site left CRAWLING by a previous process as FAILED.
func (d *Dispatcher) Recover(ctx context.Context) error {
	stale, err := d.sites.ListSitesByStatus(ctx, crawler.SiteStatusCrawling)
	if err != nil {
		return fmt.Errorf("list crawling sites: %w", err)
	}
	now := d.clock.Now().UTC()
	for _, site := range stale {
		if err := d.sites.UpdateSiteStatus(ctx, site.ID, crawler.SiteStatusFailed, InterruptedByRestart, now); err != nil {
			return fmt.Errorf("recover site %s: %w", site.URL, err)
		}
		d.logger.Warn("site crawl interrupted by restart", zap.String("site", site.URL))
	}
	return nil
}

// Start begins a crawl session in the background. It returns
// ErrAlreadyRunning while a session is active and ErrStopping while a stopped
// session is still draining its crawl tasks.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		if !d.session.Active() {
			return ErrStopping
		}
		return ErrAlreadyRunning
	}
	id, err := d.ids.NewID()
	if err != nil {
		return fmt.Errorf("new session id: %w", err)
	}
	session := worker.NewSession(context.WithoutCancel(ctx), id)
	done := make(chan struct{})
	d.session, d.done = session, done

	go d.run(session, done)
	d.logger.Info("indexing started", zap.String("session_id", id), zap.Int("sites", len(d.cfg.Sites)))
	return nil
}

// Stop stops the active session. Sites still crawling are marked FAILED.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil || !session.Stop() {
		return ErrNotRunning
	}
	d.logger.Info("indexing stop requested", zap.String("session_id", session.ID))

	crawling, err := d.sites.ListSitesByStatus(ctx, crawler.SiteStatusCrawling)
	if err != nil {
		return fmt.Errorf("list crawling sites: %w", err)
	}
	now := d.clock.Now().UTC()
	for _, site := range crawling {
		if err := d.sites.UpdateSiteStatus(ctx, site.ID, crawler.SiteStatusFailed, worker.StoppedByUser, now); err != nil {
			return fmt.Errorf("stop site %s: %w", site.URL, err)
		}
	}
	return nil
}

// Running reports whether a session is active. A stopped session that is
// still draining is not running; Wait blocks until it is gone.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != nil && d.session.Active()
}

// Wait blocks until the current session, if any, has fully finished.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *Dispatcher) run(session *worker.Session, done chan struct{}) {
	ctx := session.Context()
	logger := d.logger.With(zap.String("session_id", session.ID))
	defer func() {
		session.Close()
		d.mu.Lock()
		d.session, d.done = nil, nil
		d.mu.Unlock()
		close(done)
		logger.Info("indexing finished")
	}()

	sites, err := d.prepareSites(ctx, session)
	if err != nil {
		logger.Error("site preparation failed", zap.Error(err))
	}

	monitorDone := make(chan struct{})
	go d.monitor(session, monitorDone)
	defer close(monitorDone)

	var wg sync.WaitGroup
	for _, site := range sites {
		wg.Add(1)
		go func(site crawler.Site) {
			defer wg.Done()
			if err := d.crawler.Crawl(ctx, session, site); err != nil {
				logger.Warn("site crawl failed", zap.String("site", site.URL), zap.Error(err))
			}
		}(site)
	}
	wg.Wait()
}

// prepareSites drops stored sites that are no longer configured, purges
// every configured site and recreates it in CRAWLING.
func (d *Dispatcher) prepareSites(ctx context.Context, session *worker.Session) ([]crawler.Site, error) {
	stored, err := d.sites.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	configured := make(map[string]struct{}, len(d.cfg.Sites))
	for _, cfg := range d.cfg.Sites {
		configured[cfg.URL] = struct{}{}
	}
	for _, site := range stored {
		if _, ok := configured[site.URL]; ok {
			continue
		}
		if err := d.sites.DeleteSite(ctx, site.ID); err != nil {
			return nil, fmt.Errorf("delete unconfigured site %s: %w", site.URL, err)
		}
		d.logger.Info("unconfigured site removed", zap.String("site", site.URL))
	}

	out := make([]crawler.Site, 0, len(d.cfg.Sites))
	for _, cfg := range d.cfg.Sites {
		if !session.Active() {
			break
		}
		existing, err := d.sites.GetSiteByURL(ctx, cfg.URL)
		switch {
		case err == nil:
			if err := d.sites.DeleteSite(ctx, existing.ID); err != nil {
				return out, fmt.Errorf("purge site %s: %w", cfg.URL, err)
			}
		case !errors.Is(err, store.ErrNotFound):
			return out, fmt.Errorf("load site %s: %w", cfg.URL, err)
		}
		site, err := d.sites.CreateSite(ctx, crawler.Site{
			URL:        cfg.URL,
			Name:       cfg.Name,
			Status:     crawler.SiteStatusCrawling,
			StatusTime: d.clock.Now().UTC(),
		})
		if err != nil {
			return out, fmt.Errorf("create site %s: %w", cfg.URL, err)
		}
		out = append(out, site)
	}
	return out, nil
}

func (d *Dispatcher) monitor(session *worker.Session, done <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			depth := 0
			if d.collector != nil {
				depth = d.collector.Len()
			}
			metrics.SetQueueDepth(depth)
			fields := []zap.Field{zap.String("session_id", session.ID), zap.Int("queue_depth", depth)}
			for _, p := range session.Progress() {
				d.logger.Info("site crawl progress",
					zap.String("session_id", session.ID),
					zap.String("site", p.Site),
					zap.Int64("pending_tasks", p.Pending),
					zap.Int("running_tasks", p.Running),
				)
			}
			d.logger.Info("indexing status", fields...)
		}
	}
}
