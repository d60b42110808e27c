// Package app builds and holds the long-lived services of the search engine,
// acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/aggregator"
	"github.com/JakeFAU/sitesearch/internal/api"
	"github.com/JakeFAU/sitesearch/internal/clock/system"
	"github.com/JakeFAU/sitesearch/internal/config"
	"github.com/JakeFAU/sitesearch/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitesearch/internal/fetcher/colly"
	"github.com/JakeFAU/sitesearch/internal/id/uuid"
	"github.com/JakeFAU/sitesearch/internal/indexer"
	"github.com/JakeFAU/sitesearch/internal/lemma"
	"github.com/JakeFAU/sitesearch/internal/policy/ratelimit"
	queuememory "github.com/JakeFAU/sitesearch/internal/queue/memory"
	"github.com/JakeFAU/sitesearch/internal/search"
	"github.com/JakeFAU/sitesearch/internal/stats"
	"github.com/JakeFAU/sitesearch/internal/storage/memory"
	"github.com/JakeFAU/sitesearch/internal/storage/postgres"
	"github.com/JakeFAU/sitesearch/internal/store"
	"github.com/JakeFAU/sitesearch/internal/worker"
)

// StoreOpener opens the persistence backend selected by configuration.
type StoreOpener func(ctx context.Context, cfg config.StorageConfig) (store.Store, error)

// App holds the shared services for the lifetime of the process.
type App struct {
	Logger      *zap.Logger
	Store       store.Store
	Queue       *queuememory.Queue
	Dispatcher  *dispatcher.Dispatcher
	Aggregator  *aggregator.Aggregator
	PageIndexer *indexer.PageIndexer
	Searcher    *search.Searcher
	Stats       *stats.Service
	Server      *api.Server

	aggWG   sync.WaitGroup
	stopAgg context.CancelFunc
}

// New initializes every service from cfg. It fails fast when the store
// cannot be opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return NewWithOpener(ctx, cfg, OpenStore, logger)
}

// NewWithOpener is New with a custom store opener.
func NewWithOpener(ctx context.Context, cfg config.Config, open StoreOpener, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("initializing application services", zap.String("storage", cfg.Storage.Provider))

	st, err := open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	engine := lemma.New()
	clock := system.New()
	queue := queuememory.NewQueue()
	headers := requestHeaders(cfg.Crawler)

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Referrer:  cfg.Crawler.Referrer,
		Timeout:   cfg.Crawler.Timeout(),
	})
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Crawler.MaxRPSPerHost})

	siteCrawler := worker.New(
		st, st, fetcher, engine, queue, limiter, clock, clock,
		worker.Config{
			Delay:    cfg.Crawler.Delay(),
			PoolSize: cfg.Crawler.PoolSize,
			Headers:  headers,
		},
		logger.Named("worker"),
	)
	dispatch := dispatcher.New(
		st, siteCrawler, queue, uuid.New(), clock,
		dispatcher.Config{
			Sites:           cfg.Sites,
			MonitorInterval: cfg.Crawler.MonitorInterval(),
		},
		logger.Named("dispatcher"),
	)

	maintainer := indexer.NewMaintainer(st, logger.Named("indexer"))
	pageIndexer := indexer.NewPageIndexer(
		st, st, maintainer, fetcher, engine, clock, cfg.Sites, headers, logger.Named("page_indexer"),
	)
	agg := aggregator.New(queue, maintainer, aggregator.Config{
		BatchSize: cfg.Aggregator.BatchSize,
		Idle:      cfg.Aggregator.Idle(),
		Linger:    cfg.Aggregator.Linger(),
	}, logger.Named("aggregator"))

	searcher := search.New(st, st, st, engine, search.Config{
		FrequencyThreshold: cfg.Search.FrequencyThreshold,
		DefaultLimit:       cfg.Search.DefaultLimit,
	}, logger.Named("search"))
	statistics := stats.New(st, st, st, dispatch, logger.Named("stats"))

	server := api.NewServer(dispatch, pageIndexer, searcher, statistics, cfg.Sites, logger)

	logger.Info("application services initialized", zap.Int("sites", len(cfg.Sites)))
	return &App{
		Logger:      logger,
		Store:       st,
		Queue:       queue,
		Dispatcher:  dispatch,
		Aggregator:  agg,
		PageIndexer: pageIndexer,
		Searcher:    searcher,
		Stats:       statistics,
		Server:      server,
	}, nil
}

// OpenStore opens the in-memory or PostgreSQL store.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Provider {
	case config.ProviderMemory, "":
		return memory.NewStore(), nil
	case config.ProviderPostgres:
		if cfg.Postgres.DSN == "" {
			return nil, errors.New("storage provider is 'postgres' but storage.postgres.dsn is not set")
		}
		pg, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, errors.Join(err, pg.Close())
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

// Start recovers sites interrupted by a previous process and launches the
// aggregator loop. The aggregator runs until Close.
func (a *App) Start(ctx context.Context) error {
	if err := a.Dispatcher.Recover(ctx); err != nil {
		return fmt.Errorf("recover interrupted sites: %w", err)
	}
	aggCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopAgg = cancel
	a.aggWG.Add(1)
	go func() {
		defer a.aggWG.Done()
		a.Aggregator.Run(aggCtx)
	}()
	return nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// Close stops any running session, lets the aggregator flush what the
// crawl tasks collected and closes the store.
func (a *App) Close(ctx context.Context) {
	a.Logger.Info("shutting down application services")
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Stop(ctx); err != nil && !errors.Is(err, dispatcher.ErrNotRunning) {
			a.Logger.Warn("stop indexing failed", zap.Error(err))
		}
		a.Dispatcher.Wait()
	}
	if a.stopAgg != nil {
		a.stopAgg()
	}
	a.aggWG.Wait()
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("error closing store", zap.Error(err))
		}
	}
}

func requestHeaders(cfg config.CrawlerConfig) http.Header {
	h := http.Header{}
	if cfg.UserAgent != "" {
		h.Set("User-Agent", cfg.UserAgent)
	}
	if cfg.Referrer != "" {
		h.Set("Referer", cfg.Referrer)
	}
	return h
}
