// Package aggregator runs the long-lived consumer that drains the collector
// queue in batches and hands each batch to the index writer.
package aggregator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/metrics"
)

// Source is the queue the aggregator drains.
type Source interface {
	Drain(max int) []crawler.PageLemmas
	Len() int
}

// Writer persists a batch atomically.
type Writer interface {
	SaveBatch(ctx context.Context, units []crawler.PageLemmas) error
}

// Config controls batching.
type Config struct {
	// BatchSize is the maximum number of units per write.
	BatchSize int
	// Idle is how long to sleep when the queue is empty.
	Idle time.Duration
	// Linger is how long to wait for a short batch to fill before writing it.
	Linger time.Duration
}

// Aggregator is the single consumer of the collector queue.
type Aggregator struct {
	source Source
	writer Writer
	cfg    Config
	logger *zap.Logger
}

// New constructs an Aggregator.
func New(source Source, writer Writer, cfg Config, logger *zap.Logger) *Aggregator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 500 * time.Millisecond
	}
	if cfg.Linger < 0 {
		cfg.Linger = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{source: source, writer: writer, cfg: cfg, logger: logger}
}

// Run blocks, writing batches until the context finishes. Units still queued
// at shutdown are flushed with a detached context.
func (a *Aggregator) Run(ctx context.Context) {
	a.logger.Info("aggregator started", zap.Int("batch_size", a.cfg.BatchSize))
	defer a.logger.Info("aggregator stopped")
	for {
		if ctx.Err() != nil {
			a.flush()
			return
		}
		batch := a.next(ctx)
		if len(batch) == 0 {
			if !sleep(ctx, a.cfg.Idle) {
				a.flush()
				return
			}
			continue
		}
		a.write(ctx, batch)
	}
}

// next drains up to BatchSize units; a short batch gets one linger period to
// fill up before it is returned.
func (a *Aggregator) next(ctx context.Context) []crawler.PageLemmas {
	batch := a.source.Drain(a.cfg.BatchSize)
	if len(batch) == 0 || len(batch) >= a.cfg.BatchSize || a.cfg.Linger == 0 {
		return batch
	}
	if sleep(ctx, a.cfg.Linger) {
		batch = append(batch, a.source.Drain(a.cfg.BatchSize-len(batch))...)
	}
	return batch
}

func (a *Aggregator) write(ctx context.Context, batch []crawler.PageLemmas) {
	metrics.ObserveBatch(len(batch))
	if err := a.writer.SaveBatch(ctx, batch); err != nil {
		metrics.ObserveBatchFailure()
		a.logger.Error("index batch dropped", zap.Int("batch_size", len(batch)), zap.Error(err))
	} else {
		a.logger.Debug("index batch written", zap.Int("batch_size", len(batch)))
	}
	metrics.SetQueueDepth(a.source.Len())
}

func (a *Aggregator) flush() {
	ctx := context.Background()
	for {
		batch := a.source.Drain(a.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		a.write(ctx, batch)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
