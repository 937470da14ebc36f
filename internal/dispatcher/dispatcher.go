// Package dispatcher fans frontier work out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/metrics"
	"github.com/JakeFAU/discourse-crawler/internal/queue"
	"github.com/JakeFAU/discourse-crawler/internal/worker"
)

// DefaultWorkers is the global concurrency ceiling when none is configured.
const DefaultWorkers = 1000

// Config controls the worker pool.
type Config struct {
	Workers int
}

// Stats is a point-in-time view of the frontier.
type Stats struct {
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
	Workers  int `json:"workers"`
}

// Dispatcher is the fetch engine: it owns the frontier and runs the workers.
type Dispatcher struct {
	queue   queue.Queue
	fetcher worker.Fetcher
	limiter worker.Limiter
	workers int
	logger  *zap.Logger
}

var _ crawler.Engine = (*Dispatcher)(nil)

// New creates a Dispatcher. limiter may be nil.
func New(q queue.Queue, fetcher worker.Fetcher, limiter worker.Limiter, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{
		queue:   q,
		fetcher: fetcher,
		limiter: limiter,
		workers: workers,
		logger:  logger,
	}
}

// Enqueue adds a request to the frontier. Requests already seen in this run are ignored.
func (d *Dispatcher) Enqueue(ctx context.Context, req crawler.Request) error {
	added, err := d.queue.Enqueue(ctx, req)
	if err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	if added {
		metrics.SetFrontierDepth(d.queue.Len())
	}
	return nil
}

// Run starts the workers and blocks until the frontier is exhausted or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, handler crawler.Handler) error {
	if d.queue.CloseIfIdle() {
		d.logger.Info("frontier empty; nothing to fetch")
		return nil
	}
	d.logger.Info("starting workers", zap.Int("workers", d.workers))

	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(worker.New(i, d.queue, d.fetcher, d.limiter, handler, d.logger))
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl interrupted: %w", err)
	}
	d.logger.Info("frontier exhausted")
	return nil
}

// Stats reports the current frontier size.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:   d.queue.Len(),
		InFlight: d.queue.InFlight(),
		Workers:  d.workers,
	}
}
