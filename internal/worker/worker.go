// Package worker implements the fetch loop run by each dispatcher goroutine.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/metrics"
	"github.com/JakeFAU/discourse-crawler/internal/queue"
)

// Fetcher retrieves one request.
type Fetcher interface {
	Fetch(ctx context.Context, req crawler.Request) (crawler.Response, error)
}

// Limiter delays a request until its host may be contacted again.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// reasoned is implemented by fetch errors that know their ledger reason.
type reasoned interface {
	FailureReason() crawler.FailureReason
}

// Worker consumes frontier items, fetches them and reports completions to a handler.
type Worker struct {
	id      int
	queue   queue.Queue
	fetcher Fetcher
	limiter Limiter
	handler crawler.Handler
	logger  *zap.Logger
}

// New constructs a Worker. limiter may be nil.
func New(
	id int,
	q queue.Queue,
	fetcher Fetcher,
	limiter Limiter,
	handler crawler.Handler,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		queue:   q,
		fetcher: fetcher,
		limiter: limiter,
		handler: handler,
		logger:  logger,
	}
}

// Run blocks, consuming queue items until the frontier is exhausted or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Int("worker", w.id), zap.Error(err))
			continue
		}
		w.process(ctx, item)
		// Children were enqueued by the handler, so the frontier cannot look empty here
		// while work remains.
		w.queue.Done(item)
		metrics.SetFrontierDepth(w.queue.Len())
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	req := item.Request
	logger := w.logger.With(zap.String("url", req.URL), zap.Stringer("kind", req.Kind))
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, req.URL); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("rate limiter wait failed", zap.Error(err))
		}
	}

	logger.Debug("fetching")
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("fetch abandoned on shutdown")
			return
		}
		w.handler.OnError(ctx, req, reasonFor(err), err)
		return
	}
	if ctx.Err() != nil {
		logger.Debug("response dropped on shutdown")
		return
	}
	w.handler.OnSuccess(ctx, resp)
}

func reasonFor(err error) crawler.FailureReason {
	var r reasoned
	if errors.As(err, &r) {
		return r.FailureReason()
	}
	return crawler.ReasonHTTP
}
