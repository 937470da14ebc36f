package crawler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/metrics"
)

// Orchestrator seeds the frontier from the site list and feeds classifier output back into
// the fetch engine.
type Orchestrator struct {
	cfg        Config
	classifier *Classifier
	ledger     FailureRecorder
	engine     Engine
	logger     *zap.Logger
}

// NewOrchestrator builds an orchestrator around the given collaborators.
func NewOrchestrator(
	cfg Config,
	store ArtifactStore,
	ledger FailureRecorder,
	engine Engine,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		classifier: NewClassifier(cfg, store, ledger, logger.Named("classifier")),
		ledger:     ledger,
		engine:     engine,
		logger:     logger,
	}
}

// Seed returns the initial requests for sites, in shuffled site order so that no domain is
// systematically served first under the shared concurrency ceiling.
func (o *Orchestrator) Seed(sites []Site) []Request {
	shuffled := append([]Site(nil), sites...)
	seed := o.cfg.ShuffleSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed>>32))) // #nosec G404 -- ordering only.
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	opts := o.cfg.Options
	var out []Request
	for _, site := range shuffled {
		if opts.ScrapeLatest {
			out = append(out, Request{URL: site.BaseURL, Priority: PriorityListing, Kind: KindLatest})
		}
		if opts.ScrapeTop {
			out = append(out, Request{URL: site.BaseURL + "top", Priority: PriorityListing, Kind: KindTop})
		}
		if opts.ScrapeCategories {
			out = append(out, Request{URL: site.BaseURL + "categories", Priority: PriorityListing, Kind: KindCategories})
		}
		if opts.ScrapeIndex {
			out = append(out, Request{URL: site.BaseURL + "site", Priority: PrioritySiteIndex, Kind: KindIndex})
		}
	}
	return out
}

// Run seeds the engine and blocks until the frontier is exhausted or ctx ends.
func (o *Orchestrator) Run(ctx context.Context, sites []Site) error {
	if len(sites) == 0 {
		return ErrNoSites
	}
	seeds := o.Seed(sites)
	o.logger.Info("Seeding frontier",
		zap.Int("sites", len(sites)),
		zap.Int("requests", len(seeds)),
	)
	for _, req := range seeds {
		if err := o.enqueue(ctx, req); err != nil {
			return fmt.Errorf("seed frontier: %w", err)
		}
	}
	if err := o.engine.Run(ctx, o); err != nil {
		return fmt.Errorf("run engine: %w", err)
	}
	return nil
}

// OnSuccess classifies a fetched body and enqueues its children.
func (o *Orchestrator) OnSuccess(ctx context.Context, resp Response) {
	children, err := o.classifier.Classify(ctx, resp)
	if err != nil {
		o.logger.Warn("Dropping response",
			zap.String("url", resp.URL),
			zap.Stringer("kind", resp.Request.Kind),
			zap.Error(err),
		)
		return
	}
	for _, child := range children {
		if err := o.enqueue(ctx, child); err != nil {
			o.logger.Warn("Failed to enqueue request", zap.String("url", child.URL), zap.Error(err))
		}
	}
}

// OnError records a transport failure. The URL is not retried in this run.
func (o *Orchestrator) OnError(ctx context.Context, req Request, reason FailureReason, err error) {
	o.logger.Warn("Request failed",
		zap.String("url", req.URL),
		zap.Stringer("kind", req.Kind),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	metrics.ObserveFailure(string(reason))
	if o.ledger == nil {
		return
	}
	if recErr := o.ledger.Record(ctx, req.URL, reason); recErr != nil {
		o.logger.Error("Failed to record failure", zap.String("url", req.URL), zap.Error(recErr))
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, req Request) error {
	if err := o.engine.Enqueue(ctx, req); err != nil {
		return err
	}
	metrics.ObserveRequest(req.Kind.String())
	return nil
}
