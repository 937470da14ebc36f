package crawler

import "context"

// ArtifactStore persists raw responses addressed by (domain, path).
type ArtifactStore interface {
	Write(ctx context.Context, domain, path string, content []byte) error
	Exists(ctx context.Context, domain, path string) (bool, error)
}

// FailureRecorder records a failed URL in the ledger.
type FailureRecorder interface {
	Record(ctx context.Context, url string, reason FailureReason) error
}

// Frontier accepts new work for the fetch engine.
type Frontier interface {
	Enqueue(ctx context.Context, req Request) error
}

// Handler receives fetch completions from the engine.
type Handler interface {
	OnSuccess(ctx context.Context, resp Response)
	OnError(ctx context.Context, req Request, reason FailureReason, err error)
}

// Engine performs prioritized, concurrency-bounded fetches until the frontier is empty.
type Engine interface {
	Frontier
	Run(ctx context.Context, handler Handler) error
}
