package crawler

import (
	"context"

	"go.uber.org/zap"
)

// ResumeGuard answers whether an artifact has already been persisted by the active backend.
type ResumeGuard struct {
	store  ArtifactStore
	logger *zap.Logger
}

// NewResumeGuard wraps store.
func NewResumeGuard(store ArtifactStore, logger *zap.Logger) *ResumeGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResumeGuard{store: store, logger: logger}
}

// Exists reports whether (domain, path) is present. Lookup errors count as absent so the
// artifact is fetched again rather than lost.
func (g *ResumeGuard) Exists(ctx context.Context, domain, path string) bool {
	ok, err := g.store.Exists(ctx, domain, path)
	if err != nil {
		g.logger.Warn("Resume lookup failed",
			zap.String("domain", domain),
			zap.String("path", path),
			zap.Error(err),
		)
		return false
	}
	return ok
}
