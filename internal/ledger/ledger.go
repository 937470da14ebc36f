// Package ledger records failed URLs in failures.json at the root of the store.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/storage"
)

// Path is the ledger location in the run-level (empty) domain.
const Path = "/failures.json"

// ErrNotFound is returned by Read when no ledger has been written.
var ErrNotFound = errors.New("failure ledger not found")

// Ledger maps URL to the reason of its most recent failure. Every Record rewrites the
// whole file; a mutex serializes updates so concurrent callbacks cannot lose entries.
type Ledger struct {
	store  storage.Provider
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]crawler.FailureReason
}

var _ crawler.FailureRecorder = (*Ledger)(nil)

// New returns an empty ledger persisted through store.
func New(store storage.Provider, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:   store,
		logger:  logger,
		entries: make(map[string]crawler.FailureReason),
	}
}

// Load merges a previously written ledger so resumed runs keep earlier failures.
// A missing file is not an error.
func (l *Ledger) Load(ctx context.Context) error {
	prev, err := Read(ctx, l.store)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	maps.Copy(l.entries, prev)
	l.logger.Info("Loaded failure ledger", zap.Int("entries", len(prev)))
	return nil
}

// Record sets the failure reason for url and persists the ledger.
func (l *Ledger) Record(ctx context.Context, url string, reason crawler.FailureReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[url] = reason
	return l.persistLocked(ctx)
}

// Flush persists the ledger even when it is empty, so a run without failures still leaves
// a failures.json for the summary.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistLocked(ctx)
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failure ledger: %w", err)
	}
	if err := l.store.Write(ctx, "", Path, data); err != nil {
		return fmt.Errorf("write failure ledger: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current entries.
func (l *Ledger) Snapshot() map[string]crawler.FailureReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.entries)
}

// Len reports the number of failed URLs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Read loads the persisted ledger from store.
func Read(ctx context.Context, store storage.Provider) (map[string]crawler.FailureReason, error) {
	data, err := store.Read(ctx, "", Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("read failure ledger: %w", err)
	}
	entries := make(map[string]crawler.FailureReason)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode failure ledger: %w", err)
	}
	return entries, nil
}
