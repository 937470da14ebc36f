// Package storage defines the artifact store used by the crawler.
// Artifacts are addressed by (domain, path); the empty domain holds run-level files such as
// the failure ledger and the crawl summary.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Supported backends.
const (
	BackendLoose   = "loose"
	BackendTarball = "tarball"
	BackendMemory  = "memory"
)

var (
	// ErrNotFound is returned by Read when no artifact exists at the address.
	ErrNotFound = errors.New("artifact not found")
	// ErrEmptyContent is returned when a zero-length artifact is written.
	ErrEmptyContent = errors.New("empty artifact content")
	// ErrPathEscapesRoot is returned when a path resolves outside the store root.
	ErrPathEscapesRoot = errors.New("path escapes store root")
)

// Provider persists and looks up artifacts.
type Provider interface {
	// Write stores content at (domain, path), replacing any previous artifact.
	Write(ctx context.Context, domain, path string, content []byte) error
	// Exists reports whether an artifact is stored at (domain, path).
	Exists(ctx context.Context, domain, path string) (bool, error)
	// Read returns the artifact stored at (domain, path) or ErrNotFound.
	Read(ctx context.Context, domain, path string) ([]byte, error)
	// Close releases backend resources.
	Close() error
}

// Router sends run-level files (empty domain) to the loose backend and everything else to
// the configured domain backend.
type Router struct {
	loose   Provider
	primary Provider
}

// NewRouter builds a router. primary may be the same value as loose.
func NewRouter(loose, primary Provider) *Router {
	return &Router{loose: loose, primary: primary}
}

func (r *Router) pick(domain string) Provider {
	if domain == "" {
		return r.loose
	}
	return r.primary
}

// Write implements Provider.
func (r *Router) Write(ctx context.Context, domain, path string, content []byte) error {
	return r.pick(domain).Write(ctx, domain, path, content) //nolint:wrapcheck
}

// Exists implements Provider.
func (r *Router) Exists(ctx context.Context, domain, path string) (bool, error) {
	return r.pick(domain).Exists(ctx, domain, path) //nolint:wrapcheck
}

// Read implements Provider.
func (r *Router) Read(ctx context.Context, domain, path string) ([]byte, error) {
	return r.pick(domain).Read(ctx, domain, path) //nolint:wrapcheck
}

// Close closes both backends once.
func (r *Router) Close() error {
	errs := []error{}
	if r.primary != nil && r.primary != r.loose {
		if err := r.primary.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close primary backend: %w", err))
		}
	}
	if r.loose != nil {
		if err := r.loose.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close loose backend: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NoOpProvider discards writes and reports every artifact as absent.
// It is useful for dry runs where content is fetched but not saved.
type NoOpProvider struct{}

// Write does nothing and always returns nil.
func (NoOpProvider) Write(context.Context, string, string, []byte) error { return nil }

// Exists always reports false.
func (NoOpProvider) Exists(context.Context, string, string) (bool, error) { return false, nil }

// Read always returns ErrNotFound.
func (NoOpProvider) Read(context.Context, string, string) ([]byte, error) { return nil, ErrNotFound }

// Close does nothing.
func (NoOpProvider) Close() error { return nil }
