// Package queue defines the frontier contract shared by the dispatcher and its workers.
package queue

import (
	"context"
	"errors"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
)

// ErrClosed is returned once the frontier is exhausted or shut down.
var ErrClosed = errors.New("queue closed")

// Item is a dequeued request. It must be passed back to Done when handled.
type Item struct {
	Request crawler.Request
	Host    string
}

// Queue is a prioritized frontier that tracks in-flight work.
type Queue interface {
	// Enqueue adds req unless its URL was already queued in this run. It reports whether
	// the request was added.
	Enqueue(ctx context.Context, req crawler.Request) (bool, error)
	// Dequeue blocks until an item is available, the queue closes or ctx ends.
	Dequeue(ctx context.Context) (Item, error)
	// Done marks a dequeued item handled. The queue closes when nothing is queued or in flight.
	Done(item Item)
	// CloseIfIdle closes the queue when nothing is pending and reports whether it is closed.
	CloseIfIdle() bool
	// Close wakes every waiter; later Dequeue calls return ErrClosed.
	Close()
	// Len returns the number of queued items.
	Len() int
	// InFlight returns the number of dequeued items not yet marked Done.
	InFlight() int
}
