// Package memory provides the in-process frontier queue.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/queue"
)

// pqItem is one heap entry.
type pqItem struct {
	item  queue.Item
	seq   uint64
	index int
}

// priorityQueue orders by priority (higher first) then insertion order.
type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool { return before(pq[i], pq[j]) }

func before(a, b *pqItem) bool {
	if a.item.Request.Priority != b.item.Request.Priority {
		return a.item.Request.Priority > b.item.Request.Priority
	}
	return a.seq < b.seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	it, _ := x.(*pqItem)
	it.index = len(*pq)
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}

// hostQueue holds the queued items of one host.
type hostQueue struct {
	name   string
	items  priorityQueue
	active int
	index  int // position in the ready heap, -1 when absent
}

// readyHeap orders hosts that may be served by their best queued item.
type readyHeap []*hostQueue

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool { return before(h[i].items[0], h[j].items[0]) }

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	hq, _ := x.(*hostQueue)
	hq.index = len(*h)
	*h = append(*h, hq)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	hq := old[n-1]
	old[n-1] = nil
	hq.index = -1
	*h = old[:n-1]
	return hq
}

// Queue is a thread-safe priority frontier with per-host fairness. Dequeue hands out the
// best item whose host has fewer than perHostMax requests in flight. Items are kept per
// host and only hosts with spare capacity sit in the ready heap, so a saturated host costs
// nothing until one of its requests completes. The queue closes itself when the last
// in-flight item is marked done with nothing left queued.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	hosts      map[string]*hostQueue
	ready      readyHeap
	queued     int
	seq        uint64
	seen       map[string]struct{}
	inFlight   int
	perHostMax int
	closed     bool
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue builds a queue. perHostMax <= 0 disables the per-host limit.
func NewQueue(perHostMax int) *Queue {
	q := &Queue{
		hosts:      make(map[string]*hostQueue),
		seen:       make(map[string]struct{}),
		perHostMax: perHostMax,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds req unless its URL was already seen in this run.
func (q *Queue) Enqueue(ctx context.Context, req crawler.Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, queue.ErrClosed
	}
	if _, dup := q.seen[req.URL]; dup {
		return false, nil
	}
	q.seen[req.URL] = struct{}{}
	q.seq++

	host := hostOf(req.URL)
	hq, ok := q.hosts[host]
	if !ok {
		hq = &hostQueue{name: host, index: -1}
		q.hosts[host] = hq
	}
	heap.Push(&hq.items, &pqItem{item: queue.Item{Request: req, Host: host}, seq: q.seq})
	q.queued++
	if q.update(hq) {
		q.cond.Signal()
	}
	return true, nil
}

// Dequeue pops the best eligible item, waiting while none is available.
func (q *Queue) Dequeue(ctx context.Context) (queue.Item, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			if q.ready.Len() > 0 {
				q.cond.Signal()
			}
			return queue.Item{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		if q.closed {
			return queue.Item{}, queue.ErrClosed
		}
		if q.ready.Len() > 0 {
			hq := q.ready[0]
			it, _ := heap.Pop(&hq.items).(*pqItem)
			q.queued--
			q.inFlight++
			hq.active++
			q.update(hq)
			if q.ready.Len() > 0 {
				// Another host is still servable; pass the wakeup on.
				q.cond.Signal()
			}
			return it.item, nil
		}
		q.cond.Wait()
	}
}

// update places hq in or out of the ready heap and reports whether it is servable.
// It must be called with mu held.
func (q *Queue) update(hq *hostQueue) bool {
	eligible := hq.items.Len() > 0 && (q.perHostMax <= 0 || hq.active < q.perHostMax)
	switch {
	case eligible && hq.index < 0:
		heap.Push(&q.ready, hq)
	case eligible:
		heap.Fix(&q.ready, hq.index)
	case hq.index >= 0:
		heap.Remove(&q.ready, hq.index)
	}
	if hq.active == 0 && hq.items.Len() == 0 {
		delete(q.hosts, hq.name)
	}
	return eligible
}

// Done releases the item's host slot and closes the queue once the frontier is exhausted.
func (q *Queue) Done(item queue.Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	if hq, ok := q.hosts[item.Host]; ok {
		if hq.active > 0 {
			hq.active--
		}
		if q.update(hq) {
			q.cond.Signal()
		}
	}
	if q.inFlight == 0 && q.queued == 0 {
		q.closed = true
		q.cond.Broadcast()
	}
}

// CloseIfIdle closes the queue when nothing is queued or in flight.
func (q *Queue) CloseIfIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight == 0 && q.queued == 0 {
		q.closed = true
		q.cond.Broadcast()
	}
	return q.closed
}

// Close signals that no more items will be handed out.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// InFlight returns the number of items dequeued but not yet done.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
