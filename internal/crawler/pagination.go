package crawler

import "sync"

// paginationGuard stops "more topics" chains that repeat or run away.
type paginationGuard struct {
	maxDepth int

	mu   sync.Mutex
	seen map[string]struct{}
}

func newPaginationGuard(maxDepth int) *paginationGuard {
	return &paginationGuard{
		maxDepth: maxDepth,
		seen:     make(map[string]struct{}),
	}
}

type paginationVerdict int

const (
	paginationAllowed paginationVerdict = iota
	paginationRepeated
	paginationTooDeep
)

// admit records url as seen and reports whether a page at depth may be requested.
func (g *paginationGuard) admit(url string, depth int) paginationVerdict {
	if g.maxDepth > 0 && depth > g.maxDepth {
		return paginationTooDeep
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[url]; ok {
		return paginationRepeated
	}
	g.seen[url] = struct{}{}
	return paginationAllowed
}
