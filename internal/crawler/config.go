package crawler

import (
	"fmt"
	"strings"
)

// Crawl modes accepted on the command line.
const (
	ModeIndex   = "index"
	ModeSummary = "summary"
	ModeTopics  = "topics"
)

// Options selects which page families a run seeds and follows.
type Options struct {
	ScrapeLatest     bool
	ScrapeTop        bool
	ScrapeCategories bool
	ScrapeTopics     bool
	ScrapeIndex      bool
}

// ModeOptions returns the built-in option bundle for mode.
func ModeOptions(mode string) (Options, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeIndex, ModeSummary:
		return Options{ScrapeIndex: true}, nil
	case ModeTopics:
		return Options{
			ScrapeLatest:     true,
			ScrapeTop:        true,
			ScrapeCategories: true,
			ScrapeTopics:     true,
		}, nil
	default:
		return Options{}, fmt.Errorf("unknown crawl mode %q (want %s or %s)", mode, ModeIndex, ModeTopics)
	}
}

// Config bundles the orchestrator settings.
type Config struct {
	Options Options
	// MaxPaginationDepth bounds "more topics" chains; <= 0 disables the cap.
	MaxPaginationDepth int
	// ShuffleSeed fixes the site order; 0 picks a time-based seed.
	ShuffleSeed int64
}
