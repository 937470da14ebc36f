package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/metrics"
)

const (
	robotsPath        = "/robots.txt"
	robotsAllowAll    = "User-agent: *\nAllow: /"
	robotsMaxAttempts = 4
	// robotsBackoff doubles after every timed out attempt.
	robotsBackoff     = 250 * time.Millisecond
)

// RobotsFallback describes a forum whose robots.txt could not be read. Requests to it
// are crawled as if robots.txt allowed everything.
type RobotsFallback struct {
	Host     string `json:"host"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// robotsAwareTransport lets colly's robots.txt requests survive forums that stall during
// the TLS handshake. Other requests pass straight through.
type robotsAwareTransport struct {
	base      http.RoundTripper
	fallbacks *robotsFallbacks
	backoff   time.Duration
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if t.fallbacks == nil || !strings.EqualFold(req.URL.Path, robotsPath) {
		return t.base.RoundTrip(req) //nolint:wrapcheck
	}
	return t.fetchRobots(req)
}

// fetchRobots fetches robots.txt, retrying timeouts. When every attempt times out the host is
// recorded as a fallback and an allow-all document is returned.
func (t *robotsAwareTransport) fetchRobots(req *http.Request) (*http.Response, error) {
	backoff := t.backoff
	if backoff <= 0 {
		backoff = robotsBackoff
	}
	var lastErr error
	for attempt := 1; attempt <= robotsMaxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if ClassifyError(err) != crawler.ReasonTimeout {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		lastErr = err
		if attempt == robotsMaxAttempts {
			break
		}
		if err := wait(req.Context(), backoff); err != nil {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		backoff *= 2
	}
	t.fallbacks.add(RobotsFallback{
		Host:     strings.ToLower(req.URL.Host),
		Reason:   lastErr.Error(),
		Attempts: robotsMaxAttempts,
	})
	return allowAll(req), nil
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	case <-timer.C:
		return nil
	}
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(robotsAllowAll)),
		ContentLength: int64(len(robotsAllowAll)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

// robotsFallbacks is shared by every clone of a fetcher's collector.
type robotsFallbacks struct {
	logger *zap.Logger

	mu    sync.Mutex
	hosts map[string]RobotsFallback
}

func newRobotsFallbacks(logger *zap.Logger) *robotsFallbacks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsFallbacks{logger: logger, hosts: map[string]RobotsFallback{}}
}

func (r *robotsFallbacks) add(fb RobotsFallback) {
	r.mu.Lock()
	r.hosts[fb.Host] = fb
	r.mu.Unlock()
	metrics.ObserveRobotsFallback(fb.Host)
	r.logger.Warn("robots.txt unreachable; crawling as allow-all",
		zap.String("host", fb.Host),
		zap.String("reason", fb.Reason),
		zap.Int("attempts", fb.Attempts),
	)
}

func (r *robotsFallbacks) list() []RobotsFallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RobotsFallback, 0, len(r.hosts))
	for _, fb := range r.hosts {
		out = append(out, fb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}
