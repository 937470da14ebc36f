// Package collyfetcher fetches Discourse JSON endpoints using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/metrics"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "discourse-crawler/1.0"
	acceptJSON       = "application/json"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes caps a response body; 0 keeps the collector default.
	MaxBodyBytes int
}

// Fetcher performs one GET per request through a cloned Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	robots        *robotsFallbacks
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Transport, timeout and robots settings live on the base collector
// and are shared by every clone.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Deduplication happens in the frontier, so the collector may revisit.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.UserAgent = cfg.UserAgent
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)

	var transport http.RoundTripper = newHTTPTransport()
	var robots *robotsFallbacks
	if cfg.RespectRobots {
		robots = newRobotsFallbacks(logger)
		transport = &robotsAwareTransport{base: transport, fallbacks: robots}
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		robots:        robots,
		logger:        logger,
	}
}

// RobotsFallbacks lists the hosts crawled without a readable robots.txt. It is empty
// when robots.txt is ignored.
func (f *Fetcher) RobotsFallbacks() []RobotsFallback {
	if f.robots == nil {
		return []RobotsFallback{}
	}
	return f.robots.list()
}

// fetchState collects what the collector callbacks observe for one request.
type fetchState struct {
	resp       crawler.Response
	statusCode int
	err        error
}

// Fetch executes a single GET. Failures are returned as *FetchError carrying the failure
// reason for the ledger.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.Request) (crawler.Response, error) {
	start := time.Now()
	state := &fetchState{resp: crawler.Response{Request: req}}
	collector := f.buildCollector(req, state)

	err := f.runCollector(ctx, collector, req.URL, state)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		// The collector goroutine may still be running; state is not safe to read.
		return crawler.Response{}, newFetchError(req.URL, 0, err)
	}

	status := "error"
	if state.statusCode != 0 {
		status = strconv.Itoa(state.statusCode)
	}
	metrics.ObserveFetch(req.URL, req.Kind.String(), status, len(state.resp.Body), time.Since(start))

	if err != nil {
		return crawler.Response{}, newFetchError(req.URL, state.statusCode, err)
	}
	return state.resp, nil
}

func (f *Fetcher) buildCollector(req crawler.Request, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, req, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, req crawler.Request, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptJSON)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.statusCode = r.StatusCode
		state.resp = crawler.Response{
			Request: req,
			URL:     r.Request.URL.String(),
			Body:    append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.statusCode = r.StatusCode
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	case err := <-done:
		if err != nil {
			return err //nolint:wrapcheck
		}
		return state.err
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          1000,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
