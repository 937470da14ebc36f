package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/discourse-crawler/internal/fetcher/colly"
)

type fakeFailures map[string]crawler.FailureReason

func (f fakeFailures) Snapshot() map[string]crawler.FailureReason {
	out := make(map[string]crawler.FailureReason, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type fakeFrontier dispatcher.Stats

func (f fakeFrontier) Stats() dispatcher.Stats { return dispatcher.Stats(f) }

func newTestServer() *Server {
	failures := fakeFailures{
		"https://b.example.com/top":       crawler.ReasonTimeout,
		"https://a.example.com/t/x/1":     crawler.ReasonHTTP,
		"https://a.example.com/latest":    crawler.ReasonHTTP,
		"https://c.example.com/site.json": crawler.ReasonJSON,
	}
	frontier := fakeFrontier{Queued: 12, InFlight: 3, Workers: 8}
	return NewServer("run-1", failures, frontier, zap.NewNop())
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	server := newTestServer()

	rec := serve(t, server, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, server, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "run-1")
}

func TestServer_NotReadyWithoutFrontier(t *testing.T) {
	t.Parallel()

	server := NewServer("run-2", nil, nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, server, "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, server, "/v1/frontier").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, server, "/v1/failures").Code)
}

func TestServer_Failures(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(), "/v1/failures")
	require.Equal(t, http.StatusOK, rec.Code)

	var body failuresResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 4, body.Total)
	assert.Equal(t, 2, body.ByReason[crawler.ReasonHTTP])
	require.Len(t, body.Failures, 4)
	assert.Equal(t, "https://a.example.com/latest", body.Failures[0].URL)
}

func TestServer_FailuresFilteredByReason(t *testing.T) {
	t.Parallel()

	server := newTestServer()

	rec := serve(t, server, "/v1/failures?reason=http_error")
	require.Equal(t, http.StatusOK, rec.Code)
	var body failuresResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Total)
	require.Len(t, body.Failures, 2)
	for _, f := range body.Failures {
		assert.Equal(t, crawler.ReasonHTTP, f.Reason)
	}

	rec = serve(t, server, "/v1/failures?reason=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Frontier(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(), "/v1/frontier")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID    string                        `json:"run_id"`
		Frontier dispatcher.Stats              `json:"frontier"`
		Robots   []collyfetcher.RobotsFallback `json:"robots_fallbacks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, dispatcher.Stats{Queued: 12, InFlight: 3, Workers: 8}, body.Frontier)
	assert.NotNil(t, body.Robots)
	assert.Empty(t, body.Robots)
}

type fakeRobots []collyfetcher.RobotsFallback

func (f fakeRobots) RobotsFallbacks() []collyfetcher.RobotsFallback { return f }

func TestServer_FrontierReportsRobotsFallbacks(t *testing.T) {
	t.Parallel()

	robots := fakeRobots{{Host: "slow.example.com", Reason: "tls: handshake timeout", Attempts: 4}}
	server := NewServer("run-4", nil, fakeFrontier{}, zap.NewNop(), WithRobots(robots))

	rec := serve(t, server, "/v1/frontier")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Robots []collyfetcher.RobotsFallback `json:"robots_fallbacks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []collyfetcher.RobotsFallback(robots), body.Robots)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	serve(t, server, "/healthz")

	rec := serve(t, server, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	server := NewServer("run-3", panicFailures{}, nil, zap.NewNop())
	rec := serve(t, server, "/v1/failures")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

type panicFailures struct{}

func (panicFailures) Snapshot() map[string]crawler.FailureReason { panic("boom") }

func TestServer_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestServer().Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
