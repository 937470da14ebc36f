package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discourse-crawler/internal/app"
	"github.com/JakeFAU/discourse-crawler/internal/config"
)

// forum is a minimal Discourse JSON API.
type forum struct {
	mu   sync.Mutex
	hits map[string]int
}

func newForum(t *testing.T) (*forum, *httptest.Server) {
	t.Helper()
	f := &forum{hits: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *forum) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *forum) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.RequestURI()]++
	f.mu.Unlock()

	var body string
	switch r.URL.RequestURI() {
	case "/":
		body = `{"topic_list":{"more_topics_url":"/latest?page=1","topics":[{"id":1,"slug":"hello"}]}}`
	case "/latest?page=1":
		body = `{"topic_list":{"topics":[{"id":2,"slug":"second"}]}}`
	case "/top":
		body = `{"topic_list":{"topics":[{"id":1,"slug":"hello"}]}}`
	case "/categories":
		body = `{"category_list":{"categories":[
			{"id":5,"slug":"general","topic_url":"/t/about-general/3","subcategory_ids":[6]}
		]}}`
	case "/c/general/5", "/c/6":
		body = `{"topic_list":{"topics":[]}}`
	case "/t/hello/1", "/t/second/2":
		body = `{"fancy_title":"Hello","post_stream":{"posts":[]}}`
	case "/site":
		body = `{"categories":[
			{"slug":"general","topic_count":3,"post_count":10},
			{"slug":"meta","topic_count":1,"post_count":4}
		]}`
	default:
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func writeSites(t *testing.T, dir string, sites ...string) string {
	t.Helper()
	data, err := json.Marshal(sites)
	require.NoError(t, err)
	path := filepath.Join(dir, "sites.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCrawlTopicsThenResume(t *testing.T) {
	f, srv := newForum(t)
	host := mustHost(t, srv.URL)
	store := t.TempDir()
	sites := writeSites(t, t.TempDir(), srv.URL)

	_, err := execute(t, "crawl", "topics", "--store", store, "--sites", sites, "--concurrency", "4")
	require.NoError(t, err)

	for _, p := range []string{"index", "latestpage=1", "top", "categories", "c/general/5", "c/6", "t/hello/1", "t/second/2"} {
		assert.FileExists(t, filepath.Join(store, host, p))
	}
	assert.Equal(t, 1, f.count("/t/hello/1"), "a topic listed twice is fetched once")

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(store, "failures.json"))
	require.NoError(t, err)
	var failures map[string]string
	require.NoError(t, json.Unmarshal(raw, &failures))
	assert.Equal(t, map[string]string{srv.URL + "/t/about-general/3": "http_error"}, failures)

	_, err = execute(t, "crawl", "topics", "--store", store, "--sites", sites)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("/t/hello/1"), "stored topics are not fetched again")
	assert.Equal(t, 1, f.count("/t/second/2"))
	assert.Equal(t, 2, f.count("/top"))
}

func TestCrawlTopicsResumesFromArchive(t *testing.T) {
	f, srv := newForum(t)
	host := mustHost(t, srv.URL)
	store := t.TempDir()
	sites := writeSites(t, t.TempDir(), srv.URL)

	for run := 0; run < 2; run++ {
		_, err := execute(t, "crawl", "topics", "--store", store, "--sites", sites, "--backend", "tarball")
		require.NoError(t, err)
	}

	assert.FileExists(t, filepath.Join(store, host+".tar"))
	assert.NoDirExists(t, filepath.Join(store, host))
	assert.Equal(t, 1, f.count("/t/hello/1"), "archived topics are not fetched again")
	assert.Equal(t, 1, f.count("/t/second/2"))
	assert.Equal(t, 2, f.count("/categories"))
	assert.Equal(t, 2, f.count("/t/about-general/3"), "failed topics are retried")
}

func TestCrawlIndexWritesSummary(t *testing.T) {
	_, srv := newForum(t)
	host := mustHost(t, srv.URL)
	store := t.TempDir()
	sites := writeSites(t, t.TempDir(), srv.URL, "http://unreachable.invalid/")

	out, err := execute(t, "crawl", "index", "--store", store, "--sites", sites, "--backend", "tarball")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(store, host+".tar"))
	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(store, "crawlsummary.json"))
	require.NoError(t, err)

	var report map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &report))
	var totals struct {
		Sites      int `json:"sites"`
		SitesValid int `json:"sites_valid"`
		TopicCount int `json:"topic_count"`
		PostCount  int `json:"post_count"`
	}
	require.NoError(t, json.Unmarshal(report["_totals"], &totals))
	assert.Equal(t, 2, totals.Sites)
	assert.Equal(t, 1, totals.SitesValid)
	assert.Equal(t, 4, totals.TopicCount)
	assert.Equal(t, 14, totals.PostCount)
	assert.Contains(t, out, host)

	// The summary command alone gives the same report.
	_, err = execute(t, "summary", "--store", store, "--sites", sites)
	require.NoError(t, err)
	// #nosec G304 -- test reads from the controlled temp directory.
	again, err := os.ReadFile(filepath.Join(store, "crawlsummary.json"))
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
}

func TestSummaryRequiresLedger(t *testing.T) {
	store := t.TempDir()
	sites := writeSites(t, t.TempDir(), "https://forum.example.com/")

	_, err := execute(t, "summary", "--store", store, "--sites", sites)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(store, "crawlsummary.json"))
}

func TestCrawlRejectsUnknownMode(t *testing.T) {
	sites := writeSites(t, t.TempDir(), "https://forum.example.com/")

	_, err := execute(t, "crawl", "everything", "--store", t.TempDir(), "--sites", sites)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown crawl mode")
}

func TestCrawlRequiresSiteList(t *testing.T) {
	store := t.TempDir()

	_, err := execute(t, "crawl", "topics", "--store", store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load sites")
}

// closeCounter wraps the real app and counts Close calls.
type closeCounter struct {
	App
	closed int
}

func (c *closeCounter) Close() {
	c.closed++
	c.App.Close()
}

func trackClose(t *testing.T) *closeCounter {
	t.Helper()
	tracker := &closeCounter{}
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config) (App, error) {
		inner, err := app.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		tracker.App = inner
		return tracker, nil
	}
	t.Cleanup(func() { newApp = orig })
	return tracker
}

func TestFailedCommandsCloseApp(t *testing.T) {
	tracker := trackClose(t)
	_, err := execute(t, "crawl", "topics", "--store", t.TempDir(), "--backend", "tarball")
	require.Error(t, err)
	assert.Equal(t, 1, tracker.closed)

	tracker = trackClose(t)
	sites := writeSites(t, t.TempDir(), "https://forum.example.com/")
	_, err = execute(t, "summary", "--store", t.TempDir(), "--sites", sites)
	require.Error(t, err)
	assert.Equal(t, 1, tracker.closed)
}

func mustHost(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Host
}
