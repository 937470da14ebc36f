// Package summary rolls persisted site indexes and the failure ledger up into
// crawlsummary.json.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/ledger"
	"github.com/JakeFAU/discourse-crawler/internal/storage"
)

// Path is the report location in the run-level (empty) domain.
const Path = "/crawlsummary.json"

// Config names the aggregator inputs.
type Config struct {
	SitesFile string
}

// Aggregator builds the crawl summary from store state. It is a pure function of the store,
// so running it twice gives the same report.
type Aggregator struct {
	cfg    Config
	loose  storage.Provider
	tar    storage.Provider
	logger *zap.Logger
}

// New returns an aggregator reading run-level files and loose artifacts from loose and
// falling back to archive for site indexes. archive may be nil.
func New(cfg Config, loose, archive storage.Provider, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cfg: cfg, loose: loose, tar: archive, logger: logger}
}

type categoryCounts struct {
	Slug       string `json:"slug"`
	TopicCount int    `json:"topic_count"`
	PostCount  int    `json:"post_count"`
}

type siteIndex struct {
	Categories []json.RawMessage `json:"categories"`
}

// Build produces the report. A missing ledger or site list is an error and no report is
// built.
func (a *Aggregator) Build(ctx context.Context) (Report, error) {
	failures, err := ledger.Read(ctx, a.loose)
	if err != nil {
		return Report{}, fmt.Errorf("load failures: %w", err)
	}
	sites, err := crawler.LoadSites(a.cfg.SitesFile, a.logger)
	if err != nil {
		return Report{}, fmt.Errorf("load sites: %w", err)
	}
	failed := failuresByDomain(failures)

	report := Report{Domains: make(map[string]DomainSummary, len(sites))}
	for _, site := range sites {
		ds := DomainSummary{
			Categories: map[string]json.RawMessage{},
			Failure:    failed[site.Domain],
		}
		report.Totals.Sites++

		if data, ok := a.readIndex(ctx, site); ok {
			if a.addCategories(&ds, site, data) {
				report.Totals.SitesValid++
			}
		}
		report.Totals.TopicCount += ds.TopicCount
		report.Totals.PostCount += ds.PostCount
		report.Totals.CategoryCount += ds.CategoryCount
		report.Domains[site.Domain] = ds
	}
	return report, nil
}

// readIndex looks for the site index as a loose file first, then inside the archive.
func (a *Aggregator) readIndex(ctx context.Context, site crawler.Site) ([]byte, bool) {
	path := site.IndexPath()
	for _, p := range []storage.Provider{a.loose, a.tar} {
		if p == nil {
			continue
		}
		data, err := p.Read(ctx, site.Domain, path)
		if err == nil {
			return data, true
		}
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("Failed to read site index",
				zap.String("domain", site.Domain),
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
	return nil, false
}

func (a *Aggregator) addCategories(ds *DomainSummary, site crawler.Site, data []byte) bool {
	var idx siteIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		a.logger.Warn("Failed to decode site index", zap.String("domain", site.Domain), zap.Error(err))
		return false
	}
	for _, raw := range idx.Categories {
		var c categoryCounts
		if err := json.Unmarshal(raw, &c); err != nil {
			a.logger.Warn("Skipping category", zap.String("domain", site.Domain), zap.Error(err))
			continue
		}
		ds.Categories[c.Slug] = raw
		ds.TopicCount += c.TopicCount
		ds.PostCount += c.PostCount
		ds.CategoryCount++
	}
	return true
}

// Write builds the report and stores it as crawlsummary.json.
func (a *Aggregator) Write(ctx context.Context) (Report, error) {
	report, err := a.Build(ctx)
	if err != nil {
		return Report{}, err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return Report{}, fmt.Errorf("encode summary: %w", err)
	}
	if err := a.loose.Write(ctx, "", Path, data); err != nil {
		return Report{}, fmt.Errorf("write summary: %w", err)
	}
	a.logger.Info("Crawl summary written",
		zap.Int("sites", report.Totals.Sites),
		zap.Int("sites_valid", report.Totals.SitesValid),
		zap.Int("topics", report.Totals.TopicCount),
		zap.Int("posts", report.Totals.PostCount),
	)
	return report, nil
}

// failuresByDomain attributes each failed URL to its host. URLs are visited in lexical
// order so the result does not depend on map iteration.
func failuresByDomain(failures map[string]crawler.FailureReason) map[string]crawler.FailureReason {
	urls := make([]string, 0, len(failures))
	for u := range failures {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	out := make(map[string]crawler.FailureReason, len(failures))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		out[u.Host] = failures[raw]
	}
	return out
}
