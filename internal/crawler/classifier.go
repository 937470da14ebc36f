package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/metrics"
)

// Top-level keys that identify a Discourse page type.
const (
	keyCategoryList = "category_list"
	keyTopicList    = "topic_list"
	keyPostStream   = "post_stream"
	keyCategories   = "categories"
)

// Classifier decides what a fetched JSON document is, persists it and builds the
// follow-up requests.
type Classifier struct {
	opts   Options
	store  ArtifactStore
	guard  *ResumeGuard
	ledger FailureRecorder
	paging *paginationGuard
	logger *zap.Logger
}

// NewClassifier wires a classifier to the active store and failure ledger.
func NewClassifier(cfg Config, store ArtifactStore, ledger FailureRecorder, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		opts:   cfg.Options,
		store:  store,
		guard:  NewResumeGuard(store, logger),
		ledger: ledger,
		paging: newPaginationGuard(cfg.MaxPaginationDepth),
		logger: logger,
	}
}

type categoryList struct {
	Categories []Category `json:"categories"`
}

type topicList struct {
	MoreTopicsURL string  `json:"more_topics_url"`
	Topics        []Topic `json:"topics"`
}

// page holds the recognized sections of a document.
type page struct {
	categoryList *categoryList
	topicList    *topicList
	postStream   bool
	siteIndex    bool
	fancyTitle   string
}

func (p page) recognized() bool {
	return p.categoryList != nil || p.topicList != nil || p.postStream || p.siteIndex
}

// kind names the page for metrics; the first matching branch wins.
func (p page) kind() string {
	switch {
	case p.categoryList != nil:
		return keyCategoryList
	case p.topicList != nil:
		return keyTopicList
	case p.postStream:
		return keyPostStream
	default:
		return "site_index"
	}
}

func decodePage(doc map[string]json.RawMessage) (page, error) {
	var p page
	if raw, ok := doc[keyCategoryList]; ok {
		p.categoryList = &categoryList{}
		if err := json.Unmarshal(raw, p.categoryList); err != nil {
			return page{}, fmt.Errorf("decode %s: %w", keyCategoryList, err)
		}
	}
	if raw, ok := doc[keyTopicList]; ok {
		p.topicList = &topicList{}
		if err := json.Unmarshal(raw, p.topicList); err != nil {
			return page{}, fmt.Errorf("decode %s: %w", keyTopicList, err)
		}
	}
	if _, ok := doc[keyPostStream]; ok {
		p.postStream = true
		if raw, ok := doc["fancy_title"]; ok {
			_ = json.Unmarshal(raw, &p.fancyTitle) // display only
		}
	}
	if _, ok := doc[keyCategories]; ok && p.categoryList == nil {
		p.siteIndex = true
	}
	return p, nil
}

// Classify handles one successful response. Invalid JSON is recorded in the ledger and
// unknown shapes are ignored; both return no requests and no error. A storage failure
// is recorded, aborts the response and is returned. Writes cut short by cancellation
// are returned without a ledger entry.
func (c *Classifier) Classify(ctx context.Context, resp Response) ([]Request, error) {
	rawURL := resp.URL
	if rawURL == "" {
		rawURL = resp.Request.URL
	}
	logger := c.logger.With(zap.String("url", rawURL))

	if !json.Valid(resp.Body) {
		logger.Warn("Failed to parse JSON")
		c.recordFailure(ctx, rawURL, ReasonJSON)
		return nil, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		logger.Debug("Ignoring non-object document")
		return nil, nil
	}
	p, err := decodePage(doc)
	if err != nil {
		logger.Warn("Failed to decode page section", zap.Error(err))
		c.recordFailure(ctx, rawURL, ReasonJSON)
		return nil, nil
	}
	if !p.recognized() {
		logger.Debug("Ignoring unknown page type")
		return nil, nil
	}

	loc, err := ParseLocation(rawURL)
	if err != nil {
		return nil, fmt.Errorf("locate artifact: %w", err)
	}
	if err := c.store.Write(ctx, loc.Domain, loc.Path, resp.Body); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Interrupted writes are retried by the next run.
			return nil, fmt.Errorf("persist %s%s: %w", loc.Domain, loc.Path, err)
		}
		metrics.ObserveStorageError()
		c.recordFailure(ctx, rawURL, ReasonStorage)
		return nil, fmt.Errorf("persist %s%s: %w", loc.Domain, loc.Path, err)
	}
	metrics.ObserveArtifact(p.kind())

	var out []Request
	if p.categoryList != nil {
		out = append(out, c.categoryRequests(ctx, loc, p.categoryList.Categories)...)
	}
	if p.topicList != nil {
		out = append(out, c.topicListRequests(ctx, loc, resp.Request, p.topicList)...)
	}
	if p.postStream {
		logger.Info("Saved topic", zap.String("domain", loc.Domain), zap.String("title", p.fancyTitle))
	}
	return out, nil
}

func (c *Classifier) categoryRequests(ctx context.Context, loc Location, categories []Category) []Request {
	var out []Request
	for _, cat := range categories {
		if c.opts.ScrapeTopics {
			if cat.TopicURL != nil && *cat.TopicURL != "" {
				if req, ok := c.topicRequest(ctx, loc, *cat.TopicURL); ok {
					out = append(out, req)
				}
			}
			out = append(out, Request{
				URL:      loc.Origin() + CategoryPath(cat.Slug, cat.ID),
				Priority: PriorityListing,
				Kind:     KindCategories,
			})
		}
		if c.opts.ScrapeCategories {
			for _, id := range cat.SubcategoryIDs {
				out = append(out, Request{
					URL:      loc.Origin() + SubcategoryPath(id),
					Priority: PriorityListing,
					Kind:     KindSubcategory,
				})
			}
		}
	}
	return out
}

func (c *Classifier) topicListRequests(ctx context.Context, loc Location, parent Request, list *topicList) []Request {
	var out []Request
	if list.MoreTopicsURL != "" {
		if req, ok := c.nextPageRequest(loc, parent, list.MoreTopicsURL); ok {
			out = append(out, req)
		}
	}
	if !c.opts.ScrapeTopics {
		return out
	}
	for _, topic := range list.Topics {
		if req, ok := c.topicRequest(ctx, loc, TopicPath(topic.Slug, topic.ID)); ok {
			out = append(out, req)
		}
	}
	return out
}

func (c *Classifier) nextPageRequest(loc Location, parent Request, ref string) (Request, bool) {
	next, err := resolve(loc, ref)
	if err != nil {
		c.logger.Warn("Skipping unparsable pagination URL", zap.String("ref", ref), zap.Error(err))
		return Request{}, false
	}
	depth := parent.Depth + 1
	switch c.paging.admit(next, depth) {
	case paginationRepeated:
		metrics.ObservePaginationDrop("repeated")
		c.logger.Debug("Dropping repeated pagination URL", zap.String("url", next))
		return Request{}, false
	case paginationTooDeep:
		metrics.ObservePaginationDrop("depth")
		c.logger.Warn("Pagination depth exceeded", zap.String("url", next), zap.Int("depth", depth))
		return Request{}, false
	}
	return Request{URL: next, Priority: PriorityNextPage, Kind: KindNextPage, Depth: depth}, true
}

// topicRequest builds a topic detail request unless its artifact already exists.
func (c *Classifier) topicRequest(ctx context.Context, loc Location, ref string) (Request, bool) {
	topicURL, err := resolve(loc, ref)
	if err != nil {
		c.logger.Warn("Skipping unparsable topic URL", zap.String("ref", ref), zap.Error(err))
		return Request{}, false
	}
	target, err := ParseLocation(topicURL)
	if err != nil {
		return Request{}, false
	}
	if c.guard.Exists(ctx, target.Domain, target.Path) {
		metrics.ObserveResumeSkip()
		return Request{}, false
	}
	return Request{URL: topicURL, Priority: DefaultPriority, Kind: KindTopic}, true
}

func (c *Classifier) recordFailure(ctx context.Context, rawURL string, reason FailureReason) {
	metrics.ObserveFailure(string(reason))
	if c.ledger == nil {
		return
	}
	if err := c.ledger.Record(ctx, rawURL, reason); err != nil {
		c.logger.Error("Failed to record failure", zap.String("url", rawURL), zap.Error(err))
	}
}

// resolve turns a site-relative reference into an absolute URL on loc's origin.
func resolve(loc Location, ref string) (string, error) {
	base := &url.URL{Scheme: loc.Scheme, Host: loc.Domain, Path: "/"}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference: %w", err)
	}
	return base.ResolveReference(r).String(), nil
}
