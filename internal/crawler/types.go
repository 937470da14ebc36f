package crawler

import "fmt"

// Kind identifies why a request was emitted.
type Kind int

// Request kinds, one per page family of the Discourse JSON API.
const (
	KindIndex Kind = iota
	KindLatest
	KindTop
	KindCategories
	KindTopic
	KindNextPage
	KindSubcategory
)

var kindNames = [...]string{
	KindIndex:       "index",
	KindLatest:      "latest",
	KindTop:         "top",
	KindCategories:  "categories",
	KindTopic:       "topic",
	KindNextPage:    "next_page",
	KindSubcategory: "subcategory",
}

// String returns the lowercase name used in logs and metric labels.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Scheduling hints. Higher values are served sooner.
const (
	DefaultPriority   = 0
	PriorityNextPage  = 5
	PriorityListing   = 10
	PrioritySiteIndex = 20
)

// Request is a single unit of frontier work. It is never mutated once created.
type Request struct {
	URL      string
	Priority int
	Kind     Kind
	// Depth counts pagination hops from the listing that started the chain.
	Depth int
}

// Response is a successfully fetched body handed to the classifier.
type Response struct {
	Request Request
	// URL is the final URL after redirects.
	URL  string
	Body []byte
}

// Site is one forum from the input list.
type Site struct {
	Domain  string
	BaseURL string
}

// Category is the part of a category entry the crawler and the summary care about.
type Category struct {
	ID             int     `json:"id"`
	Slug           string  `json:"slug"`
	TopicCount     int     `json:"topic_count"`
	PostCount      int     `json:"post_count"`
	TopicURL       *string `json:"topic_url"`
	SubcategoryIDs []int   `json:"subcategory_ids"`
}

// Topic is a topic-list entry.
type Topic struct {
	ID   int    `json:"id"`
	Slug string `json:"slug"`
}

// FailureReason is the ledger code stored for a failed URL.
type FailureReason string

// Failure reasons recorded in failures.json.
const (
	ReasonJSON    FailureReason = "json_error"
	ReasonHTTP    FailureReason = "http_error"
	ReasonDNS     FailureReason = "dns_error"
	ReasonTimeout FailureReason = "timeout_error"
	ReasonStorage FailureReason = "storage_error"
)

// Valid reports whether r is one of the known ledger codes.
func (r FailureReason) Valid() bool {
	switch r {
	case ReasonJSON, ReasonHTTP, ReasonDNS, ReasonTimeout, ReasonStorage:
		return true
	}
	return false
}
