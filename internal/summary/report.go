package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
)

// TotalsKey is the report key holding fleet-wide totals.
const TotalsKey = "_totals"

// Totals aggregates every site in the list.
type Totals struct {
	Sites         int `json:"sites"`
	SitesValid    int `json:"sites_valid"`
	TopicCount    int `json:"topic_count"`
	PostCount     int `json:"post_count"`
	CategoryCount int `json:"category_count"`
}

// DomainSummary holds the statistics of one site. Categories keep the raw category
// objects from the site index, keyed by slug.
type DomainSummary struct {
	TopicCount    int                        `json:"topic_count"`
	PostCount     int                        `json:"post_count"`
	CategoryCount int                        `json:"category_count"`
	Categories    map[string]json.RawMessage `json:"categories"`
	Failure       crawler.FailureReason      `json:"failure,omitempty"`
}

// Report is the crawl summary. It serializes as one object with a "_totals" key plus one
// key per domain.
type Report struct {
	Totals  Totals
	Domains map[string]DomainSummary
}

// MarshalJSON flattens the report into its on-disk shape.
func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Domains)+1)
	for domain, ds := range r.Domains {
		if ds.Categories == nil {
			ds.Categories = map[string]json.RawMessage{}
		}
		out[domain] = ds
	}
	out[TotalsKey] = r.Totals
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return data, nil
}

// UnmarshalJSON reads a report written by MarshalJSON.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}
	r.Domains = make(map[string]DomainSummary, len(raw))
	for key, value := range raw {
		if key == TotalsKey {
			if err := json.Unmarshal(value, &r.Totals); err != nil {
				return fmt.Errorf("decode %s: %w", TotalsKey, err)
			}
			continue
		}
		var ds DomainSummary
		if err := json.Unmarshal(value, &ds); err != nil {
			return fmt.Errorf("decode domain %s: %w", key, err)
		}
		r.Domains[key] = ds
	}
	return nil
}

// DomainNames returns the report's domains in lexical order.
func (r Report) DomainNames() []string {
	names := make([]string, 0, len(r.Domains))
	for name := range r.Domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render prints the report as a table: one row per domain and a totals footer.
func Render(w io.Writer, r Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Domain", "Categories", "Topics", "Posts", "Failure"})
	for _, name := range r.DomainNames() {
		ds := r.Domains[name]
		t.AppendRow(table.Row{name, ds.CategoryCount, ds.TopicCount, ds.PostCount, string(ds.Failure)})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d sites (%d valid)", r.Totals.Sites, r.Totals.SitesValid),
		r.Totals.CategoryCount,
		r.Totals.TopicCount,
		r.Totals.PostCount,
		"",
	})
	t.Render()
}
