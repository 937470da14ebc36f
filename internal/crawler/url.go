package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

const indexLeaf = "index"

// Location is the artifact address of a URL.
type Location struct {
	Scheme string
	Domain string
	Path   string
}

// Origin returns scheme://domain.
func (l Location) Origin() string {
	return l.Scheme + "://" + l.Domain
}

// ParseLocation derives the artifact location of rawURL. The raw query is appended to the
// path without its "?" and a path ending in "/" gets an implicit "index" leaf.
func ParseLocation(rawURL string) (Location, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Location{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Location{}, fmt.Errorf("url %q is not absolute", rawURL)
	}
	return Location{
		Scheme: u.Scheme,
		Domain: u.Host,
		Path:   ArtifactPath(u.EscapedPath(), u.RawQuery),
	}, nil
}

// ArtifactPath applies the store's path rules to a URL path and raw query.
func ArtifactPath(urlPath, rawQuery string) string {
	p := urlPath
	if p == "" {
		p = "/"
	}
	p += rawQuery
	if strings.HasSuffix(p, "/") {
		p += indexLeaf
	}
	return p
}

// DomainOf returns the host of rawURL, or "" when it cannot be parsed.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// TopicPath is the artifact path of a topic detail page.
func TopicPath(slug string, id int) string {
	return fmt.Sprintf("/t/%s/%d", slug, id)
}

// CategoryPath is the canonical category page path.
func CategoryPath(slug string, id int) string {
	return fmt.Sprintf("/c/%s/%d", slug, id)
}

// SubcategoryPath is the id-only category page path.
func SubcategoryPath(id int) string {
	return fmt.Sprintf("/c/%d", id)
}
