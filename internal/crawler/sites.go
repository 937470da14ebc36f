package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"
)

// ErrNoSites is returned when a site list holds no usable entries.
var ErrNoSites = errors.New("site list contains no valid sites")

// LoadSites reads a JSON array of forum base URLs from path.
func LoadSites(path string, logger *zap.Logger) ([]Site, error) {
	// #nosec G304 -- the site list path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site list %s: %w", path, err)
	}
	return ParseSites(data, logger)
}

// ParseSites decodes a site list. Relative or unparsable entries are skipped and
// repeated domains keep their first base URL.
func ParseSites(data []byte, logger *zap.Logger) ([]Site, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode site list: %w", err)
	}
	sites := make([]Site, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		site, err := newSite(entry)
		if err != nil {
			logger.Warn("Skipping site", zap.String("url", entry), zap.Error(err))
			continue
		}
		if _, dup := seen[site.Domain]; dup {
			logger.Debug("Skipping duplicate site", zap.String("domain", site.Domain))
			continue
		}
		seen[site.Domain] = struct{}{}
		sites = append(sites, site)
	}
	if len(sites) == 0 {
		return nil, ErrNoSites
	}
	return sites, nil
}

func newSite(raw string) (Site, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Site{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Site{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return Site{}, errors.New("missing host")
	}
	u.RawQuery = ""
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return Site{Domain: u.Host, BaseURL: u.String()}, nil
}

// IndexPath is the artifact path of a site's /site index page.
func (s Site) IndexPath() string {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return "/site"
	}
	p := u.EscapedPath()
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + "site"
}
