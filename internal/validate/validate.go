// Package validate checks that candidates carry usable marketplace references.
package validate

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrNoReference means a candidate has no valid marketplace reference URL.
	ErrNoReference = errors.New("no valid marketplace reference")
	// ErrInvalidURL is returned by NormalizeURL for anything that is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
)

// DefaultMarketplaces are the marketplace names accepted when none are configured.
var DefaultMarketplaces = []string{
	"aliexpress", "cjdropshipping", "amazon", "alibaba", "temu", "etsy", "ebay", "walmart",
}

// NormalizeURL canonicalizes an http(s) URL for comparison: lowercase scheme
// and host, no fragment, no trailing slash, sorted query parameters.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if strings.ContainsAny(raw, " \t\n") {
		return "", fmt.Errorf("%w: contains whitespace", ErrInvalidURL)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""

	if parsed.RawQuery != "" {
		params := parsed.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf strings.Builder
		for i, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					buf.WriteByte('&')
				}
				buf.WriteString(url.QueryEscape(k))
				buf.WriteByte('=')
				buf.WriteString(url.QueryEscape(v))
			}
		}
		parsed.RawQuery = buf.String()
	}

	return parsed.String(), nil
}

// Validator accepts references hosted on a known marketplace.
type Validator struct {
	marketplaces []string
}

// New creates a Validator. An empty list uses DefaultMarketplaces.
func New(marketplaces []string) *Validator {
	if len(marketplaces) == 0 {
		marketplaces = DefaultMarketplaces
	}
	m := make([]string, 0, len(marketplaces))
	for _, d := range marketplaces {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			m = append(m, d)
		}
	}
	return &Validator{marketplaces: m}
}

// IsMarketplace reports whether host belongs to a known marketplace.
// Entries with a dot ("amazon.de") match that domain and its subdomains;
// bare names ("amazon") match any host carrying that label.
func (v *Validator) IsMarketplace(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	labels := strings.Split(host, ".")
	for _, m := range v.marketplaces {
		if strings.Contains(m, ".") {
			if host == m || strings.HasSuffix(host, "."+m) {
				return true
			}
			continue
		}
		// The last label is the TLD; a marketplace name never matches it.
		for _, l := range labels[:len(labels)-1] {
			if l == m {
				return true
			}
		}
	}
	return false
}

// References returns the normalized, deduplicated marketplace URLs in refs.
// It returns ErrNoReference when none survive.
func (v *Validator) References(refs []string) ([]string, error) {
	seen := make(map[string]bool, len(refs))
	var valid []string
	for _, raw := range refs {
		norm, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		u, _ := url.Parse(norm)
		if !v.IsMarketplace(u.Hostname()) || seen[norm] {
			continue
		}
		seen[norm] = true
		valid = append(valid, norm)
	}
	if len(valid) == 0 {
		return nil, ErrNoReference
	}
	return valid, nil
}
