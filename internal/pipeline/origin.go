package pipeline

import (
	"fmt"
	"net/url"
	"strings"
)

// OriginPolicy decides which discovered links belong to the seed's site.
// The seed host always matches, with or without a leading "www.".
type OriginPolicy struct {
	// AllowSubdomains admits any host ending in ".<seed host>".
	AllowSubdomains bool
	// AllowedHosts lists extra hosts that are always admitted.
	AllowedHosts []string
}

// Filter resolves links against seedURL and keeps the normalized, de-duplicated
// http(s) links whose host is allowed. Input order is preserved.
func (o OriginPolicy) Filter(seedURL string, links []string) []string {
	base, err := url.Parse(seedURL)
	if err != nil || base.Hostname() == "" {
		return nil
	}
	seedHost := base.Hostname()
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, raw := range links {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		ref, err := url.Parse(raw)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		if !o.Allowed(seedHost, resolved.Hostname()) {
			continue
		}
		normalized, err := NormalizeURL(resolved.String())
		if err != nil {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// Allowed reports whether host may be visited for a seed served from seedHost.
func (o OriginPolicy) Allowed(seedHost, host string) bool {
	seed := canonicalHost(seedHost)
	candidate := canonicalHost(host)
	if candidate == "" {
		return false
	}
	if candidate == seed {
		return true
	}
	if o.AllowSubdomains && strings.HasSuffix(candidate, "."+seed) {
		return true
	}
	for _, allowed := range o.AllowedHosts {
		if canonicalHost(allowed) == candidate {
			return true
		}
	}
	return false
}

func canonicalHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

// NormalizeURL returns the form Filter deduplicates on: lowercase scheme and
// host, no default port, no fragment, and the query re-encoded by key.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	switch port := u.Port(); {
	case port == "", u.Scheme == "http" && port == "80", u.Scheme == "https" && port == "443":
		u.Host = host
	default:
		u.Host = host + ":" + port
	}
	u.Fragment, u.RawFragment = "", ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}
