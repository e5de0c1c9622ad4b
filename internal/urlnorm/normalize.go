// Package urlnorm turns listing websites and crawled page URLs into comparable join keys.
package urlnorm

import (
	"net/url"
	"strings"
)

// Normalize returns the join key for a raw URL: lowercased host without a leading "www."
// followed by the path with trailing slashes removed. Scheme, query, fragment and port are dropped.
// Malformed input falls back to a string transform; Normalize never fails.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Hostname() == "" {
		return fallback(raw)
	}

	host := trimWWW(strings.TrimRight(strings.ToLower(u.Hostname()), "."))
	return host + strings.TrimRight(u.EscapedPath(), "/")
}

func fallback(raw string) string {
	s := strings.ToLower(raw)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = trimWWW(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "/")
}

// Host returns the normalized host of a raw URL, or "" when none can be found
func Host(raw string) string {
	key := Normalize(raw)
	if i := strings.Index(key, "/"); i >= 0 {
		return key[:i]
	}
	return key
}

func trimWWW(host string) string {
	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	return host
}
