package policy

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// normalize lowercases s, trims surrounding space, and strips one leading "www.".
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "www.")
}

// registrable returns the last two dot-separated labels of host.
func registrable(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// Matches reports whether hostname matches pattern. The rules are symmetric:
// swapping the arguments never changes the result. An empty value never
// matches anything.
//
// Substring containment in either direction counts as a match, so "book.com"
// matches "facebook.com". Blocking lists written for the extension rely on
// this.
func Matches(hostname, pattern string) bool {
	return matchNormalized(normalize(hostname), normalize(pattern))
}

func matchNormalized(h, p string) bool {
	if h == "" || p == "" {
		return false
	}

	switch {
	case h == p:
		return true
	case strings.Contains(h, p), strings.Contains(p, h):
		return true
	case strings.HasSuffix(h, "."+p), strings.HasSuffix(p, "."+h):
		return true
	}
	return registrable(h) == registrable(p)
}

// MatchesAny returns the first pattern that matches hostname.
func MatchesAny(hostname string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if Matches(hostname, p) {
			return p, true
		}
	}
	return "", false
}

type matchKey struct {
	host    string
	pattern string
}

// Matcher memoizes Matches over normalized pairs. Hostnames repeat every
// tick while patterns change rarely, so hit rates are high.
type Matcher struct {
	cache *lru.Cache[matchKey, bool]
}

// NewMatcher creates a matcher with an LRU cache of the given size. A size
// <= 0 disables caching.
func NewMatcher(size int) *Matcher {
	if size <= 0 {
		return &Matcher{}
	}
	cache, err := lru.New[matchKey, bool](size)
	if err != nil {
		return &Matcher{}
	}
	return &Matcher{cache: cache}
}

// Matches is the cached form of the package-level Matches.
func (m *Matcher) Matches(hostname, pattern string) bool {
	if m == nil || m.cache == nil {
		return Matches(hostname, pattern)
	}

	key := matchKey{host: normalize(hostname), pattern: normalize(pattern)}
	if v, ok := m.cache.Get(key); ok {
		return v
	}
	v := matchNormalized(key.host, key.pattern)
	m.cache.Add(key, v)
	return v
}

// MatchesAny is the cached form of the package-level MatchesAny.
func (m *Matcher) MatchesAny(hostname string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if m.Matches(hostname, p) {
			return p, true
		}
	}
	return "", false
}

// Len returns the number of cached pairs.
func (m *Matcher) Len() int {
	if m == nil || m.cache == nil {
		return 0
	}
	return m.cache.Len()
}
