package policy

import "testing"

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		pattern string
		want    bool
	}{
		{"exact", "reddit.com", "reddit.com", true},
		{"case insensitive", "Reddit.COM", "reddit.com", true},
		{"www stripped from host", "www.reddit.com", "reddit.com", true},
		{"www stripped from pattern", "reddit.com", "www.reddit.com", true},
		{"pattern whitespace", "reddit.com", "  reddit.com ", true},
		{"subdomain", "old.reddit.com", "reddit.com", true},
		{"parent domain", "reddit.com", "old.reddit.com", true},
		{"same registrable domain", "m.facebook.com", "web.facebook.com", true},
		{"substring over-match", "facebook.com", "book.com", true},
		{"bare keyword", "www.youtube.com", "youtube", true},
		{"unrelated", "github.com", "reddit.com", false},
		{"different tld", "example.org", "example.net", false},
		{"empty pattern", "reddit.com", "", false},
		{"blank pattern", "reddit.com", "   ", false},
		{"www only pattern", "reddit.com", "www.", false},
		{"empty host", "", "reddit.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.host, tt.pattern); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestMatches_Symmetric(t *testing.T) {
	values := []string{
		"reddit.com", "www.reddit.com", "old.reddit.com", "facebook.com",
		"book.com", "m.facebook.com", "youtube", "github.com", "example.co.uk",
		"news.example.co.uk", "localhost", "", " ", "WWW.Example.COM", "a.b.c.d",
	}

	for _, h := range values {
		for _, p := range values {
			if Matches(h, p) != Matches(p, h) {
				t.Errorf("Matches not symmetric for %q, %q", h, p)
			}
		}
	}
}

func TestMatchesAny(t *testing.T) {
	pattern, ok := MatchesAny("www.twitter.com", []string{"reddit.com", "twitter.com", "x.com"})
	if !ok {
		t.Fatal("Expected a match")
	}
	if pattern != "twitter.com" {
		t.Errorf("Expected first matching pattern twitter.com, got %s", pattern)
	}

	if _, ok := MatchesAny("github.com", nil); ok {
		t.Error("Expected no match for empty pattern list")
	}
}

func TestMatcher_Cache(t *testing.T) {
	m := NewMatcher(8)

	if !m.Matches("www.reddit.com", "reddit.com") {
		t.Fatal("Expected match")
	}
	if m.Len() != 1 {
		t.Errorf("Expected 1 cached pair, got %d", m.Len())
	}

	// Same normalized pair hits the same entry
	if !m.Matches("REDDIT.com", "www.reddit.com") {
		t.Fatal("Expected match")
	}
	if m.Len() != 1 {
		t.Errorf("Expected 1 cached pair after normalized repeat, got %d", m.Len())
	}

	if m.Matches("github.com", "reddit.com") {
		t.Error("Expected no match")
	}
	if m.Len() != 2 {
		t.Errorf("Expected 2 cached pairs, got %d", m.Len())
	}
}

func TestMatcher_AgreesWithMatches(t *testing.T) {
	m := NewMatcher(4)
	uncached := NewMatcher(0)
	pairs := [][2]string{
		{"www.www.example.com", "example.com"},
		{"facebook.com", "book.com"},
		{"github.com", "gitlab.com"},
		{"a.example.org", "b.example.org"},
		{"reddit.com", ""},
	}

	for _, p := range pairs {
		want := Matches(p[0], p[1])
		if got := m.Matches(p[0], p[1]); got != want {
			t.Errorf("cached Matches(%q, %q) = %v, want %v", p[0], p[1], got, want)
		}
		if got := uncached.Matches(p[0], p[1]); got != want {
			t.Errorf("uncached Matches(%q, %q) = %v, want %v", p[0], p[1], got, want)
		}
	}
}
