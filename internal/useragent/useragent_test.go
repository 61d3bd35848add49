package useragent

import (
	"strings"
	"testing"
)

func TestRandomAlwaysBrowserLike(t *testing.T) {
	g := New(1)
	for i := 0; i < 200; i++ {
		ua := g.Random()
		if !strings.HasPrefix(ua, "Mozilla/5.0") {
			t.Fatalf("unexpected UA: %s", ua)
		}
	}
}

func TestRandomVaries(t *testing.T) {
	g := New(42)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seen[g.Random()] = true
	}
	if len(seen) < 5 {
		t.Errorf("expected variety, got %d distinct UAs", len(seen))
	}
}
