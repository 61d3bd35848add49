// Package useragent produces per-request browser-like User-Agent strings.
// A dynamic library of current browser templates is preferred; a static
// fallback pool guarantees a UA even when the dynamic side is empty.
package useragent

import (
	"fmt"
	"math/rand"
	"sync"
)

// Weight of the dynamic library vs. the static pool, out of 100.
const dynamicWeight = 80

var staticPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
}

var chromeVersions = []int{118, 119, 120, 121, 122}
var firefoxVersions = []int{119, 120, 121, 122}

var platforms = []string{
	"Windows NT 10.0; Win64; x64",
	"Macintosh; Intel Mac OS X 10_15_7",
	"X11; Linux x86_64",
}

// Generator hands out randomized UA strings. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates a generator seeded from the given source.
func New(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Random returns a UA string: mostly freshly composed from the dynamic
// template library, occasionally one of the static fallbacks.
func (g *Generator) Random() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rnd.Intn(100) < dynamicWeight {
		return g.compose()
	}
	return staticPool[g.rnd.Intn(len(staticPool))]
}

func (g *Generator) compose() string {
	platform := platforms[g.rnd.Intn(len(platforms))]
	if g.rnd.Intn(2) == 0 {
		v := chromeVersions[g.rnd.Intn(len(chromeVersions))]
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36", platform, v)
	}
	v := firefoxVersions[g.rnd.Intn(len(firefoxVersions))]
	return fmt.Sprintf("Mozilla/5.0 (%s; rv:%d.0) Gecko/20100101 Firefox/%d.0", platform, v, v)
}
