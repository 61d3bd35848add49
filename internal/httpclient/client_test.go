package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/useragent"
)

type fakeStats struct {
	mu        sync.Mutex
	calls     int
	successes int
}

func (f *fakeStats) UpdateStats(ctx context.Context, px store.Proxy, success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if success {
		f.successes++
	}
}

// testClient bypasses config so retry delays stay in the millisecond range.
func testClient(stats StatsUpdater, maxRetries int) *Client {
	c := &Client{
		platform:   "reddit",
		ua:         useragent.New(1),
		stats:      stats,
		log:        logger.NewHarvester("test", "test", "error", nil),
		maxRetries: maxRetries,
		retryBase:  time.Millisecond,
		timeout:    2 * time.Second,
	}
	c.transport = func(px store.Proxy) http.RoundTripper { return http.DefaultTransport }
	return c
}

func TestGetJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"subscribers":42}}`))
	}))
	defer srv.Close()

	stats := &fakeStats{}
	c := testClient(stats, 3)
	body, kind := c.GetJSON(context.Background(), srv.URL, store.Proxy{ID: 1})
	if kind != KindOK {
		t.Fatalf("kind = %s, want ok", kind)
	}
	if !strings.Contains(string(body), "subscribers") {
		t.Errorf("unexpected body: %s", body)
	}
	if stats.calls != 1 || stats.successes != 1 {
		t.Errorf("stats calls=%d successes=%d, want 1/1", stats.calls, stats.successes)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"not found", http.StatusNotFound, `{"message":"Not Found","error":404}`, KindNotFound},
		{"banned", http.StatusNotFound, `{"reason":"banned","message":"Not Found"}`, KindBanned},
		{"forbidden", http.StatusForbidden, ``, KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := testClient(&fakeStats{}, 3)
			body, kind := c.GetJSON(context.Background(), srv.URL, store.Proxy{ID: 1})
			if kind != tt.want {
				t.Fatalf("kind = %s, want %s", kind, tt.want)
			}
			if body != nil {
				t.Errorf("expected nil body on %s", tt.want)
			}
		})
	}
}

func TestTerminalKindsDoNotRetry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(&fakeStats{}, 3)
	if _, kind := c.GetJSON(context.Background(), srv.URL, store.Proxy{ID: 1}); kind != KindNotFound {
		t.Fatalf("kind = %s", kind)
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want 1", hits)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	stats := &fakeStats{}
	c := testClient(stats, 3)
	_, kind := c.GetJSON(context.Background(), srv.URL, store.Proxy{ID: 1})
	if kind != KindOK {
		t.Fatalf("kind = %s, want ok after retries", kind)
	}
	if hits != 3 {
		t.Errorf("server hit %d times, want 3", hits)
	}
	// Retries happen inside one request: exactly one stats report.
	if stats.calls != 1 || stats.successes != 1 {
		t.Errorf("stats calls=%d successes=%d, want 1/1", stats.calls, stats.successes)
	}
}

func TestExhaustedRetriesReportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	stats := &fakeStats{}
	c := testClient(stats, 2)
	_, kind := c.GetJSON(context.Background(), srv.URL, store.Proxy{ID: 1})
	if kind != KindNetwork {
		t.Fatalf("kind = %s, want network", kind)
	}
	if stats.calls != 1 || stats.successes != 0 {
		t.Errorf("stats calls=%d successes=%d, want 1/0", stats.calls, stats.successes)
	}
}

func TestRateLimitedWithoutRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(&fakeStats{}, 1)
	if _, kind := c.GetJSON(context.Background(), srv.URL, store.Proxy{ID: 1}); kind != KindRateLimited {
		t.Fatalf("kind = %s, want rate_limited", kind)
	}
}

func TestFreshUserAgentPerAttempt(t *testing.T) {
	var mu sync.Mutex
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(&fakeStats{}, 3)
	c.GetJSON(context.Background(), srv.URL, store.Proxy{ID: 1})

	if len(agents) != 3 {
		t.Fatalf("got %d attempts, want 3", len(agents))
	}
	for _, ua := range agents {
		if !strings.HasPrefix(ua, "Mozilla/5.0") {
			t.Errorf("non-browser UA sent: %q", ua)
		}
	}
}

func TestExtraHeaders(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("x-rapidapi-key")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(&fakeStats{}, 1)
	c.SetHeaders(map[string]string{"x-rapidapi-key": "k123"})
	c.GetJSON(context.Background(), srv.URL, store.Proxy{ID: 1})
	if got != "k123" {
		t.Errorf("header = %q, want k123", got)
	}
}

func TestInvalidJSONTreatedAsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>blocked</html>`))
	}))
	defer srv.Close()

	c := testClient(&fakeStats{}, 2)
	if _, kind := c.GetJSON(context.Background(), srv.URL, store.Proxy{ID: 1}); kind != KindNetwork {
		t.Fatalf("kind = %s, want network", kind)
	}
}
