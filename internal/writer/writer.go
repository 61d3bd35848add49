// Package writer buffers row upserts per table and flushes them in batches,
// preserving FK order (subreddits before users before posts) on every flush.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/metrics"
	"github.com/onnwee/social-harvest/backend/internal/store"
)

const (
	failedQueueCap = 500
	retryInterval  = 30 * time.Second
	flushTimeout   = 30 * time.Second
)

// Store is the upsert surface the writer flushes into.
type Store interface {
	UpsertSubreddits(ctx context.Context, subs []store.Subreddit) error
	UpsertRedditUsers(ctx context.Context, users []store.RedditUser) error
	UpsertRedditPosts(ctx context.Context, posts []store.Post) error
}

// Stats is a per-table write counter snapshot.
type Stats struct {
	TotalRecords     int64
	TotalBatches     int64
	SuccessfulWrites int64
	FailedWrites     int64
	LastFlush        time.Time
}

// buffer holds pending and failed rows for one table.
type buffer[T any] struct {
	name      string
	batchSize int
	upsert    func(ctx context.Context, rows []T) error

	mu            sync.Mutex
	rows          []T
	failed        []T
	retryAttempts int
	nextRetry     time.Time
	stats         Stats
}

func (b *buffer[T]) add(rows []T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, rows...)
	b.stats.TotalRecords += int64(len(rows))
	metrics.WriterRecordsEnqueued.WithLabelValues(b.name).Add(float64(len(rows)))
	return len(b.rows) >= b.batchSize
}

func (b *buffer[T]) take() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.rows
	b.rows = nil
	return rows
}

func (b *buffer[T]) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// flush writes the current buffer contents. On a batch failure every row is
// retried individually; rows that still fail join the bounded failed queue.
func (b *buffer[T]) flush(ctx context.Context, log *logger.Harvester) error {
	rows := b.take()
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.WriterFlushDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())
	}()

	b.mu.Lock()
	b.stats.TotalBatches++
	b.mu.Unlock()

	if err := b.upsert(ctx, rows); err == nil || store.IsDuplicateKey(err) {
		b.recordFlush(int64(len(rows)), 0)
		metrics.WriterFlushes.WithLabelValues(b.name, "ok").Inc()
		return nil
	}

	// Batch failed: fall back to per-row upserts so one poison row cannot
	// sink its neighbours.
	var wrote, lost int64
	for _, row := range rows {
		if err := b.upsert(ctx, []T{row}); err == nil || store.IsDuplicateKey(err) {
			wrote++
			continue
		}
		lost++
		b.pushFailed(row)
	}
	b.recordFlush(wrote, lost)
	if lost == 0 {
		metrics.WriterFlushes.WithLabelValues(b.name, "ok").Inc()
		return nil
	}
	metrics.WriterFlushes.WithLabelValues(b.name, "error").Inc()
	log.Error("flush left failed rows", map[string]any{
		"table": b.name, "failed": lost, "written": wrote,
	})
	return fmt.Errorf("%s: %d rows failed", b.name, lost)
}

func (b *buffer[T]) recordFlush(wrote, lost int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.SuccessfulWrites += wrote
	b.stats.FailedWrites += lost
	b.stats.LastFlush = time.Now()
}

func (b *buffer[T]) pushFailed(row T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.failed) >= failedQueueCap {
		b.failed = b.failed[1:]
	}
	b.failed = append(b.failed, row)
	metrics.WriterFailedQueueDepth.WithLabelValues(b.name).Set(float64(len(b.failed)))
}

// retryFailed drains the failed queue once the per-table backoff has elapsed.
// Rows that exceed maxAttempts are dropped with a log line.
func (b *buffer[T]) retryFailed(ctx context.Context, maxAttempts int, log *logger.Harvester) {
	b.mu.Lock()
	if len(b.failed) == 0 || time.Now().Before(b.nextRetry) {
		b.mu.Unlock()
		return
	}
	rows := b.failed
	b.failed = nil
	b.retryAttempts++
	attempts := b.retryAttempts
	backoff := time.Duration(10*(1<<attempts)) * time.Second
	if backoff > 60*time.Second {
		backoff = 60 * time.Second
	}
	b.nextRetry = time.Now().Add(backoff)
	b.mu.Unlock()

	var still []T
	for _, row := range rows {
		if err := b.upsert(ctx, []T{row}); err == nil || store.IsDuplicateKey(err) {
			continue
		}
		still = append(still, row)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(still) == 0 {
		b.retryAttempts = 0
		b.stats.SuccessfulWrites += int64(len(rows))
		metrics.WriterFailedQueueDepth.WithLabelValues(b.name).Set(0)
		return
	}
	b.stats.SuccessfulWrites += int64(len(rows) - len(still))
	if attempts >= maxAttempts {
		log.Error("dropping failed rows after max retries", map[string]any{
			"table": b.name, "dropped": len(still), "attempts": attempts,
		})
		b.stats.FailedWrites += int64(len(still))
		b.retryAttempts = 0
		metrics.WriterFailedQueueDepth.WithLabelValues(b.name).Set(0)
		return
	}
	b.failed = append(still, b.failed...)
	metrics.WriterFailedQueueDepth.WithLabelValues(b.name).Set(float64(len(b.failed)))
}

func (b *buffer[T]) failedLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.failed)
}

func (b *buffer[T]) snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Writer is the batched writer for the Reddit tables.
type Writer struct {
	log        *logger.Harvester
	maxRetries int

	subreddits *buffer[store.Subreddit]
	users      *buffer[store.RedditUser]
	posts      *buffer[store.Post]

	flushing atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a writer and starts its background flush and retry loops.
func New(st Store, log *logger.Harvester) *Writer {
	cfg := config.Load()
	w := &Writer{
		log:        log,
		maxRetries: cfg.WriterMaxRetryAttempts,
		subreddits: &buffer[store.Subreddit]{
			name: "reddit_subreddits", batchSize: cfg.WriterBatchSize, upsert: st.UpsertSubreddits,
		},
		users: &buffer[store.RedditUser]{
			name: "reddit_users", batchSize: cfg.WriterBatchSize, upsert: st.UpsertRedditUsers,
		},
		posts: &buffer[store.Post]{
			name: "reddit_posts", batchSize: cfg.WriterBatchSize, upsert: st.UpsertRedditPosts,
		},
		stop: make(chan struct{}),
	}
	w.wg.Add(2)
	go w.flushLoop(cfg.WriterFlushInterval)
	go w.retryLoop()
	return w
}

// AddSubreddits enqueues subreddit rows; a full buffer flushes immediately.
func (w *Writer) AddSubreddits(rows ...store.Subreddit) {
	if w.subreddits.add(rows) {
		w.thresholdFlush(1)
	}
}

// AddUsers enqueues user rows. A threshold flush covers subreddits first so
// the FK order holds even without a FlushAll.
func (w *Writer) AddUsers(rows ...store.RedditUser) {
	if w.users.add(rows) {
		w.thresholdFlush(2)
	}
}

// AddPosts enqueues post rows; a threshold flush covers both parent tables.
func (w *Writer) AddPosts(rows ...store.Post) {
	if w.posts.add(rows) {
		w.thresholdFlush(3)
	}
}

func (w *Writer) thresholdFlush(depth int) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	w.flushChain(ctx, depth)
}

// FlushAll flushes every table in FK order. Guarded: concurrent callers
// return immediately instead of double-flushing. Per-table errors are
// aggregated; one failing table does not abort the others, but a failed
// parent skips its dependents.
func (w *Writer) FlushAll(ctx context.Context) error {
	if !w.flushing.CompareAndSwap(false, true) {
		return nil
	}
	defer w.flushing.Store(false)
	return w.flushOrdered(ctx)
}

// flushChain flushes the FK ancestry up to and including depth
// (1=subreddits, 2=+users, 3=+posts) under the same in-progress guard.
func (w *Writer) flushChain(ctx context.Context, depth int) {
	if !w.flushing.CompareAndSwap(false, true) {
		return
	}
	defer w.flushing.Store(false)

	if err := w.subreddits.flush(ctx, w.log); err != nil {
		return
	}
	if depth >= 2 {
		if err := w.users.flush(ctx, w.log); err != nil {
			return
		}
	}
	if depth >= 3 {
		_ = w.posts.flush(ctx, w.log)
	}
}

func (w *Writer) flushOrdered(ctx context.Context) error {
	var errs []error
	if err := w.subreddits.flush(ctx, w.log); err != nil {
		// A failed parent flush would strand children on FK violations;
		// leave them buffered for the retry pass.
		return fmt.Errorf("subreddits flush: %w", err)
	}
	if err := w.users.flush(ctx, w.log); err != nil {
		errs = append(errs, fmt.Errorf("users flush: %w", err))
	} else if err := w.posts.flush(ctx, w.log); err != nil {
		errs = append(errs, fmt.Errorf("posts flush: %w", err))
	}
	return errors.Join(errs...)
}

// Close stops the background loops and performs a final drain.
func (w *Writer) Close(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	return w.FlushAll(ctx)
}

// SubredditStats, UserStats and PostStats expose the per-table counters.
func (w *Writer) SubredditStats() Stats { return w.subreddits.snapshot() }
func (w *Writer) UserStats() Stats      { return w.users.snapshot() }
func (w *Writer) PostStats() Stats      { return w.posts.snapshot() }

// PendingAndFailed reports total rows sitting in buffers and failed queues,
// used by shutdown accounting.
func (w *Writer) PendingAndFailed() (pending, failed int) {
	pending = w.subreddits.pending() + w.users.pending() + w.posts.pending()
	failed = w.subreddits.failedLen() + w.users.failedLen() + w.posts.failedLen()
	return pending, failed
}

func (w *Writer) flushLoop(interval time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := w.FlushAll(ctx); err != nil {
				w.log.Error("background flush", map[string]any{"error": err.Error()})
			}
			cancel()
		}
	}
}

func (w *Writer) retryLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			w.subreddits.retryFailed(ctx, w.maxRetries, w.log)
			w.users.retryFailed(ctx, w.maxRetries, w.log)
			w.posts.retryFailed(ctx, w.maxRetries, w.log)
			cancel()
		}
	}
}
