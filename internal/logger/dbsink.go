package logger

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/metrics"
	"github.com/onnwee/social-harvest/backend/internal/store"
)

// LogStore is the slice of the store the sink needs.
type LogStore interface {
	InsertLogs(ctx context.Context, entries []store.LogEntry) error
}

// DBSink batches log entries into system_logs from a bounded queue. Entries
// are never dropped: queue overflow falls back to a synchronous insert.
type DBSink struct {
	store         LogStore
	queue         chan store.LogEntry
	batchSize     int
	batchInterval time.Duration
	closeOnce     sync.Once
	mu            sync.RWMutex // guards closed and the send into queue
	closed        bool
	wg            sync.WaitGroup
}

// NewDBSink starts the background worker that drains the queue.
func NewDBSink(st LogStore, batchSize, queueSize int, batchInterval time.Duration) *DBSink {
	if batchSize <= 0 {
		batchSize = 20
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if batchInterval <= 0 {
		batchInterval = 5 * time.Second
	}
	s := &DBSink{
		store:         st,
		queue:         make(chan store.LogEntry, queueSize),
		batchSize:     batchSize,
		batchInterval: batchInterval,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Enqueue hands an entry to the background worker without blocking. When the
// queue is full the entry is inserted synchronously instead so it survives.
func (s *DBSink) Enqueue(e store.LogEntry) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		s.insertNow(e, "sync")
		return
	}
	select {
	case s.queue <- e:
		s.mu.RUnlock()
	default:
		s.mu.RUnlock()
		s.insertNow(e, "overflow")
	}
}

// Sync inserts an entry immediately, bypassing the buffer. Used for errors
// and critical failures that must hit the store even if the process dies.
func (s *DBSink) Sync(e store.LogEntry) {
	s.insertNow(e, "sync")
}

// Close drains the queue and stops the worker. Entries enqueued after Close
// take the synchronous path. close(queue) happens under the write lock so it
// can never race a send in Enqueue.
func (s *DBSink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *DBSink) insertNow(e store.LogEntry, mode string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.InsertLogs(ctx, []store.LogEntry{e}); err != nil {
		metrics.LogSinkDropped.Inc()
		Get().Error("log sink insert failed", "error", err, "message", e.Message)
		return
	}
	metrics.LogSinkInserts.WithLabelValues(mode).Inc()
}

func (s *DBSink) worker() {
	defer s.wg.Done()
	batch := make([]store.LogEntry, 0, s.batchSize)
	timer := time.NewTimer(s.batchInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.store.InsertLogs(ctx, batch)
		cancel()
		if err != nil {
			// Fall back to individual inserts so one bad row cannot
			// sink the whole batch.
			for _, e := range batch {
				s.insertNow(e, "batched")
			}
		} else {
			metrics.LogSinkInserts.WithLabelValues("batched").Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.batchInterval)
			}
		case <-timer.C:
			flush()
			timer.Reset(s.batchInterval)
		}
	}
}

// Harvester is the engine-facing logger. Every call is mirrored to stdout and
// the store sink; errors and critical entries take the synchronous path.
type Harvester struct {
	std      *slog.Logger
	sink     *DBSink
	source   string
	script   string
	minLevel slog.Level
}

// NewHarvester builds a dual logger for one engine. sink may be nil, in which
// case entries only reach stdout (used by tests and early startup).
func NewHarvester(source, script, levelStr string, sink *DBSink) *Harvester {
	return &Harvester{
		std:      WithComponent(source),
		sink:     sink,
		source:   source,
		script:   script,
		minLevel: ParseLevel(levelStr),
	}
}

func (h *Harvester) log(level slog.Level, levelName, msg string, ctx map[string]any, sync bool) {
	args := make([]any, 0, len(ctx)*2)
	for k, v := range ctx {
		args = append(args, k, v)
	}
	h.std.Log(context.Background(), level, msg, args...)

	if h.sink == nil || level < h.minLevel {
		return
	}
	e := store.LogEntry{
		Timestamp:  time.Now().UTC(),
		Source:     h.source,
		ScriptName: h.script,
		Level:      levelName,
		Message:    msg,
		Context:    ctx,
	}
	if sync {
		h.sink.Sync(e)
	} else {
		h.sink.Enqueue(e)
	}
}

func (h *Harvester) Debug(msg string, ctx map[string]any) {
	h.log(slog.LevelDebug, "debug", msg, ctx, false)
}

func (h *Harvester) Info(msg string, ctx map[string]any) {
	h.log(slog.LevelInfo, "info", msg, ctx, false)
}

func (h *Harvester) Warn(msg string, ctx map[string]any) {
	h.log(slog.LevelWarn, "warning", msg, ctx, false)
}

func (h *Harvester) Error(msg string, ctx map[string]any) {
	h.log(slog.LevelError, "error", msg, ctx, true)
}

func (h *Harvester) Critical(msg string, ctx map[string]any) {
	h.log(slog.LevelError, "critical", msg, ctx, true)
}

// Op records a completed operation with its duration and item count.
func (h *Harvester) Op(msg string, ctx map[string]any, duration time.Duration, items int) {
	if h.sink == nil {
		h.Info(msg, ctx)
		return
	}
	args := make([]any, 0, len(ctx)*2+4)
	for k, v := range ctx {
		args = append(args, k, v)
	}
	args = append(args, "duration_ms", duration.Milliseconds(), "items", items)
	h.std.Info(msg, args...)
	h.sink.Enqueue(store.LogEntry{
		Timestamp:      time.Now().UTC(),
		Source:         h.source,
		ScriptName:     h.script,
		Level:          "info",
		Message:        msg,
		Context:        ctx,
		DurationMS:     sql.NullInt64{Int64: duration.Milliseconds(), Valid: true},
		ItemsProcessed: sql.NullInt64{Int64: int64(items), Valid: true},
	})
}
