package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/social-harvest/backend/internal/cache"
	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/errorreporting"
	"github.com/onnwee/social-harvest/backend/internal/httpclient"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/proxy"
	"github.com/onnwee/social-harvest/backend/internal/reddit"
	"github.com/onnwee/social-harvest/backend/internal/redditapi"
	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/supervisor"
	"github.com/onnwee/social-harvest/backend/internal/tracing"
	"github.com/onnwee/social-harvest/backend/internal/useragent"
	"github.com/onnwee/social-harvest/backend/internal/writer"
)

const (
	scriptName = "reddit_scraper"
	source     = "reddit"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	if err := errorreporting.Init(cfg.SentryEnvironment); err != nil {
		log.Printf("sentry init: %v", err)
	}
	defer errorreporting.Flush(2 * time.Second)

	shutdownTracing, err := tracing.Init("reddit-harvester")
	if err != nil {
		log.Printf("tracing init: %v", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	sink := logger.NewDBSink(st, cfg.LogSinkBatchSize, cfg.LogSinkQueueSize, cfg.LogSinkBatchInterval)
	defer sink.Close()
	hlog := logger.NewHarvester(source, scriptName, cfg.LogLevel, sink)

	meta, err := cache.NewMeta(100_000, cfg.RedditCacheTTL)
	if err != nil {
		log.Fatalf("metadata cache: %v", err)
	}

	pool := proxy.NewPool(st, hlog)
	ua := useragent.New(time.Now().UnixNano())
	client := httpclient.New("reddit", ua, pool, hlog)
	api := redditapi.New(client)

	w := writer.New(st, hlog)
	engine := reddit.NewEngine(st, api, pool, w, meta, hlog)

	sup := supervisor.New(st, engine, supervisor.Options{
		ScriptName: scriptName,
		Source:     source,
		Watchdog:   true,
	}, hlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hlog.Info("reddit harvester starting", map[string]any{"pid": os.Getpid()})
	if err := sup.Run(ctx); err != nil {
		hlog.Critical("supervisor exited", map[string]any{"error": err.Error()})
	}

	// Persist whatever the engine buffered before going down.
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.Close(flushCtx); err != nil {
		hlog.Error("final flush", map[string]any{"error": err.Error()})
	}
	if shutdownTracing != nil {
		_ = shutdownTracing(flushCtx)
	}
	hlog.Info("reddit harvester stopped", nil)
}
