package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/errorreporting"
	"github.com/onnwee/social-harvest/backend/internal/httpclient"
	"github.com/onnwee/social-harvest/backend/internal/instagram"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/supervisor"
	"github.com/onnwee/social-harvest/backend/internal/tracing"
	"github.com/onnwee/social-harvest/backend/internal/useragent"
)

const (
	scriptName = "instagram_scraper"
	source     = "instagram"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	if cfg.IGAPIHost == "" || cfg.IGAPIKey == "" {
		log.Fatal("IG_API_HOST and IG_API_KEY are required")
	}

	if err := errorreporting.Init(cfg.SentryEnvironment); err != nil {
		log.Printf("sentry init: %v", err)
	}
	defer errorreporting.Flush(2 * time.Second)

	shutdownTracing, err := tracing.Init("instagram-harvester")
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

	ua := useragent.New(time.Now().UnixNano())
	client := httpclient.New("instagram", ua, nil, hlog)
	api := instagram.NewAPI(client, hlog)
	engine := instagram.NewEngine(st, api, hlog)

	sup := supervisor.New(st, engine, supervisor.Options{
		ScriptName: scriptName,
		Source:     source,
	}, hlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hlog.Info("instagram harvester starting", map[string]any{"pid": os.Getpid()})
	if err := sup.Run(ctx); err != nil {
		hlog.Critical("supervisor exited", map[string]any{"error": err.Error()})
	}

	if shutdownTracing != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = shutdownTracing(shutdownCtx)
		cancel()
	}
	hlog.Info("instagram harvester stopped", nil)
}
