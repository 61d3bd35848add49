package config

import (
	"os"
	"strings"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/utils"
)

// Config holds harvester configuration derived from environment variables.
type Config struct {
	DatabaseURL string
	UserAgent   string

	// HTTP client
	HTTPMaxRetries int
	HTTPRetryBase  time.Duration
	HTTPTimeout    time.Duration
	LogHTTPRetries bool

	// Reddit engine
	RedditCycleCooldown    time.Duration
	RedditOkBatchSize      int
	RedditOkStagger        time.Duration
	RedditOkStaggerJitter  time.Duration
	RedditDiscoveryStagger time.Duration
	RedditDiscoveryJitter  time.Duration
	RedditUserStagger      time.Duration
	RedditUserJitter       time.Duration
	RedditCacheTTL         time.Duration
	RedditStaleness        time.Duration
	RedditSubreddTimeout   time.Duration // aggregate per-subreddit API fan-out budget
	RedditTopPostLimit     int
	RedditUserPostLimit    int
	RedditAuthorBatchSize  int

	// Instagram engine
	IGAPIHost              string
	IGAPIKey               string
	IGCycleCooldown        time.Duration
	IGConcurrentCreators   int
	IGRequestsPerSecond    float64
	IGNewCreatorReels      int
	IGNewCreatorPosts      int
	IGExistingCreatorReels int
	IGExistingCreatorPosts int
	IGRetryEmptyResponse   int
	IGViralMinViews        int64
	IGViralMultiplier      float64
	IGPerCreatorTimeout    time.Duration
	IGReelsPageSize        int
	IGCDNPrefix            string // stored media URLs with this prefix are pipeline-rewritten; empty preserves all

	// Batched writer
	WriterBatchSize        int
	WriterFlushInterval    time.Duration
	WriterMaxRetryAttempts int

	// Supervisor
	SupervisorCheckInterval time.Duration
	SupervisorHangThreshold time.Duration

	// Log sink
	LogSinkBatchSize     int
	LogSinkBatchInterval time.Duration
	LogSinkQueueSize     int

	// Observability
	LogLevel          string
	OTELEnabled       bool
	OTELEndpoint      string
	OTELSampleRate    float64
	SentryDSN         string
	SentryEnvironment string
	SentryRelease     string
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	ua := os.Getenv("HARVESTER_USER_AGENT")
	if strings.TrimSpace(ua) == "" {
		ua = "social-harvest/0.1"
	}
	cached = &Config{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		UserAgent:   ua,

		HTTPMaxRetries: utils.GetEnvAsInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryBase:  time.Duration(utils.GetEnvAsInt("HTTP_RETRY_BASE_MS", 100)) * time.Millisecond,
		HTTPTimeout:    time.Duration(utils.GetEnvAsInt("HTTP_TIMEOUT_MS", 15000)) * time.Millisecond,
		LogHTTPRetries: utils.GetEnvAsBool("LOG_HTTP_RETRIES", false),

		RedditCycleCooldown:    utils.GetEnvAsSeconds("REDDIT_CYCLE_COOLDOWN_SECONDS", 300),
		RedditOkBatchSize:      utils.GetEnvAsInt("REDDIT_OK_BATCH_SIZE", 5),
		RedditOkStagger:        time.Duration(utils.GetEnvAsInt("REDDIT_OK_STAGGER_MS", 500)) * time.Millisecond,
		RedditOkStaggerJitter:  time.Duration(utils.GetEnvAsInt("REDDIT_OK_STAGGER_JITTER_MS", 200)) * time.Millisecond,
		RedditDiscoveryStagger: time.Duration(utils.GetEnvAsInt("REDDIT_DISCOVERY_STAGGER_MS", 150)) * time.Millisecond,
		RedditDiscoveryJitter:  time.Duration(utils.GetEnvAsInt("REDDIT_DISCOVERY_JITTER_MS", 100)) * time.Millisecond,
		RedditUserStagger:      time.Duration(utils.GetEnvAsInt("REDDIT_USER_STAGGER_MS", 100)) * time.Millisecond,
		RedditUserJitter:       time.Duration(utils.GetEnvAsInt("REDDIT_USER_JITTER_MS", 50)) * time.Millisecond,
		RedditCacheTTL:         time.Duration(utils.GetEnvAsInt("REDDIT_CACHE_TTL_MINUTES", 60)) * time.Minute,
		RedditStaleness:        time.Duration(utils.GetEnvAsInt("REDDIT_STALENESS_HOURS", 24)) * time.Hour,
		RedditSubreddTimeout:   utils.GetEnvAsSeconds("REDDIT_SUBREDDIT_TIMEOUT_SECONDS", 60),
		RedditTopPostLimit:     utils.GetEnvAsInt("REDDIT_TOP_POST_LIMIT", 10),
		RedditUserPostLimit:    utils.GetEnvAsInt("REDDIT_USER_POST_LIMIT", 10),
		RedditAuthorBatchSize:  utils.GetEnvAsInt("REDDIT_AUTHOR_BATCH_SIZE", 100),

		IGAPIHost:              strings.TrimSpace(os.Getenv("IG_API_HOST")),
		IGAPIKey:               strings.TrimSpace(os.Getenv("IG_API_KEY")),
		IGCycleCooldown:        utils.GetEnvAsSeconds("IG_CYCLE_COOLDOWN_SECONDS", 4*3600),
		IGConcurrentCreators:   utils.GetEnvAsInt("IG_CONCURRENT_CREATORS", 10),
		IGRequestsPerSecond:    utils.GetEnvAsFloat("IG_REQUESTS_PER_SECOND", 55),
		IGNewCreatorReels:      utils.GetEnvAsInt("IG_NEW_CREATOR_REELS_COUNT", 90),
		IGNewCreatorPosts:      utils.GetEnvAsInt("IG_NEW_CREATOR_POSTS_COUNT", 30),
		IGExistingCreatorReels: utils.GetEnvAsInt("IG_EXISTING_CREATOR_REELS_COUNT", 30),
		IGExistingCreatorPosts: utils.GetEnvAsInt("IG_EXISTING_CREATOR_POSTS_COUNT", 10),
		IGRetryEmptyResponse:   utils.GetEnvAsInt("IG_RETRY_EMPTY_RESPONSE", 3),
		IGViralMinViews:        int64(utils.GetEnvAsInt("IG_VIRAL_MIN_VIEWS", 50000)),
		IGViralMultiplier:      utils.GetEnvAsFloat("IG_VIRAL_MULTIPLIER", 5.0),
		IGPerCreatorTimeout:    utils.GetEnvAsSeconds("IG_PER_CREATOR_TIMEOUT_SECONDS", 300),
		IGReelsPageSize:        utils.GetEnvAsInt("IG_REELS_PAGE_SIZE", 12),
		IGCDNPrefix:            strings.TrimSpace(os.Getenv("IG_CDN_URL_PREFIX")),

		WriterBatchSize:        utils.GetEnvAsInt("WRITER_BATCH_SIZE", 50),
		WriterFlushInterval:    utils.GetEnvAsSeconds("WRITER_FLUSH_INTERVAL_SECONDS", 10),
		WriterMaxRetryAttempts: utils.GetEnvAsInt("WRITER_MAX_RETRY_ATTEMPTS", 5),

		SupervisorCheckInterval: utils.GetEnvAsSeconds("SUPERVISOR_CHECK_INTERVAL_SECONDS", 30),
		SupervisorHangThreshold: utils.GetEnvAsSeconds("SUPERVISOR_HANG_THRESHOLD_SECONDS", 600),

		LogSinkBatchSize:     utils.GetEnvAsInt("LOG_SINK_BATCH_SIZE", 20),
		LogSinkBatchInterval: utils.GetEnvAsSeconds("LOG_SINK_BATCH_INTERVAL_SECONDS", 5),
		LogSinkQueueSize:     utils.GetEnvAsInt("LOG_SINK_QUEUE_SIZE", 1000),

		LogLevel:          strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
	}
	if cached.LogLevel == "" {
		cached.LogLevel = "info"
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}
	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }
