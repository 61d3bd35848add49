// Package errorreporting wires Sentry for the harvesters. Proxy credentials
// and upstream API keys are scrubbed before events leave the process.
package errorreporting

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/onnwee/social-harvest/backend/internal/secrets"
)

// Init initializes Sentry. A missing DSN disables reporting without error.
func Init(environment string) error {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return nil
	}

	sampleRate := 1.0
	if os.Getenv("ENV") == "production" {
		sampleRate = 0.1
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          getRelease(),
		TracesSampleRate: sampleRate,
		BeforeSend:       beforeSend,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	return nil
}

func getRelease() string {
	if release := os.Getenv("SENTRY_RELEASE"); release != "" {
		return release
	}
	return "dev"
}

// beforeSend scrubs proxy URLs and API keys from outgoing events.
func beforeSend(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Exception != nil {
		for i := range event.Exception {
			event.Exception[i].Value = secrets.MaskString(event.Exception[i].Value)
		}
	}
	if event.Message != "" {
		event.Message = secrets.MaskString(event.Message)
	}
	if event.Extra != nil {
		for key, value := range event.Extra {
			if str, ok := value.(string); ok {
				event.Extra[key] = secrets.MaskString(str)
			}
		}
	}
	return event
}

// CaptureError reports an error with component context.
func CaptureError(err error, component string, extra map[string]any) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		for k, v := range extra {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent; call on shutdown.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
