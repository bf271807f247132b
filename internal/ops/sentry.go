package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"solana-volume-engine/internal/jobs"
)

// InitSentry configures the global Sentry client. The returned flush must be
// called before exit.
func InitSentry(dsn, environment string) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// SentryDeadLetterHook reports every dead-lettered job to Sentry.
func SentryDeadLetterHook(hub *sentry.Hub) jobs.DeadLetterHook {
	return func(_ context.Context, dl *jobs.DeadLetter) {
		hub := hub.Clone()
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("queue", dl.Queue)
			scope.SetExtra("attempts", dl.Attempts)
			scope.SetExtra("original_job", string(dl.OriginalJob))
			if dl.Error.Stack != "" {
				scope.SetExtra("stack", dl.Error.Stack)
			}
			hub.CaptureMessage(fmt.Sprintf("job dead-lettered on %s: %s", dl.Queue, dl.Error.Message))
		})
	}
}
