package errkit

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// ReporterOptions configures the error reporter.
type ReporterOptions struct {
	DSN         string
	Environment string
	Release     string
}

// InitReporter initializes the Sentry client used by Report.
// The returned flush function must be called before the process exits.
// An empty DSN keeps reporting disabled and is not an error.
func InitReporter(o ReporterOptions) (flush func(timeout time.Duration), err error) {
	noop := func(time.Duration) {}

	if o.DSN == "" {
		return noop, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         o.DSN,
		Environment: o.Environment,
		Release:     o.Release,
	}); err != nil {
		return noop, fmt.Errorf("init sentry: %w", err)
	}

	return func(timeout time.Duration) { sentry.Flush(timeout) }, nil
}

// Report sends err to Sentry. Does nothing until InitReporter succeeds.
func Report(err error) {
	if err == nil || sentry.CurrentHub().Client() == nil {
		return
	}

	sentry.CaptureException(err)
}

// ReportWithTags sends err to Sentry with the given tags attached,
// typically the request correlation id.
func ReportWithTags(_ context.Context, err error, tags map[string]string) {
	if err == nil || sentry.CurrentHub().Client() == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
	})

	hub.CaptureException(err)
}
