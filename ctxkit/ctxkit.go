// Package ctxkit keeps per-request values in context.Context:
// the correlation id, the client address, the start time and the
// log error hook used by the access log middleware.
package ctxkit

import (
	"context"
	"time"
)

type ctxKey int

const (
	logErrHookKey ctxKey = iota
	requestIDKey
	clientAddrKey
	startTimeKey
)

// SetLogErrHook returns a copy of ctx carrying hook. Handlers call the hook
// to attach an error to the access log line of the current request.
func SetLogErrHook(ctx context.Context, hook func(err error)) context.Context {
	return context.WithValue(ctx, logErrHookKey, hook)
}

// GetLogErrHook returns the hook set by SetLogErrHook or a no-op hook.
func GetLogErrHook(ctx context.Context) func(err error) {
	if hook, ok := ctx.Value(logErrHookKey).(func(err error)); ok && hook != nil {
		return hook
	}

	return func(error) {}
}

// WithRequestID returns a copy of ctx carrying the request correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the correlation id or an empty string.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithClientAddr returns a copy of ctx carrying the resolved client address.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientAddrKey, addr)
}

// ClientAddr returns the resolved client address or an empty string.
func ClientAddr(ctx context.Context) string {
	addr, _ := ctx.Value(clientAddrKey).(string)
	return addr
}

// WithStartTime returns a copy of ctx carrying the time the request was accepted.
func WithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, t)
}

// StartTime returns the request start time or the zero time.
func StartTime(ctx context.Context) time.Time {
	t, _ := ctx.Value(startTimeKey).(time.Time)
	return t
}

// Elapsed returns the time passed since StartTime, or zero when it is unset.
func Elapsed(ctx context.Context) time.Duration {
	start := StartTime(ctx)
	if start.IsZero() {
		return 0
	}

	return time.Since(start)
}
