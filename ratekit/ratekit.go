// Package ratekit implements a fixed window request counter keyed by client address.
package ratekit

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 100

	// DefaultWindow is the length of a window.
	DefaultWindow = 15 * time.Minute

	// Message is returned to clients which exceeded the limit.
	Message = "Too many requests from this IP, please try again later."
)

// Header names set on every response that reached the limiter.
const (
	HeaderLimit      = "RateLimit-Limit"
	HeaderRemaining  = "RateLimit-Remaining"
	HeaderReset      = "RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// ErrEmptyKey is returned when the limiter is asked to count an empty key.
var ErrEmptyKey = errors.New("rate limit key is empty")

// Store keeps one counter per key.
type Store interface {
	// Increment adds one hit to key. A missing or elapsed window is replaced
	// by a fresh one with count 1. The read-check-increment is atomic per key.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

// Result of a single check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetIn   time.Duration
}

// SetHeaders writes the RateLimit headers, and Retry-After when the request was refused.
func (r Result) SetHeaders(h http.Header) {
	reset := strconv.FormatInt(int64(math.Ceil(r.ResetIn.Seconds())), 10)

	h.Set(HeaderLimit, strconv.FormatInt(r.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(r.Remaining, 10))
	h.Set(HeaderReset, reset)

	if !r.Allowed {
		h.Set(HeaderRetryAfter, reset)
	}
}

// Limiter allows up to limit hits per key and window.
type Limiter struct {
	store  Store
	limit  int64
	window time.Duration
}

// NewLimiter returns a Limiter. Non-positive limit or window fall back to the defaults.
func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if window <= 0 {
		window = DefaultWindow
	}

	return &Limiter{store: store, limit: int64(limit), window: window}
}

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int64 { return l.limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow counts a hit for key. When the store fails the request is allowed
// and the error is returned alongside the permissive result.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return l.open(), ErrEmptyKey
	}

	count, resetIn, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return l.open(), err
	}

	return Result{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: max(0, l.limit-count),
		ResetIn:   max(0, resetIn),
	}, nil
}

func (l *Limiter) open() Result {
	return Result{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetIn: l.window}
}
