// Package retry holds the backoff strategies used by the outbound HTTP client
// which fetches remote attachments.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff represents backoff logic.
type Backoff interface {
	// Next returns the timeout before next retry.
	Next(retry uint) time.Duration
}

// StaticBackoff represents a fixed duration as a backoff strategy.
type StaticBackoff time.Duration

func (b StaticBackoff) Next(uint) time.Duration { return time.Duration(b) }

// ExponentialBackoff implements Backoff interface where
// the backoff grows exponentially based on retry count.
type ExponentialBackoff struct {
	exponentialFactor  float64
	minBackoffInterval float64
	maxBackoffInterval float64
	maxJitterInterval  float64
}

// NewExponentialBackoff returns a pointer to a new instance of
// ExponentialBackoff struct, which implements Backoff interface.
func NewExponentialBackoff(f uint, minv, maxv, jitter time.Duration) *ExponentialBackoff {
	backoff := ExponentialBackoff{
		exponentialFactor:  float64(f),
		minBackoffInterval: float64(minv / time.Millisecond),
		maxBackoffInterval: float64(maxv / time.Millisecond),
		maxJitterInterval:  float64(jitter / time.Millisecond),
	}

	return &backoff
}

func (b *ExponentialBackoff) Next(retry uint) time.Duration {
	if retry == 0 {
		return 0
	}

	if b.minBackoffInterval >= b.maxBackoffInterval {
		return time.Duration(b.maxBackoffInterval) * time.Millisecond
	}

	mult := math.Pow(b.exponentialFactor, float64(retry))
	backoff := math.Min(b.minBackoffInterval*mult, b.maxBackoffInterval)

	return time.Duration(backoff+b.jitter()) * time.Millisecond
}

func (b *ExponentialBackoff) jitter() float64 {
	if b.maxJitterInterval < 1 {
		return 0
	}

	return float64(rand.Int64N(int64(b.maxJitterInterval))) //nolint:gosec
}

// Option is a function type that modifies the Options struct.
type Option func(*Options)

// WithMaxAttempts sets how many times a failed attempt may be repeated.
func WithMaxAttempts(maxAttempts uint) Option { return func(o *Options) { o.maxRetries = maxAttempts } }

// WithBackoff sets the backoff strategy used between attempts.
func WithBackoff(backoff Backoff) Option { return func(o *Options) { o.backoff = backoff } }

// Options represents the configuration options for retry logic.
type Options struct {
	maxRetries uint
	backoff    Backoff
}

// NewOptions applies options over the defaults: no retries and no backoff.
func NewOptions(options ...Option) Options {
	o := Options{backoff: StaticBackoff(0)}

	for _, option := range options {
		option(&o)
	}

	if o.backoff == nil {
		o.backoff = StaticBackoff(0)
	}

	return o
}

// MaxRetries returns number a max retry attempts.
func (o *Options) MaxRetries() uint { return o.maxRetries }

// Backoff returns the current implementation of Backoff interface.
func (o *Options) Backoff() Backoff { return o.backoff }
