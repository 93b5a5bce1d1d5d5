package ratekit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. Expired windows are swept
// lazily during Increment, no goroutines are started.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]*window
	now       func() time.Time
	lastSweep time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(s *MemoryStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(options ...MemoryOption) *MemoryStore {
	s := MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}

	for _, option := range options {
		option(&s)
	}

	s.lastSweep = s.now()

	return &s
}

// Increment implements Store. The context is not consulted once the
// lock is held, a started increment always completes.
func (s *MemoryStore) Increment(_ context.Context, key string, size time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if now.Sub(s.lastSweep) >= size {
		s.sweep(now)
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(size)}
		s.windows[key] = w
	}

	w.count++

	return w.count, w.resetAt.Sub(now), nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.windows)
}

func (s *MemoryStore) sweep(now time.Time) {
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}

	s.lastSweep = now
}
