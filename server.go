// Package mailrelay runs the relay process: a Server owning a set of named
// listeners which are started together and stopped together.
package mailrelay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Listener represents something that accepts and serves connections
// until the given context is canceled.
type Listener interface {
	// Serve blocks until ctx is done or the listener fails.
	Serve(ctx context.Context) error
}

// Server holds the named listeners of the relay process.
type Server struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[string]Listener

	// stop and done are set while Serve is running.
	stop context.CancelFunc
	done chan struct{}
}

// NewServer creates a Server without listeners.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := Server{
		logger:    logger,
		listeners: make(map[string]Listener),
	}

	return &s
}

// RegisterListener adds a listener under the given name.
// Registering the same name twice replaces the previous listener.
func (s *Server) RegisterListener(name string, listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners[name] = listener

	s.logger.Info("Listener has been registered",
		slog.String("name", name),
	)
}

// Serve starts every registered listener and blocks until all of them return.
// A listener failure stops the others and is returned to the caller.
// Errors caused by a requested shutdown (ctx canceled or Shutdown called) are
// logged and not returned.
func (s *Server) Serve(ctx context.Context) error {
	serveCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan struct{})
	defer close(done)

	s.mu.Lock()
	s.stop, s.done = stop, done
	listeners := make(map[string]Listener, len(s.listeners))
	for name, l := range s.listeners {
		listeners[name] = l
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.stop, s.done = nil, nil
		s.mu.Unlock()
	}()

	g, listenerCtx := errgroup.WithContext(serveCtx)

	for name, listener := range listeners {
		g.Go(func() error {
			if err := listener.Serve(listenerCtx); err != nil {
				return fmt.Errorf("listener %s failed: %w", name, err)
			}

			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		return nil
	}

	// serveCtx is only canceled by the caller or by Shutdown, never by a failing listener.
	if serveCtx.Err() != nil {
		s.logger.Warn("Server stopped with errors",
			slog.String("error", err.Error()),
		)

		return nil
	}

	s.logger.Error("Server failed",
		slog.String("error", err.Error()),
	)

	return err
}

// Shutdown stops a running Serve call and waits up to timeout for it to return.
// It is a no-op when the server is not serving.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.RLock()
	stop, done := s.stop, s.done
	s.mu.RUnlock()

	if stop == nil {
		return nil
	}

	stop()

	select {
	case <-done:
		return nil

	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}
