package httpkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/heartwilltell/hc"
	"github.com/plainq/mailrelay/httpkit/statuspage"
	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 5 * time.Second

// Compilation time check that HealthChecks implements the hc.HealthChecker.
var _ hc.HealthChecker = (*HealthChecks)(nil)

// HealthChecks runs a set of named checks concurrently.
// It is healthy only when every check is.
type HealthChecks struct {
	service string
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	names  []string
	checks map[string]hc.HealthChecker
}

// NewHealthChecks returns an empty HealthChecks. A zero timeout means five seconds per check.
func NewHealthChecks(service string, timeout time.Duration) *HealthChecks {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	return &HealthChecks{
		service: service,
		timeout: timeout,
		now:     time.Now,
		checks:  make(map[string]hc.HealthChecker),
	}
}

// Add registers checker under name. A second call with the same name replaces it.
func (h *HealthChecks) Add(name string, checker hc.HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}

	h.checks[name] = checker
}

// Health implements hc.HealthChecker.
func (h *HealthChecks) Health(ctx context.Context) error {
	report := h.Report(ctx)
	if report.Healthy {
		return nil
	}

	errs := make([]error, 0, len(report.Checks))

	for _, c := range report.Checks {
		if !c.Healthy {
			errs = append(errs, fmt.Errorf("%s: %s", c.Name, c.Error))
		}
	}

	return errors.Join(errs...)
}

// Report runs every check and returns the per check outcome in registration order.
func (h *HealthChecks) Report(ctx context.Context) statuspage.Report {
	h.mu.RLock()
	names := make([]string, len(h.names))
	copy(names, h.names)
	checks := make([]hc.HealthChecker, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	results := make([]statuspage.Check, len(names))

	var g errgroup.Group

	for i := range names {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := checks[i].Health(checkCtx)

			results[i] = statuspage.Check{
				Name:    names[i],
				Healthy: err == nil,
				Latency: time.Since(start),
			}

			if err != nil {
				results[i].Error = err.Error()
			}

			return nil
		})
	}

	_ = g.Wait()

	report := statuspage.Report{
		Service:   h.service,
		Healthy:   true,
		CheckedAt: h.now().UTC(),
		Checks:    results,
	}

	for _, c := range results {
		if !c.Healthy {
			report.Healthy = false
		}
	}

	return report
}
