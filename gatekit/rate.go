package gatekit

import (
	"log/slog"
	"net/http"

	"github.com/plainq/mailrelay/ctxkit"
	"github.com/plainq/mailrelay/errkit"
	"github.com/plainq/mailrelay/ratekit"
)

// ErrTooManyRequests is returned once a client address exhausted its window.
var ErrTooManyRequests = errkit.NewHTTPError(http.StatusTooManyRequests, ratekit.Message, errkit.ErrRateLimited)

// RateGate counts requests per client address. The RateLimit headers are
// set whether the request passes or not. A failing store lets requests through.
type RateGate struct {
	limiter *ratekit.Limiter
	logger  *slog.Logger
}

// NewRateGate returns a RateGate. A nil logger means slog.Default.
func NewRateGate(limiter *ratekit.Limiter, logger *slog.Logger) *RateGate {
	if logger == nil {
		logger = slog.Default()
	}

	return &RateGate{limiter: limiter, logger: logger}
}

func (g *RateGate) Admit(w http.ResponseWriter, r *http.Request) Verdict {
	key := ctxkit.ClientAddr(r.Context())
	if key == "" {
		key = r.RemoteAddr
	}

	res, err := g.limiter.Allow(r.Context(), key)
	if err != nil {
		g.logger.LogAttrs(r.Context(), slog.LevelWarn, "Rate limit store failed, request allowed",
			slog.String("request_id", ctxkit.RequestID(r.Context())),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	res.SetHeaders(w.Header())

	if !res.Allowed {
		return Reject(ErrTooManyRequests)
	}

	return Continue(r)
}
