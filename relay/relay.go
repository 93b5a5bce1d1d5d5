// Package relay exposes POST /mail/send: the admission pipeline followed by
// the delivery of the validated message.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/plainq/mailrelay/errkit"
	"github.com/plainq/mailrelay/gatekit"
	"github.com/plainq/mailrelay/httpkit"
	"github.com/plainq/mailrelay/idkit"
	"github.com/plainq/mailrelay/mailkit"
	"github.com/plainq/mailrelay/ratekit"
)

// Route is the path of the relay endpoint.
const Route = "/mail/send"

// SentMessage is returned with every accepted message.
const SentMessage = "Email sent successfully"

// ErrNoMessage means the deliver stage ran without a validated message.
var ErrNoMessage = errors.New("no validated message in request context")

var (
	deliveriesSent   = metrics.NewCounter(`mailrelay_deliveries_total{result="sent"}`)
	deliveriesFailed = metrics.NewCounter(`mailrelay_deliveries_total{result="failed"}`)
)

// Config holds the admission settings of the relay.
type Config struct {
	// Development relaxes the transport check for loopback hosts.
	Development bool

	// TrustProxy makes X-Forwarded-For and X-Forwarded-Proto authoritative.
	TrustProxy bool

	TrustedOrigins []string
	APIKeys        []string

	// MaxBodyBytes defaults to gatekit.DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// SendResponse is the body of a successful POST /mail/send.
type SendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Relay is the HTTP surface of the service.
type Relay struct {
	sender   mailkit.Sender
	logger   *slog.Logger
	newID    func() string
	pipeline *gatekit.Pipeline
}

// Option configures a Relay.
type Option func(o *options)

type options struct {
	logger    *slog.Logger
	messageID func() string
	requestID func() string
	now       func() time.Time
}

// WithLogger sets the logger of the pipeline and of the success records.
func WithLogger(logger *slog.Logger) Option { return func(o *options) { o.logger = logger } }

// WithMessageIDs replaces idkit.ULID as the generator of confirmation ids.
func WithMessageIDs(fn func() string) Option { return func(o *options) { o.messageID = fn } }

// WithRequestIDs replaces idkit.RequestID as the generator of correlation ids.
func WithRequestIDs(fn func() string) Option { return func(o *options) { o.requestID = fn } }

// WithClock replaces time.Now for request start times.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New builds the relay pipeline on top of sender and limiter.
func New(cfg Config, sender mailkit.Sender, limiter *ratekit.Limiter, opts ...Option) (*Relay, error) {
	if sender == nil {
		return nil, errors.New("relay: sender is required")
	}

	if limiter == nil {
		return nil, errors.New("relay: rate limiter is required")
	}

	o := options{
		logger:    slog.Default(),
		messageID: idkit.ULID,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	rl := Relay{
		sender: sender,
		logger: o.logger,
		newID:  o.messageID,
	}

	rl.pipeline = gatekit.NewPipeline(gatekit.NewReporter(o.logger),
		gatekit.Step{Name: gatekit.StageIdentity, Stage: gatekit.IdentityTagger{
			TrustProxy: cfg.TrustProxy,
			NewID:      o.requestID,
			Now:        o.now,
		}},
		gatekit.Step{Name: gatekit.StageTransport, Stage: gatekit.TransportGuard{
			Development: cfg.Development,
			TrustProxy:  cfg.TrustProxy,
		}},
		gatekit.Step{Name: gatekit.StageOrigin, Stage: gatekit.NewOriginGate(cfg.TrustedOrigins, cfg.APIKeys)},
		gatekit.Step{Name: gatekit.StagePayload, Stage: gatekit.PayloadValidator{MaxBytes: cfg.MaxBodyBytes}},
		gatekit.Step{Name: gatekit.StageRate, Stage: gatekit.NewRateGate(limiter, o.logger)},
		gatekit.Step{Name: gatekit.StageDeliver, Stage: gatekit.StageFunc(rl.deliver)},
	)

	return &rl, nil
}

// Routes returns the relay router. Every method on Route enters the
// pipeline so the origin gate decides between 403 and 405.
func (rl *Relay) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpkit.SecurityHeadersMiddleware())
	r.Handle(Route, rl.pipeline)

	return r
}

// ServeHTTP serves the pipeline without routing.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) { rl.pipeline.ServeHTTP(w, r) }

func (rl *Relay) deliver(w http.ResponseWriter, r *http.Request) gatekit.Verdict {
	m, ok := gatekit.MessageFrom(r.Context())
	if !ok {
		return gatekit.Reject(ErrNoMessage)
	}

	m.ID = rl.newID()

	if err := rl.sender.Send(r.Context(), *m); err != nil {
		deliveriesFailed.Inc()

		return gatekit.Reject(errkit.NewHTTPError(http.StatusInternalServerError, "Failed to send email",
			fmt.Errorf("%w: %w", errkit.ErrDeliveryFailed, err)))
	}

	deliveriesSent.Inc()

	attrs := append(gatekit.RequestAttrs(r), slog.String("id", m.ID), slog.Int("status", http.StatusOK))
	attrs = append(attrs, gatekit.MessageAttrs(m)...)

	rl.logger.LogAttrs(r.Context(), slog.LevelInfo, "Email sent", attrs...)

	httpkit.JSON(w, r, SendResponse{ID: m.ID, Message: SentMessage})

	return gatekit.Done()
}
