package gatekit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/VictoriaMetrics/metrics"
	"github.com/plainq/mailrelay/ctxkit"
	"github.com/plainq/mailrelay/errkit"
	"github.com/plainq/mailrelay/httpkit"
	"github.com/plainq/mailrelay/mailkit"
)

// Reporter turns a rejection into the client response and a single log record.
type Reporter struct {
	logger *slog.Logger
}

// NewReporter returns a Reporter. A nil logger means slog.Default.
func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{logger: logger}
}

// Report writes err to w as {"message", "errors"} and logs it.
// Server errors are also sent to the error tracker.
func (rep *Reporter) Report(w http.ResponseWriter, r *http.Request, stage string, err error) {
	httpErr := errkit.Normalize(err)

	rep.Log(r, stage, httpErr.Status, err)

	if httpErr.Status >= http.StatusInternalServerError {
		errkit.ReportWithTags(r.Context(), err, map[string]string{
			"request_id": ctxkit.RequestID(r.Context()),
			"stage":      stage,
		})
	}

	rejectionsCounter(stage, httpErr.Status).Inc()

	httpkit.ErrorHTTP(w, r, httpErr)
}

// Log writes the failure record without touching the response.
func (rep *Reporter) Log(r *http.Request, stage string, status int, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	attrs := append(RequestAttrs(r),
		slog.String("stage", stage),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	if m, ok := MessageFrom(r.Context()); ok {
		attrs = append(attrs, MessageAttrs(m)...)
	}

	rep.logger.LogAttrs(r.Context(), level, strconv.Itoa(status)+" "+http.StatusText(status), attrs...)
}

// RequestAttrs returns the request metadata shared by failure and success records.
func RequestAttrs(r *http.Request) []slog.Attr {
	ctx := r.Context()

	return []slog.Attr{
		slog.String("request_id", ctxkit.RequestID(ctx)),
		slog.String("method", r.Method),
		slog.String("url", r.URL.RequestURI()),
		slog.String("referrer", r.Referer()),
		slog.String("remote", clientAddr(r)),
		slog.Duration("duration", ctxkit.Elapsed(ctx)),
	}
}

// MessageAttrs returns the metadata of a validated message.
func MessageAttrs(m *mailkit.Message) []slog.Attr {
	return []slog.Attr{
		slog.String("from", m.From),
		slog.Any("to", m.To),
		slog.String("subject", m.Subject),
	}
}

func clientAddr(r *http.Request) string {
	if addr := ctxkit.ClientAddr(r.Context()); addr != "" {
		return addr
	}

	return r.RemoteAddr
}

func rejectionsCounter(stage string, status int) *metrics.Counter {
	return metrics.GetOrCreateCounter(`mailrelay_rejections_total{stage="` + stage + `",status="` + strconv.Itoa(status) + `"}`)
}

type messageKey struct{}

// WithMessage stores the validated message in ctx.
func WithMessage(ctx context.Context, m *mailkit.Message) context.Context {
	return context.WithValue(ctx, messageKey{}, m)
}

// MessageFrom returns the message stored by WithMessage.
func MessageFrom(ctx context.Context) (*mailkit.Message, bool) {
	m, ok := ctx.Value(messageKey{}).(*mailkit.Message)
	return m, ok && m != nil
}
