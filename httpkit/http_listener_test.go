package httpkit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/heartwilltell/hc"
	"github.com/maxatome/go-testdeep/td"
	"github.com/plainq/mailrelay"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) Health(ctx context.Context) error { return f(ctx) }

var (
	up   = checkFunc(func(context.Context) error { return nil })
	down = checkFunc(func(context.Context) error { return errors.New("connection refused") })
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func serve(t *testing.T, l *ListenerHTTP, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	l.Router().ServeHTTP(w, httptest.NewRequest(method, target, nil))

	return w
}

func TestNewListenerHTTP(t *testing.T) {
	t.Run("Timeouts", func(t *testing.T) {
		l, err := NewListenerHTTP(":0",
			WithLogger(quietLogger()),
			WithHTTPServerTimeouts(HTTPServerWriteTimeout(time.Minute), HTTPServerIdleTimeout(time.Second)),
		)
		td.CmpNoError(t, err)

		td.Cmp(t, l.server.WriteTimeout, time.Minute)
		td.Cmp(t, l.server.IdleTimeout, time.Second)
		td.Cmp(t, l.server.ReadHeaderTimeout, readHeaderTimeout)
		td.CmpFalse(t, l.enableTLS)
	})

	t.Run("TLS", func(t *testing.T) {
		l, err := NewListenerHTTP(":0", WithLogger(quietLogger()), WithTLS("cert.pem", "key.pem"))
		td.CmpNoError(t, err)
		td.CmpTrue(t, l.enableTLS)

		_, err = NewListenerHTTP(":0", WithLogger(quietLogger()), WithTLS("cert.pem", ""))
		td.CmpErrorIs(t, err, mailrelay.ErrPrivateKeyPathRequired)

		_, err = NewListenerHTTP(":0", WithLogger(quietLogger()), WithTLS("", "key.pem"))
		td.CmpErrorIs(t, err, mailrelay.ErrCertPathRequired)
	})

	t.Run("BadRoutes", func(t *testing.T) {
		_, err := NewListenerHTTP(":0", WithLogger(quietLogger()), WithHealthCheck(HealthCheckRoute("health")))
		td.CmpError(t, err)

		_, err = NewListenerHTTP(":0", WithLogger(quietLogger()), WithMetrics(MetricsRoute("")))
		td.CmpError(t, err)
	})
}

func TestListenerHTTP_Health(t *testing.T) {
	f := func(checker hc.HealthChecker, report ListenerOption[HealthConfig]) *ListenerHTTP {
		t.Helper()

		options := []ListenerOption[HealthConfig]{HealthChecker(checker)}
		if report != nil {
			options = append(options, report)
		}

		l, err := NewListenerHTTP(":0", WithLogger(quietLogger()), WithHealthCheck(options...))
		td.CmpNoError(t, err)

		return l
	}

	t.Run("Plain", func(t *testing.T) {
		td.Cmp(t, serve(t, f(up, nil), http.MethodGet, "/health").Code, http.StatusOK)
		td.Cmp(t, serve(t, f(down, nil), http.MethodGet, "/health").Code, http.StatusServiceUnavailable)
		td.Cmp(t, serve(t, f(down, nil), http.MethodHead, "/health").Code, http.StatusServiceUnavailable)
	})

	t.Run("JSON", func(t *testing.T) {
		checks := NewHealthChecks("mailrelay", time.Second)
		checks.Add("smtp", up)
		checks.Add("redis", down)

		w := serve(t, f(checks, HealthCheckReportJSON()), http.MethodGet, "/health")

		td.Cmp(t, w.Code, http.StatusServiceUnavailable)
		td.Cmp(t, w.Body.Bytes(), td.Smuggle(json.RawMessage(nil), td.JSON(`{
			"status": "503 Service Unavailable",
			"message": "Service is temporarily unavailable. Please try again later.",
			"checks": {"smtp": "up", "redis": "down"}
		}`)))

		w = serve(t, f(up, HealthCheckReportJSON()), http.MethodGet, "/health")

		td.Cmp(t, w.Code, http.StatusOK)
		td.Cmp(t, w.Body.Bytes(), td.Smuggle(json.RawMessage(nil), td.JSON(`{"status":"200 OK","message":"Service is healthy"}`)))
	})

	t.Run("HTML", func(t *testing.T) {
		checks := NewHealthChecks("mailrelay", time.Second)
		checks.Add("smtp", up)

		w := serve(t, f(checks, HealthCheckReportHTML()), http.MethodGet, "/health")

		td.Cmp(t, w.Code, http.StatusOK)
		td.Cmp(t, w.Header().Get("Content-Type"), "text/html; charset=utf-8")
		td.Cmp(t, w.Body.String(), td.All(td.Contains("All systems operational"), td.Contains("smtp")))

		w = serve(t, f(down, HealthCheckReportHTML()), http.MethodGet, "/health")

		td.Cmp(t, w.Code, http.StatusServiceUnavailable)
		td.Cmp(t, w.Body.String(), td.Contains("connection refused"))
	})
}

func TestListenerHTTP_Metrics(t *testing.T) {
	l, err := NewListenerHTTP(":0", WithLogger(quietLogger()), WithMetrics())
	td.CmpNoError(t, err)

	w := serve(t, l, http.MethodGet, "/metrics")

	td.Cmp(t, w.Code, http.StatusOK)
	td.Cmp(t, w.Body.String(), td.Contains("go_goroutines"))
}

func TestListenerHTTP_Mount(t *testing.T) {
	l, err := NewListenerHTTP(":0", WithLogger(quietLogger()))
	td.CmpNoError(t, err)

	l.Mount("/", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), SecurityHeadersMiddleware())

	w := serve(t, l, http.MethodPost, "/mail/send")

	td.Cmp(t, w.Code, http.StatusTeapot)
	td.Cmp(t, w.Header().Get("X-Frame-Options"), "DENY")
}

func TestListenerHTTP_Serve(t *testing.T) {
	l, err := NewListenerHTTP("127.0.0.1:0", WithLogger(quietLogger()))
	td.CmpNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		td.CmpNoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}

	empty, err := NewListenerHTTP("", WithLogger(quietLogger()))
	td.CmpNoError(t, err)
	td.CmpError(t, empty.Serve(context.Background()))
}

func TestHealthChecks(t *testing.T) {
	checks := NewHealthChecks("mailrelay", 50*time.Millisecond)
	td.CmpNoError(t, checks.Health(context.Background()), "no checks is healthy")

	checks.Add("smtp", up)
	checks.Add("slow", checkFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	report := checks.Report(context.Background())

	td.CmpFalse(t, report.Healthy)
	td.Cmp(t, report.Service, "mailrelay")
	td.Cmp(t, report.Checks, td.Len(2))
	td.Cmp(t, report.Checks[0].Name, "smtp")
	td.CmpTrue(t, report.Checks[0].Healthy)
	td.Cmp(t, report.Checks[1].Error, context.DeadlineExceeded.Error())

	err := checks.Health(context.Background())
	td.CmpError(t, err)
	td.Cmp(t, err.Error(), td.Contains("slow: context deadline exceeded"))

	checks.Add("slow", up)
	td.CmpNoError(t, checks.Health(context.Background()))
}
