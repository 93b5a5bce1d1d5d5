package httpkit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/plainq/mailrelay/ctxkit"
)

// Middleware represents a function type that serves as a middleware in an HTTP server.
// It takes the next http.Handler as a parameter and returns an http.Handler.
// The middleware function is responsible for intercepting and processing HTTP requests and responses.
type Middleware = func(next http.Handler) http.Handler

func RecoveryMiddleware() Middleware        { return middleware.Recoverer }
func RedirectSlashesMiddleware() Middleware { return middleware.RedirectSlashes }
func ProfilerMiddleware() http.Handler      { return middleware.Profiler() }

// ContentSecurityPolicy is sent by SecurityHeadersMiddleware.
const ContentSecurityPolicy = "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' data:; " +
	"connect-src 'self'; font-src 'self'; object-src 'none'; media-src 'self'; frame-src 'none'"

// SecurityHeadersMiddleware sets the hardening headers on every response.
func SecurityHeadersMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", ContentSecurityPolicy)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains; preload")
			h.Set("X-XSS-Protection", "0")
			h.Set("Referrer-Policy", "no-referrer")

			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(fn)
	}
}

// LoggingMiddleware represents logging middleware.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now().UTC()

			var reqErr error

			ctx := ctxkit.SetLogErrHook(r.Context(), func(err error) { reqErr = err })

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()

			mwLogger := logger.With(
				slog.String("method", r.Method),
				slog.String("status", strconv.Itoa(status)),
				slog.String("route", r.RequestURI),
				slog.String("remote", r.RemoteAddr),
				slog.Duration("duration", time.Since(start)),
			)

			if id := ww.Header().Get("X-Request-ID"); id != "" {
				mwLogger = mwLogger.With(slog.String("request_id", id))
			}

			if status >= http.StatusInternalServerError {
				if reqErr != nil {
					mwLogger.Error(strconv.Itoa(status)+" "+http.StatusText(status),
						slog.String("error", reqErr.Error()),
					)

					return
				}

				mwLogger.Error(strconv.Itoa(status) + " " + http.StatusText(status))
			} else {
				mwLogger.Info(strconv.Itoa(status) + " " + http.StatusText(status))
			}
		}

		return http.HandlerFunc(fn)
	}
}

// MetricsMiddleware represents HTTP metrics collecting middlewares.
func MetricsMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := strconv.Itoa(ww.Status())

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			metrics.GetOrCreateSummaryExt(httpReqDurationStr(r.Method, route, status), 5*time.Minute, []float64{0.95, 0.99}).
				UpdateDuration(start)

			metrics.GetOrCreateCounter(httpReqTotalStr(r.Method, route, status)).
				Inc()
		}

		return http.HandlerFunc(fn)
	}
}

func httpReqDurationStr(method, route, status string) string {
	return `http_request_duration{method="` + method + `", route="` + route + `", code="` + status + `"}`
}

func httpReqTotalStr(method, route, status string) string {
	return `http_requests_total{method="` + method + `", route="` + route + `", code="` + status + `"}`
}
