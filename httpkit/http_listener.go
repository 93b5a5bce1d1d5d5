package httpkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/heartwilltell/hc"
	"github.com/plainq/mailrelay"
	"github.com/plainq/mailrelay/ctxkit"
	"github.com/plainq/mailrelay/httpkit/statuspage"
	"github.com/plainq/mailrelay/logkit"
	"golang.org/x/sync/errgroup"
)

const (
	// readTimeout represents default read timeout for the http.Server.
	// Bodies may carry inline attachments up to the body cap.
	readTimeout = 30 * time.Second

	// readHeaderTimeout represents default read header timeout for the http.Server.
	readHeaderTimeout = 10 * time.Second

	// writeTimeout represents default write timeout for the http.Server.
	// The response is written after the provider accepted the message.
	writeTimeout = 90 * time.Second

	// idleTimeout represents default idle timeout for the http.Server.
	idleTimeout = 60 * time.Second

	// shutdownTimeout represents server default shutdown timeout.
	shutdownTimeout = 30 * time.Second
)

// ListenerOptionConstraint lists the config parts a ListenerOption can touch.
type ListenerOptionConstraint interface {
	ListenerConfig | TimeoutsConfig | HealthConfig | MetricsConfig | PPROFConfig
}

// ListenerOption changes one part of the NewListenerHTTP configuration.
type ListenerOption[T ListenerOptionConstraint] func(o *T)

// WithTLS sets the TLS certificate and key files served by the listener.
// Passing two empty strings leaves TLS off.
func WithTLS(cert, key string) ListenerOption[ListenerConfig] {
	return func(c *ListenerConfig) {
		c.cert = cert
		c.key = key
	}
}

// WithServiceName sets the name shown on the status page.
func WithServiceName(name string) ListenerOption[ListenerConfig] {
	return func(c *ListenerConfig) {
		if name != "" {
			c.service = name
		}
	}
}

// WithGlobalMiddlewares applies middlewares to every route of the listener.
func WithGlobalMiddlewares(middlewares ...Middleware) ListenerOption[ListenerConfig] {
	return func(s *ListenerConfig) {
		s.globalMiddlewares = append(s.globalMiddlewares, middlewares...)
	}
}

// WithHTTPServerTimeouts overrides the http.Server timeouts.
func WithHTTPServerTimeouts(options ...ListenerOption[TimeoutsConfig]) ListenerOption[ListenerConfig] {
	return func(s *ListenerConfig) {
		for _, opt := range options {
			opt(&s.timeouts)
		}
	}
}

// HTTPServerReadHeaderTimeout sets the http.Server ReadHeaderTimeout.
func HTTPServerReadHeaderTimeout(t time.Duration) ListenerOption[TimeoutsConfig] {
	return func(c *TimeoutsConfig) { c.readHeaderTimeout = t }
}

// HTTPServerReadTimeout sets the http.Server ReadTimeout.
func HTTPServerReadTimeout(t time.Duration) ListenerOption[TimeoutsConfig] {
	return func(c *TimeoutsConfig) { c.readTimeout = t }
}

// HTTPServerWriteTimeout sets the http.Server WriteTimeout.
func HTTPServerWriteTimeout(t time.Duration) ListenerOption[TimeoutsConfig] {
	return func(c *TimeoutsConfig) { c.writeTimeout = t }
}

// HTTPServerIdleTimeout sets the http.Server IdleTimeout.
func HTTPServerIdleTimeout(t time.Duration) ListenerOption[TimeoutsConfig] {
	return func(c *TimeoutsConfig) { c.idleTimeout = t }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ListenerOption[ListenerConfig] {
	return func(s *ListenerConfig) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck mounts the health route.
func WithHealthCheck(options ...ListenerOption[HealthConfig]) ListenerOption[ListenerConfig] {
	return func(s *ListenerConfig) {
		s.health.enable = true

		for _, opt := range options {
			opt(&s.health)
		}
	}
}

// HealthChecker sets the checker behind the health route. Nil keeps the nop checker.
func HealthChecker(checker hc.HealthChecker) ListenerOption[HealthConfig] {
	return func(c *HealthConfig) {
		if checker != nil {
			c.healthChecker = checker
		}
	}
}

// HealthCheckRoute sets the health route path.
func HealthCheckRoute(route string) ListenerOption[HealthConfig] {
	return func(c *HealthConfig) { c.route = route }
}

// HealthCheckAccessLog logs requests to the health route.
func HealthCheckAccessLog(enable bool) ListenerOption[HealthConfig] {
	return func(c *HealthConfig) { c.accessLogsEnabled = enable }
}

// HealthCheckMetricsForEndpoint counts requests to the health route.
func HealthCheckMetricsForEndpoint(enable bool) ListenerOption[HealthConfig] {
	return func(c *HealthConfig) { c.metricsForEndpointEnabled = enable }
}

// HealthCheckReportJSON answers the health route with a JSON document.
func HealthCheckReportJSON() ListenerOption[HealthConfig] {
	return func(c *HealthConfig) { c.healthReport = healthReportJSON }
}

// HealthCheckReportHTML makes GET on the health route render the status page.
// Checks registered through a *HealthChecks are listed one by one.
func HealthCheckReportHTML() ListenerOption[HealthConfig] {
	return func(c *HealthConfig) { c.healthReport = healthReportHTML }
}

// WithMetrics mounts the Prometheus exposition route.
func WithMetrics(options ...ListenerOption[MetricsConfig]) ListenerOption[ListenerConfig] {
	return func(s *ListenerConfig) {
		s.metrics.enable = true

		for _, opt := range options {
			opt(&s.metrics)
		}
	}
}

// MetricsRoute sets the metrics route path.
func MetricsRoute(route string) ListenerOption[MetricsConfig] {
	return func(c *MetricsConfig) { c.route = route }
}

// MetricsAccessLog logs scrapes.
func MetricsAccessLog(enable bool) ListenerOption[MetricsConfig] {
	return func(c *MetricsConfig) { c.accessLogsEnabled = enable }
}

// MetricsMetricsForEndpoint counts scrapes in the request metrics.
func MetricsMetricsForEndpoint(enable bool) ListenerOption[MetricsConfig] {
	return func(c *MetricsConfig) { c.metricsForEndpointEnabled = enable }
}

// WithProfiler turns on the profiler endpoint.
func WithProfiler(cfg PPROFConfig) ListenerOption[ListenerConfig] {
	return func(s *ListenerConfig) {
		s.profiler.enable = true
		s.profiler.accessLogsEnabled = cfg.accessLogsEnabled

		if cfg.route != "" {
			s.profiler.route = cfg.route
		}
	}
}

// ListenerHTTP serves a chi router with the optional health, metrics and profiler routes.
type ListenerHTTP struct {
	enableTLS bool
	cert, key string
	service   string

	health hc.HealthChecker
	logger *slog.Logger

	router chi.Router
	server *http.Server
}

// NewListenerHTTP creates a new ListenerHTTP with the specified address and options.
// The options parameter is a variadic argument that accepts functions of type ListenerOption.
// The ListenerHTTP instance is returned, which can be used to mount routes and start serving requests.
func NewListenerHTTP(addr string, options ...ListenerOption[ListenerConfig]) (*ListenerHTTP, error) {
	router := chi.NewRouter()

	// Apply all option to the default applyOptionsHTTP.
	cfg := applyOptionsHTTP(options...)

	l := ListenerHTTP{
		router:  router,
		logger:  cfg.logger,
		service: cfg.service,
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadTimeout:       cfg.timeouts.readTimeout,
			ReadHeaderTimeout: cfg.timeouts.readHeaderTimeout,
			WriteTimeout:      cfg.timeouts.writeTimeout,
			IdleTimeout:       cfg.timeouts.idleTimeout,
			ErrorLog:          slog.NewLogLogger(cfg.logger.Handler(), slog.LevelWarn),
		},
	}

	if cfg.cert != "" || cfg.key != "" {
		if err := l.configureTLS(cfg); err != nil {
			return nil, fmt.Errorf("configure TLS: %w", err)
		}
	}

	// Use global middlewares.
	l.router.Use(cfg.globalMiddlewares...)

	if err := l.configureHealth(cfg); err != nil {
		return nil, fmt.Errorf("configure health: %w", err)
	}

	if err := l.configureMetrics(cfg); err != nil {
		return nil, fmt.Errorf("configure metrics: %w", err)
	}

	if err := l.configureProfiler(cfg); err != nil {
		return nil, fmt.Errorf("configure profiler: %w", err)
	}

	return &l, nil
}

// Router returns the underlying router.
func (l *ListenerHTTP) Router() chi.Router { return l.router }

// Addr returns the configured listen address.
func (l *ListenerHTTP) Addr() string { return l.server.Addr }

// Mount attaches handler under route with the given middlewares.
func (l *ListenerHTTP) Mount(route string, handler http.Handler, middlewares ...Middleware) {
	l.router.Route(route, func(r chi.Router) {
		r.Use(middlewares...)
		r.Mount("/", handler)
	})
}

func (l *ListenerHTTP) Serve(ctx context.Context) error {
	if l.server.Addr == "" {
		return fmt.Errorf("invalid listener address: %s", l.server.Addr)
	}

	g, serveCtx := errgroup.WithContext(ctx)

	// Handle shutdown signal in the background.
	g.Go(func() error { return l.handleShutdown(serveCtx) })

	g.Go(func() error {
		protocol := "HTTP"
		if l.enableTLS {
			protocol = "HTTPS"
		}

		l.logger.Info(protocol+" listener started to listen",
			slog.String("address", l.server.Addr),
		)

		if err := l.serveFunc(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listener failed: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, mailrelay.ErrGracefullyShutdown) {
			l.logger.Error("Failed to shutdown the listener gracefully",
				slog.String("address", l.server.Addr),
				slog.String("error", err.Error()),
			)
		} else {
			l.logger.Error("Listener failed to serve",
				slog.String("address", l.server.Addr),
				slog.String("error", err.Error()),
			)
		}

		return err
	}

	return nil
}

func (l *ListenerHTTP) serveFunc() error {
	switch {
	case l.enableTLS:
		return l.server.ListenAndServeTLS(l.cert, l.key)

	default:
		return l.server.ListenAndServe()
	}
}

func (l *ListenerHTTP) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if l.health == nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := l.health.Health(r.Context()); err != nil {
		ctxkit.GetLogErrHook(r.Context())(err)

		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}

// healthResponse is the body of the JSON health report.
type healthResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (l *ListenerHTTP) healthCheckHandlerJSON(w http.ResponseWriter, r *http.Request) {
	var (
		healthErr error
		checks    map[string]string
	)

	if hcs, ok := l.health.(*HealthChecks); ok {
		report := hcs.Report(r.Context())
		checks = make(map[string]string, len(report.Checks))

		for _, c := range report.Checks {
			if c.Healthy {
				checks[c.Name] = "up"
				continue
			}

			checks[c.Name] = "down"
			healthErr = errors.Join(healthErr, fmt.Errorf("%s: %s", c.Name, c.Error))
		}
	} else {
		healthErr = l.health.Health(r.Context())
	}

	resp := healthResponse{
		Status:  "200 OK",
		Message: "Service is healthy",
		Checks:  checks,
	}

	status := http.StatusOK

	if healthErr != nil {
		ctxkit.GetLogErrHook(r.Context())(healthErr)

		status = http.StatusServiceUnavailable
		resp.Status = "503 Service Unavailable"
		resp.Message = "Service is temporarily unavailable. Please try again later."
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		ctxkit.GetLogErrHook(r.Context())(errors.Join(healthErr, err))
	}
}

func (l *ListenerHTTP) healthCheckHandlerHTML(w http.ResponseWriter, r *http.Request) {
	var (
		healthErr error
		report    statuspage.Report
	)

	if checks, ok := l.health.(*HealthChecks); ok {
		report = checks.Report(r.Context())
		if !report.Healthy {
			healthErr = checks.Health(r.Context())
		}
	} else {
		healthErr = l.health.Health(r.Context())
		report = statuspage.Report{
			Service:   l.service,
			Healthy:   healthErr == nil,
			CheckedAt: time.Now().UTC(),
		}
	}

	var options []statuspage.Option
	if healthErr != nil {
		ctxkit.GetLogErrHook(r.Context())(healthErr)
		options = append(options, statuspage.WithError(healthErr))
	}

	var buf bytes.Buffer

	if err := statuspage.RenderStatus(&buf, report, options...); err != nil {
		ctxkit.GetLogErrHook(r.Context())(errors.Join(healthErr, fmt.Errorf("render status page: %w", err)))

		l.logger.Error("Failed to render status page",
			slog.String("error", err.Error()),
		)

		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if healthErr != nil {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if _, err := io.Copy(w, &buf); err != nil {
		ctxkit.GetLogErrHook(r.Context())(errors.Join(
			healthErr,
			fmt.Errorf("write status page buffer to response writer: %w", err),
		))

		l.logger.Error("Failed to write status page buffer to response writer",
			slog.String("error", err.Error()),
		)

		return
	}
}

func (*ListenerHTTP) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	metrics.WritePrometheus(w, true)
}

func (l *ListenerHTTP) handleShutdown(ctx context.Context) error {
	<-ctx.Done()

	l.logger.Info("Shutting down the listener",
		slog.String("address", l.server.Addr),
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := l.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%w: %v", mailrelay.ErrGracefullyShutdown, err)
	}

	return nil
}

// ListenerConfig holds ListenerHTTP configuration.
type ListenerConfig struct {
	cert, key string

	// service is the name shown on the status page.
	service string

	// logger represents a logger for HTTP server.
	logger *slog.Logger

	// timeouts holds an HTTP server timeouts configuration.
	timeouts TimeoutsConfig

	// globalMiddlewares holds a set of router-wide HTTP middlewares,
	// which are applied to each endpoint.
	globalMiddlewares []Middleware

	// health holds configuration of health endpoint.
	health HealthConfig

	// metrics holds configuration for metrics endpoint.
	metrics MetricsConfig

	// profiler holds configuration fot profiler endpoint.
	profiler PPROFConfig
}

func applyOptionsHTTP(options ...ListenerOption[ListenerConfig]) ListenerConfig {
	cfg := ListenerConfig{
		logger:  logkit.New(logkit.WithLevel(slog.LevelInfo)),
		service: "mailrelay",

		timeouts: TimeoutsConfig{
			readHeaderTimeout: readHeaderTimeout,
			readTimeout:       readTimeout,
			writeTimeout:      writeTimeout,
			idleTimeout:       idleTimeout,
		},

		globalMiddlewares: []Middleware{},

		health: HealthConfig{
			healthChecker:             hc.NewNopChecker(),
			enable:                    false,
			accessLogsEnabled:         false,
			metricsForEndpointEnabled: false,
			route:                     "/health",
		},

		metrics: MetricsConfig{
			enable:                    false,
			accessLogsEnabled:         false,
			metricsForEndpointEnabled: false,
			route:                     "/metrics",
		},

		profiler: PPROFConfig{
			enable:            false,
			accessLogsEnabled: false,
			route:             "/debug",
		},
	}

	for _, option := range options {
		option(&cfg)
	}

	return cfg
}

func (l *ListenerHTTP) configureTLS(cfg ListenerConfig) error {
	if cfg.cert == "" {
		return mailrelay.ErrCertPathRequired
	}

	if cfg.key == "" {
		return mailrelay.ErrPrivateKeyPathRequired
	}

	l.enableTLS = true
	l.cert = cfg.cert
	l.key = cfg.key

	return nil
}

func (l *ListenerHTTP) configureHealth(cfg ListenerConfig) error {
	if cfg.health.enable {
		if cfg.health.healthChecker != nil {
			l.health = cfg.health.healthChecker
		}

		if cfg.health.route == "" {
			return errors.New("empty health route")
		}

		if !strings.HasPrefix(cfg.health.route, "/") {
			return fmt.Errorf(
				"invalid health route: %q (route should start with '/' slash)",
				cfg.health.route,
			)
		}

		l.router.Route(cfg.health.route, func(health chi.Router) {
			if cfg.health.accessLogsEnabled {
				health.Use(LoggingMiddleware(l.logger))
			}

			if cfg.health.metricsForEndpointEnabled {
				health.Use(MetricsMiddleware())
			}

			switch cfg.health.healthReport {
			case healthReportJSON:
				health.Get("/", l.healthCheckHandlerJSON)
				health.Head("/", l.healthCheckHandler)

			case healthReportHTML:
				health.Get("/", l.healthCheckHandlerHTML)
				health.Head("/", l.healthCheckHandler)

			default:
				health.Get("/", l.healthCheckHandler)
				health.Head("/", l.healthCheckHandler)
			}
		})
	}

	return nil
}

func (l *ListenerHTTP) configureMetrics(cfg ListenerConfig) error {
	if cfg.metrics.enable {
		if cfg.metrics.route == "" {
			return errors.New("empty metrics route")
		}

		if !strings.HasPrefix(cfg.metrics.route, "/") {
			return fmt.Errorf("invalid metrics route: %q (route should start with '/' slash)",
				cfg.metrics.route,
			)
		}

		l.router.Route(cfg.metrics.route, func(metrics chi.Router) {
			if cfg.metrics.accessLogsEnabled {
				metrics.Use(LoggingMiddleware(l.logger))
			}

			if cfg.metrics.metricsForEndpointEnabled {
				metrics.Use(MetricsMiddleware())
			}

			metrics.Get("/", l.metricsHandler)
		})
	}

	return nil
}

func (l *ListenerHTTP) configureProfiler(cfg ListenerConfig) error {
	if cfg.profiler.enable {
		if cfg.profiler.route == "" {
			return errors.New("empty profiler route")
		}

		if !strings.HasPrefix(cfg.profiler.route, "/") {
			return fmt.Errorf(
				"invalid profiler route: %q (route should start with '/' slash)",
				cfg.profiler.route,
			)
		}

		l.router.Route(cfg.profiler.route, func(profiler chi.Router) {
			if cfg.profiler.accessLogsEnabled {
				profiler.Use(LoggingMiddleware(l.logger))
			}

			profiler.Mount("/", ProfilerMiddleware())
		})
	}

	return nil
}

// TimeoutsConfig holds an HTTP server TimeoutsConfig configuration.
type TimeoutsConfig struct {
	// readTimeout represents the http.Server ReadTimeout.
	readTimeout time.Duration

	// readHeaderTimeout represents the http.Server ReadHeaderTimeout.
	readHeaderTimeout time.Duration

	// writeTimeout represents the http.Server WriteTimeout.
	writeTimeout time.Duration

	// idleTimeout represents the http.Server IdleTimeout.
	idleTimeout time.Duration
}

// HealthConfig represents configuration for builtin health check route.
type HealthConfig struct {
	enable                    bool
	accessLogsEnabled         bool
	metricsForEndpointEnabled bool
	route                     string
	healthChecker             hc.HealthChecker
	healthReport              healthReport
}

// healthReport represents a type for health report format.
type healthReport int8

// healthReport constants.
const (
	healthReportNone healthReport = iota
	healthReportJSON
	healthReportHTML
)

// MetricsConfig represents configuration for builtin metrics route.
type MetricsConfig struct {
	enable                    bool
	accessLogsEnabled         bool
	metricsForEndpointEnabled bool
	route                     string
}

// PPROFConfig represents configuration for builtin profiler route.
type PPROFConfig struct {
	enable            bool
	accessLogsEnabled bool
	route             string
}
