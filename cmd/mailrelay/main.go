// Command mailrelay runs the HTTP mail relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plainq/mailrelay"
	"github.com/plainq/mailrelay/configkit"
	"github.com/plainq/mailrelay/dbkit/rediskit"
	"github.com/plainq/mailrelay/errkit"
	"github.com/plainq/mailrelay/httpkit"
	"github.com/plainq/mailrelay/logkit"
	"github.com/plainq/mailrelay/ratekit"
	"github.com/plainq/mailrelay/relay"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("Mailrelay failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := configkit.Load(configkit.WithConfigFile(*configFile))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(&cfg)
	slog.SetDefault(logger)

	flush, err := errkit.InitReporter(errkit.ReporterOptions{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
	if err != nil {
		return err
	}
	defer flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, provider, err := relay.NewBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.IsDevelopment() {
		logger.Warn("Development mode, emails are logged instead of sent")
	}

	checks := httpkit.NewHealthChecks("mailrelay", 5*time.Second)
	checks.Add("mail:"+provider, backend)

	store, closeStore, err := newStore(&cfg, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	rl, err := relay.New(relay.Config{
		Development:    cfg.IsDevelopment(),
		TrustProxy:     cfg.TrustProxy,
		TrustedOrigins: cfg.TrustedOrigins,
		APIKeys:        cfg.APIKeys,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	}, backend, ratekit.NewLimiter(store, cfg.RateLimit.Max, cfg.RateLimit.Window), relay.WithLogger(logger))
	if err != nil {
		return err
	}

	options := []httpkit.ListenerOption[httpkit.ListenerConfig]{
		httpkit.WithLogger(logger),
		httpkit.WithServiceName("mailrelay"),
		httpkit.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile),
		httpkit.WithGlobalMiddlewares(
			httpkit.RecoveryMiddleware(),
			httpkit.RedirectSlashesMiddleware(),
		),
		httpkit.WithHealthCheck(
			httpkit.HealthChecker(checks),
			httpkit.HealthCheckReportHTML(),
			httpkit.HealthCheckAccessLog(true),
		),
	}

	if cfg.MetricsEnabled {
		options = append(options, httpkit.WithMetrics(httpkit.MetricsAccessLog(true)))
	}

	if cfg.PprofEnabled {
		options = append(options, httpkit.WithProfiler(httpkit.PPROFConfig{}))
	}

	listener, err := httpkit.NewListenerHTTP(cfg.ListenAddr(), options...)
	if err != nil {
		return fmt.Errorf("create http listener: %w", err)
	}

	listener.Mount("/", rl.Routes(), httpkit.MetricsMiddleware())

	server := mailrelay.NewServer(logger)
	server.RegisterListener("http", listener)

	logger.Info("Mailrelay is starting",
		slog.String("version", version),
		slog.String("environment", cfg.Environment),
		slog.String("provider", provider),
		slog.String("rate_limit_store", cfg.RateLimit.Store),
		slog.Int("rate_limit_max", cfg.RateLimit.Max),
		slog.Duration("rate_limit_window", cfg.RateLimit.Window),
		slog.Int("api_keys", len(cfg.APIKeys)),
		slog.Any("trusted_origins", cfg.TrustedOrigins),
	)

	if err := server.Serve(ctx); err != nil {
		return err
	}

	logger.Info("Mailrelay stopped")

	return nil
}

func newLogger(cfg *configkit.Config) *slog.Logger {
	level, _ := cfg.LogLevel()

	options := []logkit.Option{logkit.WithLevel(level)}

	if cfg.LogJSON() {
		options = append(options, logkit.WithJSON())
	} else {
		options = append(options, logkit.WithConsole())
	}

	return logkit.New(options...)
}

func newStore(cfg *configkit.Config, checks *httpkit.HealthChecks) (ratekit.Store, func(), error) {
	if cfg.RateLimit.Store != configkit.StoreRedis {
		return ratekit.NewMemoryStore(), func() {}, nil
	}

	options := []rediskit.Option{
		rediskit.WithCredentials(cfg.Redis.Username, cfg.Redis.Password),
		rediskit.WithDB(cfg.Redis.DB),
	}

	if cfg.Redis.TLS {
		options = append(options, rediskit.WithTLS(cfg.Redis.ServerName()))
	}

	conn, err := rediskit.New(cfg.Redis.Addr, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	checks.Add("redis", conn)

	return ratekit.NewRedisStore(conn, ""), func() { _ = conn.Close() }, nil
}
