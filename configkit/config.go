// Package configkit loads the relay configuration from an optional YAML
// file, a .env file and the process environment, in increasing priority.
package configkit

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/plainq/mailrelay/logkit"
	"gopkg.in/yaml.v3"
)

// Environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Mail providers.
const (
	ProviderSMTP   = "smtp"
	ProviderResend = "resend"
	ProviderSES    = "ses"
	ProviderLog    = "log"
)

// Rate limit stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds every setting of the relay.
type Config struct {
	Environment string `env:"ENVIRONMENT" yaml:"environment"`
	Addr        string `env:"ADDR"        yaml:"addr"`
	Port        int    `env:"PORT"        yaml:"port"`

	APIKeys        []string `env:"API_KEYS"        yaml:"api_keys"`
	TrustedOrigins []string `env:"TRUSTED_ORIGINS" yaml:"trusted_origins"`
	TrustProxy     bool     `env:"TRUST_PROXY"     yaml:"trust_proxy"`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES"  yaml:"max_body_bytes"`

	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Redis       RedisConfig      `yaml:"redis"`
	Mail        MailConfig       `yaml:"mail"`
	SMTP        SMTPConfig       `yaml:"smtp"`
	Resend      ResendConfig     `yaml:"resend"`
	AWS         AWSConfig        `yaml:"aws"`
	Attachments AttachmentConfig `yaml:"attachments"`
	Log         LogConfig        `yaml:"log"`
	TLS         TLSConfig        `yaml:"tls"`

	SentryDSN      string `env:"SENTRY_DSN"      yaml:"sentry_dsn"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" yaml:"metrics_enabled"`
	PprofEnabled   bool   `env:"PPROF_ENABLED"   yaml:"pprof_enabled"`
}

type RateLimitConfig struct {
	Max    int           `env:"RATE_LIMIT_MAX"    yaml:"max"`
	Window time.Duration `env:"RATE_LIMIT_WINDOW" yaml:"window"`
	Store  string        `env:"RATE_LIMIT_STORE"  yaml:"store"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"     yaml:"addr"`
	Username string `env:"REDIS_USERNAME" yaml:"username"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
	TLS      bool   `env:"REDIS_TLS"      yaml:"tls"`
}

// ServerName returns the host part of Addr for TLS verification.
func (c RedisConfig) ServerName() string {
	host, _, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return c.Addr
	}

	return host
}

type MailConfig struct {
	Provider string `env:"MAIL_PROVIDER" yaml:"provider"`

	// MessageIDDomain is the right hand side of generated Message-ID headers.
	MessageIDDomain string `env:"MESSAGE_ID_DOMAIN" yaml:"message_id_domain"`
}

type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"     yaml:"host"`
	Port     int    `env:"SMTP_PORT"     yaml:"port"`
	User     string `env:"SMTP_USER"     yaml:"user"`
	Pass     string `env:"SMTP_PASS"     yaml:"pass"`
	Secure   bool   `env:"SMTP_SECURE"   yaml:"secure"`
	StartTLS bool   `env:"SMTP_STARTTLS" yaml:"starttls"`
	Auth     string `env:"SMTP_AUTH"     yaml:"auth"`
}

// Security returns "tls" for SMTP_SECURE, "starttls" for SMTP_STARTTLS and "none" otherwise.
func (c SMTPConfig) Security() string {
	switch {
	case c.Secure:
		return "tls"
	case c.StartTLS:
		return "starttls"
	default:
		return "none"
	}
}

type ResendConfig struct {
	APIKey string `env:"RESEND_API_KEY" yaml:"api_key"`
}

type AWSConfig struct {
	Region           string `env:"AWS_REGION"            yaml:"region"`
	AccessKeyID      string `env:"AWS_ACCESS_KEY_ID"     yaml:"access_key_id"`
	SecretAccessKey  string `env:"AWS_SECRET_ACCESS_KEY" yaml:"secret_access_key"`
	ConfigurationSet string `env:"SES_CONFIGURATION_SET" yaml:"configuration_set"`
}

type AttachmentConfig struct {
	FetchTimeout time.Duration `env:"ATTACHMENT_FETCH_TIMEOUT" yaml:"fetch_timeout"`
	MaxBytes     int64         `env:"ATTACHMENT_MAX_BYTES"     yaml:"max_bytes"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" yaml:"level"`

	// JSON forces the JSON handler on or off. Unset means JSON in
	// production and the console handler in development.
	JSON *bool `env:"LOG_JSON" yaml:"json"`
}

type TLSConfig struct {
	CertFile string `env:"TLS_CERT_FILE" yaml:"cert_file"`
	KeyFile  string `env:"TLS_KEY_FILE"  yaml:"key_file"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Environment:  EnvProduction,
		Port:         3000,
		MaxBodyBytes: 10 << 20,
		RateLimit: RateLimitConfig{
			Max:    100,
			Window: 15 * time.Minute,
			Store:  StoreMemory,
		},
		Mail: MailConfig{Provider: ProviderSMTP},
		SMTP: SMTPConfig{StartTLS: true, Auth: "plain"},
		Attachments: AttachmentConfig{
			FetchTimeout: 30 * time.Second,
			MaxBytes:     10 << 20,
		},
		Log:            LogConfig{Level: "info"},
		MetricsEnabled: true,
	}
}

// IsDevelopment reports whether the relay runs in development mode.
func (c *Config) IsDevelopment() bool { return c.Environment == EnvDevelopment }

// ListenAddr returns ADDR, or ":PORT" when ADDR is empty.
func (c *Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}

	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) { return logkit.ParseLevel(c.Log.Level) }

// LogJSON reports whether logs are written as JSON.
func (c *Config) LogJSON() bool {
	if c.Log.JSON != nil {
		return *c.Log.JSON
	}

	return !c.IsDevelopment()
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != EnvProduction && c.Environment != EnvDevelopment {
		errs = append(errs, fmt.Errorf("ENVIRONMENT: unknown environment %q", c.Environment))
	}

	if c.Addr == "" && (c.Port <= 0 || c.Port > 65535) {
		errs = append(errs, fmt.Errorf("PORT: %d is out of range", c.Port))
	}

	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES: must be positive"))
	}

	if c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX: must be positive"))
	}

	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW: must be positive"))
	}

	switch c.RateLimit.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR: required by the redis rate limit store"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_STORE: unknown store %q", c.RateLimit.Store))
	}

	switch c.Mail.Provider {
	case ProviderSMTP:
		if c.SMTP.Host == "" && !c.IsDevelopment() {
			errs = append(errs, errors.New("SMTP_HOST: required by the smtp provider"))
		}

		if a := strings.ToLower(c.SMTP.Auth); a != "plain" && a != "login" {
			errs = append(errs, fmt.Errorf("SMTP_AUTH: unknown mechanism %q", c.SMTP.Auth))
		}
	case ProviderResend:
		if c.Resend.APIKey == "" {
			errs = append(errs, errors.New("RESEND_API_KEY: required by the resend provider"))
		}
	case ProviderSES:
		if c.AWS.Region == "" {
			errs = append(errs, errors.New("AWS_REGION: required by the ses provider"))
		}
	case ProviderLog:
	default:
		errs = append(errs, fmt.Errorf("MAIL_PROVIDER: unknown provider %q", c.Mail.Provider))
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}

	if !c.IsDevelopment() && len(c.APIKeys) == 0 && len(c.TrustedOrigins) == 0 {
		errs = append(errs, errors.New("API_KEYS or TRUSTED_ORIGINS: at least one caller must be allowed"))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	return errors.Join(errs...)
}

// Option configures Load.
type Option func(o *loadOptions)

type loadOptions struct {
	environ    map[string]string
	dotenv     []string
	configFile string
}

// WithEnvironment replaces the process environment.
func WithEnvironment(environ map[string]string) Option {
	return func(o *loadOptions) { o.environ = environ }
}

// WithDotEnv sets the .env files to read. Missing files are skipped.
func WithDotEnv(paths ...string) Option {
	return func(o *loadOptions) { o.dotenv = paths }
}

// WithConfigFile names the YAML file, taking precedence over CONFIG_FILE.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE, then the environment. Variables from .env files never
// override the real environment. The result is not validated.
func Load(options ...Option) (Config, error) {
	o := loadOptions{dotenv: []string{".env"}}

	for _, option := range options {
		option(&o)
	}

	if o.environ == nil {
		o.environ = environMap(os.Environ())
	}

	environ := make(map[string]string, len(o.environ))

	for _, path := range o.dotenv {
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}

		for k, v := range values {
			if _, ok := environ[k]; !ok {
				environ[k] = v
			}
		}
	}

	for k, v := range o.environ {
		environ[k] = v
	}

	if _, ok := environ["ENVIRONMENT"]; !ok {
		if nodeEnv, ok := environ["NODE_ENV"]; ok {
			environ["ENVIRONMENT"] = nodeEnv
		}
	}

	cfg := Default()

	path := o.configFile
	if path == "" {
		path = environ["CONFIG_FILE"]
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Mail.Provider = strings.ToLower(strings.TrimSpace(cfg.Mail.Provider))
	cfg.RateLimit.Store = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Store))
	cfg.APIKeys = compact(cfg.APIKeys)
	cfg.TrustedOrigins = compact(cfg.TrustedOrigins)

	return cfg, nil
}

// compact trims every entry and drops the empty ones.
func compact(list []string) []string {
	out := make([]string, 0, len(list))

	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}

	return out
}

func environMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))

	for _, kv := range pairs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}

	return m
}
