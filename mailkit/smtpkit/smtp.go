// Package smtpkit delivers mail through an SMTP submission server.
package smtpkit

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/plainq/mailrelay/idkit"
	"github.com/plainq/mailrelay/mailkit"
)

// Security selects how the connection to the server is protected.
type Security string

const (
	// SecurityTLS is implicit TLS, usually on port 465.
	SecurityTLS Security = "tls"

	// SecurityStartTLS upgrades a plain connection with STARTTLS, usually on port 587.
	SecurityStartTLS Security = "starttls"

	// SecurityNone sends everything in clear text. Only for local relays.
	SecurityNone Security = "none"
)

const (
	// ErrHostRequired is returned by New when the server host is empty.
	ErrHostRequired Error = "smtp host is required"

	// ErrUnknownSecurity is returned by New for an unknown Security value.
	ErrUnknownSecurity Error = "unknown smtp security mode"

	// ErrUnknownAuth is returned by New for an unknown authentication mechanism.
	ErrUnknownAuth Error = "unknown smtp auth mechanism"

	defaultCommandTimeout = 30 * time.Second
)

// Error represents package level errors.
type Error string

func (e Error) Error() string { return string(e) }

// Config holds the SMTP server coordinates and credentials.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Security Security

	// Auth is the SASL mechanism: "plain" (default) or "login".
	Auth string

	// TLSConfig overrides the TLS client configuration.
	TLSConfig *tls.Config

	CommandTimeout time.Duration
}

// Addr returns host:port of the server.
func (c Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

// session is the part of an SMTP client conversation used by Sender.
type session interface {
	Auth(a sasl.Client) error
	Mail(from string) error
	Rcpt(to string) error
	Data(r io.Reader) error
	Noop() error
	Quit() error
	Close() error
}

type dialFunc func(cfg Config) (session, error)

// Sender delivers messages over SMTP. A new connection is opened per message.
type Sender struct {
	cfg      Config
	dial     dialFunc
	resolver *mailkit.Resolver
	domain   string
	logger   *slog.Logger
}

// Option configures a Sender.
type Option func(s *Sender)

// WithResolver sets the resolver used to download href attachments.
func WithResolver(r *mailkit.Resolver) Option { return func(s *Sender) { s.resolver = r } }

// WithLogger sets the sender logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMessageIDDomain sets the right hand side of generated Message-ID headers.
func WithMessageIDDomain(domain string) Option { return func(s *Sender) { s.domain = domain } }

// New validates cfg and returns a Sender.
func New(cfg Config, options ...Option) (*Sender, error) {
	if cfg.Host == "" {
		return nil, ErrHostRequired
	}

	if cfg.Security == "" {
		cfg.Security = SecurityTLS
	}

	switch cfg.Security {
	case SecurityTLS, SecurityStartTLS, SecurityNone:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSecurity, cfg.Security)
	}

	cfg.Auth = strings.ToLower(cfg.Auth)
	if cfg.Auth == "" {
		cfg.Auth = "plain"
	}

	if cfg.Auth != "plain" && cfg.Auth != "login" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuth, cfg.Auth)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort(cfg.Security)
	}

	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	s := Sender{
		cfg:      cfg,
		dial:     dialServer,
		resolver: mailkit.NewResolver(nil),
		domain:   cfg.Host,
		logger:   slog.Default(),
	}

	for _, option := range options {
		option(&s)
	}

	return &s, nil
}

// Send delivers message. The returned error wraps the SMTP reply
// when the server refused the message.
func (s *Sender) Send(ctx context.Context, message mailkit.Message) error {
	if err := s.resolver.Resolve(ctx, &message); err != nil {
		return fmt.Errorf("smtp: %w", err)
	}

	raw, err := mailkit.ComposeBytes(message, mailkit.ComposeOptions{
		MessageID: messageID(message.ID, s.domain),
	})
	if err != nil {
		return fmt.Errorf("smtp: compose message: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	sess, err := s.dial(s.cfg)
	if err != nil {
		return fmt.Errorf("smtp: dial %s: %w", s.cfg.Addr(), err)
	}

	// Closing the connection aborts any command blocked on the network.
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	defer func() { _ = sess.Close() }()

	if err := s.converse(sess, message, raw); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, err)
		}

		return err
	}

	s.logger.Debug("SMTP server accepted message",
		slog.String("addr", s.cfg.Addr()),
		slog.Int("recipients", len(message.Recipients())),
	)

	return nil
}

func (s *Sender) converse(sess session, message mailkit.Message, raw []byte) error {
	if s.cfg.Username != "" {
		if err := sess.Auth(s.saslClient()); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}

	if err := sess.Mail(message.From); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}

	for _, rcpt := range message.Recipients() {
		if err := sess.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: rcpt to %s: %w", rcpt, err)
		}
	}

	if err := sess.Data(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}

	if err := sess.Quit(); err != nil {
		return fmt.Errorf("smtp: quit: %w", err)
	}

	return nil
}

// Health opens a connection, authenticates when configured and sends NOOP.
func (s *Sender) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sess, err := s.dial(s.cfg)
	if err != nil {
		return fmt.Errorf("smtp: dial %s: %w", s.cfg.Addr(), err)
	}

	defer func() { _ = sess.Close() }()

	if s.cfg.Username != "" {
		if err := sess.Auth(s.saslClient()); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}

	if err := sess.Noop(); err != nil {
		return fmt.Errorf("smtp: noop: %w", err)
	}

	return sess.Quit()
}

func (s *Sender) saslClient() sasl.Client {
	if s.cfg.Auth == "login" {
		return sasl.NewLoginClient(s.cfg.Username, s.cfg.Password)
	}

	return sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
}

func messageID(id, domain string) string {
	if id == "" {
		return idkit.MessageID(domain)
	}

	return strings.ToLower(id) + "@" + domain
}

func defaultPort(sec Security) int {
	switch sec {
	case SecurityTLS:
		return 465
	case SecurityStartTLS:
		return 587
	default:
		return 25
	}
}

func dialServer(cfg Config) (session, error) {
	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}

	var (
		client *smtp.Client
		err    error
	)

	switch cfg.Security {
	case SecurityTLS:
		client, err = smtp.DialTLS(cfg.Addr(), tlsConfig)

	case SecurityStartTLS:
		client, err = smtp.DialStartTLS(cfg.Addr(), tlsConfig)

	default:
		client, err = smtp.Dial(cfg.Addr())
	}

	if err != nil {
		return nil, err
	}

	client.CommandTimeout = cfg.CommandTimeout
	client.SubmissionTimeout = cfg.CommandTimeout

	return &clientSession{client: client}, nil
}

// clientSession adapts *smtp.Client to session.
type clientSession struct {
	client *smtp.Client
}

func (c *clientSession) Auth(a sasl.Client) error { return c.client.Auth(a) }
func (c *clientSession) Mail(from string) error   { return c.client.Mail(from, nil) }
func (c *clientSession) Rcpt(to string) error     { return c.client.Rcpt(to, nil) }
func (c *clientSession) Noop() error              { return c.client.Noop() }
func (c *clientSession) Quit() error              { return c.client.Quit() }
func (c *clientSession) Close() error             { return c.client.Close() }

func (c *clientSession) Data(r io.Reader) error {
	w, err := c.client.Data()
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}
