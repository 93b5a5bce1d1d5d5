// Package seskit delivers mail through the AWS SES v2 API.
package seskit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/plainq/mailrelay/idkit"
	"github.com/plainq/mailrelay/mailkit"
)

// Config holds the AWS coordinates. Empty credentials fall back to the
// default AWS credential chain.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// ConfigurationSet is passed along with every message when set.
	ConfigurationSet string

	// MessageIDDomain is the right hand side of generated Message-ID headers.
	MessageIDDomain string
}

// API is the part of the SES v2 client used by Sender.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// Sender delivers messages as raw MIME through SES.
type Sender struct {
	client   API
	resolver *mailkit.Resolver
	cfg      Config
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

// New loads the AWS configuration and returns a Sender backed by a real SES client.
func New(ctx context.Context, cfg Config, options ...Option) (*Sender, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg), cfg, options...), nil
}

// NewWithClient returns a Sender using the given client.
func NewWithClient(client API, cfg Config, options ...Option) *Sender {
	s := Sender{
		client:   client,
		resolver: mailkit.NewResolver(nil),
		cfg:      cfg,
		logger:   slog.Default(),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Send composes message and hands it to SES. Bcc recipients only
// appear in the envelope destination.
func (s *Sender) Send(ctx context.Context, message mailkit.Message) error {
	if err := s.resolver.Resolve(ctx, &message); err != nil {
		return fmt.Errorf("ses: %w", err)
	}

	raw, err := mailkit.ComposeBytes(message, mailkit.ComposeOptions{
		MessageID: s.messageID(message.ID),
	})
	if err != nil {
		return fmt.Errorf("ses: compose message: %w", err)
	}

	input := sesv2.SendEmailInput{
		FromEmailAddress: aws.String(message.From),
		Destination: &types.Destination{
			ToAddresses:  message.To,
			CcAddresses:  message.Cc,
			BccAddresses: message.Bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}

	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}

	out, err := s.client.SendEmail(ctx, &input)
	if err != nil {
		return fmt.Errorf("ses: sending email: %w", err)
	}

	s.logger.Debug("SES accepted message", slog.String("ses_message_id", aws.ToString(out.MessageId)))

	return nil
}

// Health checks that the account is reachable and allowed to send.
func (s *Sender) Health(ctx context.Context) error {
	out, err := s.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return fmt.Errorf("ses: get account: %w", err)
	}

	if !out.SendingEnabled {
		return fmt.Errorf("ses: sending is disabled for the account")
	}

	return nil
}

func (s *Sender) messageID(id string) string {
	domain := s.cfg.MessageIDDomain
	if domain == "" {
		domain = "email.amazonses.com"
	}

	if id == "" {
		return idkit.MessageID(domain)
	}

	return strings.ToLower(id) + "@" + domain
}
