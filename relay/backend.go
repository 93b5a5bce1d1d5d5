package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartwilltell/hc"
	"github.com/plainq/mailrelay/configkit"
	"github.com/plainq/mailrelay/httpkit"
	"github.com/plainq/mailrelay/mailkit"
	"github.com/plainq/mailrelay/mailkit/logsender"
	"github.com/plainq/mailrelay/mailkit/resendkit"
	"github.com/plainq/mailrelay/mailkit/seskit"
	"github.com/plainq/mailrelay/mailkit/smtpkit"
	"github.com/plainq/mailrelay/retry"
)

// Backend is a delivery provider which can report its own health.
type Backend interface {
	mailkit.Sender
	hc.HealthChecker
}

// NewBackend returns the provider selected by cfg.Mail.Provider.
// In development mode messages are always logged instead of sent.
func NewBackend(ctx context.Context, cfg configkit.Config, logger *slog.Logger) (Backend, string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.IsDevelopment() || cfg.Mail.Provider == configkit.ProviderLog {
		return logsender.New(logger), configkit.ProviderLog, nil
	}

	resolver := mailkit.NewResolver(
		httpkit.NewClient(
			httpkit.WithTimeout(cfg.Attachments.FetchTimeout),
			httpkit.WithPublicAddressesOnly(),
			httpkit.WithRetries(retry.WithMaxAttempts(3)),
		),
		mailkit.WithMaxBytes(cfg.Attachments.MaxBytes),
	)

	switch cfg.Mail.Provider {
	case configkit.ProviderSMTP:
		s, err := smtpkit.New(smtpkit.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Pass,
			Security: smtpkit.Security(cfg.SMTP.Security()),
			Auth:     cfg.SMTP.Auth,
		},
			smtpkit.WithResolver(resolver),
			smtpkit.WithLogger(logger),
			smtpkit.WithMessageIDDomain(cfg.Mail.MessageIDDomain),
		)
		if err != nil {
			return nil, "", fmt.Errorf("create smtp sender: %w", err)
		}

		return s, configkit.ProviderSMTP, nil

	case configkit.ProviderResend:
		return resendkit.NewResendSender(cfg.Resend.APIKey), configkit.ProviderResend, nil

	case configkit.ProviderSES:
		s, err := seskit.New(ctx, seskit.Config{
			Region:           cfg.AWS.Region,
			AccessKeyID:      cfg.AWS.AccessKeyID,
			SecretAccessKey:  cfg.AWS.SecretAccessKey,
			ConfigurationSet: cfg.AWS.ConfigurationSet,
			MessageIDDomain:  cfg.Mail.MessageIDDomain,
		},
			seskit.WithResolver(resolver),
			seskit.WithLogger(logger),
		)
		if err != nil {
			return nil, "", fmt.Errorf("create ses sender: %w", err)
		}

		return s, configkit.ProviderSES, nil

	default:
		return nil, "", fmt.Errorf("unknown mail provider %q", cfg.Mail.Provider)
	}
}
