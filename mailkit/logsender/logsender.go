// Package logsender provides a mail backend that only writes messages to the log.
// It is used in development so that no real mail leaves the machine.
package logsender

import (
	"context"
	"log/slog"

	"github.com/plainq/mailrelay/mailkit"
)

// Sender logs every message it is asked to deliver.
type Sender struct {
	logger *slog.Logger
	level  slog.Level
}

// New returns a Sender writing to logger at info level.
func New(logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{logger: logger, level: slog.LevelInfo}
}

// Send always succeeds unless ctx is done.
func (s *Sender) Send(ctx context.Context, message mailkit.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	files := make([]string, 0, len(message.Attachments))
	for _, a := range message.Attachments {
		files = append(files, a.Filename)
	}

	s.logger.Log(ctx, s.level, "Email logged instead of sent",
		slog.String("id", message.ID),
		slog.String("from", message.From),
		slog.Any("to", message.To),
		slog.Any("cc", message.Cc),
		slog.Any("bcc", message.Bcc),
		slog.String("subject", message.Subject),
		slog.Int("text_len", len(message.Text)),
		slog.Int("html_len", len(message.HTML)),
		slog.Any("attachments", files),
	)

	return nil
}

// Health always reports healthy.
func (*Sender) Health(context.Context) error { return nil }
