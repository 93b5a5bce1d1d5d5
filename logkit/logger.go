package logkit

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const (
	// ErrParseLevel indicates that string given to function ParseLevel can't be parsed to Level.
	ErrParseLevel Error = "string can't be parsed as Level, use: `error`, `warn`, `info`, `debug`"
)

// Error represents package level error related to logging work.
type Error string

func (e Error) Error() string { return string(e) }

// ParseLevel takes the string and tries to parse it to the Level.
func ParseLevel(lvl string) (slog.Level, error) {
	if lvl == "" {
		return slog.LevelInfo, ErrParseLevel
	}

	levels := map[string]slog.Level{
		strings.ToLower(slog.LevelWarn.String()):  slog.LevelWarn,
		strings.ToLower(slog.LevelError.String()): slog.LevelError,
		strings.ToLower(slog.LevelInfo.String()):  slog.LevelInfo,
		strings.ToLower(slog.LevelDebug.String()): slog.LevelDebug,
	}

	level, ok := levels[strings.ToLower(lvl)]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("%s %w", lvl, ErrParseLevel)
	}

	return level, nil
}

// format selects the slog.Handler built by New.
type format uint8

const (
	formatText format = iota
	formatJSON
	formatConsole
)

// Options represents the configuration options for the logging library.
type Options struct {
	writer io.Writer
	level  *slog.LevelVar

	withSource bool
	format     format
}

// Option represents a function that modifies the configuration options for the logging library.
type Option func(*Options)

// WithWriter changes the writer of the logger.
func WithWriter(w io.Writer) Option { return func(o *Options) { o.writer = w } }

// WithLevel changes the underlying logging level of slog.Logger to the given on.
func WithLevel(level slog.Level) Option { return func(o *Options) { o.level.Set(level) } }

// WithSource adds the source file and line to each record.
func WithSource() Option { return func(o *Options) { o.withSource = true } }

// WithJSON makes the logger emit one JSON object per record.
func WithJSON() Option { return func(o *Options) { o.format = formatJSON } }

// WithConsole makes the logger emit colorized human readable lines.
// Meant for local development.
func WithConsole() Option { return func(o *Options) { o.format = formatConsole } }

// New returns a logger configured by the given options.
// Without options it writes text records of level info and above to stderr.
func New(options ...Option) *slog.Logger {
	o := Options{
		level:  &slog.LevelVar{},
		writer: os.Stderr,
	}

	for _, option := range options {
		option(&o)
	}

	if o.writer == nil {
		o.writer = os.Stderr
	}

	var (
		handler        slog.Handler
		handlerOptions = slog.HandlerOptions{
			AddSource: o.withSource,
			Level:     o.level,
		}
	)

	switch o.format {
	case formatJSON:
		handler = slog.NewJSONHandler(o.writer, &handlerOptions)

	case formatConsole:
		handler = tint.NewHandler(o.writer, &tint.Options{
			AddSource:  o.withSource,
			Level:      o.level,
			TimeFormat: time.TimeOnly,
		})

	default:
		handler = slog.NewTextHandler(o.writer, &handlerOptions)
	}

	return slog.New(handler)
}
