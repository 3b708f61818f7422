package ops

import (
	"context"
	"log/slog"
)

// Sink receives error reports. Report must not block the caller.
type Sink interface {
	Report(ctx context.Context, message, title string)
}

// SlogSink reports through a slog logger at error level.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink writing to logger, or slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Report logs message under title.
func (s *SlogSink) Report(ctx context.Context, message, title string) {
	s.logger.ErrorContext(ctx, title, slog.String("title", title), slog.String("message", message))
}

// NopSink discards reports.
type NopSink struct{}

// Report does nothing.
func (NopSink) Report(context.Context, string, string) {}
