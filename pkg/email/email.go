// Package email provides email delivery implementations. The platform's real
// delivery pipeline lives in another service; LogSender stands in for it in
// development and single-process deployments.
package email

import (
	"context"
	"log/slog"
)

// LogSender logs sends instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "email")}
}

func (s *LogSender) Send(ctx context.Context, to, subject, htmlContent string) error {
	s.logger.InfoContext(ctx, "Sending email",
		"to", to,
		"subject", subject,
		"content_bytes", len(htmlContent))

	return nil
}
