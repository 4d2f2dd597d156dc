package audit

import (
	"context"

	"github.com/maltehedderich/rate-governor/internal/logger"
)

// LogSink writes audit records to the structured log.
type LogSink struct {
	logger *logger.ComponentLogger
}

// NewLogSink creates a sink that logs records at warn level.
func NewLogSink() *LogSink {
	return &LogSink{logger: logger.Get().WithComponent("audit")}
}

// Write logs the record.
func (s *LogSink) Write(ctx context.Context, rec Record) error {
	fields := logger.Fields{
		"audit_id":       rec.ID,
		"route":          rec.Route,
		"hits":           rec.Hits,
		"window_seconds": rec.WindowSeconds,
		"occurred_at":    rec.OccurredAt,
	}
	if rec.UserID != "" {
		fields["user_id"] = rec.UserID
	}

	s.logger.WithContext(ctx).Warn("rate limit exceeded", fields)
	return nil
}
