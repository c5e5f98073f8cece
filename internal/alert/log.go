package alert

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes alerts to zap instead of delivering them.
// Use in development or when SMTP is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier backed by the given logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert and returns nil.
func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("severity", string(a.Severity)),
		zap.String("subject", a.Subject),
		zap.String("body", a.Body),
		zap.Time("raised_at", a.RaisedAt),
	}
	if a.Severity == SeverityCritical {
		n.logger.Error("ledger alert", fields...)
	} else {
		n.logger.Info("ledger alert", fields...)
	}
	return nil
}
