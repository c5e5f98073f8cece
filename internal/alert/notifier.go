// Package alert delivers operator alerts raised by the ledger, such as a
// failed chain audit.
package alert

import (
	"context"
	"time"
)

// Severity ranks an Alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Severity Severity
	Subject  string
	Body     string
	RaisedAt time.Time
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}
