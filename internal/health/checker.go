// Package health runs the periodic chain audit and publishes its outcome
// through the gRPC health protocol and operator alerts.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jmerrifield20/serviceledger/internal/alert"
	"github.com/jmerrifield20/serviceledger/internal/serviceledger"
)

// ServiceName is the gRPC health service name reported for the ledger.
const ServiceName = "serviceledger.v1.Ledger"

// Config holds chain checker configuration.
type Config struct {
	CheckInterval time.Duration
	AuditTimeout  time.Duration
	AlertTimeout  time.Duration // bounds alert delivery, separately from the audit
}

// Auditor sweeps the whole chain.
type Auditor interface {
	AuditChain(ctx context.Context) (*serviceledger.AuditReport, error)
}

// StatusSetter receives serving status changes. *health.Server satisfies it.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// AuditHookFunc is an optional callback invoked with every completed audit.
type AuditHookFunc func(report *serviceledger.AuditReport)

// ChainChecker runs periodic chain audits.
type ChainChecker struct {
	auditor  Auditor
	cfg      Config
	status   StatusSetter
	notifier alert.Notifier
	onAudit  AuditHookFunc
	logger   *zap.Logger

	mu      sync.Mutex
	last    *serviceledger.AuditReport
	lastErr error
	broken  bool
}

// New creates a new ChainChecker.
func New(auditor Auditor, cfg Config, logger *zap.Logger) *ChainChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.AuditTimeout == 0 {
		cfg.AuditTimeout = time.Minute
	}
	if cfg.AlertTimeout == 0 {
		cfg.AlertTimeout = time.Minute
	}
	return &ChainChecker{auditor: auditor, cfg: cfg, logger: logger}
}

// SetStatusSetter configures where serving status is published.
func (h *ChainChecker) SetStatusSetter(s StatusSetter) {
	h.status = s
}

// SetNotifier configures the alert sink for integrity transitions.
func (h *ChainChecker) SetNotifier(n alert.Notifier) {
	h.notifier = n
}

// SetAuditHook configures the audit callback.
func (h *ChainChecker) SetAuditHook(fn AuditHookFunc) {
	h.onAudit = fn
}

// Start checks once immediately, then on every tick until ctx is done.
func (h *ChainChecker) Start(ctx context.Context) {
	h.Check(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs one audit and publishes the result.
func (h *ChainChecker) Check(ctx context.Context) *serviceledger.AuditReport {
	auditCtx, cancel := context.WithTimeout(ctx, h.cfg.AuditTimeout)
	report, err := h.auditor.AuditChain(auditCtx)
	cancel()
	if err != nil {
		h.logger.Error("health: chain audit", zap.Error(err))
		h.mu.Lock()
		h.lastErr = err
		h.mu.Unlock()
		h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return nil
	}

	if h.onAudit != nil {
		h.onAudit(report)
	}

	h.mu.Lock()
	wasBroken := h.broken
	h.broken = !report.IsValid
	h.last = report
	h.lastErr = nil
	h.mu.Unlock()

	if report.IsValid {
		h.setStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}

	switch {
	case !wasBroken && !report.IsValid:
		h.logger.Error("health: chain integrity lost",
			zap.Int("total_blocks", report.TotalBlocks),
			zap.Int("issues", len(report.Issues)),
		)
		h.notify(ctx, alert.Alert{
			Severity: alert.SeverityCritical,
			Subject:  fmt.Sprintf("ledger chain broken: %d issue(s)", len(report.Issues)),
			Body:     describeIssues(report),
			RaisedAt: report.CheckedAt,
		})
	case wasBroken && report.IsValid:
		h.logger.Info("health: chain integrity restored", zap.Int("total_blocks", report.TotalBlocks))
		h.notify(ctx, alert.Alert{
			Severity: alert.SeverityInfo,
			Subject:  "ledger chain restored",
			Body:     fmt.Sprintf("Audit of %d blocks found no issues.", report.TotalBlocks),
			RaisedAt: report.CheckedAt,
		})
	}
	return report
}

// Last returns the most recent audit report and error. Both are nil before
// the first check.
func (h *ChainChecker) Last() (*serviceledger.AuditReport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.lastErr
}

func (h *ChainChecker) setStatus(s healthpb.HealthCheckResponse_ServingStatus) {
	if h.status != nil {
		h.status.SetServingStatus(ServiceName, s)
	}
}

func (h *ChainChecker) notify(ctx context.Context, a alert.Alert) {
	if h.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.AlertTimeout)
	defer cancel()
	if err := h.notifier.Notify(ctx, a); err != nil {
		h.logger.Warn("health: deliver alert", zap.Error(err))
	}
}

// describeIssues renders at most 20 issues, one per line.
func describeIssues(report *serviceledger.AuditReport) string {
	const maxLines = 20
	var b strings.Builder
	fmt.Fprintf(&b, "Audit of %d blocks found %d issue(s).\n\n", report.TotalBlocks, len(report.Issues))
	for i, issue := range report.Issues {
		if i == maxLines {
			fmt.Fprintf(&b, "... and %d more\n", len(report.Issues)-maxLines)
			break
		}
		fmt.Fprintf(&b, "block %d: %s (expected previous %s, got %s)\n",
			issue.BlockNumber, issue.Kind, issue.ExpectedPreviousHash, issue.ActualPreviousHash)
	}
	return b.String()
}
