package serviceledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults applied by New when Config fields are zero.
const (
	DefaultMaxAppendAttempts = 5
	DefaultRetryBackoff      = 10 * time.Millisecond
)

// Config tunes the append retry policy.
type Config struct {
	MaxAppendAttempts int           // attempts before ErrAppendFailed
	RetryBackoff      time.Duration // first backoff; doubles per attempt
}

// MetricsRecorder receives ledger outcomes. *handler.LedgerMetrics satisfies it.
type MetricsRecorder interface {
	AppendCommitted()
	AppendConflict()
	Verification(reason VerifyReason)
}

// Ledger is the append engine, verifier, chain auditor, and query service
// over a single Store. It holds no chain state of its own: the next block is
// always derived from the store.
type Ledger struct {
	store   Store
	locker  AppendLocker
	cfg     Config
	metrics MetricsRecorder // nil = no metrics
	logger  *zap.Logger
}

// New creates a Ledger. A nil locker defaults to a ProcessLocker.
func New(store Store, locker AppendLocker, cfg Config, logger *zap.Logger) *Ledger {
	if locker == nil {
		locker = NewProcessLocker()
	}
	if cfg.MaxAppendAttempts <= 0 {
		cfg.MaxAppendAttempts = DefaultMaxAppendAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &Ledger{store: store, locker: locker, cfg: cfg, logger: logger}
}

// SetMetricsRecorder configures the metrics sink.
func (l *Ledger) SetMetricsRecorder(m MetricsRecorder) {
	l.metrics = m
}

// Append validates req, links it to the current tail, and persists it as the
// next block. Losing a concurrent race is retried; exhausting the attempts
// returns ErrAppendFailed.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (*Record, error) {
	if err := validateAppend(req); err != nil {
		return nil, err
	}
	payload := normalizePayload(*req.Payload)

	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAppendAttempts; attempt++ {
		rec, err := l.appendOnce(ctx, req, payload)
		if err == nil {
			if l.metrics != nil {
				l.metrics.AppendCommitted()
			}
			l.logger.Debug("ledger record appended",
				zap.Int64("block", rec.BlockNumber),
				zap.String("hash", rec.Hash),
				zap.String("transaction_id", rec.TransactionID),
				zap.String("record_type", string(rec.RecordType)),
			)
			return rec, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}

		lastErr = err
		if l.metrics != nil {
			l.metrics.AppendConflict()
		}
		l.logger.Warn("ledger append contention, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", l.cfg.MaxAppendAttempts),
			zap.Error(err),
		)

		if attempt < l.cfg.MaxAppendAttempts {
			backoff := l.cfg.RetryBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrAppendFailed, l.cfg.MaxAppendAttempts, lastErr)
}

// appendOnce runs one read-compute-write cycle under the append lock.
func (l *Ledger) appendOnce(ctx context.Context, req AppendRequest, payload Payload) (*Record, error) {
	unlock, err := l.locker.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire append lock: %w", err)
	}
	defer unlock()

	tail, err := l.store.Tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	next, prevHash := int64(1), GenesisHash
	if tail != nil {
		next, prevHash = tail.BlockNumber+1, tail.Hash
	}

	now := canonicalTime(time.Now())
	hash, err := HashRecord(req.OwnerID, req.VehicleID, req.RecordType, payload, now)
	if err != nil {
		return nil, err
	}
	txID, err := newTransactionID(now)
	if err != nil {
		return nil, fmt.Errorf("generate transaction id: %w", err)
	}

	rec := &Record{
		ID:            uuid.New(),
		OwnerID:       req.OwnerID,
		VehicleID:     req.VehicleID,
		WorkOrderID:   req.WorkOrderID,
		RecordType:    req.RecordType,
		Payload:       payload,
		Timestamp:     now,
		Hash:          hash,
		PreviousHash:  prevHash,
		BlockNumber:   next,
		TransactionID: txID,
		CreatedAt:     now,
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert block %d: %w", next, err)
	}
	return rec, nil
}

// VerifyReason explains a VerificationResult.
type VerifyReason string

const (
	ReasonValid        VerifyReason = "valid"
	ReasonHashMismatch VerifyReason = "hash_mismatch"
	ReasonBrokenChain  VerifyReason = "broken_chain"
)

// VerificationDetails carries the values that disagreed.
type VerificationDetails struct {
	ComputedHash         string `json:"computed_hash,omitempty"`
	StoredHash           string `json:"stored_hash,omitempty"`
	ExpectedPreviousHash string `json:"expected_previous_hash,omitempty"`
	ActualPreviousHash   string `json:"actual_previous_hash,omitempty"`
}

// VerificationResult is the outcome of Verify. An invalid record is a result,
// not an error.
type VerificationResult struct {
	Valid   bool                 `json:"valid"`
	Reason  VerifyReason         `json:"reason"`
	Details *VerificationDetails `json:"details,omitempty"`
	Record  *Record              `json:"record"`
}

// Verify recomputes a record's hash and checks that the record one block
// below it carries the hash this record links to. On success the record is
// marked verified by principal (SystemPrincipal when empty). Re-verifying a
// valid record refreshes VerifiedAt.
func (l *Ledger) Verify(ctx context.Context, id uuid.UUID, principal string) (*VerificationResult, error) {
	rec, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", id, err)
	}

	result, err := l.check(ctx, rec)
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.Verification(result.Reason)
	}
	if !result.Valid {
		l.logger.Warn("ledger record failed verification",
			zap.String("id", id.String()),
			zap.Int64("block", rec.BlockNumber),
			zap.String("reason", string(result.Reason)),
		)
		return result, nil
	}

	if principal == "" {
		principal = SystemPrincipal
	}
	updated, err := l.store.MarkVerified(ctx, id, canonicalTime(time.Now()), principal)
	if err != nil {
		return nil, fmt.Errorf("mark record %s verified: %w", id, err)
	}
	result.Record = updated
	return result, nil
}

// check evaluates rec without mutating anything.
func (l *Ledger) check(ctx context.Context, rec *Record) (*VerificationResult, error) {
	computed, err := hashOf(rec)
	if err != nil {
		return nil, err
	}
	if computed != rec.Hash {
		return &VerificationResult{
			Reason:  ReasonHashMismatch,
			Details: &VerificationDetails{ComputedHash: computed, StoredHash: rec.Hash},
			Record:  rec,
		}, nil
	}

	expectedPrev := GenesisHash
	if rec.BlockNumber > 1 {
		pred, err := l.store.GetByBlock(ctx, rec.BlockNumber-1)
		switch {
		case errors.Is(err, ErrNotFound):
			expectedPrev = ""
		case err != nil:
			return nil, fmt.Errorf("load block %d: %w", rec.BlockNumber-1, err)
		default:
			expectedPrev = pred.Hash
		}
	}
	if expectedPrev == "" || rec.PreviousHash != expectedPrev {
		return &VerificationResult{
			Reason: ReasonBrokenChain,
			Details: &VerificationDetails{
				ExpectedPreviousHash: expectedPrev,
				ActualPreviousHash:   rec.PreviousHash,
			},
			Record: rec,
		}, nil
	}

	return &VerificationResult{Valid: true, Reason: ReasonValid, Record: rec}, nil
}

// IssueKind classifies an AuditIssue.
type IssueKind string

const (
	IssueBrokenLink      IssueKind = "broken_link"
	IssueGenesisMismatch IssueKind = "genesis_mismatch"
	IssueSequenceGap     IssueKind = "sequence_gap"
)

// AuditIssue is one integrity violation found by AuditChain.
type AuditIssue struct {
	BlockNumber          int64     `json:"block_number"`
	Kind                 IssueKind `json:"kind"`
	ExpectedPreviousHash string    `json:"expected_previous_hash"`
	ActualPreviousHash   string    `json:"actual_previous_hash"`
}

// AuditReport is the result of a full chain sweep.
type AuditReport struct {
	TotalBlocks int          `json:"total_blocks"`
	IsValid     bool         `json:"is_valid"`
	Issues      []AuditIssue `json:"issues"`
	CheckedAt   time.Time    `json:"checked_at"`
}

// AuditChain walks the whole ledger in block order and reports every
// linkage break. It never mutates a record. O(n) in ledger length.
func (l *Ledger) AuditChain(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{Issues: []AuditIssue{}}

	var prev *Record
	err := l.store.Scan(ctx, func(curr *Record) error {
		report.TotalBlocks++
		defer func() { prev = curr }()

		if prev == nil {
			if curr.BlockNumber != 1 {
				report.Issues = append(report.Issues, AuditIssue{
					BlockNumber:        curr.BlockNumber,
					Kind:               IssueSequenceGap,
					ActualPreviousHash: curr.PreviousHash,
				})
				return nil
			}
			if curr.PreviousHash != GenesisHash {
				report.Issues = append(report.Issues, AuditIssue{
					BlockNumber:          curr.BlockNumber,
					Kind:                 IssueGenesisMismatch,
					ExpectedPreviousHash: GenesisHash,
					ActualPreviousHash:   curr.PreviousHash,
				})
			}
			return nil
		}

		if curr.BlockNumber != prev.BlockNumber+1 {
			report.Issues = append(report.Issues, AuditIssue{
				BlockNumber:        curr.BlockNumber,
				Kind:               IssueSequenceGap,
				ActualPreviousHash: curr.PreviousHash,
			})
			return nil
		}
		if curr.PreviousHash != prev.Hash {
			report.Issues = append(report.Issues, AuditIssue{
				BlockNumber:          curr.BlockNumber,
				Kind:                 IssueBrokenLink,
				ExpectedPreviousHash: prev.Hash,
				ActualPreviousHash:   curr.PreviousHash,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	report.IsValid = len(report.Issues) == 0
	report.CheckedAt = time.Now().UTC()
	if !report.IsValid {
		l.logger.Warn("ledger audit found integrity issues",
			zap.Int("total_blocks", report.TotalBlocks),
			zap.Int("issues", len(report.Issues)),
		)
	}
	return report, nil
}

// Find returns records matching f, most recent block first.
func (l *Ledger) Find(ctx context.Context, f Filter) ([]*Record, error) {
	if f.RecordType != "" && !f.RecordType.Valid() {
		return nil, &ValidationError{Field: "record_type", Msg: fmt.Sprintf("unknown record type %q", f.RecordType)}
	}
	if f.ServiceFrom != nil && f.ServiceTo != nil && f.ServiceFrom.After(*f.ServiceTo) {
		return nil, &ValidationError{Field: "from", Msg: "must not be after to"}
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, &ValidationError{Field: "limit", Msg: "limit and offset must be non-negative"}
	}
	records, err := l.store.Find(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("find records: %w", err)
	}
	return records, nil
}

// Stats aggregates the ledger. VerificationRate is a percentage and is 0 for
// an empty ledger.
func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	st, err := l.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	if st.ByType == nil {
		st.ByType = make(map[RecordType]int)
	}
	if st.Total > 0 {
		st.VerificationRate = float64(st.Verified) / float64(st.Total) * 100
	}
	return st, nil
}

// GetByID returns the record with the given id.
func (l *Ledger) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return l.store.GetByID(ctx, id)
}

// GetByHash returns the record with the given content hash.
func (l *Ledger) GetByHash(ctx context.Context, hash string) (*Record, error) {
	return l.store.GetByHash(ctx, hash)
}

// GetByBlock returns the record at the given block number.
func (l *Ledger) GetByBlock(ctx context.Context, blockNumber int64) (*Record, error) {
	if blockNumber < 1 {
		return nil, ErrNotFound
	}
	return l.store.GetByBlock(ctx, blockNumber)
}

// Head returns the chain tip, or nil when the ledger is empty.
func (l *Ledger) Head(ctx context.Context) (*Record, error) {
	return l.store.Tail(ctx)
}

// validateAppend checks the required fields of an append request.
func validateAppend(req AppendRequest) error {
	if req.OwnerID == uuid.Nil {
		return &ValidationError{Field: "owner_id", Msg: "is required"}
	}
	if req.VehicleID == uuid.Nil {
		return &ValidationError{Field: "vehicle_id", Msg: "is required"}
	}
	if req.RecordType == "" {
		return &ValidationError{Field: "record_type", Msg: "is required"}
	}
	if !req.RecordType.Valid() {
		return &ValidationError{Field: "record_type", Msg: fmt.Sprintf("unknown record type %q", req.RecordType)}
	}
	if req.Payload == nil {
		return &ValidationError{Field: "payload", Msg: "is required"}
	}

	p := req.Payload
	if p.ServiceDate.IsZero() {
		return &ValidationError{Field: "payload.service_date", Msg: "is required"}
	}
	if p.Description == "" {
		return &ValidationError{Field: "payload.description", Msg: "is required"}
	}
	if p.LaborHours < 0 {
		return &ValidationError{Field: "payload.labor_hours", Msg: "must not be negative"}
	}
	if p.TotalCost.IsNegative() {
		return &ValidationError{Field: "payload.total_cost", Msg: "must not be negative"}
	}
	if p.Odometer < 0 {
		return &ValidationError{Field: "payload.odometer", Msg: "must not be negative"}
	}
	for i, part := range p.Parts {
		if part.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("payload.parts[%d].name", i), Msg: "is required"}
		}
		if part.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("payload.parts[%d].quantity", i), Msg: "must be positive"}
		}
		if part.UnitCost.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("payload.parts[%d].unit_cost", i), Msg: "must not be negative"}
		}
	}
	return nil
}
