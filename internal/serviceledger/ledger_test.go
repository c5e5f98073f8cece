package serviceledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jmerrifield20/serviceledger/internal/serviceledger"
)

var ctx = context.Background()

func samplePayload() serviceledger.Payload {
	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return serviceledger.Payload{
		ServiceDate: time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
		Description: "Oil and filter change",
		ServiceKind: "oil change",
		Parts: []serviceledger.Part{
			{Name: "Oil filter", PartNumber: "OF-2231", Quantity: 1, UnitCost: decimal.RequireFromString("12.50")},
			{Name: "5W-30 oil (qt)", PartNumber: "OIL-530", Quantity: 5, UnitCost: decimal.RequireFromString("8.25")},
		},
		LaborHours:     0.5,
		TotalCost:      decimal.RequireFromString("89.99"),
		Technician:     "J. Alvarez",
		Facility:       "Main Street Auto",
		Odometer:       48213,
		NextServiceDue: &due,
	}
}

func sampleRequest(owner, vehicle uuid.UUID, typ serviceledger.RecordType) serviceledger.AppendRequest {
	p := samplePayload()
	return serviceledger.AppendRequest{
		OwnerID:    owner,
		VehicleID:  vehicle,
		RecordType: typ,
		Payload:    &p,
	}
}

func newMemoryLedger(t *testing.T) (*serviceledger.Ledger, *serviceledger.MemoryStore) {
	t.Helper()
	store := serviceledger.NewMemoryStore()
	return serviceledger.New(store, nil, serviceledger.Config{}, zap.NewNop()), store
}

// appendN appends n maintenance records for one vehicle.
func appendN(t *testing.T, l *serviceledger.Ledger, n int) []*serviceledger.Record {
	t.Helper()
	owner, vehicle := uuid.New(), uuid.New()
	out := make([]*serviceledger.Record, 0, n)
	for i := 0; i < n; i++ {
		r, err := l.Append(ctx, sampleRequest(owner, vehicle, serviceledger.RecordTypeMaintenance))
		if err != nil {
			t.Fatalf("Append #%d: %v", i+1, err)
		}
		out = append(out, r)
	}
	return out
}

func TestAppend_linksBlocks(t *testing.T) {
	l, _ := newMemoryLedger(t)
	recs := appendN(t, l, 3)

	for i, r := range recs {
		if r.BlockNumber != int64(i+1) {
			t.Errorf("record %d: block %d, want %d", i, r.BlockNumber, i+1)
		}
		if r.Verified {
			t.Errorf("record %d: new record should not be verified", i)
		}
	}
	if recs[0].PreviousHash != serviceledger.GenesisHash {
		t.Errorf("block 1 previous hash: got %q, want GenesisHash", recs[0].PreviousHash)
	}
	if recs[1].PreviousHash != recs[0].Hash {
		t.Errorf("block 2 previous hash: got %q, want %q", recs[1].PreviousHash, recs[0].Hash)
	}
	if recs[2].PreviousHash != recs[1].Hash {
		t.Errorf("block 3 previous hash: got %q, want %q", recs[2].PreviousHash, recs[1].Hash)
	}
}

func TestAppend_assignsIdentifiers(t *testing.T) {
	l, _ := newMemoryLedger(t)
	r := appendN(t, l, 1)[0]

	if r.ID == uuid.Nil {
		t.Error("expected a generated record id")
	}
	if len(r.TransactionID) != len("TX-")+13+1+8 {
		t.Errorf("unexpected transaction id shape %q", r.TransactionID)
	}
	if r.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp should be UTC, got %v", r.Timestamp.Location())
	}

	want, err := serviceledger.HashRecord(r.OwnerID, r.VehicleID, r.RecordType, r.Payload, r.Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	if r.Hash != want {
		t.Errorf("stored hash %q does not match recomputed %q", r.Hash, want)
	}
}

func TestAppend_validation(t *testing.T) {
	l, _ := newMemoryLedger(t)
	owner, vehicle := uuid.New(), uuid.New()

	tests := []struct {
		name   string
		mutate func(*serviceledger.AppendRequest)
	}{
		{"missing owner", func(r *serviceledger.AppendRequest) { r.OwnerID = uuid.Nil }},
		{"missing vehicle", func(r *serviceledger.AppendRequest) { r.VehicleID = uuid.Nil }},
		{"missing type", func(r *serviceledger.AppendRequest) { r.RecordType = "" }},
		{"unknown type", func(r *serviceledger.AppendRequest) { r.RecordType = "recall" }},
		{"missing payload", func(r *serviceledger.AppendRequest) { r.Payload = nil }},
		{"missing service date", func(r *serviceledger.AppendRequest) { r.Payload.ServiceDate = time.Time{} }},
		{"missing description", func(r *serviceledger.AppendRequest) { r.Payload.Description = "" }},
		{"negative cost", func(r *serviceledger.AppendRequest) { r.Payload.TotalCost = decimal.NewFromInt(-1) }},
		{"negative odometer", func(r *serviceledger.AppendRequest) { r.Payload.Odometer = -5 }},
		{"zero part quantity", func(r *serviceledger.AppendRequest) { r.Payload.Parts[0].Quantity = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := sampleRequest(owner, vehicle, serviceledger.RecordTypeRepair)
			tc.mutate(&req)
			_, err := l.Append(ctx, req)
			if !errors.Is(err, serviceledger.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	head, err := l.Head(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head != nil {
		t.Errorf("rejected appends must not create blocks, head is block %d", head.BlockNumber)
	}
}

func TestAppend_concurrent(t *testing.T) {
	l, _ := newMemoryLedger(t)
	const m = 50

	var wg sync.WaitGroup
	errs := make(chan error, m)
	owner := uuid.New()
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, sampleRequest(owner, uuid.New(), serviceledger.RecordTypeInspection))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Append: %v", err)
		}
	}

	seenHash := make(map[string]bool)
	for n := int64(1); n <= m; n++ {
		r, err := l.GetByBlock(ctx, n)
		if err != nil {
			t.Fatalf("block %d missing: %v", n, err)
		}
		if seenHash[r.Hash] {
			t.Errorf("duplicate hash at block %d", n)
		}
		seenHash[r.Hash] = true
	}
	if _, err := l.GetByBlock(ctx, m+1); !errors.Is(err, serviceledger.ErrNotFound) {
		t.Errorf("expected no block %d, got %v", m+1, err)
	}

	report, err := l.AuditChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.IsValid || report.TotalBlocks != m {
		t.Errorf("audit after concurrent appends: valid=%v total=%d issues=%v",
			report.IsValid, report.TotalBlocks, report.Issues)
	}
}

// conflictStore loses the first n inserts as if another writer took the block.
type conflictStore struct {
	*serviceledger.MemoryStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictStore) Insert(ctx context.Context, r *serviceledger.Record) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return serviceledger.ErrConflict
	}
	s.mu.Unlock()
	return s.MemoryStore.Insert(ctx, r)
}

type countingMetrics struct {
	mu            sync.Mutex
	committed     int
	conflicts     int
	verifications map[serviceledger.VerifyReason]int
}

func (m *countingMetrics) AppendCommitted() { m.mu.Lock(); m.committed++; m.mu.Unlock() }
func (m *countingMetrics) AppendConflict()  { m.mu.Lock(); m.conflicts++; m.mu.Unlock() }
func (m *countingMetrics) Verification(r serviceledger.VerifyReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifications == nil {
		m.verifications = make(map[serviceledger.VerifyReason]int)
	}
	m.verifications[r]++
}

func TestAppend_retriesConflicts(t *testing.T) {
	store := &conflictStore{MemoryStore: serviceledger.NewMemoryStore(), conflicts: 2}
	metrics := &countingMetrics{}
	l := serviceledger.New(store, nil, serviceledger.Config{
		MaxAppendAttempts: 3,
		RetryBackoff:      time.Millisecond,
	}, zap.NewNop())
	l.SetMetricsRecorder(metrics)

	r, err := l.Append(ctx, sampleRequest(uuid.New(), uuid.New(), serviceledger.RecordTypeWarranty))
	if err != nil {
		t.Fatalf("Append should succeed on the third attempt: %v", err)
	}
	if r.BlockNumber != 1 {
		t.Errorf("block: got %d, want 1", r.BlockNumber)
	}
	if metrics.conflicts != 2 || metrics.committed != 1 {
		t.Errorf("metrics: conflicts=%d committed=%d, want 2 and 1", metrics.conflicts, metrics.committed)
	}
}

func TestAppend_exhaustsRetries(t *testing.T) {
	store := &conflictStore{MemoryStore: serviceledger.NewMemoryStore(), conflicts: 100}
	l := serviceledger.New(store, nil, serviceledger.Config{
		MaxAppendAttempts: 3,
		RetryBackoff:      time.Millisecond,
	}, zap.NewNop())

	_, err := l.Append(ctx, sampleRequest(uuid.New(), uuid.New(), serviceledger.RecordTypeWarranty))
	if !errors.Is(err, serviceledger.ErrAppendFailed) {
		t.Fatalf("expected ErrAppendFailed, got %v", err)
	}
	if !errors.Is(err, serviceledger.ErrConflict) {
		t.Errorf("ErrAppendFailed should wrap the last conflict, got %v", err)
	}
	if store.conflicts != 97 {
		t.Errorf("expected exactly 3 attempts, store saw %d", 100-store.conflicts)
	}
}

func TestAppend_cancelledDuringBackoff(t *testing.T) {
	store := &conflictStore{MemoryStore: serviceledger.NewMemoryStore(), conflicts: 100}
	l := serviceledger.New(store, nil, serviceledger.Config{
		MaxAppendAttempts: 5,
		RetryBackoff:      time.Hour,
	}, zap.NewNop())

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := l.Append(cctx, sampleRequest(uuid.New(), uuid.New(), serviceledger.RecordTypeWarranty))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestVerify_validRecord(t *testing.T) {
	l, _ := newMemoryLedger(t)
	metrics := &countingMetrics{}
	l.SetMetricsRecorder(metrics)
	recs := appendN(t, l, 3)

	res, err := l.Verify(ctx, recs[1].ID, "inspector@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Reason != serviceledger.ReasonValid {
		t.Fatalf("expected valid, got %+v", res)
	}
	if !res.Record.Verified || res.Record.VerifiedAt == nil {
		t.Error("verified record should carry verified=true and a verification time")
	}
	if res.Record.VerifiedBy != "inspector@example.com" {
		t.Errorf("verified by: got %q", res.Record.VerifiedBy)
	}

	stored, err := l.GetByID(ctx, recs[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Verified {
		t.Error("verification was not persisted")
	}
	if metrics.verifications[serviceledger.ReasonValid] != 1 {
		t.Errorf("expected one valid verification metric, got %v", metrics.verifications)
	}
}

func TestVerify_immediatelyAfterAppend(t *testing.T) {
	l, _ := newMemoryLedger(t)
	for i := 0; i < 5; i++ {
		r := appendN(t, l, 1)[0]
		res, err := l.Verify(ctx, r.ID, "")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Valid {
			t.Fatalf("block %d invalid right after append: %s", r.BlockNumber, res.Reason)
		}
		if res.Record.VerifiedBy != serviceledger.SystemPrincipal {
			t.Errorf("empty principal should record %q, got %q", serviceledger.SystemPrincipal, res.Record.VerifiedBy)
		}
	}
}

func TestVerify_idempotent(t *testing.T) {
	l, _ := newMemoryLedger(t)
	r := appendN(t, l, 2)[1]

	first, err := l.Verify(ctx, r.ID, "a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Verify(ctx, r.ID, "b")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Valid || !second.Valid {
		t.Fatal("both verifications should be valid")
	}
	if second.Record.Hash != r.Hash || second.Record.BlockNumber != r.BlockNumber || second.Record.PreviousHash != r.PreviousHash {
		t.Error("verification must not alter hash, block number, or previous hash")
	}
	if second.Record.VerifiedBy != "b" {
		t.Errorf("re-verification should record the latest principal, got %q", second.Record.VerifiedBy)
	}
}

func TestVerify_hashMismatch(t *testing.T) {
	l, store := newMemoryLedger(t)
	recs := appendN(t, l, 3)

	if err := store.Tamper(recs[1].ID, func(r *serviceledger.Record) {
		r.Payload.TotalCost = decimal.NewFromInt(9999)
	}); err != nil {
		t.Fatal(err)
	}

	res, err := l.Verify(ctx, recs[1].ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Reason != serviceledger.ReasonHashMismatch {
		t.Fatalf("expected hash_mismatch, got valid=%v reason=%s", res.Valid, res.Reason)
	}
	if res.Details == nil || res.Details.StoredHash != recs[1].Hash || res.Details.ComputedHash == recs[1].Hash {
		t.Errorf("unexpected details: %+v", res.Details)
	}

	stored, _ := l.GetByID(ctx, recs[1].ID)
	if stored.Verified {
		t.Error("a failed verification must not mark the record verified")
	}
}

func TestVerify_brokenChain(t *testing.T) {
	l, store := newMemoryLedger(t)
	recs := appendN(t, l, 3)

	const bogus = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	if err := store.Tamper(recs[2].ID, func(r *serviceledger.Record) { r.PreviousHash = bogus }); err != nil {
		t.Fatal(err)
	}

	res, err := l.Verify(ctx, recs[2].ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Reason != serviceledger.ReasonBrokenChain {
		t.Fatalf("expected broken_chain, got valid=%v reason=%s", res.Valid, res.Reason)
	}
	if res.Details.ExpectedPreviousHash != recs[1].Hash || res.Details.ActualPreviousHash != bogus {
		t.Errorf("unexpected details: %+v", res.Details)
	}
}

func TestVerify_genesisBlock(t *testing.T) {
	l, store := newMemoryLedger(t)
	r := appendN(t, l, 1)[0]

	if err := store.Tamper(r.ID, func(r *serviceledger.Record) { r.PreviousHash = "abc" }); err != nil {
		t.Fatal(err)
	}
	res, err := l.Verify(ctx, r.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != serviceledger.ReasonBrokenChain || res.Details.ExpectedPreviousHash != serviceledger.GenesisHash {
		t.Errorf("block 1 must link to GenesisHash, got %+v", res)
	}
}

func TestVerify_notFound(t *testing.T) {
	l, _ := newMemoryLedger(t)
	_, err := l.Verify(ctx, uuid.New(), "")
	if !errors.Is(err, serviceledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditChain_valid(t *testing.T) {
	l, _ := newMemoryLedger(t)
	appendN(t, l, 3)

	report, err := l.AuditChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalBlocks != 3 || !report.IsValid {
		t.Errorf("got total=%d valid=%v, want 3 and true", report.TotalBlocks, report.IsValid)
	}
	if report.Issues == nil || len(report.Issues) != 0 {
		t.Errorf("issues should be an empty list, got %#v", report.Issues)
	}
}

func TestAuditChain_empty(t *testing.T) {
	l, _ := newMemoryLedger(t)
	report, err := l.AuditChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalBlocks != 0 || !report.IsValid {
		t.Errorf("empty ledger: got total=%d valid=%v", report.TotalBlocks, report.IsValid)
	}
}

func TestAuditChain_detectsCorruptedLink(t *testing.T) {
	l, store := newMemoryLedger(t)
	recs := appendN(t, l, 3)

	const corrupted = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	if err := store.Tamper(recs[1].ID, func(r *serviceledger.Record) { r.PreviousHash = corrupted }); err != nil {
		t.Fatal(err)
	}

	report, err := l.AuditChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.IsValid {
		t.Fatal("audit should fail on a corrupted link")
	}
	if len(report.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %+v", report.Issues)
	}
	issue := report.Issues[0]
	if issue.BlockNumber != 2 || issue.Kind != serviceledger.IssueBrokenLink {
		t.Errorf("issue: got block %d kind %s", issue.BlockNumber, issue.Kind)
	}
	if issue.ExpectedPreviousHash != recs[0].Hash || issue.ActualPreviousHash != corrupted {
		t.Errorf("issue hashes: expected=%q actual=%q", issue.ExpectedPreviousHash, issue.ActualPreviousHash)
	}
}

func TestAuditChain_genesisMismatch(t *testing.T) {
	l, store := newMemoryLedger(t)
	recs := appendN(t, l, 2)

	if err := store.Tamper(recs[0].ID, func(r *serviceledger.Record) { r.PreviousHash = "not-genesis" }); err != nil {
		t.Fatal(err)
	}
	report, err := l.AuditChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Issues) != 1 || report.Issues[0].Kind != serviceledger.IssueGenesisMismatch {
		t.Errorf("expected one genesis_mismatch, got %+v", report.Issues)
	}
}

func TestAuditChain_doesNotMutate(t *testing.T) {
	l, _ := newMemoryLedger(t)
	recs := appendN(t, l, 2)

	if _, err := l.AuditChain(ctx); err != nil {
		t.Fatal(err)
	}
	for _, r := range recs {
		got, err := l.GetByID(ctx, r.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Verified || got.Hash != r.Hash {
			t.Errorf("block %d changed during audit", r.BlockNumber)
		}
	}
}

func TestFind_filtersAndOrder(t *testing.T) {
	l, _ := newMemoryLedger(t)
	owner, carA, carB := uuid.New(), uuid.New(), uuid.New()

	mustAppend := func(vehicle uuid.UUID, typ serviceledger.RecordType, day int) *serviceledger.Record {
		t.Helper()
		req := sampleRequest(owner, vehicle, typ)
		req.Payload.ServiceDate = time.Date(2026, 1, day, 10, 0, 0, 0, time.UTC)
		r, err := l.Append(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		return r
	}
	a1 := mustAppend(carA, serviceledger.RecordTypeMaintenance, 5)
	mustAppend(carB, serviceledger.RecordTypeRepair, 10)
	a3 := mustAppend(carA, serviceledger.RecordTypeRepair, 15)
	a4 := mustAppend(carA, serviceledger.RecordTypeMaintenance, 20)

	if _, err := l.Verify(ctx, a3.ID, ""); err != nil {
		t.Fatal(err)
	}

	got, err := l.Find(ctx, serviceledger.Filter{VehicleID: carA})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != a4.ID || got[2].ID != a1.ID {
		t.Errorf("vehicle filter should return blocks 4,3,1 newest first, got %v", blockNumbers(got))
	}

	got, _ = l.Find(ctx, serviceledger.Filter{VehicleID: carA, RecordType: serviceledger.RecordTypeMaintenance})
	if len(got) != 2 {
		t.Errorf("type filter: got blocks %v", blockNumbers(got))
	}

	verified := true
	got, _ = l.Find(ctx, serviceledger.Filter{Verified: &verified})
	if len(got) != 1 || got[0].ID != a3.ID {
		t.Errorf("verified filter: got blocks %v", blockNumbers(got))
	}

	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	got, _ = l.Find(ctx, serviceledger.Filter{ServiceFrom: &from, ServiceTo: &to})
	if len(got) != 2 {
		t.Errorf("date range should be inclusive, got blocks %v", blockNumbers(got))
	}

	got, _ = l.Find(ctx, serviceledger.Filter{OwnerID: owner, Limit: 2, Offset: 1})
	if len(got) != 2 || got[0].BlockNumber != 3 || got[1].BlockNumber != 2 {
		t.Errorf("limit/offset: got blocks %v, want [3 2]", blockNumbers(got))
	}
}

func TestFind_rejectsBadFilter(t *testing.T) {
	l, _ := newMemoryLedger(t)
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	for name, f := range map[string]serviceledger.Filter{
		"unknown type":   {RecordType: "recall"},
		"inverted range": {ServiceFrom: &from, ServiceTo: &to},
		"negative limit": {Limit: -1},
	} {
		if _, err := l.Find(ctx, f); !errors.Is(err, serviceledger.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestStats_empty(t *testing.T) {
	l, _ := newMemoryLedger(t)
	st, err := l.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 0 || st.VerificationRate != 0 || st.LatestBlock != 0 {
		t.Errorf("empty stats: %+v", st)
	}
	if st.FirstRecordAt != nil || st.LastRecordAt != nil {
		t.Error("empty ledger should have no first/last record times")
	}
}

func TestStats_counts(t *testing.T) {
	l, _ := newMemoryLedger(t)
	recs := appendN(t, l, 4)
	if _, err := l.Append(ctx, sampleRequest(uuid.New(), uuid.New(), serviceledger.RecordTypeWarranty)); err != nil {
		t.Fatal(err)
	}
	for _, r := range recs[:2] {
		if _, err := l.Verify(ctx, r.ID, ""); err != nil {
			t.Fatal(err)
		}
	}

	st, err := l.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 5 || st.Verified != 2 || st.Pending != 3 {
		t.Errorf("counts: total=%d verified=%d pending=%d", st.Total, st.Verified, st.Pending)
	}
	if st.VerificationRate != 40 {
		t.Errorf("verification rate: got %v, want 40", st.VerificationRate)
	}
	if st.LatestBlock != 5 {
		t.Errorf("latest block: got %d, want 5", st.LatestBlock)
	}
	if st.ByType[serviceledger.RecordTypeMaintenance] != 4 || st.ByType[serviceledger.RecordTypeWarranty] != 1 {
		t.Errorf("by type: %v", st.ByType)
	}
}

func TestLookups(t *testing.T) {
	l, _ := newMemoryLedger(t)
	recs := appendN(t, l, 2)

	byHash, err := l.GetByHash(ctx, recs[0].Hash)
	if err != nil || byHash.ID != recs[0].ID {
		t.Errorf("GetByHash: %v %v", byHash, err)
	}
	head, err := l.Head(ctx)
	if err != nil || head.ID != recs[1].ID {
		t.Errorf("Head: %v %v", head, err)
	}
	if _, err := l.GetByBlock(ctx, 0); !errors.Is(err, serviceledger.ErrNotFound) {
		t.Errorf("GetByBlock(0): expected ErrNotFound, got %v", err)
	}
	if _, err := l.GetByHash(ctx, "missing"); !errors.Is(err, serviceledger.ErrNotFound) {
		t.Errorf("GetByHash(missing): expected ErrNotFound, got %v", err)
	}
}

func blockNumbers(recs []*serviceledger.Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.BlockNumber
	}
	return out
}
