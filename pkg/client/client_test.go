package client_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jmerrifield20/serviceledger/internal/api/handler"
	"github.com/jmerrifield20/serviceledger/internal/identity"
	"github.com/jmerrifield20/serviceledger/internal/serviceledger"
	"github.com/jmerrifield20/serviceledger/pkg/client"
)

const operatorSecret = "correct horse battery staple"

// ── Test server ─────────────────────────────────────────────────────────

// ledgerServer runs the real HTTP handlers over a memory ledger. When
// withAuth is set, writes need an operator token. tokenCalls counts hits on
// the token endpoint.
func ledgerServer(t *testing.T, withAuth bool) (*httptest.Server, *serviceledger.MemoryStore, *int32) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var tokens *identity.TokenIssuer
	if withAuth {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatal(err)
		}
		tokens = identity.NewTokenIssuer(key, "http://test", time.Hour)
	}
	hash, err := identity.HashSecret(operatorSecret)
	if err != nil {
		t.Fatal(err)
	}

	store := serviceledger.NewMemoryStore()
	ledger := serviceledger.New(store, nil, serviceledger.Config{}, zap.NewNop())

	var tokenCalls int32
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/api/v1/auth/token" {
			atomic.AddInt32(&tokenCalls, 1)
		}
	})
	v1 := r.Group("/api/v1")
	handler.NewRecordHandler(ledger, tokens, zap.NewNop()).Register(v1)
	handler.NewLedgerHandler(ledger, nil, zap.NewNop()).Register(v1)
	handler.NewAuthHandler(tokens, hash, zap.NewNop()).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, &tokenCalls
}

func appendRequest(vehicle uuid.UUID, typ client.RecordType) client.AppendRequest {
	return client.AppendRequest{
		OwnerID:    uuid.New(),
		VehicleID:  vehicle,
		RecordType: typ,
		Payload: &client.Payload{
			ServiceDate: time.Date(2026, 5, 14, 8, 30, 0, 0, time.UTC),
			Description: "Oil and filter change",
			ServiceKind: "oil change",
			Parts: []client.Part{
				{Name: "Oil filter", PartNumber: "OF-22", Quantity: 1, UnitCost: decimal.RequireFromString("9.50")},
			},
			LaborHours: 0.5,
			TotalCost:  decimal.RequireFromString("79.50"),
			Technician: "M. Ortiz",
			Facility:   "Northside Service",
			Odometer:   42000,
		},
	}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestNew_requiresBaseURL(t *testing.T) {
	if _, err := client.New(""); err == nil {
		t.Error("expected an error for an empty base URL")
	}
}

func TestAppendAndRead_openMode(t *testing.T) {
	srv, _, _ := ledgerServer(t, false)
	c := client.MustNew(srv.URL + "/")
	ctx := context.Background()

	first, err := c.Append(ctx, appendRequest(uuid.New(), client.RecordTypeMaintenance))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first.BlockNumber != 1 || first.PreviousHash != client.GenesisHash {
		t.Errorf("first block: %+v", first)
	}

	second, err := c.Append(ctx, appendRequest(uuid.New(), client.RecordTypeRepair))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second.PreviousHash != first.Hash {
		t.Errorf("second block should link to the first")
	}

	got, err := c.Get(ctx, first.ID)
	if err != nil || got.Hash != first.Hash {
		t.Errorf("Get: %v %+v", err, got)
	}
	got, err = c.GetByHash(ctx, second.Hash)
	if err != nil || got.ID != second.ID {
		t.Errorf("GetByHash: %v %+v", err, got)
	}
	got, err = c.GetBlock(ctx, 2)
	if err != nil || got.ID != second.ID {
		t.Errorf("GetBlock: %v %+v", err, got)
	}

	ov, err := c.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Blocks != 2 || ov.Root != second.Hash || ov.HeadTransactionID != second.TransactionID {
		t.Errorf("Overview: %+v", ov)
	}
}

func TestVerifyAuditStats(t *testing.T) {
	srv, store, _ := ledgerServer(t, false)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	var recs []*client.Record
	for i := 0; i < 3; i++ {
		rec, err := c.Append(ctx, appendRequest(uuid.New(), client.RecordTypeInspection))
		if err != nil {
			t.Fatal(err)
		}
		recs = append(recs, rec)
	}

	res, err := c.Verify(ctx, recs[1].ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Valid || res.Record.VerifiedBy != serviceledger.SystemPrincipal {
		t.Errorf("Verify: %+v", res)
	}

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 || st.Verified != 1 {
		t.Errorf("Stats: %+v", st)
	}

	report, err := c.Audit(ctx)
	if err != nil || !report.IsValid || report.TotalBlocks != 3 {
		t.Errorf("Audit: %v %+v", err, report)
	}

	store.Tamper(recs[2].ID, func(r *serviceledger.Record) { r.PreviousHash = serviceledger.GenesisHash })
	report, err = c.Audit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.IsValid || len(report.Issues) != 1 || report.Issues[0].Kind != serviceledger.IssueBrokenLink {
		t.Errorf("tampered audit: %+v", report)
	}
}

func TestFind(t *testing.T) {
	srv, _, _ := ledgerServer(t, false)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	vehicle := uuid.New()
	for _, typ := range []client.RecordType{client.RecordTypeRepair, client.RecordTypeWarranty, client.RecordTypeRepair} {
		if _, err := c.Append(ctx, appendRequest(vehicle, typ)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Append(ctx, appendRequest(uuid.New(), client.RecordTypeRepair)); err != nil {
		t.Fatal(err)
	}

	res, err := c.Find(ctx, client.Filter{VehicleID: vehicle, RecordType: client.RecordTypeRepair})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 || len(res.Records) != 2 {
		t.Fatalf("expected 2 repairs for the vehicle, got %d", res.Count)
	}
	if res.Records[0].BlockNumber < res.Records[1].BlockNumber {
		t.Error("records should be newest block first")
	}

	res, err = c.Find(ctx, client.Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 || res.Limit != 1 || res.Offset != 1 || res.Records[0].BlockNumber != 3 {
		t.Errorf("paged find: %+v", res)
	}

	unverified := false
	res, err = c.Find(ctx, client.Filter{Verified: &unverified})
	if err != nil || res.Count != 4 {
		t.Errorf("verified=false: %v %+v", err, res)
	}
}

func TestErrors(t *testing.T) {
	srv, _, _ := ledgerServer(t, false)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	_, err := c.Get(ctx, uuid.New())
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	req := appendRequest(uuid.New(), "oil")
	_, err = c.Append(ctx, req)
	if !errors.Is(err, client.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Field != "record_type" {
		t.Errorf("expected a record_type field error, got %+v", apiErr)
	}
}

func TestErrors_statusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusConflict, client.ErrConflict},
		{http.StatusServiceUnavailable, client.ErrUnavailable},
		{http.StatusUnauthorized, client.ErrUnauthorized},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))
		_, err := client.MustNew(srv.URL).Stats(context.Background())
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestOperatorCredentials(t *testing.T) {
	srv, _, tokenCalls := ledgerServer(t, true)
	ctx := context.Background()

	anon := client.MustNew(srv.URL)
	if _, err := anon.Append(ctx, appendRequest(uuid.New(), client.RecordTypeRepair)); !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without a token, got %v", err)
	}

	c := client.MustNew(srv.URL, client.WithOperatorCredentials("alice", operatorSecret))
	rec, err := c.Append(ctx, appendRequest(uuid.New(), client.RecordTypeRepair))
	if err != nil {
		t.Fatalf("Append with credentials: %v", err)
	}
	res, err := c.Verify(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.VerifiedBy != "alice" {
		t.Errorf("verified_by: got %q, want alice", res.Record.VerifiedBy)
	}
	if n := atomic.LoadInt32(tokenCalls); n != 1 {
		t.Errorf("token should be fetched once and reused, got %d fetches", n)
	}

	bad := client.MustNew(srv.URL, client.WithOperatorCredentials("alice", "not the secret at all"))
	if _, err := bad.Append(ctx, appendRequest(uuid.New(), client.RecordTypeRepair)); !errors.Is(err, client.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for a wrong secret, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	srv, _, _ := ledgerServer(t, true)
	ctx := context.Background()

	tok, err := client.MustNew(srv.URL).IssueToken(ctx, "bob", operatorSecret)
	if err != nil {
		t.Fatal(err)
	}
	if tok.TokenType != "Bearer" || tok.AccessToken == "" {
		t.Fatalf("IssueToken: %+v", tok)
	}

	c := client.MustNew(srv.URL, client.WithBearerToken(tok.AccessToken))
	if _, err := c.Append(ctx, appendRequest(uuid.New(), client.RecordTypeWarranty)); err != nil {
		t.Errorf("Append with bearer token: %v", err)
	}
}
