package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/serviceledger/internal/identity"
	"github.com/jmerrifield20/serviceledger/internal/serviceledger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Ledger is the subset of *serviceledger.Ledger the HTTP layer uses.
type Ledger interface {
	Append(ctx context.Context, req serviceledger.AppendRequest) (*serviceledger.Record, error)
	Verify(ctx context.Context, id uuid.UUID, principal string) (*serviceledger.VerificationResult, error)
	AuditChain(ctx context.Context) (*serviceledger.AuditReport, error)
	Find(ctx context.Context, f serviceledger.Filter) ([]*serviceledger.Record, error)
	Stats(ctx context.Context) (*serviceledger.Stats, error)
	GetByID(ctx context.Context, id uuid.UUID) (*serviceledger.Record, error)
	GetByHash(ctx context.Context, hash string) (*serviceledger.Record, error)
	GetByBlock(ctx context.Context, blockNumber int64) (*serviceledger.Record, error)
	Head(ctx context.Context) (*serviceledger.Record, error)
}

// RecordHandler exposes the service records of the ledger.
type RecordHandler struct {
	ledger Ledger
	tokens *identity.TokenIssuer // nil = open mode
	logger *zap.Logger
}

// NewRecordHandler creates a RecordHandler. Appends and verifications require
// an operator token unless tokens is nil.
func NewRecordHandler(ledger Ledger, tokens *identity.TokenIssuer, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{ledger: ledger, tokens: tokens, logger: logger}
}

// Register mounts the record routes on the given router group.
func (h *RecordHandler) Register(rg *gin.RouterGroup) {
	operator := identity.RequireOperator(h.tokens)

	r := rg.Group("/records")
	{
		r.POST("", operator, h.Append)
		r.GET("", h.Find)
		r.GET("/:id", h.Get)
		r.POST("/:id/verify", operator, h.Verify)
	}
	rg.GET("/hashes/:hash", h.GetByHash)
	rg.GET("/blocks/:n", h.GetByBlock)
}

// Append handles POST /records.
func (h *RecordHandler) Append(c *gin.Context) {
	var req serviceledger.AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	rec, err := h.ledger.Append(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "append record", err)
		return
	}

	h.logger.Info("service record appended",
		zap.Int64("block", rec.BlockNumber),
		zap.String("id", rec.ID.String()),
		zap.String("vehicle_id", rec.VehicleID.String()),
		zap.String("operator", identity.PrincipalFromCtx(c)),
	)
	c.JSON(http.StatusCreated, rec)
}

// Get handles GET /records/:id.
func (h *RecordHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.ledger.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "get record", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetByHash handles GET /hashes/:hash.
func (h *RecordHandler) GetByHash(c *gin.Context) {
	rec, err := h.ledger.GetByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		writeError(c, h.logger, "get record by hash", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetByBlock handles GET /blocks/:n.
func (h *RecordHandler) GetByBlock(c *gin.Context) {
	n, err := strconv.ParseInt(c.Param("n"), 10, 64)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "block number must be a positive integer"})
		return
	}
	rec, err := h.ledger.GetByBlock(c.Request.Context(), n)
	if err != nil {
		writeError(c, h.logger, "get block", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Verify handles POST /records/:id/verify. A record that fails verification
// is still a 200; the result body says why.
func (h *RecordHandler) Verify(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	res, err := h.ledger.Verify(c.Request.Context(), id, identity.PrincipalFromCtx(c))
	if err != nil {
		writeError(c, h.logger, "verify record", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Find handles GET /records. Query parameters: owner_id, vehicle_id,
// record_type, verified, from, to (RFC 3339 or YYYY-MM-DD), limit, offset.
func (h *RecordHandler) Find(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.ledger.Find(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.logger, "find records", err)
		return
	}
	if records == nil {
		records = []*serviceledger.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(c *gin.Context) (serviceledger.Filter, error) {
	f := serviceledger.Filter{
		RecordType: serviceledger.RecordType(c.Query("record_type")),
	}

	var err error
	if v := c.Query("owner_id"); v != "" {
		if f.OwnerID, err = uuid.Parse(v); err != nil {
			return f, &serviceledger.ValidationError{Field: "owner_id", Msg: "must be a UUID"}
		}
	}
	if v := c.Query("vehicle_id"); v != "" {
		if f.VehicleID, err = uuid.Parse(v); err != nil {
			return f, &serviceledger.ValidationError{Field: "vehicle_id", Msg: "must be a UUID"}
		}
	}
	if v := c.Query("verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, &serviceledger.ValidationError{Field: "verified", Msg: "must be true or false"}
		}
		f.Verified = &b
	}
	if v := c.Query("from"); v != "" {
		t, _, err := parseTime(v)
		if err != nil {
			return f, &serviceledger.ValidationError{Field: "from", Msg: "must be RFC 3339 or YYYY-MM-DD"}
		}
		f.ServiceFrom = &t
	}
	if v := c.Query("to"); v != "" {
		t, dateOnly, err := parseTime(v)
		if err != nil {
			return f, &serviceledger.ValidationError{Field: "to", Msg: "must be RFC 3339 or YYYY-MM-DD"}
		}
		if dateOnly {
			// A bare date covers the whole day.
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		f.ServiceTo = &t
	}

	f.Limit = defaultPageSize
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit <= 0 {
			return f, &serviceledger.ValidationError{Field: "limit", Msg: "must be a positive integer"}
		}
		f.Limit = min(f.Limit, maxPageSize)
	}
	if v := c.Query("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
			return f, &serviceledger.ValidationError{Field: "offset", Msg: "must be a non-negative integer"}
		}
	}
	return f, nil
}

// parseTime accepts RFC 3339 or YYYY-MM-DD and reports which form matched.
func parseTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	return t, true, err
}
