package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/serviceledger/internal/serviceledger"
)

// Wire types shared with the server.
type (
	Record             = serviceledger.Record
	RecordType         = serviceledger.RecordType
	Payload            = serviceledger.Payload
	Part               = serviceledger.Part
	AppendRequest      = serviceledger.AppendRequest
	VerificationResult = serviceledger.VerificationResult
	AuditReport        = serviceledger.AuditReport
	AuditIssue         = serviceledger.AuditIssue
	Stats              = serviceledger.Stats
)

// Record types accepted by the ledger.
const (
	RecordTypeServiceHistory = serviceledger.RecordTypeServiceHistory
	RecordTypeMaintenance    = serviceledger.RecordTypeMaintenance
	RecordTypeRepair         = serviceledger.RecordTypeRepair
	RecordTypeInspection     = serviceledger.RecordTypeInspection
	RecordTypeWarranty       = serviceledger.RecordTypeWarranty
)

// GenesisHash is the previous hash carried by block 1.
const GenesisHash = serviceledger.GenesisHash

// maxResponseBytes bounds every response body read. A full page of records
// fits comfortably.
const maxResponseBytes = 8 << 20

// Overview is the response of GET /api/v1/ledger.
type Overview struct {
	Blocks            int64  `json:"blocks"`
	Root              string `json:"root"`
	GenesisHash       string `json:"genesis_hash"`
	HeadTransactionID string `json:"head_transaction_id,omitempty"`
}

// Filter selects records in Find. Zero-valued fields are omitted.
type Filter struct {
	OwnerID    uuid.UUID
	VehicleID  uuid.UUID
	RecordType RecordType
	Verified   *bool
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func (f Filter) query() url.Values {
	q := url.Values{}
	if f.OwnerID != uuid.Nil {
		q.Set("owner_id", f.OwnerID.String())
	}
	if f.VehicleID != uuid.Nil {
		q.Set("vehicle_id", f.VehicleID.String())
	}
	if f.RecordType != "" {
		q.Set("record_type", string(f.RecordType))
	}
	if f.Verified != nil {
		q.Set("verified", strconv.FormatBool(*f.Verified))
	}
	if f.From != nil {
		q.Set("from", f.From.UTC().Format(time.RFC3339Nano))
	}
	if f.To != nil {
		q.Set("to", f.To.UTC().Format(time.RFC3339Nano))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

// FindResult is one page of records.
type FindResult struct {
	Records []*Record `json:"records"`
	Count   int       `json:"count"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// Token is an operator access token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Client talks to a ledgerd server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
	operator    string
	secret      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithBearerToken attaches a pre-obtained operator token to every request.
// The token is never refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithOperatorCredentials makes the client exchange operator and secret for
// a token before the first write, and again shortly before it expires.
func WithOperatorCredentials(operator, secret string) Option {
	return func(c *Client) error {
		if operator == "" || secret == "" {
			return errors.New("operator and secret are required")
		}
		c.operator, c.secret = operator, secret
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed certificate.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// New creates a Client for the ledger at baseURL.
//
//	c, err := client.New("https://ledger.example.com",
//	    client.WithOperatorCredentials("alice", secret),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Append adds a service record to the ledger.
func (c *Client) Append(ctx context.Context, req AppendRequest) (*Record, error) {
	var rec Record
	if err := c.call(ctx, http.MethodPost, "/api/v1/records", nil, req, &rec, true); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get fetches a record by ID.
func (c *Client) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	var rec Record
	if err := c.call(ctx, http.MethodGet, "/api/v1/records/"+id.String(), nil, nil, &rec, false); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByHash fetches a record by its content hash.
func (c *Client) GetByHash(ctx context.Context, hash string) (*Record, error) {
	var rec Record
	if err := c.call(ctx, http.MethodGet, "/api/v1/hashes/"+url.PathEscape(hash), nil, nil, &rec, false); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetBlock fetches the record at block number n.
func (c *Client) GetBlock(ctx context.Context, n int64) (*Record, error) {
	var rec Record
	if err := c.call(ctx, http.MethodGet, "/api/v1/blocks/"+strconv.FormatInt(n, 10), nil, nil, &rec, false); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Verify asks the ledger to re-check a record. An invalid record is reported
// in the result, not as an error.
func (c *Client) Verify(ctx context.Context, id uuid.UUID) (*VerificationResult, error) {
	var res VerificationResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/records/"+id.String()+"/verify", nil, nil, &res, true); err != nil {
		return nil, err
	}
	return &res, nil
}

// Find lists records matching f, newest block first.
func (c *Client) Find(ctx context.Context, f Filter) (*FindResult, error) {
	var res FindResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/records", f.query(), nil, &res, false); err != nil {
		return nil, err
	}
	return &res, nil
}

// Audit runs a full chain audit on the server.
func (c *Client) Audit(ctx context.Context) (*AuditReport, error) {
	var report AuditReport
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/audit", nil, nil, &report, false); err != nil {
		return nil, err
	}
	return &report, nil
}

// Stats returns the ledger summary.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/stats", nil, nil, &st, false); err != nil {
		return nil, err
	}
	return &st, nil
}

// Overview returns the chain length and root hash.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var ov Overview
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger", nil, nil, &ov, false); err != nil {
		return nil, err
	}
	return &ov, nil
}

// IssueToken exchanges operator credentials for an access token. It does
// not change the client's own token.
func (c *Client) IssueToken(ctx context.Context, operator, secret string) (*Token, error) {
	var tok Token
	body := map[string]string{"operator": operator, "secret": secret}
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/token", nil, body, &tok, false); err != nil {
		return nil, err
	}
	return &tok, nil
}

// ensureToken returns the bearer token for write calls, fetching a new one
// when operator credentials are configured and the cached token is absent or
// near expiry. Returns "" in open mode.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.operator == "" {
		return c.bearerToken, nil
	}
	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}

	tok, err := c.IssueToken(ctx, c.operator, c.secret)
	if err != nil {
		return "", fmt.Errorf("obtain operator token: %w", err)
	}

	// Refresh 60 s before actual expiry to avoid clock-skew failures.
	const refreshBuffer = 60 * time.Second
	c.bearerToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - refreshBuffer)
	return c.bearerToken, nil
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, reqBody, respBody any, auth bool) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if auth {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, body)
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
