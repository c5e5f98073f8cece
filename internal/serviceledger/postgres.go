package serviceledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is the PostgreSQL advisory lock key used by PostgresLocker.
// It must be identical across every ledger instance sharing a database.
const advisoryLockKey = int64(1_174_209_331)

// recordColumns lists the service_ledger columns in scanRecord order.
const recordColumns = `id, owner_id, vehicle_id, work_order_id, record_type, payload,
	timestamp, hash, previous_hash, block_number, transaction_id,
	verified, verified_at, verified_by, created_at`

// PostgresStore persists the service ledger to PostgreSQL.
// Block number, hash, and transaction id carry UNIQUE constraints; see
// migrations/001_service_ledger.up.sql.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Tail implements Store.
func (s *PostgresStore) Tail(ctx context.Context) (*Record, error) {
	r, err := s.queryOne(ctx,
		`SELECT `+recordColumns+` FROM service_ledger ORDER BY block_number DESC LIMIT 1`)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// Insert implements Store. The tail check and the insert share one
// transaction; a concurrent writer that slips between them is stopped by the
// block_number UNIQUE constraint.
func (s *PostgresStore) Insert(ctx context.Context, r *Record) error {
	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classifyPgError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var tail int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(block_number), 0) FROM service_ledger`,
	).Scan(&tail); err != nil {
		return fmt.Errorf("read ledger tail: %w", classifyPgError(err))
	}
	if r.BlockNumber != tail+1 {
		s.logger.Debug("ledger tail moved before insert",
			zap.Int64("block", r.BlockNumber),
			zap.Int64("tail", tail),
		)
		return fmt.Errorf("block %d (tail %d): %w", r.BlockNumber, tail, ErrConflict)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO service_ledger (
			id, owner_id, vehicle_id, work_order_id, record_type, payload, service_date,
			timestamp, hash, previous_hash, block_number, transaction_id,
			verified, verified_at, verified_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.OwnerID, r.VehicleID, r.WorkOrderID, string(r.RecordType), payloadJSON,
		r.Payload.ServiceDate, r.Timestamp, r.Hash, r.PreviousHash, r.BlockNumber,
		r.TransactionID, r.Verified, r.VerifiedAt, r.VerifiedBy, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert ledger record: %w", classifyPgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", classifyPgError(err))
	}
	return nil
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM service_ledger WHERE id = $1`, id)
}

// GetByHash implements Store.
func (s *PostgresStore) GetByHash(ctx context.Context, hash string) (*Record, error) {
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM service_ledger WHERE hash = $1`, hash)
}

// GetByBlock implements Store.
func (s *PostgresStore) GetByBlock(ctx context.Context, blockNumber int64) (*Record, error) {
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM service_ledger WHERE block_number = $1`, blockNumber)
}

// MarkVerified implements Store.
func (s *PostgresStore) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time, by string) (*Record, error) {
	return s.queryOne(ctx,
		`UPDATE service_ledger SET verified = true, verified_at = $2, verified_by = $3
		 WHERE id = $1
		 RETURNING `+recordColumns,
		id, at, by,
	)
}

// Scan implements Store. Rows are streamed; memory use is constant in ledger length.
func (s *PostgresStore) Scan(ctx context.Context, fn func(*Record) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM service_ledger ORDER BY block_number ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", classifyPgError(err))
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return classifyPgError(rows.Err())
}

// Find implements Store.
func (s *PostgresStore) Find(ctx context.Context, f Filter) ([]*Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != uuid.Nil {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.VehicleID != uuid.Nil {
		add("vehicle_id = $%d", f.VehicleID)
	}
	if f.RecordType != "" {
		add("record_type = $%d", string(f.RecordType))
	}
	if f.Verified != nil {
		add("verified = $%d", *f.Verified)
	}
	if f.ServiceFrom != nil {
		add("service_date >= $%d", *f.ServiceFrom)
	}
	if f.ServiceTo != nil {
		add("service_date <= $%d", *f.ServiceTo)
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + recordColumns + ` FROM service_ledger`)
	if len(conds) > 0 {
		q.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	q.WriteString(" ORDER BY block_number DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&q, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&q, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", classifyPgError(err))
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		records = append(records, r)
	}
	return records, classifyPgError(rows.Err())
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByType: make(map[RecordType]int)}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE verified), COALESCE(MAX(block_number), 0),
		        MIN(created_at), MAX(created_at)
		 FROM service_ledger`,
	).Scan(&st.Total, &st.Verified, &st.LatestBlock, &st.FirstRecordAt, &st.LastRecordAt); err != nil {
		return nil, fmt.Errorf("aggregate ledger: %w", classifyPgError(err))
	}
	st.Pending = st.Total - st.Verified

	rows, err := s.pool.Query(ctx,
		`SELECT record_type, COUNT(*) FROM service_ledger GROUP BY record_type`)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", classifyPgError(err))
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		st.ByType[RecordType(t)] = n
	}
	return st, classifyPgError(rows.Err())
}

// queryOne runs a single-row query and maps pgx.ErrNoRows to ErrNotFound.
func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (*Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyPgError(err)
	}
	return r, nil
}

// scanRecord reads one row laid out as recordColumns.
func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r          Record
		recordType string
		payloadRaw []byte
	)
	if err := row.Scan(
		&r.ID, &r.OwnerID, &r.VehicleID, &r.WorkOrderID, &recordType, &payloadRaw,
		&r.Timestamp, &r.Hash, &r.PreviousHash, &r.BlockNumber, &r.TransactionID,
		&r.Verified, &r.VerifiedAt, &r.VerifiedBy, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.RecordType = RecordType(recordType)
	if err := json.Unmarshal(payloadRaw, &r.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	r.Timestamp = r.Timestamp.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// classifyPgError maps driver errors onto the ledger's error taxonomy.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("unique violation on %s: %w", pgErr.ConstraintName, ErrConflict)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}

// PostgresLocker serialises appends across every process sharing the
// database with a session-level advisory lock.
type PostgresLocker struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLocker creates a PostgresLocker.
func NewPostgresLocker(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLocker {
	return &PostgresLocker{pool: pool, logger: logger}
}

// Lock implements AppendLocker. The lock lives on one pooled connection,
// which is held until unlock.
func (l *PostgresLocker) Lock(ctx context.Context) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", classifyPgError(err))
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", classifyPgError(err))
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockKey); err != nil {
			l.logger.Error("release advisory lock; closing connection", zap.Error(err))
			// Closing the session drops every advisory lock it holds.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}
