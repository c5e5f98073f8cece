package serviceledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// scanBatchSize bounds how many rows SQLiteStore.Scan holds at once.
const scanBatchSize = 500

// sqliteRecord is the gorm row model of the service_ledger table.
type sqliteRecord struct {
	ID            string     `gorm:"primaryKey;size:36"`
	OwnerID       string     `gorm:"size:36;not null;index"`
	VehicleID     string     `gorm:"size:36;not null;index"`
	WorkOrderID   *string    `gorm:"size:36"`
	RecordType    string     `gorm:"not null;index"`
	Payload       string     `gorm:"type:text;not null"`
	ServiceDate   time.Time  `gorm:"not null;index"`
	Timestamp     time.Time  `gorm:"not null"`
	Hash          string     `gorm:"size:64;not null;uniqueIndex"`
	PreviousHash  string     `gorm:"size:64;not null"`
	BlockNumber   int64      `gorm:"not null;uniqueIndex"`
	TransactionID string     `gorm:"not null;uniqueIndex"`
	Verified      bool       `gorm:"not null;index"`
	VerifiedAt    *time.Time
	VerifiedBy    string `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (sqliteRecord) TableName() string { return "service_ledger" }

// SQLiteOptions configures OpenSQLite.
type SQLiteOptions struct {
	Path     string // file path, or ":memory:"
	LogLevel string // silent, error, warn, info
}

// SQLiteStore is an embedded, single-node durable Store backed by SQLite.
// The connection pool is capped at one connection, so SQLite's single-writer
// model and Insert's tail check cannot interleave.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the SQLite database at opts.Path and
// migrates the service_ledger table.
func OpenSQLite(opts SQLiteOptions, logger *zap.Logger) (*SQLiteStore, error) {
	var level gormlogger.LogLevel
	switch opts.LogLevel {
	case "error":
		level = gormlogger.Error
	case "warn":
		level = gormlogger.Warn
	case "info":
		level = gormlogger.Info
	default:
		level = gormlogger.Silent
	}

	db, err := gorm.Open(sqlite.Open(opts.Path+"?_busy_timeout=5000"), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(level),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if err := db.AutoMigrate(&sqliteRecord{}); err != nil {
		return nil, fmt.Errorf("migrate service_ledger: %w", err)
	}

	logger.Info("sqlite ledger store ready", zap.String("path", opts.Path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Tail implements Store.
func (s *SQLiteStore) Tail(ctx context.Context) (*Record, error) {
	var row sqliteRecord
	err := s.db.WithContext(ctx).Order("block_number DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", classifySQLiteError(err))
	}
	return row.toRecord()
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, r *Record) error {
	row, err := newSQLiteRecord(r)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tail int64
		if err := tx.Model(&sqliteRecord{}).
			Select("COALESCE(MAX(block_number), 0)").
			Scan(&tail).Error; err != nil {
			return fmt.Errorf("read ledger tail: %w", classifySQLiteError(err))
		}
		if r.BlockNumber != tail+1 {
			return fmt.Errorf("block %d (tail %d): %w", r.BlockNumber, tail, ErrConflict)
		}

		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("insert block %d: %w", r.BlockNumber, ErrConflict)
			}
			return fmt.Errorf("insert ledger record: %w", classifySQLiteError(err))
		}
		return nil
	})
	return classifySQLiteError(err)
}

// GetByID implements Store.
func (s *SQLiteStore) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.takeOne(ctx, "id = ?", id.String())
}

// GetByHash implements Store.
func (s *SQLiteStore) GetByHash(ctx context.Context, hash string) (*Record, error) {
	return s.takeOne(ctx, "hash = ?", hash)
}

// GetByBlock implements Store.
func (s *SQLiteStore) GetByBlock(ctx context.Context, blockNumber int64) (*Record, error) {
	return s.takeOne(ctx, "block_number = ?", blockNumber)
}

// MarkVerified implements Store.
func (s *SQLiteStore) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time, by string) (*Record, error) {
	res := s.db.WithContext(ctx).Model(&sqliteRecord{}).
		Where("id = ?", id.String()).
		Updates(map[string]any{
			"verified":    true,
			"verified_at": at.UTC(),
			"verified_by": by,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("mark verified: %w", classifySQLiteError(res.Error))
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// Scan implements Store. Rows are read in keyset-paginated batches so the
// single connection is free between batches.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(*Record) error) error {
	var after int64
	for {
		var batch []sqliteRecord
		if err := s.db.WithContext(ctx).
			Where("block_number > ?", after).
			Order("block_number ASC").
			Limit(scanBatchSize).
			Find(&batch).Error; err != nil {
			return fmt.Errorf("query ledger: %w", classifySQLiteError(err))
		}
		for i := range batch {
			r, err := batch[i].toRecord()
			if err != nil {
				return err
			}
			if err := fn(r); err != nil {
				return err
			}
			after = r.BlockNumber
		}
		if len(batch) < scanBatchSize {
			return nil
		}
	}
}

// Find implements Store.
func (s *SQLiteStore) Find(ctx context.Context, f Filter) ([]*Record, error) {
	q := s.db.WithContext(ctx).Model(&sqliteRecord{})
	if f.OwnerID != uuid.Nil {
		q = q.Where("owner_id = ?", f.OwnerID.String())
	}
	if f.VehicleID != uuid.Nil {
		q = q.Where("vehicle_id = ?", f.VehicleID.String())
	}
	if f.RecordType != "" {
		q = q.Where("record_type = ?", string(f.RecordType))
	}
	if f.Verified != nil {
		q = q.Where("verified = ?", *f.Verified)
	}
	if f.ServiceFrom != nil {
		q = q.Where("service_date >= ?", f.ServiceFrom.UTC())
	}
	if f.ServiceTo != nil {
		q = q.Where("service_date <= ?", f.ServiceTo.UTC())
	}
	q = q.Order("block_number DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var rows []sqliteRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query ledger: %w", classifySQLiteError(err))
	}
	records := make([]*Record, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	st := &Stats{ByType: make(map[RecordType]int)}

	var total, verified int64
	if err := db.Model(&sqliteRecord{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count records: %w", classifySQLiteError(err))
	}
	if err := db.Model(&sqliteRecord{}).Where("verified = ?", true).Count(&verified).Error; err != nil {
		return nil, fmt.Errorf("count verified: %w", classifySQLiteError(err))
	}
	st.Total, st.Verified = int(total), int(verified)
	st.Pending = st.Total - st.Verified
	if total == 0 {
		return st, nil
	}

	var counts []struct {
		RecordType string
		N          int
	}
	if err := db.Model(&sqliteRecord{}).
		Select("record_type, COUNT(*) AS n").
		Group("record_type").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count by type: %w", classifySQLiteError(err))
	}
	for _, c := range counts {
		st.ByType[RecordType(c.RecordType)] = c.N
	}

	var first, last sqliteRecord
	if err := db.Order("block_number ASC").Take(&first).Error; err != nil {
		return nil, fmt.Errorf("read first record: %w", classifySQLiteError(err))
	}
	if err := db.Order("block_number DESC").Take(&last).Error; err != nil {
		return nil, fmt.Errorf("read last record: %w", classifySQLiteError(err))
	}
	firstAt, lastAt := first.CreatedAt.UTC(), last.CreatedAt.UTC()
	st.FirstRecordAt, st.LastRecordAt = &firstAt, &lastAt
	st.LatestBlock = last.BlockNumber
	return st, nil
}

func (s *SQLiteStore) takeOne(ctx context.Context, cond string, arg any) (*Record, error) {
	var row sqliteRecord
	err := s.db.WithContext(ctx).Where(cond, arg).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return row.toRecord()
}

// classifySQLiteError marks failures of the database itself, as opposed to
// the query, as ErrStorageUnavailable.
func classifySQLiteError(err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrConflict) {
		return err
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen,
			sqlite3.ErrFull, sqlite3.ErrReadonly, sqlite3.ErrNomem:
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return err
	}
	// database/sql does not export its closed-handle error.
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}

func newSQLiteRecord(r *Record) (*sqliteRecord, error) {
	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	row := &sqliteRecord{
		ID:            r.ID.String(),
		OwnerID:       r.OwnerID.String(),
		VehicleID:     r.VehicleID.String(),
		RecordType:    string(r.RecordType),
		Payload:       string(payloadJSON),
		ServiceDate:   r.Payload.ServiceDate.UTC(),
		Timestamp:     r.Timestamp.UTC(),
		Hash:          r.Hash,
		PreviousHash:  r.PreviousHash,
		BlockNumber:   r.BlockNumber,
		TransactionID: r.TransactionID,
		Verified:      r.Verified,
		VerifiedAt:    r.VerifiedAt,
		VerifiedBy:    r.VerifiedBy,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if r.WorkOrderID != nil {
		wo := r.WorkOrderID.String()
		row.WorkOrderID = &wo
	}
	return row, nil
}

func (row *sqliteRecord) toRecord() (*Record, error) {
	r := &Record{
		RecordType:    RecordType(row.RecordType),
		Timestamp:     row.Timestamp.UTC(),
		Hash:          row.Hash,
		PreviousHash:  row.PreviousHash,
		BlockNumber:   row.BlockNumber,
		TransactionID: row.TransactionID,
		Verified:      row.Verified,
		VerifiedBy:    row.VerifiedBy,
		CreatedAt:     row.CreatedAt.UTC(),
	}
	var err error
	if r.ID, err = uuid.Parse(row.ID); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	if r.OwnerID, err = uuid.Parse(row.OwnerID); err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	if r.VehicleID, err = uuid.Parse(row.VehicleID); err != nil {
		return nil, fmt.Errorf("parse vehicle_id: %w", err)
	}
	if row.WorkOrderID != nil {
		wo, err := uuid.Parse(*row.WorkOrderID)
		if err != nil {
			return nil, fmt.Errorf("parse work_order_id: %w", err)
		}
		r.WorkOrderID = &wo
	}
	if row.VerifiedAt != nil {
		at := row.VerifiedAt.UTC()
		r.VerifiedAt = &at
	}
	if err := json.Unmarshal([]byte(row.Payload), &r.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return r, nil
}
