package serviceledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence interface consumed by Ledger.
// MemoryStore, SQLiteStore, and PostgresStore implement it.
type Store interface {
	// Tail returns the record with the highest block number, or (nil, nil)
	// when the ledger is empty.
	Tail(ctx context.Context) (*Record, error)

	// Insert persists a fully formed record. It must return ErrConflict if the
	// record's id, hash, transaction id, or block number already exists, or if
	// its block number is not exactly one above the current tail.
	Insert(ctx context.Context, r *Record) error

	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	GetByHash(ctx context.Context, hash string) (*Record, error)
	GetByBlock(ctx context.Context, blockNumber int64) (*Record, error)

	// MarkVerified sets the verification fields of a record and returns the
	// updated record. It is the only mutation a Store permits.
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time, by string) (*Record, error)

	// Scan calls fn for every record in ascending block order and stops at
	// the first error fn returns.
	Scan(ctx context.Context, fn func(*Record) error) error

	// Find returns records matching f in descending block order.
	Find(ctx context.Context, f Filter) ([]*Record, error)

	// Stats aggregates counts over the store. VerificationRate is left to the caller.
	Stats(ctx context.Context) (*Stats, error)
}

// AppendLocker serialises the read-compute-write sequence of Append.
// Lock blocks until the lock is held or ctx is done and returns the release func.
type AppendLocker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// ProcessLocker serialises appends within a single process.
type ProcessLocker struct {
	ch chan struct{}
}

// NewProcessLocker creates a ProcessLocker.
func NewProcessLocker() *ProcessLocker {
	return &ProcessLocker{ch: make(chan struct{}, 1)}
}

// Lock implements AppendLocker. Unlike sync.Mutex it honours ctx cancellation.
func (l *ProcessLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		return func() { <-l.ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NoopLocker performs no serialisation; appends rely solely on the store's
// uniqueness constraints and the ledger's retry loop.
type NoopLocker struct{}

// Lock implements AppendLocker.
func (NoopLocker) Lock(context.Context) (func(), error) { return func() {}, nil }

// matches reports whether r satisfies every set field of f.
func (f Filter) matches(r *Record) bool {
	if f.OwnerID != uuid.Nil && r.OwnerID != f.OwnerID {
		return false
	}
	if f.VehicleID != uuid.Nil && r.VehicleID != f.VehicleID {
		return false
	}
	if f.RecordType != "" && r.RecordType != f.RecordType {
		return false
	}
	if f.Verified != nil && r.Verified != *f.Verified {
		return false
	}
	if f.ServiceFrom != nil && r.Payload.ServiceDate.Before(*f.ServiceFrom) {
		return false
	}
	if f.ServiceTo != nil && r.Payload.ServiceDate.After(*f.ServiceTo) {
		return false
	}
	return true
}
