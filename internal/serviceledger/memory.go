package serviceledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record // records[i] holds block i+1
	byID    map[uuid.UUID]*Record
	byHash  map[string]*Record
	byTx    map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[uuid.UUID]*Record),
		byHash: make(map[string]*Record),
		byTx:   make(map[string]*Record),
	}
}

// Tail implements Store.
func (s *MemoryStore) Tail(_ context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, nil
	}
	return s.records[len(s.records)-1].clone(), nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.BlockNumber != int64(len(s.records))+1 {
		return fmt.Errorf("block %d (tail %d): %w", r.BlockNumber, len(s.records), ErrConflict)
	}
	if _, ok := s.byID[r.ID]; ok {
		return fmt.Errorf("duplicate id %s: %w", r.ID, ErrConflict)
	}
	if _, ok := s.byHash[r.Hash]; ok {
		return fmt.Errorf("duplicate hash %s: %w", r.Hash, ErrConflict)
	}
	if _, ok := s.byTx[r.TransactionID]; ok {
		return fmt.Errorf("duplicate transaction id %s: %w", r.TransactionID, ErrConflict)
	}

	cp := r.clone()
	s.records = append(s.records, cp)
	s.byID[cp.ID] = cp
	s.byHash[cp.Hash] = cp
	s.byTx[cp.TransactionID] = cp
	return nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

// GetByHash implements Store.
func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

// GetByBlock implements Store.
func (s *MemoryStore) GetByBlock(_ context.Context, blockNumber int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if blockNumber < 1 || blockNumber > int64(len(s.records)) {
		return nil, ErrNotFound
	}
	return s.records[blockNumber-1].clone(), nil
}

// MarkVerified implements Store.
func (s *MemoryStore) MarkVerified(_ context.Context, id uuid.UUID, at time.Time, by string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Verified = true
	r.VerifiedAt = &at
	r.VerifiedBy = by
	return r.clone(), nil
}

// Scan implements Store. The snapshot is taken up front so fn may call back
// into the store without deadlocking.
func (s *MemoryStore) Scan(ctx context.Context, fn func(*Record) error) error {
	s.mu.RLock()
	snapshot := make([]*Record, len(s.records))
	for i, r := range s.records {
		snapshot[i] = r.clone()
	}
	s.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	skipped := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !f.matches(r) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, r.clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{Total: len(s.records), ByType: make(map[RecordType]int)}
	for _, r := range s.records {
		if r.Verified {
			st.Verified++
		}
		st.ByType[r.RecordType]++
	}
	st.Pending = st.Total - st.Verified
	if n := len(s.records); n > 0 {
		first, last := s.records[0].CreatedAt, s.records[n-1].CreatedAt
		st.FirstRecordAt = &first
		st.LastRecordAt = &last
		st.LatestBlock = s.records[n-1].BlockNumber
	}
	return st, nil
}

// Tamper overwrites a stored record in place, bypassing every invariant.
// It exists so integrity checks can be exercised against a corrupted ledger.
func (s *MemoryStore) Tamper(id uuid.UUID, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	mutate(r)
	return nil
}
