package serviceledger

import "errors"

var (
	// ErrNotFound is returned when a record id, hash, or block does not exist.
	ErrNotFound = errors.New("ledger record not found")

	// ErrInvalidInput is matched by every *ValidationError.
	ErrInvalidInput = errors.New("invalid ledger input")

	// ErrConflict is returned by a Store when an insert loses the race for a
	// block position, or its hash or transaction id already exists.
	ErrConflict = errors.New("ledger append conflict")

	// ErrAppendFailed is returned by Append after exhausting its retries on ErrConflict.
	ErrAppendFailed = errors.New("ledger append failed")

	// ErrStorageUnavailable is returned when the backing store cannot be reached.
	ErrStorageUnavailable = errors.New("ledger storage unavailable")
)

// ValidationError describes a missing or malformed field on an append or query.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// Is makes errors.Is(err, ErrInvalidInput) true for validation errors.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }
