package serviceledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenesisHash is the previous-hash value carried by block 1.
// Independent verifiers use it to recognise the first block of the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SystemPrincipal is recorded as VerifiedBy when Verify is called without a caller identity.
const SystemPrincipal = "ledger-system"

// RecordType classifies a service event.
type RecordType string

const (
	RecordTypeServiceHistory RecordType = "service_history"
	RecordTypeMaintenance    RecordType = "maintenance"
	RecordTypeRepair         RecordType = "repair"
	RecordTypeInspection     RecordType = "inspection"
	RecordTypeWarranty       RecordType = "warranty"
)

// RecordTypes lists every valid RecordType in declaration order.
var RecordTypes = []RecordType{
	RecordTypeServiceHistory,
	RecordTypeMaintenance,
	RecordTypeRepair,
	RecordTypeInspection,
	RecordTypeWarranty,
}

// Valid reports whether t is one of the known record types.
func (t RecordType) Valid() bool {
	switch t {
	case RecordTypeServiceHistory, RecordTypeMaintenance, RecordTypeRepair,
		RecordTypeInspection, RecordTypeWarranty:
		return true
	}
	return false
}

// Part is a single itemised part used during a service.
type Part struct {
	Name       string          `json:"name"`
	PartNumber string          `json:"part_number"`
	Quantity   int             `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

// Payload holds the service details of a record. Its JSON encoding is part of
// the hashed content, so field order and tags must not change.
type Payload struct {
	ServiceDate    time.Time       `json:"service_date"`
	Description    string          `json:"description"`
	ServiceKind    string          `json:"service_kind"` // free text, e.g. "oil change"
	Parts          []Part          `json:"parts"`
	LaborHours     float64         `json:"labor_hours"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	Technician     string          `json:"technician"`
	Facility       string          `json:"facility"`
	Odometer       int64           `json:"odometer"`
	NextServiceDue *time.Time      `json:"next_service_due,omitempty"`
}

// Record is one block of the service ledger.
type Record struct {
	ID            uuid.UUID  `json:"id"`
	OwnerID       uuid.UUID  `json:"owner_id"`
	VehicleID     uuid.UUID  `json:"vehicle_id"`
	WorkOrderID   *uuid.UUID `json:"work_order_id,omitempty"`
	RecordType    RecordType `json:"record_type"`
	Payload       Payload    `json:"payload"`
	Timestamp     time.Time  `json:"timestamp"`
	Hash          string     `json:"hash"`
	PreviousHash  string     `json:"previous_hash"`
	BlockNumber   int64      `json:"block_number"`
	TransactionID string     `json:"transaction_id"`
	Verified      bool       `json:"verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	VerifiedBy    string     `json:"verified_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// clone returns a deep copy so callers cannot mutate store-owned state.
func (r *Record) clone() *Record {
	cp := *r
	if r.WorkOrderID != nil {
		id := *r.WorkOrderID
		cp.WorkOrderID = &id
	}
	if r.VerifiedAt != nil {
		at := *r.VerifiedAt
		cp.VerifiedAt = &at
	}
	if r.Payload.Parts != nil {
		cp.Payload.Parts = append([]Part{}, r.Payload.Parts...)
	}
	if r.Payload.NextServiceDue != nil {
		due := *r.Payload.NextServiceDue
		cp.Payload.NextServiceDue = &due
	}
	return &cp
}

// AppendRequest carries the caller-supplied content of a new record.
// Hash, links, and sequencing are always computed by the ledger.
type AppendRequest struct {
	OwnerID     uuid.UUID  `json:"owner_id"`
	VehicleID   uuid.UUID  `json:"vehicle_id"`
	WorkOrderID *uuid.UUID `json:"work_order_id,omitempty"`
	RecordType  RecordType `json:"record_type"`
	Payload     *Payload   `json:"payload"`
}

// Filter selects records in Find. Zero-valued fields do not filter.
// ServiceFrom and ServiceTo are inclusive bounds on Payload.ServiceDate.
type Filter struct {
	OwnerID     uuid.UUID
	VehicleID   uuid.UUID
	RecordType  RecordType
	Verified    *bool
	ServiceFrom *time.Time
	ServiceTo   *time.Time
	Limit       int // 0 = no limit
	Offset      int
}

// Stats summarises the ledger.
type Stats struct {
	Total            int                `json:"total"`
	Verified         int                `json:"verified_count"`
	Pending          int                `json:"pending_count"`
	VerificationRate float64            `json:"verification_rate"`
	LatestBlock      int64              `json:"latest_block_number"`
	FirstRecordAt    *time.Time         `json:"first_record_created_at,omitempty"`
	LastRecordAt     *time.Time         `json:"last_record_created_at,omitempty"`
	ByType           map[RecordType]int `json:"by_type"`
}
