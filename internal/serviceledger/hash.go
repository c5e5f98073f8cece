package serviceledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HashRecord computes the content hash of a record from its owner, vehicle,
// type, payload, and timestamp. Links and sequencing are not part of the hash.
func HashRecord(ownerID, vehicleID uuid.UUID, recordType RecordType, payload Payload, timestamp time.Time) (string, error) {
	// nil and empty parts must hash alike.
	if payload.Parts == nil {
		payload.Parts = []Part{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		ownerID, vehicleID, recordType, payloadJSON,
		timestamp.UTC().Format(time.RFC3339Nano),
	)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashOf recomputes the hash of a stored record.
func hashOf(r *Record) (string, error) {
	return HashRecord(r.OwnerID, r.VehicleID, r.RecordType, r.Payload, r.Timestamp)
}

// canonicalTime drops the monotonic clock reading and sub-microsecond digits
// so a timestamp survives a round trip through any of the stores unchanged.
func canonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// normalizePayload returns a copy of p with every time in UTC at microsecond
// precision and a non-nil parts list.
func normalizePayload(p Payload) Payload {
	p.ServiceDate = canonicalTime(p.ServiceDate)
	if p.NextServiceDue != nil {
		due := canonicalTime(*p.NextServiceDue)
		p.NextServiceDue = &due
	}
	if p.Parts == nil {
		p.Parts = []Part{}
	} else {
		p.Parts = append([]Part(nil), p.Parts...)
	}
	return p
}

// newTransactionID returns "TX-<unix millis>-<8 uppercase hex>".
// Uniqueness is enforced by the store, not relied on here.
func newTransactionID(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("TX-%d-%s", now.UnixMilli(), strings.ToUpper(hex.EncodeToString(b))), nil
}
