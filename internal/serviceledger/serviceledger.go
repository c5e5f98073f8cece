// Package serviceledger implements an append-only, hash-linked ledger of
// vehicle-service events (maintenance, repair, inspection, warranty).
//
// Every record carries the SHA-256 of its own content and the hash of the
// record one block below it. Block 1 links to GenesisHash (64 hex zeros).
// Tampering with a stored record is detected by Verify (single record) or
// AuditChain (full sweep).
//
// Three Store implementations are provided:
//   - MemoryStore: in-process, for testing and development.
//   - SQLiteStore: embedded single-node durable store (gorm).
//   - PostgresStore: durable, for production use.
//
// Appends are serialised by an AppendLocker and guarded by the store's
// uniqueness constraints; a losing concurrent append is retried a bounded
// number of times.
package serviceledger
