// Package store provides the SQLite-backed document store beneath the
// record, cache, and ledger components. It is the only package that
// issues SQL.
//
// The store offers document-level atomicity: each Put/Delete on a single
// row is atomic, and conditional single-row UPDATEs act as
// compare-and-swap. Chunk groups are written row by row; the records
// package orders those writes so a header never precedes its chunks.
//
// # Critical Patterns
//
// Winner-takes-all transitions
//   - Payment settlement and promo redemption use
//     UPDATE ... WHERE <guard> and check RowsAffected
//   - Only the caller whose UPDATE applied performs follow-on credits
//
// Guarded decrements
//   - Debits run UPDATE ... SET balance = balance - ? WHERE balance >= ?
//   - Balances are never read-modify-written in Go
//
// Deterministic listings
//   - Record listings use ORDER BY created_at ASC, id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as Unix milliseconds. Money is stored as integer
// cents; conversion to decimals happens in the ledger package.
package store
