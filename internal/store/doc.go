// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The Store interface covers two concerns:
//
//   - Inbound messages: deduplicating upserts keyed by the platform message
//     id, indexed retrieval (Recent, Unprocessed), processing bookkeeping
//     (MarkProcessed), and Stats for the read-only query API.
//   - Outbound drafts: the created -> confirmed -> sent lifecycle plus an
//     append-only send-audit trail.
//
// SQLiteStore implements the interface using modernc.org/sqlite.
//
// # Write semantics
//
// SaveMessage is INSERT OR REPLACE: saving the same id twice leaves exactly
// one row, with the second save's values winning. Writes and reads for the
// same id are serialized through striped mutexes; operations on different
// ids run concurrently. MarkProcessed never overwrites an existing
// processed_at timestamp, so processing happens exactly once unless a
// caller explicitly re-ingests.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests that don't need a file on disk.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrInvalidState: Draft lifecycle violation (confirm after send,
//     record-sent without confirmation)
//
// All methods accept context.Context for cancellation support.
package store
