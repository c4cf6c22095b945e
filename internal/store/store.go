// ABOUTME: Store interface and data types for unigate persistence
// ABOUTME: Defines filters, stats, audit types and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"

	"unigate/internal/message"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when a draft operation violates the
// draft lifecycle (e.g. confirming an already-sent draft, or recording
// a send for an unconfirmed draft).
var ErrInvalidState = errors.New("invalid draft state")

// RecentFilter selects messages for Recent queries. Zero values mean
// "no constraint"; Limit <= 0 falls back to DefaultRecentLimit.
type RecentFilter struct {
	Channel message.Channel
	Since   time.Time
	Limit   int
}

// DefaultRecentLimit is used when RecentFilter.Limit is not positive.
const DefaultRecentLimit = 50

// Stats summarizes store contents for the query API and report consumers.
type Stats struct {
	TotalCount       int
	CountByChannel   map[message.Channel]int
	UnprocessedCount int
}

// AuditEntry records one successful outbound transmission.
type AuditEntry struct {
	ID        string
	DraftID   string
	Channel   message.Channel
	ReceiptID string
	SentAt    time.Time
}

// Store defines the interface for message and draft persistence.
//
// SaveMessage is an upsert keyed by the caller-supplied message ID: the
// source of truth for uniqueness is the platform's message id, not arrival
// order, which makes re-ingestion after an adapter crash-and-reconnect safe.
type Store interface {
	// Messages
	SaveMessage(ctx context.Context, msg *message.Message) error
	GetMessage(ctx context.Context, id string) (*message.Message, error)
	Recent(ctx context.Context, filter RecentFilter) ([]*message.Message, error)
	Unprocessed(ctx context.Context) ([]*message.Message, error)
	MarkProcessed(ctx context.Context, id string) error
	Stats(ctx context.Context) (*Stats, error)

	// Outbound drafts
	SaveDraft(ctx context.Context, draft *message.Draft) error
	GetDraft(ctx context.Context, id string) (*message.Draft, error)
	ConfirmDraft(ctx context.Context, id string) error
	RecordSent(ctx context.Context, id, receiptID string, sentAt time.Time) error
	ListDrafts(ctx context.Context, unsentOnly bool) ([]*message.Draft, error)

	// Send audit trail
	ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error)

	// Close releases any resources held by the store
	Close() error
}
