// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides deduplicating message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"unigate/internal/message"
)

// lockStripes is the number of per-id mutex stripes. Writes to the same
// message id are mutually exclusive; writes to different ids proceed
// concurrently. This preserves the upsert invariant under concurrent
// retries from a flapping adapter.
const lockStripes = 64

// timeFormat is fixed width so the TEXT columns compare in time order.
// RFC3339Nano trims trailing fractional zeros, which breaks lexicographic
// ordering for sub-second timestamps. Values are always stored in UTC.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	locks  [lockStripes]sync.Mutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			channel_conversation TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_name TEXT,
			body TEXT,
			kind TEXT DEFAULT 'text',
			occurred_at DATETIME NOT NULL,
			is_group BOOLEAN DEFAULT FALSE,
			is_mention BOOLEAN DEFAULT FALSE,
			reply_to_id TEXT,
			media_refs TEXT,
			raw TEXT,
			priority TEXT,
			has_action BOOLEAN DEFAULT FALSE,
			processed_at DATETIME,
			received_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel);
		CREATE INDEX IF NOT EXISTS idx_messages_occurred ON messages(occurred_at DESC);
		CREATE INDEX IF NOT EXISTS idx_messages_priority ON messages(priority);
		CREATE INDEX IF NOT EXISTS idx_messages_processed ON messages(processed_at);

		CREATE TABLE IF NOT EXISTS drafts (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			conversation TEXT NOT NULL,
			body TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			confirmed BOOLEAN DEFAULT FALSE,
			sent_at DATETIME,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_drafts_channel ON drafts(channel);
		CREATE INDEX IF NOT EXISTS idx_drafts_sent ON drafts(sent_at);

		CREATE TABLE IF NOT EXISTS send_audit (
			id TEXT PRIMARY KEY,
			draft_id TEXT NOT NULL REFERENCES drafts(id),
			channel TEXT NOT NULL,
			receipt_id TEXT,
			sent_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_send_audit_draft ON send_audit(draft_id);
		CREATE INDEX IF NOT EXISTS idx_send_audit_sent ON send_audit(sent_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// idLock returns the mutex stripe for a message or draft id.
func (s *SQLiteStore) idLock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// SaveMessage upserts a message keyed by its ID. A second save with the
// same ID replaces the prior row; it never errors on duplicates. This is
// what makes ingestion idempotent under adapter retries.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *message.Message) error {
	mu := s.idLock(msg.ID)
	mu.Lock()
	defer mu.Unlock()

	mediaRefs, err := encodeMediaRefs(msg.MediaRefs)
	if err != nil {
		return fmt.Errorf("encoding media refs: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO messages (
			id, channel, channel_conversation, sender_id, sender_name,
			body, kind, occurred_at, is_group, is_mention, reply_to_id,
			media_refs, raw, priority, has_action, processed_at, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		string(msg.Channel),
		msg.Conversation,
		msg.SenderID,
		nullString(msg.SenderName),
		msg.Body,
		string(msg.Kind),
		msg.OccurredAt.UTC().Format(timeFormat),
		msg.IsGroup,
		msg.IsMention,
		nullString(msg.ReplyToID),
		mediaRefs,
		nullRaw(msg.Raw),
		nullPriority(msg.Priority),
		msg.HasAction,
		nullTime(msg.ProcessedAt),
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "channel", msg.Channel)
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*message.Message, error) {
	mu := s.idLock(id)
	mu.Lock()
	defer mu.Unlock()

	row := s.db.QueryRowContext(ctx, messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// Recent returns messages newest first. Ordering is deterministic:
// ties on occurred_at are broken by id ascending.
func (s *SQLiteStore) Recent(ctx context.Context, filter RecentFilter) ([]*message.Message, error) {
	query := messageColumns + ` FROM messages WHERE 1=1`
	var args []any

	if filter.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(filter.Channel))
	}
	if !filter.Since.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, filter.Since.UTC().Format(timeFormat))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	query += ` ORDER BY occurred_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	return s.queryMessages(ctx, query, args...)
}

// Unprocessed returns messages without a processed_at timestamp, oldest first.
func (s *SQLiteStore) Unprocessed(ctx context.Context) ([]*message.Message, error) {
	query := messageColumns + `
		FROM messages
		WHERE processed_at IS NULL
		ORDER BY occurred_at ASC, id ASC
	`
	return s.queryMessages(ctx, query)
}

// MarkProcessed sets processed_at for a message. Setting it twice is a
// no-op, not an error; an unknown id returns ErrNotFound. Re-processing
// must be explicit, so the original timestamp is never overwritten.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string) error {
	mu := s.idLock(id)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET processed_at = COALESCE(processed_at, ?) WHERE id = ?`,
		time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("marking processed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats returns message counts for the query API.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{CountByChannel: make(map[message.Channel]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.TotalCount); err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT channel, COUNT(*) FROM messages GROUP BY channel`)
	if err != nil {
		return nil, fmt.Errorf("counting by channel: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var channel string
		var count int
		if err := rows.Scan(&channel, &count); err != nil {
			return nil, fmt.Errorf("scanning channel count: %w", err)
		}
		stats.CountByChannel[message.Channel(channel)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channel counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE processed_at IS NULL`,
	).Scan(&stats.UnprocessedCount); err != nil {
		return nil, fmt.Errorf("counting unprocessed: %w", err)
	}

	return stats, nil
}

// messageColumns is the shared SELECT column list for message scans.
const messageColumns = `
	SELECT id, channel, channel_conversation, sender_id, sender_name,
		body, kind, occurred_at, is_group, is_mention, reply_to_id,
		media_refs, raw, priority, has_action, processed_at`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage reads one message row.
func scanMessage(row rowScanner) (*message.Message, error) {
	var msg message.Message
	var channel, kind string
	var senderName, replyTo, mediaRefs, raw, priority, processedAt sql.NullString
	var occurredAt string

	err := row.Scan(
		&msg.ID,
		&channel,
		&msg.Conversation,
		&msg.SenderID,
		&senderName,
		&msg.Body,
		&kind,
		&occurredAt,
		&msg.IsGroup,
		&msg.IsMention,
		&replyTo,
		&mediaRefs,
		&raw,
		&priority,
		&msg.HasAction,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Channel = message.ParseChannel(channel)
	msg.Kind = message.Kind(kind)
	msg.SenderName = senderName.String
	msg.ReplyToID = replyTo.String

	msg.OccurredAt, err = time.Parse(timeFormat, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("parsing occurred_at: %w", err)
	}

	if mediaRefs.Valid && mediaRefs.String != "" {
		if err := json.Unmarshal([]byte(mediaRefs.String), &msg.MediaRefs); err != nil {
			return nil, fmt.Errorf("decoding media refs: %w", err)
		}
	}
	if raw.Valid {
		msg.Raw = json.RawMessage(raw.String)
	}
	if priority.Valid && priority.String != "" {
		msg.Priority = message.Priority(priority.String)
	} else {
		msg.Priority = message.PriorityNone
	}
	if processedAt.Valid {
		t, err := time.Parse(timeFormat, processedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}
		msg.ProcessedAt = &t
	}

	return &msg, nil
}

// queryMessages runs a message SELECT and scans all rows.
func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*message.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []*message.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

func encodeMediaRefs(refs []string) (sql.NullString, error) {
	if len(refs) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullPriority stores PriorityNone as NULL, matching the schema default.
func nullPriority(p message.Priority) sql.NullString {
	if p == "" || p == message.PriorityNone {
		return sql.NullString{}
	}
	return sql.NullString{String: string(p), Valid: true}
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}
