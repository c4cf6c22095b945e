// ABOUTME: Draft and send-audit persistence for the outbound safety controller
// ABOUTME: Enforces the created -> confirmed -> sent lifecycle at the storage layer

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"unigate/internal/message"
)

// SaveDraft inserts a new outbound draft. Drafts are append-only records;
// only ConfirmDraft and RecordSent mutate them afterwards.
func (s *SQLiteStore) SaveDraft(ctx context.Context, draft *message.Draft) error {
	query := `
		INSERT INTO drafts (id, channel, conversation, body, artifact_path, confirmed, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		draft.ID,
		string(draft.Channel),
		draft.Conversation,
		draft.Body,
		draft.ArtifactPath,
		draft.Confirmed,
		nullTime(draft.SentAt),
		draft.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting draft: %w", err)
	}

	s.logger.Debug("saved draft", "id", draft.ID, "channel", draft.Channel)
	return nil
}

// GetDraft retrieves a draft by ID.
// Returns ErrNotFound if the draft doesn't exist.
func (s *SQLiteStore) GetDraft(ctx context.Context, id string) (*message.Draft, error) {
	row := s.db.QueryRowContext(ctx, draftColumns+` FROM drafts WHERE id = ?`, id)
	draft, err := scanDraft(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying draft: %w", err)
	}
	return draft, nil
}

// ConfirmDraft marks a draft as confirmed. Confirming twice before a send
// is a no-op; confirming after the draft was sent returns ErrInvalidState
// (a sent draft is immutable).
func (s *SQLiteStore) ConfirmDraft(ctx context.Context, id string) error {
	mu := s.idLock(id)
	mu.Lock()
	defer mu.Unlock()

	draft, err := s.GetDraft(ctx, id)
	if err != nil {
		return err
	}
	if draft.Sent() {
		return fmt.Errorf("confirming draft %s: already sent: %w", id, ErrInvalidState)
	}
	if draft.Confirmed {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE drafts SET confirmed = TRUE WHERE id = ?`, id); err != nil {
		return fmt.Errorf("confirming draft: %w", err)
	}

	s.logger.Info("draft confirmed", "id", id, "channel", draft.Channel)
	return nil
}

// RecordSent marks a confirmed draft as sent and writes the audit entry in
// one transaction. Returns ErrInvalidState if the draft is unconfirmed or
// was already sent.
func (s *SQLiteStore) RecordSent(ctx context.Context, id, receiptID string, sentAt time.Time) error {
	mu := s.idLock(id)
	mu.Lock()
	defer mu.Unlock()

	draft, err := s.GetDraft(ctx, id)
	if err != nil {
		return err
	}
	if !draft.Confirmed {
		return fmt.Errorf("recording send for draft %s: not confirmed: %w", id, ErrInvalidState)
	}
	if draft.Sent() {
		return fmt.Errorf("recording send for draft %s: already sent: %w", id, ErrInvalidState)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	sentStr := sentAt.UTC().Format(timeFormat)
	if _, err := tx.ExecContext(ctx, `UPDATE drafts SET sent_at = ? WHERE id = ?`, sentStr, id); err != nil {
		return fmt.Errorf("updating draft sent_at: %w", err)
	}

	auditID := newAuditID(sentAt)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO send_audit (id, draft_id, channel, receipt_id, sent_at) VALUES (?, ?, ?, ?, ?)`,
		auditID, id, string(draft.Channel), nullString(receiptID), sentStr,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing send record: %w", err)
	}

	s.logger.Info("draft sent", "id", id, "channel", draft.Channel, "receipt", receiptID, "audit_id", auditID)
	return nil
}

// ListDrafts returns drafts newest first. With unsentOnly set, drafts that
// already have a sent_at timestamp are excluded.
func (s *SQLiteStore) ListDrafts(ctx context.Context, unsentOnly bool) ([]*message.Draft, error) {
	query := draftColumns + ` FROM drafts`
	if unsentOnly {
		query += ` WHERE sent_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying drafts: %w", err)
	}
	defer rows.Close()

	var out []*message.Draft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning draft: %w", err)
		}
		out = append(out, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating drafts: %w", err)
	}
	return out, nil
}

// ListAudit returns send-audit entries, most recent first.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, draft_id, channel, receipt_id, sent_at FROM send_audit ORDER BY sent_at DESC, id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var channel, sentAt string
		var receipt sql.NullString
		if err := rows.Scan(&entry.ID, &entry.DraftID, &channel, &receipt, &sentAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entry.Channel = message.ParseChannel(channel)
		entry.ReceiptID = receipt.String
		entry.SentAt, err = time.Parse(timeFormat, sentAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit sent_at: %w", err)
		}
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return out, nil
}

const draftColumns = `
	SELECT id, channel, conversation, body, artifact_path, confirmed, sent_at, created_at`

func scanDraft(row rowScanner) (*message.Draft, error) {
	var draft message.Draft
	var channel, createdAt string
	var sentAt sql.NullString

	err := row.Scan(
		&draft.ID,
		&channel,
		&draft.Conversation,
		&draft.Body,
		&draft.ArtifactPath,
		&draft.Confirmed,
		&sentAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	draft.Channel = message.ParseChannel(channel)

	draft.CreatedAt, err = time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sentAt.Valid {
		t, err := time.Parse(timeFormat, sentAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing sent_at: %w", err)
		}
		draft.SentAt = &t
	}

	return &draft, nil
}
