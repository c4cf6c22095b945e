package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unigate/internal/message"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func testMessage(id string, occurredAt time.Time) *message.Message {
	return &message.Message{
		ID:           id,
		Channel:      message.ChannelTelegram,
		Conversation: "chat-1",
		SenderID:     "user-1",
		SenderName:   "Alice",
		Body:         "hello",
		Kind:         message.KindText,
		OccurredAt:   occurredAt,
		Priority:     message.PriorityNone,
	}
}

func TestStore_SaveMessage_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	occurred := time.Now().UTC().Truncate(time.Millisecond)
	msg := testMessage("telegram:1", occurred)
	msg.IsGroup = true
	msg.IsMention = true
	msg.ReplyToID = "telegram:0"
	msg.MediaRefs = []string{"file-abc", "file-def"}
	msg.Raw = json.RawMessage(`{"message_id":1}`)

	require.NoError(t, store.SaveMessage(ctx, msg))

	got, err := store.GetMessage(ctx, "telegram:1")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, message.ChannelTelegram, got.Channel)
	assert.Equal(t, "chat-1", got.Conversation)
	assert.Equal(t, "Alice", got.SenderName)
	assert.True(t, got.OccurredAt.Equal(occurred))
	assert.True(t, got.IsGroup)
	assert.True(t, got.IsMention)
	assert.Equal(t, "telegram:0", got.ReplyToID)
	assert.Equal(t, []string{"file-abc", "file-def"}, got.MediaRefs)
	assert.JSONEq(t, `{"message_id":1}`, string(got.Raw))
	assert.Equal(t, message.PriorityNone, got.Priority)
	assert.Nil(t, got.ProcessedAt)
}

func TestStore_SaveMessage_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	occurred := time.Now().UTC()
	msg := testMessage("telegram:1", occurred)
	require.NoError(t, store.SaveMessage(ctx, msg))

	// Second save with modified payload replaces the row, never duplicates.
	msg.Body = "hello again"
	require.NoError(t, store.SaveMessage(ctx, msg))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCount)

	got, err := store.GetMessage(ctx, "telegram:1")
	require.NoError(t, err)
	assert.Equal(t, "hello again", got.Body, "second save's values win")
}

func TestStore_GetMessage_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetMessage(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DedupUnderReconnectStorm(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Simulate an adapter replaying the same 50 messages 3 times.
	base := time.Now().UTC().Add(-time.Hour)
	for round := 0; round < 3; round++ {
		for i := 0; i < 50; i++ {
			msg := testMessage(fmt.Sprintf("telegram:%d", i), base.Add(time.Duration(i)*time.Second))
			require.NoError(t, store.SaveMessage(ctx, msg))
		}
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, stats.TotalCount)
	assert.Equal(t, 50, stats.CountByChannel[message.ChannelTelegram])
}

func TestStore_Recent_OrderingAndTieBreak(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Two messages share an occurred_at; tie broken by id ascending.
	require.NoError(t, store.SaveMessage(ctx, testMessage("telegram:b", base)))
	require.NoError(t, store.SaveMessage(ctx, testMessage("telegram:a", base)))
	require.NoError(t, store.SaveMessage(ctx, testMessage("telegram:c", base.Add(time.Minute))))

	msgs, err := store.Recent(ctx, RecentFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "telegram:c", msgs[0].ID)
	assert.Equal(t, "telegram:a", msgs[1].ID)
	assert.Equal(t, "telegram:b", msgs[2].ID)

	// Identical store state and filter must return identical results.
	again, err := store.Recent(ctx, RecentFilter{Limit: 10})
	require.NoError(t, err)
	for i := range msgs {
		assert.Equal(t, msgs[i].ID, again[i].ID)
	}
}

func TestStore_Recent_SubSecondOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// RFC3339Nano would render these "…:00.1Z", "…:00.15Z", "…:00Z",
	// which sort out of time order as text. The fixed-width format must
	// keep them in time order.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveMessage(ctx, testMessage("telegram:whole", base)))
	require.NoError(t, store.SaveMessage(ctx, testMessage("telegram:tenth", base.Add(100*time.Millisecond))))
	require.NoError(t, store.SaveMessage(ctx, testMessage("telegram:later", base.Add(150*time.Millisecond))))

	msgs, err := store.Recent(ctx, RecentFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "telegram:later", msgs[0].ID)
	assert.Equal(t, "telegram:tenth", msgs[1].ID)
	assert.Equal(t, "telegram:whole", msgs[2].ID)

	// Since must compare in time order as well.
	since, err := store.Recent(ctx, RecentFilter{Since: base.Add(120 * time.Millisecond), Limit: 10})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "telegram:later", since[0].ID)

	oldest, err := store.Unprocessed(ctx)
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	assert.Equal(t, "telegram:whole", oldest[0].ID)
}

func TestStore_Recent_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tg := testMessage("telegram:1", base)
	dc := testMessage("discord:1", base.Add(time.Hour))
	dc.Channel = message.ChannelDiscord
	require.NoError(t, store.SaveMessage(ctx, tg))
	require.NoError(t, store.SaveMessage(ctx, dc))

	byChannel, err := store.Recent(ctx, RecentFilter{Channel: message.ChannelDiscord, Limit: 10})
	require.NoError(t, err)
	require.Len(t, byChannel, 1)
	assert.Equal(t, "discord:1", byChannel[0].ID)

	since, err := store.Recent(ctx, RecentFilter{Since: base.Add(30 * time.Minute), Limit: 10})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "discord:1", since[0].ID)

	limited, err := store.Recent(ctx, RecentFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "discord:1", limited[0].ID, "newest first")
}

func TestStore_MarkProcessed(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	msg := testMessage("telegram:1", time.Now().UTC())
	require.NoError(t, store.SaveMessage(ctx, msg))

	unprocessed, err := store.Unprocessed(ctx)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)

	require.NoError(t, store.MarkProcessed(ctx, "telegram:1"))

	unprocessed, err = store.Unprocessed(ctx)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	got, err := store.GetMessage(ctx, "telegram:1")
	require.NoError(t, err)
	require.NotNil(t, got.ProcessedAt)
	first := *got.ProcessedAt

	// Second call is a no-op, not an error, and does not move the timestamp.
	require.NoError(t, store.MarkProcessed(ctx, "telegram:1"))
	got, err = store.GetMessage(ctx, "telegram:1")
	require.NoError(t, err)
	assert.True(t, got.ProcessedAt.Equal(first))
}

func TestStore_MarkProcessed_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.MarkProcessed(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Unprocessed_OldestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveMessage(ctx, testMessage("telegram:2", base.Add(time.Minute))))
	require.NoError(t, store.SaveMessage(ctx, testMessage("telegram:1", base)))

	msgs, err := store.Unprocessed(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "telegram:1", msgs[0].ID)
	assert.Equal(t, "telegram:2", msgs[1].ID)
}

func TestStore_Stats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, store.SaveMessage(ctx, testMessage("telegram:1", base)))
	dc := testMessage("discord:1", base)
	dc.Channel = message.ChannelDiscord
	require.NoError(t, store.SaveMessage(ctx, dc))
	require.NoError(t, store.MarkProcessed(ctx, "telegram:1"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1, stats.CountByChannel[message.ChannelTelegram])
	assert.Equal(t, 1, stats.CountByChannel[message.ChannelDiscord])
	assert.Equal(t, 1, stats.UnprocessedCount)
}

func TestStore_ConcurrentSavesSameID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	occurred := time.Now().UTC()
	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			msg := testMessage("telegram:1", occurred)
			msg.Body = fmt.Sprintf("body-%d", i)
			done <- store.SaveMessage(ctx, msg)
		}(i)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCount)
}
