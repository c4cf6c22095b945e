// ABOUTME: Tests for Discord adapter normalization and buffering
// ABOUTME: Exercises the mapping from discordgo message payloads without a live session

package adapter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unigate/internal/message"
	"unigate/internal/observability"
)

func discordEvent(payload string) RawEvent {
	return RawEvent{
		Channel:    message.ChannelDiscord,
		PlatformID: "111",
		Payload:    json.RawMessage(payload),
		ReceivedAt: time.Now(),
	}
}

func TestDiscordNormalize_Text(t *testing.T) {
	a := NewDiscordAdapter(&DiscordCredentials{Token: "test"}, nil, nil)
	a.botUserID = "bot-1"

	msg, err := a.Normalize(discordEvent(`{
		"id": "111",
		"channel_id": "chan-1",
		"guild_id": "guild-1",
		"author": {"id": "user-1", "username": "alice"},
		"content": "deploy finished",
		"timestamp": "2026-08-27T10:00:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "discord:111", msg.ID)
	assert.Equal(t, message.ChannelDiscord, msg.Channel)
	assert.Equal(t, "chan-1", msg.Conversation)
	assert.Equal(t, "user-1", msg.SenderID)
	assert.Equal(t, "alice", msg.SenderName)
	assert.Equal(t, "deploy finished", msg.Body)
	assert.Equal(t, message.KindText, msg.Kind)
	assert.True(t, msg.IsGroup)
	assert.False(t, msg.IsMention)
	assert.Equal(t, time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC), msg.OccurredAt)
}

func TestDiscordNormalize_BotMention(t *testing.T) {
	a := NewDiscordAdapter(&DiscordCredentials{Token: "test"}, nil, nil)
	a.botUserID = "bot-1"

	msg, err := a.Normalize(discordEvent(`{
		"id": "112",
		"channel_id": "chan-1",
		"author": {"id": "user-1", "username": "alice"},
		"content": "<@bot-1> status?",
		"mentions": [{"id": "bot-1", "username": "unigate"}]
	}`))
	require.NoError(t, err)
	assert.True(t, msg.IsMention)
	assert.False(t, msg.IsGroup)
}

func TestDiscordNormalize_Attachments(t *testing.T) {
	a := NewDiscordAdapter(&DiscordCredentials{Token: "test"}, nil, nil)

	msg, err := a.Normalize(discordEvent(`{
		"id": "113",
		"channel_id": "chan-1",
		"author": {"id": "user-1", "username": "alice"},
		"attachments": [{"id": "att-1", "url": "https://cdn.example/shot.png", "content_type": "image/png"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, message.KindImage, msg.Kind)
	assert.Equal(t, []string{"https://cdn.example/shot.png"}, msg.MediaRefs)

	msg, err = a.Normalize(discordEvent(`{
		"id": "114",
		"channel_id": "chan-1",
		"author": {"id": "user-1", "username": "alice"},
		"attachments": [{"id": "att-2", "url": "https://cdn.example/report.pdf", "content_type": "application/pdf"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, message.KindFile, msg.Kind)
}

func TestDiscordNormalize_Reply(t *testing.T) {
	a := NewDiscordAdapter(&DiscordCredentials{Token: "test"}, nil, nil)

	msg, err := a.Normalize(discordEvent(`{
		"id": "115",
		"channel_id": "chan-1",
		"author": {"id": "user-1", "username": "alice"},
		"content": "agreed",
		"message_reference": {"message_id": "110", "channel_id": "chan-1"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "discord:110", msg.ReplyToID)
}

func TestDiscordNormalize_Skip(t *testing.T) {
	a := NewDiscordAdapter(&DiscordCredentials{Token: "test"}, nil, nil)

	_, err := a.Normalize(discordEvent(`{"id": "", "channel_id": "chan-1"}`))
	assert.ErrorIs(t, err, ErrSkip)

	// No content and no attachments.
	_, err = a.Normalize(discordEvent(`{
		"id": "116",
		"channel_id": "chan-1",
		"author": {"id": "user-1", "username": "alice"}
	}`))
	assert.ErrorIs(t, err, ErrSkip)
}

func TestDiscordHandler_DropsWhenBufferFull(t *testing.T) {
	a := NewDiscordAdapter(&DiscordCredentials{Token: "test"}, nil, nil)

	mc := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "200",
		ChannelID: "chan-1",
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
		Content:   "hi",
	}}

	for i := 0; i < discordBufferSize; i++ {
		a.handleMessageCreate(nil, mc)
	}
	assert.Equal(t, int64(0), a.Dropped())
	assert.Len(t, a.buffer, discordBufferSize)

	// Drops show up in both the adapter counter and the exported metric.
	metric := observability.DroppedEvents.WithLabelValues(string(message.ChannelDiscord))
	before := testutil.ToFloat64(metric)
	a.handleMessageCreate(nil, mc)
	assert.Equal(t, int64(1), a.Dropped())
	assert.Equal(t, before+1, testutil.ToFloat64(metric))
}

func TestDiscordHandler_FiltersOwnAndDisallowed(t *testing.T) {
	a := NewDiscordAdapter(&DiscordCredentials{Token: "test"},
		[]string{"guild-1"}, []string{"chan-1"})
	a.botUserID = "bot-1"

	// Own message.
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "201", ChannelID: "chan-1", GuildID: "guild-1",
		Author: &discordgo.User{ID: "bot-1"},
	}})
	// Disallowed guild.
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "202", ChannelID: "chan-1", GuildID: "guild-2",
		Author: &discordgo.User{ID: "user-1"},
	}})
	// Disallowed channel.
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "203", ChannelID: "chan-9", GuildID: "guild-1",
		Author: &discordgo.User{ID: "user-1"},
	}})
	assert.Empty(t, a.buffer)

	// Admitted.
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "204", ChannelID: "chan-1", GuildID: "guild-1",
		Author: &discordgo.User{ID: "user-1", Username: "alice"}, Content: "ok",
	}})
	assert.Len(t, a.buffer, 1)
}
