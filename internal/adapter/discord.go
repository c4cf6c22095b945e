// ABOUTME: Discord channel adapter built on the discordgo gateway session
// ABOUTME: Buffers message-create events internally so the session callback never blocks

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"unigate/internal/message"
	"unigate/internal/observability"
)

const discordBufferSize = 256

// DiscordAdapter wraps a discordgo session. The discordgo event callback
// must not block, so events land in a bounded internal buffer first; the
// Listen pump moves them to the shared events channel with backpressure.
// When the buffer fills, new events are dropped and counted.
type DiscordAdapter struct {
	creds           *DiscordCredentials
	allowedGuilds   map[string]bool
	allowedChannels map[string]bool
	logger          *slog.Logger

	buffer  chan RawEvent
	dropped atomic.Int64

	mu        sync.Mutex
	session   *discordgo.Session
	botUserID string
}

// NewDiscordAdapter creates a Discord adapter. Empty allowlists admit
// every guild and channel.
func NewDiscordAdapter(creds *DiscordCredentials, allowedGuilds, allowedChannels []string) *DiscordAdapter {
	guilds := make(map[string]bool, len(allowedGuilds))
	for _, g := range allowedGuilds {
		guilds[g] = true
	}
	channels := make(map[string]bool, len(allowedChannels))
	for _, c := range allowedChannels {
		channels[c] = true
	}
	return &DiscordAdapter{
		creds:           creds,
		allowedGuilds:   guilds,
		allowedChannels: channels,
		logger:          slog.Default().With("component", "discord"),
		buffer:          make(chan RawEvent, discordBufferSize),
	}
}

func (a *DiscordAdapter) Channel() message.Channel {
	return message.ChannelDiscord
}

// Connect opens the gateway session and registers the message handler.
func (a *DiscordAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return nil
	}

	session, err := discordgo.New("Bot " + a.creds.Token)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(a.handleMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("opening gateway: %w", err)
	}
	if session.State != nil && session.State.User != nil {
		a.botUserID = session.State.User.ID
	}

	a.session = session
	a.logger.Info("connected to discord", "bot_user_id", a.botUserID)
	return nil
}

func (a *DiscordAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	err := a.session.Close()
	a.session = nil
	a.logger.Info("disconnected from discord")
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

// Listen pumps buffered events to the shared channel until the context
// is cancelled. discordgo handles gateway reconnects internally, so
// Listen returning is always cancellation.
func (a *DiscordAdapter) Listen(ctx context.Context, events chan<- RawEvent) error {
	a.mu.Lock()
	connected := a.session != nil
	a.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	for {
		select {
		case ev := <-a.buffer:
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *DiscordAdapter) handleMessageCreate(_ *discordgo.Session, mc *discordgo.MessageCreate) {
	if mc.Author == nil || mc.Author.ID == a.botUserID || mc.Author.Bot {
		return
	}
	if len(a.allowedGuilds) > 0 && mc.GuildID != "" && !a.allowedGuilds[mc.GuildID] {
		return
	}
	if len(a.allowedChannels) > 0 && !a.allowedChannels[mc.ChannelID] {
		return
	}

	payload, err := json.Marshal(mc.Message)
	if err != nil {
		a.logger.Warn("failed to encode discord message", "error", err)
		return
	}

	ev := RawEvent{
		Channel:    message.ChannelDiscord,
		PlatformID: mc.ID,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}
	select {
	case a.buffer <- ev:
	default:
		n := a.dropped.Add(1)
		observability.DroppedEvents.WithLabelValues(string(message.ChannelDiscord)).Inc()
		a.logger.Warn("discord buffer full, dropping event", "dropped_total", n)
	}
}

// Dropped reports how many events were discarded due to buffer overflow.
func (a *DiscordAdapter) Dropped() int64 {
	return a.dropped.Load()
}

// Normalize maps a Discord message onto the canonical message shape.
func (a *DiscordAdapter) Normalize(ev RawEvent) (*message.Message, error) {
	var dm discordgo.Message
	if err := json.Unmarshal(ev.Payload, &dm); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	if dm.ID == "" || dm.Author == nil {
		return nil, ErrSkip
	}

	body := dm.Content
	kind := message.KindText
	var mediaRefs []string
	if len(dm.Attachments) > 0 {
		kind = message.KindFile
		for _, att := range dm.Attachments {
			if att == nil {
				continue
			}
			mediaRefs = append(mediaRefs, att.URL)
		}
		if first := dm.Attachments[0]; first != nil && isImageContentType(first.ContentType) {
			kind = message.KindImage
		}
	}
	if body == "" && len(mediaRefs) == 0 {
		return nil, ErrSkip
	}

	isMention := dm.MentionEveryone
	for _, u := range dm.Mentions {
		if u != nil && u.ID == a.botUserID {
			isMention = true
			break
		}
	}

	var replyTo string
	if dm.MessageReference != nil && dm.MessageReference.MessageID != "" {
		replyTo = message.ComposeID(message.ChannelDiscord, dm.MessageReference.MessageID)
	}

	occurred := dm.Timestamp
	if occurred.IsZero() {
		occurred = ev.ReceivedAt
	}

	senderName := dm.Author.Username
	if senderName == "" {
		senderName = dm.Author.ID
	}

	return &message.Message{
		ID:           message.ComposeID(message.ChannelDiscord, dm.ID),
		Channel:      message.ChannelDiscord,
		Conversation: dm.ChannelID,
		SenderID:     dm.Author.ID,
		SenderName:   senderName,
		Body:         body,
		Kind:         kind,
		OccurredAt:   occurred.UTC(),
		IsGroup:      dm.GuildID != "",
		IsMention:    isMention,
		ReplyToID:    replyTo,
		MediaRefs:    mediaRefs,
		Raw:          ev.Payload,
	}, nil
}

// Send posts the draft body to its Discord channel.
func (a *DiscordAdapter) Send(ctx context.Context, draft *message.Draft) (*SendReceipt, error) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return nil, ErrNotConnected
	}

	sent, err := session.ChannelMessageSend(draft.Conversation, draft.Body, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	a.logger.Info("sent discord message", "channel_id", draft.Conversation, "message_id", sent.ID)
	return &SendReceipt{MessageID: sent.ID, SentAt: time.Now()}, nil
}

func isImageContentType(ct string) bool {
	return len(ct) > 6 && ct[:6] == "image/"
}
