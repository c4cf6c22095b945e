// ABOUTME: Telegram channel adapter using the Bot API long-poll protocol
// ABOUTME: Receives updates via getUpdates, normalizes them and sends via sendMessage

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"unigate/internal/message"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	longPollSeconds    = 30
)

// TelegramAdapter connects to the Telegram Bot API. Updates are pulled
// with a blocking getUpdates long-poll, so backpressure from a full
// events channel naturally pauses polling.
type TelegramAdapter struct {
	creds        *TelegramCredentials
	allowedUsers map[int64]bool
	apiBase      string
	client       *http.Client
	logger       *slog.Logger

	mu          sync.Mutex
	connected   bool
	botUsername string
	offset      int64
}

// TelegramOption customizes a TelegramAdapter.
type TelegramOption func(*TelegramAdapter)

// WithTelegramAPIBase overrides the Bot API base URL. Used by tests.
func WithTelegramAPIBase(base string) TelegramOption {
	return func(a *TelegramAdapter) {
		a.apiBase = base
	}
}

// NewTelegramAdapter creates a Telegram adapter. An empty allowedUsers
// list admits every sender.
func NewTelegramAdapter(creds *TelegramCredentials, allowedUsers []int64, opts ...TelegramOption) *TelegramAdapter {
	allowed := make(map[int64]bool, len(allowedUsers))
	for _, id := range allowedUsers {
		allowed[id] = true
	}
	a := &TelegramAdapter{
		creds:        creds,
		allowedUsers: allowed,
		apiBase:      defaultTelegramAPI,
		client:       &http.Client{Timeout: (longPollSeconds + 10) * time.Second},
		logger:       slog.Default().With("component", "telegram"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *TelegramAdapter) Channel() message.Channel {
	return message.ChannelTelegram
}

// Connect verifies the token with getMe and records the bot identity.
func (a *TelegramAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}

	var me struct {
		Username string `json:"username"`
	}
	if err := a.call(ctx, "getMe", nil, &me); err != nil {
		return fmt.Errorf("verifying bot token: %w", err)
	}

	a.botUsername = me.Username
	a.connected = true
	a.logger.Info("connected to telegram", "bot", "@"+me.Username)
	return nil
}

func (a *TelegramAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		a.connected = false
		a.logger.Info("disconnected from telegram")
	}
	return nil
}

// Listen long-polls getUpdates until the context is cancelled. Transport
// errors are returned to the caller, which owns reconnect policy.
func (a *TelegramAdapter) Listen(ctx context.Context, events chan<- RawEvent) error {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := a.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polling updates: %w", err)
		}

		for _, upd := range updates {
			a.mu.Lock()
			if upd.UpdateID >= a.offset {
				a.offset = upd.UpdateID + 1
			}
			a.mu.Unlock()

			if upd.Message == nil || upd.Message.From == nil {
				continue
			}
			if !a.userAllowed(upd.Message.From.ID) {
				a.logger.Warn("dropping update from disallowed user",
					"user_id", upd.Message.From.ID, "username", upd.Message.From.Username)
				continue
			}

			ev := RawEvent{
				Channel:    message.ChannelTelegram,
				PlatformID: strconv.FormatInt(upd.Message.MessageID, 10),
				Payload:    upd.raw,
				ReceivedAt: time.Now(),
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Normalize maps a Telegram update onto the canonical message shape.
func (a *TelegramAdapter) Normalize(ev RawEvent) (*message.Message, error) {
	var upd tgUpdate
	if err := json.Unmarshal(ev.Payload, &upd); err != nil {
		return nil, fmt.Errorf("decoding update: %w", err)
	}
	if upd.Message == nil || upd.Message.From == nil {
		return nil, ErrSkip
	}

	m := upd.Message
	from := m.From
	body := m.Text
	if body == "" {
		body = m.Caption
	}

	kind := message.KindText
	var mediaRefs []string
	switch {
	case len(m.Photo) > 0:
		kind = message.KindImage
		// largest rendition last
		mediaRefs = []string{m.Photo[len(m.Photo)-1].FileID}
	case m.Document != nil:
		kind = message.KindFile
		mediaRefs = []string{m.Document.FileID}
	case m.Voice != nil:
		kind = message.KindAudio
		mediaRefs = []string{m.Voice.FileID}
	case m.Video != nil:
		kind = message.KindVideo
		mediaRefs = []string{m.Video.FileID}
	case m.Location != nil:
		kind = message.KindSystem
		body = fmt.Sprintf("location: %v, %v", m.Location.Latitude, m.Location.Longitude)
	case body == "":
		return nil, ErrSkip
	}

	isMention := false
	for _, ent := range m.Entities {
		if ent.Type == "mention" {
			isMention = true
			break
		}
	}

	senderName := from.FirstName
	if from.LastName != "" {
		senderName += " " + from.LastName
	}
	if senderName == "" {
		senderName = from.Username
	}
	if senderName == "" {
		senderName = strconv.FormatInt(from.ID, 10)
	}

	var replyTo string
	if m.ReplyToMessage != nil {
		replyTo = message.ComposeID(message.ChannelTelegram,
			strconv.FormatInt(m.ReplyToMessage.MessageID, 10))
	}

	occurred := ev.ReceivedAt
	if m.Date > 0 {
		occurred = time.Unix(m.Date, 0).UTC()
	}

	return &message.Message{
		ID:           message.ComposeID(message.ChannelTelegram, strconv.FormatInt(m.MessageID, 10)),
		Channel:      message.ChannelTelegram,
		Conversation: strconv.FormatInt(m.Chat.ID, 10),
		SenderID:     strconv.FormatInt(from.ID, 10),
		SenderName:   senderName,
		Body:         body,
		Kind:         kind,
		OccurredAt:   occurred,
		IsGroup:      m.Chat.Type == "group" || m.Chat.Type == "supergroup",
		IsMention:    isMention,
		ReplyToID:    replyTo,
		MediaRefs:    mediaRefs,
		Raw:          ev.Payload,
	}, nil
}

// Send posts the draft body to its conversation via sendMessage.
func (a *TelegramAdapter) Send(ctx context.Context, draft *message.Draft) (*SendReceipt, error) {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}

	chatID, err := strconv.ParseInt(draft.Conversation, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", draft.Conversation, err)
	}

	req := map[string]any{
		"chat_id": chatID,
		"text":    draft.Body,
	}
	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := a.call(ctx, "sendMessage", req, &sent); err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	a.logger.Info("sent telegram message", "chat_id", chatID, "message_id", sent.MessageID)
	return &SendReceipt{
		MessageID: strconv.FormatInt(sent.MessageID, 10),
		SentAt:    time.Now(),
	}, nil
}

func (a *TelegramAdapter) userAllowed(id int64) bool {
	if len(a.allowedUsers) == 0 {
		return true
	}
	return a.allowedUsers[id]
}

func (a *TelegramAdapter) getUpdates(ctx context.Context) ([]tgUpdate, error) {
	a.mu.Lock()
	offset := a.offset
	a.mu.Unlock()

	req := map[string]any{
		"offset":          offset,
		"timeout":         longPollSeconds,
		"allowed_updates": []string{"message"},
	}
	var updates []tgUpdate
	if err := a.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// call performs one Bot API method call and decodes the result envelope.
func (a *TelegramAdapter) call(ctx context.Context, method string, params any, result any) error {
	url := fmt.Sprintf("%s/bot%s/%s", a.apiBase, a.creds.BotToken, method)

	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram api error: %s", envelope.Description)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decoding result: %w", err)
		}
	}
	return nil
}

// Bot API wire shapes, trimmed to the fields the adapter reads.

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`

	raw json.RawMessage
}

func (u *tgUpdate) UnmarshalJSON(data []byte) error {
	type alias tgUpdate
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*u = tgUpdate(a)
	u.raw = append(json.RawMessage(nil), data...)
	return nil
}

type tgMessage struct {
	MessageID      int64        `json:"message_id"`
	From           *tgUser      `json:"from"`
	Chat           tgChat       `json:"chat"`
	Date           int64        `json:"date"`
	Text           string       `json:"text"`
	Caption        string       `json:"caption"`
	Photo          []tgFileRef  `json:"photo"`
	Document       *tgFileRef   `json:"document"`
	Voice          *tgFileRef   `json:"voice"`
	Video          *tgFileRef   `json:"video"`
	Location       *tgLocation  `json:"location"`
	Entities       []tgEntity   `json:"entities"`
	ReplyToMessage *tgMessageID `json:"reply_to_message"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type tgFileRef struct {
	FileID string `json:"file_id"`
}

type tgLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type tgEntity struct {
	Type string `json:"type"`
}

type tgMessageID struct {
	MessageID int64 `json:"message_id"`
}
