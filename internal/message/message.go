// ABOUTME: Platform-agnostic message and draft types shared by all gateway components
// ABOUTME: Defines Channel, Kind, Priority enums and the canonical Message shape

package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel identifies a messaging platform. The set is fixed; new platforms
// are added by adding a variant here and an adapter for it.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelDiscord  Channel = "discord"
	ChannelSlack    Channel = "slack"
	ChannelKakao    Channel = "kakao"
	ChannelSMS      Channel = "sms"
	ChannelUnknown  Channel = "unknown"
)

// ParseChannel maps a string to a known Channel, falling back to ChannelUnknown.
func ParseChannel(s string) Channel {
	switch Channel(s) {
	case ChannelEmail, ChannelTelegram, ChannelWhatsApp, ChannelDiscord,
		ChannelSlack, ChannelKakao, ChannelSMS:
		return Channel(s)
	default:
		return ChannelUnknown
	}
}

// Kind classifies the payload of a message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindFile     Kind = "file"
	KindReaction Kind = "reaction"
	KindSystem   Kind = "system"
)

// Priority is assigned by the pipeline's classifier.
type Priority string

const (
	PriorityNone   Priority = "none"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Message is the canonical, platform-agnostic representation of an inbound
// message. It is immutable once stored except for the processing metadata
// (Priority, HasAction, ProcessedAt) which the pipeline sets exactly once.
type Message struct {
	// ID is globally unique across all channels. Use ComposeID to build it
	// from a channel and the platform's native message identifier.
	ID string

	Channel Channel

	// Conversation is the platform-native room/thread/chat identifier.
	Conversation string

	SenderID   string
	SenderName string // optional

	// Body may be empty for pure-media messages.
	Body string

	Kind Kind

	// OccurredAt is the timestamp assigned by the source platform,
	// not the time of receipt.
	OccurredAt time.Time

	IsGroup   bool
	IsMention bool

	// ReplyToID optionally references another Message.ID. Relation only.
	ReplyToID string

	// MediaRefs holds ordered external resource locators (URLs, file IDs).
	MediaRefs []string

	// Raw is the opaque platform payload as received, kept for forensic replay.
	Raw json.RawMessage

	// Fields below are set by the pipeline.
	Priority    Priority
	HasAction   bool
	ProcessedAt *time.Time // nil means unprocessed
}

// ComposeID builds the store-wide unique message ID from a channel and the
// platform-native message identifier. Uniqueness is the platform's id scoped
// by channel, never arrival order.
func ComposeID(channel Channel, platformID string) string {
	return fmt.Sprintf("%s:%s", channel, platformID)
}

// Processed reports whether the pipeline has handled this message.
func (m *Message) Processed() bool {
	return m.ProcessedAt != nil
}

// Draft is an outbound message awaiting explicit human confirmation.
// Lifecycle: created unconfirmed, confirmed by an external action, sent by
// the outbound controller, immutable once SentAt is set.
type Draft struct {
	ID           string
	Channel      Channel
	Conversation string // target room/chat on the platform
	Body         string

	// ArtifactPath is the durable draft file on disk, always populated.
	ArtifactPath string

	Confirmed bool
	SentAt    *time.Time
	CreatedAt time.Time
}

// Sent reports whether the draft has been transmitted.
func (d *Draft) Sent() bool {
	return d.SentAt != nil
}

// ChannelState is a read-only snapshot of one adapter's health, owned
// exclusively by the gateway supervisor.
type ChannelState struct {
	Channel      Channel
	Connected    bool
	LastError    string
	RestartCount int
}
