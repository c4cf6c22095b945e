// ABOUTME: Channel adapter interface wrapping one external messaging platform
// ABOUTME: Defines RawEvent, SendReceipt and the connect/listen/normalize/send capability set

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"unigate/internal/message"
)

// ErrSkip is returned by Normalize for events that cannot be mapped onto
// the canonical Message shape. Skipped events are counted, never
// default-constructed.
var ErrSkip = errors.New("event not mappable")

// ErrNotConnected is returned by Send when the adapter has no session.
var ErrNotConnected = errors.New("adapter not connected")

// RawEvent is a platform-native event as produced by Listen. The payload
// is kept opaque; Normalize maps it onto the canonical Message and the
// store retains it for forensic replay.
type RawEvent struct {
	Channel    message.Channel
	PlatformID string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// SendReceipt is returned by a successful Send.
type SendReceipt struct {
	MessageID string
	SentAt    time.Time
}

// Adapter wraps one external messaging platform. The gateway supervisor is
// the only component that calls Connect and Disconnect.
type Adapter interface {
	// Channel identifies the platform this adapter serves.
	Channel() message.Channel

	// Connect establishes the underlying session. Calling it while already
	// connected is a no-op success.
	Connect(ctx context.Context) error

	// Disconnect releases resources. Always safe to call, including when
	// never connected.
	Disconnect() error

	// Listen produces platform events into the supplied channel until the
	// context is cancelled or an unrecoverable error occurs. Sends block on
	// a full channel, which is how pipeline backpressure reaches the
	// producer; adapters that cannot block their transport buffer
	// internally and drop beyond their own bound.
	Listen(ctx context.Context, events chan<- RawEvent) error

	// Normalize converts a platform event to the canonical Message.
	// Returns ErrSkip for events that cannot be mapped.
	Normalize(ev RawEvent) (*message.Message, error)

	// Send transmits an outbound draft. The outbound controller only calls
	// this with confirmed drafts; the adapter does not re-check.
	Send(ctx context.Context, draft *message.Draft) (*SendReceipt, error)
}
