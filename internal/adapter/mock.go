// ABOUTME: In-memory mock adapter for exercising the pipeline and supervisor
// ABOUTME: Injects events through a channel and records sent drafts

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"unigate/internal/message"
)

// MockAdapter is a test double backed by an in-memory event channel.
// Events injected with Inject flow through Listen; sent drafts are
// recorded for assertion. ConnectErr and SendErr simulate failures.
type MockAdapter struct {
	ChannelName message.Channel
	ConnectErr  error
	SendErr     error

	events chan RawEvent

	mu        sync.Mutex
	connected bool
	sent      []*message.Draft
	sendSeq   int
}

// NewMockAdapter creates a mock adapter for the given channel.
func NewMockAdapter(ch message.Channel) *MockAdapter {
	return &MockAdapter{
		ChannelName: ch,
		events:      make(chan RawEvent, 64),
	}
}

func (a *MockAdapter) Channel() message.Channel {
	return a.ChannelName
}

func (a *MockAdapter) Connect(ctx context.Context) error {
	if a.ConnectErr != nil {
		return a.ConnectErr
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *MockAdapter) Disconnect() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

func (a *MockAdapter) Listen(ctx context.Context, events chan<- RawEvent) error {
	for {
		select {
		case ev := <-a.events:
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

// Inject queues a raw event for Listen to deliver.
func (a *MockAdapter) Inject(ev RawEvent) {
	a.events <- ev
}

// InjectMessage wraps a canonical message as a raw event and queues it.
// Normalize round-trips such payloads unchanged.
func (a *MockAdapter) InjectMessage(msg *message.Message) {
	payload, _ := json.Marshal(msg)
	a.Inject(RawEvent{
		Channel:    a.ChannelName,
		PlatformID: msg.ID,
		Payload:    payload,
		ReceivedAt: time.Now(),
	})
}

func (a *MockAdapter) Normalize(ev RawEvent) (*message.Message, error) {
	var msg message.Message
	if err := json.Unmarshal(ev.Payload, &msg); err != nil {
		return nil, ErrSkip
	}
	if msg.ID == "" {
		return nil, ErrSkip
	}
	return &msg, nil
}

func (a *MockAdapter) Send(ctx context.Context, draft *message.Draft) (*SendReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, ErrNotConnected
	}
	if a.SendErr != nil {
		return nil, a.SendErr
	}
	a.sent = append(a.sent, draft)
	a.sendSeq++
	return &SendReceipt{
		MessageID: fmt.Sprintf("mock-%d", a.sendSeq),
		SentAt:    time.Now(),
	}, nil
}

// Sent returns a copy of the drafts successfully sent so far.
func (a *MockAdapter) Sent() []*message.Draft {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*message.Draft, len(a.sent))
	copy(out, a.sent)
	return out
}
