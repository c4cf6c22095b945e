// ABOUTME: Consumer fan-out contract and the built-in notification consumer
// ABOUTME: Consumer failures are isolated so one bad handler never stalls the rest

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"unigate/internal/message"
)

// Consumer receives every message that clears the store. Handlers run
// in message order within a conversation; an error is logged and does
// not affect other consumers or the message's processed state.
type Consumer interface {
	Name() string
	Handle(ctx context.Context, msg *message.Message) error
}

// NotifyConsumer surfaces high-priority messages to the operator log.
// A rate limiter caps notification volume; messages past the limit are
// skipped, not queued, so a flood degrades to silence instead of a
// backlog of stale alerts.
type NotifyConsumer struct {
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewNotifyConsumer creates the notifier with a per-minute cap.
func NewNotifyConsumer(perMinute int) *NotifyConsumer {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &NotifyConsumer{
		logger:  slog.Default().With("component", "notify"),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (n *NotifyConsumer) Name() string { return "notify" }

func (n *NotifyConsumer) Handle(_ context.Context, msg *message.Message) error {
	if msg.Priority != message.PriorityHigh {
		return nil
	}
	if !n.limiter.Allow() {
		n.logger.Debug("notification suppressed by rate limit", "message_id", msg.ID)
		return nil
	}
	n.logger.Warn("high priority message",
		"message_id", msg.ID,
		"channel", msg.Channel,
		"sender", msg.SenderName,
		"has_action", msg.HasAction,
		"body", truncate(msg.Body, 120))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
