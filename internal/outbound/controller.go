// ABOUTME: Outbound safety controller: draft, confirm, then send
// ABOUTME: Nothing leaves the gateway without an explicit confirmation step

package outbound

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"unigate/internal/adapter"
	"unigate/internal/message"
	"unigate/internal/observability"
	"unigate/internal/store"
)

// ErrSendFailed wraps the last adapter error after retries are
// exhausted. The draft stays confirmed and can be resubmitted.
var ErrSendFailed = errors.New("send failed after retries")

// ErrNoAdapter is returned when no adapter serves the draft's channel.
var ErrNoAdapter = errors.New("no adapter for channel")

const (
	sendRetryDelay  = 2 * time.Second
	sendLockStripes = 64
)

// Options configures a Controller.
type Options struct {
	DraftsDir         string
	MaxSendRetries    int
	SendRatePerMinute int
}

// Controller owns the outbound path. Every outgoing message starts as
// a draft artifact on disk plus a persisted record; only a confirmed
// draft can be handed to an adapter. Drafts never expire.
type Controller struct {
	store      store.Store
	opts       Options
	logger     *slog.Logger
	retryDelay time.Duration

	mu       sync.Mutex
	adapters map[message.Channel]adapter.Adapter
	limiters map[message.Channel]*rate.Limiter

	// Serializes Send per draft so a rescued confirm marker cannot race
	// an in-flight submit into a duplicate transmission.
	sendLocks [sendLockStripes]sync.Mutex
}

// NewController creates the controller. Adapters register afterward via
// RegisterAdapter.
func NewController(st store.Store, opts Options) (*Controller, error) {
	if opts.MaxSendRetries <= 0 {
		opts.MaxSendRetries = 1
	}
	if opts.SendRatePerMinute <= 0 {
		opts.SendRatePerMinute = 1
	}
	if err := os.MkdirAll(opts.DraftsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating drafts directory: %w", err)
	}
	return &Controller{
		store:      st,
		opts:       opts,
		logger:     slog.Default().With("component", "outbound"),
		retryDelay: sendRetryDelay,
		adapters:   make(map[message.Channel]adapter.Adapter),
		limiters:   make(map[message.Channel]*rate.Limiter),
	}, nil
}

// RegisterAdapter makes a channel available for sending.
func (c *Controller) RegisterAdapter(a adapter.Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := a.Channel()
	c.adapters[ch] = a
	c.limiters[ch] = rate.NewLimiter(
		rate.Every(time.Minute/time.Duration(c.opts.SendRatePerMinute)), 1)
}

// Draft creates an unconfirmed draft: a reviewable Markdown artifact on
// disk and a persisted record pointing at it.
func (c *Controller) Draft(ctx context.Context, channel message.Channel, conversation, body string) (*message.Draft, error) {
	draft := &message.Draft{
		ID:           uuid.New().String(),
		Channel:      channel,
		Conversation: conversation,
		Body:         body,
		CreatedAt:    time.Now().UTC(),
	}
	draft.ArtifactPath = filepath.Join(c.opts.DraftsDir, draft.ID+".md")

	if err := os.WriteFile(draft.ArtifactPath, []byte(c.renderArtifact(draft)), 0644); err != nil {
		return nil, fmt.Errorf("writing draft artifact: %w", err)
	}
	if err := c.store.SaveDraft(ctx, draft); err != nil {
		// Keep disk and store consistent.
		os.Remove(draft.ArtifactPath)
		return nil, fmt.Errorf("persisting draft: %w", err)
	}

	c.logger.Info("draft created, awaiting confirmation",
		"draft_id", draft.ID,
		"channel", channel,
		"conversation", conversation,
		"artifact", draft.ArtifactPath)
	return draft, nil
}

func (c *Controller) renderArtifact(d *message.Draft) string {
	return fmt.Sprintf(`# Outbound draft %s

- channel: %s
- conversation: %s
- created: %s

---

%s
`, d.ID, d.Channel, d.Conversation, d.CreatedAt.Format(time.RFC3339), d.Body)
}

// draftLock returns the mutex stripe for a draft id.
func (c *Controller) draftLock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &c.sendLocks[h.Sum32()%sendLockStripes]
}

// Confirm marks a draft as approved for sending. Idempotent; a sent
// draft cannot be re-confirmed.
func (c *Controller) Confirm(ctx context.Context, id string) error {
	if err := c.store.ConfirmDraft(ctx, id); err != nil {
		return err
	}
	c.logger.Info("draft confirmed", "draft_id", id)
	return nil
}

// Send transmits a confirmed draft. Unconfirmed or already-sent drafts
// are rejected with ErrInvalidState. The per-channel rate limiter
// queues the send rather than failing it; adapter errors are retried
// up to the configured bound.
func (c *Controller) Send(ctx context.Context, id string) (*adapter.SendReceipt, error) {
	lock := c.draftLock(id)
	lock.Lock()
	defer lock.Unlock()

	draft, err := c.store.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if !draft.Confirmed {
		return nil, fmt.Errorf("draft %s not confirmed: %w", id, store.ErrInvalidState)
	}
	if draft.Sent() {
		return nil, fmt.Errorf("draft %s already sent: %w", id, store.ErrInvalidState)
	}

	c.mu.Lock()
	a, ok := c.adapters[draft.Channel]
	limiter := c.limiters[draft.Channel]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, draft.Channel)
	}

	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for send slot: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxSendRetries; attempt++ {
		receipt, err := a.Send(ctx, draft)
		if err == nil {
			if err := c.store.RecordSent(ctx, draft.ID, receipt.MessageID, receipt.SentAt); err != nil {
				return nil, fmt.Errorf("recording send: %w", err)
			}
			observability.Sends.WithLabelValues(string(draft.Channel), "ok").Inc()
			c.logger.Info("draft sent",
				"draft_id", draft.ID,
				"channel", draft.Channel,
				"receipt_id", receipt.MessageID,
				"attempt", attempt)
			return receipt, nil
		}

		lastErr = err
		observability.Sends.WithLabelValues(string(draft.Channel), "error").Inc()
		c.logger.Warn("send attempt failed",
			"draft_id", draft.ID, "attempt", attempt, "error", err)

		if attempt < c.opts.MaxSendRetries {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	// Draft remains confirmed and inspectable for a later resubmit.
	return nil, fmt.Errorf("%w: %w", ErrSendFailed, lastErr)
}

// Submit confirms and sends in one step, the path taken by the
// confirmation watcher once a human has made the gesture.
func (c *Controller) Submit(ctx context.Context, id string) (*adapter.SendReceipt, error) {
	if err := c.Confirm(ctx, id); err != nil {
		return nil, err
	}
	return c.Send(ctx, id)
}
