// ABOUTME: Tests for pipeline orchestration
// ABOUTME: Covers per-conversation ordering, dedup short-circuit and consumer isolation

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unigate/internal/dedupe"
	"unigate/internal/message"
	"unigate/internal/store"
)

func setupPipelineStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// recordingConsumer captures handled messages in order.
type recordingConsumer struct {
	mu   sync.Mutex
	seen []*message.Message
	err  error
}

func (r *recordingConsumer) Name() string { return "recording" }

func (r *recordingConsumer) Handle(_ context.Context, msg *message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, msg)
	return r.err
}

func (r *recordingConsumer) messages() []*message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*message.Message, len(r.seen))
	copy(out, r.seen)
	return out
}

func pipelineMessage(id, conversation, body string) *message.Message {
	return &message.Message{
		ID:           message.ComposeID(message.ChannelTelegram, id),
		Channel:      message.ChannelTelegram,
		Conversation: conversation,
		SenderID:     "7",
		SenderName:   "Alice",
		Body:         body,
		Kind:         message.KindText,
		OccurredAt:   time.Now().UTC(),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPipeline_ProcessesAndPersists(t *testing.T) {
	st := setupPipelineStore(t)
	cls := testClassifier(time.Now())
	p := New(st, cls, nil, Options{QueueSize: 16, Workers: 2})

	rec := &recordingConsumer{}
	p.Register(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	msg := pipelineMessage("1", "conv-1", "urgent: the build is down")
	require.NoError(t, p.Enqueue(ctx, msg))

	waitFor(t, func() bool { return len(rec.messages()) == 1 }, "consumer never saw the message")

	stored, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, message.PriorityHigh, stored.Priority)
	assert.True(t, stored.HasAction)

	waitFor(t, func() bool {
		m, err := st.GetMessage(ctx, msg.ID)
		return err == nil && m.ProcessedAt != nil
	}, "message never marked processed")
}

func TestPipeline_PerConversationOrdering(t *testing.T) {
	st := setupPipelineStore(t)
	cls := testClassifier(time.Now())
	p := New(st, cls, nil, Options{QueueSize: 64, Workers: 4})

	rec := &recordingConsumer{}
	p.Register(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	const perConv = 20
	conversations := []string{"conv-a", "conv-b", "conv-c"}

	// Interleave conversations from a single producer; enqueue order is
	// the arrival order the pipeline must preserve per conversation.
	seq := 0
	for i := 0; i < perConv; i++ {
		for _, conv := range conversations {
			seq++
			msg := pipelineMessage(fmt.Sprintf("%d", seq), conv, fmt.Sprintf("%s #%d", conv, i))
			require.NoError(t, p.Enqueue(ctx, msg))
		}
	}

	total := perConv * len(conversations)
	waitFor(t, func() bool { return len(rec.messages()) == total }, "not all messages consumed")

	// Within each conversation the bodies must appear in send order.
	byConv := make(map[string][]string)
	for _, m := range rec.messages() {
		byConv[m.Conversation] = append(byConv[m.Conversation], m.Body)
	}
	for _, conv := range conversations {
		require.Len(t, byConv[conv], perConv)
		for i, body := range byConv[conv] {
			assert.Equal(t, fmt.Sprintf("%s #%d", conv, i), body)
		}
	}
}

func TestPipeline_DedupShortCircuits(t *testing.T) {
	st := setupPipelineStore(t)
	cls := testClassifier(time.Now())
	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)

	p := New(st, cls, cache, Options{QueueSize: 16, Workers: 1})
	rec := &recordingConsumer{}
	p.Register(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Enqueue(ctx, pipelineMessage("9", "conv-1", "hello")))
	}

	waitFor(t, func() bool { return len(rec.messages()) == 1 }, "first copy never consumed")

	// Replays are swallowed before the store.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.messages(), 1)
	assert.Equal(t, int64(2), cache.Hits())

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCount)
}

func TestPipeline_ConsumerErrorIsolated(t *testing.T) {
	st := setupPipelineStore(t)
	cls := testClassifier(time.Now())
	p := New(st, cls, nil, Options{QueueSize: 16, Workers: 1})

	failing := &recordingConsumer{err: errors.New("boom")}
	healthy := &recordingConsumer{}
	p.Register(failing)
	p.Register(healthy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	msg := pipelineMessage("20", "conv-1", "hello")
	require.NoError(t, p.Enqueue(ctx, msg))

	waitFor(t, func() bool { return len(healthy.messages()) == 1 }, "healthy consumer starved")

	// A failing consumer does not block processed marking.
	waitFor(t, func() bool {
		m, err := st.GetMessage(ctx, msg.ID)
		return err == nil && m.ProcessedAt != nil
	}, "message never marked processed")
}

func TestPipeline_EnqueueRespectsContext(t *testing.T) {
	st := setupPipelineStore(t)
	cls := testClassifier(time.Now())
	p := New(st, cls, nil, Options{QueueSize: 1, Workers: 1})

	// Pipeline not running: fill the intake, then a cancelled enqueue
	// must not block.
	ctx := context.Background()
	require.NoError(t, p.Enqueue(ctx, pipelineMessage("30", "conv-1", "a")))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Enqueue(cancelled, pipelineMessage("31", "conv-1", "b"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNotifyConsumer_OnlyHighPriority(t *testing.T) {
	n := NewNotifyConsumer(60)

	low := &message.Message{ID: "t:1", Priority: message.PriorityLow}
	require.NoError(t, n.Handle(context.Background(), low))

	high := &message.Message{ID: "t:2", Priority: message.PriorityHigh, Body: "urgent"}
	require.NoError(t, n.Handle(context.Background(), high))
}
