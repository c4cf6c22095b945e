// ABOUTME: Ingestion pipeline: bounded intake, hashed worker routing, classify and persist
// ABOUTME: Store writes ride a circuit breaker so database trouble degrades instead of cascading

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"unigate/internal/dedupe"
	"unigate/internal/message"
	"unigate/internal/observability"
	"unigate/internal/store"
)

const (
	saveAttempts   = 3
	saveRetryDelay = 500 * time.Millisecond
)

// Options configures a Pipeline.
type Options struct {
	QueueSize int
	Workers   int
}

// Pipeline consumes normalized messages, assigns priority, persists
// them and fans out to consumers. Messages from the same conversation
// always land on the same worker, which preserves their arrival order;
// different conversations proceed independently.
type Pipeline struct {
	store      store.Store
	classifier *Classifier
	cache      *dedupe.Cache
	logger     *slog.Logger

	intake  chan *message.Message
	queues  []chan *message.Message
	breaker *gobreaker.CircuitBreaker

	mu        sync.Mutex
	consumers []Consumer

	wg sync.WaitGroup
}

// New creates a pipeline. The dedupe cache may be nil to disable the
// fast-path duplicate check.
func New(st store.Store, classifier *Classifier, cache *dedupe.Cache, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}

	p := &Pipeline{
		store:      st,
		classifier: classifier,
		cache:      cache,
		logger:     slog.Default().With("component", "pipeline"),
		intake:     make(chan *message.Message, opts.QueueSize),
		queues:     make([]chan *message.Message, opts.Workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan *message.Message, opts.QueueSize)
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "store-writes",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("store breaker state change", "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				observability.Degraded.Set(1)
			} else if to == gobreaker.StateClosed {
				observability.Degraded.Set(0)
			}
		},
	})
	return p
}

// Register adds a consumer. Must be called before Run.
func (p *Pipeline) Register(c Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

// Enqueue submits a message for processing, blocking when the intake
// queue is full. This is the backpressure boundary for adapters.
func (p *Pipeline) Enqueue(ctx context.Context, msg *message.Message) error {
	select {
	case p.intake <- msg:
		observability.QueueDepth.Set(float64(len(p.intake)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the dispatcher and workers and blocks until the context
// is cancelled and in-flight messages drain.
func (p *Pipeline) Run(ctx context.Context) error {
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.worker(ctx, i, q)
	}

	p.logger.Info("pipeline started", "workers", len(p.queues), "queue_size", cap(p.intake))

	for {
		select {
		case msg := <-p.intake:
			observability.QueueDepth.Set(float64(len(p.intake)))
			q := p.queues[p.route(msg)]
			select {
			case q <- msg:
			case <-ctx.Done():
				p.shutdown()
				return ctx.Err()
			}
		case <-ctx.Done():
			p.shutdown()
			return ctx.Err()
		}
	}
}

func (p *Pipeline) shutdown() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
	p.logger.Info("pipeline stopped")
}

// route picks the worker for a message. Hashing (channel, conversation)
// keeps a conversation pinned to one worker.
func (p *Pipeline) route(msg *message.Message) int {
	h := fnv.New32a()
	h.Write([]byte(msg.Channel))
	h.Write([]byte{0})
	h.Write([]byte(msg.Conversation))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Pipeline) worker(ctx context.Context, id int, queue <-chan *message.Message) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)

	for msg := range queue {
		if err := p.process(ctx, msg); err != nil {
			logger.Error("message processing failed", "message_id", msg.ID, "error", err)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, msg *message.Message) error {
	if p.cache != nil && p.cache.Observe(msg.ID) {
		observability.DedupHits.WithLabelValues(string(msg.Channel)).Inc()
		return nil
	}

	p.classifier.Classify(msg)
	observability.Classified.WithLabelValues(string(msg.Priority)).Inc()

	if err := p.save(ctx, msg); err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	observability.Ingested.WithLabelValues(string(msg.Channel)).Inc()

	p.dispatch(ctx, msg)

	if err := p.store.MarkProcessed(ctx, msg.ID); err != nil {
		return fmt.Errorf("marking processed: %w", err)
	}
	return nil
}

// save writes through the circuit breaker with bounded retries. An open
// breaker fails fast; the message is retried on the same schedule and
// dropped with an error log once attempts are exhausted.
func (p *Pipeline) save(ctx context.Context, msg *message.Message) error {
	var lastErr error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, p.store.SaveMessage(ctx, msg)
		})
		if err == nil {
			observability.StoreWrites.WithLabelValues("ok").Inc()
			return nil
		}
		lastErr = err
		observability.StoreWrites.WithLabelValues("error").Inc()

		if errors.Is(err, gobreaker.ErrOpenState) {
			p.logger.Warn("store breaker open, delaying", "message_id", msg.ID)
		}
		select {
		case <-time.After(saveRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (p *Pipeline) dispatch(ctx context.Context, msg *message.Message) {
	p.mu.Lock()
	consumers := p.consumers
	p.mu.Unlock()

	for _, c := range consumers {
		if err := c.Handle(ctx, msg); err != nil {
			p.logger.Error("consumer failed", "consumer", c.Name(), "message_id", msg.ID, "error", err)
		}
	}
}
