// ABOUTME: Adapter supervisor owning connection lifecycle and reconnect backoff
// ABOUTME: The only component allowed to call Connect and Disconnect on adapters

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"unigate/internal/adapter"
	"unigate/internal/message"
	"unigate/internal/observability"
	"unigate/internal/pipeline"
)

// channelState is the supervisor's mutable record for one adapter.
type channelState struct {
	connected    bool
	lastError    string
	restartCount int
}

// Supervisor runs one goroutine per adapter: connect with exponential
// backoff, pump Listen into a shared intake, reconnect on failure. A
// separate loop normalizes raw events and hands them to the pipeline.
type Supervisor struct {
	pipeline       *pipeline.Pipeline
	logger         *slog.Logger
	backoffInitial time.Duration
	backoffMax     time.Duration

	mu       sync.Mutex
	adapters map[message.Channel]adapter.Adapter
	states   map[message.Channel]*channelState

	events chan adapter.RawEvent
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor feeding the given pipeline.
func NewSupervisor(p *pipeline.Pipeline, backoffInitial, backoffMax time.Duration) *Supervisor {
	return &Supervisor{
		pipeline:       p,
		logger:         slog.Default().With("component", "supervisor"),
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		adapters:       make(map[message.Channel]adapter.Adapter),
		states:         make(map[message.Channel]*channelState),
		events:         make(chan adapter.RawEvent, 64),
	}
}

// AddAdapter registers an adapter. Must be called before Run.
func (s *Supervisor) AddAdapter(a adapter.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[a.Channel()] = a
	s.states[a.Channel()] = &channelState{}
}

// Run supervises all adapters until the context is cancelled, then
// disconnects them.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	adapters := make([]adapter.Adapter, 0, len(s.adapters))
	for _, a := range s.adapters {
		adapters = append(adapters, a)
	}
	s.mu.Unlock()

	for _, a := range adapters {
		s.wg.Add(1)
		go s.runAdapter(ctx, a)
	}

	s.wg.Add(1)
	go s.normalizeLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()

	for _, a := range adapters {
		if err := a.Disconnect(); err != nil {
			s.logger.Warn("disconnect failed", "channel", a.Channel(), "error", err)
		}
		s.setConnected(a.Channel(), false, "")
	}
	return ctx.Err()
}

// runAdapter owns one adapter's connect/listen/reconnect cycle.
// Reconnect retries are unbounded; a channel that stays down stays
// visible in ChannelStates rather than killing the gateway.
func (s *Supervisor) runAdapter(ctx context.Context, a adapter.Adapter) {
	defer s.wg.Done()
	ch := a.Channel()
	logger := s.logger.With("channel", ch)
	backoff := s.backoffInitial

	for {
		if ctx.Err() != nil {
			return
		}

		if err := a.Connect(ctx); err != nil {
			s.recordFailure(ch, err)
			logger.Warn("connect failed", "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.backoffMax)
			continue
		}

		s.setConnected(ch, true, "")
		logger.Info("adapter connected")
		backoff = s.backoffInitial

		err := a.Listen(ctx, s.events)
		if ctx.Err() != nil {
			return
		}
		s.recordFailure(ch, err)
		logger.Warn("listen ended, reconnecting", "error", err, "retry_in", backoff)

		if err := a.Disconnect(); err != nil {
			logger.Warn("disconnect before reconnect failed", "error", err)
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.backoffMax)
	}
}

// normalizeLoop converts raw events to canonical messages and enqueues
// them, counting unmappable events instead of fabricating records.
func (s *Supervisor) normalizeLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case ev := <-s.events:
			s.mu.Lock()
			a := s.adapters[ev.Channel]
			s.mu.Unlock()
			if a == nil {
				continue
			}

			msg, err := a.Normalize(ev)
			if err != nil {
				if errors.Is(err, adapter.ErrSkip) {
					observability.NormalizeSkips.WithLabelValues(string(ev.Channel)).Inc()
					s.logger.Debug("skipping unmappable event",
						"channel", ev.Channel, "platform_id", ev.PlatformID)
				} else {
					s.logger.Warn("normalize failed",
						"channel", ev.Channel, "platform_id", ev.PlatformID, "error", err)
				}
				continue
			}

			if err := s.pipeline.Enqueue(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("enqueue failed", "message_id", msg.ID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ChannelStates returns a read-only snapshot of adapter health.
func (s *Supervisor) ChannelStates() []message.ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]message.ChannelState, 0, len(s.states))
	for ch, st := range s.states {
		out = append(out, message.ChannelState{
			Channel:      ch,
			Connected:    st.connected,
			LastError:    st.lastError,
			RestartCount: st.restartCount,
		})
	}
	// Stable output for the query API.
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (s *Supervisor) setConnected(ch message.Channel, connected bool, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[ch]; ok {
		st.connected = connected
		if lastError != "" {
			st.lastError = lastError
		}
	}
}

func (s *Supervisor) recordFailure(ch message.Channel, err error) {
	observability.AdapterRestarts.WithLabelValues(string(ch)).Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[ch]; ok {
		st.connected = false
		if err != nil {
			st.lastError = err.Error()
		}
		st.restartCount++
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// sleepCtx waits for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
