// ABOUTME: Read-only HTTP query API for health, stats and message browsing
// ABOUTME: External report scripts poll these endpoints; nothing here mutates state

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"unigate/internal/message"
	"unigate/internal/store"
)

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/api/stats", g.handleStats)
	mux.HandleFunc("/api/recent", g.handleRecent)
	mux.HandleFunc("/api/unprocessed", g.handleUnprocessed)
	mux.HandleFunc("/api/channels", g.handleChannels)
	mux.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	return mux
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one channel is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.connectedChannels()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no channels connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d channels)", n)
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, states, err := g.Stats(r.Context())
	if err != nil {
		g.logger.Error("stats query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"total":       stats.TotalCount,
		"by_channel":  stats.CountByChannel,
		"unprocessed": stats.UnprocessedCount,
		"channels":    channelStatesJSON(states),
	})
}

func (g *Gateway) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := store.RecentFilter{}
	if ch := r.URL.Query().Get("channel"); ch != "" {
		parsed := message.ParseChannel(ch)
		if parsed == message.ChannelUnknown {
			http.Error(w, "unknown channel", http.StatusBadRequest)
			return
		}
		filter.Channel = parsed
	}
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		filter.Since = ts
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	msgs, err := g.store.Recent(r.Context(), filter)
	if err != nil {
		g.logger.Error("recent query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"messages": messagesJSON(msgs)})
}

func (g *Gateway) handleUnprocessed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msgs, err := g.store.Unprocessed(r.Context())
	if err != nil {
		g.logger.Error("unprocessed query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"messages": messagesJSON(msgs)})
}

func (g *Gateway) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"channels": channelStatesJSON(g.supervisor.ChannelStates())})
}

// messageJSON is the wire shape for a message, omitting the raw
// platform payload which can be large.
type messageJSON struct {
	ID           string     `json:"id"`
	Channel      string     `json:"channel"`
	Conversation string     `json:"conversation"`
	SenderID     string     `json:"sender_id"`
	SenderName   string     `json:"sender_name"`
	Body         string     `json:"body"`
	Kind         string     `json:"kind"`
	OccurredAt   time.Time  `json:"occurred_at"`
	IsGroup      bool       `json:"is_group"`
	IsMention    bool       `json:"is_mention"`
	ReplyToID    string     `json:"reply_to_id,omitempty"`
	Priority     string     `json:"priority"`
	HasAction    bool       `json:"has_action"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

func messagesJSON(msgs []*message.Message) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageJSON{
			ID:           m.ID,
			Channel:      string(m.Channel),
			Conversation: m.Conversation,
			SenderID:     m.SenderID,
			SenderName:   m.SenderName,
			Body:         m.Body,
			Kind:         string(m.Kind),
			OccurredAt:   m.OccurredAt,
			IsGroup:      m.IsGroup,
			IsMention:    m.IsMention,
			ReplyToID:    m.ReplyToID,
			Priority:     string(m.Priority),
			HasAction:    m.HasAction,
			ProcessedAt:  m.ProcessedAt,
		})
	}
	return out
}

type channelStateJSON struct {
	Channel      string `json:"channel"`
	Connected    bool   `json:"connected"`
	LastError    string `json:"last_error,omitempty"`
	RestartCount int    `json:"restart_count"`
}

func channelStatesJSON(states []message.ChannelState) []channelStateJSON {
	out := make([]channelStateJSON, 0, len(states))
	for _, st := range states {
		out = append(out, channelStateJSON{
			Channel:      string(st.Channel),
			Connected:    st.Connected,
			LastError:    st.LastError,
			RestartCount: st.RestartCount,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
