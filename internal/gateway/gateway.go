// ABOUTME: Gateway orchestrator wiring store, pipeline, adapters and the query API
// ABOUTME: Manages startup order and graceful shutdown of all components

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"unigate/internal/adapter"
	"unigate/internal/config"
	"unigate/internal/dedupe"
	"unigate/internal/message"
	"unigate/internal/observability"
	"unigate/internal/outbound"
	"unigate/internal/pipeline"
	"unigate/internal/store"
)

const (
	dedupeWindow  = 5 * time.Minute
	dedupeEntries = 100_000
)

// Gateway composes the full ingestion and outbound stack behind a
// single Run/Shutdown lifecycle.
type Gateway struct {
	config     *config.Config
	store      store.Store
	dedupe     *dedupe.Cache
	pipeline   *pipeline.Pipeline
	supervisor *Supervisor
	controller *outbound.Controller
	watcher    *outbound.Watcher
	httpServer *http.Server
	registry   *prometheus.Registry
	logger     *slog.Logger
}

// New builds a gateway from configuration. Adapters for disabled
// channels are not constructed.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	dedupeCache := dedupe.New(dedupeWindow, dedupeEntries)

	classifier := pipeline.NewClassifier(
		cfg.Pipeline.UrgentKeywords,
		cfg.Pipeline.MentionStaleMedium,
		cfg.Pipeline.MentionStaleHigh,
	)
	pipe := pipeline.New(s, classifier, dedupeCache, pipeline.Options{
		QueueSize: cfg.Pipeline.QueueSize,
		Workers:   cfg.Pipeline.Workers,
	})
	pipe.Register(pipeline.NewNotifyConsumer(cfg.Pipeline.NotifyRatePerMinute))

	controller, err := outbound.NewController(s, outbound.Options{
		DraftsDir:         cfg.Outbound.DraftsDir,
		MaxSendRetries:    cfg.Outbound.MaxSendRetries,
		SendRatePerMinute: cfg.Outbound.SendRatePerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("creating outbound controller: %w", err)
	}

	supervisor := NewSupervisor(pipe, cfg.Supervisor.BackoffInitial, cfg.Supervisor.BackoffMax)

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return nil, err
	}
	for _, a := range adapters {
		supervisor.AddAdapter(a)
		controller.RegisterAdapter(a)
	}

	registry := prometheus.NewRegistry()
	observability.Register(registry)

	gw := &Gateway{
		config:     cfg,
		store:      s,
		dedupe:     dedupeCache,
		pipeline:   pipe,
		supervisor: supervisor,
		controller: controller,
		watcher:    outbound.NewWatcher(controller),
		registry:   registry,
		logger:     logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Controller exposes the outbound controller for CLI-driven drafting.
func (g *Gateway) Controller() *outbound.Controller {
	return g.controller
}

// buildAdapters constructs adapters for every enabled channel.
func buildAdapters(cfg *config.Config) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Channels.Telegram.Enabled {
		creds, err := adapter.LoadTelegramCredentials(cfg.Channels.Telegram.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("telegram credentials: %w", err)
		}
		users, err := parseUserIDs(cfg.Channels.Telegram.AllowedUsers)
		if err != nil {
			return nil, fmt.Errorf("telegram allowed_users: %w", err)
		}
		adapters = append(adapters, adapter.NewTelegramAdapter(creds, users))
	}

	if cfg.Channels.Discord.Enabled {
		creds, err := adapter.LoadDiscordCredentials(cfg.Channels.Discord.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("discord credentials: %w", err)
		}
		adapters = append(adapters, adapter.NewDiscordAdapter(creds,
			cfg.Channels.Discord.AllowedGuilds,
			cfg.Channels.Discord.AllowedChannels))
	}

	return adapters, nil
}

func parseUserIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		id, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Run starts every component and blocks until the context is canceled
// or a component fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 4)
	go func() {
		if err := g.pipeline.Run(runCtx); err != nil && runCtx.Err() == nil {
			errCh <- fmt.Errorf("pipeline: %w", err)
		}
	}()
	go func() {
		if err := g.supervisor.Run(runCtx); err != nil && runCtx.Err() == nil {
			errCh <- fmt.Errorf("supervisor: %w", err)
		}
	}()
	go func() {
		if err := g.watcher.Run(runCtx); err != nil && runCtx.Err() == nil {
			errCh <- fmt.Errorf("confirm watcher: %w", err)
		}
	}()
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("component failed", "error", serverErr)
	}
	cancel()

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	g.dedupe.Close()
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	g.logger.Info("gateway stopped")
	return nil
}

// connectedChannels counts adapters currently connected.
func (g *Gateway) connectedChannels() int {
	n := 0
	for _, st := range g.supervisor.ChannelStates() {
		if st.Connected {
			n++
		}
	}
	return n
}

// Stats merges store statistics with live channel state.
func (g *Gateway) Stats(ctx context.Context) (*store.Stats, []message.ChannelState, error) {
	stats, err := g.store.Stats(ctx)
	if err != nil {
		return nil, nil, err
	}
	return stats, g.supervisor.ChannelStates(), nil
}
