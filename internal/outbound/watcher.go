// ABOUTME: Filesystem watcher turning confirmation markers into sends
// ABOUTME: Dropping <draft-id>.confirm into the drafts dir is the human approval gesture

package outbound

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"unigate/internal/store"
)

const confirmExt = ".confirm"

// Watcher monitors the drafts directory for confirmation markers. A
// reviewer approves a draft by creating an empty `<draft-id>.confirm`
// file next to the artifact; the watcher then confirms and submits it
// and removes the marker. A periodic rescan backstops missed events.
type Watcher struct {
	controller   *Controller
	dir          string
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewWatcher creates a watcher over the controller's drafts directory.
func NewWatcher(controller *Controller) *Watcher {
	return &Watcher{
		controller:   controller,
		dir:          controller.opts.DraftsDir,
		logger:       slog.Default().With("component", "confirm-watcher"),
		pollInterval: time.Minute,
	}
}

// Run watches until the context is cancelled. Markers already present
// at startup are handled first.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", "error", err)
		return w.runPoll(ctx)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		w.logger.Warn("cannot watch drafts dir, polling only", "dir", w.dir, "error", err)
		return w.runPoll(ctx)
	}

	w.scan(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("watching for confirmation markers", "dir", w.dir)
	for {
		select {
		case ev := <-watcher.Events:
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				w.maybeHandle(ctx, ev.Name)
			}
		case err := <-watcher.Errors:
			if err != nil {
				w.logger.Warn("watch error", "error", err)
			}
		case <-ticker.C:
			// Safety net for missed events.
			w.scan(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) runPoll(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.scan(ctx)
	for {
		select {
		case <-ticker.C:
			w.scan(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("cannot scan drafts dir", "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.maybeHandle(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *Watcher) maybeHandle(ctx context.Context, path string) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, confirmExt) {
		return
	}
	draftID := strings.TrimSuffix(name, confirmExt)

	_, err := w.controller.Submit(ctx, draftID)
	switch {
	case err == nil:
		w.logger.Info("confirmed draft sent", "draft_id", draftID)
	case errors.Is(err, store.ErrNotFound):
		w.logger.Warn("marker for unknown draft", "draft_id", draftID)
	case errors.Is(err, store.ErrInvalidState):
		// Already sent; stale marker.
		w.logger.Info("marker for finished draft", "draft_id", draftID)
	default:
		w.logger.Error("confirmed send failed", "draft_id", draftID, "error", err)
		// Leave the marker so the rescan can retry.
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("cannot remove marker", "path", path, "error", err)
	}
}
