// ABOUTME: Tests for the confirmation marker watcher
// ABOUTME: Covers marker-driven sends, stale markers and retry on failure

package outbound

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unigate/internal/message"
)

func waitForCondition(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatcher_MarkerTriggersSend(t *testing.T) {
	c, mock, st := setupController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(c)
	go w.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	draft, err := c.Draft(ctx, message.ChannelTelegram, "-100", "marker send")
	require.NoError(t, err)

	marker := filepath.Join(c.opts.DraftsDir, draft.ID+confirmExt)
	require.NoError(t, os.WriteFile(marker, nil, 0644))

	waitForCondition(t, func() bool { return len(mock.Sent()) == 1 }, "marker never triggered a send")

	stored, err := st.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.True(t, stored.Sent())

	waitForCondition(t, func() bool {
		_, err := os.Stat(marker)
		return os.IsNotExist(err)
	}, "marker not cleaned up")
}

func TestWatcher_HandlesPreexistingMarker(t *testing.T) {
	c, mock, _ := setupController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	draft, err := c.Draft(ctx, message.ChannelTelegram, "-100", "early bird")
	require.NoError(t, err)

	// Marker exists before the watcher starts.
	marker := filepath.Join(c.opts.DraftsDir, draft.ID+confirmExt)
	require.NoError(t, os.WriteFile(marker, nil, 0644))

	w := NewWatcher(c)
	go w.Run(ctx)

	waitForCondition(t, func() bool { return len(mock.Sent()) == 1 }, "startup scan missed the marker")
}

func TestWatcher_UnknownDraftMarkerRemoved(t *testing.T) {
	c, mock, _ := setupController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	marker := filepath.Join(c.opts.DraftsDir, "bogus-id"+confirmExt)
	require.NoError(t, os.WriteFile(marker, nil, 0644))

	w := NewWatcher(c)
	go w.Run(ctx)

	waitForCondition(t, func() bool {
		_, err := os.Stat(marker)
		return os.IsNotExist(err)
	}, "bogus marker not cleaned up")
	assert.Empty(t, mock.Sent())
}

func TestWatcher_IgnoresNonMarkerFiles(t *testing.T) {
	c, mock, _ := setupController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(c)
	go w.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	// Draft artifacts themselves appear in the watched dir and must not
	// trigger anything.
	_, err := c.Draft(ctx, message.ChannelTelegram, "-100", "just a draft")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, mock.Sent())
}
