package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/clipvault/internal/clipboard"
)

func TestWatcherNotifiesOnIndexWrite(t *testing.T) {
	s := newTestStore(t, Config{})
	w := NewWatcher(s, nil)

	changed := make(chan struct{}, 1)
	w.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	require.NoError(t, w.Start())
	defer w.Stop()
	assert.True(t, w.IsRunning())

	require.NoError(t, s.Write(context.Background(), []*clipboard.Entry{clipboard.NewText("ping")}))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the index write")
	}
}

func TestWatcherStartStop(t *testing.T) {
	s := newTestStore(t, Config{})
	w := NewWatcher(s, nil)

	require.NoError(t, w.Start())
	require.NoError(t, w.Start(), "second start is a no-op")
	w.Stop()
	assert.False(t, w.IsRunning())
	w.Stop() // idempotent
}
