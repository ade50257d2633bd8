package listener

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/tgbridge/internal/signal"
)

func newTestWatcher(t *testing.T, debounce time.Duration) (w *Watcher, exe, spool string) {
	t.Helper()
	dir := t.TempDir()
	exe = filepath.Join(dir, "bin", "tgbridge")
	spool = filepath.Join(dir, "signals")
	require.NoError(t, os.MkdirAll(filepath.Dir(exe), 0o755))
	require.NoError(t, os.MkdirAll(spool, 0o700))
	require.NoError(t, os.WriteFile(exe, []byte("v1"), 0o755))

	w, err := NewWatcher(exe, spool, debounce)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	return w, exe, spool
}

func TestWatcherReloadsOnceAfterRebuild(t *testing.T) {
	debounce := 100 * time.Millisecond
	w, exe, _ := newTestWatcher(t, debounce)

	require.NoError(t, os.WriteFile(exe, []byte("v2-partial"), 0o755))
	time.Sleep(debounce / 4)
	require.NoError(t, os.WriteFile(exe, []byte("v2"), 0o755))

	select {
	case <-w.Reload():
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the executable changed")
	}
	select {
	case <-w.Reload():
		t.Fatal("a single rebuild produced two reloads")
	case <-time.After(3 * debounce):
	}
}

func TestWatcherWakesOnNewSignal(t *testing.T) {
	w, _, spool := newTestWatcher(t, time.Second)

	_, err := signal.NewWriter(spool).Write(&signal.Signal{Event: signal.EventStop, Window: "w4"})
	require.NoError(t, err)

	select {
	case <-w.Wake():
	case <-time.After(5 * time.Second):
		t.Fatal("no wakeup for a new signal file")
	}
	select {
	case <-w.Reload():
		t.Fatal("a signal file must not trigger a reload")
	default:
	}
}

func TestStepReturnsReloadFirst(t *testing.T) {
	h := newHarness(t)
	reload := make(chan struct{}, 1)
	reload <- struct{}{}
	h.l.reload = reload
	h.write(t, signal.Signal{Event: signal.EventStop, Window: "w4", Pane: "%4", Project: "api"})

	err := h.l.Step(context.Background())
	assert.ErrorIs(t, err, ErrReload)
	assert.Empty(t, h.chat.sent, "no work is done once a reload is due")
}

func TestRunReturnsReload(t *testing.T) {
	h := newHarness(t)
	reload := make(chan struct{}, 1)
	h.l.reload = reload
	reload <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, h.l.Run(ctx), ErrReload)
}
