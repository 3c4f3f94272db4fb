package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mosberg/entomology/internal/core/observability/log"
)

type reloadEvent struct {
	name     string
	reloaded bool
	err      error
}

func TestWatcherReloadsChangedDocument(t *testing.T) {
	storage := NewFileStorage(t.TempDir(), JSONCodec{})
	store := NewStore(storage, nil, log.NewNop())
	_, err := store.Load("mechanics", "")
	require.NoError(t, err)

	events := make(chan reloadEvent, 16)
	w := NewWatcher(store, storage, log.NewNop(),
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func(name string, reloaded bool, err error) {
			events <- reloadEvent{name, reloaded, err}
		}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { assert.NoError(t, w.Stop()) }()

	require.NoError(t, storage.Write("mechanics", []byte(`{"version":"1.0.0","enabled":false}`)))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			assert.Equal(t, "mechanics", ev.name)
			if !ev.reloaded {
				continue
			}
			assert.NoError(t, ev.err)
			assert.False(t, Get(store, "mechanics", "enabled", true))
			return
		case <-deadline:
			t.Fatal("watcher did not reload the document")
		}
	}
}

func waitForReload(t *testing.T, events <-chan reloadEvent, name string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.name == name && ev.reloaded {
				require.NoError(t, ev.err)
				return
			}
		case <-deadline:
			t.Fatalf("watcher did not reload %s", name)
		}
	}
}

func TestWatcherRestart(t *testing.T) {
	storage := NewFileStorage(t.TempDir(), JSONCodec{})
	store := NewStore(storage, nil, log.NewNop())
	_, err := store.Load("mechanics", "")
	require.NoError(t, err)

	events := make(chan reloadEvent, 16)
	w := NewWatcher(store, storage, log.NewNop(),
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func(name string, reloaded bool, err error) {
			events <- reloadEvent{name, reloaded, err}
		}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	assert.ErrorIs(t, w.Start(ctx), ErrWatcherRunning)
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "second stop is a no-op")

	require.NoError(t, w.Start(ctx))
	defer func() { assert.NoError(t, w.Stop()) }()

	require.NoError(t, storage.Write("mechanics", []byte(`{"version":"1.0.0","enabled":false}`)))
	waitForReload(t, events, "mechanics")
	assert.False(t, Get(store, "mechanics", "enabled", true))

	require.NoError(t, storage.Write("mechanics", []byte(`{"version":"1.0.0","enabled":true}`)))
	waitForReload(t, events, "mechanics")
	assert.True(t, Get(store, "mechanics", "enabled", false))
}

func fsnotifyWrite(name string) fsnotify.Event {
	return fsnotify.Event{Name: name, Op: fsnotify.Write}
}

func TestWatcherIgnoresUnloadedAndForeignFiles(t *testing.T) {
	storage := NewFileStorage(t.TempDir(), JSONCodec{})
	store := NewStore(storage, nil, log.NewNop())
	require.NoError(t, os.MkdirAll(storage.Root(), 0o755))

	w := NewWatcher(store, storage, log.NewNop())
	_, ok := w.documentName(fsnotifyWrite(storage.Path("unloaded")))
	assert.False(t, ok)
	_, ok = w.documentName(fsnotifyWrite(storage.Root() + "/notes.txt"))
	assert.False(t, ok)
	_, ok = w.documentName(fsnotifyWrite(storage.Root() + "/.mechanics-123.tmp"))
	assert.False(t, ok)

	_, err := store.Load("mechanics", "")
	require.NoError(t, err)
	name, ok := w.documentName(fsnotifyWrite(storage.Path("mechanics")))
	assert.True(t, ok)
	assert.Equal(t, "mechanics", name)

	assert.NoError(t, w.Stop(), "stopping an unstarted watcher is a no-op")
}
