package config

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Mosberg/entomology/internal/core/observability/log"
)

const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads loaded documents when their files change on disk. Bursts
// of events are coalesced per debounce window, and a document is reloaded
// only when its content hash differs from the last bytes the store saw.
type Watcher struct {
	store    *Store
	dir      string
	suffix   string
	debounce time.Duration
	logger   log.Log

	mu  sync.Mutex
	run *watchRun

	// onReload is invoked after every debounced flush; tests use it to synchronise.
	onReload func(name string, reloaded bool, err error)
}

// watchRun is the state of one Start/Stop cycle. A stopped watcher can be
// started again.
type watchRun struct {
	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
}

type WatcherOption func(*Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithReloadHook(fn func(name string, reloaded bool, err error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

func NewWatcher(store *Store, storage *FileStorage, logger log.Log, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		store:    store,
		dir:      storage.Root(),
		suffix:   "." + storage.Codec().Extension(),
		debounce: DefaultDebounce,
		logger:   logger.Named("config.watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the storage root. The watcher stops when ctx is
// cancelled or Stop is called, and may be started again after Stop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.run != nil {
		return ErrWatcherRunning
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating file watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config: watching %s: %w", w.dir, err)
	}
	run := &watchRun{
		fsw:  fsw,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	w.run = run
	go w.loop(ctx, run)
	w.logger.Info("Watching configuration directory", log.String("dir", w.dir))
	return nil
}

// Stop ends the current run and closes its file watcher. Stopping a watcher
// that is not running is a no-op.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	run := w.run
	w.run = nil
	w.mu.Unlock()
	if run == nil {
		return nil
	}
	close(run.stop)
	<-run.done
	return run.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context, run *watchRun) {
	defer close(run.done)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-run.stop:
			return
		case ev, ok := <-run.fsw.Events:
			if !ok {
				return
			}
			name, ok := w.documentName(ev)
			if !ok {
				continue
			}
			pending[name] = struct{}{}
			timer.Reset(w.debounce)
		case err, ok := <-run.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", log.Error(err))
		case <-timer.C:
			w.flush(pending)
			clear(pending)
		}
	}
}

func (w *Watcher) documentName(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return "", false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, w.suffix) {
		return "", false
	}
	name := strings.TrimSuffix(base, w.suffix)
	return name, w.store.IsLoaded(name)
}

func (w *Watcher) flush(pending map[string]struct{}) {
	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		reloaded, err := w.store.ReloadIfChanged(name)
		if err != nil {
			w.logger.Warn("Hot reload rejected", log.String("document", name), log.Error(err))
		}
		if w.onReload != nil {
			w.onReload(name, reloaded, err)
		}
	}
}
