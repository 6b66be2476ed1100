package sender

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	watcherBufferSize      = 64
	defaultWatcherDebounce = 500 * time.Millisecond
)

// Watcher turns filesystem events under the watch root into coalesced nudges.
// A burst of writes to an archive produces one nudge once the burst settles.
type Watcher struct {
	root     string
	filter   func(relPath string) bool
	debounce time.Duration

	rawEvents chan notify.EventInfo
	nudges    chan struct{}
	done      chan struct{}

	mu    sync.Mutex
	timer *time.Timer
	wg    sync.WaitGroup
}

// NewWatcher creates a watcher. filter receives slash-separated paths relative
// to root and returns true for the paths that should cause a nudge.
func NewWatcher(root string, filter func(relPath string) bool) *Watcher {
	return &Watcher{
		root:     root,
		filter:   filter,
		debounce: defaultWatcherDebounce,
		nudges:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Nudges delivers at most one pending signal at a time
func (w *Watcher) Nudges() <-chan struct{} {
	return w.nudges
}

func (w *Watcher) Start(ctx context.Context) error {
	w.rawEvents = make(chan notify.EventInfo, watcherBufferSize)

	if err := notify.Watch(w.root, w.rawEvents, notify.Create, notify.Write, notify.Rename); err != nil {
		return err
	}
	slog.Info("watcher start", "dir", w.root)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	slog.Info("watcher stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			w.handle(event.Path())
		}
	}
}

func (w *Watcher) handle(path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return
	}
	if w.filter != nil && !w.filter(filepath.ToSlash(rel)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.nudge)
}

func (w *Watcher) nudge() {
	select {
	case w.nudges <- struct{}{}:
	default:
	}
}
