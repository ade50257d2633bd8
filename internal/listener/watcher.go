package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agent-command/tgbridge/internal/logger"
)

// Watcher turns filesystem events into loop wakeups: a new signal file wakes
// the loop early, a rebuilt executable asks for a reload once writes settle.
type Watcher struct {
	fs       *fsnotify.Watcher
	exe      string
	spool    string
	debounce time.Duration
	reload   chan struct{}
	wake     chan struct{}
}

// NewWatcher watches the directory of exe and the spool directory. An empty
// exe disables reload detection.
func NewWatcher(exe, spoolDir string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w := &Watcher{
		fs:       fw,
		spool:    filepath.Clean(spoolDir),
		debounce: debounce,
		reload:   make(chan struct{}, 1),
		wake:     make(chan struct{}, 1),
	}
	if exe != "" {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		w.exe = filepath.Clean(exe)
		if err := fw.Add(filepath.Dir(w.exe)); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.exe), err)
		}
	}
	if err := fw.Add(w.spool); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", w.spool, err)
	}
	return w, nil
}

func (w *Watcher) Reload() <-chan struct{} { return w.reload }
func (w *Watcher) Wake() <-chan struct{}   { return w.wake }

// Run forwards events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()
	var settle *time.Timer
	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			switch {
			case w.isSignal(ev):
				notify(w.wake)
			case w.isExe(ev):
				if settle == nil {
					settle = time.NewTimer(w.debounce)
				} else {
					if !settle.Stop() {
						select {
						case <-settle.C:
						default:
						}
					}
					settle.Reset(w.debounce)
				}
				settled = settle.C
			}
		case <-settled:
			settled = nil
			logger.Infof("listener: %s changed, reloading", w.exe)
			notify(w.reload)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warnf("listener: filesystem watcher: %v", err)
		}
	}
}

func (w *Watcher) isSignal(ev fsnotify.Event) bool {
	return ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 &&
		filepath.Dir(ev.Name) == w.spool &&
		strings.HasSuffix(ev.Name, ".json")
}

func (w *Watcher) isExe(ev fsnotify.Event) bool {
	return w.exe != "" && filepath.Clean(ev.Name) == w.exe &&
		ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// notify is a non-blocking send; one pending wakeup is enough.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
