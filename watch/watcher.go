// Package watch implements spec.md §4.C: debounced filesystem-change
// notification for a set of path roots. None of the teacher's own
// dependencies cover this concern, so it is grounded on the
// filesystem-watching libraries used by the domain-adjacent dev-runner
// and workflow-runner examples retrieved alongside the teacher
// (github.com/fsnotify/fsnotify), per SPEC_FULL.md §14.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/synthesize/synthesize/event"
	"github.com/synthesize/synthesize/internal/logging"
)

// DefaultDebounce is the default quiet window from spec.md §4.C.
const DefaultDebounce = 150 * time.Millisecond

// Watcher observes a set of path roots recursively and publishes one
// event.WatchEvent per debounce window of quiet, carrying the distinct
// set of affected paths.
type Watcher struct {
	fsw      *fsnotify.Watcher
	bus      *event.Bus
	log      logging.Logger
	roots    []string
	debounce time.Duration
}

// New validates that every root exists and constructs a Watcher over
// them. A non-existent root at construction time is reported as a
// *NonExistentRootError (spec.md §4.C); the caller is expected to surface
// that before execution begins.
func New(bus *event.Bus, log logging.Logger, roots []string, debounce time.Duration) (*Watcher, error) {
	if debounce < 0 {
		debounce = DefaultDebounce
	}

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			return nil, &NonExistentRootError{Root: root, Err: err}
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		bus:      bus,
		log:      log.WithModule("watch"),
		roots:    roots,
		debounce: debounce,
	}

	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	return w, nil
}

// addRecursive registers root and every subdirectory it currently
// contains, since fsnotify does not recurse on its own.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// A root that disappears mid-walk is tolerated, not fatal.
			return nil
		}
		if d.IsDir() {
			if addErr := w.fsw.Add(path); addErr != nil {
				w.log.Warn("failed to watch directory", logging.Str("path", path), logging.Err(addErr))
			}
		}
		return nil
	})
}

// Run consumes fsnotify events until ctx is cancelled, debouncing them
// into event.WatchEvent publications on the bus. Run blocks; call it in
// its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		w.bus.Publish(event.WatchEvent{Paths: paths, At: time.Now()})
		pending = make(map[string]struct{})
	}

	defer func() {
		if timer != nil {
			timer.Stop()
		}
		w.fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			clean := filepath.Clean(ev.Name)
			pending[clean] = struct{}{}

			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(clean); err == nil && info.IsDir() {
					if err := w.fsw.Add(clean); err != nil {
						w.log.Warn("failed to watch new directory", logging.Str("path", clean), logging.Err(err))
					}
				}
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			flush()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// A watch root that disappeared (ENOENT/IDENT removed) is
			// tolerated: no crash, simply no more events for that root.
			w.log.Warn("watcher error", logging.Err(err))
		}
	}
}

// Close releases the underlying OS watch.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// NonExistentRootError reports that a watch root did not exist at
// construction time (spec.md §4.C: "Non-existent roots at startup are an
// error").
type NonExistentRootError struct {
	Root string
	Err  error
}

func (e *NonExistentRootError) Error() string {
	return "watch root does not exist: " + e.Root + ": " + e.Err.Error()
}

func (e *NonExistentRootError) Unwrap() error { return e.Err }
