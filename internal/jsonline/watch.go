// Flags external modifications of the data file.

package jsonline

import (
	"errors"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

type watcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

func (s *Store[T]) watch() (*watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(s.dataPath); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to watch data file: %w", err), w.Close())
	}
	wt := &watcher{w: w, done: make(chan struct{})}
	go func() {
		defer close(wt.done)
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				s.onEvent(event)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("Error watching data file", "err", err)
			}
		}
	}()
	return wt, nil
}

// close stops the watcher and waits for its goroutine. The Store lock must
// not be held.
func (wt *watcher) close() error {
	err := wt.w.Close()
	<-wt.done
	return err
}

func (s *Store[T]) onEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		s.stale.Store(true)
		s.log.Warn("Data file was moved or removed", "op", event.Op.String())
	case event.Has(fsnotify.Write):
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.f == nil {
			return
		}
		// Our own appends update s.size under the lock before this runs.
		fi, err := os.Stat(s.dataPath)
		if err != nil {
			s.stale.Store(true)
			s.log.Warn("Failed to stat data file", "err", err)
			return
		}
		if size := uint64(fi.Size()); size != s.size { //nolint:gosec // G115: file sizes are not negative.
			if !s.stale.Swap(true) {
				s.log.Warn("Data file modified externally", "want", s.size, "got", size)
			}
		}
	}
}
