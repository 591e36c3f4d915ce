package jsonline

import (
	"fmt"
)

// Check compares the data file size with the size covered by the index,
// without rescanning. It returns an error wrapping ErrStaleIndex if they
// differ or if the watcher saw an external modification.
//
// Check does not repair the index; call RebuildIndex.
func (s *Store[T]) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	return s.checkLocked()
}

// Stale reports whether an external modification of the data file was
// observed since the index was last built.
func (s *Store[T]) Stale() bool {
	return s.stale.Load()
}

func (s *Store[T]) checkLocked() error {
	if s.stale.Load() {
		return fmt.Errorf("%w: data file was modified externally, rebuild the index", ErrStaleIndex)
	}
	size, err := s.dataSize()
	if err != nil {
		return err
	}
	if size != s.size {
		s.stale.Store(true)
		s.log.Warn("Data file changed size behind the index", "want", s.size, "got", size)
		return fmt.Errorf("%w: index covers %d bytes, data file has %d", ErrStaleIndex, s.size, size)
	}
	return nil
}
