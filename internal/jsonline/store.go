package jsonline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maruel/jsonline/internal/lru"
	"github.com/maruel/jsonline/internal/posindex"
)

const (
	// DataSuffix is appended to the path given to Open to name the data file.
	DataSuffix = ".json"
	// IndexSuffix is appended to the path given to Open to name the index.
	IndexSuffix = ".json.idx"
)

// Paths returns the data file and index artifact paths used for path.
func Paths(path string) (data, index string) {
	base := strings.TrimSuffix(path, DataSuffix)
	return base + DataSuffix, base + IndexSuffix
}

// Store is an append-only list of records of type T persisted as JSONL.
//
// The zero value is a closed Store. Values returned by Get are shared with
// the cache and must not be modified.
type Store[T any] struct {
	mu        sync.Mutex
	dataPath  string
	indexPath string
	opts      Options
	log       *slog.Logger
	artifacts posindex.ArtifactStore

	f     *os.File // nil when closed.
	idx   *posindex.Index
	size  uint64 // Data file size covered by idx.
	tail  bool   // Data file is empty or ends with a terminator.
	cache *lru.Cache[int, T]

	stale   atomic.Bool
	watcher *watcher
	metrics *storeMetrics
}

// Open opens or creates the store at path and loads or rebuilds its index.
//
// Problems with the index artifact are repaired by rebuilding it from the
// data file; errors accessing the data file are returned.
func Open[T any](path string, opts *Options) (*Store[T], error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	dataPath, indexPath := Paths(abs)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil { //nolint:gosec // G301: data directories are shared like the data files.
		return nil, fmt.Errorf("failed to create directory for %s: %w", dataPath, err)
	}
	f, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644) //nolint:gosec // G302: same mode as other data files.
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	s := &Store[T]{
		dataPath:  dataPath,
		indexPath: indexPath,
		opts:      o,
		log:       o.Logger,
		artifacts: o.Artifacts,
		f:         f,
		cache:     lru.New[int, T](cacheSize(o.CacheSize)),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("path", dataPath)
	if s.artifacts == nil {
		s.artifacts = &posindex.FileStore{NoSync: o.NoSync}
	}
	if err := s.loadOrBuild(); err != nil {
		return nil, errors.Join(err, f.Close())
	}
	if o.Registerer != nil {
		if s.metrics, err = newStoreMetrics(o.Registerer, dataPath, s.Stats); err != nil {
			return nil, errors.Join(err, f.Close())
		}
	}
	if o.Watch {
		if s.watcher, err = s.watch(); err != nil {
			s.metrics.unregister()
			return nil, errors.Join(err, f.Close())
		}
	}
	return s, nil
}

// With opens the store at path, calls fn and closes the store, whatever fn
// returns and even if it panics.
func With[T any](path string, opts *Options, fn func(s *Store[T]) error) (err error) {
	s, err := Open[T](path, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

// Close releases the data file and stops the watcher. Closing a closed Store
// is a no-op.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	f, w, m := s.f, s.watcher, s.metrics
	s.f, s.watcher, s.metrics = nil, nil, nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	var errs []error
	if w != nil {
		errs = append(errs, w.close())
	}
	m.unregister()
	if err := f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close data file: %w", err))
	}
	return errors.Join(errs...)
}

// Paths returns the absolute data file and index artifact paths.
func (s *Store[T]) Paths() (data, index string) {
	return s.dataPath, s.indexPath
}

// Len returns the number of records, or 0 if the Store is closed. Use Count
// to tell an empty Store from a closed one.
func (s *Store[T]) Len() int {
	n, _ := s.Count()
	return n
}

// Count returns the number of records.
func (s *Store[T]) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}
	return s.idx.Len(), nil
}

// Get returns the record at ordinal. Negative ordinals count from the end.
func (s *Store[T]) Get(ordinal int) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		var zero T
		return zero, ErrClosed
	}
	return s.get(ordinal)
}

// GetOrDefault is like Get but returns def when ordinal is out of range.
func (s *Store[T]) GetOrDefault(ordinal int, def T) (T, error) {
	v, err := s.Get(ordinal)
	if errors.Is(err, ErrOutOfRange) {
		return def, nil
	}
	return v, err
}

// All iterates over the records in order. It stops after yielding an error.
//
// Each step reads the current length, so records appended during iteration
// are visited, and ranging again starts over.
func (s *Store[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for i := 0; ; i++ {
			s.mu.Lock()
			if s.f == nil {
				s.mu.Unlock()
				var zero T
				yield(zero, ErrClosed)
				return
			}
			if i >= s.idx.Len() {
				s.mu.Unlock()
				return
			}
			v, err := s.get(i)
			s.mu.Unlock()
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// Append adds record at the end of the store.
//
// The record is durable and the index artifact rewritten when Append returns.
func (s *Store[T]) Append(record T) error {
	return s.Extend(slices.Values([]T{record}))
}

// Extend appends records in order with a single write, fsync and index
// persist. If any record fails to encode nothing is written.
func (s *Store[T]) Extend(records iter.Seq[T]) error {
	// Encode outside the lock with offsets relative to the batch start.
	var buf bytes.Buffer
	var entries []posindex.Entry
	for r := range records {
		off := uint64(buf.Len())
		n, err := encodeLine(&buf, r, s.opts.NonStringKeys)
		if err != nil {
			return &EncodeError{Index: len(entries), Err: err}
		}
		entries = append(entries, posindex.Entry{Offset: off, Length: n})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}
	if err := s.checkLocked(); err != nil {
		return err
	}
	data := buf.Bytes()
	if !s.tail {
		// An external writer left the last line unterminated.
		data = append([]byte{posindex.Terminator}, data...)
	}
	base := s.size + uint64(len(data)-buf.Len())
	if _, err := s.f.Write(data); err != nil {
		// Part of the batch may be on disk; force a rebuild.
		s.stale.Store(true)
		return fmt.Errorf("failed to write records: %w", err)
	}
	if !s.opts.NoSync {
		if err := s.f.Sync(); err != nil {
			s.stale.Store(true)
			return fmt.Errorf("failed to sync data file: %w", err)
		}
	}
	for _, e := range entries {
		s.idx.Append(base+e.Offset, e.Length)
	}
	s.size += uint64(len(data))
	s.tail = true
	s.metrics.appended(len(entries))
	return s.persist()
}

// ExtendSlice is Extend for a slice.
func (s *Store[T]) ExtendSlice(records []T) error {
	return s.Extend(slices.Values(records))
}

// RebuildIndex rescans the data file, replaces the index, drops the cache and
// persists the new artifact.
func (s *Store[T]) RebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	return s.rebuild()
}

// Stats is a snapshot of a Store's state.
type Stats struct {
	Records       int
	DataSize      uint64
	Cached        int
	CacheCapacity int
	CacheHits     uint64
	CacheMisses   uint64
	Stale         bool
}

// Stats returns a snapshot of the Store's state.
func (s *Store[T]) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return Stats{}, ErrClosed
	}
	st := Stats{
		Records:       s.idx.Len(),
		DataSize:      s.size,
		Cached:        s.cache.Len(),
		CacheCapacity: s.cache.Cap(),
		Stale:         s.stale.Load(),
	}
	st.CacheHits, st.CacheMisses = s.cache.Stats()
	return st, nil
}

func (s *Store[T]) get(ordinal int) (T, error) {
	var zero T
	i, ok := posindex.Normalize(ordinal, s.idx.Len())
	if !ok {
		return zero, fmt.Errorf("%w: %d not in [-%d, %d)", ErrOutOfRange, ordinal, s.idx.Len(), s.idx.Len())
	}
	if v, ok := s.cache.Get(i); ok {
		return v, nil
	}
	e, err := s.idx.Get(i)
	if err != nil {
		return zero, err
	}
	line := make([]byte, e.Length)
	if _, err := s.f.ReadAt(line, int64(e.Offset)); err != nil { //nolint:gosec // G115: offsets come from a file size.
		return zero, fmt.Errorf("failed to read record %d at offset %d: %w", i, e.Offset, err)
	}
	v, err := decodeLine[T](line)
	if err != nil {
		return zero, &DecodeError{Ordinal: i, Offset: e.Offset, Err: err}
	}
	s.cache.Put(i, v)
	return v, nil
}

func (s *Store[T]) loadOrBuild() error {
	size, err := s.dataSize()
	if err != nil {
		return err
	}
	idx, err := s.load(size)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.log.Debug("No index, building it")
		case errors.Is(err, ErrStaleIndex):
			s.log.Info("Index is stale, rebuilding it", "err", err)
		default:
			s.log.Warn("Index is unusable, rebuilding it", "err", err)
		}
		return s.rebuild()
	}
	s.idx = idx
	s.size = size
	if s.tail, err = s.endsWithTerminator(); err != nil {
		return err
	}
	s.log.Debug("Index loaded", "records", idx.Len(), "size", size)
	return nil
}

// load reads the artifact and validates it against a data file of size bytes.
func (s *Store[T]) load(size uint64) (*posindex.Index, error) {
	blob, err := s.artifacts.Read(s.indexPath)
	if err != nil {
		return nil, err
	}
	a, err := posindex.Decode(blob)
	if err != nil {
		return nil, err
	}
	if a.DataSize != size {
		return nil, fmt.Errorf("%w: index covers %d bytes, data file has %d", ErrStaleIndex, a.DataSize, size)
	}
	idx := a.Index()
	if err := s.probe(idx, size); err != nil {
		return nil, err
	}
	return idx, nil
}

// probe checks that the last indexed record is delimited by terminators in
// the data file. It catches most edits that kept the file size unchanged but
// moved line boundaries.
func (s *Store[T]) probe(idx *posindex.Index, size uint64) error {
	last, ok := idx.Last()
	if !ok {
		return nil
	}
	var b [1]byte
	if last.Offset > 0 {
		if _, err := s.f.ReadAt(b[:], int64(last.Offset-1)); err != nil { //nolint:gosec // G115: offsets come from a file size.
			return fmt.Errorf("failed to probe data file: %w", err)
		}
		if b[0] != posindex.Terminator {
			return fmt.Errorf("%w: no terminator before offset %d", ErrStaleIndex, last.Offset)
		}
	}
	if last.End() < size {
		if _, err := s.f.ReadAt(b[:], int64(last.End())); err != nil { //nolint:gosec // G115: offsets come from a file size.
			return fmt.Errorf("failed to probe data file: %w", err)
		}
		if b[0] != posindex.Terminator {
			return fmt.Errorf("%w: no terminator at offset %d", ErrStaleIndex, last.End())
		}
	}
	return nil
}

func (s *Store[T]) rebuild() error {
	start := time.Now()
	idx, size, err := posindex.Build(io.NewSectionReader(s.f, 0, math.MaxInt64))
	if err != nil {
		return fmt.Errorf("failed to build index of %s: %w", s.dataPath, err)
	}
	s.idx = idx
	s.size = size
	s.cache.Purge()
	s.stale.Store(false)
	if s.tail, err = s.endsWithTerminator(); err != nil {
		return err
	}
	s.metrics.rebuilt()
	s.log.Info("Index rebuilt", "records", idx.Len(), "size", size, "duration", time.Since(start).Round(time.Millisecond))
	return s.persist()
}

func (s *Store[T]) persist() error {
	start := time.Now()
	blob, err := posindex.Encode(posindex.NewArtifact(s.idx, s.size), s.opts.Compression)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := s.artifacts.Write(s.indexPath, blob); err != nil {
		return err
	}
	s.metrics.persisted(time.Since(start))
	s.log.Debug("Index persisted", "records", s.idx.Len(), "bytes", len(blob))
	return nil
}

// cacheSize maps Options.CacheSize to a cache capacity.
func cacheSize(n int) int {
	if n == 0 {
		return DefaultCacheSize
	}
	return max(n, 0)
}

func (s *Store[T]) dataSize() (uint64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat data file: %w", err)
	}
	return uint64(fi.Size()), nil //nolint:gosec // G115: file sizes are not negative.
}

func (s *Store[T]) endsWithTerminator() (bool, error) {
	if s.size == 0 {
		return true, nil
	}
	var b [1]byte
	if _, err := s.f.ReadAt(b[:], int64(s.size-1)); err != nil { //nolint:gosec // G115: offsets come from a file size.
		return false, fmt.Errorf("failed to read end of data file: %w", err)
	}
	return b[0] == posindex.Terminator, nil
}
