package jsonline

import (
	"log/slog"

	"github.com/maruel/jsonline/internal/posindex"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCacheSize is the number of decoded records cached by default.
const DefaultCacheSize = 10

// Options configures a Store. A nil *Options means DefaultOptions().
type Options struct {
	// CacheSize is the number of decoded records kept in memory. 0 means
	// DefaultCacheSize, so a partially filled Options keeps the cache; a
	// negative value disables it.
	CacheSize int

	// Compression of the index artifact.
	Compression posindex.Compression

	// NonStringKeys permits encoding maps whose keys are integers or
	// encoding.TextMarshaler; they are written as JSON strings. When false
	// such records are rejected with *UnsupportedKeyError.
	NonStringKeys bool

	// NoSync skips fsync of the data file and index artifact after writes.
	NoSync bool

	// Watch starts an fsnotify watcher flagging external modifications of
	// the data file, see Store.Stale.
	Watch bool

	// Artifacts stores the index artifact. Defaults to a sidecar file.
	Artifacts posindex.ArtifactStore

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer, when set, receives the Store's prometheus collectors. They
	// are unregistered on Close.
	Registerer prometheus.Registerer
}

// DefaultOptions returns the options used when Open is given nil.
func DefaultOptions() Options {
	return Options{CacheSize: DefaultCacheSize}
}
