// Persists encoded artifacts.

package posindex

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// ArtifactStore reads and writes encoded artifacts by name.
//
// Read must return an error wrapping fs.ErrNotExist when name was never
// written. Write must replace the previous blob atomically: a reader sees
// either the old or the new blob, never a mix.
type ArtifactStore interface {
	Read(name string) ([]byte, error)
	Write(name string, blob []byte) error
}

// FileStore stores each artifact in the file called name.
type FileStore struct {
	// NoSync skips fsync of the temporary file before the rename.
	NoSync bool
}

// Read implements ArtifactStore.
func (s *FileStore) Read(name string) ([]byte, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}
	return b, nil
}

// Write implements ArtifactStore by writing a temporary file in the same
// directory and renaming it over name.
func (s *FileStore) Write(name string, blob []byte) error {
	f, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(blob); err != nil {
		return errors.Join(fmt.Errorf("failed to write temp index file: %w", err), f.Close(), os.Remove(tmp))
	}
	if !s.NoSync {
		if err := f.Sync(); err != nil {
			return errors.Join(fmt.Errorf("failed to sync temp index file: %w", err), f.Close(), os.Remove(tmp))
		}
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp index file: %w", err), os.Remove(tmp))
	}
	if err := os.Rename(tmp, name); err != nil {
		return errors.Join(fmt.Errorf("failed to rename index file into place: %w", err), os.Remove(tmp))
	}
	return nil
}

const boltBucket = "artifacts"

// BoltStore keeps the artifacts of many data files in one bbolt database,
// keyed by name.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens or creates the bbolt database at path.
//
// It fails after one second if another process holds the database.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open index catalog %s (it may be locked by another process): %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create bucket: %w", err), db.Close())
	}
	slog.Debug("Index catalog opened", "path", path)
	return &BoltStore{db: db}, nil
}

// Read implements ArtifactStore.
func (s *BoltStore) Read(name string) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(boltBucket)).Get([]byte(name))
		if v == nil {
			return fs.ErrNotExist
		}
		// v is only valid for the life of the transaction.
		blob = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s from catalog: %w", name, err)
	}
	return blob, nil
}

// Write implements ArtifactStore.
func (s *BoltStore) Write(name string, blob []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(name), blob)
	})
	if err != nil {
		return fmt.Errorf("failed to write index %s to catalog: %w", name, err)
	}
	return nil
}

// Delete removes the artifact called name. It is not an error if it is absent.
func (s *BoltStore) Delete(name string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("failed to delete index %s from catalog: %w", name, err)
	}
	return nil
}

// Names returns the names of all stored artifacts.
func (s *BoltStore) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}
	return names, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
