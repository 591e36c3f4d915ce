// Package posindex maps record ordinals of a JSONL file to byte ranges.
//
// # Overview
//
// An [Index] is an append-only list of [Entry] values, one per non-empty line
// of the data file, in file order. [Build] constructs one by scanning a file;
// [Encode] and [Decode] convert it to and from a compact, compressed
// [Artifact] that also carries the freshness fingerprint used to detect
// external modification of the data file.
//
// # Artifact storage
//
// [FileStore] keeps the artifact in a sidecar file next to the data file.
// [BoltStore] keeps artifacts for many data files in a single bbolt database.
// Both implement [ArtifactStore] and always replace the artifact atomically.
package posindex

import (
	"errors"
	"fmt"
)

// Terminator is the line terminator separating records.
const Terminator = '\n'

// ErrOutOfRange is returned when an ordinal is outside [-count, count).
var ErrOutOfRange = errors.New("ordinal out of range")

// Entry locates one record in the data file.
//
// Length excludes the line terminator.
type Entry struct {
	Offset uint64
	Length uint32
}

// Entries returns the underlying entries. The caller must not modify them.
func (idx *Index) Entries() []Entry {
	return idx.entries
}

// Normalize converts a possibly negative ordinal to a position in [0, count).
//
// Returns false if ordinal is outside [-count, count).
func Normalize(ordinal, count int) (int, bool) {
	if ordinal < 0 {
		ordinal += count
	}
	if ordinal < 0 || ordinal >= count {
		return 0, false
	}
	return ordinal, true
}
