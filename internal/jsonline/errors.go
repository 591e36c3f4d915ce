package jsonline

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"

	"github.com/maruel/jsonline/internal/posindex"
)

var (
	// ErrOutOfRange is returned for an ordinal outside [-Len(), Len()).
	ErrOutOfRange = posindex.ErrOutOfRange
	// ErrClosed is returned by operations on a closed Store. It wraps
	// fs.ErrClosed.
	ErrClosed = fmt.Errorf("jsonline: %w", fs.ErrClosed)
	// ErrStaleIndex means the data file changed behind the Store's back.
	ErrStaleIndex = errors.New("index is stale")
)

// DecodeError is returned when a line is not valid JSON for the record type.
type DecodeError struct {
	Ordinal int
	Offset  uint64
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode record %d at offset %d: %v", e.Ordinal, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is returned when a record cannot be encoded. Index is the
// position of the record in the batch given to Extend.
type EncodeError struct {
	Index int
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to encode record %d of the batch: %v", e.Index, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// UnsupportedKeyError is returned when a map with non-string keys is encoded
// and Options.NonStringKeys is false.
type UnsupportedKeyError struct {
	Type reflect.Type
}

func (e *UnsupportedKeyError) Error() string {
	return fmt.Sprintf("map key type %s is not a string", e.Type.Key())
}
