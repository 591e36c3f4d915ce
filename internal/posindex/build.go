package posindex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
)

// readBufferSize is the read buffer used while scanning a data file.
const readBufferSize = 64 * 1024

// Build scans r from its start and returns the index of every non-empty line
// along with the number of bytes read.
//
// A last line without terminator is indexed; the empty line after a final
// terminator is not. Lines longer than the read buffer are supported.
func Build(r io.Reader) (*Index, uint64, error) {
	br := bufio.NewReaderSize(r, readBufferSize)
	idx := New(0)
	var pos, start uint64
	for {
		chunk, err := br.ReadSlice(Terminator)
		pos += uint64(len(chunk))
		switch {
		case err == nil:
			// chunk ends with the terminator.
			if err := idx.add(start, pos-1-start); err != nil {
				return nil, 0, err
			}
			start = pos
		case errors.Is(err, bufio.ErrBufferFull):
			// Line continues in the next chunk.
		case errors.Is(err, io.EOF):
			if err := idx.add(start, pos-start); err != nil {
				return nil, 0, err
			}
			return idx, pos, nil
		default:
			return nil, 0, fmt.Errorf("failed to scan data file at offset %d: %w", pos, err)
		}
	}
}

func (idx *Index) add(offset, length uint64) error {
	if length == 0 {
		return nil
	}
	if length > math.MaxUint32 {
		return fmt.Errorf("line at offset %d is %d bytes, larger than the %d bytes limit", offset, length, uint64(math.MaxUint32))
	}
	idx.Append(offset, uint32(length))
	return nil
}
