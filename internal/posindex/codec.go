// Encodes and decodes the persisted form of an Index.

package posindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrCorruptIndex is returned by Decode when a blob is not a valid artifact.
var ErrCorruptIndex = errors.New("corrupt index artifact")

// Compression selects how the artifact payload is compressed.
type Compression uint8

const (
	// CompressionGzip uses gzip at best compression. It is the default.
	CompressionGzip Compression = iota
	// CompressionZstd uses zstd at best compression.
	CompressionZstd
	// CompressionSnappy trades size for speed.
	CompressionSnappy
	// CompressionNone stores the payload as is.
	CompressionNone
)

var compressionNames = [...]string{"gzip", "zstd", "snappy", "none"}

func (c Compression) String() string {
	if int(c) < len(compressionNames) {
		return compressionNames[c]
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

// ParseCompression returns the Compression named s. The empty string is gzip.
func ParseCompression(s string) (Compression, error) {
	if s == "" {
		return CompressionGzip, nil
	}
	for i, n := range compressionNames {
		if strings.EqualFold(n, s) {
			return Compression(i), nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q, want one of %s", s, strings.Join(compressionNames[:], ", "))
}

// Artifact is the persisted form of an Index with its freshness fingerprint.
type Artifact struct {
	// EntryCount is the number of entries.
	EntryCount uint64
	// DataSize is the size of the data file when the artifact was written.
	DataSize uint64
	Entries  []Entry
}

// NewArtifact snapshots idx for a data file of dataSize bytes.
func NewArtifact(idx *Index, dataSize uint64) *Artifact {
	return &Artifact{
		EntryCount: uint64(idx.Len()),
		DataSize:   dataSize,
		Entries:    idx.Entries(),
	}
}

// Index returns a new Index holding a copy of the artifact's entries.
func (a *Artifact) Index() *Index {
	return FromEntries(a.Entries)
}

// Blob layout:
//
//	magic "JLIX" | version u8 | compression u8 | crc32(payload) u32 | payload
//
// Uncompressed payload:
//
//	entry count u64 | data size u64 | count * (offset u64 | length u32)
//
// All integers are big endian.
const (
	magic         = "JLIX"
	formatVersion = 1
	headerSize    = len(magic) + 1 + 1 + 4
	fingerprint   = 8 + 8
	entrySize     = 8 + 4
)

// Encode serializes a into a compressed, self-describing blob.
func Encode(a *Artifact, c Compression) ([]byte, error) {
	if err := validate(a); err != nil {
		return nil, fmt.Errorf("invalid artifact: %w", err)
	}
	raw := make([]byte, 0, fingerprint+entrySize*len(a.Entries))
	raw = binary.BigEndian.AppendUint64(raw, a.EntryCount)
	raw = binary.BigEndian.AppendUint64(raw, a.DataSize)
	for _, e := range a.Entries {
		raw = binary.BigEndian.AppendUint64(raw, e.Offset)
		raw = binary.BigEndian.AppendUint32(raw, e.Length)
	}
	payload, err := compress(raw, c)
	if err != nil {
		return nil, fmt.Errorf("failed to compress index with %s: %w", c, err)
	}
	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, magic...)
	out = append(out, formatVersion, byte(c))
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(payload))
	return append(out, payload...), nil
}

// Decode parses a blob produced by Encode.
//
// Every failure wraps ErrCorruptIndex.
func Decode(blob []byte) (*Artifact, error) {
	if len(blob) < headerSize || string(blob[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptIndex)
	}
	if v := blob[len(magic)]; v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, v)
	}
	c := Compression(blob[len(magic)+1])
	payload := blob[headerSize:]
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(blob[len(magic)+2:headerSize]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptIndex)
	}
	raw, err := decompress(payload, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}
	if len(raw) < fingerprint {
		return nil, fmt.Errorf("%w: truncated payload", ErrCorruptIndex)
	}
	a := &Artifact{
		EntryCount: binary.BigEndian.Uint64(raw[0:8]),
		DataSize:   binary.BigEndian.Uint64(raw[8:16]),
	}
	body := raw[fingerprint:]
	if uint64(len(body))%entrySize != 0 || uint64(len(body))/entrySize != a.EntryCount {
		return nil, fmt.Errorf("%w: %d payload bytes for %d entries", ErrCorruptIndex, len(body), a.EntryCount)
	}
	a.Entries = make([]Entry, a.EntryCount)
	for i := range a.Entries {
		b := body[i*entrySize:]
		a.Entries[i] = Entry{Offset: binary.BigEndian.Uint64(b[0:8]), Length: binary.BigEndian.Uint32(b[8:12])}
	}
	if err := validate(a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}
	return a, nil
}

// validate checks what Decode relies on: entries are non-empty, ordered, at
// least one terminator apart and within the data size.
func validate(a *Artifact) error {
	if a.EntryCount != uint64(len(a.Entries)) {
		return fmt.Errorf("entry count %d does not match %d entries", a.EntryCount, len(a.Entries))
	}
	var next uint64
	for i, e := range a.Entries {
		switch {
		case e.Length == 0:
			return fmt.Errorf("entry %d at offset %d is empty", i, e.Offset)
		case e.Offset < next:
			return fmt.Errorf("entry %d at [%d, %d) overlaps the previous one", i, e.Offset, e.End())
		case e.End() > a.DataSize:
			return fmt.Errorf("entry %d at [%d, %d) is past the data size %d", i, e.Offset, e.End(), a.DataSize)
		}
		next = e.End() + 1
	}
	return nil
}

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

func compress(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(raw, nil), nil
	case CompressionSnappy:
		return snappy.Encode(nil, raw), nil
	case CompressionNone:
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
}

func decompress(payload []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(r)
		return raw, errors.Join(err, r.Close())
	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(payload, nil)
	case CompressionSnappy:
		return snappy.Decode(nil, payload)
	case CompressionNone:
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
}
