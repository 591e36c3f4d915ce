package posindex

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allCompressions = []Compression{CompressionGzip, CompressionZstd, CompressionSnappy, CompressionNone}

func artifactEqual(a, b *Artifact) bool {
	return a.EntryCount == b.EntryCount && a.DataSize == b.DataSize && slices.Equal(a.Entries, b.Entries)
}

// artifactFromLengths lays out records of the given lengths back to back,
// one terminator apart, the way a data file holds them.
func artifactFromLengths(lengths []uint32) *Artifact {
	idx := New(len(lengths))
	var off uint64
	for _, l := range lengths {
		idx.Append(off, l)
		off += uint64(l) + 1
	}
	return NewArtifact(idx, off)
}

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		a    *Artifact
	}{
		{"empty", NewArtifact(New(0), 0)},
		{"empty with header bytes", NewArtifact(New(0), 3)},
		{"one", artifactFromLengths([]uint32{7})},
		{"several", artifactFromLengths([]uint32{7, 1, 300, 2})},
	}
	for _, c := range allCompressions {
		t.Run(c.String(), func(t *testing.T) {
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					blob, err := Encode(tt.a, c)
					if err != nil {
						t.Fatalf("Encode failed: %v", err)
					}
					got, err := Decode(blob)
					if err != nil {
						t.Fatalf("Decode failed: %v", err)
					}
					if !artifactEqual(got, tt.a) {
						t.Errorf("Decode(Encode(a)) = %+v, want %+v", got, tt.a)
					}
				})
			}
		})
	}
}

func TestCodecDeterministic(t *testing.T) {
	a := artifactFromLengths([]uint32{5, 9, 12})
	for _, c := range allCompressions {
		first, err := Encode(a, c)
		if err != nil {
			t.Fatal(err)
		}
		second, err := Encode(a, c)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(first, second) {
			t.Errorf("%s: two encodings of the same artifact differ", c)
		}
	}
}

// Encode refuses what Decode would reject, so every blob it writes reads back.
func TestEncodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		a    *Artifact
	}{
		{"count mismatch", &Artifact{EntryCount: 2, DataSize: 10, Entries: []Entry{{0, 1}}}},
		{"zero length entry", &Artifact{EntryCount: 1, DataSize: 10, Entries: []Entry{{0, 0}}}},
		{"out of order", &Artifact{EntryCount: 2, DataSize: 10, Entries: []Entry{{5, 3}, {0, 3}}}},
		{"overlapping", &Artifact{EntryCount: 2, DataSize: 10, Entries: []Entry{{0, 4}, {4, 2}}}},
		{"past data size", &Artifact{EntryCount: 1, DataSize: 3, Entries: []Entry{{0, 4}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, c := range allCompressions {
				if _, err := Encode(tt.a, c); err == nil {
					t.Errorf("Encode(%s) accepted %+v", c, tt.a)
				}
			}
		})
	}
	t.Run("from index", func(t *testing.T) {
		idx := New(1)
		idx.Append(0, 0)
		if _, err := Encode(NewArtifact(idx, 1), CompressionGzip); err == nil {
			t.Error("Encode accepted an empty entry")
		}
	})
}

func TestDecodeCorrupt(t *testing.T) {
	valid, err := Encode(artifactFromLengths([]uint32{3, 4}), CompressionGzip)
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(f func(b []byte) []byte) []byte {
		return f(slices.Clone(valid))
	}
	payload := func(count, size uint64, entries ...Entry) []byte {
		b := binary.BigEndian.AppendUint64(nil, count)
		b = binary.BigEndian.AppendUint64(b, size)
		for _, e := range entries {
			b = binary.BigEndian.AppendUint64(b, e.Offset)
			b = binary.BigEndian.AppendUint32(b, e.Length)
		}
		return b
	}
	// handmade wraps an uncompressed payload in a valid header.
	handmade := func(p []byte) []byte {
		b := append([]byte(magic), formatVersion, byte(CompressionNone))
		b = binary.BigEndian.AppendUint32(b, crc32.ChecksumIEEE(p))
		return append(b, p...)
	}
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"short", []byte("JLI")},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b })},
		{"bad version", mutate(func(b []byte) []byte { b[4] = 99; return b })},
		{"bad compression", mutate(func(b []byte) []byte { b[5] = 42; return b })},
		{"flipped payload byte", mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b })},
		{"truncated", valid[:len(valid)-3]},
		{"payload too short", handmade(binary.BigEndian.AppendUint64(nil, 0))},
		{"count mismatch", handmade(payload(2, 10, Entry{0, 1}))},
		{"trailing bytes", handmade(append(payload(1, 10, Entry{0, 1}), 0))},
		{"zero length entry", handmade(payload(1, 10, Entry{0, 0}))},
		{"overlapping entries", handmade(payload(2, 10, Entry{0, 4}, Entry{3, 2}))},
		{"entry past data size", handmade(payload(1, 3, Entry{0, 4}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.blob); !errors.Is(err, ErrCorruptIndex) {
				t.Errorf("Decode error = %v, want ErrCorruptIndex", err)
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	for _, c := range allCompressions {
		got, err := ParseCompression(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCompression(%q) = %v, %v", c.String(), got, err)
		}
	}
	if got, err := ParseCompression(""); err != nil || got != CompressionGzip {
		t.Errorf("ParseCompression(\"\") = %v, %v; want gzip", got, err)
	}
	if got, err := ParseCompression("ZSTD"); err != nil || got != CompressionZstd {
		t.Errorf("ParseCompression(\"ZSTD\") = %v, %v; want zstd", got, err)
	}
	if _, err := ParseCompression("lz4"); err == nil {
		t.Error("ParseCompression(\"lz4\") succeeded")
	}
}

func TestCodecProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	lengths := gen.SliceOf(gen.UInt32Range(1, 1<<20))

	properties.Property("decode inverts encode", prop.ForAll(
		func(ls []uint32, ci uint8) bool {
			a := artifactFromLengths(ls)
			blob, err := Encode(a, allCompressions[int(ci)%len(allCompressions)])
			if err != nil {
				return false
			}
			got, err := Decode(blob)
			return err == nil && artifactEqual(got, a)
		},
		lengths,
		gen.UInt8(),
	))

	properties.Property("consecutive entries are one terminator apart", prop.ForAll(
		func(ls []uint32) bool {
			entries := artifactFromLengths(ls).Entries
			for i := 1; i < len(entries); i++ {
				if entries[i].Offset != entries[i-1].End()+1 {
					return false
				}
			}
			return true
		},
		lengths,
	))

	properties.TestingRun(t)
}
