package posindex

import (
	"bytes"
	"slices"
	"strings"
	"testing"
	"testing/iotest"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		want     []Entry
		wantSize uint64
	}{
		{"empty file", "", nil, 0},
		{"one line", "{\"a\":1}\n", []Entry{{0, 7}}, 8},
		{"two lines", "{\"a\":1}\n{\"b\":2}\n", []Entry{{0, 7}, {8, 7}}, 16},
		{"no trailing terminator", "{\"a\":1}\n{\"b\":2}", []Entry{{0, 7}, {8, 7}}, 15},
		{"empty trailing line", "1\n2\n\n", []Entry{{0, 1}, {2, 1}}, 5},
		{"blank lines skipped", "\n1\n\n22\n", []Entry{{1, 1}, {4, 2}}, 7},
		{"carriage return kept", "1\r\n2\r\n", []Entry{{0, 2}, {3, 2}}, 6},
		{"only terminators", "\n\n\n", nil, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, size, err := Build(strings.NewReader(tt.data))
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if !slices.Equal(idx.Entries(), tt.want) {
				t.Errorf("entries = %+v, want %+v", idx.Entries(), tt.want)
			}
			if size != tt.wantSize {
				t.Errorf("size = %d, want %d", size, tt.wantSize)
			}
		})
	}
}

func TestBuildLongLines(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 3*readBufferSize+17)
	var data []byte
	data = append(data, "1\n"...)
	data = append(data, long...)
	data = append(data, '\n')
	data = append(data, "2"...)

	// OneByteReader forces the slow path through many short reads.
	idx, size, err := Build(iotest.OneByteReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []Entry{
		{0, 1},
		{2, uint32(len(long))},
		{uint64(3 + len(long)), 1},
	}
	if !slices.Equal(idx.Entries(), want) {
		t.Errorf("entries = %+v, want %+v", idx.Entries(), want)
	}
	if size != uint64(len(data)) {
		t.Errorf("size = %d, want %d", size, len(data))
	}
}

func TestBuildReadError(t *testing.T) {
	if _, _, err := Build(iotest.ErrReader(iotest.ErrTimeout)); err == nil {
		t.Fatal("Build succeeded on a failing reader")
	}
}

func TestBuildIdempotent(t *testing.T) {
	data := "{\"a\":1}\n\n{\"b\":[1,2,3]}\n\"s\"\n"
	first, _, err := Build(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := Build(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(first.Entries(), second.Entries()) {
		t.Errorf("rebuilds differ: %+v vs %+v", first.Entries(), second.Entries())
	}
}
