package jsonline

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeLine(t *testing.T) {
	type inner struct {
		M map[int]int
	}
	type hidden struct {
		M map[int]int `json:"-"`
		m map[int]int
	}
	for _, tc := range []struct {
		name    string
		v       any
		want    string
		wantKey bool
	}{
		{"string", "a\nb", `"a\nb"`, false},
		{"html", "<a&b>", `"<a&b>"`, false},
		{"map", map[string]any{"b": 1, "a": []int{2}}, `{"a":[2],"b":1}`, false},
		{"nil", nil, `null`, false},
		{"bytes", []byte("hi"), `"aGk="`, false},
		{"int keys", map[int]string{1: "x"}, ``, true},
		{"nested", []any{map[string]any{"x": map[float64]int{1: 1}}}, ``, true},
		{"struct field", inner{M: map[int]int{1: 1}}, ``, true},
		{"pointer", &inner{M: map[int]int{}}, ``, true},
		{"ignored fields", hidden{M: map[int]int{1: 1}, m: map[int]int{1: 1}}, `{}`, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			buf.WriteString("prefix")
			n, err := encodeLine(&buf, tc.v, false)
			if tc.wantKey {
				var uke *UnsupportedKeyError
				if !errors.As(err, &uke) {
					t.Fatalf("encodeLine error = %v, want *UnsupportedKeyError", err)
				}
				if buf.String() != "prefix" {
					t.Errorf("buffer modified on error: %q", buf.String())
				}
				return
			}
			if err != nil {
				t.Fatalf("encodeLine failed: %v", err)
			}
			if want := "prefix" + tc.want + "\n"; buf.String() != want {
				t.Errorf("buffer = %q, want %q", buf.String(), want)
			}
			if int(n) != len(tc.want) {
				t.Errorf("length = %d, want %d", n, len(tc.want))
			}
		})
	}
}

func TestEncodeLineNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	if _, err := encodeLine(&buf, map[int]string{2: "b", 1: "a"}, true); err != nil {
		t.Fatal(err)
	}
	if want := `{"1":"a","2":"b"}` + "\n"; buf.String() != want {
		t.Errorf("buffer = %q, want %q", buf.String(), want)
	}
	got, err := decodeLine[map[int]string]([]byte(`{"1":"a","2":"b"}`))
	if err != nil {
		t.Fatal(err)
	}
	if want := map[int]string{1: "a", 2: "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("decodeLine = %v, want %v", got, want)
	}
}

func TestEncodeLineUnsupported(t *testing.T) {
	var buf bytes.Buffer
	if _, err := encodeLine(&buf, make(chan int), false); err == nil {
		t.Fatal("encodeLine of a channel succeeded")
	}
	if buf.Len() != 0 {
		t.Errorf("buffer modified on error: %q", buf.String())
	}
}
