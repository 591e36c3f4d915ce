// Encodes records as single JSON lines.

package jsonline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// maxKeyCheckDepth bounds the key check; json.Encoder reports cycles past it.
const maxKeyCheckDepth = 1000

// encodeLine appends v and a terminator to buf and returns the length of the
// JSON text. On error buf is left unchanged.
func encodeLine(buf *bytes.Buffer, v any, nonStringKeys bool) (uint32, error) {
	if !nonStringKeys {
		if err := checkKeys(reflect.ValueOf(v), 0); err != nil {
			return 0, err
		}
	}
	start := buf.Len()
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode writes compact JSON followed by '\n'.
	if err := enc.Encode(v); err != nil {
		buf.Truncate(start)
		return 0, err
	}
	n := buf.Len() - start - 1
	if uint64(n) > math.MaxUint32 {
		buf.Truncate(start)
		return 0, fmt.Errorf("record is %d bytes, larger than the %d bytes limit", n, uint64(math.MaxUint32))
	}
	return uint32(n), nil
}

func decodeLine[T any](line []byte) (T, error) {
	var v T
	err := json.Unmarshal(line, &v)
	return v, err
}

// checkKeys returns an *UnsupportedKeyError if v holds a map whose keys are
// not strings.
func checkKeys(v reflect.Value, depth int) error {
	if depth > maxKeyCheckDepth {
		return nil
	}
	switch v.Kind() { //nolint:exhaustive // Scalars cannot hold maps.
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return checkKeys(v.Elem(), depth+1)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return &UnsupportedKeyError{Type: v.Type()}
		}
		for it := v.MapRange(); it.Next(); {
			if err := checkKeys(it.Value(), depth+1); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			// []byte is encoded as base64.
			return nil
		}
		for i := range v.Len() {
			if err := checkKeys(v.Index(i), depth+1); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			if !t.Field(i).IsExported() || t.Field(i).Tag.Get("json") == "-" {
				continue
			}
			if err := checkKeys(v.Field(i), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
