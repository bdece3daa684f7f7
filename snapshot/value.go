package snapshot

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Attribute values are kept in a closed canonical domain:
//
//	nil, bool, string, int64, float64, []any, map[string]any
//
// Every backend round-trips this domain exactly, so strict equality after a
// load means the same thing as strict equality before the save.

const maxDepth = 64

var (
	timeType          = reflect.TypeOf(time.Time{})
	jsonNumberType    = reflect.TypeOf(json.Number(""))
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Canonical converts v into the canonical attribute domain.
func Canonical(v any) (any, error) {
	return canonical(reflect.ValueOf(v), "", 0)
}

// CanonicalMap converts every value of m into the canonical domain.
// A nil map yields an empty one.
func CanonicalMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		c, err := canonical(reflect.ValueOf(v), k, 0)
		if err != nil {
			return nil, err
		}
		out[k] = c
	}
	return out, nil
}

func canonical(rv reflect.Value, path string, depth int) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	if depth > maxDepth {
		return nil, &SerializationError{Type: rv.Type().String(), Path: path, Reason: "nesting too deep"}
	}
	t := rv.Type()
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return canonical(rv.Elem(), path, depth+1)
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		if !pointerOnlyMarshaler(t) {
			return canonical(rv.Elem(), path, depth+1)
		}
	}

	switch {
	case t == timeType && rv.CanInterface():
		return rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano), nil
	case t == jsonNumberType:
		return numberValue(json.Number(rv.String()))
	case t.Implements(jsonMarshalerType) && rv.CanInterface():
		data, err := rv.Interface().(json.Marshaler).MarshalJSON()
		if err != nil {
			return nil, &SerializationError{Type: t.String(), Path: path, Reason: err.Error()}
		}
		v, err := decodeWire(data)
		if err != nil {
			return nil, &SerializationError{Type: t.String(), Path: path, Reason: err.Error()}
		}
		return v, nil
	case t.Implements(textMarshalerType) && rv.CanInterface():
		text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, &SerializationError{Type: t.String(), Path: path, Reason: err.Error()}
		}
		return string(text), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, &SerializationError{Type: t.String(), Path: path, Reason: "unsigned value overflows int64"}
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &SerializationError{Type: t.String(), Path: path, Reason: "NaN and Inf are not representable"}
		}
		return f, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes()), nil
		}
		return canonicalList(rv, path, depth)
	case reflect.Array:
		return canonicalList(rv, path, depth)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		return canonicalMapValue(rv, path, depth)
	case reflect.Struct:
		fields, _, err := structFields(rv, path, depth)
		if err != nil {
			return nil, err
		}
		return fields, nil
	default:
		return nil, &SerializationError{Type: t.String(), Path: path, Reason: "unsupported kind " + rv.Kind().String()}
	}
}

// pointerOnlyMarshaler reports whether the pointer type t marshals itself
// through a method its element type does not have.
func pointerOnlyMarshaler(t reflect.Type) bool {
	et := t.Elem()
	return (t.Implements(jsonMarshalerType) && !et.Implements(jsonMarshalerType)) ||
		(t.Implements(textMarshalerType) && !et.Implements(textMarshalerType))
}

func canonicalList(rv reflect.Value, path string, depth int) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		v, err := canonical(rv.Index(i), joinPath(path, strconv.Itoa(i)), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func canonicalMapValue(rv reflect.Value, path string, depth int) (map[string]any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, &SerializationError{Type: rv.Type().String(), Path: path, Reason: err.Error()}
		}
		v, err := canonical(iter.Value(), joinPath(path, key), depth+1)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	if k.Type().Implements(textMarshalerType) {
		text, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", err
		}
		return string(text), nil
	}
	return "", fmt.Errorf("unsupported map key type %s", k.Type())
}

func joinPath(path, elem string) string {
	if path == "" {
		return elem
	}
	return path + "." + elem
}

// EncodeValue marshals a canonical value to JSON. Floats always carry a
// fraction or exponent so DecodeValue can tell them apart from integers.
func EncodeValue(v any) ([]byte, error) {
	return json.Marshal(toWire(v))
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(data []byte) (any, error) {
	return decodeWire(data)
}

// DecodeMap decodes a JSON object produced by EncodeValue. JSON null and an
// empty input both yield an empty map.
func DecodeMap(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	v, err := decodeWire(data)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return m, nil
	default:
		return nil, fmt.Errorf("snapshot: expected JSON object, got %T", v)
	}
}

func toWire(v any) any {
	switch x := v.(type) {
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return json.Number(s)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = toWire(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toWire(e)
		}
		return out
	default:
		return v
	}
}

func decodeWire(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return fromWire(v)
}

func fromWire(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		return numberValue(x)
	case map[string]any:
		for k, e := range x {
			c, err := fromWire(e)
			if err != nil {
				return nil, err
			}
			x[k] = c
		}
		return x, nil
	case []any:
		for i, e := range x {
			c, err := fromWire(e)
			if err != nil {
				return nil, err
			}
			x[i] = c
		}
		return x, nil
	default:
		return v, nil
	}
}

func numberValue(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("snapshot: invalid number %q: %w", s, err)
	}
	return f, nil
}
