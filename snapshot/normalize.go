package snapshot

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Record is an explicit, pre-normalized identity-bearing input. Capture
// glue that already holds a record as a field map passes it as a Record so
// the identity survives normalization.
type Record struct {
	Type   string
	ID     string
	Fields map[string]any
}

// Identifiable lets a Go type name its own snapshot identity instead of the
// type name and ID field found by reflection.
type Identifiable interface {
	SnapshotType() string
	SnapshotID() string
}

// Normalized is the Serializer output: a flat attribute mapping plus the
// descriptive tags used for labels and listings.
type Normalized struct {
	Attributes map[string]any
	TypeTag    string
	RecordType string
	RecordID   string
}

// Normalize converts input into a flat attribute mapping.
//
//   - Record: Fields copied, identity taken from Type/ID.
//   - struct or *struct: exported fields flattened (embedded structs
//     promoted). The attribute name comes from the `snapshot` tag, then the
//     `json` tag, then the field name. A field tagged `snapshot:",id"` or
//     named ID supplies the record id.
//   - map: copied as-is (string or integer keys).
//   - anything else representable: wrapped as {"value": v}.
//
// Fields named in exclude (exact, case-sensitive) are dropped from the
// result whatever the input shape.
func Normalize(input any, exclude []string) (*Normalized, error) {
	n, err := normalize(input)
	if err != nil {
		return nil, err
	}
	for _, f := range exclude {
		delete(n.Attributes, f)
	}
	return n, nil
}

func normalize(input any) (*Normalized, error) {
	switch r := input.(type) {
	case nil:
		return nil, &SerializationError{Type: "nil", Reason: "nil input"}
	case Record:
		return normalizeRecord(r)
	case *Record:
		if r == nil {
			return nil, &SerializationError{Type: "*snapshot.Record", Reason: "nil input"}
		}
		return normalizeRecord(*r)
	}

	rv := reflect.ValueOf(input)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, &SerializationError{Type: reflect.TypeOf(input).String(), Reason: "nil pointer"}
		}
		rv = rv.Elem()
	}

	switch {
	case rv.Kind() == reflect.Struct && rv.Type() != timeType:
		attrs, id, err := structFields(rv, "", 0)
		if err != nil {
			return nil, err
		}
		n := &Normalized{
			Attributes: attrs,
			TypeTag:    "record",
			RecordType: rv.Type().Name(),
			RecordID:   id,
		}
		if n.RecordType != "" {
			n.TypeTag = "record:" + n.RecordType
		}
		if ident, ok := input.(Identifiable); ok {
			n.RecordType = ident.SnapshotType()
			n.RecordID = ident.SnapshotID()
			n.TypeTag = "record:" + n.RecordType
		}
		return n, nil

	case rv.Kind() == reflect.Map:
		attrs, err := canonicalMapValue(rv, "", 0)
		if err != nil {
			return nil, err
		}
		return &Normalized{Attributes: attrs, TypeTag: "mapping"}, nil
	}

	v, err := canonical(rv, "", 0)
	if err != nil {
		return nil, err
	}
	return &Normalized{
		Attributes: map[string]any{"value": v},
		TypeTag:    "scalar:" + scalarTag(rv),
	}, nil
}

func normalizeRecord(r Record) (*Normalized, error) {
	attrs, err := CanonicalMap(r.Fields)
	if err != nil {
		return nil, err
	}
	tag := "record"
	if r.Type != "" {
		tag = "record:" + r.Type
	}
	return &Normalized{Attributes: attrs, TypeTag: tag, RecordType: r.Type, RecordID: r.ID}, nil
}

func scalarTag(rv reflect.Value) string {
	if rv.Type() == timeType {
		return "time"
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice, reflect.Array:
		return "list"
	}
	return rv.Kind().String()
}

// structFields flattens the exported fields of a struct value and returns
// the record id found on the way, if any.
func structFields(rv reflect.Value, path string, depth int) (map[string]any, string, error) {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	var id string
	var haveTaggedID bool

	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() {
			continue
		}
		name, isID, skip := fieldName(f)
		if skip {
			continue
		}
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				// Promoted fields are visited on their own.
				continue
			}
		}
		if name == "" {
			name = f.Name
		}

		fv, err := rv.FieldByIndexErr(f.Index)
		if err != nil {
			// Promoted through a nil embedded pointer.
			continue
		}
		v, err := canonical(fv, joinPath(path, name), depth+1)
		if err != nil {
			return nil, "", err
		}
		out[name] = v

		switch {
		case isID:
			id, haveTaggedID = idString(v), true
		case !haveTaggedID && f.Name == "ID":
			id = idString(v)
		}
	}
	return out, id, nil
}

// fieldName resolves the attribute name of f. An empty name means "use the
// Go field name".
func fieldName(f reflect.StructField) (name string, isID, skip bool) {
	if tag, ok := f.Tag.Lookup("snapshot"); ok {
		if tag == "-" {
			return "", false, true
		}
		parts := strings.Split(tag, ",")
		for _, opt := range parts[1:] {
			if opt == "id" {
				isID = true
			}
		}
		if parts[0] != "" {
			return parts[0], isID, false
		}
	}
	if tag, ok := f.Tag.Lookup("json"); ok {
		if tag == "-" && !isID {
			return "", false, true
		}
		if n, _, _ := strings.Cut(tag, ","); n != "" && n != "-" {
			return n, isID, false
		}
	}
	return "", isID, false
}

func idString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
