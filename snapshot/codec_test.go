package snapshot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type upper string

func (u upper) MarshalText() ([]byte, error) { return []byte(strings.ToUpper(string(u))), nil }

type money struct{ Cents int64 }

func (m *money) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"cents": m.Cents, "currency": "EUR"})
}

func TestCanonical(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want any
	}{
		{"int32", int32(5), int64(5)},
		{"float32", float32(0.5), 0.5},
		{"bytes", []byte("hi"), "aGk="},
		{"array", [2]bool{true, false}, []any{true, false}},
		{"json number int", json.Number("12"), int64(12)},
		{"json number float", json.Number("1.25"), 1.25},
		{"text marshaler", upper("abc"), "ABC"},
		{"pointer marshaler", &money{Cents: 150}, map[string]any{"cents": int64(150), "currency": "EUR"}},
		{"duration", 2 * time.Second, int64(2 * time.Second)},
		{"nil slice", []string(nil), nil},
		{"empty slice", []string{}, []any{}},
	}
	for _, tc := range cases {
		got, err := Canonical(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !Equal(got, tc.want) {
			t.Errorf("%s: got %#v, want %#v", tc.name, got, tc.want)
		}
	}
}

// WHAT: whole floats keep their float type through the wire codec.
// WHY: a float 30.0 must not come back as int 30 and show up as a change.
func TestEncodeValue_FloatsStayFloats(t *testing.T) {
	in := map[string]any{
		"f":      30.0,
		"i":      int64(30),
		"big":    1e21,
		"small":  1e-7,
		"nested": []any{2.0, int64(2), map[string]any{"x": 0.0}},
	}
	data, err := EncodeValue(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"f":30.0`) {
		t.Fatalf("encoding: %s", data)
	}
	out, err := DecodeMap(data)
	if err != nil {
		t.Fatal(err)
	}
	if d := Diff(in, out); !d.Empty() {
		t.Fatalf("round trip changed values: %+v", d)
	}
}

func TestDecodeMap_Empty(t *testing.T) {
	for _, in := range []string{"", "  ", "null", "{}"} {
		m, err := DecodeMap([]byte(in))
		if err != nil || m == nil || len(m) != 0 {
			t.Errorf("DecodeMap(%q) = %v, %v", in, m, err)
		}
	}
	if _, err := DecodeMap([]byte("[1]")); err == nil {
		t.Error("array accepted as map")
	}
}

func TestSnapshotJSON_RoundTrip(t *testing.T) {
	in := &Snapshot{
		Label:      "snapshot-User-1-updated-x",
		RecordType: "User",
		RecordID:   "1",
		EventKind:  EventUpdated,
		TypeTag:    "record:User",
		Attributes: map[string]any{"score": 30.0, "n": int64(1), "l": []any{"a"}},
		Metadata:   map[string]any{"actor": "alice"},
		CapturedAt: time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.FixedZone("X", 7200)),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.CapturedAt.Equal(in.CapturedAt) || out.CapturedAt.Location() != time.UTC {
		t.Errorf("captured_at: %v", out.CapturedAt)
	}
	if d := Diff(in.Attributes, out.Attributes); !d.Empty() {
		t.Errorf("attributes: %+v", d)
	}
	if out.Label != in.Label || out.EventKind != in.EventKind || out.TypeTag != in.TypeTag || out.Metadata["actor"] != "alice" {
		t.Errorf("header: %+v", out)
	}

	sum, err := DecodeSummary(data)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Label != in.Label || sum.RecordID != "1" || !sum.CapturedAt.Equal(in.CapturedAt) {
		t.Errorf("summary: %+v", sum)
	}
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	s := &Snapshot{Attributes: map[string]any{"l": []any{map[string]any{"k": "v"}}}}
	c := s.Clone()
	c.Attributes["l"].([]any)[0].(map[string]any)["k"] = "changed"
	if s.Attributes["l"].([]any)[0].(map[string]any)["k"] != "v" {
		t.Fatal("clone shares nested values")
	}
}

func TestGenerateLabel(t *testing.T) {
	at := time.Date(2026, 10, 19, 8, 30, 0, 42, time.UTC)
	cases := []struct {
		n    Normalized
		kind EventKind
		want string
	}{
		{Normalized{RecordType: "User", RecordID: "1"}, EventUpdated, "snapshot-User-1-updated-20261019T083000.000000042Z"},
		{Normalized{TypeTag: "mapping"}, EventManual, "snapshot-mapping-manual-20261019T083000.000000042Z"},
		{Normalized{TypeTag: "scalar:int"}, EventManual, "snapshot-scalar-manual-20261019T083000.000000042Z"},
		{Normalized{RecordType: "Order", TypeTag: "record:Order"}, EventCreated, "snapshot-Order-created-20261019T083000.000000042Z"},
	}
	for _, tc := range cases {
		if got := GenerateLabel("", &tc.n, tc.kind, at); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
	if got := GenerateLabel("audit", &Normalized{TypeTag: "mapping"}, EventManual, at); !strings.HasPrefix(got, "audit-mapping-") {
		t.Errorf("prefix: %q", got)
	}
}

func TestErrors(t *testing.T) {
	nf := &NotFoundError{Labels: []string{"a", "b"}}
	if nf.Error() != `snapshot: not found: "a", "b"` {
		t.Errorf("not found: %s", nf.Error())
	}
	if NewStorageError("memory", "save", "x", nil) != nil {
		t.Error("nil error wrapped")
	}
	inner := NewStorageError("file", "load", "x", ErrEmptyLabel)
	if NewStorageError("table", "save", "x", inner) != inner {
		t.Error("storage error wrapped twice")
	}
}
