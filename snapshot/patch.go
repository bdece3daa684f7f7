package snapshot

import (
	"encoding/json"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
)

// PatchOp is one RFC 6902 operation.
type PatchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// JSONPatch renders d as an RFC 6902 JSON Patch: one add, replace or remove
// per changed field, in field order. Nested values are replaced whole, like
// the diff itself.
func JSONPatch(d *DiffResult) ([]byte, error) {
	ops := make([]PatchOp, 0, d.Count())
	for _, field := range d.Fields() {
		op := PatchOp{Path: "/" + escapePointer(field)}
		var v any
		if a, ok := d.Added[field]; ok {
			op.Op, v = "add", a
		} else if c, ok := d.Modified[field]; ok {
			op.Op, v = "replace", c.To
		} else {
			op.Op = "remove"
		}
		if op.Op != "remove" {
			raw, err := EncodeValue(v)
			if err != nil {
				return nil, err
			}
			op.Value = raw
		}
		ops = append(ops, op)
	}
	return json.Marshal(ops)
}

// ApplyPatch applies an RFC 6902 JSON Patch to attrs and returns the result
// as a new map.
func ApplyPatch(attrs map[string]any, patch []byte) (map[string]any, error) {
	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, &SerializationError{Type: "json-patch", Reason: err.Error()}
	}
	doc, err := EncodeValue(nonNilMap(attrs))
	if err != nil {
		return nil, err
	}
	out, err := p.Apply(doc)
	if err != nil {
		return nil, &SerializationError{Type: "json-patch", Reason: err.Error()}
	}
	return DecodeMap(out)
}

// escapePointer escapes a field name as one JSON Pointer (RFC 6901) token.
func escapePointer(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}
