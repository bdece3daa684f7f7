package snapshot

import (
	"encoding/json"
	"time"
)

// snapshotJSON is the wire form of a Snapshot. Header fields come first so
// that a reader interested only in the Summary can stop caring early, and
// Attributes/Metadata stay raw until asked for.
type snapshotJSON struct {
	Label      string          `json:"label"`
	RecordType string          `json:"record_type,omitempty"`
	RecordID   string          `json:"record_id,omitempty"`
	EventKind  EventKind       `json:"event_kind"`
	TypeTag    string          `json:"type_tag,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	Metadata   json.RawMessage `json:"metadata"`
	Attributes json.RawMessage `json:"attributes"`
}

// MarshalJSON encodes s with type-preserving attribute values.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	attrs, err := EncodeValue(nonNilMap(s.Attributes))
	if err != nil {
		return nil, err
	}
	meta, err := EncodeValue(nonNilMap(s.Metadata))
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshotJSON{
		Label:      s.Label,
		RecordType: s.RecordType,
		RecordID:   s.RecordID,
		EventKind:  s.EventKind,
		TypeTag:    s.TypeTag,
		CapturedAt: s.CapturedAt,
		Metadata:   meta,
		Attributes: attrs,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w snapshotJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	attrs, err := DecodeMap(w.Attributes)
	if err != nil {
		return err
	}
	meta, err := DecodeMap(w.Metadata)
	if err != nil {
		return err
	}
	*s = Snapshot{
		Label:      w.Label,
		RecordType: w.RecordType,
		RecordID:   w.RecordID,
		EventKind:  w.EventKind,
		TypeTag:    w.TypeTag,
		CapturedAt: w.CapturedAt.UTC(),
		Metadata:   meta,
		Attributes: attrs,
	}
	return nil
}

// DecodeSummary reads only the header of an encoded snapshot.
func DecodeSummary(data []byte) (Summary, error) {
	var h struct {
		Label      string    `json:"label"`
		RecordType string    `json:"record_type"`
		RecordID   string    `json:"record_id"`
		EventKind  EventKind `json:"event_kind"`
		CapturedAt time.Time `json:"captured_at"`
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return Summary{}, err
	}
	return Summary{
		Label:      h.Label,
		RecordType: h.RecordType,
		RecordID:   h.RecordID,
		EventKind:  h.EventKind,
		CapturedAt: h.CapturedAt.UTC(),
	}, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
