// Package snapshot captures point-in-time copies of structured records,
// stores them under unique labels in an interchangeable Backend and computes
// attribute-level differences between any two of them.
//
// The pipeline:
//
//	input → Normalize → Service.Save (label) → Backend.Save
//	Service.Diff → Backend.Load ×2 → Diff
//	Aggregator → Backend.List (+ Load for change counting)
//
// Three backends live in sub-packages: memstore (tests), filestore (one JSON
// file per label) and tablestore (SQLite, the production default).
package snapshot

import (
	"sort"
	"time"
)

// EventKind tells why a snapshot was taken. It is informational only and
// never affects storage or diffing. Values outside the predefined set are
// accepted as extensions.
type EventKind string

const (
	EventManual    EventKind = "manual"
	EventScheduled EventKind = "scheduled"
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventDeleted   EventKind = "deleted"
)

// Snapshot is a labeled capture of a record's normalized attributes.
// A stored Snapshot is never mutated; backends hand out copies.
type Snapshot struct {
	Label      string
	RecordType string
	RecordID   string
	EventKind  EventKind
	TypeTag    string
	Attributes map[string]any
	Metadata   map[string]any
	CapturedAt time.Time
}

// Summary is the payload-free view of a snapshot used for listings.
type Summary struct {
	Label      string    `json:"label"`
	RecordType string    `json:"record_type,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	EventKind  EventKind `json:"event_kind"`
	CapturedAt time.Time `json:"captured_at"`
}

// HasIdentity reports whether the snapshot belongs to an identified record.
func (s Summary) HasIdentity() bool {
	return s.RecordType != "" && s.RecordID != ""
}

// Summary returns the listing view of s.
func (s *Snapshot) Summary() Summary {
	return Summary{
		Label:      s.Label,
		RecordType: s.RecordType,
		RecordID:   s.RecordID,
		EventKind:  s.EventKind,
		CapturedAt: s.CapturedAt,
	}
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Attributes = cloneMap(s.Attributes)
	c.Metadata = cloneMap(s.Metadata)
	return &c
}

// SortSummaries orders summaries by capture time, then label.
func SortSummaries(list []Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CapturedAt.Equal(list[j].CapturedAt) {
			return list[i].CapturedAt.Before(list[j].CapturedAt)
		}
		return list[i].Label < list[j].Label
	})
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
