package snapshot

import (
	"strings"
	"time"
)

// DefaultLabelPrefix starts every generated label.
const DefaultLabelPrefix = "snapshot"

// labelTimeFormat keeps generated labels unique below the second and
// lexically sortable.
const labelTimeFormat = "20060102T150405.000000000Z"

// GenerateLabel builds {prefix}-{recordType}-{recordId}-{eventKind}-{timestamp}.
// Inputs without identity use the base of their type tag in place of the
// identity segments ("snapshot-mapping-manual-…"). Empty segments are
// skipped.
func GenerateLabel(prefix string, n *Normalized, kind EventKind, at time.Time) string {
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}
	segments := []string{prefix}
	if n.RecordType != "" {
		segments = append(segments, n.RecordType)
		if n.RecordID != "" {
			segments = append(segments, n.RecordID)
		}
	} else if base, _, _ := strings.Cut(n.TypeTag, ":"); base != "" {
		segments = append(segments, base)
	}
	if kind != "" {
		segments = append(segments, string(kind))
	}
	segments = append(segments, at.UTC().Format(labelTimeFormat))
	return strings.Join(segments, "-")
}
