package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/recsnap/snapshot"
)

func TestDiff(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, WithColor(false))
	d := snapshot.Diff(
		map[string]any{"age": int64(30), "city": "Paris", "tmp": true, "score": 1.5},
		map[string]any{"age": int64(31), "city": "Lyon", "email": "j@x", "score": 1.5},
	)
	if err := p.Diff("A", "B", d); err != nil {
		t.Fatal(err)
	}
	want := `--- A
+++ B
~ age: 30 -> 31
~ city: "[-Paris-]{+Lyon+}"
+ email: "j@x"
- tmp: true
`
	if buf.String() != want {
		t.Fatalf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

// WHAT: a modified string keeps its unchanged parts readable.
func TestDiff_InlineString(t *testing.T) {
	var buf bytes.Buffer
	d := snapshot.Diff(map[string]any{"s": "status pending"}, map[string]any{"s": "status done"})
	New(&buf, WithColor(false)).Diff("a", "b", d)
	if !strings.Contains(buf.String(), `"status `) {
		t.Fatalf("got %q", buf.String())
	}
}

func TestDiff_FloatsStayFloats(t *testing.T) {
	var buf bytes.Buffer
	d := snapshot.Diff(map[string]any{"n": int64(2)}, map[string]any{"n": 2.0})
	New(&buf, WithColor(false)).Diff("a", "b", d)
	if !strings.Contains(buf.String(), "~ n: 2 -> 2.0") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestDiff_Empty(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, WithColor(false)).Diff("a", "b", snapshot.Diff(nil, nil))
	if !strings.HasSuffix(buf.String(), "no changes\n") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestDiff_Color(t *testing.T) {
	var buf bytes.Buffer
	d := snapshot.Diff(nil, map[string]any{"a": int64(1)})
	New(&buf, WithColor(true)).Diff("a", "b", d)
	if !strings.Contains(buf.String(), "\x1b[32m") {
		t.Fatalf("no green escape in %q", buf.String())
	}
}

func TestSummaries(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	err := New(&buf, WithColor(false)).Summaries([]snapshot.Summary{
		{Label: "one", RecordType: "User", RecordID: "7", EventKind: snapshot.EventUpdated, CapturedAt: at},
		{Label: "two", EventKind: snapshot.EventManual, CapturedAt: at},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines: %q", lines)
	}
	if !strings.Contains(lines[1], "User/7") || !strings.Contains(lines[1], "2026-10-01T09:00:00Z") {
		t.Errorf("row: %q", lines[1])
	}
	if !strings.Contains(lines[2], "two") || !strings.Contains(lines[2], " - ") {
		t.Errorf("row: %q", lines[2])
	}
}
