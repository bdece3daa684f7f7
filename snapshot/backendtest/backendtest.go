// Package backendtest is the shared contract test for snapshot.Backend
// implementations. Each backend package runs it against a fresh instance:
//
//	func TestContract(t *testing.T) {
//		backendtest.Run(t, func(t *testing.T) snapshot.Backend { return memstore.New() })
//	}
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/recsnap/snapshot"
)

// Factory returns an empty backend for one subtest.
type Factory func(t *testing.T) snapshot.Backend

var base = time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

// Snap builds a snapshot fixture captured offset after a fixed instant.
func Snap(recordType, recordID string, offset time.Duration, attrs map[string]any) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		RecordType: recordType,
		RecordID:   recordID,
		EventKind:  snapshot.EventUpdated,
		TypeTag:    "record:" + recordType,
		Attributes: attrs,
		Metadata:   map[string]any{"actor": "tester"},
		CapturedAt: base.Add(offset),
	}
}

// Run executes the contract against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("RoundTripPreservesTypes", func(t *testing.T) { testRoundTrip(t, newBackend(t)) })
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, newBackend(t)) })
	t.Run("OverwriteSameLabel", func(t *testing.T) { testOverwrite(t, newBackend(t)) })
	t.Run("ListSummaries", func(t *testing.T) { testList(t, newBackend(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newBackend(t)) })
	t.Run("ClearFiltered", func(t *testing.T) { testClearFiltered(t, newBackend(t)) })
	t.Run("ClearAll", func(t *testing.T) { testClearAll(t, newBackend(t)) })
	t.Run("EmptyLabelRejected", func(t *testing.T) { testEmptyLabel(t, newBackend(t)) })
	t.Run("StoredCopyIsIsolated", func(t *testing.T) { testIsolation(t, newBackend(t)) })
	t.Run("ConcurrentDistinctLabels", func(t *testing.T) { testConcurrent(t, newBackend(t)) })
}

func testRoundTrip(t *testing.T, b snapshot.Backend) {
	ctx := context.Background()
	attrs := map[string]any{
		"name":    "John",
		"age":     int64(30),
		"score":   float64(30),
		"ratio":   0.25,
		"active":  true,
		"deleted": nil,
		"tags":    []any{"a", int64(1), 2.5},
		"address": map[string]any{"city": "Paris", "zip": int64(75001)},
		"empty":   []any{},
	}
	in := Snap("User", "1", 0, attrs)

	saved, err := b.Save(ctx, "A", in)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Label != "A" {
		t.Fatalf("saved label: got %q", saved.Label)
	}

	got, err := b.Load(ctx, "A")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("load: snapshot not found")
	}
	if d := snapshot.Diff(attrs, got.Attributes); !d.Empty() {
		t.Fatalf("attributes changed across round trip: %+v", d)
	}
	if _, ok := got.Attributes["score"].(float64); !ok {
		t.Fatalf("score: got %T, want float64", got.Attributes["score"])
	}
	if _, ok := got.Attributes["age"].(int64); !ok {
		t.Fatalf("age: got %T, want int64", got.Attributes["age"])
	}
	if got.RecordType != "User" || got.RecordID != "1" {
		t.Errorf("identity: got %s/%s", got.RecordType, got.RecordID)
	}
	if got.EventKind != snapshot.EventUpdated {
		t.Errorf("event kind: got %q", got.EventKind)
	}
	if got.TypeTag != "record:User" {
		t.Errorf("type tag: got %q", got.TypeTag)
	}
	if !got.CapturedAt.Equal(in.CapturedAt) {
		t.Errorf("captured_at: got %v, want %v", got.CapturedAt, in.CapturedAt)
	}
	if got.Metadata["actor"] != "tester" {
		t.Errorf("metadata: got %v", got.Metadata)
	}
}

func testLoadMissing(t *testing.T, b snapshot.Backend) {
	got, err := b.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if got != nil {
		t.Fatalf("load missing: got %+v", got)
	}
}

func testOverwrite(t *testing.T, b snapshot.Backend) {
	ctx := context.Background()
	mustSave(t, b, "same", Snap("User", "1", 0, map[string]any{"v": int64(1)}))
	mustSave(t, b, "same", Snap("User", "1", time.Second, map[string]any{"v": int64(2)}))

	list, err := b.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("list after overwrite: got %d entries", len(list))
	}
	got, err := b.Load(ctx, "same")
	if err != nil || got == nil {
		t.Fatalf("load: %v %v", got, err)
	}
	if got.Attributes["v"] != int64(2) {
		t.Fatalf("overwrite: got v=%v, want 2", got.Attributes["v"])
	}
}

func testList(t *testing.T, b snapshot.Backend) {
	ctx := context.Background()
	mustSave(t, b, "late", Snap("Post", "9", 2*time.Hour, map[string]any{"title": "x"}))
	mustSave(t, b, "early", Snap("User", "1", 0, map[string]any{"name": "a"}))
	mustSave(t, b, "middle", Snap("User", "2", time.Hour, map[string]any{"name": "b"}))

	list, err := b.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"early", "middle", "late"}
	if len(list) != len(want) {
		t.Fatalf("list: got %d entries, want %d", len(list), len(want))
	}
	for i, l := range want {
		if list[i].Label != l {
			t.Errorf("list[%d]: got %q, want %q", i, list[i].Label, l)
		}
	}
	if list[2].RecordType != "Post" || list[2].RecordID != "9" || list[2].EventKind != snapshot.EventUpdated {
		t.Errorf("summary fields: got %+v", list[2])
	}
	if !list[0].CapturedAt.Equal(base) {
		t.Errorf("summary captured_at: got %v", list[0].CapturedAt)
	}
}

func testDelete(t *testing.T, b snapshot.Backend) {
	ctx := context.Background()
	mustSave(t, b, "gone", Snap("User", "1", 0, map[string]any{"a": int64(1)}))

	ok, err := b.Delete(ctx, "gone")
	if err != nil || !ok {
		t.Fatalf("delete existing: ok=%v err=%v", ok, err)
	}
	ok, err = b.Delete(ctx, "gone")
	if err != nil || ok {
		t.Fatalf("delete missing: ok=%v err=%v", ok, err)
	}
	if got, _ := b.Load(ctx, "gone"); got != nil {
		t.Fatal("deleted snapshot still loadable")
	}
}

func testClearFiltered(t *testing.T, b snapshot.Backend) {
	ctx := context.Background()
	mustSave(t, b, "u1", Snap("User", "1", 0, map[string]any{"a": int64(1)}))
	mustSave(t, b, "u2", Snap("User", "2", time.Second, map[string]any{"a": int64(2)}))
	mustSave(t, b, "p1", Snap("Post", "1", 2*time.Second, map[string]any{"a": int64(3)}))

	n, err := b.Clear(ctx, "User")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("clear User: removed %d, want 2", n)
	}
	list, err := b.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Label != "p1" {
		t.Fatalf("after clear: got %+v", list)
	}
}

func testClearAll(t *testing.T, b snapshot.Backend) {
	ctx := context.Background()
	for i := range 3 {
		mustSave(t, b, fmt.Sprintf("s%d", i), Snap("User", fmt.Sprint(i), time.Duration(i)*time.Second, map[string]any{}))
	}
	n, err := b.Clear(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("clear all: removed %d, want 3", n)
	}
	list, _ := b.List(ctx)
	if len(list) != 0 {
		t.Fatalf("after clear all: %d left", len(list))
	}
}

func testEmptyLabel(t *testing.T, b snapshot.Backend) {
	_, err := b.Save(context.Background(), "", Snap("User", "1", 0, map[string]any{}))
	if !errors.Is(err, snapshot.ErrEmptyLabel) {
		t.Fatalf("empty label: got %v", err)
	}
	var se *snapshot.StorageError
	if !errors.As(err, &se) || se.Backend != b.Name() {
		t.Fatalf("empty label: want *StorageError from %s, got %v", b.Name(), err)
	}
}

func testIsolation(t *testing.T, b snapshot.Backend) {
	ctx := context.Background()
	attrs := map[string]any{"nested": map[string]any{"k": "v"}}
	mustSave(t, b, "iso", Snap("User", "1", 0, attrs))
	attrs["nested"].(map[string]any)["k"] = "mutated"

	got, err := b.Load(ctx, "iso")
	if err != nil || got == nil {
		t.Fatalf("load: %v", err)
	}
	got.Attributes["added"] = true

	again, _ := b.Load(ctx, "iso")
	if again.Attributes["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("caller mutation leaked into stored snapshot")
	}
	if _, ok := again.Attributes["added"]; ok {
		t.Fatal("loaded copy mutation leaked into stored snapshot")
	}
}

func testConcurrent(t *testing.T, b snapshot.Backend) {
	ctx := context.Background()
	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Save(ctx, fmt.Sprintf("c-%02d", i), Snap("User", fmt.Sprint(i), time.Duration(i)*time.Millisecond, map[string]any{"i": int64(i)}))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent save: %v", err)
		}
	}
	list, err := b.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != n {
		t.Fatalf("concurrent saves: got %d entries, want %d", len(list), n)
	}
}

func mustSave(t *testing.T, b snapshot.Backend, label string, snap *snapshot.Snapshot) {
	t.Helper()
	if _, err := b.Save(context.Background(), label, snap); err != nil {
		t.Fatalf("save %q: %v", label, err)
	}
}
