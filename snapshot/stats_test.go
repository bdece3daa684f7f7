package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/recsnap/snapshot"
	"github.com/hazyhaar/recsnap/snapshot/memstore"
)

type Order struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// seed saves the given captures, one clock step apart.
func seed(t *testing.T, step time.Duration, inputs ...any) (*snapshot.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := snapshot.NewService(store, snapshot.WithClock(newClock(epoch, step).Now))
	for _, in := range inputs {
		if _, err := svc.Save(context.Background(), in, snapshot.WithEventKind(snapshot.EventUpdated)); err != nil {
			t.Fatal(err)
		}
	}
	return svc, store
}

// WHAT: a field changing on every capture is counted once per transition.
func TestAggregator_MostChangedFields(t *testing.T) {
	_, store := seed(t, time.Minute,
		Order{ID: 1, Status: "pending", Total: 10},
		Order{ID: 1, Status: "processing", Total: 10},
		Order{ID: 1, Status: "completed", Total: 12},
	)
	agg := snapshot.NewAggregator(store)

	top, err := agg.MostChangedFields(context.Background(), snapshot.Scope{RecordType: "Order", RecordID: "1"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0] != (snapshot.FieldCount{Field: "status", Count: 2}) || top[1] != (snapshot.FieldCount{Field: "total", Count: 1}) {
		t.Fatalf("ranking: %+v", top)
	}

	one, _ := agg.MostChangedFields(context.Background(), snapshot.Scope{}, 1)
	if len(one) != 1 || one[0].Field != "status" {
		t.Fatalf("truncated ranking: %+v", one)
	}
}

// WHAT: snapshots of different records are never paired.
func TestAggregator_PairsPerIdentity(t *testing.T) {
	_, store := seed(t, time.Minute,
		Order{ID: 1, Status: "a"},
		Order{ID: 2, Status: "b"},
		Order{ID: 1, Status: "a"},
		map[string]any{"status": "x"},
		map[string]any{"status": "y"},
	)
	top, err := snapshot.NewAggregator(store).MostChangedFields(context.Background(), snapshot.Scope{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 0 {
		t.Fatalf("unexpected changes: %+v", top)
	}
}

// WHAT: ties keep the order in which the fields first changed.
func TestAggregator_TiesByFirstSeen(t *testing.T) {
	_, store := seed(t, time.Minute,
		snapshot.Record{Type: "T", ID: "1", Fields: map[string]any{"b": 1, "a": 1}},
		snapshot.Record{Type: "T", ID: "1", Fields: map[string]any{"b": 1, "a": 2}},
		snapshot.Record{Type: "T", ID: "1", Fields: map[string]any{"b": 2, "a": 2}},
	)
	top, _ := snapshot.NewAggregator(store).MostChangedFields(context.Background(), snapshot.Scope{}, 0)
	if len(top) != 2 || top[0].Field != "a" || top[1].Field != "b" {
		t.Fatalf("ranking: %+v", top)
	}
}

func TestAggregator_Counters(t *testing.T) {
	ctx := context.Background()
	svc, store := seed(t, time.Minute, Order{ID: 1}, Order{ID: 2})
	svc.Save(ctx, Order{ID: 1}, snapshot.WithEventKind(snapshot.EventDeleted))
	svc.Save(ctx, map[string]any{"a": 1})

	agg := snapshot.NewAggregator(store)
	all, err := agg.Counters(ctx, snapshot.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 4 || all.ByEventKind["updated"] != 2 || all.ByEventKind["deleted"] != 1 || all.ByEventKind["manual"] != 1 {
		t.Fatalf("counters: %+v", all)
	}
	one, _ := agg.Counters(ctx, snapshot.Scope{RecordType: "Order", RecordID: "1"})
	if one.Total != 2 {
		t.Fatalf("scoped total: %d", one.Total)
	}
}

func TestAggregator_ChangeFrequency(t *testing.T) {
	// epoch is Thursday 2026-10-01 (ISO week 40); steps of 3 days span
	// two months and three weeks.
	_, store := seed(t, 72*time.Hour,
		Order{ID: 1}, Order{ID: 1}, Order{ID: 1}, Order{ID: 1}, Order{ID: 1},
	)
	f, err := snapshot.NewAggregator(store).ChangeFrequency(context.Background(), snapshot.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if f.Total != 5 || len(f.ByDay) != 5 {
		t.Fatalf("frequency: %+v", f)
	}
	if f.ByMonth["2026-10"] != 5 {
		t.Fatalf("by month: %v", f.ByMonth)
	}
	if f.ByWeek["2026-W40"] != 2 || f.ByWeek["2026-W41"] != 2 || f.ByWeek["2026-W42"] != 1 {
		t.Fatalf("by week: %v", f.ByWeek)
	}
	// 5 snapshots over 12 days.
	if f.AveragePerDay != 5.0/12 {
		t.Fatalf("average: %v", f.AveragePerDay)
	}
}

func TestAggregator_SameDayAverage(t *testing.T) {
	_, store := seed(t, time.Minute, Order{ID: 1}, Order{ID: 1}, Order{ID: 1})
	f, _ := snapshot.NewAggregator(store).ChangeFrequency(context.Background(), snapshot.Scope{})
	if f.AveragePerDay != 3 {
		t.Fatalf("average: %v", f.AveragePerDay)
	}
}

func TestAggregator_Empty(t *testing.T) {
	s, err := snapshot.NewAggregator(memstore.New()).Summarize(context.Background(), snapshot.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalSnapshots != 0 || s.AveragePerDay != 0 || len(s.MostChangedFields) != 0 {
		t.Fatalf("summary: %+v", s)
	}
}

func TestAggregator_Summarize(t *testing.T) {
	_, store := seed(t, time.Hour,
		snapshot.Record{Type: "T", ID: "1", Fields: map[string]any{"a": 1, "b": 1, "c": 1}},
		snapshot.Record{Type: "T", ID: "1", Fields: map[string]any{"a": 2, "b": 2, "c": 2}},
		snapshot.Record{Type: "T", ID: "1", Fields: map[string]any{"a": 3, "b": 2, "c": 2}},
	)
	s, err := snapshot.NewAggregator(store, snapshot.WithTopFields(2)).Summarize(context.Background(), snapshot.Scope{RecordType: "T"})
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalSnapshots != 3 || s.CountsByEventKind["updated"] != 3 {
		t.Fatalf("summary: %+v", s)
	}
	if len(s.MostChangedFields) != 2 || s.MostChangedFields[0] != (snapshot.FieldCount{Field: "a", Count: 2}) {
		t.Fatalf("top fields: %+v", s.MostChangedFields)
	}
	if s.ChangesByDay["2026-10-01"] != 3 {
		t.Fatalf("by day: %v", s.ChangesByDay)
	}
}
