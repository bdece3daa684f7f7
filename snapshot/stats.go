package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Scope selects the snapshots a statistic covers. Empty fields match
// everything, so the zero Scope is "all snapshots".
type Scope struct {
	RecordType string `json:"record_type,omitempty"`
	RecordID   string `json:"record_id,omitempty"`
}

// Matches reports whether sum falls within the scope.
func (sc Scope) Matches(sum Summary) bool {
	if sc.RecordType != "" && sum.RecordType != sc.RecordType {
		return false
	}
	if sc.RecordID != "" && sum.RecordID != sc.RecordID {
		return false
	}
	return true
}

// Counters is the total and per-event-kind count of a scope.
type Counters struct {
	Total       int            `json:"total"`
	ByEventKind map[string]int `json:"by_event_kind"`
}

// FieldCount is one entry of the most-changed-fields ranking.
type FieldCount struct {
	Field string `json:"field"`
	Count int    `json:"count"`
}

// Frequency buckets snapshot counts by capture time (UTC).
type Frequency struct {
	Total         int            `json:"total"`
	ByDay         map[string]int `json:"by_day"`   // 2006-01-02
	ByWeek        map[string]int `json:"by_week"`  // ISO week, 2006-W01
	ByMonth       map[string]int `json:"by_month"` // 2006-01
	AveragePerDay float64        `json:"average_per_day"`
}

// StatsSummary gathers every statistic of a scope.
type StatsSummary struct {
	TotalSnapshots    int            `json:"total_snapshots"`
	CountsByEventKind map[string]int `json:"counts_by_event_kind"`
	MostChangedFields []FieldCount   `json:"most_changed_fields"`
	ChangesByDay      map[string]int `json:"changes_by_day"`
	ChangesByWeek     map[string]int `json:"changes_by_week"`
	ChangesByMonth    map[string]int `json:"changes_by_month"`
	AveragePerDay     float64        `json:"average_changes_per_day"`
}

// DefaultTopFields is the ranking length used by Summarize.
const DefaultTopFields = 10

// Aggregator computes read-only statistics over a backend. It observes
// whatever the backend lists at call time; there is no isolation across
// the scan.
type Aggregator struct {
	source func() Backend
	top    int
	logger *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithTopFields sets the ranking length of Summarize. n <= 0 keeps all.
func WithTopFields(n int) AggregatorOption {
	return func(a *Aggregator) { a.top = n }
}

// WithStatsLogger sets the logger. Default: slog.Default().
func WithStatsLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = logger }
}

// NewAggregator creates an Aggregator reading from backend.
func NewAggregator(backend Backend, opts ...AggregatorOption) *Aggregator {
	return newAggregator(func() Backend { return backend }, opts)
}

// Aggregator returns an Aggregator that reads whichever backend the service
// holds at call time, so SetBackend applies to statistics too.
func (s *Service) Aggregator(opts ...AggregatorOption) *Aggregator {
	return newAggregator(s.Backend, opts)
}

func newAggregator(source func() Backend, opts []AggregatorOption) *Aggregator {
	a := &Aggregator{source: source, top: DefaultTopFields}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Counters counts the snapshots of scope, in total and per event kind.
func (a *Aggregator) Counters(ctx context.Context, scope Scope) (*Counters, error) {
	list, err := a.scoped(ctx, scope)
	if err != nil {
		return nil, err
	}
	return counters(list), nil
}

// MostChangedFields ranks attribute names by how often they changed between
// consecutive snapshots of the same record. n <= 0 returns the whole
// ranking.
func (a *Aggregator) MostChangedFields(ctx context.Context, scope Scope, n int) ([]FieldCount, error) {
	list, err := a.scoped(ctx, scope)
	if err != nil {
		return nil, err
	}
	return a.mostChanged(ctx, list, n)
}

// ChangeFrequency buckets the snapshots of scope by day, ISO week and month.
func (a *Aggregator) ChangeFrequency(ctx context.Context, scope Scope) (*Frequency, error) {
	list, err := a.scoped(ctx, scope)
	if err != nil {
		return nil, err
	}
	return frequency(list), nil
}

// Summarize computes every statistic of scope from a single listing.
func (a *Aggregator) Summarize(ctx context.Context, scope Scope) (*StatsSummary, error) {
	list, err := a.scoped(ctx, scope)
	if err != nil {
		return nil, err
	}
	c := counters(list)
	f := frequency(list)
	top, err := a.mostChanged(ctx, list, a.top)
	if err != nil {
		return nil, err
	}
	return &StatsSummary{
		TotalSnapshots:    c.Total,
		CountsByEventKind: c.ByEventKind,
		MostChangedFields: top,
		ChangesByDay:      f.ByDay,
		ChangesByWeek:     f.ByWeek,
		ChangesByMonth:    f.ByMonth,
		AveragePerDay:     f.AveragePerDay,
	}, nil
}

func (a *Aggregator) scoped(ctx context.Context, scope Scope) ([]Summary, error) {
	list, err := a.source().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: stats: %w", err)
	}
	out := make([]Summary, 0, len(list))
	for _, sum := range list {
		if scope.Matches(sum) {
			out = append(out, sum)
		}
	}
	SortSummaries(out)
	return out, nil
}

func counters(list []Summary) *Counters {
	c := &Counters{Total: len(list), ByEventKind: make(map[string]int)}
	for _, sum := range list {
		c.ByEventKind[string(sum.EventKind)]++
	}
	return c
}

func (a *Aggregator) mostChanged(ctx context.Context, list []Summary, n int) ([]FieldCount, error) {
	backend := a.source()
	counts := make(map[string]int)
	firstSeen := make(map[string]int)

	for _, group := range groupByIdentity(list) {
		var prev *Snapshot
		for _, sum := range group {
			cur, err := backend.Load(ctx, sum.Label)
			if err != nil {
				return nil, fmt.Errorf("snapshot: stats: %w", err)
			}
			if cur == nil {
				// Deleted since the listing.
				a.logger.Debug("snapshot: stats: skipped vanished snapshot", "label", sum.Label)
				continue
			}
			if prev != nil {
				for _, field := range Diff(prev.Attributes, cur.Attributes).Fields() {
					if _, ok := firstSeen[field]; !ok {
						firstSeen[field] = len(firstSeen)
					}
					counts[field]++
				}
			}
			prev = cur
		}
	}

	out := make([]FieldCount, 0, len(counts))
	for field, c := range counts {
		out = append(out, FieldCount{Field: field, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return firstSeen[out[i].Field] < firstSeen[out[j].Field]
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func frequency(list []Summary) *Frequency {
	f := &Frequency{
		Total:   len(list),
		ByDay:   make(map[string]int),
		ByWeek:  make(map[string]int),
		ByMonth: make(map[string]int),
	}
	if len(list) == 0 {
		return f
	}
	oldest, newest := list[0].CapturedAt, list[0].CapturedAt
	for _, sum := range list {
		t := sum.CapturedAt.UTC()
		f.ByDay[t.Format("2006-01-02")]++
		year, week := t.ISOWeek()
		f.ByWeek[fmt.Sprintf("%04d-W%02d", year, week)]++
		f.ByMonth[t.Format("2006-01")]++
		if t.Before(oldest) {
			oldest = t
		}
		if t.After(newest) {
			newest = t
		}
	}
	days := int(newest.Sub(oldest) / (24 * time.Hour))
	f.AveragePerDay = float64(len(list)) / float64(max(1, days))
	return f
}

// groupByIdentity splits identity-bearing summaries into per-record
// timelines, in order of first appearance. list must already be sorted.
func groupByIdentity(list []Summary) [][]Summary {
	index := make(map[[2]string]int)
	var groups [][]Summary
	for _, sum := range list {
		if !sum.HasIdentity() {
			continue
		}
		key := [2]string{sum.RecordType, sum.RecordID}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], sum)
	}
	return groups
}
