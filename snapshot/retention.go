package snapshot

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy bounds how many snapshots are kept. Zero fields disable
// the corresponding rule.
type RetentionPolicy struct {
	// MaxAge removes snapshots captured longer ago than this.
	MaxAge time.Duration `yaml:"max_age" validate:"gte=0"`
	// KeepPerRecord keeps only the newest N snapshots of each record
	// identity. Snapshots without identity are not subject to it.
	KeepPerRecord int `yaml:"keep_per_record" validate:"gte=0"`
}

// Enabled reports whether p would ever remove anything.
func (p RetentionPolicy) Enabled() bool {
	return p.MaxAge > 0 || p.KeepPerRecord > 0
}

// Prune deletes the snapshots that fall outside p and returns how many were
// removed. Scheduling is left to the caller.
func (s *Service) Prune(ctx context.Context, p RetentionPolicy) (int, error) {
	if !p.Enabled() {
		return 0, nil
	}
	list, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	SortSummaries(list)

	doomed := make(map[string]bool)
	if p.MaxAge > 0 {
		cutoff := s.now().UTC().Add(-p.MaxAge)
		for _, sum := range list {
			if sum.CapturedAt.Before(cutoff) {
				doomed[sum.Label] = true
			}
		}
	}
	if p.KeepPerRecord > 0 {
		for _, group := range groupByIdentity(list) {
			if excess := len(group) - p.KeepPerRecord; excess > 0 {
				for _, sum := range group[:excess] {
					doomed[sum.Label] = true
				}
			}
		}
	}

	removed := 0
	for _, sum := range list {
		if !doomed[sum.Label] {
			continue
		}
		ok, err := s.Delete(ctx, sum.Label)
		if err != nil {
			return removed, fmt.Errorf("snapshot: prune: %w", err)
		}
		if ok {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("snapshot: pruned", "removed", removed,
			"max_age", p.MaxAge, "keep_per_record", p.KeepPerRecord)
	}
	return removed, nil
}
