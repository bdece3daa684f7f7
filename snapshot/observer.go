package snapshot

import "context"

// RecordObserver is the narrow hook that host lifecycle glue calls when a
// record is created, updated or deleted.
type RecordObserver interface {
	OnRecordEvent(ctx context.Context, record any, kind EventKind) (*Snapshot, error)
}

// ObserverFunc adapts a function to RecordObserver.
type ObserverFunc func(ctx context.Context, record any, kind EventKind) (*Snapshot, error)

func (f ObserverFunc) OnRecordEvent(ctx context.Context, record any, kind EventKind) (*Snapshot, error) {
	return f(ctx, record, kind)
}

// Observer returns a RecordObserver that saves a snapshot for every event
// whose kind is in kinds (all kinds when empty). Ignored events return
// (nil, nil).
func (s *Service) Observer(kinds ...EventKind) RecordObserver {
	enabled := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		enabled[k] = true
	}
	return ObserverFunc(func(ctx context.Context, record any, kind EventKind) (*Snapshot, error) {
		if len(enabled) > 0 && !enabled[kind] {
			return nil, nil
		}
		return s.Save(ctx, record, WithEventKind(kind))
	})
}
