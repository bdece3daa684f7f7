package snapshot

import "context"

// Backend persists snapshots keyed by label. Implementations must be
// interchangeable: the Service and the Aggregator only rely on this
// contract.
//
//   - Save writes or overwrites atomically for one label and returns the
//     stored snapshot.
//   - Load returns (nil, nil) when the label is absent.
//   - List returns summaries sorted by capture time then label, without
//     decoding attribute payloads.
//   - Delete reports whether something was removed.
//   - Clear removes every snapshot, or only those of recordType when it is
//     non-empty, and returns the number removed.
//
// I/O failures are returned as *StorageError.
type Backend interface {
	Name() string
	Save(ctx context.Context, label string, snap *Snapshot) (*Snapshot, error)
	Load(ctx context.Context, label string) (*Snapshot, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, label string) (bool, error)
	Clear(ctx context.Context, recordType string) (int, error)
}
