package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/recsnap/kit"
)

// Service is the façade over one active Backend: it normalizes inputs,
// assigns labels and delegates storage. Every call is synchronous.
type Service struct {
	mu      sync.RWMutex
	backend Backend

	exclude []string
	prefix  string
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithExclude drops the named fields from every captured record.
func WithExclude(fields ...string) Option {
	return func(s *Service) { s.exclude = append(s.exclude, fields...) }
}

// WithLabelPrefix sets the first segment of generated labels.
func WithLabelPrefix(prefix string) Option {
	return func(s *Service) { s.prefix = prefix }
}

// WithClock overrides the capture clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service bound to backend.
func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		prefix:  DefaultLabelPrefix,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Backend returns the active backend.
func (s *Service) Backend() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// SetBackend swaps the active backend. Calls already running keep the one
// they started with.
func (s *Service) SetBackend(b Backend) {
	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
	s.logger.Info("snapshot: backend switched", "backend", b.Name())
}

// Exclude returns a copy of the configured exclusion list.
func (s *Service) Exclude() []string {
	return append([]string(nil), s.exclude...)
}

type saveOptions struct {
	label    string
	kind     EventKind
	metadata map[string]any
}

// SaveOption tunes a single Save call.
type SaveOption func(*saveOptions)

// WithLabel stores the snapshot under label instead of a generated one.
func WithLabel(label string) SaveOption {
	return func(o *saveOptions) { o.label = label }
}

// WithEventKind records why the snapshot was taken. Default: manual.
func WithEventKind(kind EventKind) SaveOption {
	return func(o *saveOptions) { o.kind = kind }
}

// WithMetadata attaches free-form metadata. Keys override the request
// origin taken from the context (actor, ip, user_agent, request_id).
func WithMetadata(md map[string]any) SaveOption {
	return func(o *saveOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			o.metadata[k] = v
		}
	}
}

// Save normalizes input, assigns a label and stores the snapshot.
func (s *Service) Save(ctx context.Context, input any, opts ...SaveOption) (*Snapshot, error) {
	o := saveOptions{kind: EventManual}
	for _, fn := range opts {
		fn(&o)
	}
	if o.kind == "" {
		o.kind = EventManual
	}

	n, err := Normalize(input, s.exclude)
	if err != nil {
		return nil, err
	}

	md := kit.Origin(ctx)
	for k, v := range o.metadata {
		md[k] = v
	}
	md, err = CanonicalMap(md)
	if err != nil {
		return nil, err
	}

	at := s.now().UTC().Round(0)
	label := o.label
	if label == "" {
		label = GenerateLabel(s.prefix, n, o.kind, at)
	}

	snap := &Snapshot{
		Label:      label,
		RecordType: n.RecordType,
		RecordID:   n.RecordID,
		EventKind:  o.kind,
		TypeTag:    n.TypeTag,
		Attributes: n.Attributes,
		Metadata:   md,
		CapturedAt: at,
	}

	b := s.Backend()
	stored, err := b.Save(ctx, label, snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot: save %q: %w", label, err)
	}
	s.logger.Debug("snapshot: saved", "label", label, "backend", b.Name(),
		"record_type", n.RecordType, "record_id", n.RecordID, "event_kind", o.kind)
	return stored, nil
}

// Load returns the snapshot stored under label, or nil when absent.
func (s *Service) Load(ctx context.Context, label string) (*Snapshot, error) {
	snap, err := s.Backend().Load(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load %q: %w", label, err)
	}
	return snap, nil
}

// Require is Load that fails with *NotFoundError when label is absent.
func (s *Service) Require(ctx context.Context, label string) (*Snapshot, error) {
	snap, err := s.Load(ctx, label)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &NotFoundError{Labels: []string{label}}
	}
	return snap, nil
}

// Diff compares the snapshots stored under from and to. Missing labels are
// all reported in one *NotFoundError, from first.
func (s *Service) Diff(ctx context.Context, from, to string) (*DiffResult, error) {
	a, b, err := s.loadPair(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return Diff(a.Attributes, b.Attributes), nil
}

// Patch returns the diff of from and to as an RFC 6902 JSON Patch.
func (s *Service) Patch(ctx context.Context, from, to string) ([]byte, error) {
	d, err := s.Diff(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return JSONPatch(d)
}

// loadPair loads two snapshots, reporting every missing label at once.
func (s *Service) loadPair(ctx context.Context, from, to string) (*Snapshot, *Snapshot, error) {
	a, err := s.Load(ctx, from)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.Load(ctx, to)
	if err != nil {
		return nil, nil, err
	}

	var missing []string
	if a == nil {
		missing = append(missing, from)
	}
	if b == nil && (to != from || a != nil) {
		missing = append(missing, to)
	}
	if len(missing) > 0 {
		return nil, nil, &NotFoundError{Labels: missing}
	}
	return a, b, nil
}

// DiffAgainst compares a stored snapshot with the current state of a live
// record, normalized with the same exclusion list.
func (s *Service) DiffAgainst(ctx context.Context, label string, current any) (*DiffResult, error) {
	stored, err := s.Require(ctx, label)
	if err != nil {
		return nil, err
	}
	n, err := Normalize(current, s.exclude)
	if err != nil {
		return nil, err
	}
	return Diff(stored.Attributes, n.Attributes), nil
}

// List returns the summaries of every stored snapshot.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	list, err := s.Backend().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	return list, nil
}

// History returns the timeline of one record, oldest first.
func (s *Service) History(ctx context.Context, recordType, recordID string) ([]Summary, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	scope := Scope{RecordType: recordType, RecordID: recordID}
	out := make([]Summary, 0)
	for _, sum := range list {
		if scope.Matches(sum) {
			out = append(out, sum)
		}
	}
	SortSummaries(out)
	return out, nil
}

// Delete removes the snapshot stored under label.
func (s *Service) Delete(ctx context.Context, label string) (bool, error) {
	ok, err := s.Backend().Delete(ctx, label)
	if err != nil {
		return false, fmt.Errorf("snapshot: delete %q: %w", label, err)
	}
	return ok, nil
}

// Clear removes every snapshot, or those of recordType when non-empty.
func (s *Service) Clear(ctx context.Context, recordType string) (int, error) {
	b := s.Backend()
	n, err := b.Clear(ctx, recordType)
	if err != nil {
		return 0, fmt.Errorf("snapshot: clear: %w", err)
	}
	s.logger.Info("snapshot: cleared", "backend", b.Name(), "record_type", recordType, "removed", n)
	return n, nil
}
