// Package tablestore is the SQLite snapshot backend and the production
// default: indexed label lookup, summary-only listing, single-statement
// filtered clear.
package tablestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/recsnap/dbopen"
	"github.com/hazyhaar/recsnap/idgen"
	"github.com/hazyhaar/recsnap/snapshot"
)

// Name is the backend identity reported in errors.
const Name = "table"

// Store wraps a database holding the snapshots table.
type Store struct {
	DB       *sql.DB
	owned    bool
	newID    idgen.Generator
	logger   *slog.Logger
	openOpts []dbopen.Option
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the row id generator. Default: "snp_" + UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithOpenOptions passes pragma settings to dbopen. Only Open uses them.
func WithOpenOptions(opts ...dbopen.Option) Option {
	return func(s *Store) { s.openOpts = append(s.openOpts, opts...) }
}

// New wraps an already-opened database and applies the schema.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		DB:    db,
		newID: idgen.Prefixed("snp_", idgen.Default),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if err := ApplySchema(db); err != nil {
		return nil, snapshot.NewStorageError(Name, "schema", "", err)
	}
	return s, nil
}

// Open opens (or creates) the SQLite database at path. The returned Store
// owns the connection; Close releases it. The caller must blank-import
// modernc.org/sqlite.
func Open(path string, opts ...Option) (*Store, error) {
	var pre Store
	for _, o := range opts {
		o(&pre)
	}
	db, err := dbopen.Open(path, append([]dbopen.Option{dbopen.WithMkdirAll()}, pre.openOpts...)...)
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "open", "", err)
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	s.logger.Info("tablestore: opened", "path", path)
	return s, nil
}

// Close closes the database if the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) Name() string { return Name }

func (s *Store) Save(ctx context.Context, label string, snap *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	if label == "" {
		return nil, snapshot.NewStorageError(Name, "save", label, snapshot.ErrEmptyLabel)
	}
	c := snap.Clone()
	c.Label = label
	if c.EventKind == "" {
		c.EventKind = snapshot.EventManual
	}

	attrs, err := snapshot.EncodeValue(orEmpty(c.Attributes))
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "encode", label, err)
	}
	meta, err := snapshot.EncodeValue(orEmpty(c.Metadata))
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "encode", label, err)
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO snapshots (id, label, record_type, record_id, event_kind, type_tag,
		attributes, metadata, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label) DO UPDATE SET
			record_type = excluded.record_type,
			record_id   = excluded.record_id,
			event_kind  = excluded.event_kind,
			type_tag    = excluded.type_tag,
			attributes  = excluded.attributes,
			metadata    = excluded.metadata,
			captured_at = excluded.captured_at`,
		s.newID(), label, c.RecordType, c.RecordID, string(c.EventKind), c.TypeTag,
		string(attrs), string(meta), c.CapturedAt.UnixNano(),
	)
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "save", label, classify(err))
	}
	return c, nil
}

func (s *Store) Load(ctx context.Context, label string) (*snapshot.Snapshot, error) {
	var (
		snap        snapshot.Snapshot
		kind        string
		attrs, meta string
		capturedAt  int64
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT label, record_type, record_id, event_kind, type_tag, attributes, metadata, captured_at
		FROM snapshots WHERE label = ?`, label,
	).Scan(&snap.Label, &snap.RecordType, &snap.RecordID, &kind, &snap.TypeTag, &attrs, &meta, &capturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "load", label, classify(err))
	}

	snap.EventKind = snapshot.EventKind(kind)
	snap.CapturedAt = time.Unix(0, capturedAt).UTC()
	if snap.Attributes, err = snapshot.DecodeMap([]byte(attrs)); err != nil {
		return nil, snapshot.NewStorageError(Name, "decode", label, err)
	}
	if snap.Metadata, err = snapshot.DecodeMap([]byte(meta)); err != nil {
		return nil, snapshot.NewStorageError(Name, "decode", label, err)
	}
	return &snap, nil
}

func (s *Store) List(ctx context.Context) ([]snapshot.Summary, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT label, record_type, record_id, event_kind, captured_at
		FROM snapshots ORDER BY captured_at, label`)
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "list", "", classify(err))
	}
	defer rows.Close()

	out := make([]snapshot.Summary, 0)
	for rows.Next() {
		var (
			sum        snapshot.Summary
			kind       string
			capturedAt int64
		)
		if err := rows.Scan(&sum.Label, &sum.RecordType, &sum.RecordID, &kind, &capturedAt); err != nil {
			return nil, snapshot.NewStorageError(Name, "list", "", err)
		}
		sum.EventKind = snapshot.EventKind(kind)
		sum.CapturedAt = time.Unix(0, capturedAt).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, snapshot.NewStorageError(Name, "list", "", classify(err))
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, label string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM snapshots WHERE label = ?`, label)
	if err != nil {
		return false, snapshot.NewStorageError(Name, "delete", label, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, snapshot.NewStorageError(Name, "delete", label, err)
	}
	return n > 0, nil
}

func (s *Store) Clear(ctx context.Context, recordType string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if recordType == "" {
		res, err = s.DB.ExecContext(ctx, `DELETE FROM snapshots`)
	} else {
		res, err = s.DB.ExecContext(ctx, `DELETE FROM snapshots WHERE record_type = ?`, recordType)
	}
	if err != nil {
		return 0, snapshot.NewStorageError(Name, "clear", "", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, snapshot.NewStorageError(Name, "clear", "", err)
	}
	return int(n), nil
}

// Count returns the number of stored snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, snapshot.NewStorageError(Name, "count", "", err)
	}
	return n, nil
}

// classify labels the SQLite failures callers may want to tell apart.
func classify(err error) error {
	switch {
	case dbopen.IsConstraint(err):
		return fmt.Errorf("constraint violation: %w", err)
	case dbopen.IsBusy(err):
		return fmt.Errorf("database busy: %w", err)
	}
	return err
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
