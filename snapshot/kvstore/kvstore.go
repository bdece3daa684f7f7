// Package kvstore keeps snapshots in an embedded BadgerDB. Each snapshot is
// one key, "snap/" + label, holding the snapshot JSON.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/hazyhaar/recsnap/snapshot"
)

// Name is the backend identity reported in errors.
const Name = "kv"

var keyPrefix = []byte("snap/")

// maxAttempts bounds retries of read-modify-write transactions that lose a
// conflict.
const maxAttempts = 3

// Config selects where the database lives.
type Config struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir string `yaml:"dir"`
	// InMemory keeps everything in RAM; nothing survives Close.
	InMemory bool `yaml:"in_memory"`
	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`
}

// Store is a snapshot backend over a Badger database.
type Store struct {
	db     *badger.DB
	owned  bool
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps an already-opened database. The caller keeps ownership.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Open opens (or creates) a database as configured. The returned Store owns
// it; Close releases it.
func Open(cfg Config, opts ...Option) (*Store, error) {
	s := New(nil, opts...)

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, snapshot.NewStorageError(Name, "open", "", errors.New("dir is required"))
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, snapshot.NewStorageError(Name, "open", "", err)
		}
		bopts = badger.DefaultOptions(cfg.Dir)
	}
	bopts = bopts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: s.logger})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "open", "", err)
	}
	s.db = db
	s.owned = true
	s.logger.Info("kvstore: opened", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return s, nil
}

// Close closes the database if the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database.
func (s *Store) DB() *badger.DB { return s.db }

func (s *Store) Name() string { return Name }

func key(label string) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(label))
	return append(append(k, keyPrefix...), label...)
}

func (s *Store) Save(_ context.Context, label string, snap *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	if label == "" {
		return nil, snapshot.NewStorageError(Name, "save", label, snapshot.ErrEmptyLabel)
	}
	c := snap.Clone()
	c.Label = label

	data, err := json.Marshal(c)
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "encode", label, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(label), data)
	})
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "save", label, err)
	}
	return c, nil
}

func (s *Store) Load(_ context.Context, label string) (*snapshot.Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(label))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "load", label, err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, snapshot.NewStorageError(Name, "decode", label, err)
	}
	return &snap, nil
}

func (s *Store) List(_ context.Context) ([]snapshot.Summary, error) {
	out := make([]snapshot.Summary, 0)
	err := s.scan(func(k []byte, sum snapshot.Summary) {
		out = append(out, sum)
	})
	if err != nil {
		return nil, err
	}
	snapshot.SortSummaries(out)
	return out, nil
}

func (s *Store) Delete(_ context.Context, label string) (bool, error) {
	var existed bool
	err := s.update(func(txn *badger.Txn) error {
		existed = false
		if _, err := txn.Get(key(label)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete(key(label))
	})
	if err != nil {
		return false, snapshot.NewStorageError(Name, "delete", label, err)
	}
	return existed, nil
}

func (s *Store) Clear(_ context.Context, recordType string) (int, error) {
	var keys [][]byte
	err := s.scan(func(k []byte, sum snapshot.Summary) {
		if recordType == "" || sum.RecordType == recordType {
			keys = append(keys, k)
		}
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, snapshot.NewStorageError(Name, "clear", "", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, snapshot.NewStorageError(Name, "clear", "", err)
	}
	s.logger.Debug("kvstore: cleared", "record_type", recordType, "removed", len(keys))
	return len(keys), nil
}

// CollectGarbage runs one value log GC pass. A pass with nothing to rewrite
// and in-memory databases are not errors.
func (s *Store) CollectGarbage(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return snapshot.NewStorageError(Name, "gc", "", err)
}

// scan calls fn with the key and summary of every stored snapshot.
func (s *Store) scan(fn func(k []byte, sum snapshot.Summary)) error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			var sum snapshot.Summary
			err := item.Value(func(v []byte) error {
				var err error
				sum, err = snapshot.DecodeSummary(v)
				return err
			})
			if err != nil {
				return fmt.Errorf("%s: %w", k[len(keyPrefix):], err)
			}
			fn(k, sum)
		}
		return nil
	})
	if err != nil {
		return snapshot.NewStorageError(Name, "scan", "", err)
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxAttempts {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// badgerLogger adapts slog to Badger's logger. Badger info chatter is
// demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error("kvstore: " + fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn("kvstore: " + fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug("kvstore: " + fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug("kvstore: " + fmt.Sprintf(format, args...))
}
