// Package filestore keeps one JSON file per snapshot label under a
// directory. It targets low-volume and archival use: List and a filtered
// Clear read every file.
//
// Writes go to a temporary file that is renamed over the target, so a
// reader never sees a partial snapshot. Concurrent writes to the same label
// are last-writer-wins; no locking is performed.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/recsnap/snapshot"
)

// Name is the backend identity reported in errors.
const Name = "file"

const (
	ext        = ".json"
	tempPrefix = ".tmp-"
	// maxNameLen keeps escaped names, plus the extension, under the common
	// 255-byte file name limit.
	maxNameLen = 200
)

// Store is a directory of snapshot files.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store rooted at dir. The directory is created on first
// write; a missing directory reads as an empty store.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Store) Name() string { return Name }

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path that holds label.
func (s *Store) Path(label string) string {
	return filepath.Join(s.dir, FileName(label))
}

// FileName maps a label to its file name. The mapping is deterministic and
// injective even under case folding: bytes outside [a-z0-9._-] (upper-case
// letters included) and a leading dot are escaped as %XX, and names that
// grow past maxNameLen are cut and suffixed with the SHA-256 of the label.
// Labels "A" and "a" therefore stay two files on macOS and Windows.
func FileName(label string) string {
	var b strings.Builder
	for i := 0; i < len(label); i++ {
		c := label[i]
		if isSafe(c) && !(i == 0 && c == '.') {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	name := b.String()
	if len(name) > maxNameLen {
		sum := sha256.Sum256([]byte(label))
		name = name[:maxNameLen-len(sum)*2-1] + "~" + hex.EncodeToString(sum[:])
	}
	return name + ext
}

func isSafe(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
		c == '.' || c == '_' || c == '-'
}

func (s *Store) Save(_ context.Context, label string, snap *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	if label == "" {
		return nil, snapshot.NewStorageError(Name, "save", label, snapshot.ErrEmptyLabel)
	}
	c := snap.Clone()
	c.Label = label

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "encode", label, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, snapshot.NewStorageError(Name, "mkdir", label, err)
	}
	if err := s.writeAtomic(s.Path(label), data); err != nil {
		return nil, snapshot.NewStorageError(Name, "save", label, err)
	}
	return c, nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) Load(_ context.Context, label string) (*snapshot.Snapshot, error) {
	data, err := os.ReadFile(s.Path(label))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, snapshot.NewStorageError(Name, "load", label, err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, snapshot.NewStorageError(Name, "decode", label, err)
	}
	return &snap, nil
}

func (s *Store) List(_ context.Context) ([]snapshot.Summary, error) {
	names, err := s.files()
	if err != nil {
		return nil, snapshot.NewStorageError(Name, "list", "", err)
	}
	out := make([]snapshot.Summary, 0, len(names))
	for _, name := range names {
		sum, err := s.readSummary(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue // deleted since ReadDir
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	snapshot.SortSummaries(out)
	return out, nil
}

func (s *Store) Delete(_ context.Context, label string) (bool, error) {
	err := os.Remove(s.Path(label))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, snapshot.NewStorageError(Name, "delete", label, err)
	}
	return true, nil
}

func (s *Store) Clear(_ context.Context, recordType string) (int, error) {
	names, err := s.files()
	if err != nil {
		return 0, snapshot.NewStorageError(Name, "clear", "", err)
	}
	removed := 0
	for _, name := range names {
		if recordType != "" {
			sum, err := s.readSummary(name)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return removed, err
			}
			if sum.RecordType != recordType {
				continue
			}
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, snapshot.NewStorageError(Name, "clear", "", err)
		}
		removed++
	}
	s.logger.Debug("filestore: cleared", "dir", s.dir, "record_type", recordType, "removed", removed)
	return removed, nil
}

// files lists the snapshot file names of the directory.
func (s *Store) files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, tempPrefix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *Store) readSummary(name string) (snapshot.Summary, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return snapshot.Summary{}, snapshot.NewStorageError(Name, "read", name, err)
	}
	sum, err := snapshot.DecodeSummary(data)
	if err != nil {
		return snapshot.Summary{}, snapshot.NewStorageError(Name, "decode", name, err)
	}
	return sum, nil
}
