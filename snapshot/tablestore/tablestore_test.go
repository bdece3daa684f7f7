package tablestore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/recsnap/dbopen"
	"github.com/hazyhaar/recsnap/snapshot"
	"github.com/hazyhaar/recsnap/snapshot/backendtest"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) snapshot.Backend { return testStore(t) })
}

// WHAT: applying the schema twice is harmless.
// WHY: every process start calls New on an existing database.
func TestApplySchema_Idempotent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	for range 2 {
		if err := ApplySchema(db); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = 'snapshots' AND name LIKE 'idx_%'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("no indexes created")
	}
}

// WHAT: an overwrite keeps one row and the original row id.
func TestSave_UpsertKeepsRowID(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	backendSave(t, s, "same", map[string]any{"v": int64(1)})

	var id1 string
	s.DB.QueryRow(`SELECT id FROM snapshots WHERE label = 'same'`).Scan(&id1)
	backendSave(t, s, "same", map[string]any{"v": int64(2)})

	var id2 string
	s.DB.QueryRow(`SELECT id FROM snapshots WHERE label = 'same'`).Scan(&id2)
	if id1 == "" || id1 != id2 {
		t.Fatalf("row id changed: %q -> %q", id1, id2)
	}
	if !strings.HasPrefix(id1, "snp_") {
		t.Fatalf("row id %q lacks prefix", id1)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("count: got %d", n)
	}
}

// WHAT: a duplicate primary key is classified as a constraint violation
// and wrapped in a StorageError.
func TestSave_ConstraintClassified(t *testing.T) {
	s, err := New(dbopen.OpenMemory(t), WithIDGenerator(func() string { return "fixed" }))
	if err != nil {
		t.Fatal(err)
	}
	backendSave(t, s, "one", map[string]any{})

	_, err = s.Save(context.Background(), "two", backendtest.Snap("User", "2", 0, map[string]any{}))
	if !errors.Is(err, snapshot.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
	if !strings.Contains(err.Error(), "constraint violation") {
		t.Fatalf("error not classified: %v", err)
	}
}

func TestLoad_CorruptAttributes(t *testing.T) {
	s := testStore(t)
	backendSave(t, s, "bad", map[string]any{})
	if _, err := s.DB.Exec(`UPDATE snapshots SET attributes = '[1,2]' WHERE label = 'bad'`); err != nil {
		t.Fatal(err)
	}
	_, err := s.Load(context.Background(), "bad")
	var se *snapshot.StorageError
	if !errors.As(err, &se) || se.Op != "decode" || se.Backend != Name {
		t.Fatalf("got %v", err)
	}
}

// WHAT: Open creates parent directories and the file survives reopening.
func TestOpen_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "snapshots.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	backendSave(t, s, "kept", map[string]any{"a": 1.5})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load(ctx, "kept")
	if err != nil || got == nil {
		t.Fatalf("load after reopen: %v %v", got, err)
	}
	if got.Attributes["a"] != 1.5 {
		t.Fatalf("a: got %v", got.Attributes["a"])
	}
}

// WHAT: WithOpenOptions reaches the pragmas applied by Open.
func TestOpen_PragmaOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	s, err := Open(path, WithOpenOptions(dbopen.WithSynchronous("FULL"), dbopen.WithBusyTimeout(2500)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	s.DB.SetMaxOpenConns(1)

	var sync, timeout int
	if err := s.DB.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if err := s.DB.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if sync != 2 || timeout != 2500 {
		t.Fatalf("pragmas: synchronous=%d busy_timeout=%d", sync, timeout)
	}
}

func TestClose_BorrowedDB(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("borrowed db closed: %v", err)
	}
}

func backendSave(t *testing.T, s *Store, label string, attrs map[string]any) {
	t.Helper()
	if _, err := s.Save(context.Background(), label, backendtest.Snap("User", "1", 0, attrs)); err != nil {
		t.Fatalf("save %q: %v", label, err)
	}
}
