package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/hazyhaar/recsnap/snapshot"
	"github.com/hazyhaar/recsnap/snapshot/backendtest"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) snapshot.Backend { return openMemory(t) })
}

// WHAT: snapshots written to disk are there after reopening.
func TestOpen_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Dir: dir, SyncWrites: true})
	if err != nil {
		t.Fatal(err)
	}
	snap := backendtest.Snap("User", "1", 0, map[string]any{"score": float64(2), "n": int64(2)})
	if _, err := s.Save(ctx, "keep", snap); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Load(ctx, "keep")
	if err != nil || got == nil {
		t.Fatalf("reload: %v %v", got, err)
	}
	if _, ok := got.Attributes["score"].(float64); !ok {
		t.Fatalf("score: %T", got.Attributes["score"])
	}
}

func TestOpen_DirRequired(t *testing.T) {
	_, err := Open(Config{})
	if !errors.Is(err, snapshot.ErrStorage) {
		t.Fatalf("got %v", err)
	}
}

// WHAT: keys outside the snapshot prefix are not listed or cleared.
// WHY: the database may be shared with other data.
func TestForeignKeysIgnored(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	if err := s.DB().Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("other/x"), []byte("not json"))
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, "a", backendtest.Snap("User", "1", 0, map[string]any{})); err != nil {
		t.Fatal(err)
	}

	list, err := s.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
	n, err := s.Clear(ctx, "")
	if err != nil || n != 1 {
		t.Fatalf("clear: %d %v", n, err)
	}
	err = s.DB().View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("other/x"))
		return err
	})
	if err != nil {
		t.Fatalf("foreign key removed: %v", err)
	}
}

func TestLoad_CorruptValue(t *testing.T) {
	s := openMemory(t)
	s.DB().Update(func(txn *badger.Txn) error {
		return txn.Set(key("bad"), []byte("{"))
	})
	_, err := s.Load(context.Background(), "bad")
	var se *snapshot.StorageError
	if !errors.As(err, &se) || se.Op != "decode" {
		t.Fatalf("got %v", err)
	}
}

func TestCollectGarbage_InMemory(t *testing.T) {
	if err := openMemory(t).CollectGarbage(0.5); err != nil {
		t.Fatal(err)
	}
}
