package kv_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/hafiz/internal/kv"
)

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, s kv.Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want absent", ok, err)
	}
	if err := s.Set(ctx, "a", `{"112":{"1":true}}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "a")
	if err != nil || !ok || v != `{"112":{"1":true}}` {
		t.Fatalf("Get(a) = %q, %v, %v", v, ok, err)
	}
	if err := s.Set(ctx, "a", "[]"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if v, _, _ := s.Get(ctx, "a"); v != "[]" {
		t.Errorf("Get after overwrite = %q, want []", v)
	}
	if err := s.Set(ctx, "empty", ""); err != nil {
		t.Fatalf("Set empty: %v", err)
	}
	if v, ok, _ := s.Get(ctx, "empty"); !ok || v != "" {
		t.Errorf("Get(empty) = %q, %v; want present empty value", v, ok)
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()
	storeContract(t, kv.NewMemStore())

	var zero kv.MemStore
	if err := zero.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("zero MemStore Set: %v", err)
	}
	if snap := zero.Snapshot(); snap["k"] != "v" {
		t.Errorf("Snapshot = %v", snap)
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	t.Parallel()

	s := kv.NewMemStore()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i))
			_ = s.Set(context.Background(), key, key)
			_, _, _ = s.Get(context.Background(), key)
		}()
	}
	wg.Wait()
	if got := len(s.Snapshot()); got != 20 {
		t.Errorf("Snapshot has %d keys, want 20", got)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "progress.json")
	storeContract(t, kv.NewFileStore(path))
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	if err := kv.NewFileStore(path).Set(ctx, "hafiz.practice_log", `["2026-10-17"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := kv.NewFileStore(path).Get(ctx, "hafiz.practice_log")
	if err != nil || !ok || v != `["2026-10-17"]` {
		t.Fatalf("Get from new instance = %q, %v, %v", v, ok, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s := kv.NewFileStore(path)
	if _, _, err := s.Get(context.Background(), "k"); err == nil {
		t.Error("Get: expected decode error")
	}
	if err := s.Set(context.Background(), "k", "v"); err == nil {
		t.Error("Set: expected decode error instead of clobbering the file")
	}
}
