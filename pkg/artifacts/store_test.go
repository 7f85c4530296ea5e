package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_PutGetOverwrite(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "0/backup/op-1.json", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "0/backup/op-1.json", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Put overwrite failed: %v", err)
	}

	data, err := store.Get(ctx, "0/backup/op-1.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("Expected overwritten content, got %s", data)
	}

	ok, err := store.Exists(ctx, "0/backup/op-1.json")
	if err != nil || !ok {
		t.Errorf("Expected blob to exist, got %v, %v", ok, err)
	}
	ok, err = store.Exists(ctx, "0/backup/op-2.json")
	if err != nil || ok {
		t.Errorf("Expected blob to be absent, got %v, %v", ok, err)
	}
}

func TestFileStore_GetMissing(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())

	_, err := store.Get(context.Background(), "0/backup/missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_ListSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	ctx := context.Background()

	for _, key := range []string{"1/backup/b.json", "1/backup/a.json", "2/backup/c.json", "report/x.json"} {
		if err := store.Put(ctx, key, []byte("{}")); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "1", "backup", ".blob-123"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	keys, err := store.List(ctx, "1/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "1/backup/a.json" || keys[1] != "1/backup/b.json" {
		t.Errorf("unexpected keys: %v", keys)
	}

	all, _ := store.List(ctx, "")
	if len(all) != 4 {
		t.Errorf("Expected 4 keys, got %v", all)
	}
}

func TestCleanKey(t *testing.T) {
	valid := map[string]string{
		"0/backup/op.json": "0/backup/op.json",
		"report//op.json":  "report/op.json",
		"a/./b.json":       "a/b.json",
		"a/../b.json":      "b.json",
	}
	for in, want := range valid {
		got, err := CleanKey(in)
		if err != nil {
			t.Errorf("CleanKey(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("CleanKey(%q) = %q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"", "/etc/passwd", "../escape", "a/../../b", "a\\b", "."} {
		if _, err := CleanKey(in); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("CleanKey(%q) expected ErrInvalidKey, got %v", in, err)
		}
	}
}
