package pebblestore

import (
	"errors"
	"testing"
)

func openTestDB(t *testing.T, mode FsyncMode) *DB {
	t.Helper()
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: mode})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRequiresDataDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatalf("expected error for missing data dir")
	}
}

func TestSetGetDelete(t *testing.T) {
	db := openTestDB(t, FsyncModeNever)

	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get: %q err=%v", got, err)
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetCopiesValue(t *testing.T) {
	db := openTestDB(t, FsyncModeNever)
	_ = db.Set([]byte("k"), []byte("abc"))
	got, _ := db.Get([]byte("k"))
	got[0] = 'z'
	again, _ := db.Get([]byte("k"))
	if string(again) != "abc" {
		t.Fatalf("stored value mutated: %q", again)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	got, err := db2.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get after reopen: %q err=%v", got, err)
	}
}
