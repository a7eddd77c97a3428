package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, dir string, content []byte) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	if _, err := f.Write(content); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestFinalizeRenamesToContentHash(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello ctxpipe")
	tmp := writeTemp(t, dir, content)

	id, size, err := Finalize(tmp, dir)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	want := sha256.Sum256(content)
	if id != hex.EncodeToString(want[:]) {
		t.Fatalf("expected object id %s, got %s", hex.EncodeToString(want[:]), id)
	}
	if size != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), size)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be gone after finalize")
	}
	if _, err := os.Stat(filepath.Join(dir, id)); err != nil {
		t.Fatalf("expected finalized object to exist: %v", err)
	}
}

func TestFinalizeDeduplicatesIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	content := []byte("duplicate bytes")
	tmp1 := writeTemp(t, dir, content)
	id1, _, err := Finalize(tmp1, dir)
	if err != nil {
		t.Fatalf("finalize 1: %v", err)
	}

	tmp2 := writeTemp(t, dir, content)
	id2, _, err := Finalize(tmp2, dir)
	if err != nil {
		t.Fatalf("finalize 2: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same object id for identical content, got %s and %s", id1, id2)
	}
	if _, err := os.Stat(tmp2); !os.IsNotExist(err) {
		t.Fatal("expected second temp file to be discarded on dedup")
	}
}
