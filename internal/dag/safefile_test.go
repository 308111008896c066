package dag

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSafeWrite_ReplacesRefFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest_revision")

	for _, body := range []string{`{"hash":"a"}`, `{"hash":"b"}`} {
		if err := SafeWrite(path, []byte(body), 0644); err != nil {
			t.Fatalf("SafeWrite(%s): %v", body, err)
		}
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != `{"hash":"b"}` {
		t.Fatalf("got %q", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Fatalf("perm = %o, want 0644", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left in %s: %d entries", dir, len(entries))
	}
}

func TestSafeWrite_FailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")
	if err := SafeWrite(path, []byte("original"), 0600); err != nil {
		t.Fatalf("SafeWrite: %v", err)
	}

	if err := SafeWrite(filepath.Join(dir, "missing", "identity.json"), []byte("x"), 0600); err == nil {
		t.Fatal("expected error for a missing parent directory")
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "identity.json" {
			t.Fatalf("unexpected file left behind: %s", e.Name())
		}
	}
	got, _ := os.ReadFile(path)
	if string(got) != "original" {
		t.Fatalf("original changed: %q", got)
	}
}

func TestSafeAppend_Journal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.jsonl")

	lines := []string{`{"source":"a","target":"b","type":"snapshot"}` + "\n", `{"source":"c","target":"d","type":"snapshot"}` + "\n"}
	for _, l := range lines {
		if err := SafeAppend(path, []byte(l)); err != nil {
			t.Fatalf("SafeAppend: %v", err)
		}
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != lines[0]+lines[1] {
		t.Fatalf("got %q", got)
	}
}

func TestSafeWrite_CreateDirs(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".diffsync", "peers.json")

	if err := SafeWrite(path, []byte("[]"), 0644, CreateDirs(0755), SyncDir()); err != nil {
		t.Fatalf("SafeWrite: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "[]" {
		t.Fatalf("got %q", got)
	}
	info, err := os.Stat(filepath.Dir(path))
	if err != nil || !info.IsDir() {
		t.Fatalf("parent not created: %v", err)
	}
}

func TestSafeWrite_SyncDirFailureReported(t *testing.T) {
	dir := t.TempDir()
	if err := syncDir(filepath.Join(dir, "gone")); err == nil {
		t.Fatal("expected error syncing a missing directory")
	}
	if err := syncDir(dir); err != nil {
		t.Fatalf("syncDir: %v", err)
	}
}

func TestSetRef_LeavesOnlyRefFiles(t *testing.T) {
	dir := t.TempDir()
	refs, err := NewRefStore(dir)
	if err != nil {
		t.Fatalf("NewRefStore: %v", err)
	}
	h, _ := ComputeCID([]byte("rev"))
	for i := 0; i < 3; i++ {
		if err := refs.SetRef("current_revision", Ref{Hash: h, Timestamp: time.Unix(1700000000, 0).UTC()}); err != nil {
			t.Fatalf("SetRef: %v", err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected a single ref file, found %d entries", len(entries))
	}
}
