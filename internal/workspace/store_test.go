package workspace

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"workbench/internal/quota"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestResolveRejectsEscapes(t *testing.T) {
	store := newTestStore(t)

	bad := []string{
		"../other-session/secret.txt",
		"../../etc/passwd",
		"a/../../outside",
	}
	for _, rel := range bad {
		if _, err := store.resolve("sess-1", rel); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("resolve(%q) = %v, want ErrInvalidPath", rel, err)
		}
	}

	ok := []string{"notes.txt", "a/b/c.txt", "/rooted.txt", "a/../b.txt", ""}
	for _, rel := range ok {
		if _, err := store.resolve("sess-1", rel); err != nil {
			t.Errorf("resolve(%q) = %v, want nil", rel, err)
		}
	}
}

func TestSaveAndReadNormalizesNewlines(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveFile("s1", "win.txt", "a\r\nb\rc\n", quota.DefaultBytes); err != nil {
		t.Fatal(err)
	}
	got, err := store.ReadFile("s1", "win.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a\nb\nc\n" {
		t.Errorf("content = %q, want normalized newlines", got)
	}
}

func TestSaveFileQuota(t *testing.T) {
	store := newTestStore(t)
	quotaBytes := int64(100)

	if err := store.SaveFile("s1", "a.txt", string(make([]byte, 90)), quotaBytes); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveFile("s1", "b.txt", string(make([]byte, 20)), quotaBytes); !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Errorf("over-quota save = %v, want ErrQuotaExceeded", err)
	}
	// Shrinking an existing file is always allowed.
	if err := store.SaveFile("s1", "a.txt", "tiny", quotaBytes); err != nil {
		t.Errorf("shrink = %v, want nil", err)
	}
}

func TestTree(t *testing.T) {
	store := newTestStore(t)

	store.SaveFile("s1", "b.txt", "data", quota.DefaultBytes)
	store.SaveFile("s1", "sub/inner.txt", "data", quota.DefaultBytes)
	store.CreateEntry("s1", "a-dir", true)

	nodes, err := store.Tree("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 3 {
		t.Fatalf("got %d top-level nodes, want 3: %+v", len(nodes), nodes)
	}
	// Sorted by name: a-dir, b.txt, sub.
	if nodes[0].Name != "a-dir" || nodes[0].Type != "folder" {
		t.Errorf("nodes[0] = %+v", nodes[0])
	}
	if nodes[1].Name != "b.txt" || nodes[1].Type != "file" || nodes[1].Size != 4 {
		t.Errorf("nodes[1] = %+v", nodes[1])
	}
	if nodes[2].Name != "sub" || len(nodes[2].Children) != 1 || nodes[2].Children[0].Path != "sub/inner.txt" {
		t.Errorf("nodes[2] = %+v", nodes[2])
	}
}

func TestRename(t *testing.T) {
	store := newTestStore(t)
	store.SaveFile("s1", "old.txt", "data", quota.DefaultBytes)
	store.SaveFile("s1", "taken.txt", "data", quota.DefaultBytes)

	if err := store.Rename("s1", "old.txt", "new.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ReadFile("s1", "new.txt"); err != nil {
		t.Error("renamed file unreadable")
	}

	if err := store.Rename("s1", "missing.txt", "x.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rename missing = %v, want ErrNotFound", err)
	}
	if err := store.Rename("s1", "new.txt", "taken.txt"); !errors.Is(err, ErrExists) {
		t.Errorf("rename onto existing = %v, want ErrExists", err)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	store.SaveFile("s1", "f.txt", "data", quota.DefaultBytes)
	store.SaveFile("s1", "dir/nested.txt", "data", quota.DefaultBytes)

	isDir, err := store.Delete("s1", "f.txt")
	if err != nil || isDir {
		t.Errorf("Delete(file) = %v, %v", isDir, err)
	}
	isDir, err = store.Delete("s1", "dir")
	if err != nil || !isDir {
		t.Errorf("Delete(dir) = %v, %v", isDir, err)
	}
	if _, err := store.Delete("s1", "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
	}
}

func TestSaveUploadsAggregateQuota(t *testing.T) {
	store := newTestStore(t)
	quotaBytes := int64(100)

	uploads := []Upload{
		{Name: "a.bin", Content: make([]byte, 60)},
		{Name: "b.bin", Content: make([]byte, 60)},
	}
	// Each file fits alone but the batch does not; nothing may land.
	if _, err := store.SaveUploads("s1", "", uploads, quotaBytes); !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("SaveUploads = %v, want ErrQuotaExceeded", err)
	}
	if got := store.Usage("s1"); got != 0 {
		t.Errorf("usage after rejected batch = %d, want 0", got)
	}

	saved, err := store.SaveUploads("s1", "data", []Upload{
		{Name: "a.bin", Content: make([]byte, 40)},
		{Name: "b.bin", Content: make([]byte, 40)},
	}, quotaBytes)
	if err != nil || len(saved) != 2 {
		t.Fatalf("SaveUploads = %v, %v", saved, err)
	}
	if _, err := os.Stat(filepath.Join(store.SessionDir("s1"), "data", "a.bin")); err != nil {
		t.Error("uploaded file missing")
	}
}

func TestWriteZip(t *testing.T) {
	store := newTestStore(t)
	store.SaveFile("s1", "proj/main.py", "print()\n", quota.DefaultBytes)
	store.SaveFile("s1", "proj/lib/util.py", "pass\n", quota.DefaultBytes)

	var buf bytes.Buffer
	base, err := store.WriteZip("s1", "proj", &buf)
	if err != nil {
		t.Fatal(err)
	}
	if base != "proj" {
		t.Errorf("base = %q, want proj", base)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["main.py"] || !names["lib/util.py"] {
		t.Errorf("zip entries = %v", names)
	}

	if _, err := store.WriteZip("s1", "nope", &bytes.Buffer{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("zip of missing folder = %v, want ErrNotFound", err)
	}
}

func TestRemoveSession(t *testing.T) {
	store := newTestStore(t)
	store.SaveFile("s1", "f.txt", "data", quota.DefaultBytes)

	if err := store.RemoveSession("s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(store.SessionDir("s1")); !os.IsNotExist(err) {
		t.Error("session dir still exists")
	}
	if err := store.RemoveSession("never-existed"); err != nil {
		t.Errorf("removing absent session = %v, want nil", err)
	}
}
