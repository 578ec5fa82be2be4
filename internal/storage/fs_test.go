package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempLibrary(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempLibrary(t)
	content := []byte("---\ntitle: Hello\n---\n<p>World</p>\n")
	if err := s.Write("article.html", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("article.html")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempLibrary(t)
	if err := s.Write("feeds/go-blog/post.html", []byte("<p>deep</p>")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("feeds/go-blog/post.html")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "<p>deep</p>" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteRootRejected(t *testing.T) {
	s := tempLibrary(t)
	if err := s.Write("", []byte("x")); err == nil {
		t.Error("expected error writing to the library root")
	}
}

func TestDelete(t *testing.T) {
	s := tempLibrary(t)
	_ = s.Write("del.html", []byte("bye"))
	if err := s.Delete("del.html"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.html"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("read after delete: err = %v, want ErrNotExist", err)
	}
}

func TestList(t *testing.T) {
	s := tempLibrary(t)
	_ = s.Write("a.html", []byte("a"))
	_ = s.Write("sub/b.htm", []byte("b"))
	_ = s.Write("readme.txt", []byte("not an article"))
	_ = s.Write(".cache/c.html", []byte("hidden"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(items), items)
	}
	for _, it := range items {
		if it.Checksum == "" {
			t.Errorf("%s: empty checksum", it.Path)
		}
	}
	if items[1].Path != "sub/b.htm" {
		t.Errorf("path = %q, want slash-separated relative path", items[1].Path)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempLibrary(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.html",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempLibrary(t)
	_ = s.Write("atomic.html", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.html", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.html")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.Root(), ".marginalia-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "marginalia-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestIsDocument(t *testing.T) {
	for name, want := range map[string]bool{"a.html": true, "b.HTM": true, "c.md": false, "d": false} {
		if got := IsDocument(name); got != want {
			t.Errorf("IsDocument(%q) = %v", name, got)
		}
	}
}
