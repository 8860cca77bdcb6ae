package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStorageName(t *testing.T) {
	selector := "0123456789abcdef0123456789abcdef"

	t.Run("carries no path syntax", func(t *testing.T) {
		name := NewStorageName(selector, ".pdf")
		if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
			t.Errorf("storage name contains path syntax: %q", name)
		}
		if !strings.HasSuffix(name, ".pdf") {
			t.Errorf("expected .pdf suffix, got %q", name)
		}
	})

	t.Run("unique per call", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			name := NewStorageName(selector, ".pdf")
			if seen[name] {
				t.Fatalf("duplicate storage name generated: %s", name)
			}
			seen[name] = true
		}
	})

	t.Run("independent of any filename", func(t *testing.T) {
		// The generator takes no filename at all; the owner fragment
		// is the only variable input besides randomness.
		name := NewStorageName("short", ".pdf")
		if !strings.Contains(name, "_short") {
			t.Errorf("expected owner fragment in %q", name)
		}
	})
}

func TestFileSystemStore_Save(t *testing.T) {
	t.Run("saves file to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		data := bytes.NewReader([]byte("%PDF-1.4 test"))
		n, err := store.Save("doc1.pdf", data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 13 {
			t.Errorf("expected 13 bytes written, got %d", n)
		}

		content, err := os.ReadFile(filepath.Join(dir, "doc1.pdf"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "%PDF-1.4 test" {
			t.Errorf("unexpected content: %q", content)
		}
	})

	t.Run("existing destination is a hard failure", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if _, err := store.Save("doc1.pdf", bytes.NewReader([]byte("first"))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err := store.Save("doc1.pdf", bytes.NewReader([]byte("second")))
		if !errors.Is(err, ErrNameCollision) {
			t.Fatalf("expected ErrNameCollision, got %v", err)
		}

		// The original content must be untouched.
		content, _ := os.ReadFile(filepath.Join(dir, "doc1.pdf"))
		if string(content) != "first" {
			t.Errorf("collision overwrote content: %q", content)
		}
	})

	t.Run("rejects traversal in the name", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		_, err := store.Save("../escape.pdf", bytes.NewReader([]byte("x")))
		if !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("expected ErrOutOfBounds, got %v", err)
		}
	})
}

func TestFileSystemStore_Resolve(t *testing.T) {
	t.Run("returns absolute path for existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		filePath := filepath.Join(dir, "doc1.pdf")
		os.WriteFile(filePath, []byte("data"), 0o644)

		path, err := store.Resolve("doc1.pdf")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if path != filePath {
			t.Errorf("expected %s, got %s", filePath, path)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		_, err := store.Resolve("nonexistent.pdf")
		if !errors.Is(err, ErrFileNotFound) {
			t.Fatalf("expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("rejects names that escape the root", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		// A sibling file outside the root must be unreachable even
		// though it exists.
		outside := filepath.Join(filepath.Dir(dir), "outside.pdf")
		os.WriteFile(outside, []byte("secret"), 0o644)

		bad := []string{
			"",
			"../outside.pdf",
			"..",
			"a/../../outside.pdf",
			"sub/dir.pdf",
			`sub\dir.pdf`,
			"/etc/passwd",
		}
		for _, name := range bad {
			if _, err := store.Resolve(name); !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("Resolve(%q): expected ErrOutOfBounds, got %v", name, err)
			}
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		filePath := filepath.Join(dir, "doc1.pdf")
		os.WriteFile(filePath, []byte("data"), 0o644)

		if err := store.Delete("doc1.pdf"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		if err := store.Delete("nonexistent.pdf"); err != nil {
			t.Errorf("expected no error for missing file, got: %v", err)
		}
	})

	t.Run("rejects traversal", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		if err := store.Delete("../victim.pdf"); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("expected ErrOutOfBounds, got %v", err)
		}
	})
}

func TestFileSystemStore_List(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSystemStore(dir)

	os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("b"), 0o644)
	os.Mkdir(filepath.Join(dir, "subdir"), 0o755)

	names, err := store.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 regular files, got %d: %v", len(names), names)
	}
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
