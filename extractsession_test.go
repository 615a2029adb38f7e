package jpk

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractSingleEntryRoundTrip(t *testing.T) {
	path := tempArchivePath(t)
	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}

	mode := uint16(0o640)
	mtime := 1000.0
	atime := 2000.0
	if err := a.Add([]AddSource{{
		Key: "hello.txt", Reader: bytes.NewReader([]byte("hi")),
		Mode: &mode, Mtime: &mtime, Atime: &atime,
	}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	a.Close()

	target := t.TempDir()
	a2, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer a2.Close()
	if err := a2.Extract(target, ExtractOptions{}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(target, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hi" {
		t.Fatalf("got %q want hi", data)
	}

	info, err := os.Stat(filepath.Join(target, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != os.FileMode(mode) {
		t.Fatalf("got mode %v want %v", info.Mode().Perm(), os.FileMode(mode))
	}
}

func TestExtractDirectoryTree(t *testing.T) {
	path := tempArchivePath(t)
	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}

	srcRoot := t.TempDir()
	if err := os.Mkdir(filepath.Join(srcRoot, "d"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcRoot, "d", "a.txt"), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcRoot, "d", "b.txt"), []byte("2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Path: filepath.Join(srcRoot, "d")}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	a.Close()

	target := t.TempDir()
	a2, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer a2.Close()
	if err := a2.Extract(target, ExtractOptions{}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(target, "d"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatal("expected d to be a directory")
	}

	a1, err := os.ReadFile(filepath.Join(target, "d", "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(a1) != "1" {
		t.Fatalf("got %q want 1", a1)
	}
	b1, err := os.ReadFile(filepath.Join(target, "d", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != "2" {
		t.Fatalf("got %q want 2", b1)
	}
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	target := t.TempDir()
	cases := []string{"../escape", "/etc/passwd", "..", ".", "~", "a/../../escape", "~/x"}
	for _, key := range cases {
		if _, err := safeJoin(target, key); err != ErrUnsafeKey {
			t.Fatalf("key %q: got %v want ErrUnsafeKey", key, err)
		}
	}
}

func TestExtractSkipsUnsafeKeyWithoutEscapingTarget(t *testing.T) {
	path := tempArchivePath(t)
	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Key: "../escape.txt", Reader: bytes.NewReader([]byte("x"))}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	target := t.TempDir()
	if err := a.Extract(target, ExtractOptions{}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(target), "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("unsafe key escaped the target directory")
	}
}
