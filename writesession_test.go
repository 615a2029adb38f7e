package jpk

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAddDirectoryTreeRecursively(t *testing.T) {
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

	path := tempArchivePath(t)
	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Add([]AddSource{{Path: filepath.Join(srcRoot, "d")}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	dirKeys, err := a.DirectoryKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirKeys) != 1 || dirKeys[0] != "d" {
		t.Fatalf("got %v want [d]", dirKeys)
	}

	keys, err := a.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %v want 2 keys", keys)
	}

	a1, err := a.GetBuffer("d/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(a1) != "1" {
		t.Fatalf("got %q want 1", a1)
	}
	b1, err := a.GetBuffer("d/b.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != "2" {
		t.Fatalf("got %q want 2", b1)
	}
}

func TestAddSkipsSymlinks(t *testing.T) {
	srcRoot := t.TempDir()
	target := filepath.Join(srcRoot, "real.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(srcRoot, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	path := tempArchivePath(t)
	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Add([]AddSource{{Path: link}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	keys, err := a.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("got %v want no entries for a symlink source", keys)
	}
}

func TestValidatePrefixRejectsEscape(t *testing.T) {
	cases := []string{"/abs", "../x", "a/../b", "~", "~/x"}
	for _, c := range cases {
		if err := validatePrefix(c); err != ErrInvalidPrefix {
			t.Fatalf("prefix %q: got %v want ErrInvalidPrefix", c, err)
		}
	}
	if err := validatePrefix("a/b"); err != nil {
		t.Fatalf("prefix a/b: got %v want nil", err)
	}
}

func TestAddWithPrefix(t *testing.T) {
	path := tempArchivePath(t)
	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Add([]AddSource{{Key: "f", Reader: bytes.NewReader([]byte("x"))}}, AddOptions{Prefix: "sub"}); err != nil {
		t.Fatal(err)
	}

	keys, err := a.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "sub/f" {
		t.Fatalf("got %v want [sub/f]", keys)
	}
}
