package jpk

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempArchivePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "a.jpk")
}

func TestOpenCreateEmptyArchiveIsThreeBytes(t *testing.T) {
	path := tempArchivePath(t)

	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("JPK")) {
		t.Fatalf("got %q want JPK", data)
	}

	a2, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer a2.Close()

	if err := a2.Load(false); err != nil {
		t.Fatal(err)
	}
	keys, err := a2.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("got %v want empty", keys)
	}
}

func TestAddSingleEntryTotalFileLengthIs48Bytes(t *testing.T) {
	path := tempArchivePath(t)

	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Key: "hello.txt", Reader: bytes.NewReader([]byte("hi"))}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 48 {
		t.Fatalf("got %d bytes want 48", info.Size())
	}

	a2, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer a2.Close()

	buf, err := a2.GetBuffer("hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hi" {
		t.Fatalf("got %q want hi", buf)
	}
}

func TestAddSingleEntryGzip(t *testing.T) {
	path := tempArchivePath(t)

	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Key: "hello.txt", Reader: bytes.NewReader([]byte("hi"))}}, AddOptions{Gzip: true}); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	buf, err := a.GetBuffer("hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hi" {
		t.Fatalf("got %q want hi", buf)
	}

	meta, err := a.GetMeta("hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size == 2 {
		t.Fatal("expected gzip-compressed size to differ from raw size")
	}
}

func TestAddEncryptedHmacEntryDatablockBodyIs56Bytes(t *testing.T) {
	path := tempArchivePath(t)

	a, err := Open(path, true, WithUserKey([]byte("secret")))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Key: "f", Reader: bytes.NewReader([]byte("abcdefgh"))}}, AddOptions{Encryption: true, Hmac: true}); err != nil {
		t.Fatal(err)
	}

	meta, err := a.GetMeta("f")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size != 16+8+32 {
		t.Fatalf("got size %d want 56", meta.Size)
	}

	buf, err := a.GetBuffer("f")
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "abcdefgh" {
		t.Fatalf("got %q want abcdefgh", buf)
	}
	a.Close()

	wrong, err := Open(path, false, WithUserKey([]byte("wrong")))
	if err != nil {
		t.Fatal(err)
	}
	defer wrong.Close()
	if _, err := wrong.GetBuffer("f"); !errors.Is(err, ErrHmacMismatch) {
		t.Fatalf("got %v want ErrHmacMismatch", err)
	}
}

func TestMetaHmacStabilityAndIdempotentForbidden(t *testing.T) {
	path := tempArchivePath(t)

	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Key: "f", Reader: bytes.NewReader([]byte("x"))}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	d1, err := a.computeMetaHmac()
	if err != nil {
		t.Fatal(err)
	}
	d2, err := a.computeMetaHmac()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(d1, d2) {
		t.Fatal("meta hmac is not stable across recomputation")
	}

	if err := a.AddMetaHmac(); err != nil {
		t.Fatal(err)
	}
	if err := a.AddMetaHmac(); err != ErrMetaHmacAlreadyPresent {
		t.Fatalf("got %v want ErrMetaHmacAlreadyPresent", err)
	}
	a.Close()
}

func TestTamperDetectionOnHeaderFlipsMetaHmac(t *testing.T) {
	path := tempArchivePath(t)

	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Key: "f", Reader: bytes.NewReader([]byte("x"))}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := a.AddMetaHmac(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	clean, err := Open(path, false, WithVerifyMetaHmac())
	if err != nil {
		t.Fatal(err)
	}
	clean.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// majorVersion header record: flags(1)+keyLen(1)+valueLen(2) + "majorVersion"(12) + value(1)
	majorVersionValueOffset := len(Magic) + 4 + len("majorVersion")
	data[majorVersionValueOffset] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, false, WithVerifyMetaHmac()); err != ErrHmacMismatch {
		t.Fatalf("got %v want ErrHmacMismatch", err)
	}
}

func TestAppendOrderAcrossTwoAddCallsAndReopen(t *testing.T) {
	path := tempArchivePath(t)

	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Key: "b", Reader: bytes.NewReader([]byte("1"))}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Key: "a", Reader: bytes.NewReader([]byte("2"))}}, AddOptions{}); err != nil {
		t.Fatal(err)
	}

	keys, err := a.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("got %v want [b a]", keys)
	}
	a.Close()

	reopened, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	keys2, err := reopened.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys2) != 2 || keys2[0] != "b" || keys2[1] != "a" {
		t.Fatalf("got %v want [b a]", keys2)
	}
}
