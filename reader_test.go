package jpk

import (
	"bytes"
	"errors"
	"testing"
)

func TestHasAndGetMetaUnknownKey(t *testing.T) {
	path := tempArchivePath(t)
	a, err := Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ok, err := a.Has("missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected Has to report false for a missing key")
	}

	if _, err := a.GetMeta("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("got %v want ErrKeyNotFound", err)
	}
}

func TestGetMetaBeforeLoadFails(t *testing.T) {
	a := &Archive{index: map[string]*IndexEntry{}}
	if _, err := a.GetMeta("f"); err != ErrNotLoaded {
		t.Fatalf("got %v want ErrNotLoaded", err)
	}
}

func TestPoisonedEntryFailsAllFurtherReads(t *testing.T) {
	path := tempArchivePath(t)
	a, err := Open(path, true, WithUserKey([]byte("secret")))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add([]AddSource{{Key: "f", Reader: bytes.NewReader([]byte("abcdefgh"))}}, AddOptions{Encryption: true, Hmac: true}); err != nil {
		t.Fatal(err)
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

	if _, err := wrong.GetBuffer("f"); !errors.Is(err, ErrPoisoned) {
		t.Fatalf("got %v want ErrPoisoned on second read", err)
	}
	if _, err := wrong.GetStream("f"); !errors.Is(err, ErrPoisoned) {
		t.Fatalf("got %v want ErrPoisoned from GetStream", err)
	}
}
