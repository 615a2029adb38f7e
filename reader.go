package jpk

import (
	"bytes"
	"fmt"
	"io"
)

// Has reports whether key is a live (non-deleted) IndexEntry.
func (a *Archive) Has(key string) (bool, error) {
	if err := a.ensureLoaded(); err != nil {
		return false, err
	}
	entry, ok := a.index[key]
	return ok && !entry.Deleted, nil
}

// Keys returns every live IndexEntry key in insertion order.
func (a *Archive) Keys() ([]string, error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(a.indexOrder))
	for _, key := range a.indexOrder {
		if !a.index[key].Deleted {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// DirectoryKeys returns every DirectoryEntry key in insertion order.
func (a *Archive) DirectoryKeys() ([]string, error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, err
	}
	return append([]string{}, a.directoryOrder...), nil
}

// GetMeta returns the IndexEntry for key.
func (a *Archive) GetMeta(key string) (*IndexEntry, error) {
	if !a.loaded {
		return nil, ErrNotLoaded
	}
	entry, ok := a.index[key]
	if !ok || entry.Deleted {
		return nil, fmt.Errorf("jpk: %s: %w", key, ErrKeyNotFound)
	}
	return entry, nil
}

// GetStream returns a reader over key's decoded content: dehmac, decipher,
// and gunzip stages are applied as the entry's flags request. The returned
// reader is only valid until the next mutating call on a — it aliases the
// archive's file handle via an io.SectionReader.
//
// If the entry is flagged Hmac, the digest is always verified, at end of
// stream: bytes returned before Read reports io.EOF are not yet
// authenticated, and a mismatch surfaces as ErrHmacMismatch from Read. Such
// a mismatch does not poison the entry. Callers who need certainty before
// consuming any byte should prefer GetBuffer.
func (a *Archive) GetStream(key string) (io.Reader, error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, err
	}
	if a.poisoned[key] {
		return nil, fmt.Errorf("jpk: %s: %w", key, ErrPoisoned)
	}

	entry, ok := a.index[key]
	if !ok || entry.Deleted {
		return nil, fmt.Errorf("jpk: %s: %w", key, ErrKeyNotFound)
	}

	return a.entryReader(entry, true)
}

// GetBuffer reads key's full decoded content into memory, poisoning the
// entry on an HMAC mismatch so every later call fails immediately without
// re-reading the file.
func (a *Archive) GetBuffer(key string) ([]byte, error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, err
	}
	if a.poisoned[key] {
		return nil, fmt.Errorf("jpk: %s: %w", key, ErrPoisoned)
	}

	entry, ok := a.index[key]
	if !ok || entry.Deleted {
		return nil, fmt.Errorf("jpk: %s: %w", key, ErrKeyNotFound)
	}

	r, err := a.entryReader(entry, true)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		if err == ErrHmacMismatch {
			a.poisoned[key] = true
		}
		return nil, fmt.Errorf("jpk: reading %q: %w", key, err)
	}

	return buf.Bytes(), nil
}
