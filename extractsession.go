package jpk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-compile/jpk/internal/transform"
)

// ExtractOptions controls how Extract verifies per-entry HMACs.
// GetStream and GetBuffer always verify.
type ExtractOptions struct {
	// VerifyFileHmac, when true, verifies the trailing HMAC of any entry
	// flagged Hmac during extraction. A mismatch poisons the entry and
	// Extract returns the error; later entries are not extracted.
	VerifyFileHmac bool
}

// Extract writes every IndexEntry's content and every DirectoryEntry's
// directory into targetDir, rejecting any key that would resolve outside
// it. Unsafe keys are logged and skipped; integrity and I/O faults abort
// the call.
func (a *Archive) Extract(targetDir string, opts ExtractOptions) error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("jpk: mkdir %s: %w", targetDir, err)
	}

	madeDirs := make(map[string]bool)

	for _, key := range a.indexOrder {
		entry := a.index[key]
		if entry.Deleted {
			continue
		}

		filePath, err := safeJoin(targetDir, key)
		if err != nil {
			a.log.Warn("jpk: skipping unsafe key during extract", "key", key, "error", err)
			continue
		}

		if a.poisoned[key] {
			return fmt.Errorf("jpk: %s: %w", key, ErrPoisoned)
		}

		parent := filepath.Dir(filePath)
		if !madeDirs[parent] {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return fmt.Errorf("jpk: mkdir %s: %w", parent, err)
			}
			madeDirs[parent] = true
		}

		if err := a.extractOne(filePath, entry, opts); err != nil {
			if err == ErrHmacMismatch {
				a.poisoned[key] = true
			}
			return fmt.Errorf("jpk: extracting %q: %w", key, err)
		}
	}

	dirKeys := append([]string{}, a.directoryOrder...)
	sort.Slice(dirKeys, func(i, j int) bool { return len(dirKeys[i]) > len(dirKeys[j]) })

	for _, key := range dirKeys {
		entry := a.directory[key]

		dirPath, err := safeJoin(targetDir, key)
		if err != nil {
			a.log.Warn("jpk: skipping unsafe key during extract", "key", key, "error", err)
			continue
		}

		if err := os.Mkdir(dirPath, os.FileMode(entry.Mode)); err != nil {
			if !os.IsExist(err) {
				return fmt.Errorf("jpk: mkdir %s: %w", dirPath, err)
			}
			if err := os.Chmod(dirPath, os.FileMode(entry.Mode)); err != nil {
				return fmt.Errorf("jpk: chmod %s: %w", dirPath, err)
			}
		}

		if err := chtimes(dirPath, entry.Mtime, entry.Atime); err != nil {
			return err
		}
	}

	return nil
}

// extractOne decodes a single entry's pipeline and writes it to filePath.
func (a *Archive) extractOne(filePath string, entry *IndexEntry, opts ExtractOptions) error {
	r, err := a.entryReader(entry, opts.VerifyFileHmac)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(entry.Mode))
	if err != nil {
		return fmt.Errorf("jpk: create %s: %w", filePath, err)
	}

	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}

	return chtimes(filePath, entry.Mtime, entry.Atime)
}

// entryReader builds the dehmac -> decipher -> gunzip read pipeline for
// entry's data window, applying only the stages its flags request.
func (a *Archive) entryReader(entry *IndexEntry, verifyHmac bool) (io.Reader, error) {
	var r io.Reader = io.NewSectionReader(a.file, int64(entry.Offset), int64(entry.Size))

	if entry.Hmac {
		r = transform.NewDeHmacReader(r, a.cipherKey, verifyHmac)
	}
	if entry.Encryption {
		r = transform.NewDecipherReader(r, a.cipherKey)
	}
	if entry.Gzip {
		gz, err := transform.NewGzipReader(r)
		if err != nil {
			return nil, fmt.Errorf("jpk: opening gzip stream: %w", err)
		}
		r = gz
	}

	return r, nil
}

func chtimes(path string, mtimeMillis, atimeMillis float64) error {
	mtime := millisToTime(mtimeMillis)
	atime := millisToTime(atimeMillis)
	if err := os.Chtimes(path, atime, mtime); err != nil {
		return fmt.Errorf("jpk: chtimes %s: %w", path, err)
	}
	return nil
}

func millisToTime(ms float64) time.Time {
	return time.Unix(0, int64(ms*float64(time.Millisecond)))
}

// safeJoin resolves key against targetDir, rejecting any key whose
// basename is ".", "..", or "~", or that is absolute or escapes targetDir
// via ".." or "~/" components.
func safeJoin(targetDir, key string) (string, error) {
	if key == "" {
		return "", ErrUnsafeKey
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, "~/") || key == "~" {
		return "", ErrUnsafeKey
	}

	base := key
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		base = key[idx+1:]
	}
	if base == "." || base == ".." || base == "~" {
		return "", ErrUnsafeKey
	}

	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ErrUnsafeKey
		}
	}

	joined := filepath.Join(targetDir, filepath.FromSlash(key))

	absTarget, err := filepath.Abs(targetDir)
	if err != nil {
		return "", fmt.Errorf("jpk: resolving target dir: %w", err)
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("jpk: resolving path: %w", err)
	}
	if absJoined != absTarget && !strings.HasPrefix(absJoined, absTarget+string(filepath.Separator)) {
		return "", ErrUnsafeKey
	}

	return joined, nil
}
