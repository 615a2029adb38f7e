package jpk

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-compile/jpk/internal/cryptoprim"
	"github.com/go-compile/jpk/internal/transform"
)

// maxWalkDepth bounds the recursive directory walk Add performs, guarding
// against pathological filesystem layouts feeding the same work queue
// forever (see SPEC_FULL.md's "Unbounded recursion protection" note).
const maxWalkDepth = 256

// AddOptions controls the pipeline chosen for entries added by a single
// Add call, and the prefix every resulting key is rooted under.
type AddOptions struct {
	// Prefix is prepended to every key this call produces. It must not be
	// absolute and must not contain ".." or "~/" components.
	Prefix     string
	Gzip       bool
	Encryption bool
	Hmac       bool
}

// AddSource is one thing to add: a filesystem path (file or directory,
// walked recursively) or an in-memory Reader with an explicit Key. Exactly
// one of Path or Reader must be set.
type AddSource struct {
	Path   string
	Key    string
	Reader io.Reader

	// Prefix is additional path prepended ahead of this source's own
	// basename/Key, used internally to thread the recursive directory
	// walk's accumulated path; callers adding a single source normally
	// leave it empty.
	Prefix string

	Mode  *uint16
	Mtime *float64
	Atime *float64

	Gzip       *bool
	Encryption *bool
	Hmac       *bool
}

type pendingIndexEntry struct {
	key        string
	mode       uint16
	mtime      float64
	atime      float64
	gzip       bool
	encryption bool
	hmac       bool
	offset     uint32
	size       uint32
}

type pendingDirectoryEntry struct {
	key        string
	mode       uint16
	mtime      float64
	atime      float64
	encryption bool
}

// Add appends one datablock carrying every streamed source's payload,
// followed by directory records and then index records for every entry
// produced in this call — data first (in entry order), then directories,
// then indexes, matching the on-disk ordering guarantee documented for
// WriteSession.
func (a *Archive) Add(sources []AddSource, opts AddOptions) error {
	if err := validatePrefix(opts.Prefix); err != nil {
		return err
	}
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	if err := a.addCoreHeaders(); err != nil {
		return err
	}

	if err := a.seekEOF(); err != nil {
		return err
	}
	preludeOffset := a.eof
	if err := writeDatablockPrelude(a.file, byte(recordTypeDatablock), 0); err != nil {
		return err
	}
	a.eof += 5
	dataStart := a.eof

	var indexEntries []pendingIndexEntry
	var directoryEntries []pendingDirectoryEntry

	queue := make([]AddSource, len(sources))
	copy(queue, sources)
	depth := make([]int, len(queue))

	for i := 0; i < len(queue); i++ {
		src := queue[i]
		entryDepth := depth[i]

		key, err := a.joinKey(opts.Prefix, src)
		if err != nil {
			return err
		}

		if src.Path != "" {
			info, err := os.Lstat(src.Path)
			if err != nil {
				return fmt.Errorf("jpk: stat %s: %w", src.Path, err)
			}

			if info.Mode()&fs.ModeSymlink != 0 {
				a.log.Debug("jpk: skipping symlink during add", "path", src.Path)
				continue
			}

			if info.IsDir() {
				if entryDepth >= maxWalkDepth {
					return fmt.Errorf("jpk: %s: directory walk deeper than %d levels", src.Path, maxWalkDepth)
				}

				mtime := toEpochMillis(info.ModTime())
				atime := mtime
				if t, ok := accessTime(info); ok {
					atime = toEpochMillis(t)
				}
				directoryEntries = append(directoryEntries, pendingDirectoryEntry{
					key:        key,
					mode:       uint16(info.Mode().Perm()),
					mtime:      mtime,
					atime:      atime,
					encryption: resolveFlag(src.Encryption, opts.Encryption),
				})

				children, err := os.ReadDir(src.Path)
				if err != nil {
					return fmt.Errorf("jpk: readdir %s: %w", src.Path, err)
				}
				childPrefix := path.Join(src.Prefix, filepath.Base(src.Path))
				for _, child := range children {
					queue = append(queue, AddSource{
						Path:       filepath.Join(src.Path, child.Name()),
						Prefix:     childPrefix,
						Gzip:       src.Gzip,
						Encryption: src.Encryption,
						Hmac:       src.Hmac,
					})
					depth = append(depth, entryDepth+1)
				}
				continue
			}
		}

		if len(key) >= KeyMaxSize {
			return ErrKeyTooLarge
		}

		entry, err := a.writeEntryPayload(src, key, opts)
		if err != nil {
			return err
		}
		indexEntries = append(indexEntries, entry)
	}

	totalSize := uint32(a.eof - dataStart)
	if err := a.rewriteDatablockPrelude(preludeOffset, totalSize); err != nil {
		return err
	}

	for _, d := range directoryEntries {
		if err := a.emitDirectoryRecord(d); err != nil {
			return err
		}
	}
	for _, idx := range indexEntries {
		if err := a.emitIndexRecord(idx); err != nil {
			return err
		}
	}

	return nil
}

func resolveFlag(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

func toEpochMillis(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}

// joinKey joins the call-level prefix, the source's own accumulated
// walk prefix, and the source's basename or explicit key.
func (a *Archive) joinKey(callPrefix string, src AddSource) (string, error) {
	var base string
	switch {
	case src.Path != "":
		base = filepath.Base(src.Path)
	case src.Key != "":
		base = src.Key
	default:
		return "", fmt.Errorf("jpk: add source must set Path or Key")
	}

	key := path.Join(callPrefix, src.Prefix, base)
	key = strings.TrimPrefix(key, "/")
	return key, nil
}

// writeEntryPayload streams one non-directory source through its pipeline
// into the archive at the current EOF and returns the resulting pending
// index entry.
func (a *Archive) writeEntryPayload(src AddSource, key string, opts AddOptions) (pendingIndexEntry, error) {
	r, mode, mtime, atime, closer, err := openSource(src)
	if err != nil {
		return pendingIndexEntry{}, err
	}
	if closer != nil {
		defer closer.Close()
	}

	useGzip := resolveFlag(src.Gzip, opts.Gzip)
	useEncryption := resolveFlag(src.Encryption, opts.Encryption)
	useHmac := resolveFlag(src.Hmac, opts.Hmac)

	if err := a.seekEOF(); err != nil {
		return pendingIndexEntry{}, err
	}
	offset := a.eof

	counter := &countingWriter{w: a.file}
	var sink io.Writer = counter

	var hmacStage *transform.AppendHmacWriter
	if useHmac {
		hmacStage = transform.NewAppendHmacWriter(sink, a.cipherKey)
		sink = hmacStage
	}
	if useEncryption {
		sink = transform.NewCipherWriter(sink, a.cipherKey)
	}

	var gzipStage interface{ Close() error }
	if useGzip {
		gw := transform.NewGzipWriter(sink)
		gzipStage = gw
		sink = gw
	}

	if _, err := io.Copy(sink, r); err != nil {
		return pendingIndexEntry{}, fmt.Errorf("jpk: writing entry %q: %w", key, err)
	}
	if gzipStage != nil {
		if err := gzipStage.Close(); err != nil {
			return pendingIndexEntry{}, err
		}
	}
	if hmacStage != nil {
		if _, err := hmacStage.Finalize(); err != nil {
			return pendingIndexEntry{}, err
		}
	}

	a.eof += int64(counter.n)

	return pendingIndexEntry{
		key:        key,
		mode:       mode,
		mtime:      mtime,
		atime:      atime,
		gzip:       useGzip,
		encryption: useEncryption,
		hmac:       useHmac,
		offset:     uint32(offset),
		size:       uint32(counter.n),
	}, nil
}

// openSource resolves an AddSource to a readable stream plus the metadata
// to record for it, applying caller overrides or filesystem stat results.
func openSource(src AddSource) (r io.Reader, mode uint16, mtime, atime float64, closer io.Closer, err error) {
	if src.Path != "" {
		f, openErr := os.Open(src.Path)
		if openErr != nil {
			return nil, 0, 0, 0, nil, fmt.Errorf("jpk: open %s: %w", src.Path, openErr)
		}
		info, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, 0, 0, 0, nil, fmt.Errorf("jpk: stat %s: %w", src.Path, statErr)
		}
		mode = uint16(info.Mode().Perm())
		mtime = toEpochMillis(info.ModTime())
		atime = mtime
		if t, ok := accessTime(info); ok {
			atime = toEpochMillis(t)
		}
		if src.Mode != nil {
			mode = *src.Mode
		}
		if src.Mtime != nil {
			mtime = *src.Mtime
		}
		if src.Atime != nil {
			atime = *src.Atime
		}
		return f, mode, mtime, atime, f, nil
	}

	mode = 0o644
	now := toEpochMillis(time.Now())
	mtime, atime = now, now
	if src.Mode != nil {
		mode = *src.Mode
	}
	if src.Mtime != nil {
		mtime = *src.Mtime
	}
	if src.Atime != nil {
		atime = *src.Atime
	}
	return src.Reader, mode, mtime, atime, nil, nil
}

// countingWriter tracks how many bytes have been written through it so
// WriteSession can compute entry sizes without a second pass.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (a *Archive) rewriteDatablockPrelude(offset int64, size uint32) error {
	if _, err := a.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if err := writeDatablockPrelude(a.file, byte(recordTypeDatablock), size); err != nil {
		return err
	}
	_, err := a.file.Seek(a.eof, io.SeekStart)
	return err
}

// entryKeyBytes returns the on-disk key bytes for an entry — ciphertext
// (IV||CT) when encryption is requested, plaintext UTF-8 otherwise.
func (a *Archive) entryKeyBytes(key string, encryption bool) ([]byte, error) {
	if !encryption {
		return []byte(key), nil
	}
	return cryptoprim.Encrypt([]byte(key), a.cipherKey)
}

func (a *Archive) emitDirectoryRecord(d pendingDirectoryEntry) error {
	rawKey, err := a.entryKeyBytes(d.key, d.encryption)
	if err != nil {
		return err
	}

	flags := byte(recordTypeDirectory)
	if d.encryption {
		flags |= flagEncryption
	}

	if err := a.seekEOF(); err != nil {
		return err
	}
	if err := writeDirectoryRecord(a.file, flags, d.mode, d.mtime, d.atime, rawKey); err != nil {
		return err
	}
	a.eof += 21 + int64(len(rawKey))

	entry := &DirectoryEntry{Key: d.key, Mode: d.mode, Mtime: d.mtime, Atime: d.atime, Encryption: d.encryption}
	if _, exists := a.directory[d.key]; !exists {
		a.directoryOrder = append(a.directoryOrder, d.key)
	}
	a.directory[d.key] = entry
	return nil
}

func (a *Archive) emitIndexRecord(idx pendingIndexEntry) error {
	rawKey, err := a.entryKeyBytes(idx.key, idx.encryption)
	if err != nil {
		return err
	}

	flags := byte(recordTypeIndex)
	if idx.gzip {
		flags |= flagGzip
	}
	if idx.encryption {
		flags |= flagEncryption
	}
	if idx.hmac {
		flags |= flagHmac
	}

	if err := a.seekEOF(); err != nil {
		return err
	}
	if err := writeIndexRecord(a.file, flags, idx.offset, idx.size, idx.mode, idx.mtime, idx.atime, rawKey); err != nil {
		return err
	}
	a.eof += 29 + int64(len(rawKey))

	entry := &IndexEntry{
		Key: idx.key, Offset: idx.offset, Size: idx.size, Mode: idx.mode,
		Mtime: idx.mtime, Atime: idx.atime, Gzip: idx.gzip,
		Encryption: idx.encryption, Hmac: idx.hmac,
	}
	if _, exists := a.index[idx.key]; !exists {
		a.indexOrder = append(a.indexOrder, idx.key)
	}
	a.index[idx.key] = entry
	return nil
}

// validatePrefix rejects an absolute prefix or one that escapes via ".."
// or "~/" components.
func validatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if strings.HasPrefix(prefix, "/") || strings.HasPrefix(prefix, "~/") || prefix == "~" {
		return ErrInvalidPrefix
	}
	for _, part := range strings.Split(prefix, "/") {
		if part == ".." {
			return ErrInvalidPrefix
		}
	}
	return nil
}
