// Package jpk implements the JPK archive container: a single-file pack
// format storing named byte streams and directory entries with filesystem
// metadata, optionally gzip-compressed, AES-256-CTR encrypted, and
// HMAC-SHA256 authenticated per entry, with a global HMAC over every meta
// record. See the package's SPEC_FULL.md for the full format.
package jpk

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-compile/jpk/internal/cryptoprim"
)

// Magic is the 3-byte signature every JPK file begins with.
var Magic = [3]byte{'J', 'P', 'K'}

// CurrentMajorVersion and CurrentMinorVersion are written as core headers
// the first time a new archive is mutated.
const (
	CurrentMajorVersion uint8 = 1
	CurrentMinorVersion uint8 = 0
)

type headerKind uint8

const (
	headerKindUint8 headerKind = iota
	headerKindBytes
)

// knownHeaders maps a header key to how its value is encoded. Keys not in
// this table are rejected by AddHeader but decoded as raw bytes by
// parseMeta, so an archive carrying a header from a newer format version
// still loads.
var knownHeaders = map[string]headerKind{
	"majorVersion": headerKindUint8,
	"minorVersion": headerKindUint8,
	"metaHmac":     headerKindBytes,
}

// outOfHmac lists header keys excluded from the running meta HMAC, because
// they record the digest of everything else.
var outOfHmac = map[string]bool{
	"metaHmac": true,
}

// Archive is a single open JPK file: its header registry, its index and
// directory maps (insertion-ordered), and the file's authoritative
// end-of-file write pointer. A single Archive is not safe for concurrent
// mutating calls: callers serialize Add, AddHeader and AddMetaHmac.
type Archive struct {
	path string
	file *os.File
	eof  int64

	isNew  bool
	loaded bool

	cipherKey [cryptoprim.KeySize]byte

	headers map[string]any

	index      map[string]*IndexEntry
	indexOrder []string

	directory      map[string]*DirectoryEntry
	directoryOrder []string

	metaHmac []byte

	poisoned map[string]bool

	coreHeadersAdded bool

	log *slog.Logger
}

// IndexEntry describes one stored file: its data window, filesystem
// metadata, and pipeline flags.
type IndexEntry struct {
	Key        string
	Offset     uint32
	Size       uint32
	Mode       uint16
	Mtime      float64
	Atime      float64
	Gzip       bool
	Encryption bool
	Hmac       bool
	Deleted    bool
}

// DirectoryEntry describes one stored directory marker.
type DirectoryEntry struct {
	Key        string
	Mode       uint16
	Mtime      float64
	Atime      float64
	Encryption bool
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	userKey        []byte
	kdSalt         []byte
	logger         *slog.Logger
	verifyMetaHmac bool
}

// WithUserKey sets the key used to derive the AES-256-CTR/HMAC-SHA256
// cipher key. An empty or absent key still derives a (fixed) cipher key —
// see internal/cryptoprim.DeriveKey.
func WithUserKey(key []byte) Option {
	return func(o *openOptions) { o.userKey = key }
}

// WithKeyDerivationSalt mixes salt into the user key via HKDF-SHA256
// before the SHA-256 key derivation step. The salt is never persisted on
// disk; callers who use this must supply the same salt on every Open.
func WithKeyDerivationSalt(salt []byte) Option {
	return func(o *openOptions) { o.kdSalt = salt }
}

// WithLogger sets the logger used for Warn-level unsafe-key skips and
// Debug-level diagnostics. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) { o.logger = logger }
}

// WithVerifyMetaHmac requests that Load compare the computed meta HMAC
// against the metaHmac header, failing ErrHmacMismatch/ErrHmacMissing on
// disagreement.
func WithVerifyMetaHmac() Option {
	return func(o *openOptions) { o.verifyMetaHmac = true }
}

// Open opens or creates the archive at path. shouldBeNew demands the file
// not already exist; pass false to open an existing archive. Open does not
// load the index of an existing archive unless WithVerifyMetaHmac is given.
// Has/Keys/DirectoryKeys/GetStream/GetBuffer and the mutating calls load it
// on first use; GetMeta returns ErrNotLoaded until it has been loaded.
func Open(path string, shouldBeNew bool, opts ...Option) (*Archive, error) {
	o := openOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	a := &Archive{
		path:      path,
		headers:   make(map[string]any),
		index:     make(map[string]*IndexEntry),
		directory: make(map[string]*DirectoryEntry),
		poisoned:  make(map[string]bool),
		log:       o.logger,
	}

	if err := a.deriveKey(o); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("jpk: stat %s: %w", path, statErr)
	}

	switch {
	case exists && shouldBeNew:
		return nil, ErrAlreadyNew
	case !exists && !shouldBeNew:
		return nil, ErrAlreadyNew
	case exists:
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("jpk: open %s: %w", path, err)
		}
		a.file = f

		var magic [3]byte
		if _, err := io.ReadFull(f, magic[:]); err != nil {
			f.Close()
			return nil, ErrBadMagic
		}
		if magic != Magic {
			f.Close()
			return nil, ErrBadMagic
		}

		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("jpk: stat %s: %w", path, err)
		}
		a.eof = info.Size()
	default:
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return nil, fmt.Errorf("jpk: create %s: %w", path, err)
		}
		if _, err := f.Write(Magic[:]); err != nil {
			f.Close()
			return nil, fmt.Errorf("jpk: write magic: %w", err)
		}
		a.file = f
		a.isNew = true
		a.loaded = true
		a.eof = int64(len(Magic))
	}

	if o.verifyMetaHmac {
		if err := a.Load(true); err != nil {
			a.file.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *Archive) deriveKey(o openOptions) error {
	if o.kdSalt != nil {
		key, err := cryptoprim.DeriveSessionKey(o.userKey, o.kdSalt)
		if err != nil {
			return err
		}
		a.cipherKey = key
		return nil
	}
	a.cipherKey = cryptoprim.DeriveKey(o.userKey)
	return nil
}

// Close closes the underlying file handle. Go has no implicit
// process-exit close for open file descriptors, so unlike the archive
// this format was modeled on, Close is part of the public API and callers
// must invoke it (defer archive.Close() after Open succeeds).
func (a *Archive) Close() error {
	if a.file == nil {
		return nil
	}
	return a.file.Close()
}

// Load walks every record from the magic to the current EOF, populating
// the headers/index/directory maps. If verifyMetaHmac is true it also
// compares the freshly computed meta HMAC against the metaHmac header.
func (a *Archive) Load(verifyMetaHmac bool) error {
	digest, err := a.parseMeta(true)
	if err != nil {
		return err
	}
	a.metaHmac = digest
	a.loaded = true

	if verifyMetaHmac {
		stored, ok := a.headers["metaHmac"].([]byte)
		if !ok {
			return ErrHmacMissing
		}
		if !bytes.Equal(stored, digest) {
			return ErrHmacMismatch
		}
	}
	return nil
}

// ensureLoaded loads the archive on first use by a reader or writer call,
// matching the "if not loaded, load first" step WriteSession.Add and the
// Reader API both require.
func (a *Archive) ensureLoaded() error {
	if a.loaded {
		return nil
	}
	return a.Load(false)
}

// parseMeta walks every record from offset len(Magic) to EOF. When
// loadMeta is true it populates headers/index/directory; it always
// contributes each record's hashable bytes to the running meta HMAC
// (skipping headers in outOfHmac and skipping Datablock bodies). It
// returns the resulting digest.
func (a *Archive) parseMeta(loadMeta bool) ([]byte, error) {
	mac := cryptoprim.NewHMAC(a.cipherKey)

	body := a.eof - int64(len(Magic))
	r := io.NewSectionReader(a.file, int64(len(Magic)), body)

	for {
		flagsByte, err := readByte(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("jpk: reading record: %w", ErrTruncatedRecord)
		}

		switch recordTypeOf(flagsByte) {
		case recordTypeHeader:
			rec, err := readHeaderRecord(r, flagsByte)
			if err != nil {
				return nil, err
			}
			if loadMeta {
				a.storeDecodedHeader(rec.Key, rec.Value)
			}
			if !outOfHmac[rec.Key] {
				mac.Write(rec.HashBytes)
			}

		case recordTypeIndex:
			rec, err := readIndexRecord(r, flagsByte)
			if err != nil {
				return nil, err
			}
			if loadMeta {
				if err := a.storeIndexEntry(rec); err != nil {
					return nil, err
				}
			}
			mac.Write(rec.HashBytes)

		case recordTypeDirectory:
			rec, err := readDirectoryRecord(r, flagsByte)
			if err != nil {
				return nil, err
			}
			if loadMeta {
				if err := a.storeDirectoryEntry(rec); err != nil {
					return nil, err
				}
			}
			mac.Write(rec.HashBytes)

		case recordTypeDatablock:
			rec, err := readDatablockPrelude(r, flagsByte)
			if err != nil {
				return nil, err
			}
			if _, err := r.Seek(int64(rec.Size), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("jpk: skipping datablock body: %w", ErrTruncatedRecord)
			}
			mac.Write(rec.HashBytes)
		}
	}

	return mac.Sum(nil), nil
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (a *Archive) storeDecodedHeader(key string, raw []byte) {
	kind, known := knownHeaders[key]
	if !known {
		a.headers[key] = raw
		return
	}
	switch kind {
	case headerKindUint8:
		if len(raw) == 1 {
			a.headers[key] = raw[0]
		} else {
			a.headers[key] = raw
		}
	default:
		a.headers[key] = raw
	}
}

func (a *Archive) storeIndexEntry(rec rawIndexRecord) error {
	key, err := a.decodeEntryKey(rec.RawKey, rec.Flags&flagEncryption != 0)
	if err != nil {
		return err
	}

	entry := &IndexEntry{
		Key:        key,
		Offset:     rec.Offset,
		Size:       rec.Size,
		Mode:       rec.Mode,
		Mtime:      rec.Mtime,
		Atime:      rec.Atime,
		Gzip:       rec.Flags&flagGzip != 0,
		Encryption: rec.Flags&flagEncryption != 0,
		Hmac:       rec.Flags&flagHmac != 0,
		Deleted:    rec.Flags&flagDeleted != 0,
	}

	if _, exists := a.index[key]; !exists {
		a.indexOrder = append(a.indexOrder, key)
	}
	a.index[key] = entry
	return nil
}

func (a *Archive) storeDirectoryEntry(rec rawDirectoryRecord) error {
	key, err := a.decodeEntryKey(rec.RawKey, rec.Flags&flagEncryption != 0)
	if err != nil {
		return err
	}

	entry := &DirectoryEntry{
		Key:        key,
		Mode:       rec.Mode,
		Mtime:      rec.Mtime,
		Atime:      rec.Atime,
		Encryption: rec.Flags&flagEncryption != 0,
	}

	if _, exists := a.directory[key]; !exists {
		a.directoryOrder = append(a.directoryOrder, key)
	}
	a.directory[key] = entry
	return nil
}

// decodeEntryKey decrypts an on-disk key if it is encrypted, returning
// the plaintext UTF-8 key. The in-memory index/directory maps always store
// the plaintext form; only the wire bytes are ever ciphertext.
func (a *Archive) decodeEntryKey(rawKey []byte, encrypted bool) (string, error) {
	if !encrypted {
		return string(rawKey), nil
	}
	plain, err := cryptoprim.Decrypt(rawKey, a.cipherKey)
	if err != nil {
		return "", fmt.Errorf("jpk: decrypting key: %w", err)
	}
	return string(plain), nil
}

// addCoreHeaders writes majorVersion/minorVersion once, the first time a
// new archive is mutated.
func (a *Archive) addCoreHeaders() error {
	if !a.isNew || a.coreHeadersAdded {
		return nil
	}
	if err := a.addHeader("majorVersion", []byte{CurrentMajorVersion}, true); err != nil {
		return err
	}
	if err := a.addHeader("minorVersion", []byte{CurrentMinorVersion}, true); err != nil {
		return err
	}
	a.coreHeadersAdded = true
	return nil
}

// addHeader writes a Header record at EOF and updates the in-memory
// headers map. value is the raw on-disk encoding (1 byte for the uint8
// headers, 32 bytes for metaHmac). Every key, internal or not, must be in
// knownHeaders. internal callers (addCoreHeaders, AddMetaHmac) skip the
// addCoreHeaders trigger that a non-internal write on a new archive fires.
func (a *Archive) addHeader(key string, value []byte, internal bool) error {
	if _, known := knownHeaders[key]; !known {
		return ErrUnknownHeader
	}

	if !internal && a.isNew && !a.coreHeadersAdded {
		if err := a.addCoreHeaders(); err != nil {
			return err
		}
	}

	if err := a.seekEOF(); err != nil {
		return err
	}
	if err := writeHeaderRecord(a.file, key, value); err != nil {
		return err
	}
	a.eof += int64(len(encodeHeaderFixed(len(key), len(value)))) + int64(len(key)) + int64(len(value))

	a.storeDecodedHeader(key, value)
	return nil
}

// AddHeader is the public entry point for writing a Header record.
func (a *Archive) AddHeader(key string, value []byte) error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	return a.addHeader(key, value, false)
}

// AddMetaHmac computes the meta HMAC over every record written so far and
// appends it as a metaHmac header. It fails if a metaHmac header is
// already present — recomputing and overwriting would silently revalidate
// a tampered file.
func (a *Archive) AddMetaHmac() error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	if _, present := a.headers["metaHmac"]; present {
		return ErrMetaHmacAlreadyPresent
	}

	digest, err := a.computeMetaHmac()
	if err != nil {
		return err
	}

	return a.addHeader("metaHmac", digest, true)
}

// computeMetaHmac recomputes the meta HMAC without mutating index/directory
// state, for callers (AddMetaHmac, VerifyMetaHmac) who need the digest but
// not a full reload.
func (a *Archive) computeMetaHmac() ([]byte, error) {
	digest, err := a.parseMeta(false)
	if err != nil {
		return nil, err
	}
	return digest, nil
}

// VerifyMetaHmac recomputes the meta HMAC and compares it against the
// metaHmac header.
func (a *Archive) VerifyMetaHmac() error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	stored, ok := a.headers["metaHmac"].([]byte)
	if !ok {
		return ErrHmacMissing
	}
	digest, err := a.computeMetaHmac()
	if err != nil {
		return err
	}
	if !bytes.Equal(stored, digest) {
		return ErrHmacMismatch
	}
	return nil
}

// HeaderEntry is one decoded Header record, as returned by Headers.
type HeaderEntry struct {
	Key   string
	Value any
}

// Headers returns every header currently loaded, in no particular
// order — headers are a small, unordered key/value registry, unlike the
// insertion-ordered index and directory maps.
func (a *Archive) Headers() []HeaderEntry {
	out := make([]HeaderEntry, 0, len(a.headers))
	for k, v := range a.headers {
		out = append(out, HeaderEntry{Key: k, Value: v})
	}
	return out
}

// seekEOF positions the file's write cursor at the archive's authoritative
// end-of-file offset, which may differ from the OS file size only during a
// WriteSession's placeholder-prelude dance (see writesession.go).
func (a *Archive) seekEOF() error {
	_, err := a.file.Seek(a.eof, io.SeekStart)
	return err
}
