package jpk

import (
	"errors"

	"github.com/go-compile/jpk/internal/transform"
)

// Format and input faults.
var (
	// ErrBadMagic is returned when a file's first three bytes are not "JPK".
	ErrBadMagic = errors.New("jpk: bad magic")
	// ErrTruncatedRecord is returned when a record's fixed or variable
	// portion ends before the declared length is satisfied.
	ErrTruncatedRecord = errors.New("jpk: truncated record")
	// ErrUnknownHeader is returned when a Header record's key is not in
	// the known-headers table.
	ErrUnknownHeader = errors.New("jpk: unknown header key")
	// ErrHeaderTooLarge is returned when a header key exceeds 255 bytes or
	// a header value exceeds ValueBufferMaxSize.
	ErrHeaderTooLarge = errors.New("jpk: header key too large")
	// ErrKeyTooLarge is returned when an entry key's UTF-8 length reaches
	// KeyMaxSize.
	ErrKeyTooLarge = errors.New("jpk: key too large")
	// ErrInvalidPrefix is returned when an AddOptions.Prefix is absolute
	// or escapes its parent via ".." or "~/".
	ErrInvalidPrefix = errors.New("jpk: invalid prefix")
	// ErrUnsafeKey is returned when an IndexEntry or DirectoryEntry key
	// would resolve outside the extraction target directory.
	ErrUnsafeKey = errors.New("jpk: unsafe key")
	// ErrKeyNotFound is returned by GetMeta/GetStream/GetBuffer when key
	// names no live IndexEntry.
	ErrKeyNotFound = errors.New("jpk: key not found")
)

// Integrity faults.
var (
	// ErrHmacMissing is returned when a meta-HMAC verify is requested but
	// the archive carries no metaHmac header.
	ErrHmacMissing = errors.New("jpk: hmac missing")
	// ErrHmacMismatch is returned when a computed HMAC does not match the
	// one recorded on disk, for either the meta HMAC or a per-entry HMAC.
	ErrHmacMismatch = transform.ErrHmacMismatch
	// ErrTruncatedHmac is returned when a per-entry HMAC trailer is
	// shorter than 32 bytes.
	ErrTruncatedHmac = transform.ErrTruncatedHmac
)

// API misuse faults.
var (
	// ErrNotLoaded is returned by GetMeta when the archive has not been
	// loaded yet; the other reader methods load it on first use.
	ErrNotLoaded = errors.New("jpk: archive not loaded")
	// ErrAlreadyNew is returned when Open is asked for an existing file
	// but the file does not exist, or asked for a new file but one
	// already exists.
	ErrAlreadyNew = errors.New("jpk: file existence does not match open request")
	// ErrMetaHmacAlreadyPresent is returned by AddMetaHmac when the
	// archive already carries a metaHmac header.
	ErrMetaHmacAlreadyPresent = errors.New("jpk: metaHmac header already present")
	// ErrPoisoned is returned by any further read of an entry whose HMAC
	// verification has already failed once in GetBuffer or Extract. A
	// mismatch seen through a GetStream reader does not poison the entry.
	ErrPoisoned = errors.New("jpk: entry poisoned by prior hmac failure")
)
