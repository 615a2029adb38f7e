package jpk

import (
	"bytes"
	"io"

	"github.com/go-compile/jpk/internal/bytecodec"
)

// recordType identifies which of the four on-disk record shapes a flags
// byte describes. The type occupies the low two bits of flags so that the
// remaining bits can carry gzip/encryption/hmac/deleted markers
// independently of record shape.
type recordType uint8

const (
	recordTypeHeader    recordType = 0
	recordTypeIndex     recordType = 1
	recordTypeDatablock recordType = 2
	recordTypeDirectory recordType = 3
)

// Flag bits, named by their decimal value as in the wire format.
const (
	flagMaskType   byte = 0x03 // bits 0-1
	flagDeleted    byte = 4    // bit 2
	flagGzip       byte = 8    // bit 3
	flagEncryption byte = 32   // bit 5
	flagHmac       byte = 128  // bit 7
)

func recordTypeOf(flags byte) recordType {
	return recordType(flags & flagMaskType)
}

// ValueBufferMaxSize bounds a Header's value, guarding against a corrupt
// length prefix forcing an enormous allocation. Datablock bodies are never
// allocated (the parser seeks past them), so their declared size is not
// bounded by it.
const ValueBufferMaxSize = 65536

// KeyBufferMaxSize bounds the on-disk length of an Index or Directory key.
const KeyBufferMaxSize = 65536

// KeyMaxSize is the effective maximum plaintext key length: KeyBufferMaxSize
// minus headroom for the IV and any future per-key HMAC when the key
// itself is encrypted.
const KeyMaxSize = KeyBufferMaxSize - 1024

// rawHeaderRecord is a Header record as read from disk: the decoded key
// and the raw (never decrypted — headers are never
// encrypted) value bytes, plus the exact bytes the meta HMAC must
// consume for this record.
type rawHeaderRecord struct {
	Key       string
	Value     []byte
	HashBytes []byte
}

func encodeHeaderFixed(keyLen, valueLen int) []byte {
	buf := make([]byte, 0, 4)
	buf = bytecodec.PutUint8(buf, byte(recordTypeHeader))
	buf = bytecodec.PutUint8(buf, uint8(keyLen))
	buf = bytecodec.PutUint16(buf, uint16(valueLen))
	return buf
}

// writeHeaderRecord appends a Header record to w.
func writeHeaderRecord(w io.Writer, key string, value []byte) error {
	if len(key) > 255 {
		return ErrHeaderTooLarge
	}
	if len(value) > ValueBufferMaxSize {
		return ErrHeaderTooLarge
	}

	buf := encodeHeaderFixed(len(key), len(value))
	buf = append(buf, key...)
	buf = append(buf, value...)
	_, err := w.Write(buf)
	return err
}

// readHeaderRecord reads a Header record's remainder given its already
// consumed flags byte.
func readHeaderRecord(r io.Reader, flags byte) (rawHeaderRecord, error) {
	keyLen, err := bytecodec.ReadUint8(r)
	if err != nil {
		return rawHeaderRecord{}, ErrTruncatedRecord
	}
	valueLen, err := bytecodec.ReadUint16(r)
	if err != nil {
		return rawHeaderRecord{}, ErrTruncatedRecord
	}
	if int(valueLen) > ValueBufferMaxSize {
		return rawHeaderRecord{}, ErrHeaderTooLarge
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return rawHeaderRecord{}, ErrTruncatedRecord
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return rawHeaderRecord{}, ErrTruncatedRecord
	}

	hashBytes := make([]byte, 0, 4+len(key)+len(value))
	fixed := encodeHeaderFixed(int(keyLen), int(valueLen))
	fixed[0] = flags
	hashBytes = append(hashBytes, fixed...)
	hashBytes = append(hashBytes, key...)
	hashBytes = append(hashBytes, value...)

	return rawHeaderRecord{Key: string(key), Value: value, HashBytes: hashBytes}, nil
}

// rawIndexRecord is an Index record as read from disk: all fixed fields
// decoded, plus the raw on-disk key bytes (ciphertext if Flags&flagEncryption
// is set) and the exact bytes the meta HMAC must consume.
type rawIndexRecord struct {
	Flags     byte
	Offset    uint32
	Size      uint32
	Mode      uint16
	Mtime     float64
	Atime     float64
	RawKey    []byte
	HashBytes []byte
}

// writeIndexRecord appends an Index record to w. rawKey is the on-disk key
// bytes — ciphertext (IV||CT) when flags carries flagEncryption, plaintext
// UTF-8 otherwise.
func writeIndexRecord(w io.Writer, flags byte, offset, size uint32, mode uint16, mtime, atime float64, rawKey []byte) error {
	if len(rawKey) > KeyBufferMaxSize {
		return ErrKeyTooLarge
	}
	buf := make([]byte, 0, 29+len(rawKey))
	buf = bytecodec.PutUint8(buf, flags)
	buf = bytecodec.PutUint32(buf, offset)
	buf = bytecodec.PutUint32(buf, size)
	buf = bytecodec.PutUint16(buf, mode)
	buf = bytecodec.PutFloat64(buf, mtime)
	buf = bytecodec.PutFloat64(buf, atime)
	buf, err := bytecodec.PutBytes16(buf, rawKey)
	if err != nil {
		return ErrKeyTooLarge
	}
	_, err = w.Write(buf)
	return err
}

func readIndexRecord(r io.Reader, flags byte) (rawIndexRecord, error) {
	var hashBuf bytes.Buffer
	hashBuf.WriteByte(flags)
	tee := io.TeeReader(r, &hashBuf)

	offset, err := bytecodec.ReadUint32(tee)
	if err != nil {
		return rawIndexRecord{}, ErrTruncatedRecord
	}
	size, err := bytecodec.ReadUint32(tee)
	if err != nil {
		return rawIndexRecord{}, ErrTruncatedRecord
	}
	mode, err := bytecodec.ReadUint16(tee)
	if err != nil {
		return rawIndexRecord{}, ErrTruncatedRecord
	}
	mtime, err := bytecodec.ReadFloat64(tee)
	if err != nil {
		return rawIndexRecord{}, ErrTruncatedRecord
	}
	atime, err := bytecodec.ReadFloat64(tee)
	if err != nil {
		return rawIndexRecord{}, ErrTruncatedRecord
	}
	rawKey, err := bytecodec.ReadBytes16(tee)
	if err != nil {
		return rawIndexRecord{}, ErrTruncatedRecord
	}
	if len(rawKey) > KeyBufferMaxSize {
		return rawIndexRecord{}, ErrKeyTooLarge
	}

	return rawIndexRecord{
		Flags: flags, Offset: offset, Size: size, Mode: mode,
		Mtime: mtime, Atime: atime, RawKey: rawKey, HashBytes: append([]byte(nil), hashBuf.Bytes()...),
	}, nil
}

// rawDirectoryRecord mirrors rawIndexRecord minus the data window.
type rawDirectoryRecord struct {
	Flags     byte
	Mode      uint16
	Mtime     float64
	Atime     float64
	RawKey    []byte
	HashBytes []byte
}

func writeDirectoryRecord(w io.Writer, flags byte, mode uint16, mtime, atime float64, rawKey []byte) error {
	if len(rawKey) > KeyBufferMaxSize {
		return ErrKeyTooLarge
	}
	buf := make([]byte, 0, 21+len(rawKey))
	buf = bytecodec.PutUint8(buf, flags)
	buf = bytecodec.PutUint16(buf, mode)
	buf = bytecodec.PutFloat64(buf, mtime)
	buf = bytecodec.PutFloat64(buf, atime)
	buf, err := bytecodec.PutBytes16(buf, rawKey)
	if err != nil {
		return ErrKeyTooLarge
	}
	_, err = w.Write(buf)
	return err
}

func readDirectoryRecord(r io.Reader, flags byte) (rawDirectoryRecord, error) {
	var hashBuf bytes.Buffer
	hashBuf.WriteByte(flags)
	tee := io.TeeReader(r, &hashBuf)

	mode, err := bytecodec.ReadUint16(tee)
	if err != nil {
		return rawDirectoryRecord{}, ErrTruncatedRecord
	}
	mtime, err := bytecodec.ReadFloat64(tee)
	if err != nil {
		return rawDirectoryRecord{}, ErrTruncatedRecord
	}
	atime, err := bytecodec.ReadFloat64(tee)
	if err != nil {
		return rawDirectoryRecord{}, ErrTruncatedRecord
	}
	rawKey, err := bytecodec.ReadBytes16(tee)
	if err != nil {
		return rawDirectoryRecord{}, ErrTruncatedRecord
	}
	if len(rawKey) > KeyBufferMaxSize {
		return rawDirectoryRecord{}, ErrKeyTooLarge
	}

	return rawDirectoryRecord{
		Flags: flags, Mode: mode, Mtime: mtime, Atime: atime,
		RawKey: rawKey, HashBytes: append([]byte(nil), hashBuf.Bytes()...),
	}, nil
}

// datablockPrelude is the 5-byte fixed prefix of a Datablock record: flags
// and the declared content size. Datablock content itself is never part
// of the meta HMAC — only this prelude is.
type datablockPrelude struct {
	Flags     byte
	Size      uint32
	HashBytes []byte
}

func encodeDatablockFixed(flags byte, size uint32) []byte {
	buf := make([]byte, 0, 5)
	buf = bytecodec.PutUint8(buf, flags)
	buf = bytecodec.PutUint32(buf, size)
	return buf
}

// writeDatablockPrelude writes the 5-byte Datablock prelude to w.
func writeDatablockPrelude(w io.Writer, flags byte, size uint32) error {
	_, err := w.Write(encodeDatablockFixed(flags, size))
	return err
}

func readDatablockPrelude(r io.Reader, flags byte) (datablockPrelude, error) {
	size, err := bytecodec.ReadUint32(r)
	if err != nil {
		return datablockPrelude{}, ErrTruncatedRecord
	}

	return datablockPrelude{Flags: flags, Size: size, HashBytes: encodeDatablockFixed(flags, size)}, nil
}
