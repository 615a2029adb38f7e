// Package bytecodec implements the fixed-width primitives used by every
// on-disk record in a JPK archive: big-endian integers, an IEEE-754
// big-endian double used for timestamps, and a length-prefixed byte
// string used for record keys. Byte order is a format constant, not
// something callers negotiate.
package bytecodec

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrStringTooLarge is returned when a string exceeds the length prefix's
// addressable range for the requested width.
var ErrStringTooLarge = errors.New("bytecodec: string exceeds length-prefix width")

// PutUint8 appends a single byte to buf.
func PutUint8(buf []byte, v uint8) []byte {
	return append(buf, v)
}

// ReadUint8 reads one byte from r.
func ReadUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// PutUint16 appends a big-endian uint16 to buf.
func PutUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

// ReadUint16 reads a big-endian uint16 from r.
func ReadUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// PutUint32 appends a big-endian uint32 to buf.
func PutUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// ReadUint32 reads a big-endian uint32 from r.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// PutFloat64 appends a big-endian IEEE-754 double to buf. Timestamps are
// stored this way (milliseconds since epoch) to match the fractional
// precision callers may supply.
func PutFloat64(buf []byte, v float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

// ReadFloat64 reads a big-endian IEEE-754 double from r.
func ReadFloat64(r io.Reader) (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil
}

// PutBytes16 appends a byte slice prefixed by a 2-byte big-endian length.
// This is the width used by Index and Directory record keys, which may be
// plaintext UTF-8 or AES-CTR ciphertext and so are handled as raw bytes
// rather than strings.
func PutBytes16(buf []byte, v []byte) ([]byte, error) {
	if len(v) > math.MaxUint16 {
		return nil, ErrStringTooLarge
	}
	buf = PutUint16(buf, uint16(len(v)))
	return append(buf, v...), nil
}

// ReadBytes16 reads a 2-byte length-prefixed byte slice from r.
func ReadBytes16(r io.Reader) ([]byte, error) {
	n, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
