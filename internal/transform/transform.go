// Package transform implements the push-based pipeline stages a JPK entry's
// payload flows through: compression, encryption, and authentication.
// Writers compose left to right on the write path (gzip -> cipher -> hmac
// -> sink) and readers compose the same way in reverse on the read path
// (source -> dehmac -> decipher -> gunzip), matching the archive's
// Encrypt-then-MAC layout: the per-entry HMAC covers the IV and ciphertext,
// never the plaintext.
package transform

import (
	"crypto/cipher"
	"errors"
	"hash"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/go-compile/jpk/internal/cryptoprim"
)

// ErrHmacMismatch is returned when a DeHmacReader's trailing digest does
// not match the HMAC computed over the bytes it released.
var ErrHmacMismatch = errors.New("transform: hmac mismatch")

// ErrTruncatedHmac is returned when a DeHmacReader reaches end-of-stream
// with fewer than 32 bytes buffered — the stream ended before a full
// digest could have been appended.
var ErrTruncatedHmac = errors.New("transform: truncated hmac trailer")

// NewGzipWriter returns the write-side compression stage. It must be
// Close()'d to flush the gzip trailer into dst.
func NewGzipWriter(dst io.Writer) *gzip.Writer {
	return gzip.NewWriter(dst)
}

// NewGzipReader returns the read-side decompression stage.
func NewGzipReader(src io.Reader) (*gzip.Reader, error) {
	return gzip.NewReader(src)
}

// CipherWriter is the write-side encryption stage. Its first Write call
// draws a fresh IV and writes it to dst ahead of any ciphertext; every
// byte after that is AES-256-CTR ciphertext.
type CipherWriter struct {
	dst    io.Writer
	key    [cryptoprim.KeySize]byte
	block  cipher.Block
	stream cipher.Stream
	ivSent bool
}

// NewCipherWriter returns a CipherWriter that encrypts under key and
// writes IV || ciphertext to dst.
func NewCipherWriter(dst io.Writer, key [cryptoprim.KeySize]byte) *CipherWriter {
	return &CipherWriter{dst: dst, key: key}
}

func (c *CipherWriter) Write(p []byte) (int, error) {
	if !c.ivSent {
		block, iv, err := newBlockWithFreshIV(c.key)
		if err != nil {
			return 0, err
		}
		if _, err := c.dst.Write(iv); err != nil {
			return 0, err
		}
		c.block = block
		c.stream = cipher.NewCTR(block, iv)
		c.ivSent = true
	}

	ct := make([]byte, len(p))
	c.stream.XORKeyStream(ct, p)
	return len(p), writeFull(c.dst, ct)
}

func newBlockWithFreshIV(key [cryptoprim.KeySize]byte) (cipher.Block, []byte, error) {
	block, err := newAESBlock(key)
	if err != nil {
		return nil, nil, err
	}
	iv, err := freshIV()
	if err != nil {
		return nil, nil, err
	}
	return block, iv, nil
}

func writeFull(w io.Writer, p []byte) error {
	_, err := w.Write(p)
	return err
}

// DecipherReader is the read-side decryption stage. It consumes the first
// IVSize bytes as the IV, tolerating delivery split across multiple
// upstream reads, and decrypts everything after. If the underlying stream
// ends before a full IV has arrived, DecipherReader yields io.EOF without
// producing any output — matching an entry that was never encrypted
// correctly rather than panicking on short input.
type DecipherReader struct {
	src    io.Reader
	key    [cryptoprim.KeySize]byte
	stream cipher.Stream
	ready  bool
	done   bool
}

// NewDecipherReader returns a DecipherReader that decrypts src under key.
func NewDecipherReader(src io.Reader, key [cryptoprim.KeySize]byte) *DecipherReader {
	return &DecipherReader{src: src, key: key}
}

func (d *DecipherReader) Read(p []byte) (int, error) {
	if d.done {
		return 0, io.EOF
	}

	if !d.ready {
		iv := make([]byte, cryptoprim.IVSize)
		if _, err := io.ReadFull(d.src, iv); err != nil {
			d.done = true
			return 0, io.EOF
		}
		block, err := newAESBlock(d.key)
		if err != nil {
			return 0, err
		}
		d.stream = cipher.NewCTR(block, iv)
		d.ready = true
	}

	n, err := d.src.Read(p)
	if n > 0 {
		d.stream.XORKeyStream(p[:n], p[:n])
	}
	if err == io.EOF {
		d.done = true
	}
	return n, err
}

// AppendHmacWriter forwards every byte written to it unchanged while
// accumulating an HMAC-SHA256 over them. Finalize must be called exactly
// once after the last Write to emit the trailing 32-byte digest to dst.
type AppendHmacWriter struct {
	dst io.Writer
	mac hash.Hash
}

// NewAppendHmacWriter returns an AppendHmacWriter keyed by key.
func NewAppendHmacWriter(dst io.Writer, key [cryptoprim.KeySize]byte) *AppendHmacWriter {
	return &AppendHmacWriter{dst: dst, mac: cryptoprim.NewHMAC(key)}
}

func (a *AppendHmacWriter) Write(p []byte) (int, error) {
	a.mac.Write(p)
	return len(p), writeFull(a.dst, p)
}

// Finalize writes the 32-byte HMAC digest to dst and returns it.
func (a *AppendHmacWriter) Finalize() ([]byte, error) {
	digest := a.mac.Sum(nil)
	if err := writeFull(a.dst, digest); err != nil {
		return nil, err
	}
	return digest, nil
}

// hmacSize is the length of an HMAC-SHA256 digest, and so the width of the
// trailing tail a DeHmacReader withholds.
const hmacSize = 32

// DeHmacReader is the read-side authentication stage. It withholds a
// rolling 32-byte tail from what it releases downstream, because those
// bytes might turn out to be the trailing HMAC digest rather than payload;
// once end-of-stream is reached the withheld tail is exactly the digest.
// When verify is true, a mismatch fails every subsequent Read.
type DeHmacReader struct {
	src    io.Reader
	mac    hash.Hash
	verify bool

	buf    []byte
	eof    bool
	failed error
}

// NewDeHmacReader returns a DeHmacReader keyed by key. When verify is
// true, the trailing digest is checked against the HMAC computed over the
// released bytes.
func NewDeHmacReader(src io.Reader, key [cryptoprim.KeySize]byte, verify bool) *DeHmacReader {
	return &DeHmacReader{src: src, mac: cryptoprim.NewHMAC(key), verify: verify}
}

func (d *DeHmacReader) Read(p []byte) (int, error) {
	if d.failed != nil {
		return 0, d.failed
	}

	chunk := make([]byte, 32*1024)
	for !d.eof && len(d.buf) <= hmacSize {
		n, err := d.src.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				d.eof = true
				break
			}
			d.failed = err
			return 0, err
		}
	}

	if len(d.buf) > hmacSize {
		releasable := len(d.buf) - hmacSize
		if releasable > len(p) {
			releasable = len(p)
		}
		d.mac.Write(d.buf[:releasable])
		n := copy(p, d.buf[:releasable])
		d.buf = d.buf[releasable:]
		return n, nil
	}

	if !d.eof {
		return 0, nil
	}

	if len(d.buf) != hmacSize {
		d.failed = ErrTruncatedHmac
		return 0, d.failed
	}

	if d.verify && !hmacEqual(d.mac.Sum(nil), d.buf) {
		d.failed = ErrHmacMismatch
		return 0, d.failed
	}

	d.failed = io.EOF
	return 0, io.EOF
}
