// Package cryptoprim implements the cryptographic primitives JPK archives
// use: key derivation, one-shot AES-256-CTR encrypt/decrypt, and
// HMAC-SHA256 compute/verify. Key derivation is unconditional — even an
// empty user key is hashed — so every archive has a well-defined cipher
// key whether or not encryption is actually used on any entry.
package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

// IVSize is the AES-256-CTR initialization vector length prepended to
// every ciphertext this package produces.
const IVSize = 16

// KeySize is the derived key length for both AES-256 and HMAC-SHA256.
const KeySize = 32

// ErrCiphertextTooShort is returned when a buffer handed to Decrypt is
// shorter than the IV it must contain.
var ErrCiphertextTooShort = errors.New("cryptoprim: ciphertext shorter than IV")

// DeriveKey turns a user-supplied passphrase into the 32-byte key used for
// both AES-256-CTR and HMAC-SHA256. It is deliberately unconditional: an
// empty userKey still derives a key, rather than archives silently running
// unkeyed.
func DeriveKey(userKey []byte) [KeySize]byte {
	return sha256.Sum256(userKey)
}

// DeriveSessionKey mixes a per-archive salt into the user key via
// HKDF-SHA256 before handing it to DeriveKey. Callers that want to avoid
// reusing the same cipher key across independently-keyed archives created
// with the same passphrase can pass jpk.WithKeyDerivationSalt to Open;
// archives opened without a salt use DeriveKey directly. The salt, if any,
// is the caller's concern and never travels on disk.
func DeriveSessionKey(userKey, salt []byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	kdf := hkdf.New(sha256.New, userKey, salt, nil)
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		return out, err
	}
	return DeriveKey(out[:]), nil
}

// Encrypt produces IV || AES-256-CTR(key, IV, buf) with a freshly drawn
// random IV.
func Encrypt(buf []byte, key [KeySize]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, IVSize+len(buf))
	iv := out[:IVSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(out[IVSize:], buf)

	return out, nil
}

// Decrypt splits the leading IV off buf and decrypts the remainder.
func Decrypt(buf []byte, key [KeySize]byte) ([]byte, error) {
	if len(buf) < IVSize {
		return nil, ErrCiphertextTooShort
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	iv := buf[:IVSize]
	ct := buf[IVSize:]

	out := make([]byte, len(ct))
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(out, ct)

	return out, nil
}

// HMAC computes the HMAC-SHA256 of buf under key.
func HMAC(buf []byte, key [KeySize]byte) []byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(buf)
	return mac.Sum(nil)
}

// VerifyHMAC reports whether digest is the HMAC-SHA256 of buf under key,
// using a constant-time comparison.
func VerifyHMAC(buf, digest []byte, key [KeySize]byte) bool {
	return hmac.Equal(HMAC(buf, key), digest)
}

// NewHMAC returns a streaming HMAC-SHA256 hash.Hash under key, for callers
// that need to feed it incrementally (the transform package's
// AppendHmacWriter/DeHmacReader, and the archive's meta HMAC walk).
func NewHMAC(key [KeySize]byte) hash.Hash {
	return hmac.New(sha256.New, key[:])
}
