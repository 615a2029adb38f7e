package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"io"

	"github.com/go-compile/jpk/internal/cryptoprim"
)

func newAESBlock(key [cryptoprim.KeySize]byte) (cipher.Block, error) {
	return aes.NewCipher(key[:])
}

func freshIV() ([]byte, error) {
	iv := make([]byte, cryptoprim.IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	return iv, nil
}

func hmacEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
