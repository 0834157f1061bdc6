package pagestore

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// NewEncryptBackend wraps inner with authenticated encryption (§4.7
// "Authenticated encryption"): each page is sealed with ChaCha20-Poly1305
// under key (which must be chacha20poly1305.KeySize bytes), prefixed with a
// fresh random nonce. The page number is bound in as additional data so a
// ciphertext from one page cannot be silently substituted for another.
func NewEncryptBackend(inner Backend, key []byte) (*TransformBackend, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, WrapError(ErrInvalidArgument, err)
	}
	overhead := uint32(aead.NonceSize() + aead.Overhead())
	return NewTransformBackend(inner, encryptPage(aead), decryptPage(aead), overhead), nil
}

func encryptPage(aead cipherAEAD) TransformFunc {
	return func(pageNumber uint32, in []byte) ([]byte, error) {
		nonce := make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, err
		}
		ad := additionalData(pageNumber)
		out := make([]byte, len(nonce))
		copy(out, nonce)
		return aead.Seal(out, nonce, in, ad), nil
	}
}

func decryptPage(aead cipherAEAD) TransformFunc {
	return func(pageNumber uint32, in []byte) ([]byte, error) {
		nonceSize := aead.NonceSize()
		if len(in) < nonceSize {
			return nil, NewError(ErrFormat, "transformed page too short for nonce")
		}
		nonce, ciphertext := in[:nonceSize], in[nonceSize:]
		ad := additionalData(pageNumber)
		out, err := aead.Open(nil, nonce, ciphertext, ad)
		if err != nil {
			return nil, WrapError(ErrFormat, err)
		}
		return out, nil
	}
}

// additionalData binds the page number into the AEAD tag so a ciphertext
// from one page cannot be replayed as the content of another.
func additionalData(pageNumber uint32) []byte {
	var buf [4]byte
	putUint32(buf[:], pageNumber)
	return buf[:]
}

// cipherAEAD is the subset of cipher.AEAD used here, named locally so
// encrypt.go doesn't need to import crypto/cipher just for the type.
type cipherAEAD interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}
