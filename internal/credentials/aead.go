package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// AEAD seals credential fields with AES-GCM. Output is
// base64(nonce || ciphertext).
type AEAD struct{ aead cipher.AEAD }

func NewAEAD(key []byte) (*AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: a}, nil
}

// Seal encrypts plaintext with the ref as associated data, binding the
// ciphertext to its row.
func (a *AEAD) Seal(plaintext []byte, ref string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	buf := a.aead.Seal(nonce, nonce, plaintext, []byte(ref))
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

// Open reverses Seal. The caller owns, and should wipe, the result.
func (a *AEAD) Open(sealed, ref string) ([]byte, error) {
	buf, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	ns := a.aead.NonceSize()
	if len(buf) < ns {
		return nil, ErrCiphertextTooShort
	}
	return a.aead.Open(nil, buf[:ns], buf[ns:], []byte(ref))
}
