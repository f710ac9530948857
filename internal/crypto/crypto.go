// Package crypto seals provider passwords at rest with AES-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/cockroachdb/errors"
)

type AEAD struct{ aead cipher.AEAD }

// New expects a 16, 24 or 32 byte key.
func New(key []byte) (*AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "credential key")
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: a}, nil
}

// Seal returns base64(nonce || ciphertext). additional binds the value to
// its owner so a sealed value cannot be moved between users.
func (a *AEAD) Seal(plaintext, additional string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := a.aead.Seal(nonce, nonce, []byte(plaintext), []byte(additional))
	return base64.RawStdEncoding.EncodeToString(out), nil
}

func (a *AEAD) Open(sealed, additional string) (string, error) {
	buf, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", errors.Wrap(err, "decode sealed value")
	}
	ns := a.aead.NonceSize()
	if len(buf) < ns {
		return "", errors.New("sealed value too short")
	}
	pt, err := a.aead.Open(nil, buf[:ns], buf[ns:], []byte(additional))
	if err != nil {
		return "", errors.Wrap(err, "open sealed value")
	}
	return string(pt), nil
}
