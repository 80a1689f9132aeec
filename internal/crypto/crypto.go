// Package crypto seals provider credentials for storage at rest. Sealed
// values carry a version prefix so the key can be rotated without breaking
// previously stored credentials.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

const sealVersion = "v1"

var (
	ErrInvalidKey    = errors.New("invalid sealing key")
	ErrInvalidSealed = errors.New("invalid sealed value")
)

// Sealer encrypts and decrypts short secrets with AES-GCM. The key is derived
// from the configured passphrase with SHA-256.
type Sealer struct {
	key []byte
}

func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrInvalidKey
	}
	hash := sha256.Sum256([]byte(passphrase))
	return &Sealer{key: hash[:]}, nil
}

// Seal encrypts plaintext and returns a versioned, base64-encoded envelope.
func (s *Sealer) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealVersion + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed envelope produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	version, payload, ok := strings.Cut(sealed, ":")
	if !ok || version != sealVersion {
		return "", ErrInvalidSealed
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrInvalidSealed
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidSealed
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidSealed
	}

	return string(plaintext), nil
}
