// Package secrets seals exchange credentials at rest. The broker factory is
// the only runtime caller of Open.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the derived AES-256 key size.
	KeySize = 32
	// MinMasterKeySize is the minimum accepted master key length.
	MinMasterKeySize = 16

	prefixFormat = "ENC[v%d]:"
	hkdfInfo     = "exchange-credentials"
)

var (
	ErrInvalidMasterKey  = errors.New("master key too short")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrUnknownKeyVersion = errors.New("ciphertext sealed with an unknown key version")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Cipher seals and opens strings with AES-256-GCM under a key derived from the
// master key by HKDF-SHA256.
type Cipher struct {
	aead    cipher.AEAD
	version int
}

// NewCipher derives the data key for version from masterKey.
func NewCipher(masterKey []byte, version int) (*Cipher, error) {
	if len(masterKey) < MinMasterKeySize {
		return nil, ErrInvalidMasterKey
	}
	if version <= 0 {
		version = 1
	}
	salt := []byte(fmt.Sprintf("v%d", version))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead, version: version}, nil
}

// NewCipherFromBase64 decodes a base64 master key, as stored in the environment.
func NewCipherFromBase64(encoded string, version int) (*Cipher, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return NewCipher(raw, version)
}

// Version returns the key version stamped on sealed values.
func (c *Cipher) Version() int {
	return c.version
}

// Seal encrypts plaintext into ENC[vN]:base64(nonce+ciphertext).
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf(prefixFormat, c.version) + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. An empty input opens to "".
func (c *Cipher) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	version := ParseVersion(sealed)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}
	if version != c.version {
		return "", ErrUnknownKeyVersion
	}
	idx := strings.Index(sealed, "]:")
	data, err := base64.StdEncoding.DecodeString(sealed[idx+2:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// ParseVersion extracts N from an ENC[vN]: prefix, or 0 if absent.
func ParseVersion(sealed string) int {
	if !strings.HasPrefix(sealed, "ENC[v") || !strings.Contains(sealed, "]:") {
		return 0
	}
	var version int
	if _, err := fmt.Sscanf(sealed, prefixFormat, &version); err != nil {
		return 0
	}
	return version
}

// Mask hides all but the last four characters of a credential for logging.
func Mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
