package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/trainyard/pkg/types"
)

// ErrNoKey is returned when a password must be sealed but no key is configured
var ErrNoKey = errors.New("no encryption key configured")

// Sealer encrypts and decrypts small secrets with AES-256-GCM. Sealed data
// has the nonce prepended.
type Sealer struct {
	key []byte // 32 bytes for AES-256
}

// NewSealer creates a sealer from a 32 byte key
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &Sealer{key: key}, nil
}

// NewSealerFromPassphrase derives the key from a passphrase with SHA-256
func NewSealerFromPassphrase(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrNoKey
	}
	hash := sha256.Sum256([]byte(passphrase))
	return NewSealer(hash[:])
}

// Seal encrypts plaintext
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SealSSHPassword stores the sealed form of password on the asset. An empty
// password clears it. A nil sealer refuses non-empty passwords.
func (s *Sealer) SealSSHPassword(asset *types.Asset, password string) error {
	if password == "" {
		asset.SSH.Password = nil
		return nil
	}
	if s == nil {
		return ErrNoKey
	}
	sealed, err := s.Seal([]byte(password))
	if err != nil {
		return fmt.Errorf("failed to seal ssh password: %w", err)
	}
	asset.SSH.Password = sealed
	return nil
}

// SSHPassword returns the asset's plaintext SSH password, or "" if none
func (s *Sealer) SSHPassword(asset *types.Asset) (string, error) {
	if len(asset.SSH.Password) == 0 {
		return "", nil
	}
	if s == nil {
		return "", ErrNoKey
	}
	plaintext, err := s.Open(asset.SSH.Password)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
