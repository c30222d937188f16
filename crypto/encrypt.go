package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the GCM nonce length carried in front of each ciphertext.
	NonceSize = 12
	// Overhead is the GCM authentication tag length.
	Overhead = 16
)

// ErrEmptyPlaintext indicates an attempt to encrypt nothing.
var ErrEmptyPlaintext = errors.New("empty plaintext")

// SharedKey is the symmetric session key both peers derive identically.
type SharedKey struct {
	mu   sync.RWMutex
	key  []byte
	aead cipher.AEAD
	rand io.Reader
}

// newSharedKey copies raw into a new SharedKey.
func newSharedKey(raw []byte) (*SharedKey, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("shared key must be %d bytes, got %d", KeySize, len(raw))
	}
	key := make([]byte, KeySize)
	copy(key, raw)

	block, err := aes.NewCipher(key)
	if err != nil {
		ZeroBytes(key)
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		ZeroBytes(key)
		return nil, fmt.Errorf("gcm cipher: %w", err)
	}
	return &SharedKey{key: key, aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// nonce || ciphertext || tag.
func (k *SharedKey) Encrypt(plaintext []byte) ([]byte, error) {
	if k == nil {
		return nil, ErrNotInitialized
	}
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.aead == nil {
		return nil, ErrNotInitialized
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+Overhead)
	if _, err := io.ReadFull(k.rand, out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return k.aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Equal reports whether both keys hold the same key bytes, in constant time.
func (k *SharedKey) Equal(other *SharedKey) bool {
	if k == nil || other == nil {
		return false
	}
	if k == other {
		return true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	if k.key == nil || other.key == nil {
		return false
	}
	return subtle.ConstantTimeCompare(k.key, other.key) == 1
}

// Fingerprint returns a short digest of the key for logs. It reveals nothing
// usable about the key itself.
func (k *SharedKey) Fingerprint() string {
	if k == nil {
		return ""
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.key == nil {
		return ""
	}
	sum := sha256.Sum256(k.key)
	return hex.EncodeToString(sum[:6])
}

// Wipe erases the key bytes. Encrypt and Decrypt fail with
// ErrNotInitialized afterwards.
func (k *SharedKey) Wipe() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		ZeroBytes(k.key)
	}
	k.key = nil
	k.aead = nil
}
