package crypto

import (
	"errors"
	"fmt"
)

// ErrDecrypt indicates a ciphertext failed authentication or was malformed.
var ErrDecrypt = errors.New("decryption failed")

// Decrypt opens data produced by Encrypt. Short input, a wrong key and any
// modification of nonce, ciphertext or tag all fail with ErrDecrypt.
func (k *SharedKey) Decrypt(data []byte) ([]byte, error) {
	if k == nil {
		return nil, ErrNotInitialized
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.aead == nil {
		return nil, ErrNotInitialized
	}

	if len(data) < NonceSize+Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", ErrDecrypt, len(data))
	}

	plaintext, err := k.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: message authentication failed", ErrDecrypt)
	}
	return plaintext, nil
}
