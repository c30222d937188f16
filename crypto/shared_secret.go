package crypto

import (
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// KDF selects how the raw ECDH secret becomes a symmetric key.
type KDF uint8

const (
	// KDFRaw truncates the ECDH X coordinate to the AES key size.
	KDFRaw KDF = iota
	// KDFHKDF expands the ECDH secret with HKDF-SHA384.
	KDFHKDF
)

// hkdfInfo binds HKDF-derived keys to this protocol.
var hkdfInfo = []byte("peerchat/session/v1")

// String returns the configuration name of the KDF.
func (k KDF) String() string {
	switch k {
	case KDFRaw:
		return "raw"
	case KDFHKDF:
		return "hkdf"
	default:
		return fmt.Sprintf("KDF(%d)", uint8(k))
	}
}

// ParseKDF maps a configuration name to a KDF.
func ParseKDF(name string) (KDF, error) {
	switch name {
	case "", "raw":
		return KDFRaw, nil
	case "hkdf":
		return KDFHKDF, nil
	default:
		return KDFRaw, fmt.Errorf("unknown key derivation %q", name)
	}
}

// DeriveSharedKey computes ECDH between the local private key and the peer's
// raw public key and turns the result into an AES-256-GCM key.
func (id *Identity) DeriveSharedKey(peerPublicKey []byte, kdf KDF) (*SharedKey, error) {
	if id == nil || id.private == nil {
		return nil, ErrNotInitialized
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeriveSharedKey",
		"kdf":      kdf.String(),
	}).WithFields(SecureFieldHash(peerPublicKey, "peer_key")).Debug("Computing shared secret using ECDH")

	peer, err := curve.NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	secret, err := id.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", ErrInvalidPublicKey, err)
	}
	defer ZeroBytes(secret)

	key := make([]byte, KeySize)
	switch kdf {
	case KDFRaw:
		copy(key, secret[:KeySize])
	case KDFHKDF:
		r := hkdf.New(sha512.New384, secret, nil, hkdfInfo)
		if _, err := io.ReadFull(r, key); err != nil {
			ZeroBytes(key)
			return nil, fmt.Errorf("hkdf derive: %w", err)
		}
	default:
		ZeroBytes(key)
		return nil, fmt.Errorf("unsupported key derivation %s", kdf)
	}

	sk, err := newSharedKey(key)
	ZeroBytes(key)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "DeriveSharedKey",
		"key_fingerprint": sk.Fingerprint(),
	}).Info("Shared key derived, intermediate secret wiped")

	return sk, nil
}
