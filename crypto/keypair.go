package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

const (
	// CurveName is the named curve every Identity is generated on.
	CurveName = "P-384"

	// PublicKeySize is the length of an uncompressed P-384 point.
	PublicKeySize = 97

	// FingerprintSize is the length of a public key fingerprint (SHA-256).
	FingerprintSize = sha256.Size
)

var (
	// ErrKeyGen indicates the key pair could not be generated.
	ErrKeyGen = errors.New("key generation failed")
	// ErrNotInitialized indicates a crypto operation ran before its key existed.
	ErrNotInitialized = errors.New("key material not initialized")
	// ErrInvalidPublicKey indicates a peer public key could not be imported.
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// curve is the ECDH curve used for every identity.
var curve = ecdh.P384()

// Identity wraps one ephemeral ECDH key pair. The zero value is not usable;
// create identities with GenerateIdentity.
type Identity struct {
	private *ecdh.PrivateKey
	public  []byte
}

// GenerateIdentity creates a new random P-384 key pair.
func GenerateIdentity() (*Identity, error) {
	return GenerateIdentityFrom(rand.Reader)
}

// GenerateIdentityFrom creates a new P-384 key pair using entropy from r.
func GenerateIdentityFrom(r io.Reader) (*Identity, error) {
	priv, err := curve.GenerateKey(r)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "GenerateIdentityFrom",
			"curve":    CurveName,
			"error":    err.Error(),
		}).Error("Key pair generation failed")
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyGen, CurveName, err)
	}

	id := &Identity{
		private: priv,
		public:  priv.PublicKey().Bytes(),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "GenerateIdentityFrom",
		"curve":       CurveName,
		"fingerprint": id.FingerprintHex()[:16],
	}).Debug("Generated ephemeral identity")

	return id, nil
}

// PublicKey returns a copy of the raw (uncompressed) public key bytes.
func (id *Identity) PublicKey() ([]byte, error) {
	if id == nil || id.private == nil {
		return nil, ErrNotInitialized
	}
	out := make([]byte, len(id.public))
	copy(out, id.public)
	return out, nil
}

// Fingerprint returns the SHA-256 digest of the raw public key.
func (id *Identity) Fingerprint() ([]byte, error) {
	if id == nil || id.private == nil {
		return nil, ErrNotInitialized
	}
	sum := sha256.Sum256(id.public)
	return sum[:], nil
}

// FingerprintHex renders the fingerprint as lowercase hex, or "" for an
// uninitialized identity.
func (id *Identity) FingerprintHex() string {
	fp, err := id.Fingerprint()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(fp)
}
