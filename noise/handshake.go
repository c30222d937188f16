// Package noise secures the link between a peerchat client and its relay
// with the Noise Protocol Framework.
package noise

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrInvalidMessage indicates received message is invalid for current state
	ErrInvalidMessage = errors.New("invalid message for current handshake state")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// KeySize is the size of X25519 static keys.
const KeySize = 32

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator starts the handshake. Relay clients are initiators.
	Initiator HandshakeRole = iota
	// Responder responds to handshake initiation. The relay is the responder.
	Responder
)

// Pattern names a supported handshake pattern.
type Pattern string

const (
	// PatternNN is anonymous on both sides. It hides traffic from passive
	// observers but does not authenticate the relay.
	PatternNN Pattern = "NN"
	// PatternNK authenticates the relay by a static key the client knows in
	// advance.
	PatternNK Pattern = "NK"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// GenerateStaticKey creates a relay static key pair for PatternNK.
func GenerateStaticKey() (noise.DHKey, error) {
	key, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("generate static key: %w", err)
	}
	return key, nil
}

// ParsePattern accepts "NN" or "NK".
func ParsePattern(name string) (Pattern, error) {
	if err := validateHandshakePattern(name); err != nil {
		return "", err
	}
	return Pattern(name), nil
}

// Handshake runs one two-message Noise handshake:
//
//	-> e
//	<- e, ee [, es]
//
// Both supported patterns complete for the responder after it writes and
// for the initiator after it reads the reply.
type Handshake struct {
	role       HandshakeRole
	pattern    Pattern
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
}

// NewHandshake creates a handshake. For PatternNK the initiator passes the
// relay's public key as peerStatic and the responder passes its key pair as
// static; both are ignored for PatternNN.
func NewHandshake(pattern Pattern, role HandshakeRole, static *noise.DHKey, peerStatic []byte) (*Handshake, error) {
	if err := validateHandshakePattern(string(pattern)); err != nil {
		return nil, fmt.Errorf("handshake pattern validation failed: %w", err)
	}

	config := noise.Config{
		CipherSuite: cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeNN,
		Initiator:   role == Initiator,
	}

	if pattern == PatternNK {
		config.Pattern = noise.HandshakeNK
		switch role {
		case Initiator:
			if len(peerStatic) != KeySize {
				return nil, fmt.Errorf("initiator requires relay public key (%d bytes), got %d", KeySize, len(peerStatic))
			}
			config.PeerStatic = append([]byte(nil), peerStatic...)
		case Responder:
			if static == nil || len(static.Private) != KeySize || len(static.Public) != KeySize {
				return nil, fmt.Errorf("responder requires a %d-byte static key pair", KeySize)
			}
			config.StaticKeypair = noise.DHKey{
				Private: append([]byte(nil), static.Private...),
				Public:  append([]byte(nil), static.Public...),
			}
		}
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &Handshake{
		role:    role,
		pattern: pattern,
		state:   state,
	}, nil
}

// Pattern returns the handshake pattern.
func (h *Handshake) Pattern() Pattern { return h.pattern }

// WriteMessage produces the next outbound handshake message.
func (h *Handshake) WriteMessage(payload []byte) ([]byte, error) {
	if h.complete {
		return nil, ErrHandshakeComplete
	}

	message, cs1, cs2, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%s %s write failed: %w", h.pattern, h.roleName(), err)
	}
	h.finish(cs1, cs2)
	return message, nil
}

// ReadMessage consumes the next inbound handshake message and returns its
// payload.
func (h *Handshake) ReadMessage(message []byte) ([]byte, error) {
	if h.complete {
		return nil, ErrHandshakeComplete
	}

	payload, cs1, cs2, err := h.state.ReadMessage(nil, message)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s read failed: %v", ErrInvalidMessage, h.pattern, h.roleName(), err)
	}
	h.finish(cs1, cs2)
	return payload, nil
}

// IsComplete returns true if handshake is finished and cipher states are available.
func (h *Handshake) IsComplete() bool {
	return h.complete
}

// Link returns the transport cipher pair after completion.
func (h *Handshake) Link() (*Link, error) {
	if !h.complete {
		return nil, ErrHandshakeNotComplete
	}
	return &Link{send: h.sendCipher, recv: h.recvCipher}, nil
}

// finish records cipher states once flynn/noise hands them out. cs1 always
// protects initiator-to-responder traffic.
func (h *Handshake) finish(cs1, cs2 *noise.CipherState) {
	if cs1 == nil || cs2 == nil {
		return
	}
	if h.role == Initiator {
		h.sendCipher, h.recvCipher = cs1, cs2
	} else {
		h.sendCipher, h.recvCipher = cs2, cs1
	}
	h.complete = true
}

func (h *Handshake) roleName() string {
	if h.role == Initiator {
		return "initiator"
	}
	return "responder"
}

// PublicKeyHex renders a static public key for configuration files.
func PublicKeyHex(key noise.DHKey) string {
	return fmt.Sprintf("%x", key.Public)
}

// ParsePublicKeyHex decodes a static public key written by PublicKeyHex.
func ParsePublicKeyHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// PrivateKeyHex renders a static private key for the relay configuration.
func PrivateKeyHex(key noise.DHKey) string {
	return hex.EncodeToString(key.Private)
}

// StaticKeyFromHex rebuilds a static key pair from its hex private half.
func StaticKeyFromHex(s string) (noise.DHKey, error) {
	priv, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("decode private key: %w", err)
	}
	if len(priv) != KeySize {
		return noise.DHKey{}, fmt.Errorf("private key must be %d bytes, got %d", KeySize, len(priv))
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("derive public key: %w", err)
	}
	return noise.DHKey{Private: priv, Public: pub}, nil
}

// validateHandshakePattern validates that a handshake pattern is supported.
func validateHandshakePattern(pattern string) error {
	supportedPatterns := map[string]bool{
		"NN": true,  // anonymous link encryption
		"NK": true,  // client knows the relay's static key
		"XX": false, // clients have no long-term identity to prove
		"IK": false, // same as XX
	}

	supported, exists := supportedPatterns[pattern]
	if !exists {
		return fmt.Errorf("unknown handshake pattern: %q", pattern)
	}
	if !supported {
		return fmt.Errorf("handshake pattern %s is not supported", pattern)
	}
	return nil
}
