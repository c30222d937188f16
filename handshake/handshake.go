package handshake

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/envelope"
)

var (
	// ErrHandshakeTimeout indicates no peer key arrived within the window.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrUnexpected indicates a handshake envelope that is invalid for the
	// current state. Sessions log and ignore it.
	ErrUnexpected = errors.New("unexpected handshake message")
	// ErrAbandoned indicates the handshake was given up.
	ErrAbandoned = errors.New("handshake abandoned")
)

// Role defines whether this side sends its key first.
type Role uint8

const (
	// Initiator sends its key as soon as the channel opens.
	Initiator Role = iota
	// Responder waits for the peer's key and replies with its own.
	Responder
)

// String returns a lowercase name for logs.
func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// State is the tagged handshake state.
type State uint8

const (
	NotStarted State = iota
	Initiated
	AwaitingSend
	Derived
	Complete
	Abandoned
)

var stateNames = [...]string{
	NotStarted:   "not-started",
	Initiated:    "initiated",
	AwaitingSend: "awaiting-send",
	Derived:      "derived",
	Complete:     "complete",
	Abandoned:    "abandoned",
}

// String returns a lowercase name for logs.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// HasKey reports whether the shared key exists in this state.
func (s State) HasKey() bool {
	return s == Derived || s == Complete
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Complete || s == Abandoned
}

// Handshake is the key agreement of one connection.
type Handshake struct {
	identity *crypto.Identity
	kdf      crypto.KDF
	role     Role
	state    State
	key      *crypto.SharedKey
	reason   error
}

// New creates a handshake for one connection using the process identity.
func New(identity *crypto.Identity, kdf crypto.KDF, role Role) *Handshake {
	return &Handshake{
		identity: identity,
		kdf:      kdf,
		role:     role,
		state:    NotStarted,
	}
}

// State returns the current state.
func (h *Handshake) State() State { return h.state }

// Role returns the role this side plays.
func (h *Handshake) Role() Role { return h.role }

// Key returns the derived shared key, or nil before Derived.
func (h *Handshake) Key() *crypto.SharedKey { return h.key }

// Reason returns why the handshake was abandoned, or nil.
func (h *Handshake) Reason() error { return h.reason }

// Start sends the local public key first. Only valid in NotStarted.
func (h *Handshake) Start() (*envelope.Envelope, error) {
	if h.state != NotStarted {
		return nil, fmt.Errorf("%w: start in state %s", ErrUnexpected, h.state)
	}

	kx, err := h.localKeyExchange()
	if err != nil {
		return nil, err
	}
	h.transition(Initiated)
	return kx, nil
}

// HandleKeyExchange consumes the peer's public key, derives the shared key
// and returns the envelopes to send back, in order.
func (h *Handshake) HandleKeyExchange(env *envelope.Envelope) ([]*envelope.Envelope, error) {
	if env == nil || env.Kind != envelope.KindKeyExchange {
		return nil, fmt.Errorf("%w: not a key exchange", ErrUnexpected)
	}

	var replies []*envelope.Envelope
	switch h.state {
	case NotStarted:
		h.transition(AwaitingSend)
		kx, err := h.localKeyExchange()
		if err != nil {
			h.abandon(err)
			return nil, err
		}
		replies = append(replies, kx)
	case Initiated:
	default:
		return nil, fmt.Errorf("%w: key exchange in state %s", ErrUnexpected, h.state)
	}

	key, err := h.identity.DeriveSharedKey(env.PublicKey, h.kdf)
	if err != nil {
		h.abandon(err)
		return nil, fmt.Errorf("derive shared key: %w", err)
	}

	h.key = key
	h.transition(Derived)
	replies = append(replies, envelope.NewKeyExchangeComplete())
	return replies, nil
}

// HandleComplete records the peer's completion notice.
func (h *Handshake) HandleComplete() error {
	if h.state != Derived {
		return fmt.Errorf("%w: completion in state %s", ErrUnexpected, h.state)
	}
	h.transition(Complete)
	return nil
}

// Abandon gives up a handshake that has not derived a key yet. It returns
// false when the key already exists or the handshake is already terminal.
func (h *Handshake) Abandon(reason error) bool {
	if h.state.HasKey() || h.state == Abandoned {
		return false
	}
	h.abandon(reason)
	return true
}

// Discard wipes the derived key. The handshake keeps its state for logs.
func (h *Handshake) Discard() {
	if h.key != nil {
		h.key.Wipe()
		h.key = nil
	}
}

func (h *Handshake) abandon(reason error) {
	if reason == nil {
		reason = ErrAbandoned
	}
	h.reason = reason
	h.transition(Abandoned)
}

func (h *Handshake) localKeyExchange() (*envelope.Envelope, error) {
	pub, err := h.identity.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("export public key: %w", err)
	}
	return envelope.NewKeyExchange(pub), nil
}

func (h *Handshake) transition(next State) {
	logrus.WithFields(logrus.Fields{
		"function": "transition",
		"role":     h.role.String(),
		"from":     h.state.String(),
		"to":       next.String(),
	}).Debug("Handshake state change")
	h.state = next
}
