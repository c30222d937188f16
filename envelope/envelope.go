package envelope

import (
	"errors"
	"fmt"

	"github.com/opd-ai/peerchat/limits"
)

// Kind identifies the payload shape of an envelope.
type Kind string

const (
	// KindKeyExchange carries the sender's public key.
	KindKeyExchange Kind = "key-exchange"
	// KindKeyExchangeComplete signals that the sender derived the shared key.
	KindKeyExchangeComplete Kind = "key-exchange-complete"
	// KindEncrypted carries an AEAD-sealed chat message.
	KindEncrypted Kind = "encrypted-message"
	// KindPlaintext carries an unencrypted chat message.
	KindPlaintext Kind = "message"
)

// maxPublicKey bounds the public key field; real keys are 97 bytes.
const maxPublicKey = 1024

var (
	// ErrMalformed indicates the payload does not match the declared kind.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownKind indicates an envelope kind this version does not handle.
	ErrUnknownKind = errors.New("unknown envelope kind")
)

// Envelope is one typed message unit on a channel.
type Envelope struct {
	Kind      Kind   `json:"type,omitempty" cbor:"type,omitempty"`
	PublicKey []byte `json:"publicKey,omitempty" cbor:"publicKey,omitempty"`
	Data      []byte `json:"data,omitempty" cbor:"data,omitempty"`
	Text      string `json:"text,omitempty" cbor:"text,omitempty"`
	From      string `json:"from,omitempty" cbor:"from,omitempty"`

	// Legacy is set when the envelope was decoded from an untyped frame.
	Legacy bool `json:"-" cbor:"-"`
}

// NewKeyExchange builds a key-exchange envelope.
func NewKeyExchange(publicKey []byte) *Envelope {
	return &Envelope{Kind: KindKeyExchange, PublicKey: publicKey}
}

// NewKeyExchangeComplete builds a key-exchange-complete envelope.
func NewKeyExchangeComplete() *Envelope {
	return &Envelope{Kind: KindKeyExchangeComplete}
}

// NewEncrypted builds an encrypted-message envelope from nonce || ciphertext.
func NewEncrypted(data []byte) *Envelope {
	return &Envelope{Kind: KindEncrypted, Data: data}
}

// NewPlaintext builds a plaintext message envelope.
func NewPlaintext(text, from string) *Envelope {
	return &Envelope{Kind: KindPlaintext, Text: text, From: from}
}

// IsHandshake reports whether the envelope belongs to the key agreement.
func (e *Envelope) IsHandshake() bool {
	return e.Kind == KindKeyExchange || e.Kind == KindKeyExchangeComplete
}

// Validate checks that exactly the fields belonging to Kind are present.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrMalformed)
	}

	switch e.Kind {
	case KindKeyExchange:
		if len(e.PublicKey) == 0 {
			return fmt.Errorf("%w: %s without public key", ErrMalformed, e.Kind)
		}
		if len(e.PublicKey) > maxPublicKey {
			return fmt.Errorf("%w: %s public key of %d bytes", ErrMalformed, e.Kind, len(e.PublicKey))
		}
		return e.only(e.Data == nil && e.Text == "" && e.From == "")

	case KindKeyExchangeComplete:
		return e.only(e.PublicKey == nil && e.Data == nil && e.Text == "" && e.From == "")

	case KindEncrypted:
		if err := limits.ValidateEncryptedMessage(e.Data); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Kind, err)
		}
		return e.only(e.PublicKey == nil && e.Text == "" && e.From == "")

	case KindPlaintext:
		if err := limits.ValidatePlaintextMessage([]byte(e.Text)); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Kind, err)
		}
		return e.only(e.PublicKey == nil && e.Data == nil)

	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(e.Kind))
	}
}

func (e *Envelope) only(ok bool) error {
	if !ok {
		return fmt.Errorf("%w: unexpected fields for %s", ErrMalformed, e.Kind)
	}
	return nil
}
