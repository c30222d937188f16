package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	cbor "github.com/fxamacker/cbor/v2"

	"github.com/opd-ai/peerchat/limits"
)

// Codec turns envelopes into channel frames and back.
// Implementations validate on both directions.
type Codec interface {
	Name() string
	Marshal(env *Envelope) ([]byte, error)
	Unmarshal(frame []byte) (*Envelope, error)
}

// ByName returns the codec registered under name ("json" or "cbor").
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON(), nil
	case "cbor":
		return CBOR()
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct{}

// JSON returns the JSON codec with legacy plaintext fallback.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (jsonCodec) Unmarshal(frame []byte) (*Envelope, error) {
	if err := limits.ValidateFrame(frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		trimmed := bytes.TrimSpace(frame)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// A bare JSON string carries the text itself.
		var text string
		if len(trimmed) > 0 && trimmed[0] == '"' && json.Unmarshal(trimmed, &text) == nil {
			return legacyText([]byte(text))
		}
		return legacyText(frame)
	}

	if env.Kind == "" && env.Text != "" {
		// Untyped {text, from} object sent by older peers.
		env.Kind = KindPlaintext
		env.Legacy = true
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// legacyText treats a frame that is not a JSON object as raw chat text.
func legacyText(frame []byte) (*Envelope, error) {
	if !utf8.Valid(frame) {
		return nil, fmt.Errorf("%w: frame is neither JSON nor text", ErrMalformed)
	}
	env := &Envelope{Kind: KindPlaintext, Text: string(frame), Legacy: true}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec (RFC 8949 core deterministic
// encoding).
func CBOR() (Codec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dm, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return c.enc.Marshal(env)
}

func (c cborCodec) Unmarshal(frame []byte) (*Envelope, error) {
	if err := limits.ValidateFrame(frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var env Envelope
	if err := c.dec.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
