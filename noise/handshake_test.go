package noise

import (
	"bytes"
	"errors"
	"testing"
)

func runHandshake(t *testing.T, init, resp *Handshake) (*Link, *Link) {
	t.Helper()

	msg1, err := init.WriteMessage(nil)
	if err != nil {
		t.Fatalf("initiator write: %v", err)
	}
	if init.IsComplete() {
		t.Fatal("initiator should not be complete after first message")
	}

	if _, err := resp.ReadMessage(msg1); err != nil {
		t.Fatalf("responder read: %v", err)
	}
	msg2, err := resp.WriteMessage(nil)
	if err != nil {
		t.Fatalf("responder write: %v", err)
	}
	if !resp.IsComplete() {
		t.Fatal("responder should be complete after replying")
	}

	if _, err := init.ReadMessage(msg2); err != nil {
		t.Fatalf("initiator read: %v", err)
	}
	if !init.IsComplete() {
		t.Fatal("initiator should be complete after reading reply")
	}

	il, err := init.Link()
	if err != nil {
		t.Fatal(err)
	}
	rl, err := resp.Link()
	if err != nil {
		t.Fatal(err)
	}
	return il, rl
}

func TestNNHandshake(t *testing.T) {
	init, err := NewHandshake(PatternNN, Initiator, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create initiator: %v", err)
	}
	resp, err := NewHandshake(PatternNN, Responder, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create responder: %v", err)
	}

	if _, err := init.Link(); !errors.Is(err, ErrHandshakeNotComplete) {
		t.Errorf("Expected ErrHandshakeNotComplete, got %v", err)
	}

	il, rl := runHandshake(t, init, resp)
	roundTrip(t, il, rl, []byte("client to relay"))
	roundTrip(t, rl, il, []byte("relay to client"))

	if _, err := init.WriteMessage(nil); !errors.Is(err, ErrHandshakeComplete) {
		t.Errorf("Expected ErrHandshakeComplete, got %v", err)
	}
}

func TestNKHandshake(t *testing.T) {
	relayKey, err := GenerateStaticKey()
	if err != nil {
		t.Fatal(err)
	}

	init, err := NewHandshake(PatternNK, Initiator, nil, relayKey.Public)
	if err != nil {
		t.Fatalf("Failed to create initiator: %v", err)
	}
	resp, err := NewHandshake(PatternNK, Responder, &relayKey, nil)
	if err != nil {
		t.Fatalf("Failed to create responder: %v", err)
	}

	il, rl := runHandshake(t, init, resp)
	roundTrip(t, il, rl, []byte("pinned"))

	if got := PublicKeyHex(relayKey); len(got) != KeySize*2 {
		t.Errorf("PublicKeyHex length = %d", len(got))
	}
}

func TestNKWrongRelayKey(t *testing.T) {
	relayKey, _ := GenerateStaticKey()
	impostor, _ := GenerateStaticKey()

	init, err := NewHandshake(PatternNK, Initiator, nil, relayKey.Public)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := NewHandshake(PatternNK, Responder, &impostor, nil)
	if err != nil {
		t.Fatal(err)
	}

	msg1, err := init.WriteMessage(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := resp.ReadMessage(msg1); err == nil {
		t.Error("Expected responder with the wrong static key to reject the initiator")
	}
}

func TestNewHandshakeValidation(t *testing.T) {
	relayKey, _ := GenerateStaticKey()

	tests := []struct {
		name       string
		pattern    Pattern
		role       HandshakeRole
		peerStatic []byte
	}{
		{"unknown pattern", Pattern("ZZ"), Initiator, nil},
		{"unsupported pattern", Pattern("XX"), Initiator, nil},
		{"NK initiator without relay key", PatternNK, Initiator, nil},
		{"NK initiator short relay key", PatternNK, Initiator, make([]byte, 16)},
		{"NK responder without key pair", PatternNK, Responder, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHandshake(tt.pattern, tt.role, nil, tt.peerStatic); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := NewHandshake(PatternNK, Responder, &relayKey, nil); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestParsePattern(t *testing.T) {
	for _, name := range []string{"NN", "NK"} {
		p, err := ParsePattern(name)
		if err != nil || string(p) != name {
			t.Errorf("ParsePattern(%q) = %q, %v", name, p, err)
		}
	}
	if _, err := ParsePattern("IK"); err == nil {
		t.Error("Expected IK to be rejected")
	}
}

func TestInvalidHandshakeMessage(t *testing.T) {
	resp, _ := NewHandshake(PatternNN, Responder, nil, nil)
	if _, err := resp.ReadMessage([]byte{0x01}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage, got %v", err)
	}
}

func roundTrip(t *testing.T, from, to *Link, frame []byte) {
	t.Helper()
	sealed, err := from.Seal(frame)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, frame) {
		t.Error("sealed message contains plaintext")
	}
	opened, err := to.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, frame) {
		t.Errorf("round trip mismatch: got %d bytes, want %d", len(opened), len(frame))
	}
}

func TestStaticKeyHexRoundTrip(t *testing.T) {
	key, err := GenerateStaticKey()
	if err != nil {
		t.Fatal(err)
	}

	restored, err := StaticKeyFromHex(PrivateKeyHex(key))
	if err != nil {
		t.Fatalf("StaticKeyFromHex: %v", err)
	}
	if !bytes.Equal(restored.Public, key.Public) {
		t.Error("restored public key differs")
	}

	pub, err := ParsePublicKeyHex(" " + PublicKeyHex(key) + "\n")
	if err != nil {
		t.Fatalf("ParsePublicKeyHex: %v", err)
	}
	if !bytes.Equal(pub, key.Public) {
		t.Error("parsed public key differs")
	}
}

func TestParseKeyHexRejects(t *testing.T) {
	for _, in := range []string{"", "zz", "abcd"} {
		if _, err := ParsePublicKeyHex(in); err == nil {
			t.Errorf("ParsePublicKeyHex(%q) should fail", in)
		}
		if _, err := StaticKeyFromHex(in); err == nil {
			t.Errorf("StaticKeyFromHex(%q) should fail", in)
		}
	}
}
