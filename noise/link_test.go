package noise

import (
	"bytes"
	"errors"
	"testing"
)

func newLinkPair(t testing.TB) (*Link, *Link) {
	init, err := NewHandshake(PatternNN, Initiator, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := NewHandshake(PatternNN, Responder, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg1, _ := init.WriteMessage(nil)
	if _, err := resp.ReadMessage(msg1); err != nil {
		t.Fatal(err)
	}
	msg2, _ := resp.WriteMessage(nil)
	if _, err := init.ReadMessage(msg2); err != nil {
		t.Fatal(err)
	}
	il, _ := init.Link()
	rl, _ := resp.Link()
	return il, rl
}

func TestLinkChunking(t *testing.T) {
	il, rl := newLinkPair(t)

	sizes := []int{1, maxChunk - 1, maxChunk, maxChunk + 1, 3*maxChunk + 17}
	for _, n := range sizes {
		frame := bytes.Repeat([]byte{byte(n)}, n)
		sealed, err := il.Seal(frame)
		if err != nil {
			t.Fatalf("seal %d: %v", n, err)
		}
		chunks := (n + maxChunk - 1) / maxChunk
		if want := n + chunks*(chunkHeader+TagSize); len(sealed) != want {
			t.Errorf("sealed %d bytes into %d, want %d", n, len(sealed), want)
		}
		opened, err := rl.Open(sealed)
		if err != nil {
			t.Fatalf("open %d: %v", n, err)
		}
		if !bytes.Equal(opened, frame) {
			t.Errorf("frame of %d bytes did not round trip", n)
		}
	}
}

func TestLinkRejectsTampering(t *testing.T) {
	il, rl := newLinkPair(t)

	sealed, err := il.Seal([]byte("routing metadata"))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := rl.Open(sealed); !errors.Is(err, ErrLinkMessage) {
		t.Errorf("Expected ErrLinkMessage, got %v", err)
	}

	for _, bad := range [][]byte{nil, {0x00}, {0x00, 0x05, 0x01}, {0xff, 0xff}} {
		if _, err := rl.Open(bad); !errors.Is(err, ErrLinkMessage) {
			t.Errorf("Open(%x): expected ErrLinkMessage, got %v", bad, err)
		}
	}
}

func TestLinkOutOfOrder(t *testing.T) {
	il, rl := newLinkPair(t)

	first, _ := il.Seal([]byte("one"))
	second, _ := il.Seal([]byte("two"))

	if _, err := rl.Open(second); err == nil {
		t.Error("Expected out-of-order message to fail")
	}
	_ = first
}

// FuzzLinkOpen checks that arbitrary input never panics the link reader.
func FuzzLinkOpen(f *testing.F) {
	il, _ := newLinkPair(f)
	sealed, _ := il.Seal([]byte("seed"))
	f.Add(sealed)
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x10})
	f.Add(make([]byte, 1024))

	f.Fuzz(func(t *testing.T, data []byte) {
		_, rl := newLinkPair(t)
		_, _ = rl.Open(data)
	})
}
