// Package noise provides Noise Protocol Framework link encryption between a
// peerchat client and its signaling relay.
//
// Chat content is already end-to-end encrypted by the session layer, but the
// relay link also carries routing metadata: discovery ids, connection ids
// and the key-exchange envelopes themselves. Wrapping the WebSocket in a
// Noise session keeps that metadata away from observers on the path. The
// relay still sees it, since it routes by it.
//
// This package uses the flynn/noise library with ChaCha20-Poly1305,
// SHA256 and Curve25519.
//
// # Pattern Selection Guide
//
//	Pattern │ When to Use                                 │ Security Properties
//	────────┼─────────────────────────────────────────────┼──────────────────────────────
//	NN      │ Relay key unknown to the client             │ Confidentiality vs passive observers
//	NK      │ Client pinned the relay's static public key │ Relay authentication, forward secrecy
//
// Message flow (1 round trip):
//
//	Client (Initiator)                     Relay (Responder)
//	──────────────────                     ─────────────────
//	-> e
//	                                       <- e, ee [, es]
//	[link established]
//
// Example usage:
//
//	hs, err := noise.NewHandshake(noise.PatternNK, noise.Initiator, nil, relayPublicKey)
//	msg1, err := hs.WriteMessage(nil)
//	// send msg1, receive msg2
//	_, err = hs.ReadMessage(msg2)
//	link, err := hs.Link()
//	sealed, err := link.Seal(frame)
//
// # Link Framing
//
// A Link seals one application frame into one WebSocket message. Frames
// larger than a single Noise message (65535 bytes) are split into
// length-prefixed chunks, each with its own nonce. Messages must be opened
// in the order they were sealed, which WebSocket guarantees.
//
// # Thread Safety
//
// A Handshake is not safe for concurrent use. A Link may be used from one
// writer and one reader goroutine at the same time.
package noise
