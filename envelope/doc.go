// Package envelope defines the units exchanged over a peerchat channel and the
// codecs that put them on the wire.
//
// There are four envelope kinds:
//
//	key-exchange           PublicKey = sender's raw ECDH public key
//	key-exchange-complete  no payload
//	encrypted-message      Data = nonce(12) || ciphertext || tag
//	message                Text, From = plaintext chat and sender discovery id
//
// The payload shape is fully determined by the kind. Validate rejects any
// envelope carrying fields that do not belong to its kind, and both codecs
// validate on Marshal and Unmarshal, so a session never has to guess.
//
// # Codecs
//
// JSON is the default and matches what browser peers send:
//
//	{"type":"key-exchange","publicKey":"BJ7d..."}
//	{"type":"message","text":"hi","from":"2f1c..."}
//
// The JSON codec also accepts the legacy plaintext formats that predate
// typed envelopes: an object with only text/from, and a bare non-JSON text
// frame. Both decode as a message envelope with Legacy set.
//
// CBOR uses canonical encoding and has no legacy fallback. Both peers must
// use the same codec.
package envelope
