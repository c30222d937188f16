// Package crypto implements the cryptographic primitives of a peerchat session.
//
// The package binds the Go standard library's NIST-curve ECDH and AES-GCM
// implementations into the two types the session layer works with: an
// ephemeral [Identity] created once per process and a [SharedKey] derived per
// connection.
//
// # Core Types
//
//   - [Identity]: P-384 ECDH key pair. The private key never leaves the
//     process; the raw public key is shared during the handshake.
//   - [SharedKey]: AES-256-GCM key agreed with exactly one remote peer.
//   - [KDF]: selects how the ECDH secret is turned into a symmetric key.
//
// # Key Agreement
//
//	alice, _ := crypto.GenerateIdentity()
//	bob, _ := crypto.GenerateIdentity()
//
//	alicePub, _ := alice.PublicKey()
//	bobPub, _ := bob.PublicKey()
//
//	k1, _ := alice.DeriveSharedKey(bobPub, crypto.KDFRaw)
//	k2, _ := bob.DeriveSharedKey(alicePub, crypto.KDFRaw)
//	// k1.Equal(k2) == true
//
// [KDFRaw] uses the first 32 bytes of the ECDH X coordinate as the AES key,
// which is what WebCrypto does for deriveKey(ECDH, AES-GCM-256). Peers built
// on browser crypto therefore agree on the same key. [KDFHKDF] runs the
// secret through HKDF-SHA384 instead.
//
// # Encryption and Decryption
//
//	data, _ := k1.Encrypt([]byte("hello"))   // nonce(12) || ciphertext || tag
//	plain, err := k2.Decrypt(data)           // err wraps ErrDecrypt on tampering
//
// Every call to Encrypt draws a fresh random nonce, so encrypting the same
// text twice never produces the same output.
//
// # Fingerprints
//
// [Identity.Fingerprint] is the SHA-256 digest of the raw public key. It is
// meant for people comparing keys out of band and is never used as an input
// to any security decision.
//
// # Secure Memory Handling
//
// Symmetric key bytes are wiped with [ZeroBytes] when a session ends:
//
//	defer key.Wipe()
//
// # Thread Safety
//
// An Identity is immutable after generation and safe for concurrent use.
// A SharedKey may be used for concurrent Encrypt/Decrypt calls, but Wipe must
// not race with them; the session layer only wipes from its own goroutine.
package crypto
