// Package handshake drives the in-band key agreement of a peerchat session.
//
// Both peers hold an ephemeral P-384 identity. Each sends its raw public key
// in a key-exchange envelope exactly once, derives the shared key as soon as
// it holds the other side's public key, and then sends an advisory
// key-exchange-complete envelope. Because ECDH is commutative it does not
// matter which side speaks first.
//
// # State Machine
//
//	NotStarted ──Start──────────────► Initiated
//	NotStarted ──peer key received──► AwaitingSend ──derive, reply──► Derived
//	Initiated  ──peer key received──► Derived
//	Derived    ──complete received──► Complete
//	NotStarted/Initiated/AwaitingSend ──Abandon──► Abandoned
//
// Complete and Abandoned are terminal. Derived is terminal for the key: a
// second key-exchange never replaces it. An abandoned handshake is never
// restarted; a new connection gets a new Handshake.
//
// # Message Flow
//
//	Initiator                               Responder
//	─────────                               ─────────
//	-> key-exchange(A)
//	                                        <- key-exchange(B)
//	                                        <- key-exchange-complete
//	-> key-exchange-complete
//	[both Complete]
//
// The responder may send encrypted messages right after its reply, since the
// initiator processes the reply (and derives) before any later envelope on
// the same ordered channel.
//
// # Thread Safety
//
// A Handshake is not safe for concurrent use. The session layer owns one per
// connection and only touches it from its event loop.
package handshake
