// Package limits provides centralized message size constants and validation
// functions for peerchat. Every layer that accepts untrusted bytes checks them
// here so that the session, the codec and the relay agree on what fits.
//
// # Size Hierarchy
//
//   - MaxPlaintextMessage (16 KiB): largest chat text a session will send.
//   - MaxEncryptedMessage: MaxPlaintextMessage plus the 12-byte nonce and the
//     16-byte GCM tag carried in an encrypted-message envelope.
//   - MaxFrame (64 KiB): largest encoded envelope accepted from a channel.
//     JSON encodes binary payloads as base64, so this leaves room for the
//     4/3 expansion plus field names.
//   - MaxProcessingBuffer (1 MiB): absolute cap for any single read, used by
//     the relay for WebSocket messages.
//
// # Validation Functions
//
//	if err := limits.ValidatePlaintextMessage([]byte(text)); err != nil {
//	    // errors.Is(err, limits.ErrMessageEmpty) or limits.ErrMessageTooLarge
//	}
package limits
