package limits

import (
	"errors"
	"fmt"

	"github.com/opd-ai/peerchat/crypto"
)

const (
	// MaxPlaintextMessage is the largest chat text, in bytes, a session sends.
	MaxPlaintextMessage = 16 * 1024

	// MinEncryptedMessage is the shortest payload that can possibly decrypt:
	// a nonce and a tag around empty ciphertext.
	MinEncryptedMessage = crypto.NonceSize + crypto.Overhead

	// MaxEncryptedMessage is the largest nonce || ciphertext || tag payload.
	MaxEncryptedMessage = MaxPlaintextMessage + MinEncryptedMessage

	// MaxFrame is the largest encoded envelope accepted from a channel.
	MaxFrame = 64 * 1024

	// MaxProcessingBuffer is the absolute maximum for any operation.
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageTooSmall indicates a payload shorter than its fixed framing
	ErrMessageTooSmall = errors.New("message too small")
)

// checkSize reports an empty or oversized input, naming what was checked.
func checkSize(what string, data []byte, limit int) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > limit {
		return fmt.Errorf("%w: %s size %d exceeds limit %d", ErrMessageTooLarge, what, len(data), limit)
	}
	return nil
}

// ValidatePlaintextMessage validates chat text against MaxPlaintextMessage.
func ValidatePlaintextMessage(message []byte) error {
	return checkSize("plaintext", message, MaxPlaintextMessage)
}

// ValidateEncryptedMessage validates an encrypted-message payload, which must
// hold at least a nonce and a tag.
func ValidateEncryptedMessage(message []byte) error {
	if err := checkSize("encrypted", message, MaxEncryptedMessage); err != nil {
		return err
	}
	if len(message) < MinEncryptedMessage {
		return fmt.Errorf("%w: encrypted size %d below minimum %d", ErrMessageTooSmall, len(message), MinEncryptedMessage)
	}
	return nil
}

// ValidateFrame validates an encoded envelope against MaxFrame.
func ValidateFrame(frame []byte) error {
	return checkSize("frame", frame, MaxFrame)
}

// ValidateProcessingBuffer validates one relay message against
// MaxProcessingBuffer.
func ValidateProcessingBuffer(data []byte) error {
	return checkSize("buffer", data, MaxProcessingBuffer)
}
