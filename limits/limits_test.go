package limits

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/opd-ai/peerchat/crypto"
)

// TestMaxEncryptedMessageCalculation verifies that MaxEncryptedMessage is the
// plaintext limit plus nonce and tag.
func TestMaxEncryptedMessageCalculation(t *testing.T) {
	expected := MaxPlaintextMessage + crypto.NonceSize + crypto.Overhead
	if MaxEncryptedMessage != expected {
		t.Errorf("MaxEncryptedMessage = %d, want %d", MaxEncryptedMessage, expected)
	}
	if MaxFrame < MaxEncryptedMessage*4/3 {
		t.Errorf("MaxFrame %d cannot hold a base64 encoded max payload", MaxFrame)
	}
}

func TestValidatePlaintextMessage(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		wantErr error
	}{
		{"empty", nil, ErrMessageEmpty},
		{"single byte", []byte("a"), nil},
		{"at limit", bytes.Repeat([]byte("a"), MaxPlaintextMessage), nil},
		{"over limit", bytes.Repeat([]byte("a"), MaxPlaintextMessage+1), ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlaintextMessage(tt.message)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePlaintextMessage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEncryptedMessage(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, ErrMessageEmpty},
		{"nonce only", crypto.NonceSize, ErrMessageTooSmall},
		{"minimum", MinEncryptedMessage, nil},
		{"maximum", MaxEncryptedMessage, nil},
		{"over limit", MaxEncryptedMessage + 1, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEncryptedMessage(make([]byte, tt.size))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateEncryptedMessage(%d) error = %v, want %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFrameAndBuffer(t *testing.T) {
	if err := ValidateFrame(make([]byte, MaxFrame)); err != nil {
		t.Errorf("frame at limit rejected: %v", err)
	}
	if err := ValidateFrame(make([]byte, MaxFrame+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized frame error = %v", err)
	}
	if err := ValidateProcessingBuffer(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("empty buffer error = %v", err)
	}
	if err := ValidateProcessingBuffer(make([]byte, MaxProcessingBuffer+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized buffer error = %v", err)
	}
	err := checkSize("test", []byte("abc"), 2)
	if !errors.Is(err, ErrMessageTooLarge) || !strings.Contains(err.Error(), "test size 3 exceeds limit 2") {
		t.Errorf("checkSize error = %v", err)
	}
}
