package noise

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
)

// ErrLinkMessage indicates a sealed link message that cannot be opened.
var ErrLinkMessage = errors.New("invalid link message")

const (
	// MaxMessageSize is the Noise limit for one transport message.
	MaxMessageSize = 65535
	// TagSize is the ChaCha20-Poly1305 tag size.
	TagSize = 16
	// maxChunk is the largest plaintext that fits one Noise message.
	maxChunk = MaxMessageSize - TagSize
	// chunkHeader prefixes every sealed chunk with its length.
	chunkHeader = 2
)

// Link encrypts frames after a completed handshake. Frames larger than one
// Noise message are split into chunks, each sealed with the next nonce:
//
//	[len uint16][ciphertext] [len uint16][ciphertext] ...
//
// Seal and Open each keep their own nonce counter, so frames must be opened
// in the order they were sealed.
type Link struct {
	sendMu sync.Mutex
	send   *noise.CipherState
	recvMu sync.Mutex
	recv   *noise.CipherState
}

// Seal encrypts one frame.
func (l *Link) Seal(frame []byte) ([]byte, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	out := make([]byte, 0, len(frame)+(len(frame)/maxChunk+1)*(chunkHeader+TagSize))
	for rest := frame; ; {
		n := len(rest)
		if n > maxChunk {
			n = maxChunk
		}

		ct, err := l.send.Encrypt(nil, nil, rest[:n])
		if err != nil {
			return nil, fmt.Errorf("seal link message: %w", err)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(ct)))
		out = append(out, ct...)

		rest = rest[n:]
		if len(rest) == 0 {
			return out, nil
		}
	}
}

// Open decrypts one frame sealed by the other side's Seal.
func (l *Link) Open(message []byte) ([]byte, error) {
	l.recvMu.Lock()
	defer l.recvMu.Unlock()

	if len(message) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrLinkMessage)
	}

	var frame []byte
	for rest := message; len(rest) > 0; {
		if len(rest) < chunkHeader {
			return nil, fmt.Errorf("%w: truncated header", ErrLinkMessage)
		}
		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[chunkHeader:]
		if n < TagSize || n > len(rest) {
			return nil, fmt.Errorf("%w: chunk length %d", ErrLinkMessage, n)
		}

		pt, err := l.recv.Decrypt(nil, nil, rest[:n])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLinkMessage, err)
		}
		frame = append(frame, pt...)
		rest = rest[n:]
	}
	return frame, nil
}
