package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/opd-ai/peerchat/noise"
)

// FrameType identifies a relay protocol frame.
type FrameType string

const (
	// FrameOpen is sent by the relay with the assigned discovery id.
	FrameOpen FrameType = "open"
	// FrameConnect asks the relay to connect to Peer under a new Conn id.
	FrameConnect FrameType = "connect"
	// FrameOffer is forwarded to the dialed peer for an incoming Conn.
	FrameOffer FrameType = "offer"
	// FrameAccept is the dialed peer's answer, forwarded to the dialer.
	FrameAccept FrameType = "accept"
	// FrameData carries one channel frame.
	FrameData FrameType = "data"
	// FrameClose closes Conn on both sides.
	FrameClose FrameType = "close"
	// FrameError reports a failure, for Conn if set, else for the peer.
	FrameError FrameType = "error"
)

// Error codes carried in FrameError.
const (
	CodePeerUnavailable = "peer-unavailable"
	CodeUnavailableID   = "unavailable-id"
	CodeInvalidFrame    = "invalid-frame"
)

var (
	// ErrRelay reports a failure signaled by the relay server.
	ErrRelay = errors.New("relay error")
	// ErrIDUnavailable reports that the requested discovery id is taken.
	ErrIDUnavailable = errors.New("requested id unavailable")
	// ErrLinkClosed reports the WebSocket to the relay went away.
	ErrLinkClosed = errors.New("relay link closed")
)

// Frame is one message on the client-relay WebSocket, CBOR encoded in a
// binary WebSocket message.
type Frame struct {
	Type  FrameType `cbor:"t"`
	ID    string    `cbor:"i,omitempty"`
	Peer  string    `cbor:"p,omitempty"`
	Conn  string    `cbor:"c,omitempty"`
	Data  []byte    `cbor:"d,omitempty"`
	Error string    `cbor:"e,omitempty"`
}

// maxFramePairs bounds decoded frame maps. Frame has six fields; 16 is the
// smallest limit the decoder accepts.
const maxFramePairs = 16

type frameModes struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var loadFrameModes = sync.OnceValues(func() (*frameModes, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("frame encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: maxFramePairs,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("frame decoder: %w", err)
	}
	return &frameModes{enc: enc, dec: dec}, nil
})

// encodeFrame renders f for the wire, sealing it when a link is set.
func encodeFrame(f *Frame, link *noise.Link) ([]byte, error) {
	modes, err := loadFrameModes()
	if err != nil {
		return nil, err
	}
	raw, err := modes.enc.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	if link == nil {
		return raw, nil
	}
	return link.Seal(raw)
}

// decodeFrame parses a wire message, opening it first when a link is set.
func decodeFrame(msg []byte, link *noise.Link) (*Frame, error) {
	if link != nil {
		opened, err := link.Open(msg)
		if err != nil {
			return nil, err
		}
		msg = opened
	}

	modes, err := loadFrameModes()
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := modes.dec.Unmarshal(msg, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, errors.New("decode frame: missing type")
	}
	return &f, nil
}
