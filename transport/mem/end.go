package mem

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/transport"
)

// End is one side of an in-memory channel.
type End struct {
	localID  string
	remoteID string
	events   *transport.Queue[transport.Event]

	mu     sync.Mutex
	peer   *End
	open   bool
	closed bool
}

func newEnd(localID, remoteID string) *End {
	return &End{
		localID:  localID,
		remoteID: remoteID,
		events:   transport.NewQueue[transport.Event](),
	}
}

// Pipe creates two linked ends that are not open yet.
func Pipe(aID, bID string) (*End, *End) {
	a := newEnd(aID, bID)
	b := newEnd(bID, aID)
	a.peer = b
	b.peer = a
	return a, b
}

// Open marks both ends usable and delivers EventOpen to each.
func (e *End) Open() {
	for _, end := range e.both() {
		end.mu.Lock()
		if !end.open && !end.closed {
			end.open = true
			end.events.Push(transport.Event{Type: transport.EventOpen})
		}
		end.mu.Unlock()
	}
}

// RemoteID returns the id of the other end.
func (e *End) RemoteID() string { return e.remoteID }

// LocalID returns the id of this end.
func (e *End) LocalID() string { return e.localID }

// Events returns the event stream of this end.
func (e *End) Events() <-chan transport.Event { return e.events.Out() }

// Send delivers a copy of data to the other end.
func (e *End) Send(data []byte) error {
	e.mu.Lock()
	closed, open, peer := e.closed, e.open, e.peer
	e.mu.Unlock()

	switch {
	case closed:
		return transport.ErrChannelClosed
	case !open || peer == nil:
		return transport.ErrChannelNotOpen
	}

	frame := append([]byte(nil), data...)
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return transport.ErrChannelClosed
	}
	peer.events.Push(transport.Event{Type: transport.EventData, Data: frame})
	return nil
}

// Close closes both ends. Each receives a final EventClose.
func (e *End) Close() error {
	for _, end := range e.both() {
		end.finish(transport.Event{Type: transport.EventClose})
	}
	return nil
}

// Fail ends this side with EventError and closes the other side normally.
func (e *End) Fail(err error) {
	logrus.WithFields(logrus.Fields{
		"function":  "End.Fail",
		"local_id":  e.localID,
		"remote_id": e.remoteID,
		"error":     err,
	}).Debug("Injecting channel failure")

	e.finish(transport.Event{Type: transport.EventError, Err: err})
	if peer := e.linked(); peer != nil {
		peer.finish(transport.Event{Type: transport.EventClose})
	}
}

// Inject delivers a raw frame to this end as if the other side sent it.
func (e *End) Inject(frame []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	return e.events.Push(transport.Event{Type: transport.EventData, Data: frame})
}

// IsClosed reports whether this end was closed.
func (e *End) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *End) finish(ev transport.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.open = false
	e.events.PushFinal(ev)
}

func (e *End) linked() *End {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

func (e *End) both() []*End {
	if peer := e.linked(); peer != nil {
		return []*End{e, peer}
	}
	return []*End{e}
}

var _ transport.Channel = (*End)(nil)
