package mem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/transport"
)

// ErrIDTaken is returned when registering an id that is already in use.
var ErrIDTaken = errors.New("peer id already registered")

// Network is an in-memory signaling broker.
type Network struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{peers: make(map[string]*Peer)}
}

// NewPeer registers a peer under id, or under a random id when id is empty.
// The peer reports PeerOpen right away.
func (n *Network) NewPeer(id string) (*Peer, error) {
	if id == "" {
		id = uuid.NewString()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.peers[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrIDTaken, id)
	}

	p := &Peer{
		network: n,
		id:      id,
		events:  transport.NewQueue[transport.PeerEvent](),
	}
	n.peers[id] = p
	p.events.Push(transport.PeerEvent{Type: transport.PeerOpen, ID: id})

	logrus.WithFields(logrus.Fields{
		"function": "Network.NewPeer",
		"peer_id":  id,
	}).Debug("Peer registered")
	return p, nil
}

// Factory returns a PeerFactory registering peers under id.
func (n *Network) Factory(id string) transport.PeerFactory {
	return func() (transport.Peer, error) {
		return n.NewPeer(id)
	}
}

// Lookup returns the registered peer with the given id.
func (n *Network) Lookup(id string) (*Peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[id]
	return p, ok
}

// Disconnect simulates the broker link of id dropping.
func (n *Network) Disconnect(id string) bool {
	p, ok := n.Lookup(id)
	if !ok {
		return false
	}
	return p.events.Push(transport.PeerEvent{Type: transport.PeerDisconnected, ID: id})
}

// Fail simulates a peer-level error on id.
func (n *Network) Fail(id string, err error) bool {
	p, ok := n.Lookup(id)
	if !ok {
		return false
	}
	return p.events.Push(transport.PeerEvent{Type: transport.PeerError, ID: id, Err: err})
}

func (n *Network) remove(p *Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[p.id] == p {
		delete(n.peers, p.id)
	}
}

// Peer is a registered endpoint on a Network.
type Peer struct {
	network *Network
	id      string
	events  *transport.Queue[transport.PeerEvent]

	mu     sync.Mutex
	ends   []*End
	closed bool
}

// ID returns the discovery id.
func (p *Peer) ID() string { return p.id }

// Events returns the peer event stream.
func (p *Peer) Events() <-chan transport.PeerEvent { return p.events.Out() }

// Dial connects to remoteID. Unknown ids yield a channel that never opens.
func (p *Peer) Dial(remoteID string) (transport.Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, transport.ErrPeerClosed
	}
	p.mu.Unlock()

	target, ok := p.network.Lookup(remoteID)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":  "Peer.Dial",
			"peer_id":   p.id,
			"remote_id": remoteID,
		}).Debug("Dial target unknown, channel will never open")
		end := newEnd(p.id, remoteID)
		p.track(end)
		return end, nil
	}

	local, remote := Pipe(p.id, remoteID)
	if !target.accept(remote) {
		end := newEnd(p.id, remoteID)
		p.track(end)
		return end, nil
	}
	p.track(local)
	local.Open()
	return local, nil
}

// Reconnect re-announces the peer after a simulated disconnect.
func (p *Peer) Reconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrPeerClosed
	}
	p.events.Push(transport.PeerEvent{Type: transport.PeerOpen, ID: p.id})
	return nil
}

// Close unregisters the peer and closes every channel it created.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ends := p.ends
	p.ends = nil
	p.mu.Unlock()

	p.network.remove(p)
	for _, e := range ends {
		e.Close()
	}
	p.events.Close()
	return nil
}

func (p *Peer) accept(end *End) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.ends = append(p.ends, end)
	return p.events.Push(transport.PeerEvent{Type: transport.PeerConnection, ID: p.id, Channel: end})
}

func (p *Peer) track(end *End) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ends = append(p.ends, end)
}

var _ transport.Peer = (*Peer)(nil)
