package peerchat

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/transport"
)

// PeerState is the supervision state of the transport peer.
type PeerState uint8

const (
	// PeerConnecting means the peer was created and has not registered yet.
	PeerConnecting PeerState = iota
	// PeerReady means the peer registered and can dial and accept.
	PeerReady
	// PeerReconnecting means the broker link dropped and a reconnect is
	// in progress.
	PeerReconnecting
	// PeerFailed means the peer failed and will be re-created after the
	// retry delay.
	PeerFailed
)

// String returns a lowercase name for logs and the CLI.
func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerReady:
		return "ready"
	case PeerReconnecting:
		return "reconnecting"
	case PeerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PeerStatus reports a change of the transport peer.
type PeerStatus struct {
	State PeerState
	ID    string
	Err   error
}

// attachPeer makes peer the current one and starts watching it. Must be
// called with c.mu held.
func (c *Client) attachPeer(peer transport.Peer) {
	c.peer = peer
	c.peerGen++
	c.peerState = PeerConnecting
	c.localID = peer.ID()

	c.wg.Add(1)
	go c.watch(c.peerGen, peer)
}

func (c *Client) watch(gen uint64, peer transport.Peer) {
	defer c.wg.Done()
	for ev := range peer.Events() {
		c.handlePeerEvent(gen, peer, ev)
	}
}

func (c *Client) handlePeerEvent(gen uint64, peer transport.Peer, ev transport.PeerEvent) {
	c.mu.Lock()
	if c.closed || gen != c.peerGen {
		c.mu.Unlock()
		if ev.Type == transport.PeerConnection && ev.Channel != nil {
			ev.Channel.Close()
		}
		return
	}

	switch ev.Type {
	case transport.PeerOpen:
		c.peerState = PeerReady
		c.localID = ev.ID
		c.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Client.handlePeerEvent",
			"peer_id":  ev.ID,
		}).Info("Transport peer ready")
		c.peerStatus(PeerStatus{State: PeerReady, ID: ev.ID})

	case transport.PeerConnection:
		c.acceptConnection(ev.Channel)

	case transport.PeerError:
		c.failPeer(peer, ev.Err)
		c.mu.Unlock()
		c.peerStatus(PeerStatus{State: PeerFailed, ID: ev.ID, Err: ev.Err})

	case transport.PeerDisconnected:
		c.peerState = PeerReconnecting
		id := c.localID
		c.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Client.handlePeerEvent",
			"peer_id":  id,
		}).Warn("Transport peer disconnected, reconnecting")
		c.peerStatus(PeerStatus{State: PeerReconnecting, ID: id, Err: ev.Err})

		if err := peer.Reconnect(); err != nil {
			c.mu.Lock()
			if c.closed || gen != c.peerGen {
				c.mu.Unlock()
				return
			}
			c.failPeer(peer, err)
			c.mu.Unlock()
			c.peerStatus(PeerStatus{State: PeerFailed, ID: id, Err: err})
		}

	default:
		c.mu.Unlock()
	}
}

// acceptConnection replaces the active session with one answering ch.
// Must be called with c.mu held; it releases it.
func (c *Client) acceptConnection(ch transport.Channel) {
	old := c.active
	s, err := c.newSession()
	if err != nil {
		c.mu.Unlock()
		ch.Close()
		return
	}
	c.active = s
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Client.acceptConnection",
		"remote_id": ch.RemoteID(),
		"replaced":  old != nil,
	}).Info("Accepting inbound connection")

	if err := s.Accept(ch); err != nil {
		ch.Close()
	}
}

// failPeer marks the peer failed and schedules its replacement. Events
// still queued on the failed peer are ignored from here on. Must be called
// with c.mu held.
func (c *Client) failPeer(peer transport.Peer, err error) {
	c.peerState = PeerFailed
	c.peerGen++

	fields := logrus.Fields{
		"function":    "Client.failPeer",
		"peer_id":     c.localID,
		"retry_delay": c.options.RetryDelay.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Error("Transport peer failed")

	c.scheduleRecreate(peer)
}

// scheduleRecreate must be called with c.mu held.
func (c *Client) scheduleRecreate(old transport.Peer) {
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = c.clock.AfterFunc(c.options.RetryDelay, func() { c.recreate(old) })
}

// recreate destroys old and creates a new peer through the factory.
func (c *Client) recreate(old transport.Peer) {
	if old != nil {
		old.Close()
	}

	peer, err := c.factory()

	c.mu.Lock()
	c.retry = nil
	if c.closed {
		c.mu.Unlock()
		if peer != nil {
			peer.Close()
		}
		return
	}
	if err != nil {
		c.scheduleRecreate(nil)
		c.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Client.recreate",
			"error":    err.Error(),
		}).Error("Failed to re-create transport peer")
		c.peerStatus(PeerStatus{State: PeerFailed, Err: err})
		return
	}
	c.attachPeer(peer)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Client.recreate",
	}).Info("Transport peer re-created")
}
