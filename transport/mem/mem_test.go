package mem

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerchat/transport"
)

func nextEvent(t *testing.T, ch <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
	}
	return transport.Event{}
}

func nextPeerEvent(t *testing.T, p *Peer) transport.PeerEvent {
	t.Helper()
	select {
	case ev, ok := <-p.Events():
		require.True(t, ok, "peer stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer event")
	}
	return transport.PeerEvent{}
}

func assertStreamClosed(t *testing.T, ch <-chan transport.Event) {
	t.Helper()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected closed stream")
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
}

func TestPipe(t *testing.T) {
	a, b := Pipe("alice", "bob")
	assert.Equal(t, "bob", a.RemoteID())
	assert.Equal(t, "alice", b.RemoteID())

	assert.ErrorIs(t, a.Send([]byte("early")), transport.ErrChannelNotOpen)

	a.Open()
	assert.Equal(t, transport.EventOpen, nextEvent(t, a.Events()).Type)
	assert.Equal(t, transport.EventOpen, nextEvent(t, b.Events()).Type)

	frame := []byte("hello")
	require.NoError(t, a.Send(frame))
	frame[0] = 'j'
	ev := nextEvent(t, b.Events())
	assert.Equal(t, transport.EventData, ev.Type)
	assert.Equal(t, "hello", string(ev.Data), "frames are copied")

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, transport.EventClose, nextEvent(t, a.Events()).Type)
	assert.Equal(t, transport.EventClose, nextEvent(t, b.Events()).Type)
	assertStreamClosed(t, a.Events())
	assertStreamClosed(t, b.Events())

	assert.ErrorIs(t, a.Send(frame), transport.ErrChannelClosed)
	assert.False(t, a.Inject(frame))
}

func TestEndFail(t *testing.T) {
	a, b := Pipe("alice", "bob")
	a.Open()
	nextEvent(t, a.Events())
	nextEvent(t, b.Events())

	boom := errors.New("ice failed")
	a.Fail(boom)

	ev := nextEvent(t, a.Events())
	assert.Equal(t, transport.EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, boom)
	assert.Equal(t, transport.EventClose, nextEvent(t, b.Events()).Type)
	assert.True(t, a.IsClosed())
}

func TestNetworkDial(t *testing.T) {
	n := NewNetwork()
	alice, err := n.NewPeer("alice")
	require.NoError(t, err)
	bob, err := n.NewPeer("bob")
	require.NoError(t, err)

	_, err = n.NewPeer("bob")
	assert.ErrorIs(t, err, ErrIDTaken)

	assert.Equal(t, transport.PeerOpen, nextPeerEvent(t, alice).Type)
	open := nextPeerEvent(t, bob)
	assert.Equal(t, "bob", open.ID)

	ch, err := alice.Dial("bob")
	require.NoError(t, err)
	assert.Equal(t, transport.EventOpen, nextEvent(t, ch.Events()).Type)

	conn := nextPeerEvent(t, bob)
	require.Equal(t, transport.PeerConnection, conn.Type)
	assert.Equal(t, "alice", conn.Channel.RemoteID())
	assert.Equal(t, transport.EventOpen, nextEvent(t, conn.Channel.Events()).Type)

	require.NoError(t, conn.Channel.Send([]byte("hi")))
	assert.Equal(t, "hi", string(nextEvent(t, ch.Events()).Data))
}

func TestDialUnknownNeverOpens(t *testing.T) {
	n := NewNetwork()
	alice, err := n.NewPeer("")
	require.NoError(t, err)
	assert.NotEmpty(t, alice.ID())

	ch, err := alice.Dial("nobody")
	require.NoError(t, err)

	select {
	case ev := <-ch.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
	assert.ErrorIs(t, ch.Send([]byte("x")), transport.ErrChannelNotOpen)

	require.NoError(t, ch.Close())
	assert.Equal(t, transport.EventClose, nextEvent(t, ch.Events()).Type)
}

func TestPeerLifecycle(t *testing.T) {
	n := NewNetwork()
	factory := n.Factory("alice")
	p, err := factory()
	require.NoError(t, err)
	alice := p.(*Peer)
	nextPeerEvent(t, alice)

	assert.True(t, n.Disconnect("alice"))
	assert.Equal(t, transport.PeerDisconnected, nextPeerEvent(t, alice).Type)
	require.NoError(t, alice.Reconnect())
	assert.Equal(t, transport.PeerOpen, nextPeerEvent(t, alice).Type)

	boom := errors.New("server error")
	assert.True(t, n.Fail("alice", boom))
	ev := nextPeerEvent(t, alice)
	assert.Equal(t, transport.PeerError, ev.Type)
	assert.ErrorIs(t, ev.Err, boom)

	bob, err := n.NewPeer("bob")
	require.NoError(t, err)
	ch, err := bob.Dial("alice")
	require.NoError(t, err)
	nextEvent(t, ch.Events())

	require.NoError(t, alice.Close())
	require.NoError(t, alice.Close())
	assert.Equal(t, transport.EventClose, nextEvent(t, ch.Events()).Type)

	_, ok := n.Lookup("alice")
	assert.False(t, ok)
	assert.False(t, n.Disconnect("alice"))
	assert.ErrorIs(t, alice.Reconnect(), transport.ErrPeerClosed)
	_, err = alice.Dial("bob")
	assert.ErrorIs(t, err, transport.ErrPeerClosed)

	// The id is free again for a replacement peer.
	again, err := factory()
	require.NoError(t, err)
	assert.Equal(t, "alice", again.ID())
}
