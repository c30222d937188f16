package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerchat/noise"
	"github.com/opd-ai/peerchat/transport"
)

const waitFor = 3 * time.Second

type testRelay struct {
	srv *Server
	url string
}

func startRelay(t *testing.T, opts ServerOptions) *testRelay {
	t.Helper()
	srv := NewServer(opts)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testRelay{srv: srv, url: "ws" + strings.TrimPrefix(ts.URL, "http")}
}

func (r *testRelay) dial(t *testing.T, opts ClientOptions) *Client {
	t.Helper()
	opts.URL = r.url
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := Dial(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// join dials and waits until the relay assigned an id.
func (r *testRelay) join(t *testing.T, opts ClientOptions) *Client {
	t.Helper()
	c := r.dial(t, opts)
	ev := nextPeerEvent(t, c)
	require.Equal(t, transport.PeerOpen, ev.Type)
	require.NotEmpty(t, ev.ID)
	return c
}

func nextPeerEvent(t *testing.T, c *Client) transport.PeerEvent {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "peer stream closed")
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for peer event")
	}
	return transport.PeerEvent{}
}

func nextEvent(t *testing.T, ch transport.Channel) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "channel stream closed")
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for channel event")
	}
	return transport.Event{}
}

// connectPair opens a channel from a to b and waits until both ends are open.
func connectPair(t *testing.T, a, b *Client) (transport.Channel, transport.Channel) {
	t.Helper()
	chA, err := a.Dial(b.ID())
	require.NoError(t, err)
	assert.Equal(t, b.ID(), chA.RemoteID())

	ev := nextPeerEvent(t, b)
	require.Equal(t, transport.PeerConnection, ev.Type)
	chB := ev.Channel
	require.NotNil(t, chB)
	assert.Equal(t, a.ID(), chB.RemoteID())

	assert.Equal(t, transport.EventOpen, nextEvent(t, chB).Type)
	assert.Equal(t, transport.EventOpen, nextEvent(t, chA).Type)
	return chA, chB
}

func TestRelayAssignsID(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	a := r.join(t, ClientOptions{})
	b := r.join(t, ClientOptions{})

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.srv.Peers())
}

func TestRelayRequestedID(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	a := r.join(t, ClientOptions{ID: "alice"})
	assert.Equal(t, "alice", a.ID())
}

func TestRelayDuplicateID(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	r.join(t, ClientOptions{ID: "alice"})

	dup := r.dial(t, ClientOptions{ID: "alice"})
	ev := nextPeerEvent(t, dup)
	assert.Equal(t, transport.PeerError, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrIDUnavailable)
	assert.Equal(t, 1, r.srv.Peers())
}

func TestRelayChannelRoundTrip(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	a := r.join(t, ClientOptions{ID: "alice"})
	b := r.join(t, ClientOptions{ID: "bob"})

	chA, chB := connectPair(t, a, b)

	require.NoError(t, chA.Send([]byte("ping")))
	ev := nextEvent(t, chB)
	assert.Equal(t, transport.EventData, ev.Type)
	assert.Equal(t, []byte("ping"), ev.Data)

	require.NoError(t, chB.Send([]byte("pong")))
	ev = nextEvent(t, chA)
	assert.Equal(t, transport.EventData, ev.Type)
	assert.Equal(t, []byte("pong"), ev.Data)

	require.NoError(t, chA.Close())
	assert.Equal(t, transport.EventClose, nextEvent(t, chB).Type)
	assert.ErrorIs(t, chB.Send([]byte("late")), transport.ErrChannelClosed)
	assert.ErrorIs(t, chA.Send([]byte("late")), transport.ErrChannelClosed)
}

func TestRelaySendBeforeOpen(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	a := r.join(t, ClientOptions{})

	ch, err := a.Dial("nobody")
	require.NoError(t, err)
	// The relay has not answered yet, or answered with an error.
	assert.Error(t, ch.Send([]byte("early")))
}

func TestRelayUnknownPeer(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	a := r.join(t, ClientOptions{})

	ch, err := a.Dial("nobody")
	require.NoError(t, err)

	ev := nextEvent(t, ch)
	assert.Equal(t, transport.EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, transport.ErrPeerUnavailable)
}

func TestRelayDialSelf(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	a := r.join(t, ClientOptions{ID: "alice"})

	ch, err := a.Dial("alice")
	require.NoError(t, err)
	ev := nextEvent(t, ch)
	assert.Equal(t, transport.EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, transport.ErrPeerUnavailable)
}

func TestRelayClientCloseClosesRemote(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	a := r.join(t, ClientOptions{})
	b := r.join(t, ClientOptions{})
	_, chB := connectPair(t, a, b)

	require.NoError(t, a.Close())
	assert.Equal(t, transport.EventClose, nextEvent(t, chB).Type)

	_, err := a.Dial(b.ID())
	assert.ErrorIs(t, err, transport.ErrPeerClosed)
	require.Eventually(t, func() bool { return r.srv.Peers() == 1 }, waitFor, 10*time.Millisecond)
}

func TestRelayDisconnectAndReconnect(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	a := r.join(t, ClientOptions{ID: "alice"})
	b := r.join(t, ClientOptions{ID: "bob"})
	chA, chB := connectPair(t, a, b)

	require.True(t, r.srv.Disconnect("alice"))
	assert.False(t, r.srv.Disconnect("alice"))

	assert.Equal(t, transport.EventClose, nextEvent(t, chB).Type)
	ev := nextEvent(t, chA)
	assert.Equal(t, transport.EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrLinkClosed)

	pev := nextPeerEvent(t, a)
	assert.Equal(t, transport.PeerDisconnected, pev.Type)
	assert.Equal(t, 1, r.srv.Peers())

	require.NoError(t, a.Reconnect())
	pev = nextPeerEvent(t, a)
	assert.Equal(t, transport.PeerOpen, pev.Type)
	assert.Equal(t, "alice", pev.ID)

	connectPair(t, a, b)
}

func TestRelaySecureLinks(t *testing.T) {
	static, err := noise.GenerateStaticKey()
	require.NoError(t, err)

	tests := []struct {
		name string
		opts ClientOptions
	}{
		{"NN", ClientOptions{Secure: true}},
		{"NK", ClientOptions{RelayKey: static.Public}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := startRelay(t, ServerOptions{StaticKey: &static, RequireSecure: true})
			a := r.join(t, tt.opts)
			b := r.join(t, tt.opts)
			chA, chB := connectPair(t, a, b)

			payload := []byte(strings.Repeat("x", 1024))
			require.NoError(t, chA.Send(payload))
			ev := nextEvent(t, chB)
			assert.Equal(t, payload, ev.Data)
		})
	}
}

func TestRelayRejectsWrongRelayKey(t *testing.T) {
	static, err := noise.GenerateStaticKey()
	require.NoError(t, err)
	other, err := noise.GenerateStaticKey()
	require.NoError(t, err)

	r := startRelay(t, ServerOptions{StaticKey: &static})
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	_, err = Dial(ctx, ClientOptions{URL: r.url, RelayKey: other.Public})
	assert.ErrorIs(t, err, ErrRelay)
	assert.Equal(t, 0, r.srv.Peers())
}

func TestRelayRequireSecure(t *testing.T) {
	r := startRelay(t, ServerOptions{RequireSecure: true})
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	_, err := Dial(ctx, ClientOptions{URL: r.url})
	assert.ErrorIs(t, err, ErrRelay)

	// NK needs a relay static key.
	_, err = Dial(ctx, ClientOptions{URL: r.url, RelayKey: make([]byte, noise.KeySize)})
	assert.ErrorIs(t, err, ErrRelay)
}

func TestRelayInvalidFrame(t *testing.T) {
	r := startRelay(t, ServerOptions{})
	ws, resp, err := websocket.DefaultDialer.Dial(r.url+"?id=raw", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	read := func() *Frame {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitFor)))
		_, msg, err := ws.ReadMessage()
		require.NoError(t, err)
		f, err := decodeFrame(msg, nil)
		require.NoError(t, err)
		return f
	}

	f := read()
	assert.Equal(t, FrameOpen, f.Type)
	assert.Equal(t, "raw", f.ID)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0x00}))
	f = read()
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, CodeInvalidFrame, f.Error)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, nil))
	f = read()
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, CodeInvalidFrame, f.Error)
}

func TestRelayDropsSilentClient(t *testing.T) {
	r := startRelay(t, ServerOptions{PingInterval: 20 * time.Millisecond})

	// A raw socket that never reads again never answers pings.
	ws, resp, err := websocket.DefaultDialer.Dial(r.url+"?id=ghost", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitFor)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := decodeFrame(msg, nil)
	require.NoError(t, err)
	require.Equal(t, FrameOpen, f.Type)

	require.Eventually(t, func() bool { return r.srv.Peers() == 0 }, waitFor, 10*time.Millisecond)

	c := r.join(t, ClientOptions{ID: "ghost"})
	assert.Equal(t, "ghost", c.ID())
}

func TestClientDetectsSilentRelay(t *testing.T) {
	stop := make(chan struct{})
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		msg, err := encodeFrame(&Frame{Type: FrameOpen, ID: "alice"}, nil)
		if err != nil {
			return
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return
		}
		<-stop
	}))
	t.Cleanup(func() {
		close(stop)
		ts.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := Dial(ctx, ClientOptions{
		URL:          "ws" + strings.TrimPrefix(ts.URL, "http"),
		PingInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Close()

	ev := nextPeerEvent(t, c)
	require.Equal(t, transport.PeerOpen, ev.Type)
	assert.Equal(t, "alice", ev.ID)

	ev = nextPeerEvent(t, c)
	assert.Equal(t, transport.PeerDisconnected, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrLinkClosed)
}

func TestFrameEncoding(t *testing.T) {
	f := &Frame{Type: FrameData, Peer: "bob", Conn: "c1", Data: []byte("hi")}
	msg, err := encodeFrame(f, nil)
	require.NoError(t, err)

	got, err := decodeFrame(msg, nil)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	_, err = decodeFrame([]byte{0xa0}, nil)
	assert.Error(t, err, "frame without type")
}

func TestFrameModesLoad(t *testing.T) {
	modes, err := loadFrameModes()
	require.NoError(t, err)
	require.NotNil(t, modes.enc)
	require.NotNil(t, modes.dec)
}

func TestFrameRejectsOversizedMap(t *testing.T) {
	wide := map[string]string{"t": string(FrameData)}
	for i := 0; len(wide) <= maxFramePairs; i++ {
		wide[fmt.Sprintf("x%d", i)] = "pad"
	}
	msg, err := cbor.Marshal(wide)
	require.NoError(t, err)

	_, err = decodeFrame(msg, nil)
	assert.Error(t, err)
}
