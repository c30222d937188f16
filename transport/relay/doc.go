// Package relay implements the transport interfaces over a WebSocket
// signaling relay.
//
// A Server assigns every client a discovery id and forwards channel frames
// between clients. A Client is a transport.Peer: dialing a remote id asks
// the relay to connect the two, and the dialed client receives the channel
// as a PeerConnection event.
//
// Frames are CBOR maps sent as binary WebSocket messages:
//
//	open     relay -> client   id assigned
//	connect  client -> relay   open conn c to peer p
//	offer    relay -> client   peer p opened conn c
//	accept   client -> relay   conn c accepted, forwarded to the dialer
//	data     both ways         one channel frame for conn c
//	close    both ways         conn c closed
//	error    relay -> client   peer-unavailable, unavailable-id or invalid-frame
//
// The client-relay link can be wrapped in a Noise session (?noise=NN) so a
// passive observer learns nothing, or pinned to the relay's static key
// (?noise=NK). Chat payloads are end-to-end encrypted by the session layer
// either way; the Noise link protects ids and signaling metadata.
//
// Example:
//
//	srv := relay.NewServer(relay.ServerOptions{})
//	go http.ListenAndServe(":8080", srv)
//
//	client, err := relay.Dial(ctx, relay.ClientOptions{URL: "ws://localhost:8080", Secure: true})
package relay
