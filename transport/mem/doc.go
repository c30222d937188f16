// Package mem implements the transport interfaces over an in-process
// network. It is used by tests and local simulations of two peers.
//
// A Network is a registry of Peers keyed by discovery id. Dialing a
// registered id creates a connected pair of Ends; the dialed peer receives
// its end as a PeerConnection event and both ends report EventOpen. Dialing
// an unknown id returns an End that never opens, which models a signaling
// attempt that gets no answer.
//
// Ends can also be created directly with Pipe for scripted tests in which
// one side is driven by hand:
//
//	a, b := mem.Pipe("alice", "bob")
//	a.Open()
//	frame := <-b.Events() // EventOpen
package mem
