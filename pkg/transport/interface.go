package transport

import "rmeyers/peerster/pkg/peers"

// Datagram is a raw inbound packet together with its source peer.
type Datagram struct {
	From peers.Peer
	Data []byte
}

// Transport handles the network layer. Sends are best-effort; delivery and
// ordering are the protocols' problem.
type Transport interface {
	Listen() error
	Consume() <-chan Datagram
	Send(to peers.Peer, data []byte) error
	Close() error
	Self() peers.Peer
}
