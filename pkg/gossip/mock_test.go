package gossip

import (
	"math/rand"
	"net/netip"
	"testing"

	"rmeyers/peerster/pkg/config"
	"rmeyers/peerster/pkg/dht"
	"rmeyers/peerster/pkg/peers"
	"rmeyers/peerster/pkg/transport"
	"rmeyers/peerster/pkg/wire"
)

// sentMsg is one decoded outbound message captured by the mock transport.
type sentMsg struct {
	To  peers.Peer
	Msg wire.Message
}

// mockTransport records everything the node sends instead of touching the
// network, so handlers can be driven synchronously.
type mockTransport struct {
	self peers.Peer
	in   chan transport.Datagram
	sent []sentMsg
}

func newMockTransport(port uint16) *mockTransport {
	return &mockTransport{
		self: peers.New(netip.MustParseAddr("127.0.0.1"), port),
		in:   make(chan transport.Datagram, 16),
	}
}

func (m *mockTransport) Listen() error { return nil }

func (m *mockTransport) Consume() <-chan transport.Datagram { return m.in }

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) Self() peers.Peer { return m.self }

func (m *mockTransport) Send(to peers.Peer, data []byte) error {
	msg, err := wire.Decode(data)
	if err != nil {
		return err
	}
	m.sent = append(m.sent, sentMsg{To: to, Msg: msg})
	return nil
}

func (m *mockTransport) reset() {
	m.sent = nil
}

// lastStatusTo finds the most recent status sent to the given peer.
func (m *mockTransport) lastStatusTo(to peers.Peer) (wire.Status, bool) {
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].To != to {
			continue
		}
		if s, ok := m.sent[i].Msg.(wire.Status); ok {
			return s, true
		}
	}
	return wire.Status{}, false
}

// newTestNode builds a node on a mock transport with deterministic
// randomness and an isolated download directory.
func newTestNode(t *testing.T, port uint16) (*Node, *mockTransport) {
	t.Helper()
	mt := newMockTransport(port)
	n := NewNode("test", mt, false)
	n.rng = rand.New(rand.NewSource(7))
	n.cfg = &config.Config{
		DownloadDir: t.TempDir(),
		DHTLimitKB:  config.DefaultDHTLimitKB,
		RingSpots:   config.DefaultRingSpots,
	}
	// Pin the origin so ring positions are reproducible across runs.
	n.origin = "tester"
	n.rumors = NewRumorStore()
	n.rumors.Register(n.origin)
	n.finger = dht.New(n.origin, config.DefaultRingSpots)
	return n, mt
}

func testPeer(port uint16) peers.Peer {
	return peers.New(netip.MustParseAddr("127.0.0.1"), port)
}
