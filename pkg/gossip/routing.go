package gossip

import (
	"sort"

	"rmeyers/peerster/pkg/peers"
)

// RoutingTable maps an origin to the peer that most recently carried a
// usable rumor from it; point-to-point messages for that origin leave
// through this next hop.
type RoutingTable struct {
	next map[string]peers.Peer
}

func NewRoutingTable() *RoutingTable {
	return &RoutingTable{next: make(map[string]peers.Peer)}
}

// Update records p as the next hop for origin. Returns true when the
// origin was not known before.
func (rt *RoutingTable) Update(origin string, p peers.Peer) bool {
	_, known := rt.next[origin]
	rt.next[origin] = p
	return !known
}

// NextHop resolves the peer to forward to for the given destination.
func (rt *RoutingTable) NextHop(origin string) (peers.Peer, bool) {
	p, ok := rt.next[origin]
	return p, ok
}

// Origins lists the reachable origins in sorted order.
func (rt *RoutingTable) Origins() []string {
	origins := make([]string, 0, len(rt.next))
	for origin := range rt.next {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}
