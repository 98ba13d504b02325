package dht

import (
	"crypto/sha1"
	"encoding/binary"
	"math/bits"

	"rmeyers/peerster/pkg/logger"
)

// Hash places an origin ID on the ring: the first 32 bits of the SHA-1 of
// its UTF-8 bytes, mod the ring size.
func Hash(id string, spots int) int {
	sum := sha1.Sum([]byte(id))
	return int(binary.BigEndian.Uint32(sum[:4]) % uint32(spots))
}

// Item is one finger: the ring interval [Start, End) and the known member
// closest past Start that is responsible for it.
type Item struct {
	Start  int
	End    int
	Origin string
	hash   int
}

// FingerTable is the node's view of the Chord-style ring: log2(spots)
// fingers plus the immediate predecessor (one-behind), which bounds the
// node's ownership interval from below.
type FingerTable struct {
	spots      int
	self       string
	cur        int
	OneBehind  string
	behindHash int
	Items      []Item
}

func New(self string, spots int) *FingerTable {
	return newAt(self, Hash(self, spots), spots)
}

func newAt(self string, cur, spots int) *FingerTable {
	ft := &FingerTable{
		spots:      spots,
		self:       self,
		cur:        cur,
		OneBehind:  self,
		behindHash: cur,
	}
	for i := 0; i < bits.Len(uint(spots))-1; i++ {
		ft.Items = append(ft.Items, Item{
			Start: (cur + 1<<i) % spots,
			End:   (cur + 1<<(i+1)) % spots,
			hash:  -1,
		})
	}
	return ft
}

// SelfHash returns the node's own ring position.
func (ft *FingerTable) SelfHash() int {
	return ft.cur
}

// distance is the forward walk from a to b on the ring.
func (ft *FingerTable) distance(a, b int) int {
	return ((b - a) % ft.spots + ft.spots) % ft.spots
}

// AddMember offers a member for every finger: it takes a slot whose
// occupant is farther forward from the interval start, or any empty slot.
// Returns true when the 0-th finger (the immediate successor) was
// displaced, which means the node's redundant copies now belong to the new
// successor and the redundancy archive must be cleared.
func (ft *FingerTable) AddMember(origin string, h int) (successorDisplaced bool) {
	if origin == ft.self {
		return false
	}
	for i := range ft.Items {
		item := &ft.Items[i]
		if item.Origin == origin {
			continue
		}
		if item.hash >= 0 && ft.distance(item.Start, h) >= ft.distance(item.Start, item.hash) {
			continue
		}
		if i == 0 && item.Origin != "" {
			successorDisplaced = true
		}
		item.Origin = origin
		item.hash = h
	}
	ft.updateOneBehind(origin, h)
	logger.Sugar.Debugf("[DHT] finger table after adding %s (hash %d): %v", origin, h, ft.Items)
	return successorDisplaced
}

// updateOneBehind adopts the member as predecessor when its forward
// distance to self is smaller (and nonzero) than the current one.
func (ft *FingerTable) updateOneBehind(origin string, h int) {
	d := ft.distance(h, ft.cur)
	if d == 0 {
		return
	}
	if ft.OneBehind == ft.self || d < ft.distance(ft.behindHash, ft.cur) {
		ft.OneBehind = origin
		ft.behindHash = h
	}
}

// SetOneBehind overrides the predecessor; used when a leaving predecessor
// hands its own one-behind to this node.
func (ft *FingerTable) SetOneBehind(origin string, h int) {
	ft.OneBehind = origin
	ft.behindHash = h
}

// Replace substitutes every finger occurrence of a leaving member with its
// announced replacement.
func (ft *FingerTable) Replace(old, replacement string, replacementHash int) {
	for i := range ft.Items {
		if ft.Items[i].Origin == old {
			if replacement == ft.self {
				ft.Items[i].Origin = ""
				ft.Items[i].hash = -1
			} else {
				ft.Items[i].Origin = replacement
				ft.Items[i].hash = replacementHash
			}
		}
	}
	if ft.OneBehind == old {
		ft.OneBehind = ft.self
		ft.behindHash = ft.cur
	}
}

// Owns reports whether hash k falls in this node's ownership interval
// (one-behind, self] on the ring.
func (ft *FingerTable) Owns(k int) bool {
	cur, prev := ft.cur, ft.behindHash
	switch {
	case cur == prev:
		// Singleton ring.
		return true
	case cur > prev:
		return prev < k && k <= cur
	default:
		return k > prev || k <= cur
	}
}

// PeerFromHash returns the finger occupant whose interval contains k, or
// empty when the table has no member covering it.
func (ft *FingerTable) PeerFromHash(k int) string {
	for _, item := range ft.Items {
		width := ft.distance(item.Start, item.End)
		if ft.distance(item.Start, k) < width {
			return item.Origin
		}
	}
	return ""
}

// Successor is the occupant of the 0-th finger.
func (ft *FingerTable) Successor() string {
	if len(ft.Items) == 0 {
		return ""
	}
	return ft.Items[0].Origin
}
