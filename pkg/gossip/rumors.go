package gossip

import (
	"sort"

	"rmeyers/peerster/pkg/wire"
)

// RumorStore is the append-only per-origin archive of rumors plus the
// vector status. For every origin the stored sequence numbers form the
// contiguous prefix 1..N and the status entry is N+1, the first sequence
// not yet seen.
type RumorStore struct {
	logs   map[string][]wire.Rumor
	status map[string]uint32
}

func NewRumorStore() *RumorStore {
	return &RumorStore{
		logs:   make(map[string][]wire.Rumor),
		status: make(map[string]uint32),
	}
}

// Register adds an origin with an empty log. Idempotent; also triggered by
// origins first seen in an inbound status.
func (rs *RumorStore) Register(origin string) {
	if _, ok := rs.status[origin]; !ok {
		rs.logs[origin] = nil
		rs.status[origin] = 1
	}
}

// Next returns the first sequence number not yet seen from origin.
func (rs *RumorStore) Next(origin string) uint32 {
	rs.Register(origin)
	return rs.status[origin]
}

// Accept appends the rumor iff its sequence is the next expected one.
func (rs *RumorStore) Accept(r wire.Rumor) bool {
	rs.Register(r.Origin)
	if r.SeqNo != rs.status[r.Origin] {
		return false
	}
	rs.logs[r.Origin] = append(rs.logs[r.Origin], r)
	rs.status[r.Origin] = r.SeqNo + 1
	return true
}

// Get returns the stored rumor (origin, seq).
func (rs *RumorStore) Get(origin string, seq uint32) (wire.Rumor, bool) {
	log := rs.logs[origin]
	if seq < 1 || int(seq) > len(log) {
		return wire.Rumor{}, false
	}
	return log[seq-1], true
}

// Has reports whether origin is known.
func (rs *RumorStore) Has(origin string) bool {
	_, ok := rs.status[origin]
	return ok
}

// Status returns a copy of the vector status.
func (rs *RumorStore) Status() map[string]uint32 {
	want := make(map[string]uint32, len(rs.status))
	for origin, next := range rs.status {
		want[origin] = next
	}
	return want
}

// Origins lists known origins in sorted order, so reconciliation scans are
// deterministic.
func (rs *RumorStore) Origins() []string {
	origins := make([]string, 0, len(rs.status))
	for origin := range rs.status {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}
