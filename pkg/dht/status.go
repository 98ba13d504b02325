package dht

// MemberState is the most recent membership announcement accepted from an
// origin: its sequence number and whether it wants to be in the DHT.
type MemberState struct {
	Seq  uint32
	Join bool
}

// StatusMap tracks per-origin membership state. Announcements are ordered
// by SeqNo; a stale one is ignored, a newer one wins, and for an equal
// SeqNo the earlier arrival wins.
type StatusMap map[string]MemberState

// Register creates a zero entry for a newly seen origin.
func (s StatusMap) Register(origin string) {
	if _, ok := s[origin]; !ok {
		s[origin] = MemberState{}
	}
}

// Update applies an announcement. Stale sequence numbers are ignored, and
// so is a conflicting announcement reusing the recorded sequence number:
// for the same SeqNo the earlier arrival wins. Returns false when the
// announcement was ignored.
func (s StatusMap) Update(origin string, seq uint32, join bool) bool {
	if cur, ok := s[origin]; ok {
		if seq < cur.Seq {
			return false
		}
		if seq == cur.Seq && cur.Join != join {
			return false
		}
	}
	s[origin] = MemberState{Seq: seq, Join: join}
	return true
}

// WantsJoin lists every origin whose last announcement asked to join.
func (s StatusMap) WantsJoin() []string {
	var members []string
	for origin, st := range s {
		if st.Join {
			members = append(members, origin)
		}
	}
	return members
}
