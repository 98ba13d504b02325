package dht

import (
	"reflect"
	"testing"
)

func TestHashRange(t *testing.T) {
	seen := make(map[int]bool)
	for _, id := range []string{"alice", "bob", "carol", "dave", "erin"} {
		h := Hash(id, 32)
		if h < 0 || h >= 32 {
			t.Fatalf("hash of %s out of range: %d", id, h)
		}
		if h != Hash(id, 32) {
			t.Fatalf("hash of %s not deterministic", id)
		}
		seen[h] = true
	}
	if len(seen) < 2 {
		t.Error("suspiciously many collisions across distinct IDs")
	}
}

func TestFingerIntervals(t *testing.T) {
	ft := newAt("self", 12, 32)
	want := []struct{ start, end int }{
		{13, 14}, {14, 16}, {16, 20}, {20, 28}, {28, 12},
	}
	if len(ft.Items) != len(want) {
		t.Fatalf("expected %d fingers, got %d", len(want), len(ft.Items))
	}
	for i, w := range want {
		if ft.Items[i].Start != w.start || ft.Items[i].End != w.end {
			t.Errorf("finger %d = [%d, %d), want [%d, %d)",
				i, ft.Items[i].Start, ft.Items[i].End, w.start, w.end)
		}
	}
}

// Three-node ring {4, 12, 25} on N=32, seen from node 12: every finger
// points at the member closest past its interval start, and the
// predecessor is node 4.
func TestThreeNodeRing(t *testing.T) {
	ft := newAt("n12", 12, 32)
	ft.AddMember("n25", 25)
	ft.AddMember("n4", 4)

	wantOccupants := []string{"n25", "n25", "n25", "n25", "n4"}
	for i, want := range wantOccupants {
		if ft.Items[i].Origin != want {
			t.Errorf("finger %d occupied by %q, want %q", i, ft.Items[i].Origin, want)
		}
	}
	if ft.OneBehind != "n4" {
		t.Errorf("one-behind = %q, want n4", ft.OneBehind)
	}
	if ft.Successor() != "n25" {
		t.Errorf("successor = %q, want n25", ft.Successor())
	}

	// Node 12 owns (4, 12]; hash 10 falls inside.
	for k, want := range map[int]bool{10: true, 12: true, 4: false, 25: false, 13: false} {
		if got := ft.Owns(k); got != want {
			t.Errorf("Owns(%d) = %v, want %v", k, got, want)
		}
	}
}

// From node 25 the responsible finger for hash 10 is node 12: a file with
// that hash shared at 25 is forwarded there.
func TestPeerFromHash(t *testing.T) {
	ft := newAt("n25", 25, 32)
	ft.AddMember("n12", 12)
	ft.AddMember("n4", 4)

	if got := ft.PeerFromHash(10); got != "n12" {
		t.Errorf("PeerFromHash(10) = %q, want n12", got)
	}
	if got := ft.PeerFromHash(26); got != "n4" {
		t.Errorf("PeerFromHash(26) = %q, want n4", got)
	}
}

func TestOwnsWrapsAroundZero(t *testing.T) {
	// Node 4 with predecessor 25 owns (25, 4]: the interval crosses zero.
	ft := newAt("n4", 4, 32)
	ft.AddMember("n12", 12)
	ft.AddMember("n25", 25)

	if ft.OneBehind != "n25" {
		t.Fatalf("one-behind = %q, want n25", ft.OneBehind)
	}
	for k, want := range map[int]bool{26: true, 31: true, 0: true, 4: true, 5: false, 12: false} {
		if got := ft.Owns(k); got != want {
			t.Errorf("Owns(%d) = %v, want %v", k, got, want)
		}
	}
}

func TestSingletonOwnsEverything(t *testing.T) {
	ft := newAt("self", 7, 32)
	for _, k := range []int{0, 7, 19, 31} {
		if !ft.Owns(k) {
			t.Errorf("singleton ring must own hash %d", k)
		}
	}
}

func TestSuccessorDisplacementSignal(t *testing.T) {
	ft := newAt("n12", 12, 32)

	if ft.AddMember("n25", 25) {
		t.Error("occupying an empty finger 0 is not a displacement")
	}
	// 20 is closer past start 13 than 25: finger 0 changes hands.
	if !ft.AddMember("n20", 20) {
		t.Error("expected displacement signal when finger 0 changes occupant")
	}
	// A farther member does not displace the successor.
	if ft.AddMember("n28", 28) {
		t.Error("unexpected displacement by a farther member")
	}
	if ft.Successor() != "n20" {
		t.Errorf("successor = %q, want n20", ft.Successor())
	}
}

// Leave handoff per the three-node ring: when node 12 leaves naming 25 as
// replacement, node 25 drops 12 from its fingers and adopts 4 as its new
// predecessor.
func TestLeaveReplacement(t *testing.T) {
	ft := newAt("n25", 25, 32)
	ft.AddMember("n12", 12)
	ft.AddMember("n4", 4)

	ft.Replace("n12", "n25", 25)
	for i, item := range ft.Items {
		if item.Origin == "n12" {
			t.Errorf("finger %d still points at the leaver", i)
		}
	}
	ft.SetOneBehind("n4", 4)
	if ft.OneBehind != "n4" {
		t.Errorf("one-behind = %q, want n4", ft.OneBehind)
	}
	// Ownership widened to (4, 25].
	if !ft.Owns(10) || !ft.Owns(25) || ft.Owns(4) {
		t.Error("ownership interval not widened after takeover")
	}
}

func TestReplaceByThirdParty(t *testing.T) {
	ft := newAt("n4", 4, 32)
	ft.AddMember("n12", 12)
	ft.AddMember("n25", 25)

	ft.Replace("n12", "n25", 25)
	for i, item := range ft.Items {
		if item.Origin == "n12" {
			t.Errorf("finger %d still points at the leaver", i)
		}
	}
}

func TestStatusMapOrdering(t *testing.T) {
	s := make(StatusMap)

	if !s.Update("alice", 2, true) {
		t.Error("first announcement rejected")
	}
	if s.Update("alice", 1, false) {
		t.Error("stale announcement accepted")
	}
	if got := s["alice"]; !got.Join || got.Seq != 2 {
		t.Errorf("stale announcement changed state: %+v", got)
	}
	// A conflicting announcement reusing the same SeqNo is ignored; the
	// earlier arrival wins.
	if s.Update("alice", 2, false) {
		t.Error("conflicting equal-seq announcement accepted")
	}
	if !s["alice"].Join {
		t.Error("conflicting equal-seq announcement changed state")
	}
	// An identical repeat is an accepted no-op.
	if !s.Update("alice", 2, true) {
		t.Error("idempotent repeat rejected")
	}
}

func TestStatusWantsJoin(t *testing.T) {
	s := make(StatusMap)
	s.Update("alice", 1, true)
	s.Update("bob", 1, false)
	s.Register("carol")

	got := s.WantsJoin()
	if !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("WantsJoin = %v, want [alice]", got)
	}
}

func TestRecentListEvictionOrder(t *testing.T) {
	r := NewRecentList()
	r.Touch("a")
	r.Touch("b")
	r.Touch("c")
	r.Touch("a") // refresh

	if name, _ := r.Oldest(); name != "b" {
		t.Errorf("oldest = %q, want b", name)
	}
	r.Remove("b")
	if name, _ := r.Oldest(); name != "c" {
		t.Errorf("oldest after removal = %q, want c", name)
	}
	r.Remove("c")
	r.Remove("a")
	if _, ok := r.Oldest(); ok {
		t.Error("emptied list still reports an oldest entry")
	}
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
}
