package gossip

import (
	"testing"

	"rmeyers/peerster/pkg/wire"
)

func chatRumor(origin string, seq uint32, text string) wire.Rumor {
	return wire.Rumor{Origin: origin, SeqNo: seq, Text: &text}
}

func TestRumorStoreContiguousPrefix(t *testing.T) {
	rs := NewRumorStore()

	if !rs.Accept(chatRumor("alice", 1, "one")) {
		t.Fatal("expected seq 1 accepted")
	}
	if rs.Accept(chatRumor("alice", 3, "three")) {
		t.Fatal("gap accepted")
	}
	if !rs.Accept(chatRumor("alice", 2, "two")) {
		t.Fatal("expected seq 2 accepted")
	}
	if rs.Accept(chatRumor("alice", 2, "again")) {
		t.Fatal("duplicate accepted")
	}

	// Status is always one past the stored prefix.
	if next := rs.Next("alice"); next != 3 {
		t.Errorf("next = %d, want 3", next)
	}
	for seq := uint32(1); seq <= 2; seq++ {
		if _, ok := rs.Get("alice", seq); !ok {
			t.Errorf("missing stored rumor %d", seq)
		}
	}
	if _, ok := rs.Get("alice", 3); ok {
		t.Error("phantom rumor 3")
	}
}

func TestRumorStoreAutoRegisters(t *testing.T) {
	rs := NewRumorStore()
	if rs.Has("bob") {
		t.Fatal("unknown origin reported present")
	}
	if next := rs.Next("bob"); next != 1 {
		t.Errorf("fresh origin next = %d, want 1", next)
	}
	if !rs.Has("bob") {
		t.Error("Next did not register the origin")
	}

	rs.Register("bob") // idempotent
	if next := rs.Next("bob"); next != 1 {
		t.Errorf("re-register changed next to %d", next)
	}
}

func TestRumorStoreStatusCopy(t *testing.T) {
	rs := NewRumorStore()
	rs.Accept(chatRumor("alice", 1, "x"))

	status := rs.Status()
	status["alice"] = 99
	if rs.Next("alice") != 2 {
		t.Error("mutating the status copy changed the store")
	}
}

func TestRoutingTableUpdate(t *testing.T) {
	rt := NewRoutingTable()
	p1, p2 := testPeer(32768), testPeer(32769)

	if !rt.Update("alice", p1) {
		t.Error("first update should report a new origin")
	}
	if rt.Update("alice", p2) {
		t.Error("second update should not report a new origin")
	}
	if hop, ok := rt.NextHop("alice"); !ok || hop != p2 {
		t.Errorf("next hop = %v, want %v", hop, p2)
	}
	if _, ok := rt.NextHop("bob"); ok {
		t.Error("unknown origin resolved")
	}
}
