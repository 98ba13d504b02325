package wire

import (
	"bytes"
	"reflect"
	"testing"

	bencode "github.com/jackpal/bencode-go"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return decoded
}

func TestChatRumorRoundTrip(t *testing.T) {
	text := "hi"
	msg := Rumor{Origin: "alice", SeqNo: 1, Text: &text}
	got, ok := roundTrip(t, msg).(Rumor)
	if !ok {
		t.Fatalf("expected Rumor, got %T", got)
	}
	if got.Origin != "alice" || got.SeqNo != 1 {
		t.Errorf("unexpected header: %+v", got)
	}
	if got.Text == nil || *got.Text != "hi" {
		t.Errorf("chat text lost in transit: %+v", got.Text)
	}
	if got.IsRoute() {
		t.Error("chat rumor classified as route")
	}
}

func TestRouteRumorRoundTrip(t *testing.T) {
	msg := Rumor{
		Origin: "bob",
		SeqNo:  7,
		Last:   &PrevHop{IP: 0x7f000001, Port: 32768},
	}
	got := roundTrip(t, msg).(Rumor)
	if !got.IsRoute() {
		t.Error("route rumor carries text")
	}
	if got.Last == nil || got.Last.IP != 0x7f000001 || got.Last.Port != 32768 {
		t.Errorf("prior hop lost: %+v", got.Last)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	msg := Status{Want: map[string]uint32{"alice": 2, "bob": 1}}
	got := roundTrip(t, msg).(Status)
	if !reflect.DeepEqual(got.Want, msg.Want) {
		t.Errorf("want vector mismatch: got %v, want %v", got.Want, msg.Want)
	}
}

func TestP2PPayloads(t *testing.T) {
	hash := bytes.Repeat([]byte{0xab}, 20)
	data := []byte("block contents")

	cases := []struct {
		name    string
		payload Payload
	}{
		{"chat", Chat{Text: "psst"}},
		{"blockRequest", BlockRequest{Hash: hash}},
		{"blockReply", BlockReply{Hash: hash, Data: data}},
		{"searchReply", SearchReply{
			Query: "report",
			Names: []string{"report.pdf", "report2.pdf"},
			IDs:   [][]byte{hash, hash},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := P2P{Origin: "alice", Dest: "bob", HopLimit: DefaultHopLimit, Payload: tc.payload}
			got, ok := roundTrip(t, msg).(P2P)
			if !ok {
				t.Fatalf("expected P2P, got %T", got)
			}
			if got.Origin != "alice" || got.Dest != "bob" || got.HopLimit != DefaultHopLimit {
				t.Errorf("header mismatch: %+v", got)
			}
			if !reflect.DeepEqual(got.Payload, tc.payload) {
				t.Errorf("payload mismatch: got %#v, want %#v", got.Payload, tc.payload)
			}
		})
	}
}

func TestSearchRequestRoundTrip(t *testing.T) {
	got := roundTrip(t, SearchRequest{Origin: "alice", Query: "notes report", Budget: 2}).(SearchRequest)
	if got.Origin != "alice" || got.Query != "notes report" || got.Budget != 2 {
		t.Errorf("search request mismatch: %+v", got)
	}
}

func TestMembershipRoundTrip(t *testing.T) {
	join := Membership{Origin: "alice", SeqNo: 1, Join: true, Broadcast: true}
	got := roundTrip(t, join).(Membership)
	if !got.Join || !got.Broadcast || got.Replacement != "" {
		t.Errorf("join announcement mismatch: %+v", got)
	}

	leave := Membership{Origin: "alice", SeqNo: 2, Join: false, Replacement: "bob", OneBehind: "carol"}
	got = roundTrip(t, leave).(Membership)
	if got.Join || got.Replacement != "bob" || got.OneBehind != "carol" {
		t.Errorf("leave announcement mismatch: %+v", got)
	}
}

func TestTransferRequestRoundTrip(t *testing.T) {
	hash := bytes.Repeat([]byte{0x01}, 20)
	msg := TransferRequest{Origin: "alice", FileName: "a.txt", FileHash: 10, BlockListHash: hash}
	got := roundTrip(t, msg).(TransferRequest)
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("transfer mismatch: got %+v, want %+v", got, msg)
	}

	red := TransferRequest{Origin: "alice", FileName: "a.txt", FileHash: 10, BlockListHash: hash, Redundant: "dave"}
	got = roundTrip(t, red).(TransferRequest)
	if got.Redundant != "dave" {
		t.Errorf("redundant destination lost: %+v", got)
	}
}

// A transfer request also carries Origin, so the triage order matters: the
// FileName/FileHash/BlockListHash triple must win over later shapes.
func TestTriageOrder(t *testing.T) {
	msg := TransferRequest{Origin: "alice", FileName: "a.txt", FileHash: 3, BlockListHash: []byte("x")}
	if _, ok := roundTrip(t, msg).(TransferRequest); !ok {
		t.Error("transfer request misclassified")
	}
}

func TestUnknownKeysIgnored(t *testing.T) {
	var buf bytes.Buffer
	err := bencode.Marshal(&buf, map[string]interface{}{
		"Origin":   "alice",
		"SeqNo":    int64(1),
		"ChatText": "hello",
		"Flavour":  "unknowable",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	msg, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, ok := msg.(Rumor); !ok {
		t.Errorf("expected Rumor, got %T", msg)
	}
}

func TestMalformedDatagram(t *testing.T) {
	if _, err := Decode([]byte("not bencode at all")); err != ErrMalformed {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	// Well-formed but not a dictionary.
	if _, err := Decode([]byte("4:spam")); err != ErrMalformed {
		t.Errorf("expected ErrMalformed for non-dict, got %v", err)
	}
}

func TestUnclassifiedDatagram(t *testing.T) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, map[string]interface{}{"Origin": "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(buf.Bytes()); err != ErrUnclassified {
		t.Errorf("expected ErrUnclassified, got %v", err)
	}
}
