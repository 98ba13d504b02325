package wire

import (
	"bytes"
	"errors"

	bencode "github.com/jackpal/bencode-go"
)

// ErrMalformed is returned when a datagram does not decode to a key-value
// dictionary. The caller drops the datagram and may answer with a status.
var ErrMalformed = errors.New("wire: malformed datagram")

// ErrUnclassified is returned when a well-formed dictionary matches none of
// the known message shapes.
var ErrUnclassified = errors.New("wire: unclassified datagram")

// Encode serializes a message to its datagram bytes.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, msg.toMap()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses datagram bytes and classifies them into one of the message
// variants. Unknown keys are ignored. The triage order is significant:
// transfer request, point-to-point, search request, rumor or membership,
// status.
func Decode(data []byte) (Message, error) {
	raw, err := bencode.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrMalformed
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, ErrMalformed
	}
	return classify(m)
}

func classify(m map[string]interface{}) (Message, error) {
	switch {
	case has(m, fieldFileName) && has(m, fieldFileHash) &&
		has(m, fieldBlockListHash) && has(m, fieldOrigin) &&
		!has(m, fieldReplacement):
		return decodeTransfer(m)

	case has(m, fieldDest) && has(m, fieldOrigin) && has(m, fieldHopLimit):
		return decodeP2P(m)

	case has(m, fieldOrigin) && has(m, fieldSearch) && has(m, fieldBudget):
		return SearchRequest{
			Origin: getString(m, fieldOrigin),
			Query:  getString(m, fieldSearch),
			Budget: getUint32(m, fieldBudget),
		}, nil

	case has(m, fieldOrigin) && has(m, fieldSeqNo):
		if has(m, fieldJoinDHT) {
			return decodeMembership(m)
		}
		return decodeRumor(m)

	case has(m, fieldWant):
		return decodeStatus(m)
	}
	return nil, ErrUnclassified
}

func decodeRumor(m map[string]interface{}) (Message, error) {
	r := Rumor{
		Origin: getString(m, fieldOrigin),
		SeqNo:  getUint32(m, fieldSeqNo),
	}
	if has(m, fieldChatText) {
		text := getString(m, fieldChatText)
		r.Text = &text
	}
	if has(m, fieldLastIP) && has(m, fieldLastPort) {
		r.Last = &PrevHop{
			IP:   getUint32(m, fieldLastIP),
			Port: uint16(getUint32(m, fieldLastPort)),
		}
	}
	return r, nil
}

func decodeStatus(m map[string]interface{}) (Message, error) {
	rawWant, ok := m[fieldWant.key()].(map[string]interface{})
	if !ok {
		return nil, ErrMalformed
	}
	want := make(map[string]uint32, len(rawWant))
	for origin, v := range rawWant {
		next, ok := v.(int64)
		if !ok {
			return nil, ErrMalformed
		}
		want[origin] = uint32(next)
	}
	return Status{Want: want}, nil
}

func decodeP2P(m map[string]interface{}) (Message, error) {
	p := P2P{
		Origin:   getString(m, fieldOrigin),
		Dest:     getString(m, fieldDest),
		HopLimit: getUint32(m, fieldHopLimit),
	}
	switch {
	case has(m, fieldChatText):
		p.Payload = Chat{Text: getString(m, fieldChatText)}
	case has(m, fieldBlockRequest):
		p.Payload = BlockRequest{Hash: getBytes(m, fieldBlockRequest)}
	case has(m, fieldBlockReply) && has(m, fieldData):
		p.Payload = BlockReply{
			Hash: getBytes(m, fieldBlockReply),
			Data: getBytes(m, fieldData),
		}
	case has(m, fieldSearchReply) && has(m, fieldMatchNames) && has(m, fieldMatchIDs):
		reply := SearchReply{Query: getString(m, fieldSearchReply)}
		for _, v := range getList(m, fieldMatchNames) {
			name, ok := v.(string)
			if !ok {
				return nil, ErrMalformed
			}
			reply.Names = append(reply.Names, name)
		}
		for _, v := range getList(m, fieldMatchIDs) {
			id, ok := v.(string)
			if !ok {
				return nil, ErrMalformed
			}
			reply.IDs = append(reply.IDs, []byte(id))
		}
		p.Payload = reply
	default:
		return nil, ErrUnclassified
	}
	return p, nil
}

func decodeMembership(m map[string]interface{}) (Message, error) {
	return Membership{
		Origin:      getString(m, fieldOrigin),
		SeqNo:       getUint32(m, fieldSeqNo),
		Join:        getBool(m, fieldJoinDHT),
		Replacement: getString(m, fieldReplacement),
		OneBehind:   getString(m, fieldOneBehind),
		Broadcast:   getBool(m, fieldBroadcast),
	}, nil
}

func decodeTransfer(m map[string]interface{}) (Message, error) {
	return TransferRequest{
		Origin:        getString(m, fieldOrigin),
		FileName:      getString(m, fieldFileName),
		FileHash:      getUint32(m, fieldFileHash),
		BlockListHash: getBytes(m, fieldBlockListHash),
		Redundant:     getString(m, fieldRedundant),
	}, nil
}

func has(m map[string]interface{}, f field) bool {
	_, ok := m[f.key()]
	return ok
}

func getString(m map[string]interface{}, f field) string {
	s, _ := m[f.key()].(string)
	return s
}

func getBytes(m map[string]interface{}, f field) []byte {
	s, _ := m[f.key()].(string)
	return []byte(s)
}

func getUint32(m map[string]interface{}, f field) uint32 {
	n, _ := m[f.key()].(int64)
	return uint32(n)
}

func getBool(m map[string]interface{}, f field) bool {
	n, _ := m[f.key()].(int64)
	return n != 0
}

func getList(m map[string]interface{}, f field) []interface{} {
	l, _ := m[f.key()].([]interface{})
	return l
}
