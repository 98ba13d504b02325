package wire

// DefaultHopLimit is the initial hop budget of every point-to-point message.
const DefaultHopLimit = 10

// Message is the tagged sum over every datagram kind the node understands.
// Classification is by key presence, so each variant records exactly the
// keys that define it.
type Message interface {
	toMap() map[string]interface{}
}

// PrevHop is the prior-hop annotation a rumor carries. It is rewritten to
// the direct sender's address each time the rumor is forwarded.
type PrevHop struct {
	IP   uint32
	Port uint16
}

// Rumor is a chat message or, when Text is nil, a route announcement.
type Rumor struct {
	Origin string
	SeqNo  uint32
	Text   *string
	Last   *PrevHop
}

// IsRoute reports whether the rumor carries no chat payload.
func (r Rumor) IsRoute() bool { return r.Text == nil }

func (r Rumor) toMap() map[string]interface{} {
	m := map[string]interface{}{
		fieldOrigin.key(): r.Origin,
		fieldSeqNo.key():  int64(r.SeqNo),
	}
	if r.Text != nil {
		m[fieldChatText.key()] = *r.Text
	}
	if r.Last != nil {
		m[fieldLastIP.key()] = int64(r.Last.IP)
		m[fieldLastPort.key()] = int64(r.Last.Port)
	}
	return m
}

// Status is the vector clock: origin -> next sequence number wanted.
type Status struct {
	Want map[string]uint32
}

func (s Status) toMap() map[string]interface{} {
	want := make(map[string]interface{}, len(s.Want))
	for origin, next := range s.Want {
		want[origin] = int64(next)
	}
	return map[string]interface{}{fieldWant.key(): want}
}

// Payload is the single payload a point-to-point message carries.
type Payload interface {
	fill(m map[string]interface{})
}

// Chat is a private chat payload.
type Chat struct {
	Text string
}

func (c Chat) fill(m map[string]interface{}) {
	m[fieldChatText.key()] = c.Text
}

// BlockRequest asks for the block or metafile whose SHA-1 is Hash.
type BlockRequest struct {
	Hash []byte
}

func (b BlockRequest) fill(m map[string]interface{}) {
	m[fieldBlockRequest.key()] = string(b.Hash)
}

// BlockReply answers a BlockRequest: Hash echoes the request, Data holds
// the block or metafile bytes.
type BlockReply struct {
	Hash []byte
	Data []byte
}

func (b BlockReply) fill(m map[string]interface{}) {
	m[fieldBlockReply.key()] = string(b.Hash)
	m[fieldData.key()] = string(b.Data)
}

// SearchReply carries the filenames and metafile hashes matching a query.
type SearchReply struct {
	Query string
	Names []string
	IDs   [][]byte
}

func (s SearchReply) fill(m map[string]interface{}) {
	m[fieldSearchReply.key()] = s.Query
	names := make([]interface{}, len(s.Names))
	for i, n := range s.Names {
		names[i] = n
	}
	ids := make([]interface{}, len(s.IDs))
	for i, id := range s.IDs {
		ids[i] = string(id)
	}
	m[fieldMatchNames.key()] = names
	m[fieldMatchIDs.key()] = ids
}

// P2P is a point-to-point message routed hop by hop toward Dest.
type P2P struct {
	Origin   string
	Dest     string
	HopLimit uint32
	Payload  Payload
}

func (p P2P) toMap() map[string]interface{} {
	m := map[string]interface{}{
		fieldOrigin.key():   p.Origin,
		fieldDest.key():     p.Dest,
		fieldHopLimit.key(): int64(p.HopLimit),
	}
	if p.Payload != nil {
		p.Payload.fill(m)
	}
	return m
}

// SearchRequest is a budgeted search flooded through the network.
type SearchRequest struct {
	Origin string
	Query  string
	Budget uint32
}

func (s SearchRequest) toMap() map[string]interface{} {
	return map[string]interface{}{
		fieldOrigin.key(): s.Origin,
		fieldSearch.key(): s.Query,
		fieldBudget.key(): int64(s.Budget),
	}
}

// Membership announces that Origin wants to join or leave the DHT. Leave
// announcements name the Replacement successor and the leaver's OneBehind.
// Broadcast marks flooded copies, as opposed to a direct announcement; only
// a direct join announcement is answered with a status snapshot.
type Membership struct {
	Origin      string
	SeqNo       uint32
	Join        bool
	Replacement string
	OneBehind   string
	Broadcast   bool
}

func (a Membership) toMap() map[string]interface{} {
	m := map[string]interface{}{
		fieldOrigin.key():  a.Origin,
		fieldSeqNo.key():   int64(a.SeqNo),
		fieldJoinDHT.key(): encodeBool(a.Join),
	}
	if a.Replacement != "" {
		m[fieldReplacement.key()] = a.Replacement
	}
	if a.OneBehind != "" {
		m[fieldOneBehind.key()] = a.OneBehind
	}
	if a.Broadcast {
		m[fieldBroadcast.key()] = encodeBool(true)
	}
	return m
}

// TransferRequest instructs the receiver to take custody of a file by
// fetching its blocks from the sender. Redundant names the node that
// should hold the redundant copy instead of the primary owner.
type TransferRequest struct {
	Origin        string
	FileName      string
	FileHash      uint32
	BlockListHash []byte
	Redundant     string
}

func (t TransferRequest) toMap() map[string]interface{} {
	m := map[string]interface{}{
		fieldOrigin.key():        t.Origin,
		fieldFileName.key():      t.FileName,
		fieldFileHash.key():      int64(t.FileHash),
		fieldBlockListHash.key(): string(t.BlockListHash),
	}
	if t.Redundant != "" {
		m[fieldRedundant.key()] = t.Redundant
	}
	return m
}

// bencode has no boolean type; flags ride as integers.
func encodeBool(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
