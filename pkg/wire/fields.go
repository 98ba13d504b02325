package wire

// field enumerates the datagram keys. The codec is the only place that
// maps fields to their on-wire names; the rest of the repo never sees a
// raw key string.
type field int

const (
	fieldOrigin field = iota
	fieldSeqNo
	fieldChatText
	fieldWant
	fieldDest
	fieldHopLimit
	fieldLastIP
	fieldLastPort
	fieldBlockRequest
	fieldBlockReply
	fieldData
	fieldSearch
	fieldBudget
	fieldSearchReply
	fieldMatchNames
	fieldMatchIDs
	fieldJoinDHT
	fieldFileName
	fieldFileHash
	fieldBlockListHash
	fieldReplacement
	fieldOneBehind
	fieldRedundant
	fieldBroadcast
)

var wireKeys = [...]string{
	fieldOrigin:        "Origin",
	fieldSeqNo:         "SeqNo",
	fieldChatText:      "ChatText",
	fieldWant:          "Want",
	fieldDest:          "Dest",
	fieldHopLimit:      "HopLimit",
	fieldLastIP:        "LastIP",
	fieldLastPort:      "LastPort",
	fieldBlockRequest:  "BlockRequest",
	fieldBlockReply:    "BlockReply",
	fieldData:          "Data",
	fieldSearch:        "Search",
	fieldBudget:        "Budget",
	fieldSearchReply:   "SearchReply",
	fieldMatchNames:    "MatchNames",
	fieldMatchIDs:      "MatchIDs",
	fieldJoinDHT:       "JoinDHT",
	fieldFileName:      "FileName",
	fieldFileHash:      "FileHash",
	fieldBlockListHash: "BlockListHash",
	fieldReplacement:   "Replacement",
	fieldOneBehind:     "OneBehind",
	fieldRedundant:     "Redundant",
	fieldBroadcast:     "Broadcast",
}

func (f field) key() string {
	return wireKeys[f]
}
