package gossip

import (
	"fmt"
	"time"

	"rmeyers/peerster/pkg/dht"
	"rmeyers/peerster/pkg/files"
	"rmeyers/peerster/pkg/logger"
	"rmeyers/peerster/pkg/monitor"
	"rmeyers/peerster/pkg/peers"
	"rmeyers/peerster/pkg/search"
	"rmeyers/peerster/pkg/transport"
	"rmeyers/peerster/pkg/wire"
)

// handleDatagram triages one inbound packet. Malformed or unclassifiable
// datagrams are dropped; the sender gets our status to prompt recovery.
func (n *Node) handleDatagram(dg transport.Datagram) {
	monitor.Global.CountReceived(len(dg.Data))
	n.table.Learn(dg.From)

	msg, err := wire.Decode(dg.Data)
	if err != nil {
		logger.Sugar.Debugf("[Gossiper] dropping datagram from %s: %v", dg.From, err)
		n.sendStatus(dg.From)
		return
	}

	switch m := msg.(type) {
	case wire.TransferRequest:
		n.handleTransfer(m)
	case wire.P2P:
		n.handleP2P(m, dg.From)
	case wire.SearchRequest:
		n.handleSearch(m, dg.From)
	case wire.Rumor:
		n.handleRumor(m, dg.From)
	case wire.Membership:
		n.handleMembership(m, dg.From)
	case wire.Status:
		n.handleStatus(m, dg.From)
	}
}

// updateRoute points the routing table entry for origin at the peer that
// carried its rumor, announcing origins seen for the first time.
func (n *Node) updateRoute(origin string, p peers.Peer) {
	if origin == n.origin {
		return
	}
	if n.routes.Update(origin, p) {
		n.emit(Event{Kind: EventNewOrigin, Origin: origin})
	}
}

func (n *Node) handleRumor(r wire.Rumor, from peers.Peer) {
	expected := n.rumors.Next(r.Origin)
	if r.SeqNo != expected {
		// A rumor exactly one behind with no prior-hop annotation came
		// straight from its origin; it still refreshes the route.
		if r.SeqNo == expected-1 && r.Last == nil {
			n.updateRoute(r.Origin, from)
		}
		n.sendStatus(from)
		return
	}

	n.updateRoute(r.Origin, from)
	n.rumors.Accept(r)

	// The prior hop is a peer too.
	if r.Last != nil && r.Last.IP != 0 {
		n.table.Learn(peers.FromIPv4(r.Last.IP, r.Last.Port))
	}

	if !r.IsRoute() && r.Origin != n.origin {
		logger.Sugar.Infof("[Gossiper] chat from %s: %s", r.Origin, *r.Text)
		n.emit(Event{Kind: EventChat, Origin: r.Origin, Text: *r.Text})
	}

	// Status goes back to the sender before any further monger step.
	n.sendStatus(from)

	fwd := r
	fwd.Last = &wire.PrevHop{IP: from.IPv4(), Port: from.Port}
	if r.IsRoute() {
		n.broadcast(fwd, from)
	} else {
		n.monger(fwd, from)
	}
}

func (n *Node) handleStatus(s wire.Status, from peers.Peer) {
	n.popMonger()

	// First try to send a rumor the sender lacks.
	for _, origin := range n.rumors.Origins() {
		next := n.rumors.Next(origin)
		if next <= 1 {
			continue
		}
		theirs, known := s.Want[origin]
		if !known || theirs < 1 {
			theirs = 1
		}
		if theirs < next {
			if r, ok := n.rumors.Get(origin, theirs); ok {
				logger.Sugar.Debugf("[Gossiper] sending %s/%d to %s", origin, theirs, from)
				n.send(r, from)
			}
			return
		}
	}

	// Then ask for a rumor the sender has and we lack.
	for origin, theirs := range s.Want {
		n.rumors.Register(origin)
		if theirs > n.rumors.Next(origin) {
			n.sendStatus(from)
			return
		}
	}

	// In sync: maybe keep the rumor moving.
	n.coinFlip(from)
}

func (n *Node) handleP2P(p wire.P2P, from peers.Peer) {
	if p.Dest == n.origin {
		n.deliverP2P(p, from)
		return
	}
	if p.HopLimit > 1 {
		p.HopLimit--
		if hop, ok := n.routes.NextHop(p.Dest); ok {
			n.send(p, hop)
		}
		return
	}
	// Hop budget exhausted; drop silently.
}

func (n *Node) deliverP2P(p wire.P2P, from peers.Peer) {
	switch payload := p.Payload.(type) {
	case wire.Chat:
		logger.Sugar.Infof("[Gossiper] private message from %s", p.Origin)
		n.emit(Event{Kind: EventPrivate, Origin: p.Origin, Text: payload.Text})
	case wire.BlockRequest:
		n.serveBlock(p.Origin, payload, from)
	case wire.BlockReply:
		n.handleBlockReply(p.Origin, payload)
	case wire.SearchReply:
		if p.Origin == n.origin || n.active == nil {
			return
		}
		fresh := n.active.AddReply(payload.Query, p.Origin, payload.Names, payload.IDs)
		if len(fresh) > 0 {
			n.emit(Event{Kind: EventSearchResults, Origin: p.Origin, Names: fresh})
		}
	}
}

// serveBlock answers a block request from the archives. The reply goes
// straight back to the hop the request arrived on.
func (n *Node) serveBlock(requester string, req wire.BlockRequest, from peers.Peer) {
	data, kind, name := n.archive.FindBlock(req.Hash)
	if len(data) == 0 {
		logger.Sugar.Debugf("[Files] no block %x for %s", req.Hash, requester)
		return
	}
	if kind != files.Local {
		n.recent.Touch(name)
	}
	monitor.Global.CountBlockServed(len(data))
	reply := wire.P2P{
		Origin:   n.origin,
		Dest:     requester,
		HopLimit: wire.DefaultHopLimit,
		Payload:  wire.BlockReply{Hash: req.Hash, Data: data},
	}
	n.send(reply, from)
}

// --- Download pipeline ---

// startDownload claims the single download slot and requests the metafile.
func (n *Node) startDownload(target string, metaHash []byte, name string, mode files.Mode) error {
	if n.download != nil {
		return fmt.Errorf("download already in progress")
	}
	hop, ok := n.routes.NextHop(target)
	if !ok {
		return fmt.Errorf("unknown target node %s", target)
	}
	n.download = files.NewDownload(target, metaHash, name, mode, n.cfg.DownloadDir)
	n.dlDest = hop
	logger.Sugar.Infof("[Download] requesting %x of %s from %s", metaHash, name, target)
	n.sendBlockRequest()
	return nil
}

func (n *Node) sendBlockRequest() {
	msg := wire.P2P{
		Origin:   n.origin,
		Dest:     n.download.Target,
		HopLimit: wire.DefaultHopLimit,
		Payload:  wire.BlockRequest{Hash: n.download.Expected},
	}
	n.send(msg, n.dlDest)
	n.armRetransmit()
}

func (n *Node) armRetransmit() {
	if n.retransmit != nil {
		n.retransmit.Stop()
	}
	n.retransmit = time.AfterFunc(retransmitPeriod, func() {
		n.post(n.retransmitTick)
	})
}

func (n *Node) retransmitTick() {
	if n.download == nil {
		return
	}
	logger.Sugar.Debugf("[Download] retransmitting request %x", n.download.Expected)
	n.sendBlockRequest()
}

func (n *Node) handleBlockReply(origin string, rep wire.BlockReply) {
	d := n.download
	if d == nil || !d.Matches(origin, rep.Hash, rep.Data) {
		return
	}
	if n.retransmit != nil {
		n.retransmit.Stop()
	}

	firstReply := !d.HaveMetafile()
	_, done, err := d.Absorb(rep.Data)
	if err != nil {
		logger.Sugar.Errorf("[Download] aborting: %v", err)
		d.Abort()
		n.clearDownload()
		return
	}

	// The metafile reveals the block count; a DHT file that cannot fit at
	// all is rejected outright rather than evicting everything else.
	if firstReply && d.Mode != files.UserDownload && d.CostKB() > n.dhtLimitKB {
		logger.Sugar.Warnf("[DHT] no capacity for %s (%d KB > %d KB)",
			d.BaseName, d.CostKB(), n.dhtLimitKB)
		d.Abort()
		n.clearDownload()
		return
	}

	if done {
		n.finishDownload()
		return
	}
	n.sendBlockRequest()
}

func (n *Node) finishDownload() {
	d := n.download
	f := d.Result()
	monitor.Global.CountDownloaded(f.Size)

	switch d.Mode {
	case files.UserDownload:
		logger.Sugar.Infof("[Download] completed %s", f.Name)
		n.emit(Event{Kind: EventDownloadComplete, Text: f.Name})
	case files.PrimaryFetch:
		f.Name = d.BaseName
		if n.archive.Add(files.Primary, f) {
			n.recent.Touch(f.Name)
			n.evictToFit()
			n.pushRedundancy(f)
		}
	case files.RedundantFetch:
		f.Name = d.BaseName
		if n.archive.Add(files.Redundant, f) {
			n.recent.Touch(f.Name)
			n.evictToFit()
		}
	}
	n.clearDownload()
}

// clearDownload frees the slot and revives the oldest parked transfer.
func (n *Node) clearDownload() {
	n.download = nil
	if n.retransmit != nil {
		n.retransmit.Stop()
		n.retransmit = nil
	}
	if len(n.pendingTransfers) > 0 {
		t := n.pendingTransfers[0]
		n.pendingTransfers = n.pendingTransfers[1:]
		n.handleTransfer(t)
	}
}

// --- Search ---

func (n *Node) handleSearch(s wire.SearchRequest, from peers.Peer) {
	if n.joinedDHT {
		n.handleSearchDHT(s, from)
		return
	}

	matched := search.Match(s.Query, n.archive.Names(files.Local))
	ids := make([][]byte, 0, len(matched))
	for _, name := range matched {
		f, _ := n.archive.Get(files.Local, name)
		ids = append(ids, f.MetaHash)
	}
	logger.Sugar.Debugf("[Search] request %q from %s: %d matches", s.Query, s.Origin, len(matched))
	n.send(wire.P2P{
		Origin:   n.origin,
		Dest:     s.Origin,
		HopLimit: wire.DefaultHopLimit,
		Payload:  wire.SearchReply{Query: s.Query, Names: matched, IDs: ids},
	}, from)

	// Pass the ring outward with the budget we consumed.
	if s.Budget > 1 {
		s.Budget--
		n.sendByBudget(s)
	}
}

// handleSearchDHT treats the query as an exact filename and either answers
// from the DHT archives or forwards toward the responsible node.
func (n *Node) handleSearchDHT(s wire.SearchRequest, from peers.Peer) {
	k := dht.Hash(s.Query, n.cfg.RingSpots)
	_, holdsRedundant := n.archive.Get(files.Redundant, s.Query)

	if n.finger.Owns(k) || holdsRedundant {
		var names []string
		var ids [][]byte
		for _, kind := range []files.Kind{files.Primary, files.Redundant} {
			if f, ok := n.archive.Get(kind, s.Query); ok {
				names = append(names, f.Name)
				ids = append(ids, f.MetaHash)
				n.recent.Touch(f.Name)
				break
			}
		}
		n.send(wire.P2P{
			Origin:   n.origin,
			Dest:     s.Origin,
			HopLimit: wire.DefaultHopLimit,
			Payload:  wire.SearchReply{Query: s.Query, Names: names, IDs: ids},
		}, from)
		return
	}

	owner := n.finger.PeerFromHash(k)
	if owner == "" {
		return
	}
	if hop, ok := n.routes.NextHop(owner); ok {
		n.send(s, hop)
	}
}
