package gossip

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rmeyers/peerster/pkg/dht"
	"rmeyers/peerster/pkg/files"
	"rmeyers/peerster/pkg/logger"
	"rmeyers/peerster/pkg/peers"
	"rmeyers/peerster/pkg/wire"
)

func (n *Node) ringHash(id string) int {
	return dht.Hash(id, n.cfg.RingSpots)
}

// joinDHT scans the membership map for nodes that want in, builds the
// finger table from them, and floods a join announcement.
func (n *Node) joinDHT() error {
	if n.wantsDHT {
		return fmt.Errorf("already participating in the DHT")
	}
	n.wantsDHT = true

	added := false
	for _, origin := range n.dhtStatus.WantsJoin() {
		if origin == n.origin {
			continue
		}
		if n.finger.AddMember(origin, n.ringHash(origin)) {
			n.clearRedundancy()
		}
		added = true
	}
	if added {
		n.joinedDHT = true
		n.emit(Event{Kind: EventJoinedDHT})
		logger.Sugar.Infof("[DHT] joined at ring position %d", n.finger.SelfHash())
	}

	n.announceMembership(true, "", "")
	return nil
}

// leaveDHT hands custody of the primary archive toward the successor and
// floods the leave announcement. The announcement goes first: receivers
// must learn the new ownership interval before the custody transfers
// arrive, or the ring routes them back to the leaver.
func (n *Node) leaveDHT() error {
	if !n.wantsDHT {
		return fmt.Errorf("not participating in the DHT")
	}
	n.wantsDHT = false
	if !n.joinedDHT {
		return nil
	}

	replacement := n.finger.Successor()
	oneBehind := n.finger.OneBehind
	n.announceMembership(false, replacement, oneBehind)

	for _, name := range n.archive.Names(files.Primary) {
		f, _ := n.archive.Get(files.Primary, name)
		n.sendThroughFingerTable(wire.TransferRequest{
			Origin:        n.origin,
			FileName:      name,
			FileHash:      uint32(n.ringHash(name)),
			BlockListHash: f.MetaHash,
		})
	}

	// Keep serving blocks from the old primary copies until the new owners
	// have fetched them; only the overlay state is torn down.
	n.joinedDHT = false
	n.finger = dht.New(n.origin, n.cfg.RingSpots)
	n.emit(Event{Kind: EventLeftDHT})
	logger.Sugar.Infof("[DHT] left, custody handed toward %s", replacement)
	return nil
}

// announceMembership floods this node's membership state to all peers.
// The copy is unmarked, so direct receivers of a join announcement answer
// with their status snapshots.
func (n *Node) announceMembership(join bool, replacement, oneBehind string) {
	seq := n.dhtSeqNo
	n.dhtSeqNo++
	n.dhtStatus.Update(n.origin, seq, join)
	n.broadcast(wire.Membership{
		Origin:      n.origin,
		SeqNo:       seq,
		Join:        join,
		Replacement: replacement,
		OneBehind:   oneBehind,
	}, n.Self())
}

func (n *Node) handleMembership(m wire.Membership, from peers.Peer) {
	n.dhtStatus.Register(m.Origin)
	prev := n.dhtStatus[m.Origin]
	if !n.dhtStatus.Update(m.Origin, m.SeqNo, m.Join) {
		// Stale announcement; answer with status like any invalid rumor.
		n.sendStatus(from)
		return
	}
	n.updateRoute(m.Origin, from)
	if m.Origin == n.origin {
		return
	}

	// A repeat of an already recorded announcement changes nothing and is
	// not re-flooded; the sequence numbers bound the flood.
	fresh := m.SeqNo > prev.Seq
	if fresh {
		if m.Join {
			n.processRemoteJoin(m)
		} else {
			n.processRemoteLeave(m)
		}
		fwd := m
		fwd.Broadcast = true
		n.broadcast(fwd, from)
	}

	// A direct (non-flooded) join announcement gets our full membership
	// snapshot back so the newcomer catches up.
	if m.Join && !m.Broadcast {
		n.sendStatusSnapshot(from)
	}
}

func (n *Node) processRemoteJoin(m wire.Membership) {
	if !n.wantsDHT {
		return
	}
	if n.finger.AddMember(m.Origin, n.ringHash(m.Origin)) {
		// Our redundant copies belong to the new immediate successor now.
		n.clearRedundancy()
	}
	if !n.joinedDHT {
		n.joinedDHT = true
		n.emit(Event{Kind: EventJoinedDHT})
		logger.Sugar.Infof("[DHT] joined at ring position %d via %s", n.finger.SelfHash(), m.Origin)
		n.announceMembership(true, "", "")
	}
}

func (n *Node) processRemoteLeave(m wire.Membership) {
	if m.Replacement == "" {
		return
	}
	n.finger.Replace(m.Origin, m.Replacement, n.ringHash(m.Replacement))

	if m.Replacement != n.origin || !n.joinedDHT {
		return
	}
	// We inherit the leaver's interval: adopt its predecessor and push
	// redundant copies of everything we own to it.
	if m.OneBehind != "" && m.OneBehind != n.origin {
		n.finger.SetOneBehind(m.OneBehind, n.ringHash(m.OneBehind))
	}
	for _, name := range n.archive.Names(files.Primary) {
		if f, ok := n.archive.Get(files.Primary, name); ok {
			n.pushRedundancy(f)
		}
	}
}

// sendStatusSnapshot unicasts the recorded membership state, entry by
// entry, as flood-marked announcements that the receiver will not answer.
func (n *Node) sendStatusSnapshot(to peers.Peer) {
	for origin, st := range n.dhtStatus {
		if st.Seq == 0 {
			continue
		}
		n.send(wire.Membership{
			Origin:    origin,
			SeqNo:     st.Seq,
			Join:      st.Join,
			Broadcast: true,
		}, to)
	}
}

// placeInDHT routes a freshly shared file to its owner on the ring, or
// stores it here when this node is the owner.
func (n *Node) placeInDHT(f files.File) error {
	k := n.ringHash(f.Name)
	if n.finger.Owns(k) {
		return n.storePrimaryCopy(f)
	}
	logger.Sugar.Infof("[DHT] %s (hash %d) belongs elsewhere, sending transfer", f.Name, k)
	n.sendThroughFingerTable(wire.TransferRequest{
		Origin:        n.origin,
		FileName:      f.Name,
		FileHash:      uint32(k),
		BlockListHash: f.MetaHash,
	})
	return nil
}

// storePrimaryCopy copies a locally shared file into the DHT-primary
// archive and pushes a redundant copy to the predecessor.
func (n *Node) storePrimaryCopy(f files.File) error {
	if f.DHTCostKB() > n.dhtLimitKB {
		return fmt.Errorf("no capacity for %s (%d KB > %d KB)", f.Name, f.DHTCostKB(), n.dhtLimitKB)
	}
	dst := filepath.Join(n.cfg.DownloadDir, "dht_"+f.Name)
	if err := copyFile(f.Path, dst); err != nil {
		return fmt.Errorf("failed to copy %s into the DHT archive: %w", f.Name, err)
	}
	pf := f
	pf.Path = dst
	if n.archive.Add(files.Primary, pf) {
		n.recent.Touch(pf.Name)
		n.evictToFit()
		n.pushRedundancy(pf)
	}
	logger.Sugar.Infof("[DHT] stored %s as primary owner", f.Name)
	return nil
}

// pushRedundancy asks the predecessor to pull a redundant copy of f.
func (n *Node) pushRedundancy(f files.File) {
	behind := n.finger.OneBehind
	if behind == "" || behind == n.origin {
		return
	}
	req := wire.TransferRequest{
		Origin:        n.origin,
		FileName:      f.Name,
		FileHash:      uint32(n.ringHash(f.Name)),
		BlockListHash: f.MetaHash,
		Redundant:     behind,
	}
	if hop, ok := n.routes.NextHop(behind); ok {
		n.send(req, hop)
	} else {
		logger.Sugar.Warnf("[DHT] no route to predecessor %s for redundancy", behind)
	}
}

// sendThroughFingerTable forwards a transfer request to the finger
// occupant responsible for its hash.
func (n *Node) sendThroughFingerTable(req wire.TransferRequest) {
	owner := n.finger.PeerFromHash(int(req.FileHash))
	if owner == "" {
		logger.Sugar.Warnf("[DHT] no finger covers hash %d, dropping transfer of %s",
			req.FileHash, req.FileName)
		return
	}
	hop, ok := n.routes.NextHop(owner)
	if !ok {
		logger.Sugar.Warnf("[DHT] no route to %s for transfer of %s", owner, req.FileName)
		return
	}
	n.send(req, hop)
}

// handleTransfer decides what to do with a custody request: pull the file,
// pass it along the redundancy path, or re-route it around the ring.
func (n *Node) handleTransfer(t wire.TransferRequest) {
	if t.Origin == n.origin {
		return
	}

	if t.Redundant != "" {
		if t.Redundant == n.origin {
			n.fetchTransfer(t, files.RedundantFetch)
			return
		}
		if hop, ok := n.routes.NextHop(t.Redundant); ok {
			n.send(t, hop)
		}
		return
	}

	if !n.joinedDHT {
		logger.Sugar.Debugf("[DHT] ignoring transfer of %s, not in the DHT", t.FileName)
		return
	}
	if n.finger.Owns(int(t.FileHash)) {
		n.fetchTransfer(t, files.PrimaryFetch)
		return
	}
	n.sendThroughFingerTable(t)
}

// fetchTransfer pulls the file's blocks from the transfer's sender. The
// single download slot serializes fetches; extra requests wait their turn.
func (n *Node) fetchTransfer(t wire.TransferRequest, mode files.Mode) {
	kind := files.Primary
	if mode == files.RedundantFetch {
		kind = files.Redundant
	}
	if _, ok := n.archive.Get(kind, t.FileName); ok {
		n.recent.Touch(t.FileName)
		return
	}
	if n.download != nil {
		n.pendingTransfers = append(n.pendingTransfers, t)
		return
	}
	if err := n.startDownload(t.Origin, t.BlockListHash, t.FileName, mode); err != nil {
		logger.Sugar.Warnf("[DHT] cannot fetch %s from %s: %v", t.FileName, t.Origin, err)
	}
}

// clearRedundancy drops every redundant copy, disk files included.
func (n *Node) clearRedundancy() {
	for _, name := range n.archive.Names(files.Redundant) {
		n.archive.EvictDHT(name)
		n.recent.Remove(name)
	}
}

// evictToFit trims the least recently used DHT files until usage fits the
// capacity limit again.
func (n *Node) evictToFit() {
	for n.archive.DHTUsageKB() > n.dhtLimitKB {
		name, ok := n.recent.Oldest()
		if !ok {
			return
		}
		n.archive.EvictDHT(name)
		n.recent.Remove(name)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
