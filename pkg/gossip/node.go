package gossip

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"rmeyers/peerster/pkg/config"
	"rmeyers/peerster/pkg/dht"
	"rmeyers/peerster/pkg/files"
	"rmeyers/peerster/pkg/logger"
	"rmeyers/peerster/pkg/monitor"
	"rmeyers/peerster/pkg/peers"
	"rmeyers/peerster/pkg/search"
	"rmeyers/peerster/pkg/transport"
	"rmeyers/peerster/pkg/wire"
)

const (
	mongerTimeout     = 2 * time.Second
	retransmitPeriod  = 2 * time.Second
	entropyPeriod     = 10 * time.Second
	routePeriod       = 60 * time.Second
	searchExpandAfter = 1 * time.Second
)

// Node is the protocol core: one UDP socket, one event loop, and every
// piece of gossip, routing, file and DHT state. All state is owned by the
// loop goroutine; the shell talks to it through the command surface and
// listens on the event stream.
type Node struct {
	origin    string
	noForward bool
	trans     transport.Transport
	cfg       *config.Config
	rng       *rand.Rand

	seqNo    uint32 // next rumor sequence to claim
	dhtSeqNo uint32

	table  *peers.Table
	rumors *RumorStore
	routes *RoutingTable

	// FIFO of outstanding monger timers; the head is the oldest.
	mongers []*time.Timer

	archive    *files.Archive
	download   *files.Download
	dlDest     peers.Peer
	retransmit *time.Timer
	// Transfer requests parked while the single download slot is busy.
	pendingTransfers []wire.TransferRequest

	active      *search.Active
	searchTimer *time.Timer

	wantsDHT   bool
	joinedDHT  bool
	finger     *dht.FingerTable
	dhtStatus  dht.StatusMap
	recent     *dht.RecentList
	dhtLimitKB int64

	loopCh chan func()
	events chan Event
	quit   chan struct{}
}

// NewNode assembles a node on an already bound transport. The origin ID is
// the given name, the bound port, and a pseudo-random suffix, which makes
// collisions across restarts and hosts implausible.
func NewNode(name string, trans transport.Transport, noForward bool) *Node {
	cfg := config.GetConfig()
	self := trans.Self()
	origin := fmt.Sprintf("%s%d-%s", name, self.Port, uuid.NewString()[:8])

	limit := int64(cfg.DHTLimitKB/20) * 20
	if limit == 0 {
		limit = config.DefaultDHTLimitKB
	}

	n := &Node{
		origin:     origin,
		noForward:  noForward,
		trans:      trans,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		seqNo:      1,
		dhtSeqNo:   1,
		table:      peers.NewTable(),
		rumors:     NewRumorStore(),
		routes:     NewRoutingTable(),
		archive:    files.NewArchive(),
		finger:     dht.New(origin, cfg.RingSpots),
		dhtStatus:  make(dht.StatusMap),
		recent:     dht.NewRecentList(),
		dhtLimitKB: limit,
		loopCh:     make(chan func(), 64),
		events:     make(chan Event, 256),
		quit:       make(chan struct{}),
	}
	n.rumors.Register(origin)
	logger.Sugar.Infof("[Gossiper] node %s on %s (noforward=%v)", origin, self, noForward)
	return n
}

// Origin returns the node's origin ID.
func (n *Node) Origin() string {
	return n.origin
}

// Self returns the bound peer identity.
func (n *Node) Self() peers.Peer {
	return n.trans.Self()
}

// Events exposes the notification stream consumed by the shell.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Run drives the event loop until Stop. It announces the node with a
// single route rumor, then serves datagrams, posted commands, and the
// recurring anti-entropy and route timers.
func (n *Node) Run() {
	n.broadcastRoute()

	entropy := time.NewTicker(entropyPeriod)
	defer entropy.Stop()
	route := time.NewTicker(routePeriod)
	defer route.Stop()

	for {
		select {
		case dg, ok := <-n.trans.Consume():
			if !ok {
				return
			}
			n.handleDatagram(dg)
		case fn := <-n.loopCh:
			fn()
		case <-entropy.C:
			n.antiEntropy()
		case <-route.C:
			n.broadcastRoute()
		case <-n.quit:
			return
		}
	}
}

// Stop shuts the loop and the socket down.
func (n *Node) Stop() {
	close(n.quit)
	n.trans.Close()
}

// post hands a closure to the event loop.
func (n *Node) post(fn func()) {
	select {
	case n.loopCh <- fn:
	case <-n.quit:
	}
}

// call runs a closure on the event loop and waits for its error.
func (n *Node) call(fn func() error) error {
	done := make(chan error, 1)
	n.post(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-n.quit:
		return fmt.Errorf("node stopped")
	}
}

func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		logger.Sugar.Warnf("[Gossiper] event stream full, dropping %v", ev.Kind)
	}
}

// send encodes and transmits one message. A non-forwarding node lets its
// own messages, statuses and routes through but refuses to pass other
// origins' chat along.
func (n *Node) send(msg wire.Message, to peers.Peer) {
	if n.noForward && n.carriesForeignChat(msg) {
		return
	}
	data, err := wire.Encode(msg)
	if err != nil {
		logger.Sugar.Errorf("[Gossiper] encode failed: %v", err)
		return
	}
	if err := n.trans.Send(to, data); err != nil {
		logger.Sugar.Warnf("[Gossiper] send to %s failed: %v", to, err)
		return
	}
	monitor.Global.CountSent(len(data))
}

func (n *Node) carriesForeignChat(msg wire.Message) bool {
	switch m := msg.(type) {
	case wire.Rumor:
		return !m.IsRoute() && m.Origin != n.origin
	case wire.P2P:
		_, isChat := m.Payload.(wire.Chat)
		return isChat && m.Origin != n.origin
	}
	return false
}

func (n *Node) sendStatus(to peers.Peer) {
	n.send(wire.Status{Want: n.rumors.Status()}, to)
}

// broadcast sends the message to every known peer except the one it came
// from.
func (n *Node) broadcast(msg wire.Message, except peers.Peer) {
	for _, p := range n.table.All() {
		if p != except {
			n.send(msg, p)
		}
	}
}

// broadcastRoute originates one route rumor and sends it to all peers.
func (n *Node) broadcastRoute() {
	r := wire.Rumor{Origin: n.origin, SeqNo: n.seqNo}
	n.seqNo++
	n.rumors.Accept(r)
	logger.Sugar.Debugf("[Gossiper] broadcasting route rumor seq %d", r.SeqNo)
	n.broadcast(r, n.Self())
}

// monger forwards the rumor to a random peer other than the excluded one
// and arms a slot in the FIFO timer list.
func (n *Node) monger(r wire.Rumor, exclude peers.Peer) {
	p, ok := n.table.PickRandomExcluding(n.rng, exclude)
	if !ok {
		return
	}
	logger.Sugar.Debugf("[Gossiper] mongering %s/%d to %s", r.Origin, r.SeqNo, p)
	n.send(r, p)
	t := time.AfterFunc(mongerTimeout, func() {
		n.post(n.mongerTimedOut)
	})
	n.mongers = append(n.mongers, t)
}

// popMonger frees the oldest outstanding monger slot.
func (n *Node) popMonger() {
	if len(n.mongers) == 0 {
		return
	}
	n.mongers[0].Stop()
	n.mongers = n.mongers[1:]
}

func (n *Node) mongerTimedOut() {
	if len(n.mongers) == 0 {
		return
	}
	n.mongers = n.mongers[1:]
	n.coinFlip(n.Self())
}

// coinFlip continues rumormongering with probability 1/2 by sending the
// status to a fresh random peer.
func (n *Node) coinFlip(exclude peers.Peer) {
	if n.rng.Intn(2) == 0 {
		if p, ok := n.table.PickRandomExcluding(n.rng, exclude); ok {
			logger.Sugar.Debugf("[Gossiper] coin flip heads, status to %s", p)
			n.sendStatus(p)
		}
	}
}

func (n *Node) antiEntropy() {
	if p, ok := n.table.PickRandomExcluding(n.rng, n.Self()); ok {
		n.sendStatus(p)
	}
}

// --- Command surface (called from the shell goroutine) ---

// Say originates a public chat rumor and starts mongering it.
func (n *Node) Say(text string) {
	n.post(func() {
		r := wire.Rumor{Origin: n.origin, SeqNo: n.seqNo, Text: &text}
		n.seqNo++
		n.rumors.Accept(r)
		n.monger(r, n.Self())
	})
}

// SendPrivate delivers a private chat message point-to-point.
func (n *Node) SendPrivate(dest, text string) error {
	return n.call(func() error {
		hop, ok := n.routes.NextHop(dest)
		if !ok {
			return fmt.Errorf("unknown target node %s", dest)
		}
		msg := wire.P2P{
			Origin:   n.origin,
			Dest:     dest,
			HopLimit: wire.DefaultHopLimit,
			Payload:  wire.Chat{Text: text},
		}
		n.send(msg, hop)
		return nil
	})
}

// AddPeer learns a host:port token and re-announces the node's route to
// everyone. Hostnames resolve in the background.
func (n *Node) AddPeer(arg string) error {
	err := peers.Resolve(arg, func(p peers.Peer) {
		n.post(func() {
			if p != n.Self() {
				n.table.Learn(p)
			}
		})
	})
	if err != nil {
		return err
	}
	n.post(n.broadcastRoute)
	return nil
}

// LearnPeer inserts a peer directly; used by LAN discovery.
func (n *Node) LearnPeer(p peers.Peer) {
	n.post(func() {
		if p != n.Self() {
			n.table.Learn(p)
		}
	})
}

// Share indexes a file into the local archive and, when the node is in the
// DHT, places it on the ring.
func (n *Node) Share(path string) error {
	f, err := files.Index(path)
	if err != nil {
		return err
	}
	return n.call(func() error {
		n.archive.Add(files.Local, f)
		if n.joinedDHT {
			return n.placeInDHT(f)
		}
		return nil
	})
}

// StartSearch begins a budgeted expanding-ring search.
func (n *Node) StartSearch(query string) {
	n.post(func() {
		if n.searchTimer != nil {
			n.searchTimer.Stop()
		}
		n.active = search.NewActive(query)
		n.sendByBudget(wire.SearchRequest{Origin: n.origin, Query: query, Budget: search.DefaultBudget})
		n.searchTimer = time.AfterFunc(searchExpandAfter, func() {
			n.post(n.expandSearch)
		})
	})
}

func (n *Node) expandSearch() {
	if n.active == nil {
		return
	}
	budget, resend := n.active.Expand()
	if !resend {
		logger.Sugar.Infof("[Search] done: %d results, budget %d", n.active.Count(), budget)
		n.emit(Event{Kind: EventSearchDone, Text: n.active.Query})
		return
	}
	logger.Sugar.Infof("[Search] increased budget to %d", budget)
	n.sendByBudget(wire.SearchRequest{Origin: n.origin, Query: n.active.Query, Budget: budget})
	n.searchTimer = time.AfterFunc(searchExpandAfter, func() {
		n.post(n.expandSearch)
	})
}

// sendByBudget distributes a search request across all peers, splitting
// the budget; peers assigned zero are skipped.
func (n *Node) sendByBudget(req wire.SearchRequest) {
	all := n.table.All()
	budgets := search.SplitBudget(req.Budget, len(all))
	for i, b := range budgets {
		if b == 0 {
			continue
		}
		req.Budget = b
		logger.Sugar.Debugf("[Search] sent %q to %s with budget %d", req.Query, all[i], b)
		n.send(req, all[i])
	}
}

// Download starts a user download of the file with the given metafile hash
// from target. Only one download may run at a time.
func (n *Node) Download(target string, metaHash []byte, name string) error {
	return n.call(func() error {
		return n.startDownload(target, metaHash, name, files.UserDownload)
	})
}

// DownloadFromResults resolves a filename from the current search results
// and downloads it from the origin that reported it.
func (n *Node) DownloadFromResults(name string) error {
	return n.call(func() error {
		if n.active == nil {
			return fmt.Errorf("no search results")
		}
		res, ok := n.active.Lookup(name)
		if !ok {
			return fmt.Errorf("no search result named %s", name)
		}
		return n.startDownload(res.Origin, res.MetaHash, name, files.UserDownload)
	})
}

// SearchNames lists the current search's results in arrival order.
func (n *Node) SearchNames() []string {
	var names []string
	n.call(func() error {
		if n.active != nil {
			names = n.active.Names()
		}
		return nil
	})
	return names
}

// SetDHT turns DHT participation on or off.
func (n *Node) SetDHT(join bool) error {
	return n.call(func() error {
		if join {
			return n.joinDHT()
		}
		return n.leaveDHT()
	})
}

// KnownOrigins lists the origins reachable through the routing table.
func (n *Node) KnownOrigins() []string {
	var origins []string
	n.call(func() error {
		origins = n.routes.Origins()
		return nil
	})
	return origins
}

// PeerList returns the known peers as strings.
func (n *Node) PeerList() []string {
	var list []string
	n.call(func() error {
		for _, p := range n.table.All() {
			list = append(list, p.String())
		}
		return nil
	})
	return list
}

// Status summarizes the node for the shell.
func (n *Node) Status() string {
	var b strings.Builder
	n.call(func() error {
		fmt.Fprintf(&b, "origin: %s\n", n.origin)
		fmt.Fprintf(&b, "peers: %d, origins: %d\n", n.table.Len(), len(n.routes.Origins()))
		fmt.Fprintf(&b, "files: %d local, %d dht-primary, %d dht-redundant (%d/%d KB)\n",
			len(n.archive.Names(files.Local)), len(n.archive.Names(files.Primary)),
			len(n.archive.Names(files.Redundant)), n.archive.DHTUsageKB(), n.dhtLimitKB)
		fmt.Fprintf(&b, "downloading: %v, dht joined: %v", n.download != nil, n.joinedDHT)
		return nil
	})
	return b.String()
}
