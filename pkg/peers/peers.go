package peers

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"rmeyers/peerster/pkg/logger"
)

// Peer identifies a remote node by address and port. It is a value type;
// two peers are equal iff host and port match.
type Peer struct {
	Host netip.Addr
	Port uint16
}

func New(host netip.Addr, port uint16) Peer {
	return Peer{Host: host.Unmap(), Port: port}
}

// FromUDPAddr converts the source address of a received datagram.
func FromUDPAddr(a *net.UDPAddr) Peer {
	addr, _ := netip.AddrFromSlice(a.IP)
	return New(addr, uint16(a.Port))
}

// FromIPv4 builds a peer from a wire-encoded IPv4 address.
func FromIPv4(ip uint32, port uint16) Peer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip)
	return Peer{Host: netip.AddrFrom4(b), Port: port}
}

// IPv4 returns the host as a wire-encodable IPv4 integer. Returns 0 for
// non-IPv4 hosts.
func (p Peer) IPv4() uint32 {
	if !p.Host.Is4() {
		return 0
	}
	b := p.Host.As4()
	return binary.BigEndian.Uint32(b[:])
}

func (p Peer) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: p.Host.AsSlice(), Port: int(p.Port)}
}

func (p Peer) String() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Table is the set of known peers. It is owned by the node's event loop;
// all mutation happens there, so no locking is needed.
type Table struct {
	peers []Peer
}

func NewTable() *Table {
	return &Table{}
}

// Learn inserts the peer if it is not already known. Idempotent.
func (t *Table) Learn(p Peer) bool {
	for _, known := range t.peers {
		if known == p {
			return false
		}
	}
	t.peers = append(t.peers, p)
	logger.Sugar.Infof("[Peers] learned peer %s", p)
	return true
}

// All returns the peers in insertion order. The returned slice is shared;
// callers must not mutate it.
func (t *Table) All() []Peer {
	return t.peers
}

func (t *Table) Len() int {
	return len(t.peers)
}

// PickRandomExcluding selects a peer uniformly at random from the set minus
// the excluded peer. Returns false when no such peer exists.
func (t *Table) PickRandomExcluding(rng *rand.Rand, exclude Peer) (Peer, bool) {
	candidates := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p != exclude {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return Peer{}, false
	}
	return candidates[rng.Intn(len(candidates))], true
}

// ParseArg splits a host:port command-line token. The host may be an IP
// literal or a name that still needs resolution.
func ParseArg(arg string) (host string, port uint16, err error) {
	sections := strings.Split(arg, ":")
	if len(sections) != 2 {
		return "", 0, fmt.Errorf("invalid peer %q", arg)
	}
	p, err := strconv.ParseUint(sections[1], 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid peer port %q: %w", sections[1], err)
	}
	return sections[0], uint16(p), nil
}

// Resolve turns a host:port token into peers. IP literals are delivered to
// the callback synchronously; hostnames are looked up in the background and
// delivered once resolution completes, with the port originally supplied.
func Resolve(arg string, deliver func(Peer)) error {
	host, port, err := ParseArg(arg)
	if err != nil {
		return err
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		deliver(New(addr, port))
		return nil
	}
	go func() {
		ips, err := net.LookupIP(host)
		if err != nil {
			logger.Sugar.Warnf("[Peers] lookup of %s failed: %v", host, err)
			return
		}
		for _, ip := range ips {
			if addr, ok := netip.AddrFromSlice(ip); ok {
				deliver(New(addr, port))
				return
			}
		}
	}()
	return nil
}
