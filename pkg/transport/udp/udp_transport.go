package udp

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"rmeyers/peerster/pkg/logger"
	"rmeyers/peerster/pkg/peers"
	"rmeyers/peerster/pkg/transport"
)

// maxDatagram bounds a single read. Blocks are at most 8000 bytes, so this
// leaves generous headroom for the envelope.
const maxDatagram = 64 * 1024

// PortRange returns the four consecutive UDP ports this user's nodes try,
// computed from the Unix user ID. Up to four instances per user find each
// other on the same host without configuration.
func PortRange() (min, max uint16) {
	min = uint16(32768 + (os.Getuid()%4096)*4)
	return min, min + 3
}

// UDPTransport implements transport.Transport over a single datagram socket.
type UDPTransport struct {
	conn        *net.UDPConn
	self        peers.Peer
	datagramCh  chan transport.Datagram
	readStopped chan struct{}
}

// NewUDPTransport binds the first free port in [portMin, portMax] on all
// IPv4 interfaces; Self reports it as 127.0.0.1. Fails when every port in
// the range is taken.
func NewUDPTransport(portMin, portMax uint16) (*UDPTransport, error) {
	for port := portMin; port <= portMax; port++ {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
		if err != nil {
			continue
		}
		logger.Sugar.Infof("[Transport] bound to UDP port %d", port)
		return &UDPTransport{
			conn:        conn,
			self:        peers.New(netip.MustParseAddr("127.0.0.1"), port),
			datagramCh:  make(chan transport.Datagram, 1024),
			readStopped: make(chan struct{}),
		}, nil
	}
	return nil, fmt.Errorf("no ports free in default range %d-%d", portMin, portMax)
}

// Listen starts the background read loop.
func (t *UDPTransport) Listen() error {
	go t.readLoop()
	return nil
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			close(t.readStopped)
			close(t.datagramCh)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.datagramCh <- transport.Datagram{From: peers.FromUDPAddr(src), Data: data}
	}
}

func (t *UDPTransport) Consume() <-chan transport.Datagram {
	return t.datagramCh
}

func (t *UDPTransport) Send(to peers.Peer, data []byte) error {
	_, err := t.conn.WriteToUDP(data, to.UDPAddr())
	return err
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func (t *UDPTransport) Self() peers.Peer {
	return t.self
}
