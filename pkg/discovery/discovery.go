package discovery

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/grandcat/zeroconf"

	"rmeyers/peerster/pkg/logger"
	"rmeyers/peerster/pkg/peers"
)

const (
	// ServiceType defines the mDNS service type for peerster nodes
	ServiceType = "_peerster._udp"
	// Domain is the local domain for mDNS
	Domain = "local."
)

// ServiceInfo describes a node found on the LAN.
type ServiceInfo struct {
	InstanceName string
	Origin       string
	Port         int
	IPs          []string
}

// Advertiser broadcasts this node's presence so LAN peers can learn it
// without manual host:port configuration.
type Advertiser struct {
	server *zeroconf.Server
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start begins broadcasting the node under its origin ID.
func (a *Advertiser) Start(origin string, port int) error {
	server, err := zeroconf.Register(
		origin,
		ServiceType,
		Domain,
		port,
		[]string{fmt.Sprintf("origin=%s", origin)},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server
	return nil
}

// Stop stops broadcasting the service
func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Resolver browses for other nodes on the LAN.
type Resolver struct {
	resolver *zeroconf.Resolver
}

func NewResolver() (*Resolver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return &Resolver{resolver: resolver}, nil
}

// Browse scans for nodes until the context is canceled and returns a
// channel of discoveries.
func (r *Resolver) Browse(ctx context.Context) (<-chan *ServiceInfo, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan *ServiceInfo, 10)

	if err := r.resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse services: %w", err)
	}

	go func() {
		defer close(results)

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}

				info := &ServiceInfo{
					InstanceName: entry.Instance,
					Port:         entry.Port,
				}
				for _, ip := range entry.AddrIPv4 {
					info.IPs = append(info.IPs, ip.String())
				}
				for _, record := range entry.Text {
					parts := strings.SplitN(record, "=", 2)
					if len(parts) == 2 && parts[0] == "origin" {
						info.Origin = parts[1]
					}
				}

				if len(info.IPs) > 0 {
					logger.Sugar.Infof("[Discovery] found node %s at %v:%d",
						info.Origin, info.IPs, info.Port)
					results <- info
				}
			}
		}
	}()

	return results, nil
}

// LearnLoop feeds browse results into the node's peer table until the
// context ends.
func LearnLoop(ctx context.Context, learn func(peers.Peer)) error {
	resolver, err := NewResolver()
	if err != nil {
		return err
	}
	ch, err := resolver.Browse(ctx)
	if err != nil {
		return err
	}
	go func() {
		for info := range ch {
			for _, ip := range info.IPs {
				addr, err := netip.ParseAddr(ip)
				if err != nil {
					continue
				}
				learn(peers.New(addr, uint16(info.Port)))
			}
		}
	}()
	return nil
}
