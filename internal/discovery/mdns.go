// ABOUTME: mDNS peer discovery for NetClocks nodes
// ABOUTME: Every node both advertises itself and browses for others
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/hashicorp/mdns"
)

const serviceType = "_netclocks._udp"

// Config holds discovery configuration
type Config struct {
	InstanceName string // unique per node, typically the node id
	Port         int    // UDP sync port being advertised
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	peers  chan *PeerInfo
}

// PeerInfo describes a discovered node
type PeerInfo struct {
	Name string
	Host string
	Port int
}

// Addr converts the discovery record to a dialable UDP address, or nil when
// the host does not parse.
func (p *PeerInfo) Addr() *net.UDPAddr {
	ip := net.ParseIP(p.Host)
	if ip == nil {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: p.Port}
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(chan *PeerInfo, 10),
	}
}

// Advertise announces this node via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.InstanceName,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"proto=netclocks"},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d", m.config.InstanceName, m.config.Port)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for other NetClocks nodes
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for nodes
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				if entry.AddrV4 == nil {
					continue
				}
				// Skip our own advertisement.
				if entry.Name == m.config.InstanceName+"."+serviceType+".local." {
					continue
				}

				peer := &PeerInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
				}

				log.Printf("Discovered peer: %s at %s:%d", peer.Name, peer.Host, peer.Port)

				select {
				case m.peers <- peer:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: serviceType,
			Domain:  "local",
			Timeout: 3 * time.Second,
			Entries: entries,
		}

		mdns.Query(params)
		close(entries)
	}
}

// Peers returns the channel of discovered nodes
func (m *Manager) Peers() <-chan *PeerInfo {
	return m.peers
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
