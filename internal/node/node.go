// ABOUTME: Main daemon node for the NetClocks protocol
// ABOUTME: Composes transport, registry, sample store, estimator and clock
package node

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/clock"
	"github.com/NetClocks-Protocol/netclocks-go/internal/estimator"
	"github.com/NetClocks-Protocol/netclocks-go/internal/protocol"
	"github.com/NetClocks-Protocol/netclocks-go/internal/registry"
	"github.com/NetClocks-Protocol/netclocks-go/internal/sample"
	"github.com/NetClocks-Protocol/netclocks-go/internal/scheduler"
	"github.com/NetClocks-Protocol/netclocks-go/internal/transport"
	"github.com/google/uuid"
)

// Wire is the transport surface the node needs. Satisfied by *transport.UDP
// in production and by a fake in tests.
type Wire interface {
	Send(addr *net.UDPAddr, data []byte) error
	Packets() <-chan transport.Packet
	LocalAddr() *net.UDPAddr
}

// Config holds the node's runtime configuration.
type Config struct {
	Name string

	// Bootstrap targets. PeerAddress/PeerPort get a HELLO; Peers get a
	// direct CONNECT.
	PeerAddress string
	PeerPort    int
	Peers       []string

	ProbeTimeout      time.Duration
	BroadcastInterval time.Duration
	SyncTimeout       time.Duration
	MaxStepMs         int64
	SampleWindow      int

	Scheduler scheduler.Config
	Registry  registry.Config
	Estimator estimator.Config
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout:      5 * time.Second,
		BroadcastInterval: 5 * time.Second,
		SyncTimeout:       20 * time.Second,
		MaxStepMs:         clock.DefaultMaxStepMs,
		SampleWindow:      sample.DefaultWindow,
		Scheduler:         scheduler.DefaultConfig(),
		Registry:          registry.DefaultConfig(),
		Estimator:         estimator.DefaultConfig(),
	}
}

// inboundExchange tracks a DELAY_REQUEST we sent in response to a peer's
// SYNC_START, waiting for the matching DELAY_RESPONSE.
type inboundExchange struct {
	level     byte  // level the peer advertised in SYNC_START
	localSend int64 // raw local clock when our DELAY_REQUEST went out
	deadline  time.Time
}

// Node is one participant in the sync mesh.
type Node struct {
	config Config
	nodeID string

	wire  Wire
	reg   *registry.Registry
	store *sample.Store
	local *clock.LocalClock
	ctrl  *clock.Controller
	sched *scheduler.Scheduler

	// Sync state
	mu          sync.RWMutex
	syncLevel   byte
	leader      bool
	source      string // registry id of our upstream source, "" when none
	lastSource  time.Time
	inbound     map[string]*inboundExchange
	probes      map[string]chan probeReply
	broadcastCh chan struct{}

	startTime time.Time
	wg        sync.WaitGroup
}

type probeReply struct {
	level      byte
	remoteTime int64
	receivedAt time.Time
}

// New creates a node over an already-listening wire.
func New(config Config, wire Wire) *Node {
	local := clock.NewLocalClock()
	n := &Node{
		config:      config,
		nodeID:      uuid.New().String(),
		wire:        wire,
		reg:         registry.New(config.Registry),
		store:       sample.NewStore(config.SampleWindow),
		local:       local,
		ctrl:        clock.NewController(local, config.MaxStepMs),
		syncLevel:   protocol.LevelUnsynchronized,
		inbound:     make(map[string]*inboundExchange),
		probes:      make(map[string]chan probeReply),
		broadcastCh: make(chan struct{}, 1),
		startTime:   time.Now(),
	}
	n.sched = scheduler.New(config.Scheduler, n.reg, n.probePeer)
	return n
}

// ID returns the node's instance id.
func (n *Node) ID() string {
	return n.nodeID
}

// Run processes messages until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	log.Printf("Node %s listening on %s", n.nodeID, n.wire.LocalAddr())

	n.bootstrap()

	n.wg.Add(3)
	go func() {
		defer n.wg.Done()
		n.sched.Run(ctx)
	}()
	go func() {
		defer n.wg.Done()
		n.broadcastLoop(ctx)
	}()
	go func() {
		defer n.wg.Done()
		n.watchdogLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			n.wg.Wait()
			log.Printf("Node %s stopped", n.nodeID)
			return
		case pkt, ok := <-n.wire.Packets():
			if !ok {
				n.wg.Wait()
				return
			}
			n.handlePacket(pkt)
		}
	}
}

// bootstrap sends the initial handshake traffic to configured peers.
func (n *Node) bootstrap() {
	if n.config.PeerAddress != "" && n.config.PeerPort > 0 {
		addr := &net.UDPAddr{
			IP:   net.ParseIP(n.config.PeerAddress),
			Port: n.config.PeerPort,
		}
		if addr.IP == nil {
			log.Printf("Invalid bootstrap peer address %q", n.config.PeerAddress)
		} else {
			n.reg.Register(addr)
			n.send(addr, protocol.EncodeEmpty(protocol.MsgHello))
		}
	}

	for _, target := range n.config.Peers {
		addr, err := net.ResolveUDPAddr("udp", target)
		if err != nil {
			log.Printf("Invalid configured peer %q: %v", target, err)
			continue
		}
		n.reg.Register(addr)
		n.send(addr, protocol.EncodeEmpty(protocol.MsgConnect))
	}
}

// AddPeer registers a discovered peer and opens a connection to it.
func (n *Node) AddPeer(addr *net.UDPAddr) {
	if _, err := n.reg.Get(registry.ID(addr)); err == nil {
		return
	}
	n.reg.Register(addr)
	n.send(addr, protocol.EncodeEmpty(protocol.MsgConnect))
}

func (n *Node) send(addr *net.UDPAddr, data []byte) {
	if err := n.wire.Send(addr, data); err != nil {
		log.Printf("Send to %s failed: %v", addr, err)
	}
}

// nowMillis returns the node's current notion of time: the adjusted clock
// when synced, milliseconds since process start otherwise. The controller
// applies a zero offset while unsynchronized, so both cases read through it.
// This timeline is for SERVING time only; measurement samples are stamped on
// the raw local clock so their offsets stay absolute.
func (n *Node) nowMillis() int64 {
	ms, _ := n.ctrl.Now()
	return ms
}

// Level returns the node's current sync level.
func (n *Node) Level() byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.syncLevel
}

// Status is a point-in-time snapshot of the node for reporting surfaces.
type Status struct {
	NodeID     string          `json:"node_id"`
	Name       string          `json:"name,omitempty"`
	Address    string          `json:"address"`
	SyncLevel  byte            `json:"sync_level"`
	Leader     bool            `json:"leader"`
	Synced     bool            `json:"synced"`
	TimeMs     int64           `json:"time_ms"`
	OffsetMs   int64           `json:"offset_ms"`
	Confidence float64         `json:"confidence"`
	Source     string          `json:"source,omitempty"`
	UptimeSec  int64           `json:"uptime_sec"`
	Peers      []registry.Peer `json:"peers"`
}

// Status snapshots the node state.
func (n *Node) Status() Status {
	n.mu.RLock()
	level := n.syncLevel
	leader := n.leader
	source := n.source
	n.mu.RUnlock()

	return Status{
		NodeID:     n.nodeID,
		Name:       n.config.Name,
		Address:    n.wire.LocalAddr().String(),
		SyncLevel:  level,
		Leader:     leader,
		Synced:     n.ctrl.Synced(),
		TimeMs:     n.nowMillis(),
		OffsetMs:   n.ctrl.Offset(),
		Confidence: n.ctrl.Confidence(),
		Source:     source,
		UptimeSec:  int64(time.Since(n.startTime).Seconds()),
		Peers:      n.reg.All(),
	}
}
