// ABOUTME: Inbound datagram dispatch for the node
// ABOUTME: One handler per protocol message type
package node

import (
	"log"
	"net"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/protocol"
	"github.com/NetClocks-Protocol/netclocks-go/internal/registry"
	"github.com/NetClocks-Protocol/netclocks-go/internal/sample"
	"github.com/NetClocks-Protocol/netclocks-go/internal/transport"
)

func (n *Node) handlePacket(pkt transport.Packet) {
	msg, err := protocol.Decode(pkt.Data)
	if err != nil {
		log.Printf("ERROR MSG: %v from %s", err, pkt.Addr)
		return
	}

	switch msg.Type {
	case protocol.MsgHello:
		n.handleHello(pkt.Addr)
	case protocol.MsgHelloReply:
		n.handleHelloReply(pkt.Addr, msg)
	case protocol.MsgConnect:
		n.handleConnect(pkt.Addr)
	case protocol.MsgAckConnect:
		n.handleAckConnect(pkt.Addr)
	case protocol.MsgSyncStart:
		n.handleSyncStart(pkt, msg)
	case protocol.MsgDelayRequest:
		n.handleDelayRequest(pkt.Addr)
	case protocol.MsgDelayResponse:
		n.handleDelayResponse(pkt, msg)
	case protocol.MsgLeader:
		n.handleLeader(pkt.Addr, msg)
	case protocol.MsgGetTime:
		n.handleGetTime(pkt.Addr)
	case protocol.MsgTime:
		// TIME is a reply to GET_TIME clients, not daemon traffic.
		log.Printf("ERROR MSG: unexpected TIME from %s", pkt.Addr)
	}
}

// handleHello registers the sender and returns the known active peers,
// excluding the sender itself.
func (n *Node) handleHello(addr *net.UDPAddr) {
	n.reg.Register(addr)
	senderID := registry.ID(addr)

	var records []protocol.PeerRecord
	for _, p := range n.reg.ListActive() {
		if p.ID == senderID {
			continue
		}
		records = append(records, protocol.RecordFromAddr(p.Addr))
	}

	n.send(addr, protocol.EncodeHelloReply(records))
}

// handleHelloReply registers every advertised peer and connects to each.
func (n *Node) handleHelloReply(addr *net.UDPAddr, msg protocol.Message) {
	n.reg.Register(addr)
	n.send(addr, protocol.EncodeEmpty(protocol.MsgConnect))

	for _, rec := range msg.Peers {
		peerAddr, err := net.ResolveUDPAddr("udp", rec.HostPort())
		if err != nil {
			log.Printf("Unresolvable peer %q from %s: %v", rec.HostPort(), addr, err)
			continue
		}
		if registry.ID(peerAddr) == registry.ID(n.wire.LocalAddr()) {
			continue
		}
		n.reg.Register(peerAddr)
		n.send(peerAddr, protocol.EncodeEmpty(protocol.MsgConnect))
	}
}

func (n *Node) handleConnect(addr *net.UDPAddr) {
	n.reg.Register(addr)
	n.reg.MarkConnected(registry.ID(addr))
	n.send(addr, protocol.EncodeEmpty(protocol.MsgAckConnect))
}

func (n *Node) handleAckConnect(addr *net.UDPAddr) {
	n.reg.MarkConnected(registry.ID(addr))
}

// handleSyncStart decides whether the sender qualifies as a time source and,
// if so, opens a delay exchange with it.
func (n *Node) handleSyncStart(pkt transport.Packet, msg protocol.Message) {
	senderID := registry.ID(pkt.Addr)
	if _, err := n.reg.Get(senderID); err != nil {
		log.Printf("ERROR MSG: SYNC_START from unregistered peer %s", pkt.Addr)
		return
	}
	n.reg.SetSyncLevel(senderID, msg.SyncLevel)

	if !n.usableSource(senderID, msg.SyncLevel) {
		return
	}

	n.mu.Lock()
	n.inbound[senderID] = &inboundExchange{
		level:     msg.SyncLevel,
		localSend: n.local.NowMillis(),
		deadline:  time.Now().Add(n.config.ProbeTimeout),
	}
	n.mu.Unlock()

	n.send(pkt.Addr, protocol.EncodeEmpty(protocol.MsgDelayRequest))
}

// usableSource reports whether a peer at the given level may drive our
// clock. A peer one level above us is only acceptable when it already is
// our source; anyone else must be strictly better.
func (n *Node) usableSource(senderID string, level byte) bool {
	if level >= protocol.LevelUnsynchronized-1 {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.leader {
		return false
	}
	if level+1 < n.syncLevel {
		return true
	}
	return senderID == n.source && level+1 <= n.syncLevel
}

// handleDelayRequest always answers, whatever our own sync state: the
// requester decides whether our level is good enough.
func (n *Node) handleDelayRequest(addr *net.UDPAddr) {
	n.send(addr, protocol.EncodeTimestamped(protocol.MsgDelayResponse, n.Level(), uint64(n.nowMillis())))
}

// handleDelayResponse completes either an inbound sync exchange or an
// outbound scheduled probe. Inbound exchanges take precedence: they carry
// the source's level and may move our clock.
func (n *Node) handleDelayResponse(pkt transport.Packet, msg protocol.Message) {
	senderID := registry.ID(pkt.Addr)

	n.mu.Lock()
	ex, isInbound := n.inbound[senderID]
	if isInbound {
		delete(n.inbound, senderID)
	}
	n.mu.Unlock()

	if isInbound {
		n.completeInbound(senderID, ex, pkt, msg)
		return
	}

	n.mu.Lock()
	ch, isProbe := n.probes[senderID]
	n.mu.Unlock()

	if isProbe {
		select {
		case ch <- probeReply{level: msg.SyncLevel, remoteTime: int64(msg.Timestamp), receivedAt: pkt.ReceivedAt}:
		default:
		}
		return
	}

	log.Printf("ERROR MSG: unsolicited DELAY_RESPONSE from %s", pkt.Addr)
}

func (n *Node) completeInbound(senderID string, ex *inboundExchange, pkt transport.Packet, msg protocol.Message) {
	if time.Now().After(ex.deadline) {
		log.Printf("ERROR MSG: late DELAY_RESPONSE from %s", pkt.Addr)
		return
	}
	if msg.SyncLevel != ex.level {
		log.Printf("ERROR MSG: sync level changed mid-exchange from %s (%d -> %d)",
			pkt.Addr, ex.level, msg.SyncLevel)
		return
	}

	// The exchange reads exactly like a scheduled probe: both remote
	// timestamps come from the DELAY_RESPONSE, the local pair brackets our
	// own DELAY_REQUEST round trip on the raw clock.
	s := sample.Sample{
		T1: ex.localSend,
		T2: int64(msg.Timestamp),
		T3: int64(msg.Timestamp),
		T4: n.local.MillisAt(pkt.ReceivedAt),
		At: pkt.ReceivedAt,
	}
	if err := n.store.Record(senderID, s); err != nil {
		log.Printf("ERROR MSG: invalid exchange timestamps from %s", pkt.Addr)
		return
	}
	n.reg.RecordSuccess(senderID)

	n.adoptSource(senderID, ex.level, s)
}

func (n *Node) handleGetTime(addr *net.UDPAddr) {
	n.send(addr, protocol.EncodeTimestamped(protocol.MsgTime, n.Level(), uint64(n.nowMillis())))
}

func (n *Node) handleLeader(addr *net.UDPAddr, msg protocol.Message) {
	switch msg.LeaderState {
	case protocol.LeaderBegin:
		log.Printf("Leader election by %s: becoming level-0 source", addr)
		n.becomeLeader()
	case protocol.LeaderStop:
		log.Printf("Leader revoked by %s", addr)
		n.resignLeader()
	}
}
