// ABOUTME: Clock synchronization logic: probes, source adoption and merging
// ABOUTME: Also owns the SYNC_START broadcast loop and source watchdog
package node

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/clock"
	"github.com/NetClocks-Protocol/netclocks-go/internal/protocol"
	"github.com/NetClocks-Protocol/netclocks-go/internal/registry"
	"github.com/NetClocks-Protocol/netclocks-go/internal/sample"
)

// ErrProbeTimeout is returned when a peer does not answer a probe in time.
var ErrProbeTimeout = errors.New("probe timed out")

// probePeer runs one scheduled DELAY_REQUEST exchange. It is the callback
// the scheduler invokes; success and failure accounting happen there.
func (n *Node) probePeer(ctx context.Context, peer registry.Peer) error {
	ch := make(chan probeReply, 1)

	n.mu.Lock()
	n.probes[peer.ID] = ch
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.probes, peer.ID)
		n.mu.Unlock()
	}()

	t1 := n.local.NowMillis()
	if err := n.wire.Send(peer.Addr, protocol.EncodeEmpty(protocol.MsgDelayRequest)); err != nil {
		return err
	}

	timer := time.NewTimer(n.config.ProbeTimeout)
	defer timer.Stop()

	var reply probeReply
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrProbeTimeout
	case reply = <-ch:
	}

	n.reg.SetSyncLevel(peer.ID, reply.level)

	s := sample.Sample{
		T1: t1,
		T2: reply.remoteTime,
		T3: reply.remoteTime,
		T4: n.local.MillisAt(reply.receivedAt),
		At: reply.receivedAt,
	}
	if err := n.store.Record(peer.ID, s); err != nil {
		return err
	}

	est, err := n.config.Estimator.Estimate(n.store.Snapshot(peer.ID))
	if err != nil {
		// Not enough samples yet; the exchange itself still succeeded.
		return nil
	}
	n.reg.UpdateEstimate(peer.ID, est)
	n.mergeEstimates()
	return nil
}

// adoptSource applies a completed inbound exchange from a qualifying source.
// The first lock steps the clock straight onto the source; once synchronized
// corrections flow through the slewing merge instead.
func (n *Node) adoptSource(senderID string, level byte, s sample.Sample) {
	newLevel := level + 1

	n.mu.Lock()
	prevLevel := n.syncLevel
	n.syncLevel = newLevel
	n.source = senderID
	n.lastSource = time.Now()
	n.mu.Unlock()

	if prevLevel != newLevel {
		log.Printf("Sync level %d -> %d (source %s)", prevLevel, newLevel, senderID)
	}

	if est, err := n.config.Estimator.Estimate(n.store.Snapshot(senderID)); err == nil {
		n.reg.UpdateEstimate(senderID, est)
	}

	if !n.ctrl.Synced() {
		n.ctrl.Step(s.Offset(), 1.0)
		log.Printf("Clock stepped by %dms to source %s", s.Offset(), senderID)
		n.requestBroadcast()
		return
	}
	n.mergeEstimates()
}

// mergeEstimates feeds the estimates of every usable peer into the clock
// controller. Usable means synced, carrying an estimate, and advertising a
// level below our own; without any the clock keeps its last correction until
// the watchdog expires it.
func (n *Node) mergeEstimates() {
	n.mu.RLock()
	ownLevel := n.syncLevel
	leader := n.leader
	n.mu.RUnlock()

	if leader || !n.ctrl.Synced() {
		return
	}

	var estimates []clock.PeerEstimate
	for _, p := range n.reg.ListActive() {
		if !p.HasEstimate || p.State != registry.StateSynced {
			continue
		}
		if p.SyncLevel >= ownLevel {
			continue
		}
		estimates = append(estimates, clock.PeerEstimate{
			Offset:     p.Offset,
			Delay:      p.Delay,
			Confidence: p.Confidence,
		})
	}
	if len(estimates) == 0 {
		return
	}
	n.ctrl.Merge(estimates)
}

// becomeLeader makes this node the level-0 time source. The leader serves
// its raw local clock, so any previously applied correction is dropped.
func (n *Node) becomeLeader() {
	n.mu.Lock()
	alreadyLeader := n.leader
	n.leader = true
	n.syncLevel = 0
	n.source = ""
	n.mu.Unlock()

	if alreadyLeader {
		return
	}
	n.ctrl.Step(0, 1.0)
	n.requestBroadcast()
}

// resignLeader drops leadership and returns to unsynchronized.
func (n *Node) resignLeader() {
	n.mu.Lock()
	wasLeader := n.leader
	n.leader = false
	n.syncLevel = protocol.LevelUnsynchronized
	n.source = ""
	n.mu.Unlock()

	if wasLeader {
		n.ctrl.Desync()
	}
}

// requestBroadcast asks the broadcast loop for an immediate SYNC_START round.
func (n *Node) requestBroadcast() {
	select {
	case n.broadcastCh <- struct{}{}:
	default:
	}
}

// broadcastLoop announces this node as a time source to connected peers
// while it is synchronized (or leading).
func (n *Node) broadcastLoop(ctx context.Context) {
	interval := n.config.BroadcastInterval
	if interval <= 0 {
		interval = DefaultConfig().BroadcastInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-n.broadcastCh:
		}
		n.broadcastSyncStart()
	}
}

func (n *Node) broadcastSyncStart() {
	level := n.Level()
	if level == protocol.LevelUnsynchronized {
		return
	}

	for _, p := range n.reg.ListActive() {
		if !p.Connected {
			continue
		}
		n.send(p.Addr, protocol.EncodeTimestamped(protocol.MsgSyncStart, level, uint64(n.nowMillis())))
	}
}

// watchdogLoop drops synchronization when the source has been silent for
// longer than the sync timeout. Leaders have no source to lose.
func (n *Node) watchdogLoop(ctx context.Context) {
	timeout := n.config.SyncTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().SyncTimeout
	}
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n.mu.Lock()
		expired := !n.leader &&
			n.syncLevel != protocol.LevelUnsynchronized &&
			time.Since(n.lastSource) > timeout
		lostSource := n.source
		if expired {
			log.Printf("Source %s silent for over %s, dropping sync", lostSource, timeout)
			n.syncLevel = protocol.LevelUnsynchronized
			n.source = ""
		}
		n.mu.Unlock()

		if expired {
			n.ctrl.Desync()
			// The samples measured that source's timeline; they are
			// meaningless against a future one.
			n.store.Drop(lostSource)
		}

		n.expireInbound()
	}
}

// expireInbound discards delay exchanges whose responses never came. The
// registry failure accounting for those peers stays with the scheduler's
// probes; an abandoned inbound exchange only means the source went quiet.
func (n *Node) expireInbound() {
	now := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ex := range n.inbound {
		if now.After(ex.deadline) {
			delete(n.inbound, id)
		}
	}
}
