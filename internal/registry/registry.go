// ABOUTME: Authoritative peer registry and lifecycle state machine
// ABOUTME: Single writer per peer; readers get immutable snapshots
package registry

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/estimator"
	"github.com/NetClocks-Protocol/netclocks-go/internal/protocol"
)

// ErrNotFound is returned by Get for unregistered peer ids.
var ErrNotFound = errors.New("peer not found")

// State is a peer's lifecycle state.
type State int

const (
	StateUnknown State = iota
	StateProbing
	StateSynced
	StateStale
	StateUnreachable // terminal until re-registered
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateProbing:
		return "probing"
	case StateSynced:
		return "synced"
	case StateStale:
		return "stale"
	case StateUnreachable:
		return "unreachable"
	default:
		return "invalid"
	}
}

// Peer is a registry snapshot of one peer. The registry owns the canonical
// record; callers only ever see copies.
type Peer struct {
	ID          string // "ip:port"
	Addr        *net.UDPAddr
	State       State
	Connected   bool // CONNECT/ACK_CONNECT handshake completed
	SyncLevel   byte // last level the peer advertised; 255 until heard
	LastContact time.Time
	Failures    int // consecutive probe failures
	Offset      int64
	Delay       int64
	Confidence  float64
	HasEstimate bool
}

// Config holds the state machine thresholds.
type Config struct {
	// StaleThreshold consecutive probe failures demote Synced to Stale.
	StaleThreshold int
	// UnreachableThreshold consecutive failures make the peer Unreachable.
	UnreachableThreshold int
}

// DefaultConfig matches the daemon defaults.
func DefaultConfig() Config {
	return Config{StaleThreshold: 8, UnreachableThreshold: 24}
}

// Registry maps peer ids to their records.
type Registry struct {
	mu    sync.RWMutex
	cfg   Config
	peers map[string]*Peer
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultConfig().StaleThreshold
	}
	if cfg.UnreachableThreshold <= cfg.StaleThreshold {
		cfg.UnreachableThreshold = cfg.StaleThreshold * 3
	}
	return &Registry{cfg: cfg, peers: make(map[string]*Peer)}
}

// ID derives the registry key for an address.
func ID(addr *net.UDPAddr) string {
	return addr.String()
}

// Register adds a peer in state Unknown. Registration is idempotent on the
// address; re-registering an Unreachable peer resets it to Unknown, which is
// the only way back from the terminal state.
func (r *Registry) Register(addr *net.UDPAddr) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ID(addr)
	if p, ok := r.peers[id]; ok {
		if p.State == StateUnreachable {
			p.State = StateUnknown
			p.Failures = 0
			p.HasEstimate = false
		}
		return *p
	}

	p := &Peer{
		ID:        id,
		Addr:      addr,
		State:     StateUnknown,
		SyncLevel: protocol.LevelUnsynchronized,
	}
	r.peers[id] = p
	return *p
}

// Get returns a snapshot of the peer or ErrNotFound.
func (r *Registry) Get(id string) (Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[id]
	if !ok {
		return Peer{}, ErrNotFound
	}
	return *p, nil
}

// ListActive returns all peers not in Unreachable, ordered by id.
func (r *Registry) ListActive() []Peer {
	return r.list(func(p *Peer) bool { return p.State != StateUnreachable })
}

// All returns every registered peer, ordered by id.
func (r *Registry) All() []Peer {
	return r.list(func(p *Peer) bool { return true })
}

func (r *Registry) list(keep func(*Peer) bool) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkConnected records a completed CONNECT handshake.
func (r *Registry) MarkConnected(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[id]; ok {
		p.Connected = true
		p.LastContact = time.Now()
	}
}

// MarkProbing moves an Unknown peer to Probing on its first scheduled probe.
func (r *Registry) MarkProbing(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[id]; ok && p.State == StateUnknown {
		p.State = StateProbing
	}
}

// SetSyncLevel records the level the peer last advertised.
func (r *Registry) SetSyncLevel(id string, level byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[id]; ok {
		p.SyncLevel = level
	}
}

// RecordSuccess notes a successful measurement exchange: the failure streak
// resets and the peer moves to Synced. State and failure counter always
// change together under the same lock.
func (r *Registry) RecordSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return
	}
	p.Failures = 0
	p.LastContact = time.Now()
	// Unreachable stays terminal until the peer re-registers.
	if p.State != StateUnreachable {
		p.State = StateSynced
	}
}

// RecordFailure counts a probe failure and applies the demotion thresholds.
// It returns the state after the transition.
func (r *Registry) RecordFailure(id string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return StateUnknown
	}
	p.Failures++

	switch {
	case p.Failures >= r.cfg.UnreachableThreshold:
		p.State = StateUnreachable
		p.HasEstimate = false
	case p.Failures >= r.cfg.StaleThreshold:
		if p.State == StateSynced || p.State == StateProbing {
			p.State = StateStale
		}
	}
	return p.State
}

// UpdateEstimate stores the peer's latest filtered offset estimate.
func (r *Registry) UpdateEstimate(id string, est estimator.Estimate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[id]; ok {
		p.Offset = est.Offset
		p.Delay = est.Delay
		p.Confidence = est.Confidence
		p.HasEstimate = true
	}
}
