// ABOUTME: Per-peer bounded history of round-trip samples
// ABOUTME: Append-only ring in probe-completion order, oldest evicted first
package sample

import (
	"errors"
	"sync"
)

// ErrInvalidSample rejects samples whose timestamps are not monotonically
// consistent. Such samples are never stored.
var ErrInvalidSample = errors.New("invalid sample: non-monotonic timestamps")

// DefaultWindow is the per-peer ring size.
const DefaultWindow = 8

// Store keeps the last N valid samples for each peer.
type Store struct {
	mu    sync.Mutex
	size  int
	rings map[string]*ring
}

type ring struct {
	buf  []Sample
	next int
	full bool
}

// NewStore creates a store keeping perPeer samples per peer (DefaultWindow if
// perPeer <= 0).
func NewStore(perPeer int) *Store {
	if perPeer <= 0 {
		perPeer = DefaultWindow
	}
	return &Store{
		size:  perPeer,
		rings: make(map[string]*ring),
	}
}

// Record appends a sample to the peer's ring, evicting the oldest when full.
// Invalid samples are rejected with ErrInvalidSample.
func (st *Store) Record(peerID string, s Sample) error {
	if !s.Valid() {
		return ErrInvalidSample
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	r := st.rings[peerID]
	if r == nil {
		r = &ring{buf: make([]Sample, st.size)}
		st.rings[peerID] = r
	}

	r.buf[r.next] = s
	r.next = (r.next + 1) % st.size
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Snapshot returns the peer's samples in recording order, oldest first. The
// returned slice is a copy.
func (st *Store) Snapshot(peerID string) []Sample {
	st.mu.Lock()
	defer st.mu.Unlock()

	r := st.rings[peerID]
	if r == nil {
		return nil
	}

	var out []Sample
	if r.full {
		out = make([]Sample, 0, st.size)
		out = append(out, r.buf[r.next:]...)
		out = append(out, r.buf[:r.next]...)
	} else {
		out = append(out, r.buf[:r.next]...)
	}
	return out
}

// Len returns how many samples are held for the peer.
func (st *Store) Len(peerID string) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	r := st.rings[peerID]
	if r == nil {
		return 0
	}
	if r.full {
		return st.size
	}
	return r.next
}

// Drop discards the peer's history, e.g. after re-registration.
func (st *Store) Drop(peerID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.rings, peerID)
}
