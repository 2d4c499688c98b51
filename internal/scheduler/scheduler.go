// ABOUTME: Periodic probe scheduler with per-peer jitter and stale backoff
// ABOUTME: Drives probe callbacks under a bounded concurrency limit
package scheduler

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/registry"
)

// ProbeFunc performs one probe exchange with a peer. It returns an error
// when the exchange failed or timed out.
type ProbeFunc func(ctx context.Context, peer registry.Peer) error

// Config holds the scheduler timing knobs.
type Config struct {
	Interval     time.Duration // base probe interval per peer
	Jitter       time.Duration // uniform random addition per cycle
	StaleBackoff int           // interval multiple for stale peers
	MaxInFlight  int           // concurrent probe cap
	Tick         time.Duration // due-check granularity
}

// DefaultConfig matches the daemon defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     15 * time.Second,
		Jitter:       2 * time.Second,
		StaleBackoff: 4,
		MaxInFlight:  8,
		Tick:         250 * time.Millisecond,
	}
}

// Scheduler decides when each registered peer is next probed. New peers get
// a full jittered interval before their first probe so that probes never
// race the initial handshake traffic.
type Scheduler struct {
	cfg   Config
	reg   *registry.Registry
	probe ProbeFunc

	mu      sync.Mutex
	due     map[string]time.Time
	running map[string]bool
	sem     chan struct{}
	rng     *rand.Rand
}

// New creates a scheduler over the given registry.
func New(cfg Config, reg *registry.Registry, probe ProbeFunc) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.StaleBackoff < 1 {
		cfg.StaleBackoff = 1
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	return &Scheduler{
		cfg:     cfg,
		reg:     reg,
		probe:   probe,
		due:     make(map[string]time.Time),
		running: make(map[string]bool),
		sem:     make(chan struct{}, cfg.MaxInFlight),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// interval returns the probe spacing for a peer in the given state.
func (s *Scheduler) interval(state registry.State) time.Duration {
	iv := s.cfg.Interval
	if state == registry.StateStale {
		iv *= time.Duration(s.cfg.StaleBackoff)
	}
	if s.cfg.Jitter > 0 {
		iv += time.Duration(s.rng.Int63n(int64(s.cfg.Jitter)))
	}
	return iv
}

// Run drives the probe loop until ctx is cancelled. In-flight probes are
// allowed to finish; their own contexts inherit the cancellation.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	now := time.Now()
	peers := s.reg.ListActive()

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(peers))
	for _, p := range peers {
		seen[p.ID] = true

		at, ok := s.due[p.ID]
		if !ok {
			// First sighting: schedule a full interval out.
			s.due[p.ID] = now.Add(s.interval(p.State))
			continue
		}
		if now.Before(at) || s.running[p.ID] {
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			// At the concurrency cap; this peer stays due and is
			// retried next tick.
			continue
		}

		s.due[p.ID] = now.Add(s.interval(p.State))
		s.running[p.ID] = true
		go s.runProbe(ctx, p)
	}

	// Forget schedule entries for peers that left the active set.
	for id := range s.due {
		if !seen[id] {
			delete(s.due, id)
		}
	}
}

func (s *Scheduler) runProbe(ctx context.Context, p registry.Peer) {
	defer func() {
		<-s.sem
		s.mu.Lock()
		delete(s.running, p.ID)
		s.mu.Unlock()
	}()

	s.reg.MarkProbing(p.ID)
	if err := s.probe(ctx, p); err != nil {
		if ctx.Err() == nil {
			log.Printf("Probe to %s failed: %v", p.ID, err)
		}
		st := s.reg.RecordFailure(p.ID)
		if st == registry.StateUnreachable {
			log.Printf("Peer %s is unreachable", p.ID)
		}
		return
	}
	s.reg.RecordSuccess(p.ID)
}
