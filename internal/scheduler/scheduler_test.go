// ABOUTME: Tests for the probe scheduler
// ABOUTME: Verifies interval policy, first-probe delay and failure accounting
package scheduler

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/registry"
)

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestIntervalBackoffForStale(t *testing.T) {
	s := New(Config{Interval: time.Second, StaleBackoff: 4, Tick: time.Millisecond},
		registry.New(registry.DefaultConfig()), nil)

	if iv := s.interval(registry.StateSynced); iv != time.Second {
		t.Errorf("Expected 1s for synced, got %v", iv)
	}
	if iv := s.interval(registry.StateStale); iv != 4*time.Second {
		t.Errorf("Expected 4s for stale, got %v", iv)
	}
}

func TestIntervalJitterBounds(t *testing.T) {
	s := New(Config{Interval: time.Second, Jitter: 100 * time.Millisecond, StaleBackoff: 1, Tick: time.Millisecond},
		registry.New(registry.DefaultConfig()), nil)

	for i := 0; i < 50; i++ {
		iv := s.interval(registry.StateSynced)
		if iv < time.Second || iv >= time.Second+100*time.Millisecond {
			t.Fatalf("Jittered interval %v out of bounds", iv)
		}
	}
}

func TestFirstProbeIsDelayed(t *testing.T) {
	reg := registry.New(registry.DefaultConfig())
	reg.Register(testAddr(9000))

	var mu sync.Mutex
	probed := 0
	s := New(Config{Interval: time.Hour, Tick: time.Millisecond},
		reg, func(ctx context.Context, p registry.Peer) error {
			mu.Lock()
			probed++
			mu.Unlock()
			return nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if probed != 0 {
		t.Errorf("Peer probed %d times before its first interval elapsed", probed)
	}
}

func TestDueProbeRunsAndReportsSuccess(t *testing.T) {
	reg := registry.New(registry.DefaultConfig())
	reg.Register(testAddr(9000))

	done := make(chan struct{})
	var once sync.Once
	s := New(Config{Interval: 5 * time.Millisecond, Tick: time.Millisecond},
		reg, func(ctx context.Context, p registry.Peer) error {
			once.Do(func() { close(done) })
			return nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Probe never ran")
	}

	// The success report lands after the callback returns.
	deadline := time.Now().Add(time.Second)
	for {
		p, _ := reg.Get("127.0.0.1:9000")
		if p.State == registry.StateSynced {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Peer never reached synced, state %v", p.State)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProbeFailureIsRecorded(t *testing.T) {
	reg := registry.New(registry.Config{StaleThreshold: 1, UnreachableThreshold: 100})
	reg.Register(testAddr(9000))

	s := New(Config{Interval: 5 * time.Millisecond, Tick: time.Millisecond},
		reg, func(ctx context.Context, p registry.Peer) error {
			return errors.New("no response")
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		p, _ := reg.Get("127.0.0.1:9000")
		if p.State == registry.StateStale {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Peer never went stale, state %v failures %d", p.State, p.Failures)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConcurrencyCap(t *testing.T) {
	reg := registry.New(registry.DefaultConfig())
	for i := 0; i < 6; i++ {
		reg.Register(testAddr(9000 + i))
	}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	s := New(Config{Interval: time.Millisecond, MaxInFlight: 2, Tick: time.Millisecond},
		reg, func(ctx context.Context, p registry.Peer) error {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent probes, saw %d", peak)
	}
	if peak == 0 {
		t.Error("No probes ran")
	}
}
