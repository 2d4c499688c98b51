// ABOUTME: Tests for the peer registry state machine
// ABOUTME: Covers registration, demotion thresholds and recovery
package registry

import (
	"net"
	"testing"

	"github.com/NetClocks-Protocol/netclocks-go/internal/estimator"
	"github.com/NetClocks-Protocol/netclocks-go/internal/protocol"
)

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestRegisterStartsUnknown(t *testing.T) {
	r := New(DefaultConfig())
	p := r.Register(testAddr(9000))

	if p.State != StateUnknown {
		t.Errorf("Expected state unknown, got %v", p.State)
	}
	if p.SyncLevel != protocol.LevelUnsynchronized {
		t.Errorf("Expected level 255, got %d", p.SyncLevel)
	}
	if p.ID != "127.0.0.1:9000" {
		t.Errorf("Unexpected id %q", p.ID)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := New(DefaultConfig())
	r.Register(testAddr(9000))
	r.MarkProbing("127.0.0.1:9000")
	r.RecordSuccess("127.0.0.1:9000")

	p := r.Register(testAddr(9000))
	if p.State != StateSynced {
		t.Errorf("Re-register should not reset a live peer, got %v", p.State)
	}
	if len(r.All()) != 1 {
		t.Errorf("Expected 1 peer, got %d", len(r.All()))
	}
}

func TestGetUnknownPeer(t *testing.T) {
	r := New(DefaultConfig())
	if _, err := r.Get("10.0.0.1:9000"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestProbeSuccessPromotesToSynced(t *testing.T) {
	r := New(DefaultConfig())
	r.Register(testAddr(9000))
	id := "127.0.0.1:9000"

	r.MarkProbing(id)
	p, _ := r.Get(id)
	if p.State != StateProbing {
		t.Errorf("Expected probing, got %v", p.State)
	}

	r.RecordSuccess(id)
	p, _ = r.Get(id)
	if p.State != StateSynced {
		t.Errorf("Expected synced, got %v", p.State)
	}
	if p.LastContact.IsZero() {
		t.Error("LastContact should be set after success")
	}
}

func TestFailureThresholds(t *testing.T) {
	r := New(Config{StaleThreshold: 3, UnreachableThreshold: 5})
	r.Register(testAddr(9000))
	id := "127.0.0.1:9000"
	r.MarkProbing(id)
	r.RecordSuccess(id)

	r.RecordFailure(id)
	r.RecordFailure(id)
	p, _ := r.Get(id)
	if p.State != StateSynced {
		t.Errorf("Two failures should not demote, got %v", p.State)
	}

	if st := r.RecordFailure(id); st != StateStale {
		t.Errorf("Third failure should demote to stale, got %v", st)
	}

	r.RecordFailure(id)
	if st := r.RecordFailure(id); st != StateUnreachable {
		t.Errorf("Fifth failure should demote to unreachable, got %v", st)
	}
}

func TestStaleRecoversOnSingleSuccess(t *testing.T) {
	r := New(Config{StaleThreshold: 2, UnreachableThreshold: 10})
	r.Register(testAddr(9000))
	id := "127.0.0.1:9000"
	r.MarkProbing(id)
	r.RecordSuccess(id)
	r.RecordFailure(id)
	r.RecordFailure(id)

	p, _ := r.Get(id)
	if p.State != StateStale {
		t.Fatalf("Expected stale, got %v", p.State)
	}

	r.RecordSuccess(id)
	p, _ = r.Get(id)
	if p.State != StateSynced {
		t.Errorf("One success should recover a stale peer, got %v", p.State)
	}
	if p.Failures != 0 {
		t.Errorf("Failure streak should reset, got %d", p.Failures)
	}
}

func TestUnreachableIsTerminalUntilReregistered(t *testing.T) {
	r := New(Config{StaleThreshold: 1, UnreachableThreshold: 2})
	r.Register(testAddr(9000))
	id := "127.0.0.1:9000"
	r.MarkProbing(id)
	r.RecordFailure(id)
	r.RecordFailure(id)

	r.RecordSuccess(id)
	p, _ := r.Get(id)
	if p.State != StateUnreachable {
		t.Errorf("Success must not revive unreachable, got %v", p.State)
	}

	r.Register(testAddr(9000))
	p, _ = r.Get(id)
	if p.State != StateUnknown {
		t.Errorf("Re-register should reset to unknown, got %v", p.State)
	}
	if p.Failures != 0 {
		t.Errorf("Failures should reset on re-register, got %d", p.Failures)
	}
}

func TestListActiveExcludesUnreachable(t *testing.T) {
	r := New(Config{StaleThreshold: 1, UnreachableThreshold: 1})
	r.Register(testAddr(9000))
	r.Register(testAddr(9001))
	r.RecordFailure("127.0.0.1:9001")

	active := r.ListActive()
	if len(active) != 1 {
		t.Fatalf("Expected 1 active peer, got %d", len(active))
	}
	if active[0].ID != "127.0.0.1:9000" {
		t.Errorf("Unexpected active peer %q", active[0].ID)
	}
	if len(r.All()) != 2 {
		t.Errorf("All should still list both peers")
	}
}

func TestListOrdering(t *testing.T) {
	r := New(DefaultConfig())
	r.Register(testAddr(9002))
	r.Register(testAddr(9000))
	r.Register(testAddr(9001))

	peers := r.ListActive()
	for i := 1; i < len(peers); i++ {
		if peers[i-1].ID >= peers[i].ID {
			t.Errorf("Peers not sorted: %q before %q", peers[i-1].ID, peers[i].ID)
		}
	}
}

func TestUpdateEstimate(t *testing.T) {
	r := New(DefaultConfig())
	r.Register(testAddr(9000))
	id := "127.0.0.1:9000"

	r.UpdateEstimate(id, estimator.Estimate{Offset: 42, Delay: 7, Confidence: 0.8})
	p, _ := r.Get(id)
	if !p.HasEstimate || p.Offset != 42 || p.Delay != 7 {
		t.Errorf("Estimate not stored: %+v", p)
	}
}

func TestSetSyncLevel(t *testing.T) {
	r := New(DefaultConfig())
	r.Register(testAddr(9000))
	r.SetSyncLevel("127.0.0.1:9000", 2)

	p, _ := r.Get("127.0.0.1:9000")
	if p.SyncLevel != 2 {
		t.Errorf("Expected level 2, got %d", p.SyncLevel)
	}
}
