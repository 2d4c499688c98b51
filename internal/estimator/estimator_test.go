// ABOUTME: Tests for the offset estimator
// ABOUTME: Covers outlier rejection, min-delay selection, idempotence, convergence
package estimator

import (
	"errors"
	"testing"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/sample"
)

// mkSample builds a sample where the peer clock leads the local clock by
// skew ms and the symmetric one-way latency is delay/2 ms.
func mkSample(localSend, skew, delay int64, at time.Time) sample.Sample {
	half := delay / 2
	return sample.Sample{
		T1: localSend,
		T2: localSend + half + skew,
		T3: localSend + half + skew,
		T4: localSend + delay,
		At: at,
	}
}

func TestInsufficientSamples(t *testing.T) {
	cfg := DefaultConfig()

	samples := []sample.Sample{
		mkSample(0, 500, 10, time.Unix(0, 0)),
		mkSample(1000, 500, 10, time.Unix(1, 0)),
	}

	if _, err := cfg.Estimate(samples); !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("expected ErrInsufficientSamples with 2 samples, got %v", err)
	}
}

func TestIdempotence(t *testing.T) {
	cfg := DefaultConfig()

	var samples []sample.Sample
	for i := int64(0); i < 8; i++ {
		samples = append(samples, mkSample(i*1000, 500, 8+i%3, time.Unix(i, 0)))
	}

	first, err := cfg.Estimate(samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := cfg.Estimate(samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("estimator not idempotent: %+v vs %+v", first, second)
	}
}

func TestOutlierExcluded(t *testing.T) {
	cfg := DefaultConfig()

	// Seven samples around 10ms delay, one congested sample at 50x the
	// median carrying a wildly wrong offset.
	var samples []sample.Sample
	for i := int64(0); i < 7; i++ {
		samples = append(samples, mkSample(i*1000, 500, 10, time.Unix(i, 0)))
	}
	congested := mkSample(7000, 9999, 500, time.Unix(7, 0))
	samples = append(samples, congested)

	est, err := cfg.Estimate(samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Delay != 10 {
		t.Errorf("expected the congested sample excluded, selected delay %d", est.Delay)
	}
	if est.Offset < 490 || est.Offset > 510 {
		t.Errorf("offset %d polluted by the outlier", est.Offset)
	}
}

func TestMinimumDelaySelection(t *testing.T) {
	cfg := DefaultConfig()

	samples := []sample.Sample{
		mkSample(0, 500, 12, time.Unix(0, 0)),
		mkSample(1000, 503, 6, time.Unix(1, 0)), // minimum delay
		mkSample(2000, 500, 14, time.Unix(2, 0)),
	}

	est, err := cfg.Estimate(samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Delay != 6 {
		t.Errorf("expected minimum delay 6, got %d", est.Delay)
	}
	if est.Offset != 503 {
		t.Errorf("expected offset from the min-delay sample, got %d", est.Offset)
	}
}

func TestTieBreaksMostRecent(t *testing.T) {
	cfg := DefaultConfig()

	samples := []sample.Sample{
		mkSample(0, 500, 8, time.Unix(0, 0)),
		mkSample(1000, 507, 8, time.Unix(1, 0)),
		mkSample(2000, 502, 8, time.Unix(2, 0)), // most recent of the ties
	}

	est, err := cfg.Estimate(samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Offset != 502 {
		t.Errorf("expected most-recent tie-break (offset 502), got %d", est.Offset)
	}
}

func TestConvergenceWithKnownSkew(t *testing.T) {
	cfg := DefaultConfig()

	// Peer B runs exactly 500ms ahead; ~10ms symmetric delay with ±4ms
	// jitter across 10 probe rounds.
	jitter := []int64{0, 3, -2, 4, 1, -3, 2, 0, -1, 3}
	var samples []sample.Sample
	for i, j := range jitter {
		samples = append(samples, mkSample(int64(i)*1000, 500, 10+j, time.Unix(int64(i), 0)))
	}

	est, err := cfg.Estimate(samples[len(samples)-sample.DefaultWindow:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Offset < 480 || est.Offset > 520 {
		t.Errorf("expected offset within 500±20ms, got %d", est.Offset)
	}
	if est.Confidence <= 0 || est.Confidence > 1 {
		t.Errorf("confidence %f out of range", est.Confidence)
	}
}

func TestConfidenceDropsWithSpread(t *testing.T) {
	cfg := DefaultConfig()

	steady := []sample.Sample{
		mkSample(0, 500, 10, time.Unix(0, 0)),
		mkSample(1000, 500, 10, time.Unix(1, 0)),
		mkSample(2000, 500, 10, time.Unix(2, 0)),
	}
	noisy := []sample.Sample{
		mkSample(0, 500, 4, time.Unix(0, 0)),
		mkSample(1000, 500, 16, time.Unix(1, 0)),
		mkSample(2000, 500, 10, time.Unix(2, 0)),
	}

	se, err := cfg.Estimate(steady)
	if err != nil {
		t.Fatalf("steady: %v", err)
	}
	ne, err := cfg.Estimate(noisy)
	if err != nil {
		t.Fatalf("noisy: %v", err)
	}
	if ne.Confidence >= se.Confidence {
		t.Errorf("expected lower confidence for noisy delays: %f vs %f", ne.Confidence, se.Confidence)
	}
}

func TestFilteringCanLeaveTooFew(t *testing.T) {
	cfg := Config{MinSamples: 4, OutlierMultiple: 2.0}

	// Median delay 10; the two congested samples are filtered, leaving
	// three survivors, one short of MinSamples.
	samples := []sample.Sample{
		mkSample(0, 500, 10, time.Unix(0, 0)),
		mkSample(1000, 500, 10, time.Unix(1, 0)),
		mkSample(2000, 500, 10, time.Unix(2, 0)),
		mkSample(3000, 500, 200, time.Unix(3, 0)),
		mkSample(4000, 500, 300, time.Unix(4, 0)),
	}

	if _, err := cfg.Estimate(samples); !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("expected ErrInsufficientSamples after filtering, got %v", err)
	}
}
