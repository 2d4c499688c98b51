// ABOUTME: Per-peer offset estimation from round-trip sample snapshots
// ABOUTME: Median-delay outlier filter plus minimum-delay selection
package estimator

import (
	"errors"
	"sort"

	"github.com/NetClocks-Protocol/netclocks-go/internal/sample"
)

// ErrInsufficientSamples means fewer than MinSamples valid samples survived
// filtering. The peer is skipped for this merge cycle only.
var ErrInsufficientSamples = errors.New("insufficient samples for an estimate")

// Estimate is a filtered per-peer clock estimate.
type Estimate struct {
	Offset     int64   // peer-minus-local clock difference, ms
	Delay      int64   // round-trip latency of the selected sample, ms
	Confidence float64 // 1 / (1 + normalized delay variance), in (0, 1]
}

// Config tunes the estimator.
type Config struct {
	// MinSamples is the minimum number of samples that must survive
	// filtering before an estimate is produced.
	MinSamples int
	// OutlierMultiple discards samples whose delay exceeds this multiple of
	// the snapshot's median delay (transient congestion guard).
	OutlierMultiple float64
}

// DefaultConfig matches the daemon defaults.
func DefaultConfig() Config {
	return Config{MinSamples: 3, OutlierMultiple: 4.0}
}

// Estimate computes the peer's offset from a sample snapshot. It is a pure
// function: the same snapshot always yields the same estimate.
//
// Samples whose delay exceeds OutlierMultiple times the median delay are
// discarded. From the survivors the minimum-delay sample is selected as the
// least-biased offset estimate, breaking ties toward the most recent sample.
func (c Config) Estimate(samples []sample.Sample) (Estimate, error) {
	if c.MinSamples <= 0 {
		c.MinSamples = 3
	}
	if c.OutlierMultiple <= 0 {
		c.OutlierMultiple = 4.0
	}

	if len(samples) < c.MinSamples {
		return Estimate{}, ErrInsufficientSamples
	}

	med := medianDelay(samples)

	// With millisecond resolution the median delay on a fast link is often
	// zero; a 1ms floor keeps the cutoff meaningful.
	cutoff := c.OutlierMultiple * float64(med)
	if cutoff < c.OutlierMultiple {
		cutoff = c.OutlierMultiple
	}

	kept := make([]sample.Sample, 0, len(samples))
	for _, s := range samples {
		if float64(s.Delay()) <= cutoff {
			kept = append(kept, s)
		}
	}
	if len(kept) < c.MinSamples {
		return Estimate{}, ErrInsufficientSamples
	}

	// Minimum-delay selection; iterating oldest-first and accepting equal
	// delays makes later samples win ties.
	best := kept[0]
	for _, s := range kept[1:] {
		if s.Delay() <= best.Delay() {
			best = s
		}
	}

	return Estimate{
		Offset:     best.Offset(),
		Delay:      best.Delay(),
		Confidence: confidence(kept),
	}, nil
}

// medianDelay returns the median of the snapshot's delays.
func medianDelay(samples []sample.Sample) int64 {
	delays := make([]int64, len(samples))
	for i, s := range samples {
		delays[i] = s.Delay()
	}
	sort.Slice(delays, func(i, j int) bool { return delays[i] < delays[j] })

	n := len(delays)
	if n%2 == 1 {
		return delays[n/2]
	}
	return (delays[n/2-1] + delays[n/2]) / 2
}

// confidence maps the spread of the surviving delays into (0, 1]:
// 1 / (1 + variance normalized by the squared mean delay).
func confidence(kept []sample.Sample) float64 {
	var mean float64
	for _, s := range kept {
		mean += float64(s.Delay())
	}
	mean /= float64(len(kept))

	var variance float64
	for _, s := range kept {
		d := float64(s.Delay()) - mean
		variance += d * d
	}
	variance /= float64(len(kept))

	// A sub-millisecond mean would blow the normalization up; clamp to 1ms.
	norm := mean * mean
	if norm < 1 {
		norm = 1
	}

	return 1.0 / (1.0 + variance/norm)
}
