// ABOUTME: Round-trip timing samples from probe exchanges
// ABOUTME: Four-timestamp records with derived delay and offset
package sample

import "time"

// Sample captures one completed delay exchange with a peer.
//
// T1 and T4 are on the local clock: the instant the request left and the
// instant the response arrived. T2 and T3 are on the peer's clock: receive and
// transmit of the exchange at the far end. The wire carries a single remote
// timestamp, so recorded samples have T2 == T3; the validation still guards
// both pairs. All values are milliseconds.
type Sample struct {
	T1, T4 int64     // local clock
	T2, T3 int64     // remote clock
	At     time.Time // completion instant, used for recency tie-breaks
}

// Delay is the estimated round-trip network latency:
// (T4-T1) - (T3-T2), the full local span minus the remote hold time.
func (s Sample) Delay() int64 {
	return (s.T4 - s.T1) - (s.T3 - s.T2)
}

// Offset is the estimated peer-minus-local clock difference:
// ((T2-T1) + (T3-T4)) / 2.
func (s Sample) Offset() int64 {
	return ((s.T2 - s.T1) + (s.T3 - s.T4)) / 2
}

// Valid reports whether the timestamps are monotonically consistent:
// T1 ≤ T4 on the local clock and T2 ≤ T3 on the remote clock.
func (s Sample) Valid() bool {
	return s.T1 <= s.T4 && s.T2 <= s.T3
}
