package swap

import (
	"fmt"
	"time"
)

// MemoryState is a discretized memory pressure level.
// States are ordered: Critical < Bad < Low < Normal < Good.
type MemoryState uint8

const (
	Critical MemoryState = iota
	Bad
	Low
	Normal
	Good
)

// States lists every state from worst to best.
var States = [...]MemoryState{Critical, Bad, Low, Normal, Good}

func (s MemoryState) String() string {
	switch s {
	case Critical:
		return "critical"
	case Bad:
		return "bad"
	case Low:
		return "low"
	case Normal:
		return "normal"
	case Good:
		return "good"
	default:
		return fmt.Sprintf("MemoryState(%d)", uint8(s))
	}
}

// Timeout is the idle time of a worker between cycles.
func (s MemoryState) Timeout() time.Duration {
	switch s {
	case Critical:
		return 500 * time.Millisecond
	case Bad:
		return time.Second
	case Low:
		return 2 * time.Second
	case Normal:
		return 3 * time.Second
	default:
		return 5 * time.Second
	}
}

// MinPriority is the score a candidate must exceed to be swapped.
func (s MemoryState) MinPriority() float64 {
	switch s {
	case Critical:
		return 1
	case Bad:
		return 5
	case Low:
		return 20
	case Normal:
		return 50
	default:
		return 200
	}
}

// SwapFraction is the share of candidates swapped per cycle.
func (s MemoryState) SwapFraction() float64 {
	switch s {
	case Critical, Bad:
		return 0.30
	case Low:
		return 0.40
	case Normal:
		return 0.50
	default:
		return 0.60
	}
}

// Thresholds are the ascending free-ratio boundaries below which each state
// applies. A ratio at or above Normal is Good.
type Thresholds struct {
	Critical float64
	Bad      float64
	Low      float64
	Normal   float64
}

// DefaultThresholds returns {0.05, 0.10, 0.20, 0.40}.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 0.05, Bad: 0.10, Low: 0.20, Normal: 0.40}
}

// Validate checks that the boundaries ascend within [0, 1].
func (t Thresholds) Validate() error {
	b := [...]float64{0, t.Critical, t.Bad, t.Low, t.Normal, 1}
	for i := 1; i < len(b); i++ {
		if b[i] < b[i-1] {
			return fmt.Errorf("swap: thresholds must ascend within [0,1]: %+v", t)
		}
	}
	return nil
}

// State maps a free ratio to a MemoryState.
func (t Thresholds) State(freeRatio float64) MemoryState {
	switch {
	case freeRatio < t.Critical:
		return Critical
	case freeRatio < t.Bad:
		return Bad
	case freeRatio < t.Low:
		return Low
	case freeRatio < t.Normal:
		return Normal
	default:
		return Good
	}
}
