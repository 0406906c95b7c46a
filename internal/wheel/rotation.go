package wheel

import (
	"fmt"
	"math"
	"time"
)

// Rotation planning constants. The pointer sits at the top of the wheel,
// which is -90 degrees in wheel-local coordinates where segment 0 starts.
const (
	PointerAngle      = -90.0
	JitterFraction    = 0.3
	MinExtraTurns     = 5
	MaxExtraTurns     = 7
	AnimationDuration = 5 * time.Second
)

// Plan is the outcome of PlanRotation
type Plan struct {
	Index      int     `json:"index"`
	Previous   float64 `json:"previous"`
	Rotation   float64 `json:"rotation"`
	Delta      float64 `json:"delta"`
	ExtraTurns int     `json:"extra_turns"`
	Jitter     float64 `json:"jitter"`
}

// PlanRotation returns the cumulative rotation that stops the pointer on
// segment index. The result is always strictly greater than previous and
// extra turns are whole multiples of 360 so alignment does not drift across
// spins.
func PlanRotation(index int, extent, previous float64, src Source) (*Plan, error) {
	if extent <= 0 || extent > 360 {
		return nil, fmt.Errorf("invalid segment extent %v", extent)
	}
	if index < 0 || float64(index)*extent >= 360 {
		return nil, fmt.Errorf("segment index %d out of range", index)
	}

	f, err := src.GenerateFloat()
	if err != nil {
		return nil, fmt.Errorf("failed to draw jitter: %w", err)
	}
	turns, err := src.GenerateIntRange(MinExtraTurns, MaxExtraTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to draw extra turns: %w", err)
	}

	jitter := (2*f - 1) * JitterFraction * extent
	center := float64(index)*extent + extent/2 + PointerAngle
	target := PointerAngle - center - jitter
	delta := mod360(target - previous)

	return &Plan{
		Index:      index,
		Previous:   previous,
		Rotation:   previous + float64(turns)*360 + delta,
		Delta:      delta,
		ExtraTurns: int(turns),
		Jitter:     jitter,
	}, nil
}

// SegmentAtPointer returns the index of the segment under the pointer for a
// cumulative rotation on a wheel of n equal segments.
func SegmentAtPointer(rotation float64, n int) int {
	if n <= 0 {
		return 0
	}
	extent := 360.0 / float64(n)
	idx := int(math.Floor(mod360(-rotation) / extent))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func mod360(a float64) float64 {
	m := math.Mod(a, 360)
	if m < 0 {
		m += 360
	}
	if m >= 360 {
		m = 0
	}
	return m
}
