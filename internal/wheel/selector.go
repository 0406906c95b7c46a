package wheel

import (
	"fmt"

	"github.com/alexbotov/prizewheel/internal/domain"
)

// Source is the randomness the wheel draws from. *rng.Service satisfies it.
type Source interface {
	GenerateFloat() (float64, error)
	GenerateIntRange(min, max int64) (int64, error)
}

// Weights holds the probability mass of every outcome category
type Weights struct {
	Prizes  map[string]float64
	Unlucky float64
	Retry   float64
}

// WeightsOf extracts the runtime weights from a catalog
func WeightsOf(c domain.Catalog) Weights {
	w := Weights{
		Prizes:  make(map[string]float64, len(c.Prizes)),
		Unlucky: c.Unlucky.Weight,
		Retry:   c.Retry.Weight,
	}
	for _, p := range ValidPrizes(c.Prizes) {
		w.Prizes[p.ID] = p.Weight
	}
	return w
}

// Shares returns the probability mass carried by each segment and their sum.
// A category's weight is split evenly over the segments showing it, so the
// odds of a prize or special category do not depend on how many slices
// represent it.
func Shares(l *Layout, w Weights) ([]float64, float64) {
	counts := make(map[string]int)
	for _, seg := range l.Segments {
		counts[segmentKey(seg)]++
	}

	shares := make([]float64, len(l.Segments))
	var total float64
	for i, seg := range l.Segments {
		var weight float64
		switch seg.Type {
		case domain.SegmentPrize:
			if seg.Prize != nil {
				weight = w.Prizes[seg.Prize.ID]
			}
		case domain.SegmentUnlucky:
			weight = w.Unlucky
		case domain.SegmentRetry:
			weight = w.Retry
		}
		if !validWeight(weight) {
			weight = 0
		}
		shares[i] = weight / float64(counts[segmentKey(seg)])
		total += shares[i]
	}
	return shares, total
}

func segmentKey(seg Segment) string {
	if seg.Type.IsSpecial() || seg.Prize == nil {
		return string(seg.Type)
	}
	return "prize:" + seg.Prize.ID
}

// SelectAt returns the first segment with a positive share whose cumulative
// share reaches r. When rounding leaves r past the walk, the last segment
// wins.
func SelectAt(l *Layout, w Weights, r float64) int {
	shares, _ := Shares(l, w)

	var cumulative float64
	for i, share := range shares {
		cumulative += share
		if share > 0 && cumulative >= r {
			return i
		}
	}
	return len(shares) - 1
}

// Select draws a winning segment index. With no positive weight anywhere
// every segment is equally likely.
func Select(l *Layout, w Weights, src Source) (int, error) {
	if l.Len() == 0 {
		return 0, fmt.Errorf("layout has no segments")
	}

	f, err := src.GenerateFloat()
	if err != nil {
		return 0, fmt.Errorf("failed to draw outcome: %w", err)
	}

	_, total := Shares(l, w)
	if total <= 0 {
		return int(f * float64(l.Len())), nil
	}
	return SelectAt(l, w, f*total), nil
}
