// Package wheel turns a merchant catalog into a wheel layout, draws weighted
// outcomes over it and plans the rotation that lands the pointer on the
// drawn segment.
package wheel

import (
	"math"

	"github.com/alexbotov/prizewheel/internal/domain"
)

// Layout bounds
const (
	MinSegments      = 6
	MaxSegments      = 8
	MinPrizeSegments = 4
)

// Segment is one angular slice of the wheel
type Segment struct {
	Index  int                     `json:"index"`
	Type   domain.SegmentType      `json:"type"`
	Prize  *domain.PrizeDefinition `json:"prize,omitempty"`
	Start  float64                 `json:"start"`
	Extent float64                 `json:"extent"`
}

// Layout is the ordered set of segments. All segments share the same extent.
type Layout struct {
	Segments []Segment `json:"segments"`
	Extent   float64   `json:"extent"`
}

// Len returns the number of segments
func (l *Layout) Len() int {
	return len(l.Segments)
}

// Count returns how many segments are of the given type
func (l *Layout) Count(t domain.SegmentType) int {
	n := 0
	for _, seg := range l.Segments {
		if seg.Type == t {
			n++
		}
	}
	return n
}

// Compose builds the wheel layout for a catalog. It never fails: invalid
// prizes are dropped and an empty catalog yields an all-special wheel.
func Compose(c domain.Catalog) *Layout {
	prizes := ValidPrizes(c.Prizes)

	if len(prizes) == 0 {
		kinds := make([]domain.SegmentType, MinSegments)
		for i := range kinds {
			if i%2 == 0 {
				kinds[i] = domain.SegmentUnlucky
			} else {
				kinds[i] = domain.SegmentRetry
			}
		}
		return build(kinds, nil)
	}

	// thin catalogs are repeated round-robin
	prizeSegs := make([]*domain.PrizeDefinition, 0, MaxSegments)
	for i := range prizes {
		prizeSegs = append(prizeSegs, &prizes[i])
	}
	if len(prizes) <= 2 {
		for i := 0; len(prizeSegs) < MinPrizeSegments; i++ {
			prizeSegs = append(prizeSegs, &prizes[i%len(prizes)])
		}
	}

	specials := []domain.SegmentType{domain.SegmentUnlucky, domain.SegmentRetry}
	if len(prizeSegs)+len(specials) > MaxSegments {
		prizeSegs = prizeSegs[:MaxSegments-len(specials)]
	}
	for len(prizeSegs)+len(specials) < MinSegments {
		specials = append(specials, domain.SegmentUnlucky)
	}

	return interleave(prizeSegs, specials)
}

// interleave spreads the special segments over the wheel with an even
// stride. Slot i holds a special whenever floor((i+1)*s/n) steps up, so the
// specials land as far apart as the counts allow and the last slot is
// always special.
func interleave(prizes []*domain.PrizeDefinition, specials []domain.SegmentType) *Layout {
	n := len(prizes) + len(specials)
	s := len(specials)

	kinds := make([]domain.SegmentType, n)
	refs := make([]*domain.PrizeDefinition, n)

	pi, si := 0, 0
	for i := 0; i < n; i++ {
		if (i+1)*s/n > i*s/n {
			kinds[i] = specials[si]
			si++
			continue
		}
		kinds[i] = domain.SegmentPrize
		refs[i] = prizes[pi]
		pi++
	}

	return build(kinds, refs)
}

func build(kinds []domain.SegmentType, prizes []*domain.PrizeDefinition) *Layout {
	extent := 360.0 / float64(len(kinds))
	layout := &Layout{
		Segments: make([]Segment, len(kinds)),
		Extent:   extent,
	}
	for i, kind := range kinds {
		seg := Segment{
			Index:  i,
			Type:   kind,
			Start:  float64(i) * extent,
			Extent: extent,
		}
		if prizes != nil {
			seg.Prize = prizes[i]
		}
		layout.Segments[i] = seg
	}
	return layout
}

// ValidPrizes returns the catalog prizes the wheel can show, in catalog
// order. Entries without an id, with a negative or non-finite weight, or
// repeating an earlier id are dropped.
func ValidPrizes(prizes []domain.PrizeDefinition) []domain.PrizeDefinition {
	out := make([]domain.PrizeDefinition, 0, len(prizes))
	seen := make(map[string]bool, len(prizes))
	for _, p := range prizes {
		if p.ID == "" || seen[p.ID] || !validWeight(p.Weight) {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

func validWeight(w float64) bool {
	return w >= 0 && !math.IsNaN(w) && !math.IsInf(w, 0)
}
