package wheel

import (
	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/shopspring/decimal"
)

// PreviewSlice is one entry of the merchant-configured visual wheel
type PreviewSlice struct {
	Type    domain.SegmentType `json:"type"`
	PrizeID string             `json:"prize_id,omitempty"`
	Name    string             `json:"name,omitempty"`
}

// Odds is the runtime chance of an outcome category, in percent
type Odds struct {
	Type     domain.SegmentType `json:"type"`
	PrizeID  string             `json:"prize_id,omitempty"`
	Name     string             `json:"name,omitempty"`
	Weight   decimal.Decimal    `json:"weight"`
	Chance   decimal.Decimal    `json:"chance"`
	Segments int                `json:"segments"`
}

// Preview is what a merchant sees when configuring the wheel: the slices as
// configured by quantity, the layout actually drawn from and the real odds.
type Preview struct {
	Configured []PreviewSlice `json:"configured"`
	Runtime    *Layout        `json:"runtime"`
	Odds       []Odds         `json:"odds"`
}

// BuildPreview renders the merchant preview for a catalog. Configured
// quantities only shape the preview; draws use weights over the composed
// layout.
func BuildPreview(c domain.Catalog) *Preview {
	layout := Compose(c)
	prizes := ValidPrizes(c.Prizes)

	configured := make([]PreviewSlice, 0)
	for _, p := range prizes {
		for i := 0; i < p.Quantity; i++ {
			configured = append(configured, PreviewSlice{
				Type:    domain.SegmentPrize,
				PrizeID: p.ID,
				Name:    p.Name,
			})
		}
	}
	for i := 0; i < c.Unlucky.Quantity; i++ {
		configured = append(configured, PreviewSlice{Type: domain.SegmentUnlucky})
	}
	for i := 0; i < c.Retry.Quantity; i++ {
		configured = append(configured, PreviewSlice{Type: domain.SegmentRetry})
	}

	w := WeightsOf(c)
	_, total := Shares(layout, w)
	totalDec := decimal.NewFromFloat(total)
	hundred := decimal.NewFromInt(100)

	chance := func(weight float64) decimal.Decimal {
		if total <= 0 {
			return decimal.Zero
		}
		return decimal.NewFromFloat(weight).Mul(hundred).Div(totalDec).Round(2)
	}

	counts := make(map[string]int)
	for _, seg := range layout.Segments {
		counts[segmentKey(seg)]++
	}

	odds := make([]Odds, 0, len(prizes)+2)
	for _, p := range prizes {
		n := counts["prize:"+p.ID]
		if n == 0 {
			continue
		}
		odds = append(odds, Odds{
			Type:     domain.SegmentPrize,
			PrizeID:  p.ID,
			Name:     p.Name,
			Weight:   decimal.NewFromFloat(p.Weight),
			Chance:   chance(p.Weight),
			Segments: n,
		})
	}
	for _, special := range []struct {
		kind   domain.SegmentType
		weight float64
	}{
		{domain.SegmentUnlucky, w.Unlucky},
		{domain.SegmentRetry, w.Retry},
	} {
		weight := special.weight
		if !validWeight(weight) {
			weight = 0
		}
		odds = append(odds, Odds{
			Type:     special.kind,
			Weight:   decimal.NewFromFloat(weight),
			Chance:   chance(weight),
			Segments: counts[string(special.kind)],
		})
	}

	return &Preview{
		Configured: configured,
		Runtime:    layout,
		Odds:       odds,
	}
}
