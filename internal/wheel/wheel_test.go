package wheel

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/alexbotov/prizewheel/internal/rng"
)

// fixedSource returns the same float and turn count on every draw
type fixedSource struct {
	f     float64
	turns int64
	err   error
}

func (s fixedSource) GenerateFloat() (float64, error) {
	return s.f, s.err
}

func (s fixedSource) GenerateIntRange(min, max int64) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.turns < min || s.turns > max {
		return min, nil
	}
	return s.turns, nil
}

func catalogWith(n int) domain.Catalog {
	c := domain.Catalog{
		MerchantID:   "m1",
		MerchantName: "Joe's Coffee",
		Enabled:      true,
		Unlucky:      domain.SpecialSegmentConfig{Weight: 20},
		Retry:        domain.SpecialSegmentConfig{Weight: 10},
	}
	for i := 0; i < n; i++ {
		c.Prizes = append(c.Prizes, domain.PrizeDefinition{
			ID:     fmt.Sprintf("p%d", i+1),
			Name:   fmt.Sprintf("Prize %d", i+1),
			Weight: 10,
		})
	}
	return c
}

func typesOf(l *Layout) string {
	out := ""
	for _, seg := range l.Segments {
		switch seg.Type {
		case domain.SegmentPrize:
			out += "P"
		case domain.SegmentUnlucky:
			out += "U"
		case domain.SegmentRetry:
			out += "R"
		}
	}
	return out
}

func TestCompose(t *testing.T) {
	t.Run("SegmentCountInvariant", func(t *testing.T) {
		for _, n := range []int{0, 1, 2, 3, 4, 5, 6, 7, 20} {
			l := Compose(catalogWith(n))
			if l.Len() < MinSegments || l.Len() > MaxSegments {
				t.Errorf("%d prizes: got %d segments", n, l.Len())
			}
			if l.Count(domain.SegmentUnlucky) < 1 || l.Count(domain.SegmentRetry) < 1 {
				t.Errorf("%d prizes: missing special segment in %s", n, typesOf(l))
			}
		}
	})

	t.Run("EqualExtents", func(t *testing.T) {
		for _, n := range []int{0, 1, 5, 6} {
			l := Compose(catalogWith(n))
			want := 360.0 / float64(l.Len())
			for i, seg := range l.Segments {
				if seg.Extent != want || seg.Index != i {
					t.Errorf("segment %d: extent %v index %d", i, seg.Extent, seg.Index)
				}
				if math.Abs(seg.Start-float64(i)*want) > 1e-9 {
					t.Errorf("segment %d starts at %v", i, seg.Start)
				}
			}
		}
	})

	t.Run("EmptyCatalogAlternatesSpecials", func(t *testing.T) {
		l := Compose(catalogWith(0))
		if got := typesOf(l); got != "URURUR" {
			t.Errorf("Expected URURUR, got %s", got)
		}
	})

	t.Run("SinglePrizeDuplicated", func(t *testing.T) {
		l := Compose(catalogWith(1))
		if got := typesOf(l); got != "PPUPPR" {
			t.Errorf("Expected PPUPPR, got %s", got)
		}
		for _, seg := range l.Segments {
			if seg.Type == domain.SegmentPrize && seg.Prize.ID != "p1" {
				t.Errorf("Unexpected prize %s", seg.Prize.ID)
			}
		}
	})

	t.Run("TwoPrizesRoundRobin", func(t *testing.T) {
		l := Compose(catalogWith(2))
		var ids []string
		for _, seg := range l.Segments {
			if seg.Type == domain.SegmentPrize {
				ids = append(ids, seg.Prize.ID)
			}
		}
		want := []string{"p1", "p2", "p1", "p2"}
		if fmt.Sprint(ids) != fmt.Sprint(want) {
			t.Errorf("Expected %v, got %v", want, ids)
		}
	})

	t.Run("ThreePrizesPaddedWithUnlucky", func(t *testing.T) {
		l := Compose(catalogWith(3))
		if l.Len() != 6 || l.Count(domain.SegmentUnlucky) != 2 || l.Count(domain.SegmentRetry) != 1 {
			t.Errorf("Unexpected layout %s", typesOf(l))
		}
	})

	t.Run("TruncatesPrizesInCatalogOrder", func(t *testing.T) {
		l := Compose(catalogWith(20))
		if l.Len() != MaxSegments {
			t.Fatalf("Expected %d segments, got %d", MaxSegments, l.Len())
		}
		var ids []string
		for _, seg := range l.Segments {
			if seg.Type == domain.SegmentPrize {
				ids = append(ids, seg.Prize.ID)
			}
		}
		want := []string{"p1", "p2", "p3", "p4", "p5", "p6"}
		if fmt.Sprint(ids) != fmt.Sprint(want) {
			t.Errorf("Expected %v, got %v", want, ids)
		}
	})

	t.Run("NoLongRuns", func(t *testing.T) {
		for _, n := range []int{1, 2, 3, 4, 5, 6} {
			got := typesOf(Compose(catalogWith(n)))
			run := 0
			for _, c := range got {
				if c == 'P' {
					run++
					if run > 3 {
						t.Errorf("%d prizes: run of prizes in %s", n, got)
						break
					}
				} else {
					run = 0
				}
			}
			if got[len(got)-1] == 'P' {
				t.Errorf("%d prizes: last slot should be special in %s", n, got)
			}
		}
	})

	t.Run("DropsInvalidPrizes", func(t *testing.T) {
		c := catalogWith(0)
		c.Prizes = []domain.PrizeDefinition{
			{ID: "", Name: "no id", Weight: 10},
			{ID: "neg", Name: "negative", Weight: -1},
			{ID: "nan", Name: "nan", Weight: math.NaN()},
			{ID: "ok", Name: "fine", Weight: 5},
			{ID: "ok", Name: "duplicate", Weight: 5},
		}
		l := Compose(c)
		for _, seg := range l.Segments {
			if seg.Type == domain.SegmentPrize && seg.Prize.ID != "ok" {
				t.Errorf("Invalid prize %q composed", seg.Prize.ID)
			}
		}
		if l.Count(domain.SegmentPrize) != MinPrizeSegments {
			t.Errorf("Expected %d prize segments, got %d", MinPrizeSegments, l.Count(domain.SegmentPrize))
		}
	})
}

func TestSelect(t *testing.T) {
	t.Run("SinglePrizeScenario", func(t *testing.T) {
		c := domain.Catalog{
			Prizes:  []domain.PrizeDefinition{{ID: "p1", Name: "Free coffee", Weight: 50}},
			Unlucky: domain.SpecialSegmentConfig{Weight: 30},
			Retry:   domain.SpecialSegmentConfig{Weight: 20},
		}
		l := Compose(c)
		if l.Len() != 6 || l.Count(domain.SegmentPrize) < 4 {
			t.Fatalf("Unexpected layout %s", typesOf(l))
		}

		w := WeightsOf(c)
		_, total := Shares(l, w)
		if total != 100 {
			t.Fatalf("Expected total 100, got %v", total)
		}

		if idx := SelectAt(l, w, 0.1*total); l.Segments[idx].Type != domain.SegmentPrize {
			t.Errorf("r=0.1*total selected %s", l.Segments[idx].Type)
		}
		if idx := SelectAt(l, w, 0.95*total); !l.Segments[idx].Type.IsSpecial() {
			t.Errorf("r=0.95*total selected %s", l.Segments[idx].Type)
		}
	})

	t.Run("FallsBackToLastSegment", func(t *testing.T) {
		c := catalogWith(2)
		l := Compose(c)
		if idx := SelectAt(l, WeightsOf(c), 1e9); idx != l.Len()-1 {
			t.Errorf("Expected fallback to last segment, got %d", idx)
		}
	})

	t.Run("SkipsZeroWeightSegments", func(t *testing.T) {
		c := catalogWith(1)
		c.Prizes[0].Weight = 0
		c.Unlucky.Weight = 0
		c.Retry.Weight = 5
		l := Compose(c)
		for _, r := range []float64{0, 1, 4.99} {
			idx := SelectAt(l, WeightsOf(c), r)
			if l.Segments[idx].Type != domain.SegmentRetry {
				t.Errorf("r=%v selected %s", r, l.Segments[idx].Type)
			}
		}
	})

	t.Run("UniformWhenNoWeight", func(t *testing.T) {
		c := catalogWith(1)
		c.Prizes[0].Weight = 0
		c.Unlucky.Weight = 0
		c.Retry.Weight = 0
		l := Compose(c)
		idx, err := Select(l, WeightsOf(c), fixedSource{f: 0.99})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if idx != l.Len()-1 {
			t.Errorf("Expected index %d, got %d", l.Len()-1, idx)
		}
	})

	t.Run("PropagatesSourceError", func(t *testing.T) {
		c := catalogWith(1)
		_, err := Select(Compose(c), WeightsOf(c), fixedSource{err: errors.New("entropy gone")})
		if err == nil {
			t.Error("Expected error from failing source")
		}
	})

	t.Run("WeightedConvergence", func(t *testing.T) {
		c := domain.Catalog{
			Prizes: []domain.PrizeDefinition{
				{ID: "A", Name: "A", Weight: 10},
				{ID: "B", Name: "B", Weight: 30},
			},
			Unlucky: domain.SpecialSegmentConfig{Weight: 20},
			Retry:   domain.SpecialSegmentConfig{Weight: 10},
		}
		l := Compose(c)
		w := WeightsOf(c)
		src := rng.New()

		const draws = 100000
		counts := make(map[string]int)
		for i := 0; i < draws; i++ {
			idx, err := Select(l, w, src)
			if err != nil {
				t.Fatalf("Select failed: %v", err)
			}
			counts[segmentKey(l.Segments[idx])]++
		}

		expected := map[string]float64{
			"prize:A": 10.0 / 70,
			"prize:B": 30.0 / 70,
			"unlucky": 20.0 / 70,
			"retry":   10.0 / 70,
		}
		for key, want := range expected {
			got := float64(counts[key]) / draws
			if math.Abs(got-want) > 0.01 {
				t.Errorf("%s: expected %.4f, got %.4f", key, want, got)
			}
		}
	})
}

func TestPlanRotation(t *testing.T) {
	t.Run("LandsOnWinningSegment", func(t *testing.T) {
		for _, n := range []int{6, 7, 8} {
			extent := 360.0 / float64(n)
			for i := 0; i < n; i++ {
				for _, prev := range []float64{0, 17.5, 359.9, 2345.25, -120} {
					for _, f := range []float64{0, 0.25, 0.5, 0.999999} {
						plan, err := PlanRotation(i, extent, prev, fixedSource{f: f, turns: 6})
						if err != nil {
							t.Fatalf("PlanRotation failed: %v", err)
						}
						if got := SegmentAtPointer(plan.Rotation, n); got != i {
							t.Errorf("n=%d i=%d prev=%v f=%v: pointer on %d", n, i, prev, f, got)
						}
					}
				}
			}
		}
	})

	t.Run("MonotonicWholeTurns", func(t *testing.T) {
		prev := 0.0
		src := rng.New()
		for spin := 0; spin < 50; spin++ {
			plan, err := PlanRotation(spin%6, 60, prev, src)
			if err != nil {
				t.Fatalf("PlanRotation failed: %v", err)
			}
			if plan.Rotation <= prev {
				t.Fatalf("Rotation did not increase: %v -> %v", prev, plan.Rotation)
			}
			if plan.ExtraTurns < MinExtraTurns || plan.ExtraTurns > MaxExtraTurns {
				t.Errorf("Extra turns %d out of range", plan.ExtraTurns)
			}
			if plan.Delta < 0 || plan.Delta >= 360 {
				t.Errorf("Delta %v out of [0, 360)", plan.Delta)
			}
			if math.Abs(plan.Jitter) > JitterFraction*60+1e-9 {
				t.Errorf("Jitter %v exceeds bound", plan.Jitter)
			}
			if got := SegmentAtPointer(plan.Rotation, 6); got != spin%6 {
				t.Errorf("spin %d: pointer on %d, want %d", spin, got, spin%6)
			}
			prev = plan.Rotation
		}
	})

	t.Run("RejectsBadInput", func(t *testing.T) {
		if _, err := PlanRotation(0, 0, 0, fixedSource{}); err == nil {
			t.Error("Expected error for zero extent")
		}
		if _, err := PlanRotation(6, 60, 0, fixedSource{}); err == nil {
			t.Error("Expected error for index past the wheel")
		}
	})
}

func TestSegmentAtPointer(t *testing.T) {
	// rotating the wheel backwards by one extent puts segment 1 on top
	if got := SegmentAtPointer(-90, 6); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
	if got := SegmentAtPointer(-30, 6); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
	if got := SegmentAtPointer(30, 6); got != 5 {
		t.Errorf("Expected 5, got %d", got)
	}
}

func TestBuildPreview(t *testing.T) {
	c := domain.Catalog{
		Prizes: []domain.PrizeDefinition{
			{ID: "A", Name: "Cookie", Weight: 10, Quantity: 2},
			{ID: "B", Name: "Coffee", Weight: 30, Quantity: 1},
		},
		Unlucky: domain.SpecialSegmentConfig{Weight: 20, Quantity: 2},
		Retry:   domain.SpecialSegmentConfig{Weight: 10, Quantity: 1},
	}

	p := BuildPreview(c)
	if len(p.Configured) != 6 {
		t.Errorf("Expected 6 configured slices, got %d", len(p.Configured))
	}
	if p.Runtime.Len() < MinSegments {
		t.Errorf("Runtime layout too small: %d", p.Runtime.Len())
	}
	if len(p.Odds) != 4 {
		t.Fatalf("Expected 4 odds entries, got %d", len(p.Odds))
	}

	sum := 0.0
	for _, o := range p.Odds {
		f, _ := o.Chance.Float64()
		sum += f
	}
	if math.Abs(sum-100) > 0.05 {
		t.Errorf("Chances should sum to ~100, got %v", sum)
	}
	if got := p.Odds[1].Chance.String(); got != "42.86" {
		t.Errorf("Expected 42.86 for B, got %s", got)
	}
}
