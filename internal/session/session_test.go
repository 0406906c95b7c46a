package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/alexbotov/prizewheel/internal/wheel"
	"go.uber.org/zap"
)

type fixedSource struct {
	f   float64
	err error
}

func (s fixedSource) GenerateFloat() (float64, error) {
	return s.f, s.err
}

func (s fixedSource) GenerateIntRange(min, max int64) (int64, error) {
	return min, s.err
}

// Layout is P P U P P R with shares 12.5 12.5 30 12.5 12.5 20
var (
	drawPrize   = fixedSource{f: 0.10}
	drawUnlucky = fixedSource{f: 0.30}
	drawRetry   = fixedSource{f: 0.95}
)

const animation = 5 * time.Second

func newTestSession(now time.Time) *Session {
	c := domain.Catalog{
		MerchantID: "m1",
		Prizes:     []domain.PrizeDefinition{{ID: "p1", Name: "Free coffee", Weight: 50}},
		Unlucky:    domain.SpecialSegmentConfig{Weight: 30},
		Retry:      domain.SpecialSegmentConfig{Weight: 20},
	}
	return New("s1", c.MerchantID, wheel.Compose(c), wheel.WeightsOf(c), now)
}

func TestSessionSpin(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("StartsIdleWithOneSpin", func(t *testing.T) {
		s := newTestSession(start)
		if s.State() != StateIdle {
			t.Errorf("Expected idle, got %s", s.State())
		}
		if s.SpinsRemaining() != InitialSpins {
			t.Errorf("Expected %d spins, got %d", InitialSpins, s.SpinsRemaining())
		}
	})

	t.Run("ConsumesSpinOnEntry", func(t *testing.T) {
		s := newTestSession(start)
		spin, err := s.Spin(start, drawPrize, animation)
		if err != nil {
			t.Fatalf("Spin failed: %v", err)
		}
		if s.State() != StateSpinning {
			t.Errorf("Expected spinning, got %s", s.State())
		}
		if s.SpinsRemaining() != 0 {
			t.Errorf("Expected 0 spins, got %d", s.SpinsRemaining())
		}
		if spin.Segment.Type != domain.SegmentPrize {
			t.Errorf("Expected prize segment, got %s", spin.Segment.Type)
		}
		if !spin.RevealAt.Equal(start.Add(animation)) {
			t.Errorf("Unexpected reveal time %v", spin.RevealAt)
		}
		if got := wheel.SegmentAtPointer(spin.Plan.Rotation, s.Layout.Len()); got != spin.Segment.Index {
			t.Errorf("Rotation lands on %d, drawn %d", got, spin.Segment.Index)
		}
	})

	t.Run("RejectsSecondSpinWhileSpinning", func(t *testing.T) {
		s := newTestSession(start)
		first, _ := s.Spin(start, drawPrize, animation)
		before := s.Snapshot()

		if _, err := s.Spin(start.Add(time.Second), drawRetry, animation); !errors.Is(err, ErrSpinInProgress) {
			t.Fatalf("Expected ErrSpinInProgress, got %v", err)
		}

		after := s.Snapshot()
		if after.SpinsRemaining != before.SpinsRemaining || after.Rotation != before.Rotation {
			t.Error("Rejected spin mutated the session")
		}
		if after.Pending.Number != first.Number {
			t.Error("Rejected spin replaced the pending spin")
		}
	})

	t.Run("SourceFailureLeavesSessionUntouched", func(t *testing.T) {
		s := newTestSession(start)
		if _, err := s.Spin(start, fixedSource{err: errors.New("entropy gone")}, animation); err == nil {
			t.Fatal("Expected error")
		}
		if s.State() != StateIdle || s.SpinsRemaining() != 1 {
			t.Errorf("Session mutated: %s with %d spins", s.State(), s.SpinsRemaining())
		}
	})
}

func TestSessionResolve(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	reveal := start.Add(animation)

	t.Run("WaitsForAnimation", func(t *testing.T) {
		s := newTestSession(start)
		s.Spin(start, drawPrize, animation)
		if _, err := s.Resolve(reveal.Add(-time.Millisecond)); !errors.Is(err, ErrStillSpinning) {
			t.Fatalf("Expected ErrStillSpinning, got %v", err)
		}
		if s.State() != StateSpinning {
			t.Errorf("Expected spinning, got %s", s.State())
		}
	})

	t.Run("NothingToResolve", func(t *testing.T) {
		s := newTestSession(start)
		if _, err := s.Resolve(reveal); !errors.Is(err, ErrNotSpinning) {
			t.Errorf("Expected ErrNotSpinning, got %v", err)
		}
	})

	t.Run("RetryRefundsOneSpin", func(t *testing.T) {
		s := newTestSession(start)
		s.Spin(start, drawRetry, animation)
		out, err := s.Resolve(reveal)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if out.Type != domain.SegmentRetry {
			t.Fatalf("Expected retry, got %s", out.Type)
		}
		if s.State() != StateIdle || s.SpinsRemaining() != 1 {
			t.Errorf("Expected idle with 1 spin, got %s with %d", s.State(), s.SpinsRemaining())
		}
		if _, err := s.Spin(reveal, drawPrize, animation); err != nil {
			t.Errorf("Spin after retry failed: %v", err)
		}
	})

	t.Run("UnluckyIsTerminal", func(t *testing.T) {
		s := newTestSession(start)
		s.Spin(start, drawUnlucky, animation)
		out, err := s.Resolve(reveal)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !out.Terminal || s.State() != StateResolvedLost {
			t.Fatalf("Expected terminal lost state, got %s", s.State())
		}
		if _, err := s.Spin(reveal, drawPrize, animation); !errors.Is(err, ErrSessionOver) {
			t.Errorf("Expected ErrSessionOver, got %v", err)
		}
	})

	t.Run("PrizeConsumesLastSpin", func(t *testing.T) {
		s := newTestSession(start)
		s.Spin(start, drawPrize, animation)
		out, err := s.Resolve(reveal)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if out.Prize == nil || out.Prize.ID != "p1" {
			t.Fatalf("Expected prize p1, got %+v", out.Prize)
		}
		if s.State() != StateResolvedPrize {
			t.Errorf("Expected resolved_prize, got %s", s.State())
		}
		if _, err := s.Spin(reveal, drawPrize, animation); !errors.Is(err, ErrNoSpinsLeft) {
			t.Errorf("Expected ErrNoSpinsLeft, got %v", err)
		}
	})

	t.Run("RotationAccumulates", func(t *testing.T) {
		s := newTestSession(start)
		first, _ := s.Spin(start, drawRetry, animation)
		s.Resolve(reveal)
		second, err := s.Spin(reveal, drawRetry, animation)
		if err != nil {
			t.Fatalf("Second spin failed: %v", err)
		}
		if second.Plan.Previous != first.Plan.Rotation || second.Plan.Rotation <= first.Plan.Rotation {
			t.Errorf("Rotation did not accumulate: %v then %v", first.Plan.Rotation, second.Plan.Rotation)
		}
	})
}

func TestSessionSettle(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	reveal := start.Add(animation)

	t.Run("PersistsExactlyOnce", func(t *testing.T) {
		s := newTestSession(start)
		s.Spin(start, drawPrize, animation)

		var calls int32
		persist := func(o *Outcome) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(10 * time.Millisecond)
			o.SpinRecordID = "rec-1"
		}

		var wg sync.WaitGroup
		results := make([]*Outcome, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out, err := s.Settle(reveal, persist)
				if err != nil {
					t.Errorf("Settle failed: %v", err)
					return
				}
				results[i] = out
			}(i)
		}
		wg.Wait()

		if calls != 1 {
			t.Errorf("Expected persist once, got %d", calls)
		}
		for _, out := range results {
			if out != nil && out.SpinRecordID != "rec-1" {
				t.Errorf("Caller saw outcome without persisted record: %+v", out)
			}
		}
		if last := s.Snapshot().Last; last == nil || last.SpinRecordID != "rec-1" {
			t.Error("Snapshot does not carry the persisted outcome")
		}
	})

	t.Run("DoesNotPersistEarly", func(t *testing.T) {
		s := newTestSession(start)
		s.Spin(start, drawPrize, animation)
		called := false
		if _, err := s.Settle(start, func(*Outcome) { called = true }); !errors.Is(err, ErrStillSpinning) {
			t.Fatalf("Expected ErrStillSpinning, got %v", err)
		}
		if called {
			t.Error("persist ran before the reveal")
		}
	})

	t.Run("NothingToSettle", func(t *testing.T) {
		s := newTestSession(start)
		if _, err := s.Settle(reveal, nil); !errors.Is(err, ErrNotSpinning) {
			t.Errorf("Expected ErrNotSpinning, got %v", err)
		}
	})
}

func TestRegistry(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("PutGet", func(t *testing.T) {
		r := NewRegistry(time.Minute, zap.NewNop())
		s := newTestSession(now)
		r.Put(s)
		got, err := r.Get(s.ID)
		if err != nil || got != s {
			t.Fatalf("Get failed: %v", err)
		}
		if _, err := r.Get("unknown"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SweepKeepsSpinningSessions", func(t *testing.T) {
		r := NewRegistry(time.Minute, nil)

		idle := newTestSession(now)
		idle.ID = "idle"
		spinning := newTestSession(now)
		spinning.ID = "spinning"
		spinning.Spin(now, drawPrize, animation)
		fresh := newTestSession(now.Add(5 * time.Minute))
		fresh.ID = "fresh"

		r.Put(idle)
		r.Put(spinning)
		r.Put(fresh)

		// the spin reveals at now+5s, so it outlives the idle session by 5s
		if n := r.Sweep(now.Add(time.Minute)); n != 1 {
			t.Errorf("Expected 1 swept, got %d", n)
		}
		if _, err := r.Get("idle"); !errors.Is(err, ErrNotFound) {
			t.Error("idle session should be swept")
		}
		if r.Len() != 2 {
			t.Errorf("Expected 2 live sessions, got %d", r.Len())
		}
	})

	t.Run("SweepEvictsAbandonedSpin", func(t *testing.T) {
		r := NewRegistry(time.Minute, nil)
		s := newTestSession(now)
		if _, err := s.Spin(now, drawPrize, animation); err != nil {
			t.Fatalf("Spin failed: %v", err)
		}
		r.Put(s)

		if n := r.Sweep(now.Add(animation + time.Minute - time.Second)); n != 0 {
			t.Errorf("Spin inside reveal plus TTL should be kept, swept %d", n)
		}
		if n := r.Sweep(now.Add(animation + time.Minute)); n != 1 {
			t.Errorf("Expected abandoned spin swept, got %d", n)
		}
		if r.Len() != 0 {
			t.Errorf("Expected no live sessions, got %d", r.Len())
		}
	})

	t.Run("CleanupIgnoresNonPositiveInterval", func(t *testing.T) {
		r := NewRegistry(time.Minute, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		r.StartCleanup(ctx, 0)
		r.StartCleanup(ctx, -time.Second)
	})
}
