// Package session holds the in-memory spin session state machine.
//
// A session starts idle with one spin. Spinning consumes the spin up front;
// the drawn outcome is only applied once the rotation animation has had
// time to finish.
//
//	idle -> spinning -> resolved_prize -> spinning ...
//	                 -> resolved_retry -> idle (spin refunded)
//	                 -> resolved_lost  (terminal)
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/alexbotov/prizewheel/internal/wheel"
	"github.com/looplab/fsm"
)

// State names
const (
	StateIdle          = "idle"
	StateSpinning      = "spinning"
	StateResolvedPrize = "resolved_prize"
	StateResolvedRetry = "resolved_retry"
	StateResolvedLost  = "resolved_lost"
)

// Event names
const (
	EventSpin  = "spin"
	EventWin   = "win"
	EventRetry = "retry"
	EventLose  = "lose"
	EventRearm = "rearm"
)

// InitialSpins is the number of spins a fresh session is granted
const InitialSpins = 1

var (
	ErrNoSpinsLeft    = errors.New("no spins remaining")
	ErrSpinInProgress = errors.New("spin already in progress")
	ErrSessionOver    = errors.New("session is over")
	ErrNotSpinning    = errors.New("no spin to resolve")
	ErrStillSpinning  = errors.New("wheel is still spinning")
)

// Spin is a drawn but not yet applied spin
type Spin struct {
	Number    int           `json:"number"`
	Segment   wheel.Segment `json:"segment"`
	Plan      *wheel.Plan   `json:"plan"`
	StartedAt time.Time     `json:"started_at"`
	RevealAt  time.Time     `json:"reveal_at"`
}

// Outcome is the applied result of a spin together with what was persisted
// for it.
type Outcome struct {
	SpinNumber     int                     `json:"spin_number"`
	Type           domain.SegmentType      `json:"type"`
	Prize          *domain.PrizeDefinition `json:"prize,omitempty"`
	State          string                  `json:"state"`
	SpinsRemaining int                     `json:"spins_remaining"`
	Terminal       bool                    `json:"terminal"`
	ResolvedAt     time.Time               `json:"resolved_at"`

	SpinRecordID string         `json:"spin_record_id,omitempty"`
	Coupon       *domain.Coupon `json:"coupon,omitempty"`
	RedeemURL    string         `json:"redeem_url,omitempty"`
	SaveError    bool           `json:"save_error"`
	Message      string         `json:"message,omitempty"`
}

// Session is one device's visit to a merchant wheel
type Session struct {
	ID            string
	MerchantID    string
	MerchantName  string
	DeviceHash    string
	CustomerPhone string
	PlayDay       string
	Layout        *wheel.Layout
	Weights       wheel.Weights
	CreatedAt     time.Time

	mu             sync.Mutex
	settleMu       sync.Mutex
	machine        *fsm.FSM
	spinsRemaining int
	rotation       float64
	terminal       bool
	spins          int
	pending        *Spin
	last           *Outcome
	touchedAt      time.Time
}

// New creates an idle session over a composed layout
func New(id, merchantID string, layout *wheel.Layout, weights wheel.Weights, now time.Time) *Session {
	s := &Session{
		ID:             id,
		MerchantID:     merchantID,
		Layout:         layout,
		Weights:        weights,
		CreatedAt:      now,
		spinsRemaining: InitialSpins,
		touchedAt:      now,
	}

	s.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventSpin, Src: []string{StateIdle, StateResolvedPrize}, Dst: StateSpinning},
			{Name: EventWin, Src: []string{StateSpinning}, Dst: StateResolvedPrize},
			{Name: EventRetry, Src: []string{StateSpinning}, Dst: StateResolvedRetry},
			{Name: EventLose, Src: []string{StateSpinning}, Dst: StateResolvedLost},
			{Name: EventRearm, Src: []string{StateResolvedRetry}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_" + StateSpinning: func(_ context.Context, _ *fsm.Event) {
				s.spinsRemaining--
			},
			"enter_" + StateResolvedRetry: func(_ context.Context, _ *fsm.Event) {
				s.spinsRemaining++
			},
			"enter_" + StateResolvedLost: func(_ context.Context, _ *fsm.Event) {
				s.terminal = true
			},
		},
	)

	return s
}

// Spin draws the outcome and the landing rotation, then enters spinning.
// Guard failures return an error and leave the session untouched. The spin
// is consumed on entry and never refunded except by a retry outcome.
func (s *Session) Spin(now time.Time, src wheel.Source, animation time.Duration) (*Spin, error) {
	s.settleMu.Lock()
	defer s.settleMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.terminal:
		return nil, ErrSessionOver
	case s.machine.Current() == StateSpinning:
		return nil, ErrSpinInProgress
	case s.spinsRemaining <= 0:
		return nil, ErrNoSpinsLeft
	case !s.machine.Can(EventSpin):
		return nil, ErrSessionOver
	}

	idx, err := wheel.Select(s.Layout, s.Weights, src)
	if err != nil {
		return nil, err
	}
	plan, err := wheel.PlanRotation(idx, s.Layout.Extent, s.rotation, src)
	if err != nil {
		return nil, err
	}

	if err := s.machine.Event(context.Background(), EventSpin); err != nil {
		return nil, fmt.Errorf("failed to enter spinning: %w", err)
	}

	s.spins++
	s.rotation = plan.Rotation
	s.pending = &Spin{
		Number:    s.spins,
		Segment:   s.Layout.Segments[idx],
		Plan:      plan,
		StartedAt: now,
		RevealAt:  now.Add(animation),
	}
	s.touchedAt = now

	spin := *s.pending
	return &spin, nil
}

// Resolve applies the pending spin once its reveal time has passed.
func (s *Session) Resolve(now time.Time) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(now)
}

func (s *Session) resolveLocked(now time.Time) (*Outcome, error) {
	if s.pending == nil {
		return nil, ErrNotSpinning
	}
	if now.Before(s.pending.RevealAt) {
		return nil, ErrStillSpinning
	}

	spin := s.pending
	ctx := context.Background()

	var err error
	switch spin.Segment.Type {
	case domain.SegmentPrize:
		err = s.machine.Event(ctx, EventWin)
	case domain.SegmentRetry:
		if err = s.machine.Event(ctx, EventRetry); err == nil {
			err = s.machine.Event(ctx, EventRearm)
		}
	default:
		err = s.machine.Event(ctx, EventLose)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply outcome: %w", err)
	}

	s.pending = nil
	s.touchedAt = now
	s.last = &Outcome{
		SpinNumber:     spin.Number,
		Type:           spin.Segment.Type,
		Prize:          spin.Segment.Prize,
		State:          s.machine.Current(),
		SpinsRemaining: s.spinsRemaining,
		Terminal:       s.terminal,
		ResolvedAt:     now,
	}
	outcome := *s.last
	return &outcome, nil
}

// Settle resolves the pending spin and runs persist on the outcome exactly
// once. Concurrent or repeated callers for an already settled spin get the
// same outcome back.
func (s *Session) Settle(now time.Time, persist func(*Outcome)) (*Outcome, error) {
	s.settleMu.Lock()
	defer s.settleMu.Unlock()

	s.mu.Lock()
	if s.pending == nil {
		defer s.mu.Unlock()
		if s.last == nil {
			return nil, ErrNotSpinning
		}
		last := *s.last
		return &last, nil
	}
	outcome, err := s.resolveLocked(now)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if persist != nil {
		persist(outcome)
	}

	s.mu.Lock()
	stored := *outcome
	s.last = &stored
	s.mu.Unlock()
	return outcome, nil
}

// State returns the current state machine state
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// SpinsRemaining returns the number of spins left
func (s *Session) SpinsRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spinsRemaining
}

// Terminal reports whether the session has ended on an unlucky outcome
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Pending returns the spin awaiting resolution, if any
func (s *Session) Pending() *Spin {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	spin := *s.pending
	return &spin
}

// View is a point-in-time copy of a session for callers outside the package
type View struct {
	ID             string        `json:"id"`
	MerchantID     string        `json:"merchant_id"`
	State          string        `json:"state"`
	SpinsRemaining int           `json:"spins_remaining"`
	Rotation       float64       `json:"rotation"`
	Terminal       bool          `json:"terminal"`
	Layout         *wheel.Layout `json:"layout"`
	Pending        *Spin         `json:"pending,omitempty"`
	Last           *Outcome      `json:"last,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Snapshot returns a View of the session
func (s *Session) Snapshot() *View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &View{
		ID:             s.ID,
		MerchantID:     s.MerchantID,
		State:          s.machine.Current(),
		SpinsRemaining: s.spinsRemaining,
		Rotation:       s.rotation,
		Terminal:       s.terminal,
		Layout:         s.Layout,
		CreatedAt:      s.CreatedAt,
	}
	if s.pending != nil {
		spin := *s.pending
		v.Pending = &spin
	}
	if s.last != nil {
		last := *s.last
		v.Last = &last
	}
	return v
}

// idleSince reports when the session last changed and whether a spin is
// still waiting to be resolved.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil && s.pending.RevealAt.After(s.touchedAt) {
		return s.pending.RevealAt, true
	}
	return s.touchedAt, s.pending != nil
}
