// Package notify fans spin outcomes out to merchant and customer channels.
// Delivery is fire-and-forget: failures are logged and counted, never
// returned to the caller.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/alexbotov/prizewheel/internal/metrics"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// ErrSkipped is returned by a sink that has nothing to deliver for an event
var ErrSkipped = errors.New("notification skipped")

// SpinResolved is emitted once per resolved spin
type SpinResolved struct {
	SessionID       string             `json:"session_id"`
	MerchantID      string             `json:"merchant_id"`
	MerchantName    string             `json:"merchant_name"`
	SpinRecordID    string             `json:"spin_record_id,omitempty"`
	SpinNumber      int                `json:"spin_number"`
	Outcome         domain.SegmentType `json:"outcome"`
	PrizeID         string             `json:"prize_id,omitempty"`
	PrizeName       string             `json:"prize_name,omitempty"`
	CouponCode      string             `json:"coupon_code,omitempty"`
	CouponExpiresAt *time.Time         `json:"coupon_expires_at,omitempty"`
	RedeemURL       string             `json:"redeem_url,omitempty"`
	SaveError       bool               `json:"save_error"`
	ResolvedAt      time.Time          `json:"resolved_at"`
	CustomerPhone   string             `json:"-"`
}

// Sink delivers events to one channel
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev *SpinResolved) error
}

// Dispatcher delivers each event to every sink concurrently
type Dispatcher struct {
	mu      sync.RWMutex
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A zero timeout uses 10s.
func NewDispatcher(timeout time.Duration, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
	}
}

// Add registers another sink
func (d *Dispatcher) Add(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Dispatch starts delivery and returns immediately
func (d *Dispatcher) Dispatch(ev SpinResolved) {
	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, s := range sinks {
		d.wg.Add(1)
		go d.deliver(s, ev)
	}
}

func (d *Dispatcher) deliver(s Sink, ev SpinResolved) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sink panicked",
				zap.String("sink", s.Name()), zap.Any("panic", r))
			metrics.NotificationFailures.WithLabelValues(s.Name()).Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := s.Deliver(ctx, &ev)
	switch {
	case err == nil, errors.Is(err, ErrSkipped):
		return
	default:
		d.logger.Warn("notification failed",
			zap.String("sink", s.Name()),
			zap.String("session_id", ev.SessionID),
			zap.String("merchant_id", ev.MerchantID),
			zap.Error(err))
		metrics.NotificationFailures.WithLabelValues(s.Name()).Inc()
	}
}

// Wait blocks until in-flight deliveries finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
