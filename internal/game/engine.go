// Package game orchestrates the prize wheel: eligibility, wheel composition,
// spins and the persistence and notifications that follow an outcome.
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexbotov/prizewheel/internal/audit"
	"github.com/alexbotov/prizewheel/internal/auth"
	"github.com/alexbotov/prizewheel/internal/coupon"
	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/alexbotov/prizewheel/internal/eligibility"
	"github.com/alexbotov/prizewheel/internal/metrics"
	"github.com/alexbotov/prizewheel/internal/notify"
	"github.com/alexbotov/prizewheel/internal/session"
	"github.com/alexbotov/prizewheel/internal/wheel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContactSupportMessage is shown when a result could not be saved
const ContactSupportMessage = "We could not save your result. Please contact the store or support and show this screen."

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var (
	ErrWheelDisabled = errors.New("wheel is disabled for this merchant")
	ErrForbidden     = errors.New("coupon belongs to another merchant")
)

// CatalogLoader reads merchant catalogs
type CatalogLoader interface {
	Load(ctx context.Context, merchantID string) (*domain.Catalog, error)
}

// Admitter is the eligibility gate
type Admitter interface {
	Admit(ctx context.Context, merchantID, deviceHash, sessionID string, now time.Time) (*domain.WheelEntry, error)
}

// SpinStore persists and lists spin records
type SpinStore interface {
	Record(ctx context.Context, rec *domain.SpinRecord) error
	History(ctx context.Context, merchantID string, limit int) ([]*domain.SpinRecord, error)
}

// CouponService issues and redeems coupons
type CouponService interface {
	Issue(ctx context.Context, req coupon.IssueRequest) (*domain.Coupon, error)
	Lookup(ctx context.Context, code string, now time.Time) (*domain.Coupon, domain.CouponStatus, error)
	Redeem(ctx context.Context, code string, now time.Time) (*domain.Coupon, error)
}

// RedeemSigner signs and verifies redemption link tokens
type RedeemSigner interface {
	IssueRedeemToken(code, merchantID string) (string, error)
	ParseRedeemToken(token string) (*auth.RedeemClaims, error)
}

// Notifier dispatches outcome events without blocking
type Notifier interface {
	Dispatch(ev notify.SpinResolved)
}

// Auditor stores significant events
type Auditor interface {
	LogEvent(ctx context.Context, event *domain.AuditEvent) error
}

// Deps are the collaborators of the engine
type Deps struct {
	Catalogs CatalogLoader
	Gate     Admitter
	Spins    SpinStore
	Coupons  CouponService
	Signer   RedeemSigner
	Notifier Notifier
	Audit    Auditor
	RNG      wheel.Source
	Sessions *session.Registry
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Options tune engine behaviour
type Options struct {
	AnimationDuration time.Duration
	// AutoResolve settles spins server-side once the animation has run
	AutoResolve   bool
	RedeemBaseURL string
}

// Engine runs wheel sessions
type Engine struct {
	catalogs CatalogLoader
	gate     Admitter
	spins    SpinStore
	coupons  CouponService
	signer   RedeemSigner
	notifier Notifier
	audit    Auditor
	rng      wheel.Source
	sessions *session.Registry
	logger   *zap.Logger
	now      func() time.Time
	opts     Options

	timersMu sync.Mutex
	timers   map[string]*time.Timer
	closed   bool
}

// New creates a new engine
func New(deps Deps, opts Options) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewRegistry(0, deps.Logger)
	}
	if opts.AnimationDuration <= 0 {
		opts.AnimationDuration = wheel.AnimationDuration
	}

	return &Engine{
		catalogs: deps.Catalogs,
		gate:     deps.Gate,
		spins:    deps.Spins,
		coupons:  deps.Coupons,
		signer:   deps.Signer,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		rng:      deps.RNG,
		sessions: deps.Sessions,
		logger:   deps.Logger,
		now:      deps.Clock,
		opts:     opts,
		timers:   make(map[string]*time.Timer),
	}
}

// StartRequest asks for a new wheel session
type StartRequest struct {
	MerchantID    string
	DeviceHash    string
	Location      *time.Location
	CustomerPhone string
	IPAddress     string
}

// StartSession admits the device and composes the merchant's wheel
func (e *Engine) StartSession(ctx context.Context, req *StartRequest) (*session.View, error) {
	c, err := e.catalogs.Load(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if !c.Enabled {
		metrics.SessionsDenied.WithLabelValues("disabled").Inc()
		e.record(ctx, audit.NewEvent(audit.EventWheelDisabled, domain.SeverityWarning,
			"Wheel requested while disabled", nil,
			audit.WithMerchant(req.MerchantID), audit.WithDevice(req.DeviceHash), audit.WithIP(req.IPAddress)))
		return nil, ErrWheelDisabled
	}

	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	now := e.now().In(loc)
	sessionID := uuid.New().String()

	entry, err := e.gate.Admit(ctx, req.MerchantID, req.DeviceHash, sessionID, now)
	if err != nil {
		reason := "unavailable"
		if errors.Is(err, eligibility.ErrAlreadyPlayed) {
			reason = "already_played"
		}
		metrics.SessionsDenied.WithLabelValues(reason).Inc()
		e.record(ctx, audit.NewEvent(audit.EventSessionDenied, domain.SeverityInfo,
			"Wheel session refused", map[string]string{"reason": reason},
			audit.WithMerchant(req.MerchantID), audit.WithDevice(req.DeviceHash), audit.WithIP(req.IPAddress)))
		return nil, err
	}

	layout := wheel.Compose(*c)
	if len(wheel.ValidPrizes(c.Prizes)) == 0 {
		e.record(ctx, audit.NewEvent(audit.EventCatalogDegraded, domain.SeverityWarning,
			"No valid prizes configured, serving an all-special wheel", nil,
			audit.WithMerchant(req.MerchantID)))
	}

	s := session.New(sessionID, req.MerchantID, layout, wheel.WeightsOf(*c), now)
	s.MerchantName = c.MerchantName
	s.DeviceHash = req.DeviceHash
	s.CustomerPhone = req.CustomerPhone
	s.PlayDay = entry.PlayDay
	e.sessions.Put(s)

	metrics.SessionsStarted.WithLabelValues(req.MerchantID).Inc()
	e.record(ctx, audit.NewEvent(audit.EventSessionStarted, domain.SeverityInfo,
		"Wheel session started",
		map[string]interface{}{"segments": layout.Len(), "play_day": entry.PlayDay},
		audit.WithMerchant(req.MerchantID), audit.WithDevice(req.DeviceHash),
		audit.WithSession(sessionID), audit.WithIP(req.IPAddress)))

	return s.Snapshot(), nil
}

// Session returns a view of a live session
func (e *Engine) Session(_ context.Context, sessionID string) (*session.View, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

// Spin draws the outcome and starts the animation window
func (e *Engine) Spin(ctx context.Context, sessionID string) (*session.Spin, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	spin, err := s.Spin(e.now(), e.rng, e.opts.AnimationDuration)
	if err != nil {
		return nil, err
	}

	e.record(ctx, audit.NewEvent(audit.EventSpinStarted, domain.SeverityInfo,
		fmt.Sprintf("Spin %d started", spin.Number),
		map[string]interface{}{
			"segment":  spin.Segment.Index,
			"rotation": spin.Plan.Rotation,
		},
		audit.WithMerchant(s.MerchantID), audit.WithSession(s.ID)))

	if e.opts.AutoResolve {
		e.scheduleResolve(sessionID, spin.RevealAt.Sub(e.now()))
	}
	return spin, nil
}

// Resolve applies the pending spin and persists its outcome. Repeated calls
// return the same outcome.
func (e *Engine) Resolve(ctx context.Context, sessionID string) (*session.Outcome, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	// persistence must finish even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	return s.Settle(e.now(), func(o *session.Outcome) {
		e.persist(ctx, s, o)
	})
}

func (e *Engine) persist(ctx context.Context, s *session.Session, o *session.Outcome) {
	log := e.logger.With(zap.String("session_id", s.ID), zap.String("merchant_id", s.MerchantID))
	metrics.SpinsResolved.WithLabelValues(string(o.Type)).Inc()

	rec := &domain.SpinRecord{
		ID:         uuid.New().String(),
		MerchantID: s.MerchantID,
		DeviceHash: s.DeviceHash,
		SessionID:  s.ID,
		Outcome:    o.Type,
		CreatedAt:  o.ResolvedAt.UTC(),
	}
	if o.Prize != nil {
		prizeID := o.Prize.ID
		rec.PrizeID = &prizeID
		rec.PrizeName = o.Prize.Name
	}

	if err := e.spins.Record(ctx, rec); err != nil {
		log.Error("failed to save spin record", zap.Error(err))
		e.saveFailed(ctx, s, o, "spin_record", err)
	} else {
		o.SpinRecordID = rec.ID
		if o.Type == domain.SegmentPrize {
			e.issueCoupon(ctx, s, o, log)
		}
	}

	e.record(ctx, audit.NewEvent(audit.EventSpinResolved, domain.SeverityInfo,
		fmt.Sprintf("Spin %d resolved: %s", o.SpinNumber, o.Type),
		map[string]interface{}{
			"spin_record_id": o.SpinRecordID,
			"state":          o.State,
			"save_error":     o.SaveError,
		},
		audit.WithMerchant(s.MerchantID), audit.WithDevice(s.DeviceHash), audit.WithSession(s.ID)))

	if e.notifier != nil {
		e.notifier.Dispatch(e.event(s, o))
	}
}

func (e *Engine) issueCoupon(ctx context.Context, s *session.Session, o *session.Outcome, log *zap.Logger) {
	c, err := e.coupons.Issue(ctx, coupon.IssueRequest{
		SpinRecordID: o.SpinRecordID,
		MerchantID:   s.MerchantID,
		MerchantName: s.MerchantName,
		PrizeID:      o.Prize.ID,
		PrizeName:    o.Prize.Name,
		IssuedAt:     o.ResolvedAt,
	})
	if err != nil {
		log.Error("failed to issue coupon", zap.String("spin_record_id", o.SpinRecordID), zap.Error(err))
		e.saveFailed(ctx, s, o, "coupon", err)
		return
	}
	o.Coupon = c

	if e.signer != nil && e.opts.RedeemBaseURL != "" {
		token, err := e.signer.IssueRedeemToken(c.Code, c.MerchantID)
		if err != nil {
			// the code itself is still valid at the counter
			log.Warn("failed to sign redemption link", zap.Error(err))
		} else {
			o.RedeemURL = auth.RedeemURL(e.opts.RedeemBaseURL, token)
		}
	}

	e.record(ctx, audit.NewEvent(audit.EventCouponIssued, domain.SeverityInfo,
		fmt.Sprintf("Coupon issued for %s", c.PrizeName),
		map[string]string{"coupon_id": c.ID, "spin_record_id": c.SpinRecordID},
		audit.WithMerchant(s.MerchantID), audit.WithSession(s.ID)))
}

func (e *Engine) saveFailed(ctx context.Context, s *session.Session, o *session.Outcome, kind string, err error) {
	o.SaveError = true
	o.Message = ContactSupportMessage
	metrics.SaveFailures.WithLabelValues(kind).Inc()
	e.record(ctx, audit.NewEvent(audit.EventSaveFailed, domain.SeverityCritical,
		fmt.Sprintf("Failed to save %s", kind),
		map[string]string{"error": err.Error(), "outcome": string(o.Type)},
		audit.WithMerchant(s.MerchantID), audit.WithDevice(s.DeviceHash), audit.WithSession(s.ID)))
}

func (e *Engine) event(s *session.Session, o *session.Outcome) notify.SpinResolved {
	ev := notify.SpinResolved{
		SessionID:     s.ID,
		MerchantID:    s.MerchantID,
		MerchantName:  s.MerchantName,
		SpinRecordID:  o.SpinRecordID,
		SpinNumber:    o.SpinNumber,
		Outcome:       o.Type,
		RedeemURL:     o.RedeemURL,
		SaveError:     o.SaveError,
		ResolvedAt:    o.ResolvedAt,
		CustomerPhone: s.CustomerPhone,
	}
	if o.Prize != nil {
		ev.PrizeID = o.Prize.ID
		ev.PrizeName = o.Prize.Name
	}
	if o.Coupon != nil {
		expires := o.Coupon.ExpiresAt
		ev.CouponCode = o.Coupon.Code
		ev.CouponExpiresAt = &expires
	}
	return ev
}

func (e *Engine) scheduleResolve(sessionID string, after time.Duration) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[sessionID]; ok {
		t.Stop()
	}
	e.timers[sessionID] = time.AfterFunc(after, func() {
		e.timersMu.Lock()
		delete(e.timers, sessionID)
		e.timersMu.Unlock()

		if _, err := e.Resolve(context.Background(), sessionID); err != nil &&
			!errors.Is(err, session.ErrNotFound) {
			e.logger.Warn("auto-resolve failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	})
}

// Close stops pending auto-resolve timers
func (e *Engine) Close() {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// History returns a merchant's recent spin records
func (e *Engine) History(ctx context.Context, merchantID string, limit int) ([]*domain.SpinRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return e.spins.History(ctx, merchantID, limit)
}

// Preview renders the merchant's wheel as configured and as drawn
func (e *Engine) Preview(ctx context.Context, merchantID string) (*wheel.Preview, error) {
	c, err := e.catalogs.Load(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return wheel.BuildPreview(*c), nil
}

// RedeemCoupon marks a merchant's coupon used at the counter
func (e *Engine) RedeemCoupon(ctx context.Context, merchantID, code string) (*domain.Coupon, error) {
	now := e.now()
	c, _, err := e.coupons.Lookup(ctx, code, now)
	if err != nil {
		return nil, err
	}
	if c.MerchantID != merchantID {
		return nil, ErrForbidden
	}

	c, err = e.coupons.Redeem(ctx, code, now)
	if err != nil {
		return c, err
	}

	e.record(ctx, audit.NewEvent(audit.EventCouponRedeemed, domain.SeverityInfo,
		fmt.Sprintf("Coupon redeemed for %s", c.PrizeName),
		map[string]string{"coupon_id": c.ID},
		audit.WithMerchant(merchantID)))
	return c, nil
}

// RedeemView is what a redemption link shows
type RedeemView struct {
	Coupon *domain.Coupon      `json:"coupon"`
	Status domain.CouponStatus `json:"status"`
}

// LookupRedeem resolves a signed redemption link token
func (e *Engine) LookupRedeem(ctx context.Context, token string) (*RedeemView, error) {
	claims, err := e.signer.ParseRedeemToken(token)
	if err != nil {
		return nil, err
	}
	c, status, err := e.coupons.Lookup(ctx, claims.Code, e.now())
	if err != nil {
		return nil, err
	}
	if c.MerchantID != claims.MerchantID {
		return nil, coupon.ErrNotFound
	}
	return &RedeemView{Coupon: c, Status: status}, nil
}

// record stores an audit event; failures are logged only
func (e *Engine) record(ctx context.Context, event *domain.AuditEvent) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogEvent(ctx, event); err != nil {
		e.logger.Warn("failed to record audit event", zap.String("type", event.Type), zap.Error(err))
	}
}
