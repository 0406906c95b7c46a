// Package api provides the HTTP API of the prize wheel
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/alexbotov/prizewheel/internal/auth"
	"github.com/alexbotov/prizewheel/internal/catalog"
	"github.com/alexbotov/prizewheel/internal/control"
	"github.com/alexbotov/prizewheel/internal/coupon"
	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/alexbotov/prizewheel/internal/eligibility"
	"github.com/alexbotov/prizewheel/internal/game"
	"github.com/alexbotov/prizewheel/internal/identity"
	"github.com/alexbotov/prizewheel/internal/rng"
	"github.com/alexbotov/prizewheel/internal/session"
	"github.com/alexbotov/prizewheel/internal/wheel"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Navigation targets returned with a resolved spin
const (
	NextRedeem = "redeem"
	NextIdle   = "idle"
	NextEnd    = "end"
)

// Wheel is the engine surface the handlers drive. *game.Engine satisfies it.
type Wheel interface {
	StartSession(ctx context.Context, req *game.StartRequest) (*session.View, error)
	Session(ctx context.Context, sessionID string) (*session.View, error)
	Spin(ctx context.Context, sessionID string) (*session.Spin, error)
	Resolve(ctx context.Context, sessionID string) (*session.Outcome, error)
	History(ctx context.Context, merchantID string, limit int) ([]*domain.SpinRecord, error)
	Preview(ctx context.Context, merchantID string) (*wheel.Preview, error)
	RedeemCoupon(ctx context.Context, merchantID, code string) (*domain.Coupon, error)
	LookupRedeem(ctx context.Context, token string) (*game.RedeemView, error)
}

// TokenVerifier checks merchant bearer tokens
type TokenVerifier interface {
	VerifyMerchantToken(token string) (string, error)
}

// DeviceResolver identifies the device behind a request
type DeviceResolver interface {
	FromRequest(r *http.Request) (*identity.Device, error)
}

// WheelSwitch turns a merchant wheel off and on. *control.Service satisfies it.
type WheelSwitch interface {
	Status(ctx context.Context, merchantID string) (*control.WheelStatus, error)
	DisableWheel(ctx context.Context, merchantID, reason, ip string) (*control.WheelStatus, error)
	EnableWheel(ctx context.Context, merchantID, ip string) (*control.WheelStatus, error)
	History(ctx context.Context, merchantID string, limit int) ([]*domain.AuditEvent, error)
}

// Feed streams live outcomes to a merchant connection
type Feed interface {
	Serve(w http.ResponseWriter, r *http.Request, merchantID string) error
}

// Handler contains all HTTP handlers
type Handler struct {
	wheel    Wheel
	switches WheelSwitch
	tokens   TokenVerifier
	devices  DeviceResolver
	feed     Feed
	rng      *rng.Service
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a new API handler
func New(w Wheel, switches WheelSwitch, tokens TokenVerifier, devices DeviceResolver, feed Feed, rngSvc *rng.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		wheel:    w,
		switches: switches,
		tokens:   tokens,
		devices:  devices,
		feed:     feed,
		rng:      rngSvc,
		validate: validator.New(),
		logger:   logger,
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondErrorWithData(w, status, code, message, nil)
}

func respondErrorWithData(w http.ResponseWriter, status int, code, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Data:    data,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondDomainError maps package errors to API errors
func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrMerchantNotFound):
		respondError(w, http.StatusNotFound, "MERCHANT_NOT_FOUND", "Merchant not found")
	case errors.Is(err, game.ErrWheelDisabled):
		respondError(w, http.StatusForbidden, "WHEEL_DISABLED", "The wheel is not available at this store")
	case errors.Is(err, eligibility.ErrAlreadyPlayed):
		respondError(w, http.StatusForbidden, "ALREADY_PLAYED_TODAY", "You already played today, come back tomorrow")
	case errors.Is(err, eligibility.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "CONTACT_SUPPORT", "We could not check today's entry, please contact support")
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Wheel session not found")
	case errors.Is(err, session.ErrNoSpinsLeft):
		respondError(w, http.StatusConflict, "NO_SPINS_LEFT", "No spins remaining")
	case errors.Is(err, session.ErrSpinInProgress):
		respondError(w, http.StatusConflict, "SPIN_IN_PROGRESS", "The wheel is already spinning")
	case errors.Is(err, session.ErrSessionOver):
		respondError(w, http.StatusConflict, "SESSION_OVER", "This wheel session has ended")
	case errors.Is(err, session.ErrNotSpinning):
		respondError(w, http.StatusConflict, "NOT_SPINNING", "There is no spin to resolve")
	case errors.Is(err, session.ErrStillSpinning):
		respondError(w, http.StatusTooEarly, "STILL_SPINNING", "The wheel is still spinning")
	case errors.Is(err, coupon.ErrNotFound):
		respondError(w, http.StatusNotFound, "COUPON_NOT_FOUND", "Coupon not found")
	case errors.Is(err, game.ErrForbidden):
		respondError(w, http.StatusForbidden, "FORBIDDEN", "Coupon belongs to another store")
	case errors.Is(err, coupon.ErrExpired):
		respondError(w, http.StatusGone, "COUPON_EXPIRED", "Coupon has expired")
	case errors.Is(err, coupon.ErrAlreadyUsed), errors.Is(err, coupon.ErrRedeemConflict):
		respondError(w, http.StatusConflict, "COUPON_USED", "Coupon was already used")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired):
		respondError(w, http.StatusNotFound, "INVALID_LINK", "This link is not valid")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	rngHealth, err := h.rng.HealthCheck()
	status := "healthy"
	if err != nil || !rngHealth.Healthy {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"rng_status": rngHealth,
	})
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "prizewheel",
		"version":     "1.0.0",
		"description": "Merchant prize wheel engine",
	})
}

// === Wheel sessions ===

// StartSessionRequest is the optional body of a session start
type StartSessionRequest struct {
	CustomerPhone string `json:"customer_phone" validate:"omitempty,e164"`
}

// StartSession handles POST /api/v1/merchants/{merchant_id}/wheel/sessions
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	device, err := h.devices.FromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "DEVICE_TOKEN_REQUIRED", "A device token is required")
		return
	}

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILED", "customer_phone must be an E.164 number")
		return
	}

	view, err := h.wheel.StartSession(r.Context(), &game.StartRequest{
		MerchantID:    mux.Vars(r)["merchant_id"],
		DeviceHash:    device.Hash,
		Location:      device.Location,
		CustomerPhone: req.CustomerPhone,
		IPAddress:     getClientIP(r),
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, view)
}

// GetSession handles GET /api/v1/wheel/sessions/{session_id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.wheel.Session(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// Spin handles POST /api/v1/wheel/sessions/{session_id}/spin
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	spin, err := h.wheel.Spin(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"spin_number":    spin.Number,
		"segment_index":  spin.Segment.Index,
		"rotation":       spin.Plan.Rotation,
		"delta":          spin.Plan.Delta,
		"extra_turns":    spin.Plan.ExtraTurns,
		"started_at":     spin.StartedAt,
		"reveal_at":      spin.RevealAt,
		"duration_ms":    spin.RevealAt.Sub(spin.StartedAt).Milliseconds(),
		"pointer_offset": wheel.PointerAngle,
	})
}

// ResolveResponse is the outcome of a spin plus where the client goes next
type ResolveResponse struct {
	Outcome *session.Outcome `json:"outcome"`
	Next    string           `json:"next"`
}

// Resolve handles POST /api/v1/wheel/sessions/{session_id}/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.wheel.Resolve(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	resp := ResolveResponse{Outcome: outcome, Next: nextStep(outcome)}
	if outcome.SaveError {
		respondErrorWithData(w, http.StatusServiceUnavailable, "CONTACT_SUPPORT", outcome.Message, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func nextStep(o *session.Outcome) string {
	switch {
	case o.SaveError:
		return NextEnd
	case o.Type == domain.SegmentPrize && o.Coupon != nil:
		return NextRedeem
	case !o.Terminal && o.SpinsRemaining > 0:
		return NextIdle
	default:
		return NextEnd
	}
}

// RedeemView handles GET /api/v1/redeem/{token}
func (h *Handler) RedeemView(w http.ResponseWriter, r *http.Request) {
	view, err := h.wheel.LookupRedeem(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// === Merchant ===

// Preview handles GET /api/v1/merchant/wheel/preview
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.wheel.Preview(r.Context(), merchantFrom(r.Context()))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// SpinHistory handles GET /api/v1/merchant/spins
func (h *Handler) SpinHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive number")
			return
		}
		limit = parsed
	}

	records, err := h.wheel.History(r.Context(), merchantFrom(r.Context()), limit)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []*domain.SpinRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"spins": records,
		"count": len(records),
	})
}

// RedeemCoupon handles POST /api/v1/merchant/coupons/{code}/redeem
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.wheel.RedeemCoupon(r.Context(), merchantFrom(r.Context()), mux.Vars(r)["code"])
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// WheelStatus handles GET /api/v1/merchant/wheel
func (h *Handler) WheelStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.switches.Status(r.Context(), merchantFrom(r.Context()))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// DisableWheelRequest is the body of a wheel switch-off
type DisableWheelRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// DisableWheel handles POST /api/v1/merchant/wheel/disable
func (h *Handler) DisableWheel(w http.ResponseWriter, r *http.Request) {
	var req DisableWheelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILED", "reason is too long")
		return
	}

	status, err := h.switches.DisableWheel(r.Context(), merchantFrom(r.Context()), req.Reason, getClientIP(r))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// EnableWheel handles POST /api/v1/merchant/wheel/enable
func (h *Handler) EnableWheel(w http.ResponseWriter, r *http.Request) {
	status, err := h.switches.EnableWheel(r.Context(), merchantFrom(r.Context()), getClientIP(r))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// WheelHistory handles GET /api/v1/merchant/wheel/history
func (h *Handler) WheelHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.switches.History(r.Context(), merchantFrom(r.Context()), limit)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []*domain.AuditEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// MerchantFeed handles GET /api/v1/merchant/feed
func (h *Handler) MerchantFeed(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.Serve(w, r, merchantFrom(r.Context())); err != nil {
		// the upgrader has already written the HTTP error
		h.logger.Debug("feed upgrade failed", zap.Error(err))
	}
}
