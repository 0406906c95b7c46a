// Package control lets a merchant switch their wheel off and on.
//
// A switched-off wheel refuses new sessions with a disabled state; sessions
// already running finish normally. Every change is written to the audit log.
package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/prizewheel/internal/audit"
	"github.com/alexbotov/prizewheel/internal/catalog"
	"github.com/alexbotov/prizewheel/internal/domain"
	"go.uber.org/zap"
)

const component = "control"

// Auditor records and reads significant events. *audit.Service satisfies it.
type Auditor interface {
	LogEvent(ctx context.Context, event *domain.AuditEvent) error
	GetEvents(ctx context.Context, filter *audit.EventFilter) ([]*domain.AuditEvent, error)
}

// WheelStatus is the switch state of one merchant wheel
type WheelStatus struct {
	MerchantID string    `json:"merchant_id"`
	Enabled    bool      `json:"enabled"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Service provides the wheel switch
type Service struct {
	db     *sql.DB
	audit  Auditor
	logger *zap.Logger
	now    func() time.Time
}

// New creates a new control service
func New(db *sql.DB, auditor Auditor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     db,
		audit:  auditor,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DisableWheel switches a merchant wheel off
func (s *Service) DisableWheel(ctx context.Context, merchantID, reason, ip string) (*WheelStatus, error) {
	status, err := s.set(ctx, merchantID, false)
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.NewEvent(audit.EventWheelSwitchOff, domain.SeverityWarning,
		"Wheel switched off by merchant",
		map[string]interface{}{"reason": reason},
		audit.WithMerchant(merchantID), audit.WithIP(ip), audit.WithComponent(component)))
	return status, nil
}

// EnableWheel switches a merchant wheel back on
func (s *Service) EnableWheel(ctx context.Context, merchantID, ip string) (*WheelStatus, error) {
	status, err := s.set(ctx, merchantID, true)
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.NewEvent(audit.EventWheelSwitchOn, domain.SeverityInfo,
		"Wheel switched on by merchant", nil,
		audit.WithMerchant(merchantID), audit.WithIP(ip), audit.WithComponent(component)))
	return status, nil
}

// Status returns the current switch state
func (s *Service) Status(ctx context.Context, merchantID string) (*WheelStatus, error) {
	status := &WheelStatus{MerchantID: merchantID}
	err := s.db.QueryRowContext(ctx, `
		SELECT wheel_enabled, updated_at FROM merchants WHERE id = $1
	`, merchantID).Scan(&status.Enabled, &status.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read wheel state: %w", err)
	}
	return status, nil
}

// History returns the most recent switch changes of a merchant wheel
func (s *Service) History(ctx context.Context, merchantID string, limit int) ([]*domain.AuditEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	events, err := s.audit.GetEvents(ctx, &audit.EventFilter{
		MerchantID: merchantID,
		Component:  component,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read switch history: %w", err)
	}
	return events, nil
}

func (s *Service) set(ctx context.Context, merchantID string, enabled bool) (*WheelStatus, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE merchants SET wheel_enabled = $1, updated_at = $2 WHERE id = $3
	`, enabled, now, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to persist wheel state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, catalog.ErrMerchantNotFound
	}
	return &WheelStatus{MerchantID: merchantID, Enabled: enabled, UpdatedAt: now}, nil
}

// record stores an audit event. A failed audit write does not undo the switch.
func (s *Service) record(ctx context.Context, event *domain.AuditEvent) {
	if err := s.audit.LogEvent(ctx, event); err != nil {
		merchant := ""
		if event.MerchantID != nil {
			merchant = *event.MerchantID
		}
		s.logger.Warn("failed to record audit event",
			zap.String("type", event.Type), zap.String("merchant_id", merchant), zap.Error(err))
	}
}
