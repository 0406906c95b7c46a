// Package audit provides the significant event log of the wheel
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/google/uuid"
)

// Event types
const (
	EventSessionStarted  = "wheel_session_started"
	EventSessionDenied   = "wheel_session_denied"
	EventSpinStarted     = "wheel_spin_started"
	EventSpinResolved    = "wheel_spin_resolved"
	EventCouponIssued    = "coupon_issued"
	EventCouponRedeemed  = "coupon_redeemed"
	EventSaveFailed      = "wheel_save_failed"
	EventWheelDisabled   = "wheel_disabled_access"
	EventRNGHealthCheck  = "rng_health_check"
	EventNotifyFailed    = "notification_failed"
	EventCatalogDegraded = "catalog_degraded"
	EventWheelSwitchOff  = "wheel_switched_off"
	EventWheelSwitchOn   = "wheel_switched_on"
)

// Service provides audit logging functionality
type Service struct {
	db *sql.DB
}

// New creates a new audit service
func New(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records a significant event
func (s *Service) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var data interface{}
	if len(event.Data) > 0 {
		data = string(event.Data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, severity, timestamp, merchant_id, device_hash, session_id, description, data, ip_address, component)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, event.ID, event.Type, event.Severity, event.Timestamp, event.MerchantID, event.DeviceHash,
		event.SessionID, event.Description, data, event.IPAddress, event.Component)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// Log is a convenience method for logging events
func (s *Service) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) error {
	return s.LogEvent(ctx, NewEvent(eventType, severity, description, data, opts...))
}

// NewEvent builds an event without storing it
func NewEvent(eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) *domain.AuditEvent {
	event := &domain.AuditEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Description: description,
		Component:   "wheel",
	}

	if data != nil {
		if jsonData, err := json.Marshal(data); err == nil {
			event.Data = jsonData
		}
	}

	for _, opt := range opts {
		opt(event)
	}
	return event
}

// EventOption is a functional option for configuring audit events
type EventOption func(*domain.AuditEvent)

// WithMerchant sets the merchant ID for the event
func WithMerchant(merchantID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.MerchantID = &merchantID
	}
}

// WithDevice sets the hashed device token for the event
func WithDevice(deviceHash string) EventOption {
	return func(e *domain.AuditEvent) {
		e.DeviceHash = &deviceHash
	}
}

// WithSession sets the session ID for the event
func WithSession(sessionID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.SessionID = &sessionID
	}
}

// WithIP sets the IP address for the event
func WithIP(ip string) EventOption {
	return func(e *domain.AuditEvent) {
		e.IPAddress = ip
	}
}

// WithComponent sets the component for the event
func WithComponent(component string) EventOption {
	return func(e *domain.AuditEvent) {
		e.Component = component
	}
}

// GetEvents retrieves audit events with optional filtering
func (s *Service) GetEvents(ctx context.Context, filter *EventFilter) ([]*domain.AuditEvent, error) {
	query := `SELECT id, type, severity, timestamp, merchant_id, session_id, description, COALESCE(data::text, ''), COALESCE(ip_address, ''), component
			  FROM audit_events WHERE 1=1`
	args := []interface{}{}
	paramIdx := 1

	if filter != nil {
		if filter.MerchantID != "" {
			query += fmt.Sprintf(" AND merchant_id = $%d", paramIdx)
			args = append(args, filter.MerchantID)
			paramIdx++
		}
		if filter.Type != "" {
			query += fmt.Sprintf(" AND type = $%d", paramIdx)
			args = append(args, filter.Type)
			paramIdx++
		}
		if filter.Component != "" {
			query += fmt.Sprintf(" AND component = $%d", paramIdx)
			args = append(args, filter.Component)
			paramIdx++
		}
		if !filter.From.IsZero() {
			query += fmt.Sprintf(" AND timestamp >= $%d", paramIdx)
			args = append(args, filter.From)
			paramIdx++
		}
		if !filter.To.IsZero() {
			query += fmt.Sprintf(" AND timestamp <= $%d", paramIdx)
			args = append(args, filter.To)
			paramIdx++
		}
	}

	query += " ORDER BY timestamp DESC"

	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", paramIdx)
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT 100"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		var merchantID, sessionID sql.NullString
		var data string

		err := rows.Scan(&event.ID, &event.Type, &event.Severity, &event.Timestamp,
			&merchantID, &sessionID, &event.Description, &data, &event.IPAddress, &event.Component)
		if err != nil {
			return nil, err
		}

		if merchantID.Valid {
			event.MerchantID = &merchantID.String
		}
		if sessionID.Valid {
			event.SessionID = &sessionID.String
		}
		if data != "" {
			event.Data = json.RawMessage(data)
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

// EventFilter defines criteria for filtering audit events
type EventFilter struct {
	MerchantID string
	Type       string
	Component  string
	From       time.Time
	To         time.Time
	Limit      int
}
