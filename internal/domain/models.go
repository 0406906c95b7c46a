// Package domain contains core domain models for the prize wheel
//
// Persisted records:
//   - SpinRecord: one row per resolved spin, whatever the outcome
//   - Coupon: issued only for prize outcomes, always tied to a SpinRecord
//   - WheelEntry: claim of a merchant/device/day play slot
//   - AuditEvent: significant event log
package domain

import (
	"encoding/json"
	"time"
)

// CouponValidity is the fixed lifetime of an issued coupon
const CouponValidity = 24 * time.Hour

// SegmentType identifies what a wheel slice awards
type SegmentType string

const (
	SegmentPrize   SegmentType = "prize"
	SegmentUnlucky SegmentType = "unlucky"
	SegmentRetry   SegmentType = "retry"
)

// IsSpecial reports whether the type is one of the non-prize categories
func (t SegmentType) IsSpecial() bool {
	return t == SegmentUnlucky || t == SegmentRetry
}

// PrizeDefinition is a merchant-configured prize.
// Weight is relative and need not sum to 100 across the catalog.
// Quantity is only used for the merchant preview.
type PrizeDefinition struct {
	ID       string  `json:"id" db:"id" validate:"required"`
	Name     string  `json:"name" db:"name" validate:"required,max=120"`
	Weight   float64 `json:"weight" db:"probability" validate:"gte=0"`
	ImageURL string  `json:"image_url,omitempty" db:"image_url" validate:"omitempty,url"`
	Quantity int     `json:"quantity,omitempty" db:"quantity" validate:"gte=0"`
}

// SpecialSegmentConfig configures one of the special categories
type SpecialSegmentConfig struct {
	Weight   float64 `json:"weight" db:"probability" validate:"gte=0"`
	Quantity int     `json:"quantity" db:"quantity" validate:"gte=0"`
}

// Catalog is everything the engine needs to know about a merchant's wheel
type Catalog struct {
	MerchantID   string               `json:"merchant_id"`
	MerchantName string               `json:"merchant_name"`
	Enabled      bool                 `json:"enabled"`
	Prizes       []PrizeDefinition    `json:"prizes"`
	Unlucky      SpecialSegmentConfig `json:"unlucky"`
	Retry        SpecialSegmentConfig `json:"retry"`
}

// Merchant is the subset of the merchant profile the engine reads
type Merchant struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	WheelEnabled bool      `json:"wheel_enabled" db:"wheel_enabled"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// SpinRecord is the durable record of one resolved spin
type SpinRecord struct {
	ID         string      `json:"id" db:"id"`
	MerchantID string      `json:"merchant_id" db:"merchant_id"`
	DeviceHash string      `json:"-" db:"device_hash"`
	SessionID  string      `json:"session_id" db:"session_id"`
	PrizeID    *string     `json:"prize_id,omitempty" db:"prize_id"`
	PrizeName  string      `json:"prize_name,omitempty" db:"prize_name"`
	Outcome    SegmentType `json:"outcome" db:"outcome"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// CouponStatus is the redemption classification of a coupon
type CouponStatus string

const (
	CouponValid   CouponStatus = "valid"
	CouponUsed    CouponStatus = "used"
	CouponExpired CouponStatus = "expired"
)

// Coupon is a redeemable reward issued for a prize outcome
type Coupon struct {
	ID           string     `json:"id" db:"id"`
	Code         string     `json:"code" db:"code"`
	SpinRecordID string     `json:"spin_record_id" db:"spin_record_id"`
	MerchantID   string     `json:"merchant_id" db:"merchant_id"`
	PrizeID      string     `json:"prize_id" db:"prize_id"`
	PrizeName    string     `json:"prize_name" db:"prize_name"`
	IssuedAt     time.Time  `json:"issued_at" db:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at" db:"expires_at"`
	Used         bool       `json:"used" db:"is_used"`
	UsedAt       *time.Time `json:"used_at,omitempty" db:"used_at"`
}

// Status classifies the coupon at the given instant.
// Expiry wins over the used flag.
func (c *Coupon) Status(now time.Time) CouponStatus {
	if now.After(c.ExpiresAt) {
		return CouponExpired
	}
	if c.Used {
		return CouponUsed
	}
	return CouponValid
}

// WheelEntry marks that a device was admitted to a merchant's wheel on a day.
// PlayDay is the device-local calendar date formatted as 2006-01-02.
type WheelEntry struct {
	MerchantID string    `json:"merchant_id" db:"merchant_id"`
	DeviceHash string    `json:"-" db:"device_hash"`
	PlayDay    string    `json:"play_day" db:"play_day"`
	Zone       string    `json:"zone" db:"zone"`
	SessionID  string    `json:"session_id" db:"session_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// EventSeverity for audit events
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// AuditEvent represents a significant event
type AuditEvent struct {
	ID          string          `json:"id" db:"id"`
	Type        string          `json:"type" db:"type"`
	Severity    EventSeverity   `json:"severity" db:"severity"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	MerchantID  *string         `json:"merchant_id,omitempty" db:"merchant_id"`
	DeviceHash  *string         `json:"-" db:"device_hash"`
	SessionID   *string         `json:"session_id,omitempty" db:"session_id"`
	Description string          `json:"description" db:"description"`
	Data        json.RawMessage `json:"data,omitempty" db:"data"`
	IPAddress   string          `json:"ip_address,omitempty" db:"ip_address"`
	Component   string          `json:"component" db:"component"`
}
