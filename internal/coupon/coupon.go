// Package coupon issues and redeems the expiring coupons awarded for prize
// outcomes.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Code format: PREFIX-SUFFIX, e.g. JOE-7KQ2M9XD
const (
	PrefixLength = 3
	SuffixLength = 8
	// CodeAlphabet leaves out characters that are easy to misread
	CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	maxRegenerations = 3
)

var (
	ErrSaveFailed     = errors.New("could not save coupon")
	ErrNoPrize        = errors.New("coupon requires a prize spin record")
	ErrCodeTaken      = errors.New("coupon code already exists")
	ErrAlreadyIssued  = errors.New("coupon already issued for spin")
	ErrNotFound       = errors.New("coupon not found")
	ErrExpired        = errors.New("coupon expired")
	ErrAlreadyUsed    = errors.New("coupon already used")
	ErrRedeemConflict = errors.New("coupon changed during redemption")
)

// Store persists coupons. Insert returns ErrCodeTaken when the code
// collides with an existing coupon.
type Store interface {
	Insert(ctx context.Context, c *domain.Coupon) error
	FindByCode(ctx context.Context, code string) (*domain.Coupon, error)
	MarkUsed(ctx context.Context, code string, at time.Time) (bool, error)
}

// CodeSource generates random code suffixes. *rng.Service satisfies it.
type CodeSource interface {
	GenerateString(alphabet string, n int) (string, error)
}

// IssueRequest describes the prize outcome a coupon is issued for
type IssueRequest struct {
	SpinRecordID string
	MerchantID   string
	MerchantName string
	PrizeID      string
	PrizeName    string
	IssuedAt     time.Time
}

// Issuer issues and redeems coupons
type Issuer struct {
	store    Store
	codes  CodeSource
	logger *zap.Logger
}

// NewIssuer creates an issuer. Coupons always expire domain.CouponValidity
// after issue.
func NewIssuer(store Store, codes CodeSource, logger *zap.Logger) *Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{
		store:  store,
		codes:  codes,
		logger: logger,
	}
}

// Issue generates a code and persists the coupon. Every failure to persist
// is reported as ErrSaveFailed.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*domain.Coupon, error) {
	if req.SpinRecordID == "" || req.PrizeID == "" {
		return nil, ErrNoPrize
	}

	issuedAt := req.IssuedAt.UTC()
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	prefix := Prefix(req.MerchantName)

	var lastErr error
	for attempt := 0; attempt <= maxRegenerations; attempt++ {
		suffix, err := i.codes.GenerateString(CodeAlphabet, SuffixLength)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSaveFailed, err)
		}

		c := &domain.Coupon{
			ID:           uuid.New().String(),
			Code:         prefix + "-" + suffix,
			SpinRecordID: req.SpinRecordID,
			MerchantID:   req.MerchantID,
			PrizeID:      req.PrizeID,
			PrizeName:    req.PrizeName,
			IssuedAt:     issuedAt,
			ExpiresAt:    issuedAt.Add(domain.CouponValidity),
		}

		err = i.store.Insert(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrCodeTaken) {
			i.logger.Error("coupon insert failed",
				zap.String("spin_record_id", req.SpinRecordID), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrSaveFailed, err)
		}

		i.logger.Warn("coupon code collision, regenerating",
			zap.String("code", c.Code), zap.Int("attempt", attempt+1))
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrSaveFailed, lastErr)
}

// Lookup returns a coupon and its status at now
func (i *Issuer) Lookup(ctx context.Context, code string, now time.Time) (*domain.Coupon, domain.CouponStatus, error) {
	c, err := i.store.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, "", err
	}
	return c, c.Status(now), nil
}

// Redeem marks a valid coupon used
func (i *Issuer) Redeem(ctx context.Context, code string, now time.Time) (*domain.Coupon, error) {
	c, status, err := i.Lookup(ctx, code, now)
	if err != nil {
		return nil, err
	}
	switch status {
	case domain.CouponExpired:
		return c, ErrExpired
	case domain.CouponUsed:
		return c, ErrAlreadyUsed
	}

	at := now.UTC()
	ok, err := i.store.MarkUsed(ctx, c.Code, at)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem coupon: %w", err)
	}
	if !ok {
		return c, ErrRedeemConflict
	}

	c.Used = true
	c.UsedAt = &at
	return c, nil
}

// Prefix derives the code prefix from a merchant name: its first three
// ASCII letters or digits, upper-cased and padded with X.
func Prefix(merchantName string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(merchantName) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == PrefixLength {
				break
			}
		}
	}
	for b.Len() < PrefixLength {
		b.WriteByte('X')
	}
	return b.String()
}

// NormalizeCode upper-cases and trims a user-entered code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
