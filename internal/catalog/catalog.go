// Package catalog loads merchant prize catalogs
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrMerchantNotFound = errors.New("merchant not found")
)

// Store reads catalogs from the merchant configuration tables
type Store struct {
	db       *sql.DB
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a catalog store
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:       db,
		validate: validator.New(),
		logger:   logger,
	}
}

// Load returns the merchant's catalog. Prize rows that fail validation are
// dropped and logged; a merchant without wheel settings gets zero special
// weights.
func (s *Store) Load(ctx context.Context, merchantID string) (*domain.Catalog, error) {
	c := &domain.Catalog{MerchantID: merchantID}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, wheel_enabled FROM merchants WHERE id = $1
	`, merchantID).Scan(&c.MerchantName, &c.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMerchantNotFound
		}
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}

	var unluckyWeight, retryWeight decimal.Decimal
	err = s.db.QueryRowContext(ctx, `
		SELECT unlucky_probability, unlucky_quantity, retry_probability, retry_quantity
		FROM wheel_settings WHERE merchant_id = $1
	`, merchantID).Scan(&unluckyWeight, &c.Unlucky.Quantity, &retryWeight, &c.Retry.Quantity)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c.Unlucky.Quantity, c.Retry.Quantity = 1, 1
	case err != nil:
		return nil, fmt.Errorf("failed to load wheel settings: %w", err)
	default:
		c.Unlucky.Weight = unluckyWeight.InexactFloat64()
		c.Retry.Weight = retryWeight.InexactFloat64()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, probability, image_url, quantity
		FROM prizes WHERE merchant_id = $1 AND active = TRUE
		ORDER BY position, created_at
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prizes: %w", err)
	}
	defer rows.Close()

	var prizes []domain.PrizeDefinition
	for rows.Next() {
		var p domain.PrizeDefinition
		var weight decimal.Decimal
		if err := rows.Scan(&p.ID, &p.Name, &weight, &p.ImageURL, &p.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan prize: %w", err)
		}
		p.Weight = weight.InexactFloat64()
		prizes = append(prizes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prizes: %w", err)
	}

	c.Prizes = s.Sanitize(merchantID, prizes)
	if err := s.validate.Struct(c.Unlucky); err != nil {
		s.logger.Warn("invalid unlucky settings, zeroing weight",
			zap.String("merchant_id", merchantID), zap.Error(err))
		c.Unlucky.Weight = 0
	}
	if err := s.validate.Struct(c.Retry); err != nil {
		s.logger.Warn("invalid retry settings, zeroing weight",
			zap.String("merchant_id", merchantID), zap.Error(err))
		c.Retry.Weight = 0
	}
	return c, nil
}

// Sanitize drops prize definitions that fail validation or repeat an
// earlier id
func (s *Store) Sanitize(merchantID string, prizes []domain.PrizeDefinition) []domain.PrizeDefinition {
	seen := make(map[string]bool, len(prizes))
	out := make([]domain.PrizeDefinition, 0, len(prizes))
	for _, p := range prizes {
		err := s.validate.Struct(p)
		if err == nil && (math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0)) {
			err = fmt.Errorf("weight %v is not finite", p.Weight)
		}
		if err == nil && seen[p.ID] {
			err = fmt.Errorf("duplicate prize id %q", p.ID)
		}
		if err != nil {
			s.logger.Warn("dropping invalid prize",
				zap.String("merchant_id", merchantID),
				zap.String("prize_id", p.ID),
				zap.Error(err))
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}
