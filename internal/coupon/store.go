package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/prizewheel/internal/database"
	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/lib/pq"
)

const spinRecordConstraint = "coupons_spin_record_id_key"

// PostgresStore keeps coupons in the coupons table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the coupon store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert stores a new coupon
func (s *PostgresStore) Insert(ctx context.Context, c *domain.Coupon) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (id, code, spin_record_id, merchant_id, prize_id, prize_name, issued_at, expires_at, is_used, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.Code, c.SpinRecordID, c.MerchantID, c.PrizeID, c.PrizeName,
		c.IssuedAt, c.ExpiresAt, c.Used, c.UsedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Constraint == spinRecordConstraint {
			return ErrAlreadyIssued
		}
		if database.IsUniqueViolation(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	return nil
}

// FindByCode loads a coupon by its code
func (s *PostgresStore) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	var usedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, spin_record_id, merchant_id, prize_id, prize_name, issued_at, expires_at, is_used, used_at
		FROM coupons WHERE code = $1
	`, code).Scan(&c.ID, &c.Code, &c.SpinRecordID, &c.MerchantID, &c.PrizeID, &c.PrizeName,
		&c.IssuedAt, &c.ExpiresAt, &c.Used, &usedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}
	return &c, nil
}

// MarkUsed flips an unused, unexpired coupon to used. It reports false when
// no such coupon matched.
func (s *PostgresStore) MarkUsed(ctx context.Context, code string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE coupons SET is_used = TRUE, used_at = $2
		WHERE code = $1 AND is_used = FALSE AND expires_at >= $2
	`, code, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark coupon used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
