// Package spinlog persists resolved spins
package spinlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/google/uuid"
)

var ErrInvalidRecord = errors.New("invalid spin record")

// Store is the Postgres-backed spin record store
type Store struct {
	db *sql.DB
}

// New creates a new spin record store
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a spin record. Prize outcomes must carry a prize id and
// special outcomes must not.
func (s *Store) Record(ctx context.Context, rec *domain.SpinRecord) error {
	if rec.MerchantID == "" || rec.DeviceHash == "" || rec.SessionID == "" {
		return ErrInvalidRecord
	}
	if (rec.Outcome == domain.SegmentPrize) != (rec.PrizeID != nil) {
		return ErrInvalidRecord
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spin_records (id, merchant_id, device_hash, session_id, prize_id, prize_name, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.MerchantID, rec.DeviceHash, rec.SessionID, rec.PrizeID, rec.PrizeName,
		rec.Outcome, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record spin: %w", err)
	}
	return nil
}

// HasPlayed reports whether the device has any spin record for the merchant
// in [from, to)
func (s *Store) HasPlayed(ctx context.Context, merchantID, deviceHash string, from, to time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM spin_records
			WHERE merchant_id = $1 AND device_hash = $2 AND created_at >= $3 AND created_at < $4
		)
	`, merchantID, deviceHash, from.UTC(), to.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check spin records: %w", err)
	}
	return exists, nil
}

// History returns the merchant's most recent spins, newest first
func (s *Store) History(ctx context.Context, merchantID string, limit int) ([]*domain.SpinRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merchant_id, device_hash, session_id, prize_id, prize_name, outcome, created_at
		FROM spin_records
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, merchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query spin history: %w", err)
	}
	defer rows.Close()

	var records []*domain.SpinRecord
	for rows.Next() {
		var rec domain.SpinRecord
		var prizeID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.MerchantID, &rec.DeviceHash, &rec.SessionID,
			&prizeID, &rec.PrizeName, &rec.Outcome, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if prizeID.Valid {
			rec.PrizeID = &prizeID.String
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
