// Package database provides database access for the prize wheel service
package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// Migrate creates all required tables
func (db *DB) Migrate() error {
	schema := `
	-- Merchant profile subset read by the wheel
	CREATE TABLE IF NOT EXISTS merchants (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		wheel_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	-- Prize catalog
	CREATE TABLE IF NOT EXISTS prizes (
		id VARCHAR(64) PRIMARY KEY,
		merchant_id VARCHAR(64) NOT NULL REFERENCES merchants(id),
		name VARCHAR(255) NOT NULL,
		probability NUMERIC(12,4) NOT NULL DEFAULT 0,
		image_url TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 1,
		position INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	-- Special segment configuration
	CREATE TABLE IF NOT EXISTS wheel_settings (
		merchant_id VARCHAR(64) PRIMARY KEY REFERENCES merchants(id),
		unlucky_probability NUMERIC(12,4) NOT NULL DEFAULT 0,
		unlucky_quantity INTEGER NOT NULL DEFAULT 1,
		retry_probability NUMERIC(12,4) NOT NULL DEFAULT 0,
		retry_quantity INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	-- One admitted session per merchant, device and device-local day
	CREATE TABLE IF NOT EXISTS wheel_entries (
		merchant_id VARCHAR(64) NOT NULL,
		device_hash VARCHAR(128) NOT NULL,
		play_day DATE NOT NULL,
		zone VARCHAR(64) NOT NULL DEFAULT 'UTC',
		session_id UUID NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (merchant_id, device_hash, play_day)
	);
	ALTER TABLE wheel_entries ADD COLUMN IF NOT EXISTS zone VARCHAR(64) NOT NULL DEFAULT 'UTC';

	-- Every resolved spin, whatever the outcome
	CREATE TABLE IF NOT EXISTS spin_records (
		id UUID PRIMARY KEY,
		merchant_id VARCHAR(64) NOT NULL,
		device_hash VARCHAR(128) NOT NULL,
		session_id UUID NOT NULL,
		prize_id VARCHAR(64),
		prize_name VARCHAR(255) NOT NULL DEFAULT '',
		outcome VARCHAR(20) NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	-- Coupons, only ever for prize outcomes
	CREATE TABLE IF NOT EXISTS coupons (
		id UUID PRIMARY KEY,
		code VARCHAR(32) UNIQUE NOT NULL,
		spin_record_id UUID UNIQUE NOT NULL REFERENCES spin_records(id),
		merchant_id VARCHAR(64) NOT NULL,
		prize_id VARCHAR(64) NOT NULL,
		prize_name VARCHAR(255) NOT NULL,
		issued_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		is_used BOOLEAN NOT NULL DEFAULT FALSE,
		used_at TIMESTAMP
	);

	-- Significant events
	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		type VARCHAR(100) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		merchant_id VARCHAR(64),
		device_hash VARCHAR(128),
		session_id UUID,
		description TEXT NOT NULL,
		data JSONB,
		ip_address VARCHAR(45),
		component VARCHAR(100) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_prizes_merchant ON prizes(merchant_id, position);
	CREATE INDEX IF NOT EXISTS idx_spin_records_device ON spin_records(merchant_id, device_hash, created_at);
	CREATE INDEX IF NOT EXISTS idx_spin_records_merchant ON spin_records(merchant_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_coupons_merchant ON coupons(merchant_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_merchant ON audit_events(merchant_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Reset drops all tables (for testing)
func (db *DB) Reset() error {
	_, err := db.Exec(`
		DROP TABLE IF EXISTS audit_events CASCADE;
		DROP TABLE IF EXISTS coupons CASCADE;
		DROP TABLE IF EXISTS spin_records CASCADE;
		DROP TABLE IF EXISTS wheel_entries CASCADE;
		DROP TABLE IF EXISTS wheel_settings CASCADE;
		DROP TABLE IF EXISTS prizes CASCADE;
		DROP TABLE IF EXISTS merchants CASCADE;
	`)
	return err
}

// CleanData truncates all tables without dropping them (for testing)
func (db *DB) CleanData() error {
	_, err := db.Exec(`
		TRUNCATE TABLE audit_events, coupons, spin_records, wheel_entries,
		               wheel_settings, prizes, merchants CASCADE;
	`)
	return err
}
