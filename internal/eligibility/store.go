package eligibility

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/prizewheel/internal/database"
	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PostgresEntries stores wheel entries in the wheel_entries table, whose
// primary key is (merchant_id, device_hash, play_day)
type PostgresEntries struct {
	db *sql.DB
}

// NewPostgresEntries creates the entry store
func NewPostgresEntries(db *sql.DB) *PostgresEntries {
	return &PostgresEntries{db: db}
}

// HasEntry reports whether the day is already claimed
func (s *PostgresEntries) HasEntry(ctx context.Context, merchantID, deviceHash, day string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wheel_entries WHERE merchant_id = $1 AND device_hash = $2 AND play_day = $3
		)
	`, merchantID, deviceHash, day).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check wheel entry: %w", err)
	}
	return exists, nil
}

// FirstZone returns the zone recorded with the device's first entry at the
// merchant, or "" when there is none
func (s *PostgresEntries) FirstZone(ctx context.Context, merchantID, deviceHash string) (string, error) {
	var zone string
	err := s.db.QueryRowContext(ctx, `
		SELECT zone FROM wheel_entries
		WHERE merchant_id = $1 AND device_hash = $2
		ORDER BY created_at LIMIT 1
	`, merchantID, deviceHash).Scan(&zone)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read device zone: %w", err)
	}
	return zone, nil
}

// Claim inserts the entry
func (s *PostgresEntries) Claim(ctx context.Context, entry *domain.WheelEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wheel_entries (merchant_id, device_hash, play_day, zone, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.MerchantID, entry.DeviceHash, entry.PlayDay, entry.Zone, entry.SessionID, entry.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrAlreadyPlayed
		}
		return fmt.Errorf("failed to claim wheel entry: %w", err)
	}
	return nil
}

// RedisLocker claims keys with SET NX
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a locker over an existing client
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire sets key if absent
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes key
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
