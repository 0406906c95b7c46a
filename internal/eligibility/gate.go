// Package eligibility decides whether a device may start a wheel session
// with a merchant today. Each device gets one session per merchant per
// device-local calendar day, whatever the outcome of that session. The zone
// of a device's first entry at a merchant is kept for all later days, so a
// device cannot gain a day by claiming another zone.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexbotov/prizewheel/internal/domain"
	"go.uber.org/zap"
)

// DayLayout formats a play day
const DayLayout = "2006-01-02"

var (
	ErrAlreadyPlayed = errors.New("device already played today")
	ErrUnavailable   = errors.New("eligibility check unavailable")
)

// SpinChecker answers whether spin records exist for a device in a window
type SpinChecker interface {
	HasPlayed(ctx context.Context, merchantID, deviceHash string, from, to time.Time) (bool, error)
}

// EntryStore persists wheel entries. Claim must return ErrAlreadyPlayed when
// the day is already taken.
type EntryStore interface {
	FirstZone(ctx context.Context, merchantID, deviceHash string) (string, error)
	HasEntry(ctx context.Context, merchantID, deviceHash, day string) (bool, error)
	Claim(ctx context.Context, entry *domain.WheelEntry) error
}

// Locker is a fast-path claim shared across instances
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Gate is the eligibility gate
type Gate struct {
	spins   SpinChecker
	entries EntryStore
	locker  Locker
	logger  *zap.Logger
}

// NewGate creates a gate. locker may be nil.
func NewGate(spins SpinChecker, entries EntryStore, locker Locker, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		spins:   spins,
		entries: entries,
		locker:  locker,
		logger:  logger,
	}
}

// DayBounds returns the device-local calendar day containing now
func DayBounds(now time.Time) (start, end time.Time) {
	y, m, d := now.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end = start.AddDate(0, 0, 1)
	return start, end
}

// Admit claims today's play slot for the device. now must carry the
// location the device reports; a zone pinned by an earlier entry wins.
func (g *Gate) Admit(ctx context.Context, merchantID, deviceHash, sessionID string, now time.Time) (*domain.WheelEntry, error) {
	zone, err := g.entries.FirstZone(ctx, merchantID, deviceHash)
	if err != nil {
		g.logger.Error("device zone lookup failed", zap.String("merchant_id", merchantID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if zone != "" {
		loc, err := ParseZone(zone)
		if err != nil {
			g.logger.Warn("ignoring unreadable pinned zone",
				zap.String("merchant_id", merchantID), zap.String("zone", zone), zap.Error(err))
		} else {
			now = now.In(loc)
		}
	}

	start, end := DayBounds(now)
	day := start.Format(DayLayout)
	log := g.logger.With(zap.String("merchant_id", merchantID), zap.String("play_day", day))

	played, err := g.spins.HasPlayed(ctx, merchantID, deviceHash, start, end)
	if err != nil {
		log.Error("spin record lookup failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if played {
		return nil, ErrAlreadyPlayed
	}

	entered, err := g.entries.HasEntry(ctx, merchantID, deviceHash, day)
	if err != nil {
		log.Error("wheel entry lookup failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if entered {
		return nil, ErrAlreadyPlayed
	}

	key := lockKey(merchantID, deviceHash, day)
	locked := false
	if g.locker != nil {
		ok, err := g.locker.Acquire(ctx, key, end.Sub(now)+time.Hour)
		switch {
		case err != nil:
			// the unique entry below still holds the line
			log.Warn("eligibility lock unavailable", zap.Error(err))
		case !ok:
			return nil, ErrAlreadyPlayed
		default:
			locked = true
		}
	}

	entry := &domain.WheelEntry{
		MerchantID: merchantID,
		DeviceHash: deviceHash,
		PlayDay:    day,
		Zone:       now.Location().String(),
		SessionID:  sessionID,
		CreatedAt:  now.UTC(),
	}
	if err := g.entries.Claim(ctx, entry); err != nil {
		if errors.Is(err, ErrAlreadyPlayed) {
			return nil, ErrAlreadyPlayed
		}
		if locked {
			if rerr := g.locker.Release(ctx, key); rerr != nil {
				log.Warn("failed to release eligibility lock", zap.Error(rerr))
			}
		}
		log.Error("wheel entry claim failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return entry, nil
}

// ParseZone loads an IANA zone name or a fixed "UTC+H:MM" offset name
func ParseZone(name string) (*time.Location, error) {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc, nil
	}
	rest, ok := strings.CutPrefix(name, "UTC")
	if !ok || len(rest) < 2 || (rest[0] != '+' && rest[0] != '-') {
		return nil, fmt.Errorf("unknown zone %q", name)
	}
	hours, mins, ok := strings.Cut(rest[1:], ":")
	if !ok {
		return nil, fmt.Errorf("unknown zone %q", name)
	}
	h, herr := strconv.Atoi(hours)
	m, merr := strconv.Atoi(mins)
	if herr != nil || merr != nil || h > 14 || m > 59 {
		return nil, fmt.Errorf("unknown zone %q", name)
	}
	offset := h*3600 + m*60
	if rest[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(name, offset), nil
}

func lockKey(merchantID, deviceHash, day string) string {
	return "prizewheel:entry:" + merchantID + ":" + deviceHash + ":" + day
}
