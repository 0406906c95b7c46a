// Package identity derives the anonymous device identity of a wheel player
package identity

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	HeaderDeviceToken    = "X-Device-Token"
	CookieDeviceToken    = "device_token"
	HeaderTimezone       = "X-Timezone"
	HeaderTimezoneOffset = "X-Timezone-Offset"

	maxTokenLength = 256
	// largest real UTC offsets are -12h and +14h
	maxOffsetMinutes = 14 * 60
)

var (
	ErrMissingToken = errors.New("device token required")
	ErrInvalidToken = errors.New("device token invalid")
)

// Device is a resolved device identity
type Device struct {
	// Hash is the keyed hash stored instead of the raw token
	Hash     string
	Location *time.Location
}

// Resolver hashes device tokens and resolves device-local time zones
type Resolver struct {
	key         []byte
	defaultZone *time.Location
}

// NewResolver creates a resolver. The key must be at most 64 bytes; an
// unknown default zone falls back to UTC.
func NewResolver(key []byte, defaultZone string) (*Resolver, error) {
	if len(key) > blake2b.Size {
		return nil, errors.New("device hash key longer than 64 bytes")
	}
	loc, err := time.LoadLocation(defaultZone)
	if err != nil || defaultZone == "" {
		loc = time.UTC
	}
	return &Resolver{key: key, defaultZone: loc}, nil
}

// Hash returns the hex keyed BLAKE2b-256 of a raw token
func (r *Resolver) Hash(token string) (string, error) {
	h, err := blake2b.New256(r.key)
	if err != nil {
		return "", err
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FromRequest reads the device token from the header or cookie and the time
// zone from the request headers
func (r *Resolver) FromRequest(req *http.Request) (*Device, error) {
	token := strings.TrimSpace(req.Header.Get(HeaderDeviceToken))
	if token == "" {
		if c, err := req.Cookie(CookieDeviceToken); err == nil {
			token = strings.TrimSpace(c.Value)
		}
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	if len(token) > maxTokenLength {
		return nil, ErrInvalidToken
	}

	hash, err := r.Hash(token)
	if err != nil {
		return nil, err
	}
	return &Device{
		Hash:     hash,
		Location: r.Location(req.Header.Get(HeaderTimezone), req.Header.Get(HeaderTimezoneOffset)),
	}, nil
}

// Location resolves an IANA zone name, then an offset in minutes east of
// UTC, then the default zone
func (r *Resolver) Location(zone, offset string) *time.Location {
	if zone = strings.TrimSpace(zone); zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			return loc
		}
	}
	if offset = strings.TrimSpace(offset); offset != "" {
		if mins, err := strconv.Atoi(offset); err == nil && mins >= -maxOffsetMinutes && mins <= maxOffsetMinutes {
			return time.FixedZone("UTC"+formatOffset(mins), mins*60)
		}
	}
	return r.defaultZone
}

func formatOffset(mins int) string {
	sign := "+"
	if mins < 0 {
		sign = "-"
		mins = -mins
	}
	return sign + strconv.Itoa(mins/60) + ":" + twoDigits(mins%60)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
