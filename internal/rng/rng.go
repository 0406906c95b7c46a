// Package rng provides the cryptographic random source behind wheel draws,
// rotation jitter and coupon codes.
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

var (
	ErrInvalidBound  = errors.New("bound must be positive")
	ErrInvalidRange  = errors.New("min cannot be greater than max")
	ErrEmptyAlphabet = errors.New("alphabet cannot be empty")
)

// Service draws uniformly distributed values from crypto/rand
type Service struct {
	entropy io.Reader
	mu      sync.Mutex

	lastHealthCheck  time.Time
	samplesGenerated int64
}

// New creates a new RNG service using crypto/rand
func New() *Service {
	return NewWithReader(rand.Reader)
}

// NewWithReader creates a service over an arbitrary entropy source
func NewWithReader(r io.Reader) *Service {
	return &Service{
		entropy:         r,
		lastHealthCheck: time.Now(),
	}
}

// GenerateInt returns a random integer in range [0, max).
// Rejection sampling keeps the result free of modulo bias.
func (s *Service) GenerateInt(max int64) (int64, error) {
	if max <= 0 {
		return 0, ErrInvalidBound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limit := uint64(math.MaxInt64)
	threshold := limit - (limit % uint64(max))

	var buf [8]byte
	for {
		if _, err := io.ReadFull(s.entropy, buf[:]); err != nil {
			return 0, fmt.Errorf("failed to read entropy: %w", err)
		}

		n := binary.BigEndian.Uint64(buf[:]) >> 1
		if n < threshold {
			s.samplesGenerated++
			return int64(n % uint64(max)), nil
		}
	}
}

// GenerateIntRange returns a random integer in range [min, max]
func (s *Service) GenerateIntRange(min, max int64) (int64, error) {
	if min > max {
		return 0, ErrInvalidRange
	}

	n, err := s.GenerateInt(max - min + 1)
	if err != nil {
		return 0, err
	}
	return min + n, nil
}

// GenerateFloat returns a random float in range [0.0, 1.0)
func (s *Service) GenerateFloat() (float64, error) {
	n, err := s.GenerateInt(1 << 53)
	if err != nil {
		return 0, err
	}
	return float64(n) / float64(1<<53), nil
}

// GenerateString returns n characters drawn uniformly from alphabet
func (s *Service) GenerateString(alphabet string, n int) (string, error) {
	if alphabet == "" {
		return "", ErrEmptyAlphabet
	}

	out := make([]byte, n)
	for i := range out {
		idx, err := s.GenerateInt(int64(len(alphabet)))
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx]
	}
	return string(out), nil
}

// HealthCheck draws a sample batch and runs a chi-square uniformity test
func (s *Service) HealthCheck() (*HealthResult, error) {
	s.mu.Lock()
	s.lastHealthCheck = time.Now()
	s.mu.Unlock()

	const sampleSize = 1000
	samples := make([]int64, sampleSize)

	for i := 0; i < sampleSize; i++ {
		n, err := s.GenerateInt(100)
		if err != nil {
			return &HealthResult{
				Healthy:   false,
				Timestamp: time.Now(),
				Error:     err.Error(),
			}, err
		}
		samples[i] = n
	}

	chiSquare, passed := s.chiSquareTest(samples, 100)

	s.mu.Lock()
	generated := s.samplesGenerated
	s.mu.Unlock()

	return &HealthResult{
		Healthy:          passed,
		Timestamp:        time.Now(),
		SamplesGenerated: generated,
		ChiSquare:        chiSquare,
		ChiSquarePassed:  passed,
	}, nil
}

// chiSquareTest checks samples against a uniform distribution over bins
// at 99% confidence.
func (s *Service) chiSquareTest(samples []int64, bins int) (float64, bool) {
	counts := make([]int, bins)
	for _, sample := range samples {
		counts[int(sample)%bins]++
	}

	expected := float64(len(samples)) / float64(bins)

	var chiSquare float64
	for _, count := range counts {
		diff := float64(count) - expected
		chiSquare += (diff * diff) / expected
	}

	// 99 degrees of freedom
	criticalValue := 134.6
	if bins != 100 {
		criticalValue = float64(bins-1) + 2.576*math.Sqrt(2.0*float64(bins-1))
	}

	return chiSquare, chiSquare < criticalValue
}

// HealthResult contains RNG health check results
type HealthResult struct {
	Healthy          bool      `json:"healthy"`
	Timestamp        time.Time `json:"timestamp"`
	SamplesGenerated int64     `json:"samples_generated"`
	ChiSquare        float64   `json:"chi_square"`
	ChiSquarePassed  bool      `json:"chi_square_passed"`
	Error            string    `json:"error,omitempty"`
}
