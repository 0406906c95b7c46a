// Package auth verifies merchant bearer tokens and signs coupon redemption
// links
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alexbotov/prizewheel/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

const (
	merchantAudience = "prizewheel-merchant"
	redeemAudience   = "prizewheel-redeem"
	issuer           = "prizewheel"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// MerchantClaims identify a merchant dashboard user
type MerchantClaims struct {
	MerchantID string `json:"merchant_id"`
	jwt.RegisteredClaims
}

// RedeemClaims identify the coupon behind a redemption link
type RedeemClaims struct {
	Code       string `json:"code"`
	MerchantID string `json:"merchant_id"`
	jwt.RegisteredClaims
}

// Service issues and verifies tokens
type Service struct {
	config *config.AuthConfig
	now    func() time.Time
}

// New creates a new auth service
func New(cfg *config.AuthConfig) *Service {
	return &Service{
		config: cfg,
		now:    time.Now,
	}
}

// IssueMerchantToken signs a bearer token for a merchant. Merchant login
// lives outside this service; this exists for operators and tests.
func (s *Service) IssueMerchantToken(merchantID string) (string, error) {
	now := s.now().UTC()
	claims := MerchantClaims{
		MerchantID: merchantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   merchantID,
			Audience:  jwt.ClaimStrings{merchantAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.MerchantTokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// VerifyMerchantToken validates a bearer token and returns its merchant id
func (s *Service) VerifyMerchantToken(tokenString string) (string, error) {
	var claims MerchantClaims
	if err := s.parse(tokenString, &claims, s.config.JWTSecret, merchantAudience, true); err != nil {
		return "", err
	}
	if claims.MerchantID == "" {
		return "", ErrInvalidToken
	}
	return claims.MerchantID, nil
}

// IssueRedeemToken signs the coupon reference carried by a redemption link.
// The link does not expire; the coupon's own expiry decides its status.
func (s *Service) IssueRedeemToken(code, merchantID string) (string, error) {
	claims := RedeemClaims{
		Code:       code,
		MerchantID: merchantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Audience: jwt.ClaimStrings{redeemAudience},
			IssuedAt: jwt.NewNumericDate(s.now().UTC()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.RedeemTokenSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign redeem token: %w", err)
	}
	return token, nil
}

// ParseRedeemToken verifies a redemption link token
func (s *Service) ParseRedeemToken(tokenString string) (*RedeemClaims, error) {
	var claims RedeemClaims
	if err := s.parse(tokenString, &claims, s.config.RedeemTokenSecret, redeemAudience, false); err != nil {
		return nil, err
	}
	if claims.Code == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// RedeemURL joins the public redemption base URL and a token
func RedeemURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(token)
}

func (s *Service) parse(tokenString string, claims jwt.Claims, secret, audience string, requireExp bool) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	}
	if requireExp {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
