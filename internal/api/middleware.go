package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexbotov/prizewheel/internal/auth"
	"github.com/alexbotov/prizewheel/internal/metrics"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type contextKey string

const merchantKey contextKey = "merchant_id"

func merchantFrom(ctx context.Context) string {
	id, _ := ctx.Value(merchantKey).(string)
	return id
}

// AuthMiddleware validates merchant bearer tokens. Browsers cannot set
// headers on WebSocket handshakes, so access_token is accepted as a query
// parameter too.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			// Expect "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				respondError(w, http.StatusUnauthorized, "INVALID_TOKEN_FORMAT", "Invalid authorization header format")
				return
			}
			token = parts[1]
		}
		if token == "" {
			respondError(w, http.StatusUnauthorized, "NO_TOKEN", "Authorization header required")
			return
		}

		merchantID, err := h.tokens.VerifyMerchantToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				respondError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired")
			} else {
				respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")
			}
			return
		}

		ctx := context.WithValue(r.Context(), merchantKey, merchantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades through the recorder
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// LoggingMiddleware logs every request and records its latency
func (h *Handler) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())

		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.String("ip", getClientIP(r)))
	})
}

// CORSMiddleware adds CORS headers
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Device-Token, X-Timezone, X-Timezone-Offset")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware recovers from panics
func (h *Handler) RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic serving request",
					zap.String("path", r.URL.Path), zap.Any("panic", err), zap.Stack("stack"))
				respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
