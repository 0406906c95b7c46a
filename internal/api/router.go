package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	r.Use(h.RecoveryMiddleware)
	r.Use(CORSMiddleware)
	r.Use(h.LoggingMiddleware)

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Customer wheel
	api.HandleFunc("/merchants/{merchant_id}/wheel/sessions", h.StartSession).Methods("POST", "OPTIONS")
	api.HandleFunc("/wheel/sessions/{session_id}", h.GetSession).Methods("GET")
	api.HandleFunc("/wheel/sessions/{session_id}/spin", h.Spin).Methods("POST", "OPTIONS")
	api.HandleFunc("/wheel/sessions/{session_id}/resolve", h.Resolve).Methods("POST", "OPTIONS")
	api.HandleFunc("/redeem/{token}", h.RedeemView).Methods("GET")

	// Merchant dashboard
	merchant := api.PathPrefix("/merchant").Subrouter()
	merchant.Use(h.AuthMiddleware)
	merchant.HandleFunc("/wheel", h.WheelStatus).Methods("GET")
	merchant.HandleFunc("/wheel/disable", h.DisableWheel).Methods("POST")
	merchant.HandleFunc("/wheel/enable", h.EnableWheel).Methods("POST")
	merchant.HandleFunc("/wheel/history", h.WheelHistory).Methods("GET")
	merchant.HandleFunc("/wheel/preview", h.Preview).Methods("GET")
	merchant.HandleFunc("/spins", h.SpinHistory).Methods("GET")
	merchant.HandleFunc("/coupons/{code}/redeem", h.RedeemCoupon).Methods("POST")
	merchant.HandleFunc("/feed", h.MerchantFeed).Methods("GET")

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
