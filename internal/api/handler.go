package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/service"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	wallet *service.WalletService
}

func NewHandler(svc *service.WalletService) *Handler {
	return &Handler{wallet: svc}
}

// NewRouter wires every wallet endpoint under /api/v1 plus /health and
// /metrics. An empty origin list allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/accounts", h.CreateAccountHandler).Methods("POST")
	v1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods("GET")
	v1.HandleFunc("/accounts/{id}", h.DeleteAccountHandler).Methods("DELETE")
	v1.HandleFunc("/accounts/{id}/deposits", h.DepositHandler).Methods("POST")
	v1.HandleFunc("/accounts/{id}/withdrawals", h.WithdrawHandler).Methods("POST")
	v1.HandleFunc("/accounts/{id}/balance", h.UpdateBalanceHandler).Methods("POST")
	v1.HandleFunc("/accounts/{id}/pending", h.OpenPendingHandler).Methods("POST")
	v1.HandleFunc("/accounts/{id}/pending/close", h.ClosePendingHandler).Methods("POST")
	v1.HandleFunc("/accounts/{id}/transactions", h.GetTransactionsHandler).Methods("GET")
	v1.HandleFunc("/transfers", h.CreateTransferHandler).Methods("POST")

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
	})(r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records count and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// errorBody is the structured failure returned by every endpoint.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAlreadyExists, domain.KindDuplicateRequest, domain.KindOutOfOrder:
		return http.StatusConflict
	case domain.KindAlreadyDeleted:
		return http.StatusGone
	case domain.KindInsufficientFunds, domain.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondWithServiceError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		log.Printf("api: unclassified error: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Internal", "Internal Server Error")
		return
	}
	code := statusFor(derr.Kind)
	msg := derr.Error()
	if code == http.StatusInternalServerError {
		log.Printf("api: %v", err)
		msg = "Internal Server Error"
	}
	respondWithError(w, code, string(derr.Kind), msg)
}

func respondWithError(w http.ResponseWriter, code int, kind, message string) {
	respondWithJSON(w, code, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
