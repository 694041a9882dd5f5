// Package server exposes the operational HTTP surface: health, metrics, and
// a small admin API mirroring the bot's admin commands for tooling use.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"mediafetch/internal/bot"
	"mediafetch/internal/models"
	"mediafetch/internal/observability/logging"
	"mediafetch/internal/observability/metrics"
	"mediafetch/internal/storage"
)

type Config struct {
	Store       storage.Repository
	Broadcaster *bot.Broadcaster
	Metrics     *metrics.Recorder
	AdminToken  string
	Logger      *slog.Logger
}

type Server struct {
	store       storage.Repository
	broadcaster *bot.Broadcaster
	metrics     *metrics.Recorder
	verifier    *tokenVerifier
	logger      *slog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	verifier, err := newTokenVerifier(cfg.AdminToken)
	if err != nil {
		return nil, err
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:       cfg.Store,
		broadcaster: cfg.Broadcaster,
		metrics:     recorder,
		verifier:    verifier,
		logger:      logging.WithComponent(logger, "admin-http"),
	}, nil
}

// Handler assembles the routed, instrumented, hardened handler chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metricsz", s.handleMetricsz)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/admin/maintenance", s.verifier.requireToken(http.HandlerFunc(s.handleMaintenance)))
	mux.Handle("/admin/codes", s.verifier.requireToken(http.HandlerFunc(s.handleCodes)))
	mux.Handle("/admin/broadcast", s.verifier.requireToken(http.HandlerFunc(s.handleBroadcast)))

	var handler http.Handler = mux
	handler = metrics.HTTPMiddleware(s.metrics, handler)
	handler = logging.RequestLogger(logging.RequestLoggerConfig{Logger: s.logger})(handler)
	return securityHeaders(handler)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("store ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetricsz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

type maintenanceRequest struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.Maintenance())
	case http.MethodPost:
		var req maintenanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		flag := models.MaintenanceFlag{Enabled: req.Enabled, Message: strings.TrimSpace(req.Message)}
		if err := s.store.SetMaintenance(flag); err != nil {
			s.logger.Error("maintenance update failed", "error", err)
			http.Error(w, "could not persist maintenance flag", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, flag)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type codesRequest struct {
	Tier  string `json:"tier"`
	Count int    `json:"count"`
}

type codesResponse struct {
	Tier  models.Tier `json:"tier"`
	Codes []string    `json:"codes"`
}

func (s *Server) handleCodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.ListCodes(false))
	case http.MethodPost:
		var req codesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		tier, ok := models.ParseTier(req.Tier)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown tier %q", req.Tier), http.StatusBadRequest)
			return
		}
		count := req.Count
		if count <= 0 {
			count = 1
		}
		if count > 100 {
			http.Error(w, "count must be at most 100", http.StatusBadRequest)
			return
		}
		codes, err := s.store.GenerateCodes(tier, count)
		if err != nil {
			s.logger.Error("code generation failed", "tier", tier, "error", err)
			http.Error(w, "could not generate codes", http.StatusInternalServerError)
			return
		}
		response := codesResponse{Tier: tier}
		for _, code := range codes {
			response.Codes = append(response.Codes, code.Code)
		}
		writeJSON(w, http.StatusCreated, response)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type broadcastRequest struct {
	Audience string `json:"audience"`
	Message  string `json:"message"`
	AdminID  string `json:"adminId"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.broadcaster == nil {
		http.Error(w, "broadcast is not configured", http.StatusServiceUnavailable)
		return
	}
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	kind, err := bot.ParseAudience(req.Audience)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	recipients := s.broadcaster.SelectAudience(kind)
	report := s.broadcaster.Dispatch(r.Context(), req.AdminID, recipients, req.Message)
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("response encoding failed", "error", err)
	}
}
