// Package handlers provides HTTP handlers for the analysis API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medsafe/go-rxcheck/internal/api/middleware"
	"github.com/medsafe/go-rxcheck/internal/engine"
	"github.com/medsafe/go-rxcheck/pkg/circuitbreaker"
)

// AnalysisHandler handles the prescription analysis endpoints.
type AnalysisHandler struct {
	service  *engine.Service
	breakers *circuitbreaker.Manager
	logger   *zap.Logger
}

// NewAnalysisHandler creates a new handler. breakers may be nil when no
// external dependencies are wired.
func NewAnalysisHandler(service *engine.Service, breakers *circuitbreaker.Manager, logger *zap.Logger) *AnalysisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisHandler{service: service, breakers: breakers, logger: logger}
}

// Routes returns the analysis routes.
func (h *AnalysisHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/check_interactions", h.CheckInteractions)
	r.Post("/check_dosage", h.CheckDosage)
	r.Post("/get_alternatives", h.GetAlternatives)
	return r
}

// CheckInteractions handles POST /check_interactions
func (h *AnalysisHandler) CheckInteractions(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	h.logger.Info("processing interaction check",
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Int("text_len", len(req.PrescriptionText)))

	resp := h.service.CheckInteractions(r.Context(), req)
	h.writeJSON(w, http.StatusOK, resp)
}

// CheckDosage handles POST /check_dosage
func (h *AnalysisHandler) CheckDosage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	h.logger.Info("processing dosage check",
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Int("text_len", len(req.PrescriptionText)))

	resp := h.service.CheckDosage(r.Context(), req)
	h.writeJSON(w, http.StatusOK, resp)
}

// GetAlternatives handles POST /get_alternatives
func (h *AnalysisHandler) GetAlternatives(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	h.logger.Info("processing alternatives lookup",
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Int("text_len", len(req.PrescriptionText)))

	resp := h.service.SuggestAlternatives(r.Context(), req)
	h.writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
func (h *AnalysisHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready. It reports the circuit state of the
// external dependencies so orchestrators can see a degraded service.
func (h *AnalysisHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ready"}
	if h.breakers != nil {
		resp["breakers"] = h.breakers.Health()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// decode parses and validates the common request body. It writes the
// error response itself and reports whether the caller should proceed.
func (h *AnalysisHandler) decode(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if err := req.Patient().Validate(); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (h *AnalysisHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *AnalysisHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
