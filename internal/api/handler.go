package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/ensemble"
	"github.com/opensource-finance/fraudlens/internal/feedback"
	"github.com/opensource-finance/fraudlens/internal/registry"
	"github.com/opensource-finance/fraudlens/internal/repository"
	"github.com/opensource-finance/fraudlens/internal/scoring"
)

// maxBodyBytes bounds request bodies; batch requests are the largest.
const maxBodyBytes = 64 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *scoring.Service
	models  domain.ModelsConfig
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *scoring.Service, models domain.ModelsConfig, version string) *Handler {
	return &Handler{
		svc:     svc,
		models:  models,
		version: version,
	}
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id,omitempty"`
	domain.PredictionResult
	Cached bool `json:"cached,omitempty"`
}

func newPredictResponse(p *domain.Prediction) PredictResponse {
	return PredictResponse{
		ID:               p.ID,
		RequestID:        p.RequestID,
		PredictionResult: p.Result,
		Cached:           p.Cached,
	}
}

// BatchResponse is the response for POST /predict_batch.
type BatchResponse struct {
	Predictions     []PredictResponse `json:"predictions"`
	TotalSamples    int               `json:"total_samples"`
	ExecutionTimeMs float64           `json:"execution_time_ms"`
}

// Predict handles POST /predict. The body is either the feature object
// itself or {"features": {...}}.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body map[string]any
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, &domain.ValidationError{Reason: "invalid JSON request body"})
		return
	}

	input := body
	if nested, ok := body["features"].(map[string]any); ok {
		input = nested
	}

	p, err := h.svc.Score(ctx, GetTenantID(ctx), GetRequestID(ctx), input)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newPredictResponse(p))
}

// PredictBatch handles POST /predict_batch. The body is {"samples": [...]}
// or a bare list of feature objects.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		writeError(w, &domain.ValidationError{Reason: "invalid JSON request body"})
		return
	}

	var samples []map[string]any
	var err error
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &samples)
	} else {
		var req struct {
			Samples []map[string]any `json:"samples"`
		}
		err = json.Unmarshal(raw, &req)
		samples = req.Samples
	}
	if err != nil {
		writeError(w, &domain.ValidationError{Reason: "samples must be a list of feature objects"})
		return
	}

	res, err := h.svc.ScoreBatch(ctx, GetTenantID(ctx), GetRequestID(ctx), samples)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := BatchResponse{
		Predictions:     make([]PredictResponse, len(res.Predictions)),
		TotalSamples:    res.TotalSamples,
		ExecutionTimeMs: res.ExecutionTimeMs,
	}
	for i, p := range res.Predictions {
		resp.Predictions[i] = newPredictResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":        "unhealthy",
			"version":       h.version,
			"models_loaded": false,
		})
		return
	}

	status := "healthy"
	deps := h.svc.Dependencies()

	if deps.Repository != nil {
		if err := deps.Repository.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if deps.Cache != nil {
		if err := deps.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if deps.Bus != nil {
		if err := deps.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"version":       h.version,
		"models_loaded": true,
		"models":        h.svc.ModelNames(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Features lists the feature order and which features are derived.
func (h *Handler) Features(w http.ResponseWriter, r *http.Request) {
	schema := h.svc.Schema()
	writeJSON(w, http.StatusOK, map[string]any{
		"features": schema.Names(),
		"count":    schema.Len(),
		"required": schema.Required(),
		"derived":  schema.Derived(),
	})
}

// Metrics returns training metrics and the ensemble config in effect.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Config()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"training_metrics": h.svc.TrainingMetrics(),
		"ensemble":         cfg,
		"normalizer":       h.svc.NormalizerPolicy(),
		"models":           h.svc.ModelNames(),
	})
}

// GetEnsemble returns the ensemble config in effect.
func (h *Handler) GetEnsemble(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Config()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateWeightsRequest is the request body for PUT /ensemble/weights.
type UpdateWeightsRequest struct {
	IsoWeight *float64 `json:"iso_weight"`
	XGBWeight *float64 `json:"xgb_weight"`
}

// UpdateWeights handles PUT /ensemble/weights.
func (h *Handler) UpdateWeights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateWeightsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, &domain.ValidationError{Reason: "invalid JSON request body"})
		return
	}
	if req.IsoWeight == nil || req.XGBWeight == nil {
		writeError(w, &domain.ConfigurationError{Field: "weights", Reason: "iso_weight and xgb_weight are required"})
		return
	}

	cfg, err := h.svc.UpdateWeights(ctx, GetTenantID(ctx), *req.IsoWeight, *req.XGBWeight)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateThresholdRequest is the request body for PUT /ensemble/threshold.
type UpdateThresholdRequest struct {
	Threshold *float64 `json:"threshold"`
}

// UpdateThreshold handles PUT /ensemble/threshold.
func (h *Handler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateThresholdRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, &domain.ValidationError{Reason: "invalid JSON request body"})
		return
	}
	if req.Threshold == nil {
		writeError(w, &domain.ConfigurationError{Field: "threshold", Reason: "is required"})
		return
	}

	cfg, err := h.svc.UpdateThreshold(ctx, GetTenantID(ctx), *req.Threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// CalibrateRequest is the optional request body for POST /ensemble/calibrate.
type CalibrateRequest struct {
	MinSamples int     `json:"min_samples"`
	Step       float64 `json:"step"`
	Observed   bool    `json:"observed"`
	Beta       float64 `json:"beta"`
}

// Calibrate handles POST /ensemble/calibrate.
func (h *Handler) Calibrate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CalibrateRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, &domain.ValidationError{Reason: "invalid JSON request body"})
		return
	}

	var opts []ensemble.Option
	switch {
	case req.Observed:
		opts = append(opts, ensemble.WithObservedCandidates())
	case req.Step != 0:
		if err := ensemble.ValidateStep(req.Step); err != nil {
			writeError(w, err)
			return
		}
		opts = append(opts, ensemble.WithCandidates(ensemble.Grid(req.Step)))
	}
	if req.Beta > 0 {
		opts = append(opts, ensemble.WithObjective(ensemble.ObjectiveFBeta(req.Beta)))
	}

	cal, err := h.svc.Calibrate(ctx, GetTenantID(ctx), req.MinSamples, opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

// History handles GET /ensemble/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, &domain.ValidationError{Fields: []string{"limit"}, Reason: "must be a positive integer"})
			return
		}
		limit = n
	}

	configs, err := h.svc.History(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configs": configs,
		"count":   len(configs),
	})
}

// GetPrediction retrieves a stored prediction by ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	predictionID := chi.URLParam(r, "id")

	p, err := h.svc.GetPrediction(ctx, GetTenantID(ctx), predictionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// FeedbackRequest is the request body for POST /feedback.
type FeedbackRequest struct {
	PredictionID string `json:"prediction_id"`
	Label        *int   `json:"label"`
}

// Feedback handles POST /feedback.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req FeedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, &domain.ValidationError{Reason: "invalid JSON request body"})
		return
	}
	if req.Label == nil {
		writeError(w, &domain.ValidationError{Fields: []string{"label"}, Reason: "is required"})
		return
	}

	fb, err := h.svc.RecordFeedback(ctx, GetTenantID(ctx), req.PredictionID, *req.Label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

// ReloadModels re-reads the model directory and swaps the loaded models.
func (h *Handler) ReloadModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	reg, err := registry.Load(ctx, h.models)
	if err != nil {
		slog.Error("failed to reload models", "dir", h.models.Dir, "error", err)
		writeError(w, err)
		return
	}
	if err := h.svc.LoadModels(scoring.ModelsFromRegistry(reg)); err != nil {
		writeError(w, err)
		return
	}

	cfg, _ := h.svc.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "models reloaded successfully",
		"models":      reg.ModelNames(),
		"ensemble":    cfg,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps typed errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()

	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case domain.IsModelNotLoaded(err):
		status = http.StatusServiceUnavailable
	case domain.IsConfiguration(err):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, feedback.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput), errors.Is(err, feedback.ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}
