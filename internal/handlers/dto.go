package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"ochsettings/internal/models"
	"ochsettings/internal/realtime"
	"ochsettings/internal/settings"
)

type CompletenessDTO struct {
	Score     int                 `json:"score"`
	NextSteps []settings.NextStep `json:"nextSteps"`
}

type FeatureGatesDTO struct {
	Features []settings.FeatureGate `json:"features"`
}

type RecommendationsDTO struct {
	Recommendations []string `json:"recommendations"`
}

// StreamFrame is one websocket frame on the settings stream.
type StreamFrame struct {
	Type         string                   `json:"type"`
	Change       *realtime.ChangeEvent    `json:"change,omitempty"`
	Entitlements *models.UserEntitlements `json:"entitlements,omitempty"`
}

const (
	frameReady              = "ready"
	frameSettingsChange     = "settings_change"
	frameEntitlementsChange = "entitlements_change"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, settings.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, models.ErrInvalidUpdate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, settings.ErrStoreUnavailable):
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	default:
		log.Error("request failed", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
