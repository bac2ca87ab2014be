package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ochsettings/internal/trigger"
)

type CoordinateHandler struct {
	recomputer trigger.Recomputer
	secret     string
	log        *zap.Logger
}

func NewCoordinateHandler(recomputer trigger.Recomputer, secret string, log *zap.Logger) *CoordinateHandler {
	return &CoordinateHandler{recomputer: recomputer, secret: secret, log: log.Named("coordinate")}
}

type coordinateAck struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	Score  *int   `json:"score,omitempty"`
}

// Coordinate acknowledges a settings side-effect request. Callers must
// present the shared secret; with no secret configured every call is refused. Completeness
// updates are recomputed synchronously; other types are only logged.
func (h *CoordinateHandler) Coordinate(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get(trigger.SecretHeader)), []byte(h.secret)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body trigger.CoordinateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.UserID == uuid.Nil {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	switch body.Type {
	case trigger.UpdateProfileCompleteness, trigger.UpdatePrivacy, trigger.UpdateNotificationPreferences,
		trigger.UpdateCoachingPreferences, trigger.UpdateGeneral:
	default:
		http.Error(w, "unknown update type", http.StatusBadRequest)
		return
	}

	log := h.log.With(zap.String("user_id", body.UserID.String()), zap.String("type", string(body.Type)))
	ack := coordinateAck{Status: "accepted", Type: string(body.Type)}
	if body.Type == trigger.UpdateProfileCompleteness {
		score, err := h.recomputer.RecomputeCompleteness(context.WithoutCancel(r.Context()), body.UserID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		ack.Score = &score
	}
	log.Info("coordination accepted", zap.Int("changed_fields", len(body.Changes)))
	writeJSON(w, http.StatusAccepted, ack)
}
