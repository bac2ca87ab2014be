package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	mw "ochsettings/internal/middleware"
	"ochsettings/internal/models"
	"ochsettings/internal/settings"
	"ochsettings/internal/trigger"
)

type SettingsService interface {
	GetUserSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error)
	UpdateUserSettings(ctx context.Context, userID uuid.UUID, update models.SettingsUpdate, hasPortfolioItems *bool) (*models.UserSettings, error)
	GetUserEntitlements(ctx context.Context, userID uuid.UUID) (*models.UserEntitlements, error)
	HasPortfolioItems(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Notifier runs the post-save side effects of a settings mutation.
type Notifier interface {
	Trigger(ctx context.Context, userID uuid.UUID, update models.SettingsUpdate) trigger.UpdateType
	PublishSnapshot(ctx context.Context, s *models.UserSettings) error
}

type SettingsHandler struct {
	svc      SettingsService
	notifier Notifier
	log      *zap.Logger
}

func NewSettingsHandler(svc SettingsService, notifier Notifier, log *zap.Logger) *SettingsHandler {
	return &SettingsHandler{svc: svc, notifier: notifier, log: log.Named("settings_handler")}
}

func userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := mw.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

// Get returns the caller's settings, creating defaults on first access.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.GetUserSettings(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// maxUpdateBody caps PATCH bodies; the largest legitimate update is a
// handful of session records.
const maxUpdateBody = 64 << 10

// Update applies a partial camelCase update. Portfolio state is always read
// from storage, never taken from the caller.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	update, err := models.ParseSettingsUpdate(http.MaxBytesReader(w, r.Body, maxUpdateBody))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	st, err := h.svc.UpdateUserSettings(r.Context(), id, update, nil)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.notifier.PublishSnapshot(r.Context(), st); err != nil {
		h.log.Warn("publishing settings snapshot", zap.String("user_id", id.String()), zap.Error(err))
	}
	go h.notifier.Trigger(context.WithoutCancel(r.Context()), id, update)

	writeJSON(w, http.StatusOK, st)
}

// Entitlements returns the caller's entitlements or null.
func (h *SettingsHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	ent, err := h.svc.GetUserEntitlements(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

func (h *SettingsHandler) Completeness(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.GetUserSettings(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	has, err := h.svc.HasPortfolioItems(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, CompletenessDTO{
		Score:     settings.CalculateCompleteness(st, has),
		NextSteps: settings.NextSteps(st, has),
	})
}

func (h *SettingsHandler) Features(w http.ResponseWriter, r *http.Request) {
	ent, st, ok := h.gateInputs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, FeatureGatesDTO{Features: settings.AllFeatureGates(ent, st)})
}

func (h *SettingsHandler) Feature(w http.ResponseWriter, r *http.Request) {
	ent, st, ok := h.gateInputs(w, r)
	if !ok {
		return
	}
	feature := settings.Feature(chi.URLParam(r, "feature"))
	writeJSON(w, http.StatusOK, settings.CheckFeatureAccess(ent, st, feature))
}

func (h *SettingsHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	ent, st, ok := h.gateInputs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, RecommendationsDTO{Recommendations: settings.UpgradeRecommendations(ent, st)})
}

func (h *SettingsHandler) gateInputs(w http.ResponseWriter, r *http.Request) (*models.UserEntitlements, *models.UserSettings, bool) {
	id, ok := userID(w, r)
	if !ok {
		return nil, nil, false
	}
	st, err := h.svc.GetUserSettings(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return nil, nil, false
	}
	ent, err := h.svc.GetUserEntitlements(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return nil, nil, false
	}
	return ent, st, true
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
