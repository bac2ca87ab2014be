package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"ochsettings/internal/models"
)

type OverviewReader interface {
	Overview(ctx context.Context) (*models.SettingsOverview, error)
}

type AdminHandler struct {
	repo OverviewReader
	log  *zap.Logger
}

func NewAdminHandler(repo OverviewReader, log *zap.Logger) *AdminHandler {
	return &AdminHandler{repo: repo, log: log.Named("admin")}
}

// Overview returns settings and entitlements aggregates. Mounted behind
// RequireAdmin.
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	out, err := h.repo.Overview(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
