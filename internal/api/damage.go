package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iotlab/labstock/internal/metrics"
	"github.com/iotlab/labstock/internal/model"
	"github.com/iotlab/labstock/internal/store"
)

// DamageHandler handles the damaged-asset repair workflow endpoints.
type DamageHandler struct {
	DB *sql.DB
}

type damageActionRequest struct {
	Action string `json:"action"` // repair, resolve, or retire
}

// List handles GET /api/damaged-assets. By default only open entries (not yet
// resolved or retired) are shown; ?all=true includes the closed ones.
func (h *DamageHandler) List(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("all") != "true"
	entries, err := store.ListDamageEntries(r.Context(), h.DB, openOnly)
	if err != nil {
		slog.Error("failed to list damage log", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list damaged assets")
		return
	}
	if entries == nil {
		entries = []model.DamageLogEntry{}
	}
	jsonResponse(w, http.StatusOK, entries)
}

// ListUnderRepair handles GET /api/damaged-assets/under-repair.
func (h *DamageHandler) ListUnderRepair(w http.ResponseWriter, r *http.Request) {
	assets, err := store.ListUnderRepairAssets(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list under-repair assets", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list under-repair assets")
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	jsonResponse(w, http.StatusOK, assets)
}

// Get handles GET /api/damaged-assets/{id}.
func (h *DamageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid damage log id")
		return
	}

	entry, err := store.GetDamageEntry(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get damage entry")
		return
	}
	if entry == nil {
		jsonError(w, http.StatusNotFound, "damage entry not found")
		return
	}
	jsonResponse(w, http.StatusOK, entry)
}

// Action handles POST /api/damaged-assets/{id}/action.
func (h *DamageHandler) Action(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid damage log id")
		return
	}

	var req damageActionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := store.UpdateDamagedAsset(r.Context(), h.DB, id, req.Action)
	if err != nil {
		storeError(w, err)
		return
	}

	metrics.DamageActions.WithLabelValues(req.Action).Inc()
	claims := GetClaims(r.Context())
	slog.Info("damage action applied", "user", claims.Username, "asset", entry.AssetTag,
		"action", req.Action, "status", entry.Status)
	jsonResponse(w, http.StatusOK, entry)
}
