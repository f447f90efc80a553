package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iotlab/labstock/internal/metrics"
	"github.com/iotlab/labstock/internal/store"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// errorKinds maps engine error kinds to HTTP statuses and metric labels.
// State races (someone else got there first) map to 409 so clients can
// distinguish "fix your request" from "refresh and retry".
var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{store.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
	{store.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{store.ErrAssetUnavailable, http.StatusConflict, "asset_unavailable"},
	{store.ErrAssetAlreadyResolved, http.StatusConflict, "asset_already_resolved"},
	{store.ErrInvalidAssetState, http.StatusConflict, "invalid_asset_state"},
	{store.ErrDuplicateSKU, http.StatusConflict, "duplicate_sku"},
	{store.ErrInsufficientStock, http.StatusBadRequest, "insufficient_stock"},
	{store.ErrAssetTagCountMismatch, http.StatusBadRequest, "tag_count_mismatch"},
	{store.ErrOverReturn, http.StatusBadRequest, "over_return"},
	{store.ErrNonReturnable, http.StatusBadRequest, "non_returnable"},
	{store.ErrItemInactive, http.StatusBadRequest, "item_inactive"},
	{store.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{store.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{store.ErrInvariantViolation, http.StatusInternalServerError, "invariant_violation"},
}

// storeError translates an engine error into an HTTP error response.
func storeError(w http.ResponseWriter, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			metrics.EngineErrors.WithLabelValues(k.kind).Inc()
			if errors.Is(err, store.ErrInvariantViolation) {
				// Counter drift means the books are wrong, not the request.
				slog.Error("data integrity alert", "error", err)
				jsonError(w, k.status, "inventory accounting error, contact the administrator")
				return
			}
			jsonError(w, k.status, err.Error())
			return
		}
	}
	slog.Error("unexpected engine error", "error", err)
	jsonError(w, http.StatusInternalServerError, "internal error")
}
