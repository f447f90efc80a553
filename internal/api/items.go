package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iotlab/labstock/internal/imaging"
	"github.com/iotlab/labstock/internal/model"
	"github.com/iotlab/labstock/internal/store"
)

// ItemsHandler handles the item catalog and stock endpoints.
type ItemsHandler struct {
	DB *sql.DB
}

type createItemRequest struct {
	SKU                  string `json:"sku"`
	Name                 string `json:"name"`
	Category             string `json:"category"`
	Vendor               string `json:"vendor"`
	Location             string `json:"location"`
	Description          string `json:"description"`
	TrackingType         string `json:"tracking_type"`
	InitialQuantity      int    `json:"initial_quantity"`
	MinThresholdQuantity int    `json:"min_threshold_quantity"`
	AssetPrefix          string `json:"asset_prefix"`
}

type updateItemRequest struct {
	Name                 string `json:"name"`
	Category             string `json:"category"`
	Vendor               string `json:"vendor"`
	Location             string `json:"location"`
	Description          string `json:"description"`
	MinThresholdQuantity int    `json:"min_threshold_quantity"`
}

type stockRequest struct {
	Action    string   `json:"action"` // "add" or "remove"
	Quantity  int      `json:"quantity"`
	AssetTags []string `json:"asset_tags"` // remove only, asset-tracked items
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	items, err := store.ListItems(r.Context(), h.DB, includeInactive)
	if err != nil {
		slog.Error("failed to list items", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// ListLowStock handles GET /api/items/low-stock.
func (h *ItemsHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := store.ListLowStockItems(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list low-stock items", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list low-stock items")
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SKU == "" || req.Name == "" {
		jsonError(w, http.StatusBadRequest, "sku and name required")
		return
	}
	if !model.ValidTrackingType(req.TrackingType) {
		jsonError(w, http.StatusBadRequest, "tracking_type must be bulk or asset")
		return
	}

	item, tags, err := store.CreateItem(r.Context(), h.DB, store.CreateItemParams{
		SKU:                  req.SKU,
		Name:                 req.Name,
		Category:             req.Category,
		Vendor:               req.Vendor,
		Location:             req.Location,
		Description:          req.Description,
		TrackingType:         req.TrackingType,
		InitialQuantity:      req.InitialQuantity,
		MinThresholdQuantity: req.MinThresholdQuantity,
		AssetPrefix:          req.AssetPrefix,
	})
	if err != nil {
		storeError(w, err)
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("item created", "user", claims.Username, "sku", item.SKU, "tracking", item.TrackingType)
	jsonResponse(w, http.StatusCreated, map[string]any{
		"item":       item,
		"asset_tags": tags,
	})
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	jsonResponse(w, http.StatusOK, item)
}

// ListAssets handles GET /api/items/{id}/assets.
func (h *ItemsHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	assets, err := store.ListAssets(r.Context(), h.DB, id, r.URL.Query().Get("status"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	jsonResponse(w, http.StatusOK, assets)
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	if err := store.UpdateItem(r.Context(), h.DB, id, store.UpdateItemParams{
		Name:                 req.Name,
		Category:             req.Category,
		Vendor:               req.Vendor,
		Location:             req.Location,
		Description:          req.Description,
		MinThresholdQuantity: req.MinThresholdQuantity,
	}); err != nil {
		storeError(w, err)
		return
	}

	item, _ := store.GetItem(r.Context(), h.DB, id)
	jsonResponse(w, http.StatusOK, item)
}

// AdjustStock handles POST /api/items/{id}/stock.
func (h *ItemsHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req stockRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())

	switch req.Action {
	case "add":
		item, tags, err := store.RestockItem(r.Context(), h.DB, id, req.Quantity)
		if err != nil {
			storeError(w, err)
			return
		}
		slog.Info("stock added", "user", claims.Username, "item", item.SKU, "quantity", req.Quantity)
		jsonResponse(w, http.StatusOK, map[string]any{
			"item":       item,
			"asset_tags": tags,
		})
	case "remove":
		item, err := store.RemoveStock(r.Context(), h.DB, id, req.Quantity, req.AssetTags)
		if err != nil {
			storeError(w, err)
			return
		}
		slog.Info("stock removed", "user", claims.Username, "item", item.SKU, "quantity", req.Quantity)
		jsonResponse(w, http.StatusOK, map[string]any{"item": item})
	default:
		jsonError(w, http.StatusBadRequest, "action must be add or remove")
	}
}

// Delete handles DELETE /api/items/{id}. Items are deactivated, not erased,
// so completed transactions keep their line history.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if err := store.DeactivateItem(r.Context(), h.DB, id); err != nil {
		storeError(w, err)
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("item deactivated", "user", claims.Username, "item_id", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deactivated"})
}

// UploadImage handles PUT /api/items/{id}/image.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	// Limit to 5 MB.
	r.Body = http.MaxBytesReader(w, r.Body, 5<<20)

	if err := r.ParseMultipartForm(5 << 20); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	result, err := imaging.Process(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.SetItemImage(r.Context(), h.DB, id, result.Data, result.MIME); err != nil {
		storeError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "image uploaded"})
}

// GetImage handles GET /api/items/{id}/image.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	data, mime, err := store.GetItemImage(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get image")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
