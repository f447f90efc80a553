package model

import "time"

// Item represents a stock-keeping unit. Bulk items are tracked by quantity
// counters only; asset items additionally have one Asset row per physical unit.
type Item struct {
	ID                   int64      `json:"id"`
	SKU                  string     `json:"sku"`
	Name                 string     `json:"name"`
	Category             string     `json:"category,omitempty"`
	Vendor               string     `json:"vendor,omitempty"`
	Location             string     `json:"location,omitempty"`
	Description          string     `json:"description,omitempty"`
	TrackingType         string     `json:"tracking_type"`
	TotalQuantity        int        `json:"total_quantity"`
	AvailableQuantity    int        `json:"available_quantity"`
	ReservedQuantity     int        `json:"reserved_quantity"`
	DamagedQuantity      int        `json:"damaged_quantity"`
	MinThresholdQuantity int        `json:"min_threshold_quantity"`
	AssetSeq             int        `json:"-"`
	ImageMime            string     `json:"image_mime,omitempty"`
	IsActive             bool       `json:"is_active"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty"`
}

// Tracking types. Immutable after item creation.
const (
	TrackingBulk  = "bulk"
	TrackingAsset = "asset"
)

// ValidTrackingType reports whether t is a known tracking type.
func ValidTrackingType(t string) bool {
	return t == TrackingBulk || t == TrackingAsset
}

// LowStock reports whether the item's available quantity has fallen to or
// below its minimum threshold.
func (i *Item) LowStock() bool {
	return i.AvailableQuantity <= i.MinThresholdQuantity
}
