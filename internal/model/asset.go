package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Asset represents a single physical unit of an asset-tracked item.
type Asset struct {
	ID                int64     `json:"id"`
	ItemID            int64     `json:"item_id"`
	AssetTag          string    `json:"asset_tag"`
	SerialNo          string    `json:"serial_no,omitempty"`
	Status            string    `json:"status"`
	Condition         string    `json:"condition"`
	Location          string    `json:"location,omitempty"`
	LastTransactionID *int64    `json:"last_transaction_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Asset statuses. Retired is terminal.
const (
	AssetAvailable = "available"
	AssetIssued    = "issued"
	AssetDamaged   = "damaged"
	AssetRetired   = "retired"
)

// Asset conditions.
const (
	ConditionGood   = "good"
	ConditionFaulty = "faulty"
	ConditionBroken = "broken"
)

// ValidAssetStatus reports whether s is a known asset status.
func ValidAssetStatus(s string) bool {
	switch s {
	case AssetAvailable, AssetIssued, AssetDamaged, AssetRetired:
		return true
	}
	return false
}

// assetTagWidth is the fixed zero-padded width of the numeric tag suffix.
const assetTagWidth = 4

// FormatAssetTag builds an asset tag from a prefix and sequence number,
// e.g. ("ARD-UNO", 7) -> "ARD-UNO-0007".
func FormatAssetTag(prefix string, seq int) string {
	return fmt.Sprintf("%s-%0*d", prefix, assetTagWidth, seq)
}

// ParseAssetTag splits an asset tag into its prefix and sequence number.
// The sequence is the fixed-width numeric suffix after the last dash.
func ParseAssetTag(tag string) (prefix string, seq int, err error) {
	idx := strings.LastIndex(tag, "-")
	if idx < 1 || idx == len(tag)-1 {
		return "", 0, fmt.Errorf("malformed asset tag %q", tag)
	}
	suffix := tag[idx+1:]
	if len(suffix) != assetTagWidth {
		return "", 0, fmt.Errorf("asset tag %q: suffix must be %d digits", tag, assetTagWidth)
	}
	seq, err = strconv.Atoi(suffix)
	if err != nil || seq < 0 {
		return "", 0, fmt.Errorf("asset tag %q: non-numeric suffix", tag)
	}
	return tag[:idx], seq, nil
}
