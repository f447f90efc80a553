package model

import "time"

// DamageLogEntry is an append-only record of a damaged asset unit. The Asset
// row stays the authority on current status; the log drives the repair
// workflow.
type DamageLogEntry struct {
	ID            int64     `json:"id"`
	AssetID       int64     `json:"asset_id"`
	TransactionID int64     `json:"transaction_id"`
	StudentID     *int64    `json:"student_id,omitempty"`
	FacultyEmail  string    `json:"faculty_email,omitempty"`
	FacultyID     string    `json:"faculty_id,omitempty"`
	DamageReason  string    `json:"damage_reason"`
	Remarks       string    `json:"remarks,omitempty"`
	Status        string    `json:"status"`
	ReportedAt    time.Time `json:"reported_at"`

	// Joined fields (not always populated).
	AssetTag string `json:"asset_tag,omitempty"`
	ItemID   int64  `json:"item_id,omitempty"`
	ItemName string `json:"item_name,omitempty"`
	TxnID    string `json:"transaction_ref,omitempty"`
}

// Damage log statuses.
const (
	DamageReported    = "damaged"
	DamageUnderRepair = "under_repair"
	DamageResolved    = "resolved"
	DamageRetired     = "retired"
)

// Repair workflow actions.
const (
	ActionRepair  = "repair"
	ActionResolve = "resolve"
	ActionRetire  = "retire"
)

// ValidDamageAction reports whether a is a known repair workflow action.
func ValidDamageAction(a string) bool {
	return a == ActionRepair || a == ActionResolve || a == ActionRetire
}
