package model

import "time"

// Transaction is a borrow request moving through the approval and
// issue/return lifecycle. Lab sessions and lab transfers reuse the same
// record with a null student.
type Transaction struct {
	ID       int64  `json:"id"`
	TxnID    string `json:"transaction_id"`
	Type     string `json:"transaction_type"`
	Status   string `json:"status"`

	StudentID    *int64 `json:"student_id,omitempty"`
	StudentRegNo string `json:"student_reg_no,omitempty"`
	FacultyEmail string `json:"faculty_email,omitempty"`
	FacultyID    string `json:"faculty_id,omitempty"`

	// Lab transfer only.
	TransferType   string `json:"transfer_type,omitempty"`
	TargetLabName  string `json:"target_lab_name,omitempty"`
	HandoverName   string `json:"handover_faculty_name,omitempty"`
	HandoverEmail  string `json:"handover_faculty_email,omitempty"`

	// Lab session only.
	LabSlot string `json:"lab_slot,omitempty"`

	Lines []TransactionLine `json:"items"`

	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	RejectedReason string     `json:"rejected_reason,omitempty"`

	IssuedBy *int64     `json:"issued_by,omitempty"`
	IssuedAt *time.Time `json:"issued_at,omitempty"`

	ExpectedReturnDate *time.Time `json:"expected_return_date,omitempty"`
	ActualReturnDate   *time.Time `json:"actual_return_date,omitempty"`
	DamageNotes        string     `json:"damage_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TransactionLine is one item entry on a transaction. AssetTags is empty
// until issuance assigns concrete units.
type TransactionLine struct {
	ItemID           int64    `json:"item_id"`
	ItemName         string   `json:"item_name,omitempty"`
	ItemSKU          string   `json:"item_sku,omitempty"`
	Quantity         int      `json:"quantity"`
	AssetTags        []string `json:"asset_tags"`
	IssuedQuantity   int      `json:"issued_quantity"`
	ReturnedQuantity int      `json:"returned_quantity"`
	DamagedQuantity  int      `json:"damaged_quantity"`
}

// Outstanding returns how many issued units have not yet been returned or
// written off as damaged.
func (l *TransactionLine) Outstanding() int {
	return l.IssuedQuantity - l.ReturnedQuantity - l.DamagedQuantity
}

// Transaction types.
const (
	TxnRegular     = "regular"
	TxnLabSession  = "lab_session"
	TxnLabTransfer = "lab_transfer"
)

// Lab transfer subtypes. Permanent transfers never return stock.
const (
	TransferTemporary = "temporary"
	TransferPermanent = "permanent"
)

// Transaction statuses.
const (
	StatusRaised    = "raised"
	StatusApproved  = "approved"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusOverdue   = "overdue"
	StatusRejected  = "rejected"
)

// Returnable reports whether a transaction in this state accepts returns.
func Returnable(status string) bool {
	return status == StatusActive || status == StatusOverdue
}
