package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/iotlab/labstock/internal/model"
)

const txnColumns = `id, transaction_id, transaction_type, transfer_type, status,
	student_id, student_reg_no, faculty_email, faculty_id,
	target_lab_name, handover_faculty_name, handover_faculty_email, lab_slot,
	approved_at, rejected_reason, issued_by, issued_at,
	expected_return_date, actual_return_date, damage_notes, created_at`

// dbtx is satisfied by both *sql.DB and *sql.Tx so reads can run standalone
// or inside an engine transaction.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	t := &model.Transaction{}
	var transferType, regNo, facultyEmail, facultyID sql.NullString
	var targetLab, handoverName, handoverEmail, labSlot sql.NullString
	var rejectedReason, damageNotes sql.NullString
	var studentID, issuedBy sql.NullInt64
	var approvedAt, issuedAt, expectedReturn, actualReturn sql.NullTime
	err := row.Scan(&t.ID, &t.TxnID, &t.Type, &transferType, &t.Status,
		&studentID, &regNo, &facultyEmail, &facultyID,
		&targetLab, &handoverName, &handoverEmail, &labSlot,
		&approvedAt, &rejectedReason, &issuedBy, &issuedAt,
		&expectedReturn, &actualReturn, &damageNotes, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.TransferType = transferType.String
	t.StudentRegNo = regNo.String
	t.FacultyEmail = facultyEmail.String
	t.FacultyID = facultyID.String
	t.TargetLabName = targetLab.String
	t.HandoverName = handoverName.String
	t.HandoverEmail = handoverEmail.String
	t.LabSlot = labSlot.String
	t.RejectedReason = rejectedReason.String
	t.DamageNotes = damageNotes.String
	if studentID.Valid {
		t.StudentID = &studentID.Int64
	}
	if issuedBy.Valid {
		t.IssuedBy = &issuedBy.Int64
	}
	if approvedAt.Valid {
		t.ApprovedAt = &approvedAt.Time
	}
	if issuedAt.Valid {
		t.IssuedAt = &issuedAt.Time
	}
	if expectedReturn.Valid {
		t.ExpectedReturnDate = &expectedReturn.Time
	}
	if actualReturn.Valid {
		t.ActualReturnDate = &actualReturn.Time
	}
	return t, nil
}

// loadLines populates a transaction's lines and their assigned asset tags.
func loadLines(ctx context.Context, q dbtx, t *model.Transaction) error {
	rows, err := q.QueryContext(ctx,
		`SELECT l.item_id, i.name, i.sku, l.quantity,
		        l.issued_quantity, l.returned_quantity, l.damaged_quantity
		 FROM transaction_lines l
		 JOIN items i ON i.id = l.item_id
		 WHERE l.transaction_id = ?
		 ORDER BY i.name`, t.ID,
	)
	if err != nil {
		return fmt.Errorf("loading transaction lines: %w", err)
	}
	defer rows.Close()

	t.Lines = nil
	for rows.Next() {
		var l model.TransactionLine
		if err := rows.Scan(&l.ItemID, &l.ItemName, &l.ItemSKU, &l.Quantity,
			&l.IssuedQuantity, &l.ReturnedQuantity, &l.DamagedQuantity); err != nil {
			return fmt.Errorf("scanning transaction line: %w", err)
		}
		l.AssetTags = []string{}
		t.Lines = append(t.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tagRows, err := q.QueryContext(ctx,
		`SELECT item_id, asset_tag FROM transaction_assets
		 WHERE transaction_id = ? ORDER BY asset_tag`, t.ID,
	)
	if err != nil {
		return fmt.Errorf("loading assigned tags: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var itemID int64
		var tag string
		if err := tagRows.Scan(&itemID, &tag); err != nil {
			return fmt.Errorf("scanning assigned tag: %w", err)
		}
		for i := range t.Lines {
			if t.Lines[i].ItemID == itemID {
				t.Lines[i].AssetTags = append(t.Lines[i].AssetTags, tag)
				break
			}
		}
	}
	return tagRows.Err()
}

func getTransactionWhere(ctx context.Context, q dbtx, where string, args ...any) (*model.Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE `+where, args...,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	if err := loadLines(ctx, q, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTransaction returns a transaction by its human-readable id, or nil.
func GetTransaction(ctx context.Context, db *sql.DB, txnID string) (*model.Transaction, error) {
	return getTransactionWhere(ctx, db, `transaction_id = ?`, txnID)
}

// GetTransactionByToken returns the raised transaction holding the given
// approval token, or nil. Token possession is the authorization proof, so the
// lookup never consults caller identity.
func GetTransactionByToken(ctx context.Context, db *sql.DB, token string) (*model.Transaction, error) {
	if token == "" {
		return nil, nil
	}
	return getTransactionWhere(ctx, db,
		`approval_token = ? AND status = ?`, token, model.StatusRaised)
}

// newTxnID generates a human-presentable transaction id like TXN-9F03A1B2.
func newTxnID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating transaction id: %w", err)
	}
	return "TXN-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// newApprovalToken generates the opaque token mailed to the approving faculty.
func newApprovalToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating approval token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RaiseLine is one requested item on a borrow request.
type RaiseLine struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

func validateRaiseLines(ctx context.Context, tx *sql.Tx, lines []RaiseLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: no items requested", ErrInvalidQuantity)
	}
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity %d", ErrInvalidQuantity, l.ItemID, l.Quantity)
		}
		if seen[l.ItemID] {
			return fmt.Errorf("%w: item %d listed twice", ErrInvalidQuantity, l.ItemID)
		}
		seen[l.ItemID] = true

		var trackingType string
		var active bool
		var usable int
		err := tx.QueryRowContext(ctx,
			`SELECT tracking_type, is_active, available_quantity - reserved_quantity
			 FROM items WHERE id = ? AND deleted_at IS NULL`, l.ItemID,
		).Scan(&trackingType, &active, &usable)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: item %d", ErrNotFound, l.ItemID)
		}
		if err != nil {
			return fmt.Errorf("checking item %d: %w", l.ItemID, err)
		}
		if !active {
			return fmt.Errorf("%w: item %d", ErrItemInactive, l.ItemID)
		}
		// Asset availability is checked at issuance, once concrete units are
		// assigned. Bulk sufficiency is an admission check only; stock is not
		// reserved until issue.
		if trackingType == model.TrackingBulk && usable < l.Quantity {
			return fmt.Errorf("%w: item %d has %d usable units, %d requested",
				ErrInsufficientStock, l.ItemID, usable, l.Quantity)
		}
	}
	return nil
}

func insertLines(ctx context.Context, tx *sql.Tx, txnRowID int64, lines []RaiseLine) error {
	for _, l := range lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transaction_lines (transaction_id, item_id, quantity) VALUES (?, ?, ?)`,
			txnRowID, l.ItemID, l.Quantity,
		); err != nil {
			return fmt.Errorf("inserting transaction line: %w", err)
		}
	}
	return nil
}

// RaiseTransaction creates a borrow request in the raised state. No stock is
// mutated or reserved; validation is an admission check only. The returned
// token authorizes the faculty approve/reject decision.
func RaiseTransaction(ctx context.Context, db *sql.DB, studentID int64, lines []RaiseLine,
	facultyEmail, facultyID string, expectedReturn time.Time) (*model.Transaction, string, error) {

	student, err := GetUser(ctx, db, studentID)
	if err != nil {
		return nil, "", err
	}
	if student == nil {
		return nil, "", fmt.Errorf("%w: student %d", ErrNotFound, studentID)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if err := validateRaiseLines(ctx, tx, lines); err != nil {
		return nil, "", err
	}

	txnID, err := newTxnID()
	if err != nil {
		return nil, "", err
	}
	token, err := newApprovalToken()
	if err != nil {
		return nil, "", err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (transaction_id, transaction_type, status,
		    student_id, student_reg_no, faculty_email, faculty_id,
		    approval_token, expected_return_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txnID, model.TxnRegular, model.StatusRaised,
		studentID, student.RegNo, facultyEmail, facultyID,
		token, expectedReturn,
	)
	if err != nil {
		return nil, "", fmt.Errorf("creating transaction: %w", err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return nil, "", fmt.Errorf("getting transaction id: %w", err)
	}

	if err := insertLines(ctx, tx, rowID, lines); err != nil {
		return nil, "", err
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	t, err := GetTransaction(ctx, db, txnID)
	if err != nil {
		return nil, "", err
	}
	return t, token, nil
}

// ApproveTransaction resolves an approval token, moving the transaction from
// raised to approved. The token is consumed; no stock changes.
func ApproveTransaction(ctx context.Context, db *sql.DB, token string) (*model.Transaction, error) {
	return decideTransaction(ctx, db, token, model.StatusApproved, "")
}

// RejectTransaction resolves an approval token, moving the transaction from
// raised to rejected with a reason.
func RejectTransaction(ctx context.Context, db *sql.DB, token, reason string) (*model.Transaction, error) {
	return decideTransaction(ctx, db, token, model.StatusRejected, reason)
}

func decideTransaction(ctx context.Context, db *sql.DB, token, status, reason string) (*model.Transaction, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: approval token missing", ErrNotFound)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var txnID string
	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT transaction_id, status FROM transactions WHERE approval_token = ?`, token,
	).Scan(&txnID, &current)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: invalid or expired approval token", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving approval token: %w", err)
	}
	if current != model.StatusRaised {
		return nil, fmt.Errorf("%w: transaction is %s, decision already made", ErrInvalidTransition, current)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = ?, approved_at = CURRENT_TIMESTAMP,
		        rejected_reason = ?, approval_token = NULL
		 WHERE approval_token = ? AND status = ?`,
		status, reason, token, model.StatusRaised,
	); err != nil {
		return nil, fmt.Errorf("updating transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return GetTransaction(ctx, db, txnID)
}

// IssueAssignment names the concrete asset units handed out for one line.
// Bulk lines take no assignment.
type IssueAssignment struct {
	ItemID    int64    `json:"item_id"`
	AssetTags []string `json:"asset_tags"`
}

// IssueTransaction hands stock out against an approved transaction. This is
// the first stock-mutating step: bulk lines debit available stock (sufficiency
// is rechecked here, raise-time validation may be stale) and asset lines flip
// the supplied tags to issued. All lines are pre-checked before any mutation,
// and the whole call commits or rolls back as one unit.
func IssueTransaction(ctx context.Context, db *sql.DB, txnID string,
	assignments []IssueAssignment, issuedBy int64) (*model.Transaction, error) {

	assigned := make(map[int64][]string, len(assignments))
	for _, a := range assignments {
		if _, ok := assigned[a.ItemID]; ok {
			return nil, fmt.Errorf("%w: item %d assigned twice", ErrInvalidQuantity, a.ItemID)
		}
		assigned[a.ItemID] = a.AssetTags
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	t, err := getTransactionWhere(ctx, tx, `transaction_id = ?`, txnID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txnID)
	}
	if t.Status != model.StatusApproved {
		return nil, fmt.Errorf("%w: transaction is %s, cannot issue", ErrInvalidTransition, t.Status)
	}

	onTxn := make(map[int64]bool, len(t.Lines))
	for _, l := range t.Lines {
		onTxn[l.ItemID] = true
	}
	for itemID := range assigned {
		if !onTxn[itemID] {
			return nil, fmt.Errorf("%w: item %d is not on transaction %s", ErrInvalidQuantity, itemID, txnID)
		}
	}

	tracking := make(map[int64]string, len(t.Lines))
	for _, l := range t.Lines {
		var trackingType string
		var usable int
		err := tx.QueryRowContext(ctx,
			`SELECT tracking_type, available_quantity - reserved_quantity
			 FROM items WHERE id = ?`, l.ItemID,
		).Scan(&trackingType, &usable)
		if err != nil {
			return nil, fmt.Errorf("checking item %d: %w", l.ItemID, err)
		}
		tracking[l.ItemID] = trackingType

		switch trackingType {
		case model.TrackingBulk:
			if usable < l.Quantity {
				return nil, fmt.Errorf("%w: %s needs %d units", ErrInsufficientStock, l.ItemSKU, l.Quantity)
			}
		case model.TrackingAsset:
			tags := assigned[l.ItemID]
			if len(tags) != l.Quantity {
				return nil, fmt.Errorf("%w: %s needs %d tags, got %d",
					ErrAssetTagCountMismatch, l.ItemSKU, l.Quantity, len(tags))
			}
			seen := make(map[string]bool, len(tags))
			for _, tag := range tags {
				if seen[tag] {
					return nil, fmt.Errorf("%w: tag %s listed twice", ErrAssetUnavailable, tag)
				}
				seen[tag] = true
				status, tagItemID, err := assetStatusByTag(ctx, tx, tag)
				if err != nil {
					return nil, err
				}
				if tagItemID != l.ItemID {
					return nil, fmt.Errorf("%w: asset %s belongs to another item", ErrAssetUnavailable, tag)
				}
				if status != model.AssetAvailable {
					return nil, fmt.Errorf("%w: %s is %s", ErrAssetUnavailable, tag, status)
				}
			}
		}
	}

	for _, l := range t.Lines {
		switch tracking[l.ItemID] {
		case model.TrackingBulk:
			if err := debitAvailable(ctx, tx, l.ItemID, l.Quantity); err != nil {
				return nil, err
			}
		case model.TrackingAsset:
			for _, tag := range assigned[l.ItemID] {
				if err := markIssued(ctx, tx, tag, t.ID); err != nil {
					return nil, err
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO transaction_assets (transaction_id, item_id, asset_tag) VALUES (?, ?, ?)`,
					t.ID, l.ItemID, tag,
				); err != nil {
					return nil, fmt.Errorf("recording tag assignment: %w", err)
				}
			}
			// Issued asset units leave the available counter too, so the
			// bulk arithmetic and the asset rows stay in step.
			if err := debitAvailable(ctx, tx, l.ItemID, len(assigned[l.ItemID])); err != nil {
				return nil, err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE transaction_lines SET issued_quantity = quantity
			 WHERE transaction_id = ? AND item_id = ?`,
			t.ID, l.ItemID,
		); err != nil {
			return nil, fmt.Errorf("updating line: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = ?, issued_by = ?, issued_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		model.StatusActive, issuedBy, t.ID,
	); err != nil {
		return nil, fmt.Errorf("updating transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return GetTransaction(ctx, db, txnID)
}

// ReturnLine reports what came back for one item: bulk counts, or the
// concrete tags split into good and damaged.
type ReturnLine struct {
	ItemID           int64        `json:"item_id"`
	ReturnedQuantity int          `json:"returned_quantity"`
	DamagedQuantity  int          `json:"damaged_quantity"`
	ReturnedTags     []string     `json:"returned_tags"`
	DamagedTags      []DamagedTag `json:"damaged_tags"`
}

// DamagedTag is a damaged unit with the reason reported at the counter.
type DamagedTag struct {
	Tag    string `json:"tag"`
	Reason string `json:"reason"`
}

// ReturnTransaction processes a (possibly partial) return against an active
// or overdue transaction. Bulk lines credit the available and damaged
// counters; asset tags flip back to available or to damaged with a damage-log
// entry. Once every line's returned+damaged equals its issued quantity the
// transaction completes. Permanent lab transfers are never returnable.
func ReturnTransaction(ctx context.Context, db *sql.DB, txnID string,
	returns []ReturnLine, damageNotes string) (*model.Transaction, error) {

	if len(returns) == 0 {
		return nil, fmt.Errorf("%w: no return entries", ErrInvalidQuantity)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	t, err := getTransactionWhere(ctx, tx, `transaction_id = ?`, txnID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txnID)
	}
	if t.Type == model.TxnLabTransfer && t.TransferType == model.TransferPermanent {
		return nil, fmt.Errorf("%w: permanent lab transfer %s", ErrNonReturnable, txnID)
	}
	if !model.Returnable(t.Status) {
		return nil, fmt.Errorf("%w: transaction is %s, cannot return", ErrInvalidTransition, t.Status)
	}

	lines := make(map[int64]*model.TransactionLine, len(t.Lines))
	for i := range t.Lines {
		lines[t.Lines[i].ItemID] = &t.Lines[i]
	}
	tracking := make(map[int64]string, len(t.Lines))
	for itemID := range lines {
		var trackingType string
		if err := tx.QueryRowContext(ctx,
			`SELECT tracking_type FROM items WHERE id = ?`, itemID,
		).Scan(&trackingType); err != nil {
			return nil, fmt.Errorf("checking item %d: %w", itemID, err)
		}
		tracking[itemID] = trackingType
	}

	// Pre-check pass: all entries valid before any mutation.
	seenItem := make(map[int64]bool, len(returns))
	for _, r := range returns {
		line, ok := lines[r.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %d is not on transaction %s", ErrNotFound, r.ItemID, txnID)
		}
		if seenItem[r.ItemID] {
			return nil, fmt.Errorf("%w: item %d listed twice", ErrInvalidQuantity, r.ItemID)
		}
		seenItem[r.ItemID] = true

		switch tracking[r.ItemID] {
		case model.TrackingBulk:
			if len(r.ReturnedTags) > 0 || len(r.DamagedTags) > 0 {
				return nil, fmt.Errorf("asset tags given for bulk item %s", line.ItemSKU)
			}
			if r.ReturnedQuantity < 0 || r.DamagedQuantity < 0 || r.ReturnedQuantity+r.DamagedQuantity == 0 {
				return nil, fmt.Errorf("%w: item %s", ErrInvalidQuantity, line.ItemSKU)
			}
			if line.ReturnedQuantity+line.DamagedQuantity+r.ReturnedQuantity+r.DamagedQuantity > line.IssuedQuantity {
				return nil, fmt.Errorf("%w: item %s", ErrOverReturn, line.ItemSKU)
			}

		case model.TrackingAsset:
			if r.ReturnedQuantity != 0 || r.DamagedQuantity != 0 {
				return nil, fmt.Errorf("bulk counts given for asset item %s", line.ItemSKU)
			}
			count := len(r.ReturnedTags) + len(r.DamagedTags)
			if count == 0 {
				return nil, fmt.Errorf("%w: item %s", ErrInvalidQuantity, line.ItemSKU)
			}
			if line.ReturnedQuantity+line.DamagedQuantity+count > line.IssuedQuantity {
				return nil, fmt.Errorf("%w: item %s", ErrOverReturn, line.ItemSKU)
			}
			seen := make(map[string]bool, count)
			check := func(tag string) error {
				if seen[tag] {
					return fmt.Errorf("%w: tag %s listed twice", ErrInvalidQuantity, tag)
				}
				seen[tag] = true
				var resolved string
				err := tx.QueryRowContext(ctx,
					`SELECT resolved FROM transaction_assets
					 WHERE transaction_id = ? AND item_id = ? AND asset_tag = ?`,
					t.ID, r.ItemID, tag,
				).Scan(&resolved)
				if err == sql.ErrNoRows {
					return fmt.Errorf("%w: asset %s was not issued on %s", ErrNotFound, tag, txnID)
				}
				if err != nil {
					return fmt.Errorf("checking tag %s: %w", tag, err)
				}
				if resolved != "" {
					return fmt.Errorf("%w: %s", ErrAssetAlreadyResolved, tag)
				}
				return nil
			}
			for _, tag := range r.ReturnedTags {
				if err := check(tag); err != nil {
					return nil, err
				}
			}
			for _, d := range r.DamagedTags {
				if err := check(d.Tag); err != nil {
					return nil, err
				}
			}
		}
	}

	// Mutation pass.
	for _, r := range returns {
		line := lines[r.ItemID]
		switch tracking[r.ItemID] {
		case model.TrackingBulk:
			if err := creditAvailable(ctx, tx, r.ItemID, r.ReturnedQuantity); err != nil {
				return nil, err
			}
			if err := creditDamaged(ctx, tx, r.ItemID, r.DamagedQuantity); err != nil {
				return nil, err
			}
			line.ReturnedQuantity += r.ReturnedQuantity
			line.DamagedQuantity += r.DamagedQuantity

		case model.TrackingAsset:
			for _, tag := range r.ReturnedTags {
				if err := markReturned(ctx, tx, tag); err != nil {
					return nil, err
				}
				if err := resolveAssignedTag(ctx, tx, t.ID, tag, "returned"); err != nil {
					return nil, err
				}
				if err := creditAvailable(ctx, tx, r.ItemID, 1); err != nil {
					return nil, err
				}
				line.ReturnedQuantity++
			}
			for _, d := range r.DamagedTags {
				if err := markDamaged(ctx, tx, d.Tag); err != nil {
					return nil, err
				}
				if err := resolveAssignedTag(ctx, tx, t.ID, d.Tag, "damaged"); err != nil {
					return nil, err
				}
				if err := creditDamaged(ctx, tx, r.ItemID, 1); err != nil {
					return nil, err
				}
				if err := reportDamage(ctx, tx, t, d.Tag, d.Reason); err != nil {
					return nil, err
				}
				line.DamagedQuantity++
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE transaction_lines SET returned_quantity = ?, damaged_quantity = ?
			 WHERE transaction_id = ? AND item_id = ?`,
			line.ReturnedQuantity, line.DamagedQuantity, t.ID, r.ItemID,
		); err != nil {
			return nil, fmt.Errorf("updating line: %w", err)
		}
	}

	complete := true
	for _, l := range t.Lines {
		if l.Outstanding() > 0 {
			complete = false
			break
		}
	}

	if complete {
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET status = ?, actual_return_date = CURRENT_TIMESTAMP,
			        damage_notes = ?
			 WHERE id = ?`,
			model.StatusCompleted, damageNotes, t.ID,
		); err != nil {
			return nil, fmt.Errorf("completing transaction: %w", err)
		}
	} else if damageNotes != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET damage_notes = ? WHERE id = ?`, damageNotes, t.ID,
		); err != nil {
			return nil, fmt.Errorf("updating transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return GetTransaction(ctx, db, txnID)
}

func resolveAssignedTag(ctx context.Context, tx *sql.Tx, txnRowID int64, tag, resolution string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transaction_assets SET resolved = ?
		 WHERE transaction_id = ? AND asset_tag = ? AND resolved = ''`,
		resolution, txnRowID, tag,
	)
	if err != nil {
		return fmt.Errorf("resolving tag %s: %w", tag, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolving tag %s: %w", tag, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAssetAlreadyResolved, tag)
	}
	return nil
}

// MarkOverdue transitions an approved or active transaction past its expected
// return date to overdue. Idempotent: an already-overdue transaction is a
// no-op. Returns whether a transition happened. No stock is touched.
func MarkOverdue(ctx context.Context, db *sql.DB, txnID string, now time.Time) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var status string
	var expected sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT status, expected_return_date FROM transactions WHERE transaction_id = ?`, txnID,
	).Scan(&status, &expected)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("%w: transaction %s", ErrNotFound, txnID)
	}
	if err != nil {
		return false, fmt.Errorf("getting transaction: %w", err)
	}

	if status == model.StatusOverdue {
		return false, nil
	}
	if status != model.StatusApproved && status != model.StatusActive {
		return false, fmt.Errorf("%w: transaction is %s, cannot mark overdue", ErrInvalidTransition, status)
	}
	if !expected.Valid || !now.After(expected.Time) {
		return false, fmt.Errorf("%w: transaction %s is not past due", ErrInvalidTransition, txnID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = ? WHERE transaction_id = ?`,
		model.StatusOverdue, txnID,
	); err != nil {
		return false, fmt.Errorf("updating transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// TransactionFilter narrows transaction listings. Zero values mean no filter.
type TransactionFilter struct {
	Status       string
	Type         string
	StudentID    int64
	TxnID        string
	RegNo        string
	FacultyEmail string
	FacultyID    string
}

// ListTransactions returns transactions matching the filter, newest first,
// with lines loaded.
func ListTransactions(ctx context.Context, db *sql.DB, f TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Type != "" {
		query += ` AND transaction_type = ?`
		args = append(args, f.Type)
	}
	if f.StudentID > 0 {
		query += ` AND student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.TxnID != "" {
		query += ` AND transaction_id = ?`
		args = append(args, f.TxnID)
	}
	if f.RegNo != "" {
		query += ` AND student_reg_no = ?`
		args = append(args, f.RegNo)
	}
	if f.FacultyEmail != "" {
		query += ` AND faculty_email = ?`
		args = append(args, f.FacultyEmail)
	}
	if f.FacultyID != "" {
		query += ` AND faculty_id = ?`
		args = append(args, f.FacultyID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range txns {
		if err := loadLines(ctx, db, &txns[i]); err != nil {
			return nil, err
		}
	}
	return txns, nil
}

// ListDueForOverdue returns approved or active transactions whose expected
// return date has passed. The overdue sweep feeds these to MarkOverdue.
func ListDueForOverdue(ctx context.Context, db *sql.DB, now time.Time) ([]model.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+txnColumns+` FROM transactions
		 WHERE status IN (?, ?) AND expected_return_date IS NOT NULL AND expected_return_date < ?
		 ORDER BY expected_return_date`,
		model.StatusApproved, model.StatusActive, now,
	)
	if err != nil {
		return nil, fmt.Errorf("listing due transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}
