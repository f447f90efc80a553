package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iotlab/labstock/internal/model"
)

// LabLine is one item handed out directly by the incharge: quantity for bulk
// items, concrete tags for asset items.
type LabLine struct {
	ItemID    int64    `json:"item_id"`
	Quantity  int      `json:"quantity"`
	AssetTags []string `json:"asset_tags"`
}

// CreateLabSession issues components for a supervised lab slot. There is no
// student and no approval step: the transaction is created already active with
// stock debited, and is returned like any other transaction afterwards.
func CreateLabSession(ctx context.Context, db *sql.DB, labSlot string, lines []LabLine,
	expectedReturn time.Time, issuedBy int64) (*model.Transaction, error) {

	if labSlot == "" {
		return nil, fmt.Errorf("lab slot is required")
	}
	return issueDirect(ctx, db, directIssueParams{
		txnType:        model.TxnLabSession,
		labSlot:        labSlot,
		expectedReturn: &expectedReturn,
	}, lines, issuedBy)
}

// LabTransferParams describes a stock transfer to another lab. Temporary
// transfers carry an expected return date; permanent ones never come back and
// reject return attempts outright.
type LabTransferParams struct {
	TransferType   string
	TargetLabName  string
	HandoverName   string
	HandoverEmail  string
	HandoverID     string
	ExpectedReturn *time.Time
}

// CreateLabTransfer issues stock to another lab, temporarily or permanently.
func CreateLabTransfer(ctx context.Context, db *sql.DB, p LabTransferParams,
	lines []LabLine, issuedBy int64) (*model.Transaction, error) {

	if p.TransferType != model.TransferTemporary && p.TransferType != model.TransferPermanent {
		return nil, fmt.Errorf("invalid transfer type %q", p.TransferType)
	}
	if p.TargetLabName == "" {
		return nil, fmt.Errorf("target lab name is required")
	}
	if p.TransferType == model.TransferTemporary && p.ExpectedReturn == nil {
		return nil, fmt.Errorf("temporary transfers need an expected return date")
	}
	return issueDirect(ctx, db, directIssueParams{
		txnType:        model.TxnLabTransfer,
		transferType:   p.TransferType,
		targetLab:      p.TargetLabName,
		handoverName:   p.HandoverName,
		handoverEmail:  p.HandoverEmail,
		handoverID:     p.HandoverID,
		expectedReturn: p.ExpectedReturn,
	}, lines, issuedBy)
}

type directIssueParams struct {
	txnType        string
	transferType   string
	targetLab      string
	handoverName   string
	handoverEmail  string
	handoverID     string
	labSlot        string
	expectedReturn *time.Time
}

func issueDirect(ctx context.Context, db *sql.DB, p directIssueParams,
	lines []LabLine, issuedBy int64) (*model.Transaction, error) {

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidQuantity)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	// Pre-check pass across all lines before any mutation.
	tracking := make(map[int64]string, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if seen[l.ItemID] {
			return nil, fmt.Errorf("%w: item %d listed twice", ErrInvalidQuantity, l.ItemID)
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
			return nil, fmt.Errorf("%w: item %d", ErrNotFound, l.ItemID)
		}
		if err != nil {
			return nil, fmt.Errorf("checking item %d: %w", l.ItemID, err)
		}
		if !active {
			return nil, fmt.Errorf("%w: item %d", ErrItemInactive, l.ItemID)
		}
		tracking[l.ItemID] = trackingType

		switch trackingType {
		case model.TrackingBulk:
			if l.Quantity <= 0 {
				return nil, fmt.Errorf("%w: item %d quantity %d", ErrInvalidQuantity, l.ItemID, l.Quantity)
			}
			if len(l.AssetTags) > 0 {
				return nil, fmt.Errorf("asset tags given for bulk item %d", l.ItemID)
			}
			if usable < l.Quantity {
				return nil, fmt.Errorf("%w: item %d has %d usable units", ErrInsufficientStock, l.ItemID, usable)
			}
		case model.TrackingAsset:
			if len(l.AssetTags) == 0 || (l.Quantity != 0 && l.Quantity != len(l.AssetTags)) {
				return nil, fmt.Errorf("%w: item %d", ErrAssetTagCountMismatch, l.ItemID)
			}
			dup := make(map[string]bool, len(l.AssetTags))
			for _, tag := range l.AssetTags {
				if dup[tag] {
					return nil, fmt.Errorf("%w: tag %s listed twice", ErrAssetUnavailable, tag)
				}
				dup[tag] = true
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

	txnID, err := newTxnID()
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (transaction_id, transaction_type, transfer_type, status,
		    target_lab_name, handover_faculty_name, handover_faculty_email, faculty_id, lab_slot,
		    issued_by, issued_at, expected_return_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)`,
		txnID, p.txnType, nullString(p.transferType), model.StatusActive,
		nullString(p.targetLab), nullString(p.handoverName), nullString(p.handoverEmail),
		nullString(p.handoverID), nullString(p.labSlot),
		issuedBy, nullTime(p.expectedReturn),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transaction: %w", err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting transaction id: %w", err)
	}

	for _, l := range lines {
		qty := l.Quantity
		switch tracking[l.ItemID] {
		case model.TrackingBulk:
			if err := debitAvailable(ctx, tx, l.ItemID, qty); err != nil {
				return nil, err
			}
		case model.TrackingAsset:
			qty = len(l.AssetTags)
			for _, tag := range l.AssetTags {
				if err := markIssued(ctx, tx, tag, rowID); err != nil {
					return nil, err
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO transaction_assets (transaction_id, item_id, asset_tag) VALUES (?, ?, ?)`,
					rowID, l.ItemID, tag,
				); err != nil {
					return nil, fmt.Errorf("recording tag assignment: %w", err)
				}
			}
			// Issued asset units leave the available counter too.
			if err := debitAvailable(ctx, tx, l.ItemID, qty); err != nil {
				return nil, err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transaction_lines (transaction_id, item_id, quantity, issued_quantity)
			 VALUES (?, ?, ?, ?)`,
			rowID, l.ItemID, qty, qty,
		); err != nil {
			return nil, fmt.Errorf("inserting transaction line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return GetTransaction(ctx, db, txnID)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
