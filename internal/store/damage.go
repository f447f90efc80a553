package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iotlab/labstock/internal/model"
)

const damageColumns = `d.id, d.asset_id, d.transaction_id, d.student_id,
	d.faculty_email, d.faculty_id, d.damage_reason, d.remarks, d.status, d.reported_at,
	a.asset_tag, a.item_id, i.name, t.transaction_id`

func scanDamageEntry(row rowScanner) (*model.DamageLogEntry, error) {
	e := &model.DamageLogEntry{}
	var studentID sql.NullInt64
	var facultyEmail, facultyID, remarks sql.NullString
	err := row.Scan(&e.ID, &e.AssetID, &e.TransactionID, &studentID,
		&facultyEmail, &facultyID, &e.DamageReason, &remarks, &e.Status, &e.ReportedAt,
		&e.AssetTag, &e.ItemID, &e.ItemName, &e.TxnID)
	if err != nil {
		return nil, err
	}
	if studentID.Valid {
		e.StudentID = &studentID.Int64
	}
	e.FacultyEmail = facultyEmail.String
	e.FacultyID = facultyID.String
	e.Remarks = remarks.String
	return e, nil
}

// reportDamage appends a damage-log entry for an asset returned damaged. The
// asset's status flip is the caller's responsibility (it happens in the same
// engine transaction).
func reportDamage(ctx context.Context, tx *sql.Tx, t *model.Transaction, tag, reason string) error {
	if reason == "" {
		reason = "damaged on return"
	}

	var assetID int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM assets WHERE asset_tag = ?`, tag,
	).Scan(&assetID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: asset %s", ErrNotFound, tag)
	}
	if err != nil {
		return fmt.Errorf("getting asset: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO damage_log (asset_id, transaction_id, student_id, faculty_email, faculty_id, damage_reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		assetID, t.ID, t.StudentID, nullString(t.FacultyEmail), nullString(t.FacultyID), reason,
	); err != nil {
		return fmt.Errorf("recording damage: %w", err)
	}
	return nil
}

// GetDamageEntry returns a damage-log entry with its asset and item joined,
// or nil if it doesn't exist.
func GetDamageEntry(ctx context.Context, db *sql.DB, id int64) (*model.DamageLogEntry, error) {
	e, err := scanDamageEntry(db.QueryRowContext(ctx,
		`SELECT `+damageColumns+`
		 FROM damage_log d
		 JOIN assets a ON a.id = d.asset_id
		 JOIN items i ON i.id = a.item_id
		 JOIN transactions t ON t.id = d.transaction_id
		 WHERE d.id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting damage entry: %w", err)
	}
	return e, nil
}

// ListDamageEntries returns damage-log entries, newest first. With openOnly
// set, only entries still awaiting a decision (damaged or under repair).
func ListDamageEntries(ctx context.Context, db *sql.DB, openOnly bool) ([]model.DamageLogEntry, error) {
	query := `SELECT ` + damageColumns + `
	          FROM damage_log d
	          JOIN assets a ON a.id = d.asset_id
	          JOIN items i ON i.id = a.item_id
	          JOIN transactions t ON t.id = d.transaction_id`
	if openOnly {
		query += ` WHERE d.status IN ('damaged', 'under_repair')`
	}
	query += ` ORDER BY d.reported_at DESC, d.id DESC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing damage entries: %w", err)
	}
	defer rows.Close()

	var entries []model.DamageLogEntry
	for rows.Next() {
		e, err := scanDamageEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning damage entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// UpdateDamagedAsset applies a repair-workflow action to a damage-log entry
// and its asset:
//
//	repair:  damaged -> under_repair, asset condition drops to faulty
//	resolve: under_repair -> resolved, asset back to available/good,
//	         item gains one available unit and sheds one damaged unit
//	retire:  damaged|under_repair -> retired, asset retired for good,
//	         item's total shrinks by one
//
// Counter underflow on resolve/retire is an accounting fault and fails with
// ErrInvariantViolation rather than clamping.
func UpdateDamagedAsset(ctx context.Context, db *sql.DB, logID int64, action string) (*model.DamageLogEntry, error) {
	if !model.ValidDamageAction(action) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var entryStatus, assetTag, assetStatus string
	var assetID, itemID int64
	err = tx.QueryRowContext(ctx,
		`SELECT d.status, d.asset_id, a.asset_tag, a.status, a.item_id
		 FROM damage_log d
		 JOIN assets a ON a.id = d.asset_id
		 WHERE d.id = ?`, logID,
	).Scan(&entryStatus, &assetID, &assetTag, &assetStatus, &itemID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: damage record %d", ErrNotFound, logID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting damage record: %w", err)
	}

	var item int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE id = ?`, itemID,
	).Scan(&item); err != nil {
		return nil, fmt.Errorf("checking parent item: %w", err)
	}
	if item == 0 {
		return nil, fmt.Errorf("%w: parent item of asset %s", ErrNotFound, assetTag)
	}

	switch action {
	case model.ActionRepair:
		if entryStatus != model.DamageReported {
			return nil, fmt.Errorf("%w: damage record is %s, cannot repair", ErrInvalidTransition, entryStatus)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE assets SET condition = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			model.ConditionFaulty, assetID,
		); err != nil {
			return nil, fmt.Errorf("updating asset: %w", err)
		}
		if err := setDamageStatus(ctx, tx, logID, model.DamageUnderRepair); err != nil {
			return nil, err
		}

	case model.ActionResolve:
		if entryStatus != model.DamageUnderRepair {
			return nil, fmt.Errorf("%w: damage record is %s, cannot resolve", ErrInvalidTransition, entryStatus)
		}
		// Status predicate so a stale log entry can never reanimate an
		// asset that was retired in the meantime.
		res, err := tx.ExecContext(ctx,
			`UPDATE assets SET status = ?, condition = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = ?`,
			model.AssetAvailable, model.ConditionGood, assetID, model.AssetDamaged,
		)
		if err != nil {
			return nil, fmt.Errorf("updating asset: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, fmt.Errorf("updating asset: %w", err)
		} else if n == 0 {
			return nil, fmt.Errorf("%w: asset %s is %s", ErrInvalidAssetState, assetTag, assetStatus)
		}
		if err := creditAvailable(ctx, tx, itemID, 1); err != nil {
			return nil, err
		}
		if err := debitDamaged(ctx, tx, itemID, 1); err != nil {
			return nil, err
		}
		if err := setDamageStatus(ctx, tx, logID, model.DamageResolved); err != nil {
			return nil, err
		}

	case model.ActionRetire:
		if entryStatus != model.DamageReported && entryStatus != model.DamageUnderRepair {
			return nil, fmt.Errorf("%w: damage record is %s, cannot retire", ErrInvalidTransition, entryStatus)
		}
		if err := markRetired(ctx, tx, assetTag); err != nil {
			return nil, err
		}
		if err := shrinkTotalDamaged(ctx, tx, itemID); err != nil {
			return nil, err
		}
		if err := setDamageStatus(ctx, tx, logID, model.DamageRetired); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return GetDamageEntry(ctx, db, logID)
}

func setDamageStatus(ctx context.Context, tx *sql.Tx, logID int64, status string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE damage_log SET status = ? WHERE id = ?`, status, logID,
	); err != nil {
		return fmt.Errorf("updating damage record: %w", err)
	}
	return nil
}
