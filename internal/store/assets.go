package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iotlab/labstock/internal/model"
)

const assetColumns = `id, item_id, asset_tag, serial_no, status, condition,
	location, last_transaction_id, created_at, updated_at`

func scanAsset(row rowScanner) (*model.Asset, error) {
	a := &model.Asset{}
	var serialNo, location sql.NullString
	var lastTxn sql.NullInt64
	err := row.Scan(&a.ID, &a.ItemID, &a.AssetTag, &serialNo, &a.Status,
		&a.Condition, &location, &lastTxn, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.SerialNo = serialNo.String
	a.Location = location.String
	if lastTxn.Valid {
		a.LastTransactionID = &lastTxn.Int64
	}
	return a, nil
}

// GetAssetByTag returns an asset by tag, or nil if it doesn't exist.
func GetAssetByTag(ctx context.Context, db *sql.DB, tag string) (*model.Asset, error) {
	a, err := scanAsset(db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE asset_tag = ?`, tag,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting asset: %w", err)
	}
	return a, nil
}

// ListAssets returns an item's assets, optionally filtered by status.
func ListAssets(ctx context.Context, db *sql.DB, itemID int64, status string) ([]model.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE item_id = ?`
	args := []any{itemID}
	if status != "" {
		if !model.ValidAssetStatus(status) {
			return nil, fmt.Errorf("invalid asset status %q", status)
		}
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY asset_tag`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// ListUnderRepairAssets returns assets currently in the repair shop.
func ListUnderRepairAssets(ctx context.Context, db *sql.DB) ([]model.Asset, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE status = ? AND condition = ?
		 ORDER BY updated_at DESC`,
		model.AssetDamaged, model.ConditionFaulty,
	)
	if err != nil {
		return nil, fmt.Errorf("listing under-repair assets: %w", err)
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// assetStatusByTag reads an asset's current status and owning item inside the
// caller's transaction.
func assetStatusByTag(ctx context.Context, tx *sql.Tx, tag string) (status string, itemID int64, err error) {
	err = tx.QueryRowContext(ctx,
		`SELECT status, item_id FROM assets WHERE asset_tag = ?`, tag,
	).Scan(&status, &itemID)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("%w: asset %s", ErrNotFound, tag)
	}
	if err != nil {
		return "", 0, fmt.Errorf("getting asset status: %w", err)
	}
	return status, itemID, nil
}

// markIssued flips an asset from available to issued. The status predicate in
// the WHERE clause is the compare-and-swap that stops two concurrent issuances
// from handing out the same physical unit: the loser sees zero rows and gets
// ErrAssetUnavailable.
func markIssued(ctx context.Context, tx *sql.Tx, tag string, transactionID int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE assets SET status = ?, last_transaction_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE asset_tag = ? AND status = ?`,
		model.AssetIssued, transactionID, tag, model.AssetAvailable,
	)
	if err != nil {
		return fmt.Errorf("issuing asset %s: %w", tag, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("issuing asset %s: %w", tag, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAssetUnavailable, tag)
	}
	return nil
}

// markReturned flips an issued asset back to available.
func markReturned(ctx context.Context, tx *sql.Tx, tag string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE assets SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE asset_tag = ? AND status = ?`,
		model.AssetAvailable, tag, model.AssetIssued,
	)
	if err != nil {
		return fmt.Errorf("returning asset %s: %w", tag, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("returning asset %s: %w", tag, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: asset %s is not issued", ErrInvalidAssetState, tag)
	}
	return nil
}

// markDamaged flips an issued asset to damaged.
func markDamaged(ctx context.Context, tx *sql.Tx, tag string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE assets SET status = ?, condition = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE asset_tag = ? AND status = ?`,
		model.AssetDamaged, model.ConditionFaulty, tag, model.AssetIssued,
	)
	if err != nil {
		return fmt.Errorf("damaging asset %s: %w", tag, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("damaging asset %s: %w", tag, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: asset %s is not issued", ErrInvalidAssetState, tag)
	}
	return nil
}

// markRetired moves an asset to the terminal retired state. Retired assets
// never transition again.
func markRetired(ctx context.Context, tx *sql.Tx, tag string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE assets SET status = ?, condition = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE asset_tag = ? AND status != ?`,
		model.AssetRetired, model.ConditionBroken, tag, model.AssetRetired,
	)
	if err != nil {
		return fmt.Errorf("retiring asset %s: %w", tag, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retiring asset %s: %w", tag, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: asset %s is already retired", ErrInvalidAssetState, tag)
	}
	return nil
}
