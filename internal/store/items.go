package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iotlab/labstock/internal/model"
)

const itemColumns = `id, sku, name, category, vendor, location, description,
	tracking_type, total_quantity, available_quantity, reserved_quantity,
	damaged_quantity, min_threshold_quantity, asset_seq, image_mime, is_active,
	created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var category, vendor, location, description, imageMime sql.NullString
	err := row.Scan(&item.ID, &item.SKU, &item.Name, &category, &vendor, &location,
		&description, &item.TrackingType, &item.TotalQuantity, &item.AvailableQuantity,
		&item.ReservedQuantity, &item.DamagedQuantity, &item.MinThresholdQuantity,
		&item.AssetSeq, &imageMime, &item.IsActive, &item.CreatedAt, &item.UpdatedAt,
		&item.DeletedAt)
	if err != nil {
		return nil, err
	}
	item.Category = category.String
	item.Vendor = vendor.String
	item.Location = location.String
	item.Description = description.String
	item.ImageMime = imageMime.String
	return item, nil
}

// CreateItemParams holds the fields for a new item.
type CreateItemParams struct {
	SKU                  string
	Name                 string
	Category             string
	Vendor               string
	Location             string
	Description          string
	TrackingType         string
	InitialQuantity      int
	MinThresholdQuantity int
	AssetPrefix          string // defaults to SKU
}

// CreateItem creates an item. For asset-tracked items it also mints one Asset
// row per initial unit with freshly sequenced tags, and returns the generated
// tags so they can be printed as labels.
func CreateItem(ctx context.Context, db *sql.DB, p CreateItemParams) (*model.Item, []string, error) {
	if p.SKU == "" || p.Name == "" {
		return nil, nil, fmt.Errorf("sku and name are required")
	}
	if !model.ValidTrackingType(p.TrackingType) {
		return nil, nil, fmt.Errorf("invalid tracking type %q", p.TrackingType)
	}
	if p.InitialQuantity < 0 {
		return nil, nil, fmt.Errorf("%w: initial quantity %d", ErrInvalidQuantity, p.InitialQuantity)
	}
	if p.TrackingType == model.TrackingAsset && p.InitialQuantity == 0 {
		return nil, nil, fmt.Errorf("%w: asset-tracked items need an initial quantity", ErrInvalidQuantity)
	}
	if p.MinThresholdQuantity <= 0 {
		p.MinThresholdQuantity = 5
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE sku = ?`, p.SKU,
	).Scan(&exists); err != nil {
		return nil, nil, fmt.Errorf("checking sku: %w", err)
	}
	if exists > 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateSKU, p.SKU)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO items (sku, name, category, vendor, location, description,
		    tracking_type, total_quantity, available_quantity, min_threshold_quantity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SKU, p.Name, p.Category, p.Vendor, p.Location, p.Description,
		p.TrackingType, p.InitialQuantity, p.InitialQuantity, p.MinThresholdQuantity,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating item: %w", err)
	}
	itemID, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("getting item id: %w", err)
	}

	if p.InitialQuantity > 0 {
		if err := recordMovement(ctx, tx, itemID, "initial",
			p.InitialQuantity, 0, p.InitialQuantity); err != nil {
			return nil, nil, err
		}
	}

	var tags []string
	if p.TrackingType == model.TrackingAsset {
		prefix := p.AssetPrefix
		if prefix == "" {
			prefix = p.SKU
		}
		tags, err = mintAssets(ctx, tx, itemID, prefix, p.Location, p.InitialQuantity)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	item, err := GetItem(ctx, db, itemID)
	if err != nil {
		return nil, nil, err
	}
	return item, tags, nil
}

// mintAssets creates count new available assets for the item, advancing the
// item's persisted tag sequence. The counter is never reused even after
// removals, so tags stay unique for the lifetime of the item.
func mintAssets(ctx context.Context, tx *sql.Tx, itemID int64, prefix, location string, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: mint count %d", ErrInvalidQuantity, count)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET asset_seq = asset_seq + ? WHERE id = ?`,
		count, itemID,
	); err != nil {
		return nil, fmt.Errorf("advancing asset sequence: %w", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT asset_seq FROM items WHERE id = ?`, itemID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("reading asset sequence: %w", err)
	}

	tags := make([]string, 0, count)
	for i := seq - count + 1; i <= seq; i++ {
		tag := model.FormatAssetTag(prefix, i)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assets (item_id, asset_tag, location) VALUES (?, ?, ?)`,
			itemID, tag, location,
		); err != nil {
			return nil, fmt.Errorf("minting asset %s: %w", tag, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// GetItem returns an item by ID, or nil if it doesn't exist.
func GetItem(ctx context.Context, db *sql.DB, id int64) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// GetItemBySKU returns an item by SKU, or nil if it doesn't exist.
func GetItemBySKU(ctx context.Context, db *sql.DB, sku string) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE sku = ?`, sku,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item by sku: %w", err)
	}
	return item, nil
}

// ListItems returns all non-deleted items, active only unless includeInactive
// is set.
func ListItems(ctx context.Context, db *sql.DB, includeInactive bool) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE deleted_at IS NULL`
	if !includeInactive {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListLowStockItems returns active items at or below their minimum threshold.
func ListLowStockItems(ctx context.Context, db *sql.DB) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE deleted_at IS NULL AND is_active = 1
		   AND available_quantity <= min_threshold_quantity
		 ORDER BY available_quantity, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing low stock items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItemParams holds the mutable metadata of an item. Tracking type and
// quantity counters are deliberately absent: the former is immutable, the
// latter change only through stock operations.
type UpdateItemParams struct {
	Name                 string
	Category             string
	Vendor               string
	Location             string
	Description          string
	MinThresholdQuantity int
}

// UpdateItem updates an item's metadata.
func UpdateItem(ctx context.Context, db *sql.DB, id int64, p UpdateItemParams) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	res, err := db.ExecContext(ctx,
		`UPDATE items SET name = ?, category = ?, vendor = ?, location = ?,
		        description = ?, min_threshold_quantity = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		p.Name, p.Category, p.Vendor, p.Location, p.Description, p.MinThresholdQuantity, id,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	return nil
}

// RestockItem adds new stock to an item. For asset-tracked items it mints
// fresh tagged assets and returns their tags.
func RestockItem(ctx context.Context, db *sql.DB, itemID int64, qty int) (*model.Item, []string, error) {
	if qty <= 0 {
		return nil, nil, fmt.Errorf("%w: restock quantity %d", ErrInvalidQuantity, qty)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ? AND deleted_at IS NULL`, itemID,
	))
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: item %d", ErrNotFound, itemID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("getting item: %w", err)
	}

	if err := growTotal(ctx, tx, itemID, qty); err != nil {
		return nil, nil, err
	}

	var tags []string
	if item.TrackingType == model.TrackingAsset {
		tags, err = mintAssets(ctx, tx, itemID, item.SKU, item.Location, qty)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	updated, err := GetItem(ctx, db, itemID)
	if err != nil {
		return nil, nil, err
	}
	return updated, tags, nil
}

// RemoveStock permanently removes available stock from an item. Bulk items
// drop qty units; asset items retire the specific tags given (each must be
// currently available and belong to the item).
func RemoveStock(ctx context.Context, db *sql.DB, itemID int64, qty int, assetTags []string) (*model.Item, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ? AND deleted_at IS NULL`, itemID,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: item %d", ErrNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	switch item.TrackingType {
	case model.TrackingBulk:
		if len(assetTags) > 0 {
			return nil, fmt.Errorf("asset tags given for bulk item %s", item.SKU)
		}
		if err := shrinkTotal(ctx, tx, itemID, qty); err != nil {
			return nil, err
		}

	case model.TrackingAsset:
		if len(assetTags) == 0 {
			return nil, fmt.Errorf("asset removal requires the tags to retire")
		}
		if qty != 0 && qty != len(assetTags) {
			return nil, fmt.Errorf("%w: quantity %d does not match %d tags", ErrInvalidQuantity, qty, len(assetTags))
		}
		// Pre-check every tag before touching anything.
		for _, tag := range assetTags {
			status, tagItemID, err := assetStatusByTag(ctx, tx, tag)
			if err != nil {
				return nil, err
			}
			if tagItemID != itemID {
				return nil, fmt.Errorf("%w: asset %s belongs to another item", ErrAssetUnavailable, tag)
			}
			if status != model.AssetAvailable {
				return nil, fmt.Errorf("%w: asset %s is %s", ErrAssetUnavailable, tag, status)
			}
		}
		for _, tag := range assetTags {
			if err := markRetired(ctx, tx, tag); err != nil {
				return nil, err
			}
		}
		if err := shrinkTotal(ctx, tx, itemID, len(assetTags)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return GetItem(ctx, db, itemID)
}

// DeactivateItem soft-deletes an item so it stops appearing in listings and
// can no longer be borrowed. Existing transactions keep their references.
func DeactivateItem(ctx context.Context, db *sql.DB, id int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE items SET is_active = 0, deleted_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deactivating item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	return nil
}

// SetItemImage sets an item's catalog photo.
func SetItemImage(ctx context.Context, db *sql.DB, id int64, image []byte, mime string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE items SET image = ?, image_mime = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		image, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	return nil
}

// GetItemImage returns an item's photo data and MIME type.
func GetItemImage(ctx context.Context, db *sql.DB, id int64) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT image, image_mime FROM items WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}
