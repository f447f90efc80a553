package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Ledger arithmetic for bulk quantity counters. All helpers run inside the
// caller's transaction so counter updates commit atomically with the lifecycle
// transition that caused them. Guards are expressed in the UPDATE's WHERE
// clause: a zero row count means the precondition failed under whatever state
// actually committed, not the state the caller read earlier. Every counter
// mutation also appends a stock_ledger row in the same transaction, so the
// movement history always sums to the counters.

// recordMovement appends one stock_ledger row. Called by every ledger helper
// after its counter UPDATE succeeded.
func recordMovement(ctx context.Context, tx *sql.Tx, itemID int64, movement string,
	availableDelta, damagedDelta, totalDelta int) error {

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stock_ledger (item_id, movement, available_delta, damaged_delta, total_delta)
		 VALUES (?, ?, ?, ?, ?)`,
		itemID, movement, availableDelta, damagedDelta, totalDelta,
	); err != nil {
		return fmt.Errorf("recording stock movement: %w", err)
	}
	return nil
}

// debitAvailable takes qty units out of available stock. Fails with
// ErrInsufficientStock when usable stock (available - reserved) is short.
func debitAvailable(ctx context.Context, tx *sql.Tx, itemID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET available_quantity = available_quantity - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND available_quantity - reserved_quantity >= ?`,
		qty, itemID, qty,
	)
	if err != nil {
		return fmt.Errorf("debiting available stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debiting available stock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: item %d needs %d units", ErrInsufficientStock, itemID, qty)
	}
	return recordMovement(ctx, tx, itemID, "issue", -qty, 0, 0)
}

// creditAvailable puts qty units back into available stock. Never fails on
// quantity grounds.
func creditAvailable(ctx context.Context, tx *sql.Tx, itemID int64, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if qty == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET available_quantity = available_quantity + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		qty, itemID,
	); err != nil {
		return fmt.Errorf("crediting available stock: %w", err)
	}
	return recordMovement(ctx, tx, itemID, "return", qty, 0, 0)
}

// creditDamaged moves qty units into the damaged counter.
func creditDamaged(ctx context.Context, tx *sql.Tx, itemID int64, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if qty == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET damaged_quantity = damaged_quantity + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		qty, itemID,
	); err != nil {
		return fmt.Errorf("crediting damaged stock: %w", err)
	}
	return recordMovement(ctx, tx, itemID, "damage", 0, qty, 0)
}

// debitDamaged takes qty units out of the damaged counter. A short counter is
// an accounting fault, not a user error, so it fails with
// ErrInvariantViolation instead of clamping.
func debitDamaged(ctx context.Context, tx *sql.Tx, itemID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET damaged_quantity = damaged_quantity - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND damaged_quantity >= ?`,
		qty, itemID, qty,
	)
	if err != nil {
		return fmt.Errorf("debiting damaged stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debiting damaged stock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: damaged counter of item %d would go negative", ErrInvariantViolation, itemID)
	}
	return recordMovement(ctx, tx, itemID, "repair", 0, -qty, 0)
}

// growTotal adds qty units of brand-new stock (total and available).
func growTotal(ctx context.Context, tx *sql.Tx, itemID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET total_quantity = total_quantity + ?,
		        available_quantity = available_quantity + ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		qty, qty, itemID,
	); err != nil {
		return fmt.Errorf("growing total stock: %w", err)
	}
	return recordMovement(ctx, tx, itemID, "restock", qty, 0, qty)
}

// shrinkTotal permanently removes qty units of stock that is currently
// available (total and available both decrease).
func shrinkTotal(ctx context.Context, tx *sql.Tx, itemID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET total_quantity = total_quantity - ?,
		        available_quantity = available_quantity - ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND available_quantity >= ? AND total_quantity >= ?`,
		qty, qty, itemID, qty, qty,
	)
	if err != nil {
		return fmt.Errorf("shrinking total stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("shrinking total stock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: item %d cannot shed %d units", ErrInsufficientStock, itemID, qty)
	}
	return recordMovement(ctx, tx, itemID, "remove", -qty, 0, -qty)
}

// shrinkTotalDamaged permanently removes one damaged unit (asset retirement).
// Like debitDamaged, a short counter fails loudly.
func shrinkTotalDamaged(ctx context.Context, tx *sql.Tx, itemID int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET total_quantity = total_quantity - 1,
		        damaged_quantity = damaged_quantity - 1,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND damaged_quantity >= 1 AND total_quantity >= 1`,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("retiring damaged stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retiring damaged stock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: counters of item %d would go negative", ErrInvariantViolation, itemID)
	}
	return recordMovement(ctx, tx, itemID, "retire", 0, -1, -1)
}
