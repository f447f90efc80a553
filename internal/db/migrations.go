package db

import (
	"database/sql"
	"fmt"

	"github.com/iotlab/labstock/internal/model"
)

// migrations is a list of SQL statements applied in order after schema
// creation. Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: partial unique index on active usernames so soft-deleted
	// usernames can be reused.
	`DROP INDEX IF EXISTS sqlite_autoindex_users_1`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
	     ON users(username) WHERE deleted_at IS NULL`,
	// Migration 2: append-only movement ledger for databases created before
	// the table was part of the base schema.
	`CREATE TABLE IF NOT EXISTS stock_ledger (
	     id              INTEGER PRIMARY KEY,
	     item_id         INTEGER NOT NULL REFERENCES items(id),
	     movement        TEXT NOT NULL,
	     available_delta INTEGER NOT NULL DEFAULT 0,
	     damaged_delta   INTEGER NOT NULL DEFAULT 0,
	     total_delta     INTEGER NOT NULL DEFAULT 0,
	     created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	 )`,
	`CREATE INDEX IF NOT EXISTS idx_stock_ledger_item ON stock_ledger(item_id)`,
}

// Migrate runs the database schema migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	if err := backfillAssetSeq(db); err != nil {
		return fmt.Errorf("backfilling asset sequences: %w", err)
	}

	return nil
}

// backfillAssetSeq sets items.asset_seq from the highest existing tag suffix
// for items imported before the counter existed. Runs once at migration time
// so tag generation never scans tags at request time.
func backfillAssetSeq(db *sql.DB) error {
	rows, err := db.Query(
		`SELECT a.item_id, a.asset_tag
		 FROM assets a
		 JOIN items i ON i.id = a.item_id
		 WHERE i.asset_seq = 0`,
	)
	if err != nil {
		return fmt.Errorf("querying unsequenced assets: %w", err)
	}
	defer rows.Close()

	highest := make(map[int64]int)
	for rows.Next() {
		var itemID int64
		var tag string
		if err := rows.Scan(&itemID, &tag); err != nil {
			return fmt.Errorf("scanning asset tag: %w", err)
		}
		_, seq, err := model.ParseAssetTag(tag)
		if err != nil {
			// Legacy tags that don't follow the suffix convention are left
			// alone; the counter stays at the highest parseable value.
			continue
		}
		if seq > highest[itemID] {
			highest[itemID] = seq
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for itemID, seq := range highest {
		if _, err := db.Exec(
			`UPDATE items SET asset_seq = ? WHERE id = ? AND asset_seq < ?`,
			seq, itemID, seq,
		); err != nil {
			return fmt.Errorf("updating asset_seq for item %d: %w", itemID, err)
		}
	}

	return nil
}
