package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    email         TEXT,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'student' CHECK (role IN ('admin', 'incharge', 'student')),
    reg_no        TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS items (
    id                     INTEGER PRIMARY KEY,
    sku                    TEXT NOT NULL UNIQUE,
    name                   TEXT NOT NULL,
    category               TEXT,
    vendor                 TEXT,
    location               TEXT,
    description            TEXT,
    tracking_type          TEXT NOT NULL CHECK (tracking_type IN ('bulk', 'asset')),
    total_quantity         INTEGER NOT NULL DEFAULT 0 CHECK (total_quantity >= 0),
    available_quantity     INTEGER NOT NULL DEFAULT 0 CHECK (available_quantity >= 0),
    reserved_quantity      INTEGER NOT NULL DEFAULT 0 CHECK (reserved_quantity >= 0),
    damaged_quantity       INTEGER NOT NULL DEFAULT 0 CHECK (damaged_quantity >= 0),
    min_threshold_quantity INTEGER NOT NULL DEFAULT 5,
    asset_seq              INTEGER NOT NULL DEFAULT 0,
    image                  BLOB,
    image_mime             TEXT,
    is_active              INTEGER NOT NULL DEFAULT 1,
    created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at             DATETIME
);

CREATE TABLE IF NOT EXISTS assets (
    id                  INTEGER PRIMARY KEY,
    item_id             INTEGER NOT NULL REFERENCES items(id),
    asset_tag           TEXT NOT NULL UNIQUE,
    serial_no           TEXT,
    status              TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'issued', 'damaged', 'retired')),
    condition           TEXT NOT NULL DEFAULT 'good' CHECK (condition IN ('good', 'faulty', 'broken')),
    location            TEXT,
    last_transaction_id INTEGER REFERENCES transactions(id),
    created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_assets_item_status ON assets(item_id, status);

CREATE TABLE IF NOT EXISTS transactions (
    id                     INTEGER PRIMARY KEY,
    transaction_id         TEXT NOT NULL UNIQUE,
    transaction_type       TEXT NOT NULL DEFAULT 'regular' CHECK (transaction_type IN ('regular', 'lab_session', 'lab_transfer')),
    transfer_type          TEXT CHECK (transfer_type IN ('temporary', 'permanent')),
    status                 TEXT NOT NULL DEFAULT 'raised' CHECK (status IN ('raised', 'approved', 'active', 'completed', 'overdue', 'rejected')),
    student_id             INTEGER REFERENCES users(id),
    student_reg_no         TEXT,
    faculty_email          TEXT,
    faculty_id             TEXT,
    target_lab_name        TEXT,
    handover_faculty_name  TEXT,
    handover_faculty_email TEXT,
    lab_slot               TEXT,
    approval_token         TEXT,
    approved_at            DATETIME,
    rejected_reason        TEXT,
    issued_by              INTEGER REFERENCES users(id),
    issued_at              DATETIME,
    expected_return_date   DATETIME,
    actual_return_date     DATETIME,
    damage_notes           TEXT,
    created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
CREATE INDEX IF NOT EXISTS idx_transactions_student ON transactions(student_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_token
    ON transactions(approval_token) WHERE approval_token IS NOT NULL;

CREATE TABLE IF NOT EXISTS transaction_lines (
    transaction_id    INTEGER NOT NULL REFERENCES transactions(id),
    item_id           INTEGER NOT NULL REFERENCES items(id),
    quantity          INTEGER NOT NULL CHECK (quantity > 0),
    issued_quantity   INTEGER NOT NULL DEFAULT 0,
    returned_quantity INTEGER NOT NULL DEFAULT 0,
    damaged_quantity  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (transaction_id, item_id)
);

CREATE TABLE IF NOT EXISTS transaction_assets (
    transaction_id INTEGER NOT NULL REFERENCES transactions(id),
    item_id        INTEGER NOT NULL REFERENCES items(id),
    asset_tag      TEXT NOT NULL REFERENCES assets(asset_tag),
    resolved       TEXT NOT NULL DEFAULT '' CHECK (resolved IN ('', 'returned', 'damaged')),
    PRIMARY KEY (transaction_id, asset_tag)
);

CREATE TABLE IF NOT EXISTS damage_log (
    id             INTEGER PRIMARY KEY,
    asset_id       INTEGER NOT NULL REFERENCES assets(id),
    transaction_id INTEGER NOT NULL REFERENCES transactions(id),
    student_id     INTEGER REFERENCES users(id),
    faculty_email  TEXT,
    faculty_id     TEXT,
    damage_reason  TEXT NOT NULL,
    remarks        TEXT,
    status         TEXT NOT NULL DEFAULT 'damaged' CHECK (status IN ('damaged', 'under_repair', 'resolved', 'retired')),
    reported_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_damage_log_status ON damage_log(status);

CREATE TABLE IF NOT EXISTS stock_ledger (
    id              INTEGER PRIMARY KEY,
    item_id         INTEGER NOT NULL REFERENCES items(id),
    movement        TEXT NOT NULL,
    available_delta INTEGER NOT NULL DEFAULT 0,
    damaged_delta   INTEGER NOT NULL DEFAULT 0,
    total_delta     INTEGER NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_stock_ledger_item ON stock_ledger(item_id);

CREATE TABLE IF NOT EXISTS notifications (
    id              INTEGER PRIMARY KEY,
    type            TEXT NOT NULL,
    transaction_id  TEXT NOT NULL,
    recipient_email TEXT NOT NULL,
    sent_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (transaction_id, type)
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
