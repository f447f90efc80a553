package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordNotification claims the (transaction, type) de-dup key for a
// notification event. It returns false if the event was already recorded, so
// a sweep that runs twice never mails twice.
func RecordNotification(ctx context.Context, db *sql.DB, txnID, notifType, recipientEmail string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications (type, transaction_id, recipient_email)
		 VALUES (?, ?, ?)`,
		notifType, txnID, recipientEmail,
	)
	if err != nil {
		return false, fmt.Errorf("recording notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recording notification: %w", err)
	}
	return n > 0, nil
}
