// Package jobs contains the scheduled consumers of engine state. The engine
// itself runs no background work; the overdue sweep polls it and drives the
// idempotent MarkOverdue transition.
package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/iotlab/labstock/internal/model"
	"github.com/iotlab/labstock/internal/store"
)

// Notifier delivers overdue notices. Message content is the sender's concern;
// the sweep guarantees it is invoked at most once per transaction.
type Notifier interface {
	NotifyOverdue(ctx context.Context, recipient, txnID string, expectedReturn time.Time) error
}

// LogNotifier is the default Notifier: it only logs. Swap in an SMTP-backed
// implementation in deployments that send real mail.
type LogNotifier struct{}

func (LogNotifier) NotifyOverdue(_ context.Context, recipient, txnID string, expectedReturn time.Time) error {
	slog.Info("overdue notice", "recipient", recipient, "transaction", txnID,
		"expected_return", expectedReturn.Format("2006-01-02"))
	return nil
}

const overdueNotification = "overdue"

// SweepOverdue marks every approved or active transaction past its expected
// return date as overdue and notifies the borrower and approving faculty once.
// Safe to re-run: MarkOverdue is idempotent and the notification table
// de-duplicates on (transaction, event type). Returns how many transactions
// newly transitioned.
func SweepOverdue(ctx context.Context, db *sql.DB, notifier Notifier, now time.Time) (int, error) {
	due, err := store.ListDueForOverdue(ctx, db, now)
	if err != nil {
		return 0, fmt.Errorf("listing due transactions: %w", err)
	}

	transitioned := 0
	for _, t := range due {
		changed, err := store.MarkOverdue(ctx, db, t.TxnID, now)
		if err != nil {
			// One stuck transaction must not stall the rest of the sweep.
			slog.Error("marking transaction overdue", "transaction", t.TxnID, "error", err)
			continue
		}
		if changed {
			transitioned++
		}

		if err := notifyOnce(ctx, db, notifier, &t); err != nil {
			slog.Error("sending overdue notice", "transaction", t.TxnID, "error", err)
		}
	}
	return transitioned, nil
}

func notifyOnce(ctx context.Context, db *sql.DB, notifier Notifier, t *model.Transaction) error {
	if t.ExpectedReturnDate == nil {
		return nil
	}

	recipients := overdueRecipients(ctx, db, t)
	if len(recipients) == 0 {
		return nil
	}

	fresh, err := store.RecordNotification(ctx, db, t.TxnID, overdueNotification, recipients[0])
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	for _, addr := range recipients {
		if err := notifier.NotifyOverdue(ctx, addr, t.TxnID, *t.ExpectedReturnDate); err != nil {
			return err
		}
	}
	return nil
}

func overdueRecipients(ctx context.Context, db *sql.DB, t *model.Transaction) []string {
	var recipients []string
	if t.StudentID != nil {
		student, err := store.GetUser(ctx, db, *t.StudentID)
		if err != nil {
			slog.Error("looking up borrower", "transaction", t.TxnID, "error", err)
		} else if student != nil && student.Email != "" {
			recipients = append(recipients, student.Email)
		}
	}
	if t.FacultyEmail != "" {
		recipients = append(recipients, t.FacultyEmail)
	}
	return recipients
}

// RunOverdueSweeper runs SweepOverdue on a fixed interval until ctx is done.
// One immediate sweep happens at startup so a restarted server catches up.
func RunOverdueSweeper(ctx context.Context, db *sql.DB, notifier Notifier, interval time.Duration) {
	sweep := func() {
		n, err := SweepOverdue(ctx, db, notifier, time.Now())
		if err != nil {
			slog.Error("overdue sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("overdue sweep complete", "transitioned", n)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
