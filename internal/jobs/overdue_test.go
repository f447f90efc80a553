package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/iotlab/labstock/internal/db"
	"github.com/iotlab/labstock/internal/model"
	"github.com/iotlab/labstock/internal/store"
)

type recordingNotifier struct {
	notices []string // recipient:txnID
}

func (r *recordingNotifier) NotifyOverdue(_ context.Context, recipient, txnID string, _ time.Time) error {
	r.notices = append(r.notices, recipient+":"+txnID)
	return nil
}

func TestSweepOverdue(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := store.CreateUser(ctx, database, "alice", "alice@lab.test", "x", model.RoleStudent, "R1")
	staff, _ := store.CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, _, _ := store.CreateItem(ctx, database, store.CreateItemParams{
		SKU: "KIT", Name: "Kits", TrackingType: model.TrackingBulk, InitialQuantity: 10,
	})

	due := time.Now().Add(time.Hour)

	// One active past-due transaction, one still within its window.
	_, tokenLate, _ := store.RaiseTransaction(ctx, database, student.ID,
		[]store.RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", due)
	late, _ := store.ApproveTransaction(ctx, database, tokenLate)
	late, _ = store.IssueTransaction(ctx, database, late.TxnID, nil, staff.ID)

	_, tokenOK, _ := store.RaiseTransaction(ctx, database, student.ID,
		[]store.RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", due.Add(48*time.Hour))
	ok, _ := store.ApproveTransaction(ctx, database, tokenOK)
	ok, _ = store.IssueTransaction(ctx, database, ok.TxnID, nil, staff.ID)

	notifier := &recordingNotifier{}
	n, err := SweepOverdue(ctx, database, notifier, due.Add(time.Minute))
	if err != nil {
		t.Fatalf("SweepOverdue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 transition, got %d", n)
	}

	lateAfter, _ := store.GetTransaction(ctx, database, late.TxnID)
	if lateAfter.Status != model.StatusOverdue {
		t.Errorf("expected overdue, got %s", lateAfter.Status)
	}
	okAfter, _ := store.GetTransaction(ctx, database, ok.TxnID)
	if okAfter.Status != model.StatusActive {
		t.Errorf("expected still active, got %s", okAfter.Status)
	}

	// Borrower and approving faculty both notified.
	if len(notifier.notices) != 2 {
		t.Fatalf("expected 2 notices, got %v", notifier.notices)
	}
	want := map[string]bool{
		"alice@lab.test:" + late.TxnID: true,
		"prof@lab.test:" + late.TxnID:  true,
	}
	for _, notice := range notifier.notices {
		if !want[notice] {
			t.Errorf("unexpected notice %s", notice)
		}
	}
}

func TestSweepOverdueNotifiesOnce(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := store.CreateUser(ctx, database, "alice", "alice@lab.test", "x", model.RoleStudent, "R1")
	staff, _ := store.CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, _, _ := store.CreateItem(ctx, database, store.CreateItemParams{
		SKU: "KIT", Name: "Kits", TrackingType: model.TrackingBulk, InitialQuantity: 10,
	})

	due := time.Now().Add(time.Hour)
	_, token, _ := store.RaiseTransaction(ctx, database, student.ID,
		[]store.RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", due)
	txn, _ := store.ApproveTransaction(ctx, database, token)
	store.IssueTransaction(ctx, database, txn.TxnID, nil, staff.ID)

	notifier := &recordingNotifier{}
	if _, err := SweepOverdue(ctx, database, notifier, due.Add(time.Minute)); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	first := len(notifier.notices)
	if first == 0 {
		t.Fatal("expected notices from first sweep")
	}

	// The overdue transaction is out of ListDueForOverdue once transitioned,
	// and the notification key is already claimed either way.
	n, err := SweepOverdue(ctx, database, notifier, due.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no transitions on second sweep, got %d", n)
	}
	if len(notifier.notices) != first {
		t.Errorf("expected no new notices, got %v", notifier.notices[first:])
	}
}

func TestSweepOverdueCatchesApprovedButNeverIssued(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := store.CreateUser(ctx, database, "alice", "alice@lab.test", "x", model.RoleStudent, "R1")
	item, _, _ := store.CreateItem(ctx, database, store.CreateItemParams{
		SKU: "KIT", Name: "Kits", TrackingType: model.TrackingBulk, InitialQuantity: 10,
	})

	due := time.Now().Add(time.Hour)
	_, token, _ := store.RaiseTransaction(ctx, database, student.ID,
		[]store.RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", due)
	txn, _ := store.ApproveTransaction(ctx, database, token)

	// Approved but never picked up still goes overdue past the date.
	n, err := SweepOverdue(ctx, database, &recordingNotifier{}, due.Add(time.Minute))
	if err != nil {
		t.Fatalf("SweepOverdue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 transition, got %d", n)
	}
	after, _ := store.GetTransaction(ctx, database, txn.TxnID)
	if after.Status != model.StatusOverdue {
		t.Errorf("expected overdue, got %s", after.Status)
	}
}
