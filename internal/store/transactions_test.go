package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iotlab/labstock/internal/db"
	"github.com/iotlab/labstock/internal/model"
)

func TestFullLifecycleBulk(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "alice@lab.test", "x", model.RoleStudent, "21BEC1001")
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, _, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "RES", Name: "Resistors", TrackingType: model.TrackingBulk, InitialQuantity: 100,
	})

	due := time.Now().Add(7 * 24 * time.Hour)
	txn, token, err := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 10}}, "prof@lab.test", "FAC-1", due)
	if err != nil {
		t.Fatalf("RaiseTransaction: %v", err)
	}
	if txn.Status != model.StatusRaised {
		t.Fatalf("expected raised, got %s", txn.Status)
	}
	if txn.StudentRegNo != "21BEC1001" {
		t.Errorf("expected reg no stamped, got %q", txn.StudentRegNo)
	}

	// No stock moves at raise.
	it, _ := GetItem(ctx, database, item.ID)
	if it.AvailableQuantity != 100 {
		t.Errorf("expected 100 available after raise, got %d", it.AvailableQuantity)
	}

	txn, err = ApproveTransaction(ctx, database, token)
	if err != nil {
		t.Fatalf("ApproveTransaction: %v", err)
	}
	if txn.Status != model.StatusApproved || txn.ApprovedAt == nil {
		t.Fatalf("expected approved with timestamp, got %s", txn.Status)
	}

	// Token is single-use.
	if _, err := ApproveTransaction(ctx, database, token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on consumed token, got %v", err)
	}

	txn, err = IssueTransaction(ctx, database, txn.TxnID, nil, staff.ID)
	if err != nil {
		t.Fatalf("IssueTransaction: %v", err)
	}
	if txn.Status != model.StatusActive || txn.IssuedAt == nil {
		t.Fatalf("expected active with issue timestamp, got %s", txn.Status)
	}
	if txn.Lines[0].IssuedQuantity != 10 {
		t.Errorf("expected issued 10, got %d", txn.Lines[0].IssuedQuantity)
	}

	it, _ = GetItem(ctx, database, item.ID)
	if it.AvailableQuantity != 90 || it.TotalQuantity != 100 {
		t.Errorf("expected 90 available of 100, got %d/%d", it.AvailableQuantity, it.TotalQuantity)
	}

	txn, err = ReturnTransaction(ctx, database, txn.TxnID,
		[]ReturnLine{{ItemID: item.ID, ReturnedQuantity: 10}}, "")
	if err != nil {
		t.Fatalf("ReturnTransaction: %v", err)
	}
	if txn.Status != model.StatusCompleted || txn.ActualReturnDate == nil {
		t.Fatalf("expected completed, got %s", txn.Status)
	}

	it, _ = GetItem(ctx, database, item.ID)
	if it.AvailableQuantity != 100 || it.TotalQuantity != 100 || it.DamagedQuantity != 0 {
		t.Errorf("counters off after round trip: %+v", it)
	}
}

func TestRaiseDoesNotReserveStock(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	alice, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	bob, _ := CreateUser(ctx, database, "bob", "", "x", model.RoleStudent, "R2")
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, _, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "MCU", Name: "Microcontrollers", TrackingType: model.TrackingBulk, InitialQuantity: 10,
	})
	due := time.Now().Add(24 * time.Hour)

	// Both requests pass admission against the same 10 units.
	_, tokenA, err := RaiseTransaction(ctx, database, alice.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 10}}, "prof@lab.test", "", due)
	if err != nil {
		t.Fatalf("raise A: %v", err)
	}
	txnB, tokenB, err := RaiseTransaction(ctx, database, bob.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", due)
	if err != nil {
		t.Fatalf("raise B: %v", err)
	}

	txnA, _ := ApproveTransaction(ctx, database, tokenA)
	ApproveTransaction(ctx, database, tokenB)

	// First issuance drains the stock.
	if _, err := IssueTransaction(ctx, database, txnA.TxnID, nil, staff.ID); err != nil {
		t.Fatalf("issue A: %v", err)
	}

	// Second fails at issue time, not raise time, and mutates nothing.
	_, err = IssueTransaction(ctx, database, txnB.TxnID, nil, staff.ID)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	after, _ := GetTransaction(ctx, database, txnB.TxnID)
	if after.Status != model.StatusApproved {
		t.Errorf("expected B still approved, got %s", after.Status)
	}
	it, _ := GetItem(ctx, database, item.ID)
	if it.AvailableQuantity != 0 {
		t.Errorf("expected 0 available, got %d", it.AvailableQuantity)
	}
}

func TestRejectTransaction(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	item, _, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "SRV", Name: "Servos", TrackingType: model.TrackingBulk, InitialQuantity: 5,
	})

	_, token, _ := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 2}}, "prof@lab.test", "", time.Now().Add(time.Hour))

	txn, err := RejectTransaction(ctx, database, token, "project not registered")
	if err != nil {
		t.Fatalf("RejectTransaction: %v", err)
	}
	if txn.Status != model.StatusRejected {
		t.Errorf("expected rejected, got %s", txn.Status)
	}
	if txn.RejectedReason != "project not registered" {
		t.Errorf("expected reason recorded, got %q", txn.RejectedReason)
	}

	// Rejected transactions cannot be issued.
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	if _, err := IssueTransaction(ctx, database, txn.TxnID, nil, staff.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRaiseValidation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	item, _, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "CAP", Name: "Capacitors", TrackingType: model.TrackingBulk, InitialQuantity: 5,
	})
	due := time.Now().Add(time.Hour)

	cases := []struct {
		name  string
		lines []RaiseLine
		want  error
	}{
		{"no lines", nil, ErrInvalidQuantity},
		{"zero quantity", []RaiseLine{{ItemID: item.ID, Quantity: 0}}, ErrInvalidQuantity},
		{"duplicate item", []RaiseLine{{ItemID: item.ID, Quantity: 1}, {ItemID: item.ID, Quantity: 2}}, ErrInvalidQuantity},
		{"unknown item", []RaiseLine{{ItemID: 999, Quantity: 1}}, ErrNotFound},
		{"over stock", []RaiseLine{{ItemID: item.ID, Quantity: 6}}, ErrInsufficientStock},
	}
	for _, tc := range cases {
		_, _, err := RaiseTransaction(ctx, database, student.ID, tc.lines, "prof@lab.test", "", due)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	// Deactivated items reject new requests.
	DeactivateItem(ctx, database, item.ID)
	_, _, err := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", due)
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrItemInactive) {
		t.Errorf("expected inactive rejection, got %v", err)
	}
}

func TestIssueAssetTagCountMismatchMutatesNothing(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, tags, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "FPGA", Name: "FPGA boards", TrackingType: model.TrackingAsset, InitialQuantity: 3,
	})

	_, token, _ := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 2}}, "prof@lab.test", "", time.Now().Add(time.Hour))
	txn, _ := ApproveTransaction(ctx, database, token)

	// One tag for a two-unit line.
	_, err := IssueTransaction(ctx, database, txn.TxnID,
		[]IssueAssignment{{ItemID: item.ID, AssetTags: tags[:1]}}, staff.ID)
	if !errors.Is(err, ErrAssetTagCountMismatch) {
		t.Fatalf("expected ErrAssetTagCountMismatch, got %v", err)
	}

	// Nothing moved: transaction still approved, all assets still available.
	after, _ := GetTransaction(ctx, database, txn.TxnID)
	if after.Status != model.StatusApproved {
		t.Errorf("expected approved, got %s", after.Status)
	}
	assets, _ := ListAssets(ctx, database, item.ID, model.AssetAvailable)
	if len(assets) != 3 {
		t.Errorf("expected 3 available assets, got %d", len(assets))
	}
}

func TestIssueRejectsAssignmentForUnlistedItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	bulk, _, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "WIRE", Name: "Jumper wires", TrackingType: model.TrackingBulk, InitialQuantity: 50,
	})
	other, otherTags, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "FPGA", Name: "FPGA boards", TrackingType: model.TrackingAsset, InitialQuantity: 1,
	})

	_, token, _ := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: bulk.ID, Quantity: 5}}, "prof@lab.test", "", time.Now().Add(time.Hour))
	txn, _ := ApproveTransaction(ctx, database, token)

	// An assignment for an item that is not a line on the transaction.
	_, err := IssueTransaction(ctx, database, txn.TxnID,
		[]IssueAssignment{{ItemID: other.ID, AssetTags: otherTags}}, staff.ID)
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}

	after, _ := GetTransaction(ctx, database, txn.TxnID)
	if after.Status != model.StatusApproved {
		t.Errorf("expected approved, got %s", after.Status)
	}
	item, _ := GetItem(ctx, database, bulk.ID)
	if item.AvailableQuantity != 50 {
		t.Errorf("expected 50 available, got %d", item.AvailableQuantity)
	}
	assets, _ := ListAssets(ctx, database, other.ID, model.AssetAvailable)
	if len(assets) != 1 {
		t.Errorf("expected stray asset untouched, got %d available", len(assets))
	}
}

func TestIssueAssetLifecycleWithDamagedReturn(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, tags, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "OSC", Name: "Oscilloscopes", TrackingType: model.TrackingAsset, InitialQuantity: 3,
	})

	_, token, _ := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 2}}, "prof@lab.test", "FAC-9", time.Now().Add(time.Hour))
	txn, _ := ApproveTransaction(ctx, database, token)

	txn, err := IssueTransaction(ctx, database, txn.TxnID,
		[]IssueAssignment{{ItemID: item.ID, AssetTags: tags[:2]}}, staff.ID)
	if err != nil {
		t.Fatalf("IssueTransaction: %v", err)
	}
	if len(txn.Lines[0].AssetTags) != 2 {
		t.Fatalf("expected 2 assigned tags, got %v", txn.Lines[0].AssetTags)
	}

	it, _ := GetItem(ctx, database, item.ID)
	if it.AvailableQuantity != 1 {
		t.Errorf("expected 1 available after issue, got %d", it.AvailableQuantity)
	}
	issued, _ := GetAssetByTag(ctx, database, tags[0])
	if issued.Status != model.AssetIssued {
		t.Errorf("expected issued, got %s", issued.Status)
	}

	// One comes back fine, one damaged.
	txn, err = ReturnTransaction(ctx, database, txn.TxnID, []ReturnLine{{
		ItemID:       item.ID,
		ReturnedTags: tags[:1],
		DamagedTags:  []DamagedTag{{Tag: tags[1], Reason: "cracked screen"}},
	}}, "screen damage on OSC-0002")
	if err != nil {
		t.Fatalf("ReturnTransaction: %v", err)
	}
	if txn.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", txn.Status)
	}
	if txn.DamageNotes != "screen damage on OSC-0002" {
		t.Errorf("expected damage notes recorded, got %q", txn.DamageNotes)
	}

	it, _ = GetItem(ctx, database, item.ID)
	if it.AvailableQuantity != 2 || it.DamagedQuantity != 1 || it.TotalQuantity != 3 {
		t.Errorf("counters off: available=%d damaged=%d total=%d",
			it.AvailableQuantity, it.DamagedQuantity, it.TotalQuantity)
	}

	good, _ := GetAssetByTag(ctx, database, tags[0])
	if good.Status != model.AssetAvailable {
		t.Errorf("expected %s available again, got %s", tags[0], good.Status)
	}
	bad, _ := GetAssetByTag(ctx, database, tags[1])
	if bad.Status != model.AssetDamaged {
		t.Errorf("expected %s damaged, got %s", tags[1], bad.Status)
	}

	// Damage log got an entry tied to the transaction.
	entries, err := ListDamageEntries(ctx, database, true)
	if err != nil {
		t.Fatalf("ListDamageEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 damage entry, got %d", len(entries))
	}
	e := entries[0]
	if e.AssetTag != tags[1] || e.DamageReason != "cracked screen" || e.TxnID != txn.TxnID {
		t.Errorf("damage entry wrong: %+v", e)
	}
	if e.Status != model.DamageReported {
		t.Errorf("expected reported status, got %s", e.Status)
	}
}

func TestPartialReturnKeepsTransactionActive(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, _, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "SEN", Name: "Sensors", TrackingType: model.TrackingBulk, InitialQuantity: 20,
	})

	_, token, _ := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 6}}, "prof@lab.test", "", time.Now().Add(time.Hour))
	txn, _ := ApproveTransaction(ctx, database, token)
	txn, _ = IssueTransaction(ctx, database, txn.TxnID, nil, staff.ID)

	txn, err := ReturnTransaction(ctx, database, txn.TxnID,
		[]ReturnLine{{ItemID: item.ID, ReturnedQuantity: 4}}, "")
	if err != nil {
		t.Fatalf("partial return: %v", err)
	}
	if txn.Status != model.StatusActive {
		t.Errorf("expected still active, got %s", txn.Status)
	}
	if txn.Lines[0].Outstanding() != 2 {
		t.Errorf("expected 2 outstanding, got %d", txn.Lines[0].Outstanding())
	}

	// Returning more than outstanding fails.
	_, err = ReturnTransaction(ctx, database, txn.TxnID,
		[]ReturnLine{{ItemID: item.ID, ReturnedQuantity: 3}}, "")
	if !errors.Is(err, ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn, got %v", err)
	}

	// The remainder comes back damaged; transaction completes.
	txn, err = ReturnTransaction(ctx, database, txn.TxnID,
		[]ReturnLine{{ItemID: item.ID, DamagedQuantity: 2}}, "")
	if err != nil {
		t.Fatalf("final return: %v", err)
	}
	if txn.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %s", txn.Status)
	}

	it, _ := GetItem(ctx, database, item.ID)
	if it.AvailableQuantity != 18 || it.DamagedQuantity != 2 || it.TotalQuantity != 20 {
		t.Errorf("counters off: %+v", it)
	}
}

func TestReturnSameTagTwiceFails(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, tags, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "DMM", Name: "Multimeters", TrackingType: model.TrackingAsset, InitialQuantity: 2,
	})

	_, token, _ := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 2}}, "prof@lab.test", "", time.Now().Add(time.Hour))
	txn, _ := ApproveTransaction(ctx, database, token)
	txn, _ = IssueTransaction(ctx, database, txn.TxnID,
		[]IssueAssignment{{ItemID: item.ID, AssetTags: tags}}, staff.ID)

	if _, err := ReturnTransaction(ctx, database, txn.TxnID,
		[]ReturnLine{{ItemID: item.ID, ReturnedTags: tags[:1]}}, ""); err != nil {
		t.Fatalf("first return: %v", err)
	}

	_, err := ReturnTransaction(ctx, database, txn.TxnID,
		[]ReturnLine{{ItemID: item.ID, ReturnedTags: tags[:1]}}, "")
	if !errors.Is(err, ErrAssetAlreadyResolved) {
		t.Errorf("expected ErrAssetAlreadyResolved, got %v", err)
	}
}

func TestConcurrentIssueSameAssetOneWinner(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	alice, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	bob, _ := CreateUser(ctx, database, "bob", "", "x", model.RoleStudent, "R2")
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, tags, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "SDR", Name: "SDR dongles", TrackingType: model.TrackingAsset, InitialQuantity: 2,
	})

	_, tokenA, _ := RaiseTransaction(ctx, database, alice.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", time.Now().Add(time.Hour))
	_, tokenB, _ := RaiseTransaction(ctx, database, bob.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", time.Now().Add(time.Hour))
	txnA, _ := ApproveTransaction(ctx, database, tokenA)
	txnB, _ := ApproveTransaction(ctx, database, tokenB)

	// Both issuances want the same physical unit.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{txnA.TxnID, txnB.TxnID} {
		wg.Add(1)
		go func(i int, txnID string) {
			defer wg.Done()
			_, errs[i] = IssueTransaction(ctx, database, txnID,
				[]IssueAssignment{{ItemID: item.ID, AssetTags: tags[:1]}}, staff.ID)
		}(i, id)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrAssetUnavailable) {
			t.Errorf("loser should fail with ErrAssetUnavailable, got %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	a, _ := GetAssetByTag(ctx, database, tags[0])
	if a.Status != model.AssetIssued {
		t.Errorf("expected %s issued, got %s", tags[0], a.Status)
	}
}

func TestMarkOverdue(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	staff, _ := CreateUser(ctx, database, "staff", "", "x", model.RoleIncharge, "")
	item, _, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "KIT", Name: "Starter kits", TrackingType: model.TrackingBulk, InitialQuantity: 5,
	})

	due := time.Now().Add(time.Hour)
	_, token, _ := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", due)
	txn, _ := ApproveTransaction(ctx, database, token)
	txn, _ = IssueTransaction(ctx, database, txn.TxnID, nil, staff.ID)

	// Not yet past due.
	if _, err := MarkOverdue(ctx, database, txn.TxnID, due.Add(-time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition before due date, got %v", err)
	}

	changed, err := MarkOverdue(ctx, database, txn.TxnID, due.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkOverdue: %v", err)
	}
	if !changed {
		t.Error("expected transition")
	}

	// Idempotent.
	changed, err = MarkOverdue(ctx, database, txn.TxnID, due.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second MarkOverdue: %v", err)
	}
	if changed {
		t.Error("expected no-op on already-overdue transaction")
	}

	// Overdue transactions still accept returns and complete normally.
	txn, err = ReturnTransaction(ctx, database, txn.TxnID,
		[]ReturnLine{{ItemID: item.ID, ReturnedQuantity: 1}}, "")
	if err != nil {
		t.Fatalf("return after overdue: %v", err)
	}
	if txn.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %s", txn.Status)
	}

	// Completed transactions cannot go overdue.
	if _, err := MarkOverdue(ctx, database, txn.TxnID, due.Add(time.Hour)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestGetTransactionByToken(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	student, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	item, _, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "PCB", Name: "Blank PCBs", TrackingType: model.TrackingBulk, InitialQuantity: 5,
	})

	_, token, _ := RaiseTransaction(ctx, database, student.ID,
		[]RaiseLine{{ItemID: item.ID, Quantity: 1}}, "prof@lab.test", "", time.Now().Add(time.Hour))

	txn, err := GetTransactionByToken(ctx, database, token)
	if err != nil {
		t.Fatalf("GetTransactionByToken: %v", err)
	}
	if txn == nil || txn.Status != model.StatusRaised {
		t.Fatalf("expected pending transaction, got %v", txn)
	}

	// Consumed token no longer resolves.
	ApproveTransaction(ctx, database, token)
	txn, err = GetTransactionByToken(ctx, database, token)
	if err != nil {
		t.Fatalf("GetTransactionByToken after approve: %v", err)
	}
	if txn != nil {
		t.Errorf("expected nil after token consumed, got %v", txn)
	}
}

func TestListTransactionsFilters(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	alice, _ := CreateUser(ctx, database, "alice", "", "x", model.RoleStudent, "R1")
	bob, _ := CreateUser(ctx, database, "bob", "", "x", model.RoleStudent, "R2")
	item, _, _ := CreateItem(ctx, database, CreateItemParams{
		SKU: "ANT", Name: "Antennas", TrackingType: model.TrackingBulk, InitialQuantity: 50,
	})
	due := time.Now().Add(time.Hour)

	RaiseTransaction(ctx, database, alice.ID, []RaiseLine{{ItemID: item.ID, Quantity: 1}}, "x@lab.test", "", due)
	RaiseTransaction(ctx, database, alice.ID, []RaiseLine{{ItemID: item.ID, Quantity: 2}}, "y@lab.test", "", due)
	RaiseTransaction(ctx, database, bob.ID, []RaiseLine{{ItemID: item.ID, Quantity: 3}}, "y@lab.test", "", due)

	mine, err := ListTransactions(ctx, database, TransactionFilter{StudentID: alice.ID})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("expected 2 for alice, got %d", len(mine))
	}

	byReg, _ := ListTransactions(ctx, database, TransactionFilter{RegNo: "R2"})
	if len(byReg) != 1 || len(byReg[0].Lines) != 1 || byReg[0].Lines[0].Quantity != 3 {
		t.Errorf("reg-no filter wrong: %v", byReg)
	}

	byFaculty, _ := ListTransactions(ctx, database, TransactionFilter{FacultyEmail: "y@lab.test"})
	if len(byFaculty) != 2 {
		t.Errorf("expected 2 for y@lab.test, got %d", len(byFaculty))
	}

	raised, _ := ListTransactions(ctx, database, TransactionFilter{Status: model.StatusRaised})
	if len(raised) != 3 {
		t.Errorf("expected 3 raised, got %d", len(raised))
	}
}
