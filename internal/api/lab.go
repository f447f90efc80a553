package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/iotlab/labstock/internal/metrics"
	"github.com/iotlab/labstock/internal/model"
	"github.com/iotlab/labstock/internal/store"
)

// LabHandler handles lab-session and lab-transfer issue endpoints. Both skip
// the approval step: the incharge at the counter is the authority.
type LabHandler struct {
	DB *sql.DB
}

type labSessionRequest struct {
	LabSlot            string          `json:"lab_slot"`
	Items              []store.LabLine `json:"items"`
	ExpectedReturnDate string          `json:"expected_return_date"` // YYYY-MM-DD
}

type labTransferRequest struct {
	TransferType       string          `json:"transfer_type"`
	TargetLabName      string          `json:"target_lab_name"`
	HandoverName       string          `json:"handover_faculty_name"`
	HandoverEmail      string          `json:"handover_faculty_email"`
	HandoverID         string          `json:"handover_faculty_id"`
	Items              []store.LabLine `json:"items"`
	ExpectedReturnDate string          `json:"expected_return_date"` // temporary only
}

// CreateSession handles POST /api/lab-sessions.
func (h *LabHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req labSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.LabSlot == "" {
		jsonError(w, http.StatusBadRequest, "lab_slot required")
		return
	}

	expected, err := time.Parse("2006-01-02", req.ExpectedReturnDate)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "expected_return_date must be YYYY-MM-DD")
		return
	}

	txn, err := store.CreateLabSession(r.Context(), h.DB, req.LabSlot, req.Items,
		expected, claims.UserID)
	if err != nil {
		storeError(w, err)
		return
	}

	countIssuedUnits(txn)
	slog.Info("lab session issued", "txn", txn.TxnID, "slot", req.LabSlot, "by", claims.Username)
	jsonResponse(w, http.StatusCreated, txn)
}

// ListActiveSessions handles GET /api/lab-sessions/active.
func (h *LabHandler) ListActiveSessions(w http.ResponseWriter, r *http.Request) {
	h.listActive(w, r, model.TxnLabSession)
}

// CreateTransfer handles POST /api/lab-transfers.
func (h *LabHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req labTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var expected *time.Time
	if req.ExpectedReturnDate != "" {
		t, err := time.Parse("2006-01-02", req.ExpectedReturnDate)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "expected_return_date must be YYYY-MM-DD")
			return
		}
		expected = &t
	}

	txn, err := store.CreateLabTransfer(r.Context(), h.DB, store.LabTransferParams{
		TransferType:   req.TransferType,
		TargetLabName:  req.TargetLabName,
		HandoverName:   req.HandoverName,
		HandoverEmail:  req.HandoverEmail,
		HandoverID:     req.HandoverID,
		ExpectedReturn: expected,
	}, req.Items, claims.UserID)
	if err != nil {
		storeError(w, err)
		return
	}

	countIssuedUnits(txn)
	slog.Info("lab transfer issued", "txn", txn.TxnID, "target", req.TargetLabName,
		"type", req.TransferType, "by", claims.Username)
	jsonResponse(w, http.StatusCreated, txn)
}

// ListActiveTransfers handles GET /api/lab-transfers/active.
func (h *LabHandler) ListActiveTransfers(w http.ResponseWriter, r *http.Request) {
	h.listActive(w, r, model.TxnLabTransfer)
}

func (h *LabHandler) listActive(w http.ResponseWriter, r *http.Request, txnType string) {
	txns, err := store.ListTransactions(r.Context(), h.DB, store.TransactionFilter{
		Type:   txnType,
		Status: model.StatusActive,
	})
	if err != nil {
		slog.Error("failed to list transactions", "type", txnType, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	jsonResponse(w, http.StatusOK, txns)
}

func countIssuedUnits(txn *model.Transaction) {
	for _, line := range txn.Lines {
		metrics.UnitsIssued.WithLabelValues(trackingOf(line)).Add(float64(line.IssuedQuantity))
	}
}
