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

// TransactionsHandler handles the borrow-transaction lifecycle endpoints.
type TransactionsHandler struct {
	DB *sql.DB
}

type raiseRequest struct {
	Items              []store.RaiseLine `json:"items"`
	FacultyEmail       string            `json:"faculty_email"`
	FacultyID          string            `json:"faculty_id"`
	ExpectedReturnDate string            `json:"expected_return_date"` // YYYY-MM-DD
}

type raiseResponse struct {
	Transaction   *model.Transaction `json:"transaction"`
	ApprovalToken string             `json:"approval_token"`
}

type issueRequest struct {
	Assignments []store.IssueAssignment `json:"assignments"`
}

type returnRequest struct {
	Returns     []store.ReturnLine `json:"returns"`
	DamageNotes string             `json:"damage_notes"`
}

// Raise handles POST /api/transactions. The caller is the borrowing student;
// the approval token comes back in the response so the front end can mail it
// to the named faculty member.
func (h *TransactionsHandler) Raise(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req raiseRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.FacultyEmail == "" {
		jsonError(w, http.StatusBadRequest, "faculty_email required")
		return
	}

	expected, err := time.Parse("2006-01-02", req.ExpectedReturnDate)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "expected_return_date must be YYYY-MM-DD")
		return
	}
	if !expected.After(time.Now()) {
		jsonError(w, http.StatusBadRequest, "expected_return_date must be in the future")
		return
	}

	txn, token, err := store.RaiseTransaction(r.Context(), h.DB, claims.UserID,
		req.Items, req.FacultyEmail, req.FacultyID, expected)
	if err != nil {
		storeError(w, err)
		return
	}

	metrics.TransactionsRaised.Inc()
	slog.Info("transaction raised", "txn", txn.TxnID, "student", claims.Username,
		"faculty", req.FacultyEmail, "items", len(req.Items))
	jsonResponse(w, http.StatusCreated, raiseResponse{Transaction: txn, ApprovalToken: token})
}

// Mine handles GET /api/transactions/mine.
func (h *TransactionsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	txns, err := store.ListTransactions(r.Context(), h.DB, store.TransactionFilter{
		StudentID: claims.UserID,
		Status:    r.URL.Query().Get("status"),
	})
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	jsonResponse(w, http.StatusOK, txns)
}

// List handles GET /api/transactions and GET /api/transactions/search.
// Search narrows by transaction id, registration number, or faculty.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txns, err := store.ListTransactions(r.Context(), h.DB, store.TransactionFilter{
		Status:       q.Get("status"),
		Type:         q.Get("type"),
		TxnID:        q.Get("transaction_id"),
		RegNo:        q.Get("reg_no"),
		FacultyEmail: q.Get("faculty_email"),
		FacultyID:    q.Get("faculty_id"),
	})
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	jsonResponse(w, http.StatusOK, txns)
}

// ListOverdue handles GET /api/transactions/overdue.
func (h *TransactionsHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	txns, err := store.ListTransactions(r.Context(), h.DB, store.TransactionFilter{
		Status: model.StatusOverdue,
	})
	if err != nil {
		slog.Error("failed to list overdue transactions", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list overdue transactions")
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	jsonResponse(w, http.StatusOK, txns)
}

// Get handles GET /api/transactions/{txn}.
func (h *TransactionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	txn, err := store.GetTransaction(r.Context(), h.DB, r.PathValue("txn"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}
	if txn == nil {
		jsonError(w, http.StatusNotFound, "transaction not found")
		return
	}
	jsonResponse(w, http.StatusOK, txn)
}

// Issue handles POST /api/transactions/{txn}/issue.
func (h *TransactionsHandler) Issue(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txn, err := store.IssueTransaction(r.Context(), h.DB, r.PathValue("txn"),
		req.Assignments, claims.UserID)
	if err != nil {
		storeError(w, err)
		return
	}

	for _, line := range txn.Lines {
		metrics.UnitsIssued.WithLabelValues(trackingOf(line)).Add(float64(line.IssuedQuantity))
	}
	slog.Info("transaction issued", "txn", txn.TxnID, "by", claims.Username)
	jsonResponse(w, http.StatusOK, txn)
}

// Return handles POST /api/transactions/{txn}/return.
func (h *TransactionsHandler) Return(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txn, err := store.ReturnTransaction(r.Context(), h.DB, r.PathValue("txn"),
		req.Returns, req.DamageNotes)
	if err != nil {
		storeError(w, err)
		return
	}

	for _, ret := range req.Returns {
		good := ret.ReturnedQuantity + len(ret.ReturnedTags)
		damaged := ret.DamagedQuantity + len(ret.DamagedTags)
		metrics.UnitsReturned.WithLabelValues("good").Add(float64(good))
		metrics.UnitsReturned.WithLabelValues("damaged").Add(float64(damaged))
	}
	if txn.Status == model.StatusCompleted {
		metrics.TransactionsByOutcome.WithLabelValues("completed").Inc()
	}
	slog.Info("transaction return processed", "txn", txn.TxnID, "by", claims.Username,
		"status", txn.Status)
	jsonResponse(w, http.StatusOK, txn)
}

func trackingOf(line model.TransactionLine) string {
	if len(line.AssetTags) > 0 {
		return model.TrackingAsset
	}
	return model.TrackingBulk
}
