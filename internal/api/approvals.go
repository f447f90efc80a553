package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/iotlab/labstock/internal/metrics"
	"github.com/iotlab/labstock/internal/store"
)

// ApprovalsHandler handles the faculty approve/reject endpoints. These are
// unauthenticated: possession of the single-use token is the authorization.
type ApprovalsHandler struct {
	DB *sql.DB
}

type decisionRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"` // reject only
}

// Details handles GET /api/approvals?token=. It shows the pending request so
// the faculty member can review the lines before deciding.
func (h *ApprovalsHandler) Details(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		jsonError(w, http.StatusBadRequest, "token required")
		return
	}

	txn, err := store.GetTransactionByToken(r.Context(), h.DB, token)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to look up request")
		return
	}
	if txn == nil {
		jsonError(w, http.StatusNotFound, "no pending request for this token")
		return
	}
	jsonResponse(w, http.StatusOK, txn)
}

// Approve handles POST /api/approvals/approve.
func (h *ApprovalsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		jsonError(w, http.StatusBadRequest, "token required")
		return
	}

	txn, err := store.ApproveTransaction(r.Context(), h.DB, req.Token)
	if err != nil {
		storeError(w, err)
		return
	}

	metrics.TransactionsByOutcome.WithLabelValues("approved").Inc()
	slog.Info("transaction approved", "txn", txn.TxnID, "faculty", txn.FacultyEmail)
	jsonResponse(w, http.StatusOK, txn)
}

// Reject handles POST /api/approvals/reject.
func (h *ApprovalsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		jsonError(w, http.StatusBadRequest, "token required")
		return
	}

	txn, err := store.RejectTransaction(r.Context(), h.DB, req.Token, req.Reason)
	if err != nil {
		storeError(w, err)
		return
	}

	metrics.TransactionsByOutcome.WithLabelValues("rejected").Inc()
	slog.Info("transaction rejected", "txn", txn.TxnID, "faculty", txn.FacultyEmail,
		"reason", req.Reason)
	jsonResponse(w, http.StatusOK, txn)
}
