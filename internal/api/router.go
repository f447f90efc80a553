package api

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iotlab/labstock/internal/model"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, jwtSecret string) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret}
	usersHandler := &UsersHandler{DB: db}
	itemsHandler := &ItemsHandler{DB: db}
	txnsHandler := &TransactionsHandler{DB: db}
	approvalsHandler := &ApprovalsHandler{DB: db}
	labHandler := &LabHandler{DB: db}
	damageHandler := &DamageHandler{DB: db}

	authMW := AuthMiddleware(jwtSecret, db)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireIncharge := RequireRole(model.RoleIncharge)

	// Public: login, health, metrics, and the token-credentialed approval flow.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/approvals", approvalsHandler.Details)
	mux.HandleFunc("POST /api/approvals/approve", approvalsHandler.Approve)
	mux.HandleFunc("POST /api/approvals/reject", approvalsHandler.Reject)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Items: read (all roles), write (admin only).
	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.List)))
	mux.Handle("GET /api/items/low-stock", authMW(requireIncharge(http.HandlerFunc(itemsHandler.ListLowStock))))
	mux.Handle("POST /api/items", authMW(requireAdmin(http.HandlerFunc(itemsHandler.Create))))
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{id}", authMW(requireAdmin(http.HandlerFunc(itemsHandler.Update))))
	mux.Handle("DELETE /api/items/{id}", authMW(requireAdmin(http.HandlerFunc(itemsHandler.Delete))))
	mux.Handle("POST /api/items/{id}/stock", authMW(requireAdmin(http.HandlerFunc(itemsHandler.AdjustStock))))
	mux.Handle("GET /api/items/{id}/assets", authMW(requireIncharge(http.HandlerFunc(itemsHandler.ListAssets))))
	mux.Handle("PUT /api/items/{id}/image", authMW(requireAdmin(http.HandlerFunc(itemsHandler.UploadImage))))
	mux.Handle("GET /api/items/{id}/image", authMW(http.HandlerFunc(itemsHandler.GetImage)))

	// Transactions: students raise and see their own, staff run the counter.
	mux.Handle("POST /api/transactions", authMW(http.HandlerFunc(txnsHandler.Raise)))
	mux.Handle("GET /api/transactions/mine", authMW(http.HandlerFunc(txnsHandler.Mine)))
	mux.Handle("GET /api/transactions", authMW(requireIncharge(http.HandlerFunc(txnsHandler.List))))
	mux.Handle("GET /api/transactions/search", authMW(requireIncharge(http.HandlerFunc(txnsHandler.List))))
	mux.Handle("GET /api/transactions/overdue", authMW(requireIncharge(http.HandlerFunc(txnsHandler.ListOverdue))))
	mux.Handle("GET /api/transactions/{txn}", authMW(requireIncharge(http.HandlerFunc(txnsHandler.Get))))
	mux.Handle("POST /api/transactions/{txn}/issue", authMW(requireIncharge(http.HandlerFunc(txnsHandler.Issue))))
	mux.Handle("POST /api/transactions/{txn}/return", authMW(requireIncharge(http.HandlerFunc(txnsHandler.Return))))

	// Lab sessions and transfers (incharge+).
	mux.Handle("POST /api/lab-sessions", authMW(requireIncharge(http.HandlerFunc(labHandler.CreateSession))))
	mux.Handle("GET /api/lab-sessions/active", authMW(requireIncharge(http.HandlerFunc(labHandler.ListActiveSessions))))
	mux.Handle("POST /api/lab-transfers", authMW(requireIncharge(http.HandlerFunc(labHandler.CreateTransfer))))
	mux.Handle("GET /api/lab-transfers/active", authMW(requireIncharge(http.HandlerFunc(labHandler.ListActiveTransfers))))

	// Damage workflow (admin only).
	mux.Handle("GET /api/damaged-assets", authMW(requireAdmin(http.HandlerFunc(damageHandler.List))))
	mux.Handle("GET /api/damaged-assets/under-repair", authMW(requireAdmin(http.HandlerFunc(damageHandler.ListUnderRepair))))
	mux.Handle("GET /api/damaged-assets/{id}", authMW(requireAdmin(http.HandlerFunc(damageHandler.Get))))
	mux.Handle("POST /api/damaged-assets/{id}/action", authMW(requireAdmin(http.HandlerFunc(damageHandler.Action))))

	return mux
}
