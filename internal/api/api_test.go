package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/iotlab/labstock/internal/auth"
	"github.com/iotlab/labstock/internal/db"
	"github.com/iotlab/labstock/internal/model"
	"github.com/iotlab/labstock/internal/store"
)

const testJWTSecret = "test-secret"

func setupTestServer(t *testing.T) (*httptest.Server, *sql.DB, string) {
	t.Helper()
	database := db.NewTestDB(t)
	server := httptest.NewServer(NewRouter(database, testJWTSecret))
	t.Cleanup(server.Close)

	// Create admin user.
	ctx := context.Background()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	store.CreateUser(ctx, database, "admin", "", string(hash), model.RoleAdmin, "")

	// Get token.
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "password"})
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var loginResp map[string]string
	json.NewDecoder(resp.Body).Decode(&loginResp)
	token := loginResp["token"]
	if token == "" {
		t.Fatal("empty token from login")
	}

	return server, database, token
}

func tokenFor(t *testing.T, database *sql.DB, username, role, regNo string) string {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("pass"), bcrypt.DefaultCost)
	user, err := store.CreateUser(context.Background(), database, username, "", string(hash), role, regNo)
	if err != nil {
		t.Fatalf("creating %s: %v", username, err)
	}
	token, err := auth.GenerateToken(testJWTSecret, user.ID, user.Username, user.Role, user.RegNo)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func doJSON(t *testing.T, req *http.Request, wantStatus int, out any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d", req.Method, req.URL.Path, wantStatus, resp.StatusCode)
	}
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
}

func TestLoginEndpoint(t *testing.T) {
	server, _, _ := setupTestServer(t)

	// Test invalid credentials.
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, _ := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUnauthenticatedAccess(t *testing.T) {
	database := db.NewTestDB(t)
	server := httptest.NewServer(NewRouter(database, testJWTSecret))
	t.Cleanup(server.Close)

	resp, _ := http.Get(server.URL + "/api/items")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated request, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRoleBasedAccess(t *testing.T) {
	server, database, _ := setupTestServer(t)
	studentToken := tokenFor(t, database, "amrita", model.RoleStudent, "2024CS101")

	// Students cannot create items (admin required).
	req, _ := authRequest("POST", server.URL+"/api/items", studentToken, map[string]string{
		"sku": "X", "name": "Test", "tracking_type": model.TrackingBulk,
	})
	resp, _ := http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for student creating item, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Students cannot browse the full transaction list.
	req, _ = authRequest("GET", server.URL+"/api/transactions", studentToken, nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for student listing transactions, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Students cannot access user management.
	req, _ = authRequest("GET", server.URL+"/api/users", studentToken, nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for student accessing users, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestItemsAPIFlow(t *testing.T) {
	server, _, token := setupTestServer(t)

	// Create a bulk item.
	req, _ := authRequest("POST", server.URL+"/api/items", token, map[string]any{
		"sku": "RES-10K", "name": "10k resistors", "tracking_type": model.TrackingBulk,
		"initial_quantity": 500, "min_threshold_quantity": 50,
	})
	var created struct {
		Item model.Item `json:"item"`
	}
	doJSON(t, req, http.StatusCreated, &created)
	if created.Item.AvailableQuantity != 500 {
		t.Errorf("expected 500 available, got %d", created.Item.AvailableQuantity)
	}
	itemURL := server.URL + "/api/items/" + strconv.FormatInt(created.Item.ID, 10)

	// Duplicate SKU conflicts.
	req, _ = authRequest("POST", server.URL+"/api/items", token, map[string]any{
		"sku": "RES-10K", "name": "duplicate", "tracking_type": model.TrackingBulk,
		"initial_quantity": 1,
	})
	doJSON(t, req, http.StatusConflict, nil)

	// List items.
	req, _ = authRequest("GET", server.URL+"/api/items", token, nil)
	var items []model.Item
	doJSON(t, req, http.StatusOK, &items)
	if len(items) != 1 {
		t.Errorf("expected 1 item, got %d", len(items))
	}

	// Removing more than available stock is a client error.
	req, _ = authRequest("POST", itemURL+"/stock", token, map[string]any{
		"action": "remove", "quantity": 501,
	})
	doJSON(t, req, http.StatusBadRequest, nil)

	// Restock, then verify the counters moved.
	req, _ = authRequest("POST", itemURL+"/stock", token, map[string]any{
		"action": "add", "quantity": 100,
	})
	doJSON(t, req, http.StatusOK, nil)

	req, _ = authRequest("GET", itemURL, token, nil)
	var item model.Item
	doJSON(t, req, http.StatusOK, &item)
	if item.AvailableQuantity != 600 {
		t.Errorf("expected 600 available after restock, got %d", item.AvailableQuantity)
	}
}

func TestTransactionAPIFlow(t *testing.T) {
	server, database, adminToken := setupTestServer(t)
	studentToken := tokenFor(t, database, "amrita", model.RoleStudent, "2024CS101")
	staffToken := tokenFor(t, database, "staff", model.RoleIncharge, "")

	// Admin stocks an item.
	req, _ := authRequest("POST", server.URL+"/api/items", adminToken, map[string]any{
		"sku": "ARD-UNO", "name": "Arduino Uno", "tracking_type": model.TrackingBulk,
		"initial_quantity": 10,
	})
	var created struct {
		Item model.Item `json:"item"`
	}
	doJSON(t, req, http.StatusCreated, &created)

	// Student raises a borrow request.
	req, _ = authRequest("POST", server.URL+"/api/transactions", studentToken, map[string]any{
		"items":                []map[string]any{{"item_id": created.Item.ID, "quantity": 3}},
		"faculty_email":        "prof@lab.test",
		"expected_return_date": "2099-01-02",
	})
	var raised struct {
		Transaction   model.Transaction `json:"transaction"`
		ApprovalToken string            `json:"approval_token"`
	}
	doJSON(t, req, http.StatusCreated, &raised)
	if raised.Transaction.Status != model.StatusRaised {
		t.Fatalf("expected raised, got %s", raised.Transaction.Status)
	}
	if raised.ApprovalToken == "" {
		t.Fatal("expected approval token in raise response")
	}
	txnURL := server.URL + "/api/transactions/" + raised.Transaction.TxnID

	// Issuing before approval is a state conflict.
	req, _ = authRequest("POST", txnURL+"/issue", staffToken, map[string]any{})
	doJSON(t, req, http.StatusConflict, nil)

	// Faculty reviews and approves with the emailed token, no login needed.
	resp, _ := http.Get(server.URL + "/api/approvals?token=" + raised.ApprovalToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for approval details, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	body, _ := json.Marshal(map[string]string{"token": raised.ApprovalToken})
	resp, _ = http.Post(server.URL+"/api/approvals/approve", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for approve, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The token is single-use.
	resp, _ = http.Post(server.URL+"/api/approvals/approve", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for reused token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Staff issues the stock.
	req, _ = authRequest("POST", txnURL+"/issue", staffToken, map[string]any{})
	var issued model.Transaction
	doJSON(t, req, http.StatusOK, &issued)
	if issued.Status != model.StatusActive {
		t.Fatalf("expected active, got %s", issued.Status)
	}

	// Student sees it under /mine; staff finds it by registration number.
	req, _ = authRequest("GET", server.URL+"/api/transactions/mine", studentToken, nil)
	var mine []model.Transaction
	doJSON(t, req, http.StatusOK, &mine)
	if len(mine) != 1 {
		t.Errorf("expected 1 transaction under /mine, got %d", len(mine))
	}

	req, _ = authRequest("GET", server.URL+"/api/transactions/search?reg_no=2024CS101", staffToken, nil)
	var found []model.Transaction
	doJSON(t, req, http.StatusOK, &found)
	if len(found) != 1 {
		t.Errorf("expected 1 search hit, got %d", len(found))
	}

	// Full return completes the transaction.
	req, _ = authRequest("POST", txnURL+"/return", staffToken, map[string]any{
		"returns": []map[string]any{{"item_id": created.Item.ID, "returned_quantity": 3}},
	})
	var returned model.Transaction
	doJSON(t, req, http.StatusOK, &returned)
	if returned.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", returned.Status)
	}
}
