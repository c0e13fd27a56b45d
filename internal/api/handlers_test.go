package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cctp-bridge-go/internal/analytics"
	"cctp-bridge-go/internal/database"
	"cctp-bridge-go/internal/fees"
	"cctp-bridge-go/internal/gateway"
	"cctp-bridge-go/internal/ledger"
	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/transfer"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

type testChains map[string]bool

func (c testChains) Supported(name string) bool { return c[name] }

func (c testChains) GasPerTransfer(string) decimal.Decimal { return decimal.Zero }

func setupServer(t *testing.T) (*Server, func()) {
	db, err := database.NewMemoryService(context.Background())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	fake := gateway.NewFake()
	estimator := fees.NewEstimator(fake, models.FeeConfig{
		ScheduleTTL:       time.Minute,
		MarkupPercent:     decimal.RequireFromString("0.1"),
		MaxFastAmount:     decimal.RequireFromString("25000"),
		MaxStandardAmount: decimal.RequireFromString("1000000"),
		FeeTolerance:      decimal.RequireFromString("0.01"),
	})
	chains := testChains{"ethereum": true, "base": true}
	ledgerService := ledger.NewService(db)
	machine := transfer.NewMachine(db, ledgerService, fake, estimator, chains)
	aggregator := analytics.NewAggregator(db, chains)

	server := NewServer(models.ServerConfig{ListenAddr: ":0"}, machine, estimator, ledgerService, aggregator, db)
	return server, db.Close
}

func doRequest(server *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(recorder, req)
	return recorder
}

const initiateBody = `{
	"reference": "ref-1",
	"wallet_id": "wallet-1",
	"source_chain": "ethereum",
	"destination_chain": "base",
	"destination_address": "0xdest",
	"amount": "1000",
	"speed_tier": "STANDARD"
}`

func TestInitiateEndpoint(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	recorder := doRequest(server, http.MethodPost, "/v1/transfers", initiateBody)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["state"] != "INITIATED" {
		t.Errorf("Expected INITIATED, got %v", resp["state"])
	}
	if resp["fee_quoted"] != "1.5" {
		t.Errorf("Expected quoted fee 1.5, got %v", resp["fee_quoted"])
	}
}

func TestInitiateEndpoint_Validation(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	missing := doRequest(server, http.MethodPost, "/v1/transfers", `{"reference":"r"}`)
	if missing.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing fields, got %d", missing.Code)
	}

	badAmount := doRequest(server, http.MethodPost, "/v1/transfers",
		strings.Replace(initiateBody, `"1000"`, `"lots"`, 1))
	if badAmount.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for bad amount, got %d", badAmount.Code)
	}

	badRoute := doRequest(server, http.MethodPost, "/v1/transfers",
		strings.Replace(initiateBody, `"base"`, `"solana"`, 1))
	if badRoute.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for unknown chain, got %d", badRoute.Code)
	}
}

func TestGetTransferEndpoint(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	created := doRequest(server, http.MethodPost, "/v1/transfers", initiateBody)
	var createdResp map[string]any
	_ = json.Unmarshal(created.Body.Bytes(), &createdResp)
	id := createdResp["id"].(string)

	recorder := doRequest(server, http.MethodGet, "/v1/transfers/"+id, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	var resp struct {
		Transfer map[string]any   `json:"transfer"`
		Events   []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Events) != 1 {
		t.Errorf("Expected one history event, got %d", len(resp.Events))
	}

	missing := doRequest(server, http.MethodGet, "/v1/transfers/nope", "")
	if missing.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", missing.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	created := doRequest(server, http.MethodPost, "/v1/transfers", initiateBody)
	var createdResp map[string]any
	_ = json.Unmarshal(created.Body.Bytes(), &createdResp)
	id := createdResp["id"].(string)

	recorder := doRequest(server, http.MethodPost, "/v1/transfers/"+id+"/cancel", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// A second cancel hits a terminal transfer.
	again := doRequest(server, http.MethodPost, "/v1/transfers/"+id+"/cancel", "")
	if again.Code != http.StatusConflict {
		t.Errorf("Expected 409 for terminal transfer, got %d", again.Code)
	}
}

func TestQuoteEndpoint(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	recorder := doRequest(server, http.MethodGet,
		"/v1/quote?source=ethereum&destination=base&amount=1000&tier=FAST", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &resp)
	if resp["total_fee"] != "2.75" {
		t.Errorf("Expected total fee 2.75, got %v", resp["total_fee"])
	}

	badRoute := doRequest(server, http.MethodGet,
		"/v1/quote?source=ethereum&destination=solana&amount=10", "")
	if badRoute.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for unknown route, got %d", badRoute.Code)
	}
}

func TestWalletEndpoints(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	balance := doRequest(server, http.MethodGet, "/v1/wallets/wallet-1/balance", "")
	if balance.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", balance.Code)
	}
	var balanceResp map[string]any
	_ = json.Unmarshal(balance.Body.Bytes(), &balanceResp)
	if balanceResp["available"] != "0" {
		t.Errorf("Expected empty wallet balance 0, got %v", balanceResp["available"])
	}

	transactions := doRequest(server, http.MethodGet, "/v1/wallets/wallet-1/transactions", "")
	if transactions.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", transactions.Code)
	}
}

const recordTransactionBody = `{
	"provider_tx_id": "prov-1",
	"reference": "deposit-1",
	"direction": "INBOUND",
	"chain": "ethereum",
	"provider_state": "TRANSACTION_DONE",
	"legs": [{"amount": "250", "detail": "deposit"}]
}`

func TestRecordWalletTransactionEndpoint(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	recorder := doRequest(server, http.MethodPost, "/v1/wallets/wallet-1/transactions", recordTransactionBody)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &resp)
	if resp["state"] != "CONFIRMED" {
		t.Errorf("Expected provider state mapped to CONFIRMED, got %v", resp["state"])
	}

	// The confirmed inbound credit shows up in the folded balance.
	balance := doRequest(server, http.MethodGet, "/v1/wallets/wallet-1/balance", "")
	var balanceResp map[string]any
	_ = json.Unmarshal(balance.Body.Bytes(), &balanceResp)
	if balanceResp["available"] != "250" {
		t.Errorf("Expected available 250 after deposit, got %v", balanceResp["available"])
	}

	badState := doRequest(server, http.MethodPost, "/v1/wallets/wallet-1/transactions",
		strings.Replace(recordTransactionBody, "TRANSACTION_DONE", "TRANSACTION_TELEPORTED", 1))
	if badState.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for unknown provider state, got %d", badState.Code)
	}
}

func TestReconcileWalletTransactionEndpoint(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	pending := strings.Replace(recordTransactionBody, "TRANSACTION_DONE", "TRANSACTION_PENDING", 1)
	created := doRequest(server, http.MethodPost, "/v1/wallets/wallet-1/transactions", pending)
	if created.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", created.Code, created.Body.String())
	}

	recorder := doRequest(server, http.MethodPost, "/v1/transactions/prov-1/reconcile",
		`{"provider_state": "TRANSACTION_DONE"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &resp)
	if resp["state"] != "CONFIRMED" {
		t.Errorf("Expected CONFIRMED after reconcile, got %v", resp["state"])
	}

	missing := doRequest(server, http.MethodPost, "/v1/transactions/prov-nope/reconcile",
		`{"provider_state": "TRANSACTION_DONE"}`)
	if missing.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown provider tx, got %d", missing.Code)
	}
}

func TestRollupEndpoint(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	doRequest(server, http.MethodPost, "/v1/transfers", initiateBody)

	recorder := doRequest(server, http.MethodGet, "/v1/reports/rollup", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	var resp map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &resp)
	if resp["total_count"] != float64(1) {
		t.Errorf("Expected one transfer in rollup, got %v", resp["total_count"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	recorder := doRequest(server, http.MethodGet, "/v1/health", "")
	if recorder.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", recorder.Code)
	}
}
