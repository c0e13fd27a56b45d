package ledger

import (
	"context"
	"errors"
	"testing"

	"cctp-bridge-go/internal/database"
	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupLedger(t *testing.T) (*Service, *database.Service, func()) {
	db, err := database.NewMemoryService(context.Background())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	return NewService(db), db, db.Close
}

func TestRecord_IdempotentOnProviderTxId(t *testing.T) {
	service, _, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	params := RecordParams{
		ProviderTxId: "prov-1",
		WalletId:     "wallet-1",
		Direction:    models.DirectionInbound,
		Kind:         models.KindDirectSend,
		Chain:        "ethereum",
		State:        models.LedgerTxConfirmed,
		Legs:         []store.LegParams{{Amount: decimal.NewFromInt(100), Detail: "deposit"}},
	}

	first, err := service.Record(ctx, params)
	if err != nil {
		t.Fatalf("Failed to record: %v", err)
	}
	second, err := service.Record(ctx, params)
	if err != nil {
		t.Fatalf("Replay must not error: %v", err)
	}
	if second.Id != first.Id {
		t.Errorf("Expected the existing row back, got %s vs %s", second.Id, first.Id)
	}

	rows, err := service.History(ctx, "wallet-1", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("Expected one row, got %d", len(rows))
	}
}

func TestRecordBridgeCompletion(t *testing.T) {
	service, _, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	transfer := &models.Transfer{
		Id:            "t1",
		Reference:     "ref-1",
		WalletId:      "wallet-1",
		SourceChain:   "ethereum",
		MintRequestId: "mint-req-1",
		Amount:        decimal.RequireFromString("1000"),
		FeeTotal:      decimal.RequireFromString("1.5"),
	}

	recorded, err := service.RecordBridgeCompletion(ctx, transfer)
	if err != nil {
		t.Fatalf("Failed to record bridge completion: %v", err)
	}

	if recorded.Kind != models.KindBridge || recorded.Direction != models.DirectionOutbound {
		t.Errorf("Unexpected entry shape: %+v", recorded)
	}
	if len(recorded.Legs) != 2 {
		t.Fatalf("Expected principal and fee legs, got %d", len(recorded.Legs))
	}
	if !recorded.Total().Equal(decimal.RequireFromString("1001.5")) {
		t.Errorf("Expected total 1001.5, got %s", recorded.Total())
	}

	// Replaying the completion reuses the same row.
	again, err := service.RecordBridgeCompletion(ctx, transfer)
	if err != nil {
		t.Fatalf("Replay must not error: %v", err)
	}
	if again.Id != recorded.Id {
		t.Errorf("Expected idempotent replay, got new row %s", again.Id)
	}
}

func TestRecordBridgeCompletion_ZeroFeeSkipsFeeLeg(t *testing.T) {
	service, _, cleanup := setupLedger(t)
	defer cleanup()

	transfer := &models.Transfer{
		Id:            "t1",
		WalletId:      "wallet-1",
		SourceChain:   "ethereum",
		MintRequestId: "mint-req-1",
		Amount:        decimal.NewFromInt(100),
		FeeTotal:      decimal.Zero,
	}

	recorded, err := service.RecordBridgeCompletion(context.Background(), transfer)
	if err != nil {
		t.Fatalf("Failed to record: %v", err)
	}
	if len(recorded.Legs) != 1 {
		t.Errorf("Expected single principal leg, got %d", len(recorded.Legs))
	}
}

func TestReconcileProviderState(t *testing.T) {
	service, db, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := service.Record(ctx, RecordParams{
		ProviderTxId: "prov-1",
		WalletId:     "wallet-1",
		Direction:    models.DirectionOutbound,
		Kind:         models.KindDirectSend,
		Chain:        "ethereum",
		State:        models.LedgerTxPending,
		Legs:         []store.LegParams{{Amount: decimal.NewFromInt(50), Detail: "send"}},
	}); err != nil {
		t.Fatalf("Failed to record: %v", err)
	}

	if err := service.ReconcileProviderState(ctx, "prov-1", "TRANSACTION_DONE"); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	row, err := db.GetWalletTransactionByProviderId(ctx, "prov-1")
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if row.State != models.LedgerTxConfirmed {
		t.Errorf("Expected CONFIRMED, got %s", row.State)
	}

	// Repeating the same provider state appends nothing.
	if err := service.ReconcileProviderState(ctx, "prov-1", "TRANSACTION_DONE"); err != nil {
		t.Fatalf("Repeat reconcile must not error: %v", err)
	}
	events, _ := service.GetTransactionEvents(ctx, row.Id)
	if len(events) != 2 {
		t.Errorf("Expected 2 events (initial + confirmation), got %d", len(events))
	}
}

func TestReconcileProviderState_UnknownState(t *testing.T) {
	service, _, cleanup := setupLedger(t)
	defer cleanup()

	if _, err := service.Record(context.Background(), RecordParams{
		ProviderTxId: "prov-1",
		WalletId:     "wallet-1",
		Direction:    models.DirectionOutbound,
		Kind:         models.KindDirectSend,
		Chain:        "ethereum",
		State:        models.LedgerTxPending,
	}); err != nil {
		t.Fatalf("Failed to record: %v", err)
	}

	err := service.ReconcileProviderState(context.Background(), "prov-1", "TRANSACTION_TELEPORTED")
	if !errors.Is(err, ErrUnknownProviderState) {
		t.Errorf("Expected ErrUnknownProviderState, got %v", err)
	}
}
