package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) (*Service, func()) {
	service, err := NewMemoryService(context.Background())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	return service, service.Close
}

func createTestTransfer(t *testing.T, service *Service, id, reference string) *models.Transfer {
	created, err := service.CreateTransfer(context.Background(), store.CreateTransferParams{
		Id:                 id,
		Reference:          reference,
		WalletId:           "wallet-1",
		SourceChain:        "ethereum",
		DestinationChain:   "base",
		DestinationAddress: "0xabc",
		Amount:             decimal.RequireFromString("100.50"),
		SpeedTier:          models.TierStandard,
		FeeQuoted:          decimal.RequireFromString("0.60"),
	})
	if err != nil {
		t.Fatalf("Failed to create transfer: %v", err)
	}
	return created
}

func TestCreateTransfer(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	created := createTestTransfer(t, service, "t1", "ref-1")

	if created.State != models.StateInitiated {
		t.Errorf("Expected state INITIATED, got %s", created.State)
	}
	if created.Version != 1 {
		t.Errorf("Expected version 1, got %d", created.Version)
	}
	if !created.Amount.Equal(decimal.RequireFromString("100.50")) {
		t.Errorf("Expected amount 100.50, got %s", created.Amount)
	}
	if !created.CompletedAt.IsZero() {
		t.Errorf("Expected zero completed_at, got %v", created.CompletedAt)
	}

	events, err := service.GetTransferEvents(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(events) != 1 || events[0].ToState != models.StateInitiated {
		t.Errorf("Expected one INITIATED event, got %v", events)
	}
}

func TestCreateTransfer_DuplicateReference(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	createTestTransfer(t, service, "t1", "ref-1")

	_, err := service.CreateTransfer(context.Background(), store.CreateTransferParams{
		Id:                 "t2",
		Reference:          "ref-1",
		WalletId:           "wallet-1",
		SourceChain:        "ethereum",
		DestinationChain:   "base",
		DestinationAddress: "0xabc",
		Amount:             decimal.NewFromInt(5),
		SpeedTier:          models.TierFast,
		FeeQuoted:          decimal.Zero,
	})
	if !errors.Is(err, store.ErrDuplicateReference) {
		t.Errorf("Expected ErrDuplicateReference, got %v", err)
	}
}

func TestGetTransfer_NotFound(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := service.GetTransfer(context.Background(), "missing"); !errors.Is(err, store.ErrTransferNotFound) {
		t.Errorf("Expected ErrTransferNotFound, got %v", err)
	}
}

func TestUpdateTransfer_BumpsVersionAndAppendsEvent(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	created := createTestTransfer(t, service, "t1", "ref-1")

	burnRequestId := "burn-req-1"
	updated, err := service.UpdateTransfer(context.Background(), created.Id, created.Version, store.TransferUpdate{
		State:         models.StateBurnPending,
		Detail:        "burn submitted to provider",
		BurnRequestId: &burnRequestId,
	})
	if err != nil {
		t.Fatalf("Failed to update transfer: %v", err)
	}

	if updated.State != models.StateBurnPending {
		t.Errorf("Expected BURN_PENDING, got %s", updated.State)
	}
	if updated.Version != created.Version+1 {
		t.Errorf("Expected version %d, got %d", created.Version+1, updated.Version)
	}
	if updated.BurnRequestId != burnRequestId {
		t.Errorf("Expected burn request id %s, got %s", burnRequestId, updated.BurnRequestId)
	}

	events, err := service.GetTransferEvents(context.Background(), created.Id)
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.FromState != models.StateInitiated || last.ToState != models.StateBurnPending {
		t.Errorf("Unexpected event transition: %s -> %s", last.FromState, last.ToState)
	}
}

func TestUpdateTransfer_StaleVersion(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	created := createTestTransfer(t, service, "t1", "ref-1")

	if _, err := service.UpdateTransfer(context.Background(), created.Id, created.Version, store.TransferUpdate{
		State: models.StateBurnPending,
	}); err != nil {
		t.Fatalf("First update failed: %v", err)
	}

	// Second writer still holds the old version.
	_, err := service.UpdateTransfer(context.Background(), created.Id, created.Version, store.TransferUpdate{
		State: models.StateCancelled,
	})
	if !errors.Is(err, store.ErrStaleVersion) {
		t.Errorf("Expected ErrStaleVersion, got %v", err)
	}

	current, err := service.GetTransfer(context.Background(), created.Id)
	if err != nil {
		t.Fatalf("Failed to re-read transfer: %v", err)
	}
	if current.State != models.StateBurnPending {
		t.Errorf("Stale write must not land, state is %s", current.State)
	}
}

func TestUpdateTransfer_NotFound(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := service.UpdateTransfer(context.Background(), "missing", 1, store.TransferUpdate{
		State: models.StateFailed,
	})
	if !errors.Is(err, store.ErrTransferNotFound) {
		t.Errorf("Expected ErrTransferNotFound, got %v", err)
	}
}

func TestUpdateTransfer_DetailOnlyKeepsState(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	created := createTestTransfer(t, service, "t1", "ref-1")

	stuck := true
	updated, err := service.UpdateTransfer(context.Background(), created.Id, created.Version, store.TransferUpdate{
		Detail: "exceeded stage SLA",
		Stuck:  &stuck,
	})
	if err != nil {
		t.Fatalf("Failed to update transfer: %v", err)
	}
	if updated.State != models.StateInitiated {
		t.Errorf("Detail-only update must not change state, got %s", updated.State)
	}
	if !updated.Stuck {
		t.Error("Expected stuck flag to be set")
	}

	events, _ := service.GetTransferEvents(context.Background(), created.Id)
	last := events[len(events)-1]
	if last.ToState != models.StateInitiated || last.Detail != "exceeded stage SLA" {
		t.Errorf("Unexpected annotation event: %+v", last)
	}
}

func TestListActiveTransfers(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	createTestTransfer(t, service, "t1", "ref-1")
	second := createTestTransfer(t, service, "t2", "ref-2")

	if _, err := service.UpdateTransfer(context.Background(), second.Id, second.Version, store.TransferUpdate{
		State: models.StateCancelled,
	}); err != nil {
		t.Fatalf("Failed to cancel transfer: %v", err)
	}

	active, err := service.ListActiveTransfers(context.Background())
	if err != nil {
		t.Fatalf("Failed to list active transfers: %v", err)
	}
	if len(active) != 1 || active[0].Id != "t1" {
		t.Errorf("Expected only t1 active, got %v", active)
	}
}

func TestListTransfers_Filters(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	createTestTransfer(t, service, "t1", "ref-alpha")
	createTestTransfer(t, service, "t2", "ref-beta")

	byQuery, err := service.ListTransfers(context.Background(), store.TransferFilter{Query: "alpha"})
	if err != nil {
		t.Fatalf("Failed to filter by query: %v", err)
	}
	if len(byQuery) != 1 || byQuery[0].Reference != "ref-alpha" {
		t.Errorf("Expected ref-alpha only, got %v", byQuery)
	}

	byState, err := service.ListTransfers(context.Background(), store.TransferFilter{State: models.StateInitiated})
	if err != nil {
		t.Fatalf("Failed to filter by state: %v", err)
	}
	if len(byState) != 2 {
		t.Errorf("Expected 2 INITIATED transfers, got %d", len(byState))
	}

	cutoff := time.Now().UTC().Add(time.Hour)
	byWindow, err := service.ListTransfers(context.Background(), store.TransferFilter{From: cutoff})
	if err != nil {
		t.Fatalf("Failed to filter by window: %v", err)
	}
	if len(byWindow) != 0 {
		t.Errorf("Expected no transfers after cutoff, got %d", len(byWindow))
	}
}
