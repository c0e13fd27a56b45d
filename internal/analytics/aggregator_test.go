package analytics

import (
	"context"
	"testing"
	"time"

	"cctp-bridge-go/internal/database"
	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

type staticGas map[string]string

func (g staticGas) GasPerTransfer(chain string) decimal.Decimal {
	if raw, ok := g[chain]; ok {
		return decimal.RequireFromString(raw)
	}
	return decimal.Zero
}

func setupAggregator(t *testing.T) (*Aggregator, *database.Service, func()) {
	db, err := database.NewMemoryService(context.Background())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	aggregator := NewAggregator(db, staticGas{"ethereum": "2.50", "base": "0.02"})
	return aggregator, db, db.Close
}

func seedTransfer(t *testing.T, db *database.Service, id string, state models.TransferState, feeTotal string, stuck bool) {
	created, err := db.CreateTransfer(context.Background(), store.CreateTransferParams{
		Id:                 id,
		Reference:          "ref-" + id,
		WalletId:           "wallet-1",
		SourceChain:        "ethereum",
		DestinationChain:   "base",
		DestinationAddress: "0xdest",
		Amount:             decimal.NewFromInt(100),
		SpeedTier:          models.TierStandard,
		FeeQuoted:          decimal.RequireFromString("1.5"),
	})
	if err != nil {
		t.Fatalf("Failed to seed transfer: %v", err)
	}

	if state == models.StateInitiated {
		return
	}
	fee := decimal.RequireFromString(feeTotal)
	update := store.TransferUpdate{State: state, FeeTotal: &fee}
	if stuck {
		flag := true
		update.Stuck = &flag
	}
	if _, err := db.UpdateTransfer(context.Background(), created.Id, created.Version, update); err != nil {
		t.Fatalf("Failed to move seeded transfer: %v", err)
	}
}

func TestRollup(t *testing.T) {
	aggregator, db, cleanup := setupAggregator(t)
	defer cleanup()

	seedTransfer(t, db, "t1", models.StateComplete, "2.00", false)
	seedTransfer(t, db, "t2", models.StateComplete, "1.50", false)
	seedTransfer(t, db, "t3", models.StateFailed, "0", false)
	seedTransfer(t, db, "t4", models.StateBurnPending, "0", true)
	seedTransfer(t, db, "t5", models.StateInitiated, "0", false)
	seedTransfer(t, db, "t6", models.StateCancelled, "0", false)

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	report, err := aggregator.Rollup(context.Background(), from, to, "")
	if err != nil {
		t.Fatalf("Failed to build rollup: %v", err)
	}

	if report.TotalCount != 6 {
		t.Errorf("Expected 6 transfers, got %d", report.TotalCount)
	}
	if report.CountsByState[models.StateComplete] != 2 {
		t.Errorf("Expected 2 COMPLETE, got %d", report.CountsByState[models.StateComplete])
	}
	if report.CountsByChain["ethereum"] != 6 || report.CountsByChain["base"] != 6 {
		t.Errorf("Unexpected chain counts: %v", report.CountsByChain)
	}

	// 2 completed against 1 failed; the cancelled transfer stays out of the rate.
	if !report.SuccessRate.Equal(decimal.RequireFromString("0.6667")) {
		t.Errorf("Expected success rate 0.6667, got %s", report.SuccessRate)
	}

	if !report.FeesCollected.Equal(decimal.RequireFromString("3.50")) {
		t.Errorf("Expected fees 3.50, got %s", report.FeesCollected)
	}
	// Two completed bridges burn gas on both legs: 2 * (2.50 + 0.02).
	if !report.GasEstimate.Equal(decimal.RequireFromString("5.04")) {
		t.Errorf("Expected gas estimate 5.04, got %s", report.GasEstimate)
	}
	if !report.NetProfit.Equal(decimal.RequireFromString("-1.54")) {
		t.Errorf("Expected net profit -1.54, got %s", report.NetProfit)
	}

	if report.StuckCount != 1 {
		t.Errorf("Expected 1 stuck transfer, got %d", report.StuckCount)
	}
}

func TestRollup_CancelledDoesNotLowerSuccessRate(t *testing.T) {
	aggregator, db, cleanup := setupAggregator(t)
	defer cleanup()

	seedTransfer(t, db, "t1", models.StateComplete, "1.50", false)
	seedTransfer(t, db, "t2", models.StateCancelled, "0", false)

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	report, err := aggregator.Rollup(context.Background(), from, to, "")
	if err != nil {
		t.Fatalf("Failed to build rollup: %v", err)
	}

	if !report.SuccessRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected success rate 1 with no failures, got %s", report.SuccessRate)
	}
}

func TestRollup_WindowExcludesOutside(t *testing.T) {
	aggregator, db, cleanup := setupAggregator(t)
	defer cleanup()

	seedTransfer(t, db, "t1", models.StateComplete, "2.00", false)

	from := time.Now().UTC().Add(time.Hour)
	to := from.Add(time.Hour)
	report, err := aggregator.Rollup(context.Background(), from, to, "")
	if err != nil {
		t.Fatalf("Failed to build rollup: %v", err)
	}
	if report.TotalCount != 0 {
		t.Errorf("Expected empty window, got %d transfers", report.TotalCount)
	}
	if !report.SuccessRate.IsZero() {
		t.Errorf("Expected zero success rate for empty window, got %s", report.SuccessRate)
	}
}

func TestRollup_ChainFilter(t *testing.T) {
	aggregator, db, cleanup := setupAggregator(t)
	defer cleanup()

	seedTransfer(t, db, "t1", models.StateComplete, "2.00", false)

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)

	report, err := aggregator.Rollup(context.Background(), from, to, "base")
	if err != nil {
		t.Fatalf("Failed to build filtered rollup: %v", err)
	}
	if report.TotalCount != 1 {
		t.Errorf("Expected the base-side transfer counted, got %d", report.TotalCount)
	}

	report, err = aggregator.Rollup(context.Background(), from, to, "solana")
	if err != nil {
		t.Fatalf("Failed to build filtered rollup: %v", err)
	}
	if report.TotalCount != 0 {
		t.Errorf("Expected no solana transfers, got %d", report.TotalCount)
	}
}
