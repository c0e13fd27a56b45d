package fees

import (
	"context"
	"errors"
	"testing"
	"time"

	"cctp-bridge-go/internal/gateway"
	"cctp-bridge-go/internal/models"

	"github.com/shopspring/decimal"
)

func testFeeConfig() models.FeeConfig {
	return models.FeeConfig{
		ScheduleTTL:       time.Minute,
		MarkupPercent:     decimal.RequireFromString("0.1"),
		MaxFastAmount:     decimal.RequireFromString("25000"),
		MaxStandardAmount: decimal.RequireFromString("1000000"),
		FeeTolerance:      decimal.RequireFromString("0.01"),
	}
}

func TestEstimate_StandardTier(t *testing.T) {
	fake := gateway.NewFake()
	estimator := NewEstimator(fake, testFeeConfig())

	quote, err := estimator.Estimate(context.Background(), "ethereum", "base",
		decimal.RequireFromString("1000"), models.TierStandard)
	if err != nil {
		t.Fatalf("Failed to estimate: %v", err)
	}

	// base 0.50 + 1000 * 0.1% = 1.50, no premium on STANDARD.
	if !quote.BaseFee.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected base fee 1.5, got %s", quote.BaseFee)
	}
	if !quote.SpeedPremium.IsZero() {
		t.Errorf("Expected zero premium, got %s", quote.SpeedPremium)
	}
	if !quote.TotalFee.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected total 1.5, got %s", quote.TotalFee)
	}
	if quote.EstimatedSeconds != 900 {
		t.Errorf("Expected 900 seconds, got %d", quote.EstimatedSeconds)
	}
}

func TestEstimate_FastTierAddsPremium(t *testing.T) {
	fake := gateway.NewFake()
	estimator := NewEstimator(fake, testFeeConfig())

	quote, err := estimator.Estimate(context.Background(), "ethereum", "base",
		decimal.RequireFromString("1000"), models.TierFast)
	if err != nil {
		t.Fatalf("Failed to estimate: %v", err)
	}

	if !quote.SpeedPremium.Equal(decimal.RequireFromString("1.25")) {
		t.Errorf("Expected premium 1.25, got %s", quote.SpeedPremium)
	}
	if !quote.TotalFee.Equal(decimal.RequireFromString("2.75")) {
		t.Errorf("Expected total 2.75, got %s", quote.TotalFee)
	}
	if quote.EstimatedSeconds != 60 {
		t.Errorf("Expected 60 seconds, got %d", quote.EstimatedSeconds)
	}
}

func TestEstimate_UnknownRoute(t *testing.T) {
	fake := gateway.NewFake()
	estimator := NewEstimator(fake, testFeeConfig())

	_, err := estimator.Estimate(context.Background(), "ethereum", "solana",
		decimal.NewFromInt(10), models.TierStandard)
	if !errors.Is(err, ErrRouteUnavailable) {
		t.Errorf("Expected ErrRouteUnavailable, got %v", err)
	}
}

func TestEstimate_TierLimits(t *testing.T) {
	fake := gateway.NewFake()
	estimator := NewEstimator(fake, testFeeConfig())

	_, err := estimator.Estimate(context.Background(), "ethereum", "base",
		decimal.RequireFromString("25000.01"), models.TierFast)
	if !errors.Is(err, ErrAmountOverTierLimit) {
		t.Errorf("Expected ErrAmountOverTierLimit for FAST, got %v", err)
	}

	// The same amount is fine on STANDARD.
	if _, err := estimator.Estimate(context.Background(), "ethereum", "base",
		decimal.RequireFromString("25000.01"), models.TierStandard); err != nil {
		t.Errorf("Expected STANDARD to accept the amount, got %v", err)
	}
}

func TestEstimate_ScheduleCached(t *testing.T) {
	fake := gateway.NewFake()
	estimator := NewEstimator(fake, testFeeConfig())

	for i := 0; i < 3; i++ {
		if _, err := estimator.Estimate(context.Background(), "ethereum", "base",
			decimal.NewFromInt(10), models.TierStandard); err != nil {
			t.Fatalf("Estimate %d failed: %v", i, err)
		}
	}

	fetches := 0
	for _, call := range fake.Calls {
		if call == "GetFeeSchedule" {
			fetches++
		}
	}
	if fetches != 1 {
		t.Errorf("Expected a single schedule fetch within TTL, got %d", fetches)
	}
}

func TestEstimate_ServesStaleScheduleOnRefreshFailure(t *testing.T) {
	fake := gateway.NewFake()
	cfg := testFeeConfig()
	cfg.ScheduleTTL = 0 // every call wants a refresh
	estimator := NewEstimator(fake, cfg)

	if _, err := estimator.Estimate(context.Background(), "ethereum", "base",
		decimal.NewFromInt(10), models.TierStandard); err != nil {
		t.Fatalf("Initial estimate failed: %v", err)
	}

	fake.FailWith("GetFeeSchedule", &gateway.TimeoutError{Op: "GetFeeSchedule", Err: errors.New("boom")})

	if _, err := estimator.Estimate(context.Background(), "ethereum", "base",
		decimal.NewFromInt(10), models.TierStandard); err != nil {
		t.Errorf("Expected stale schedule to serve the quote, got %v", err)
	}
}

func TestEstimate_NoScheduleAndFetchFails(t *testing.T) {
	fake := gateway.NewFake()
	fake.FailWith("GetFeeSchedule", &gateway.TimeoutError{Op: "GetFeeSchedule", Err: errors.New("boom")})
	estimator := NewEstimator(fake, testFeeConfig())

	if _, err := estimator.Estimate(context.Background(), "ethereum", "base",
		decimal.NewFromInt(10), models.TierStandard); err == nil {
		t.Error("Expected error when no schedule was ever fetched")
	}
}
