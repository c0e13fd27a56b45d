/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package fees

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cctp-bridge-go/internal/gateway"
	"cctp-bridge-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrRouteUnavailable means the provider publishes no fee entry for the
	// requested chain pair.
	ErrRouteUnavailable = errors.New("no fee schedule entry for route")

	// ErrAmountOverTierLimit means the amount exceeds the maximum allowed for
	// the requested speed tier.
	ErrAmountOverTierLimit = errors.New("amount exceeds speed tier limit")
)

var oneHundred = decimal.NewFromInt(100)

// Estimator quotes transfer fees from the provider's published schedule plus a
// configured percentage markup. The schedule is cached with a short TTL so a
// burst of quotes does not hammer the provider; a stale copy is served when the
// refresh fails.
type Estimator struct {
	gateway gateway.Gateway
	cfg     models.FeeConfig

	mu       sync.RWMutex
	schedule *models.FeeSchedule
}

func NewEstimator(gw gateway.Gateway, cfg models.FeeConfig) *Estimator {
	return &Estimator{gateway: gw, cfg: cfg}
}

// Estimate produces a quote for moving amount from source to destination at the
// given tier. The quoted total is what Initiate stamps on the transfer.
func (e *Estimator) Estimate(ctx context.Context, source, destination string, amount decimal.Decimal, tier models.SpeedTier) (*models.FeeQuote, error) {
	if err := e.CheckTierLimit(amount, tier); err != nil {
		return nil, err
	}

	schedule, err := e.currentSchedule(ctx)
	if err != nil {
		return nil, err
	}

	entry, ok := schedule.Route(source, destination)
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrRouteUnavailable, source, destination)
	}

	baseFee := entry.BaseFee.Add(amount.Mul(e.cfg.MarkupPercent).Div(oneHundred))
	premium := decimal.Zero
	estimatedSeconds := entry.StandardSeconds
	if tier == models.TierFast {
		premium = entry.FastPremium
		estimatedSeconds = entry.FastSeconds
	}

	return &models.FeeQuote{
		BaseFee:          baseFee,
		SpeedPremium:     premium,
		TotalFee:         baseFee.Add(premium),
		EstimatedSeconds: estimatedSeconds,
	}, nil
}

// CheckTierLimit enforces the per-tier amount ceilings.
func (e *Estimator) CheckTierLimit(amount decimal.Decimal, tier models.SpeedTier) error {
	limit := e.cfg.MaxStandardAmount
	if tier == models.TierFast {
		limit = e.cfg.MaxFastAmount
	}
	if amount.GreaterThan(limit) {
		return fmt.Errorf("%w: %s > %s for %s", ErrAmountOverTierLimit, amount, limit, tier)
	}
	return nil
}

// Tolerance is the maximum accepted divergence between the quoted fee and what
// the provider actually charged before a transfer is flagged for review.
func (e *Estimator) Tolerance() decimal.Decimal {
	return e.cfg.FeeTolerance
}

func (e *Estimator) currentSchedule(ctx context.Context) (*models.FeeSchedule, error) {
	e.mu.RLock()
	cached := e.schedule
	e.mu.RUnlock()

	if cached != nil && time.Since(cached.FetchedAt) < e.cfg.ScheduleTTL {
		return cached, nil
	}

	fresh, err := e.gateway.GetFeeSchedule(ctx)
	if err != nil {
		if cached != nil {
			zap.L().Warn("Fee schedule refresh failed, serving stale copy",
				zap.Error(err),
				zap.Time("fetchedAt", cached.FetchedAt))
			return cached, nil
		}
		return nil, fmt.Errorf("unable to fetch fee schedule: %w", err)
	}
	if fresh.FetchedAt.IsZero() {
		fresh.FetchedAt = time.Now().UTC()
	}

	e.mu.Lock()
	e.schedule = fresh
	e.mu.Unlock()
	return fresh, nil
}
