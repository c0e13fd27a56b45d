package analytics

import (
	"context"
	"time"

	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"

	"github.com/shopspring/decimal"
)

const rollupPageSize = 500

// GasModel prices the gas a bridge consumes on a given chain. The provider
// pays gas out of the collected fee, so profitability needs an estimate even
// though the exact amount never appears on our side of the API.
type GasModel interface {
	GasPerTransfer(chain string) decimal.Decimal
}

// Report is one aggregation window over the transfer history.
type Report struct {
	From time.Time
	To   time.Time

	TotalCount    int
	CountsByState map[models.TransferState]int
	CountsByChain map[string]int
	CountsByTier  map[models.SpeedTier]int

	// SuccessRate is completed / (completed + failed), 0 when nothing finished
	// yet. Cancelled transfers never moved funds and do not count against it.
	SuccessRate decimal.Decimal

	FeesCollected decimal.Decimal
	GasEstimate   decimal.Decimal
	NetProfit     decimal.Decimal

	FeeReviewCount int
	StuckCount     int
}

// Aggregator folds transfer history into operator-facing rollups.
type Aggregator struct {
	store store.TransferStore
	gas   GasModel
}

func NewAggregator(transferStore store.TransferStore, gas GasModel) *Aggregator {
	return &Aggregator{store: transferStore, gas: gas}
}

// Rollup aggregates all transfers initiated in [from, to), optionally filtered
// to one chain (matching either side of the route).
func (a *Aggregator) Rollup(ctx context.Context, from, to time.Time, chain string) (*Report, error) {
	report := &Report{
		From:          from,
		To:            to,
		CountsByState: make(map[models.TransferState]int),
		CountsByChain: make(map[string]int),
		CountsByTier:  make(map[models.SpeedTier]int),
		SuccessRate:   decimal.Zero,
		FeesCollected: decimal.Zero,
		GasEstimate:   decimal.Zero,
		NetProfit:     decimal.Zero,
	}

	completed := 0
	failed := 0

	for offset := 0; ; offset += rollupPageSize {
		page, err := a.store.ListTransfers(ctx, store.TransferFilter{
			Chain:  chain,
			From:   from,
			To:     to,
			Limit:  rollupPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}

		for i := range page {
			a.fold(report, &page[i], &completed, &failed)
		}

		if len(page) < rollupPageSize {
			break
		}
	}

	if completed+failed > 0 {
		report.SuccessRate = decimal.NewFromInt(int64(completed)).
			Div(decimal.NewFromInt(int64(completed + failed))).
			Round(4)
	}
	report.NetProfit = report.FeesCollected.Sub(report.GasEstimate)
	return report, nil
}

func (a *Aggregator) fold(report *Report, t *models.Transfer, completed, failed *int) {
	report.TotalCount++
	report.CountsByState[t.State]++
	report.CountsByChain[t.SourceChain]++
	report.CountsByChain[t.DestinationChain]++
	report.CountsByTier[t.SpeedTier]++

	if t.Stuck {
		report.StuckCount++
	}
	if t.FeeReview {
		report.FeeReviewCount++
	}

	if t.State == models.StateFailed {
		*failed++
	}
	if t.State == models.StateComplete {
		*completed++
		report.FeesCollected = report.FeesCollected.Add(t.FeeTotal)
		// A bridge burns gas on both sides; the provider charges it against
		// the fee we collected.
		report.GasEstimate = report.GasEstimate.
			Add(a.gas.GasPerTransfer(t.SourceChain)).
			Add(a.gas.GasPerTransfer(t.DestinationChain))
	}
}
