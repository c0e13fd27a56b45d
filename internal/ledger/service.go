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

package ledger

import (
	"context"
	"errors"
	"fmt"

	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrUnknownProviderState means the provider reported a transaction state this
// service has no mapping for. The event is dropped and must be investigated.
var ErrUnknownProviderState = errors.New("unknown provider transaction state")

// providerStateMap translates provider transaction statuses into the local
// ledger vocabulary.
var providerStateMap = map[string]models.LedgerTxState{
	"TRANSACTION_CREATED":    models.LedgerTxPending,
	"TRANSACTION_REQUESTED":  models.LedgerTxPending,
	"TRANSACTION_APPROVED":   models.LedgerTxPending,
	"TRANSACTION_PROCESSING": models.LedgerTxPending,
	"TRANSACTION_PENDING":    models.LedgerTxPending,
	"TRANSACTION_DONE":       models.LedgerTxConfirmed,
	"TRANSACTION_COMPLETED":  models.LedgerTxConfirmed,
	"TRANSACTION_FAILED":     models.LedgerTxFailed,
	"TRANSACTION_REJECTED":   models.LedgerTxFailed,
	"TRANSACTION_CANCELLED":  models.LedgerTxCancelled,
}

// MapProviderState translates a provider transaction status into the local
// ledger vocabulary.
func MapProviderState(providerState string) (models.LedgerTxState, error) {
	state, ok := providerStateMap[providerState]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProviderState, providerState)
	}
	return state, nil
}

// Service maintains the append-only wallet transaction ledger. Every provider
// interaction that moves funds lands here exactly once; balances are always
// derived by folding, never cached.
type Service struct {
	store store.LedgerStore
}

func NewService(ledgerStore store.LedgerStore) *Service {
	return &Service{store: ledgerStore}
}

// RecordParams describes one wallet transaction to append.
type RecordParams struct {
	ProviderTxId string
	Reference    string
	WalletId     string
	Direction    models.Direction
	Kind         models.TransactionKind
	Chain        string
	State        models.LedgerTxState
	Legs         []store.LegParams
}

// Record appends a wallet transaction. Re-recording the same provider
// transaction id returns the existing row unchanged.
func (s *Service) Record(ctx context.Context, params RecordParams) (*models.WalletTransaction, error) {
	transaction, err := s.store.RecordWalletTransaction(ctx, store.RecordWalletTransactionParams{
		Id:           uuid.New().String(),
		ProviderTxId: params.ProviderTxId,
		Reference:    params.Reference,
		WalletId:     params.WalletId,
		Direction:    params.Direction,
		Kind:         params.Kind,
		Chain:        params.Chain,
		State:        params.State,
		Legs:         params.Legs,
	})
	if errors.Is(err, store.ErrDuplicateTransaction) {
		return s.store.GetWalletTransactionByProviderId(ctx, params.ProviderTxId)
	}
	if err != nil {
		return nil, err
	}
	return transaction, nil
}

// RecordBridgeCompletion writes the ledger entry for a finished bridge: an
// outbound transaction against the source wallet with a principal leg and a
// provider fee leg. Keyed on the mint request id so completion replays are
// no-ops.
func (s *Service) RecordBridgeCompletion(ctx context.Context, transfer *models.Transfer) (*models.WalletTransaction, error) {
	legs := []store.LegParams{
		{Amount: transfer.Amount, Detail: "bridge principal"},
	}
	if transfer.FeeTotal.GreaterThan(decimal.Zero) {
		legs = append(legs, store.LegParams{Amount: transfer.FeeTotal, Detail: "provider fee"})
	}

	transaction, err := s.Record(ctx, RecordParams{
		ProviderTxId: transfer.MintRequestId,
		Reference:    transfer.Reference,
		WalletId:     transfer.WalletId,
		Direction:    models.DirectionOutbound,
		Kind:         models.KindBridge,
		Chain:        transfer.SourceChain,
		State:        models.LedgerTxConfirmed,
		Legs:         legs,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to record bridge completion: %w", err)
	}

	zap.L().Info("Recorded bridge completion in ledger",
		zap.String("transferId", transfer.Id),
		zap.String("transactionId", transaction.Id),
		zap.String("amount", transfer.Amount.String()),
		zap.String("fee", transfer.FeeTotal.String()))
	return transaction, nil
}

// ReconcileProviderState folds a provider-reported status into the audit trail.
// Unchanged states are skipped so repeated polling stays quiet.
func (s *Service) ReconcileProviderState(ctx context.Context, providerTxId, providerState string) error {
	state, err := MapProviderState(providerState)
	if err != nil {
		return err
	}

	transaction, err := s.store.GetWalletTransactionByProviderId(ctx, providerTxId)
	if err != nil {
		return err
	}
	if transaction.State == state {
		return nil
	}

	if err := s.store.AppendWalletTransactionEvent(ctx, transaction.Id, state, providerState); err != nil {
		return err
	}

	zap.L().Info("Reconciled wallet transaction state",
		zap.String("transactionId", transaction.Id),
		zap.String("from", string(transaction.State)),
		zap.String("to", string(state)),
		zap.String("providerState", providerState))
	return nil
}

// GetBalance folds the wallet's ledger into available and pending totals.
func (s *Service) GetBalance(ctx context.Context, walletId string) (*models.WalletBalance, error) {
	return s.store.FoldWalletBalance(ctx, walletId)
}

// History lists the wallet's transactions, newest first.
func (s *Service) History(ctx context.Context, walletId string, limit, offset int) ([]models.WalletTransaction, error) {
	return s.store.ListWalletTransactions(ctx, walletId, limit, offset)
}

// GetTransaction fetches one ledger row with its legs.
func (s *Service) GetTransaction(ctx context.Context, id string) (*models.WalletTransaction, error) {
	return s.store.GetWalletTransaction(ctx, id)
}

// GetTransactionByProviderId fetches one ledger row by the provider's id.
func (s *Service) GetTransactionByProviderId(ctx context.Context, providerTxId string) (*models.WalletTransaction, error) {
	return s.store.GetWalletTransactionByProviderId(ctx, providerTxId)
}

// GetTransactionEvents returns the audit trail for one transaction.
func (s *Service) GetTransactionEvents(ctx context.Context, transactionId string) ([]models.WalletTransactionEvent, error) {
	return s.store.GetWalletTransactionEvents(ctx, transactionId)
}
