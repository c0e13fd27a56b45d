package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (s *Service) RecordWalletTransaction(ctx context.Context, params store.RecordWalletTransactionParams) (*models.WalletTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, queryInsertWalletTransaction,
		params.Id,
		params.ProviderTxId,
		params.Reference,
		params.WalletId,
		string(params.Direction),
		string(params.Kind),
		params.Chain,
		string(params.State),
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("unable to insert wallet transaction: %w", err)
	}

	for _, leg := range params.Legs {
		_, err = tx.ExecContext(ctx, queryInsertTransactionLeg,
			uuid.New().String(), params.Id, leg.Amount.String(), leg.Detail, now)
		if err != nil {
			return nil, fmt.Errorf("unable to insert transaction leg: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, queryInsertTransactionEvent,
		uuid.New().String(), params.Id, string(params.State), "", now)
	if err != nil {
		return nil, fmt.Errorf("unable to insert transaction event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("unable to commit wallet transaction: %w", err)
	}

	return s.GetWalletTransaction(ctx, params.Id)
}

func (s *Service) GetWalletTransaction(ctx context.Context, id string) (*models.WalletTransaction, error) {
	row := s.db.QueryRowContext(ctx, queryGetWalletTransactionById, id)
	return s.scanWalletTransaction(ctx, row)
}

func (s *Service) GetWalletTransactionByProviderId(ctx context.Context, providerTxId string) (*models.WalletTransaction, error) {
	row := s.db.QueryRowContext(ctx, queryGetWalletTransactionByProviderId, providerTxId)
	return s.scanWalletTransaction(ctx, row)
}

func (s *Service) ListWalletTransactions(ctx context.Context, walletId string, limit, offset int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, queryListWalletTransactions, walletId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallet transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.WalletTransaction
	for rows.Next() {
		transaction, err := scanWalletTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range transactions {
		legs, err := s.getTransactionLegs(ctx, transactions[i].Id)
		if err != nil {
			return nil, err
		}
		transactions[i].Legs = legs
	}
	return transactions, nil
}

// AppendWalletTransactionEvent records a provider-reported state in the audit
// trail and moves the current-state pointer. History rows are never touched.
func (s *Service) AppendWalletTransactionEvent(ctx context.Context, transactionId string, state models.LedgerTxState, providerState string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertTransactionEvent,
		uuid.New().String(), transactionId, string(state), providerState, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("unable to insert transaction event: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateTransactionState, string(state), transactionId)
	if err != nil {
		return fmt.Errorf("unable to update transaction state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("wallet transaction %s not found", transactionId)
	}

	return tx.Commit()
}

func (s *Service) GetWalletTransactionEvents(ctx context.Context, transactionId string) ([]models.WalletTransactionEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTransactionEvents, transactionId)
	if err != nil {
		return nil, fmt.Errorf("unable to list transaction events: %w", err)
	}
	defer rows.Close()

	var events []models.WalletTransactionEvent
	for rows.Next() {
		var event models.WalletTransactionEvent
		if err := rows.Scan(&event.Id, &event.TransactionId, &event.State, &event.ProviderState, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan transaction event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// FoldWalletBalance derives the wallet's balance from the ledger on every call.
// Confirmed inbound adds, confirmed outbound subtracts; pending rows accumulate
// separately and failed or cancelled rows contribute nothing.
func (s *Service) FoldWalletBalance(ctx context.Context, walletId string) (*models.WalletBalance, error) {
	rows, err := s.db.QueryContext(ctx, queryListLegsForBalance, walletId)
	if err != nil {
		return nil, fmt.Errorf("unable to fold wallet balance: %w", err)
	}
	defer rows.Close()

	available := decimal.Zero
	pending := decimal.Zero
	for rows.Next() {
		var (
			direction string
			state     string
			rawAmount string
		)
		if err := rows.Scan(&direction, &state, &rawAmount); err != nil {
			return nil, fmt.Errorf("unable to scan balance leg: %w", err)
		}
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid stored leg amount %q: %w", rawAmount, err)
		}
		if models.Direction(direction) == models.DirectionOutbound {
			amount = amount.Neg()
		}
		switch models.LedgerTxState(state) {
		case models.LedgerTxConfirmed:
			available = available.Add(amount)
		case models.LedgerTxPending:
			pending = pending.Add(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.WalletBalance{WalletId: walletId, Available: available, Pending: pending}, nil
}

func (s *Service) scanWalletTransaction(ctx context.Context, row rowScanner) (*models.WalletTransaction, error) {
	transaction, err := scanWalletTransactionRow(row)
	if err != nil {
		return nil, err
	}
	legs, err := s.getTransactionLegs(ctx, transaction.Id)
	if err != nil {
		return nil, err
	}
	transaction.Legs = legs
	return transaction, nil
}

func scanWalletTransactionRow(row rowScanner) (*models.WalletTransaction, error) {
	var transaction models.WalletTransaction
	err := row.Scan(
		&transaction.Id, &transaction.ProviderTxId, &transaction.Reference, &transaction.WalletId,
		&transaction.Direction, &transaction.Kind, &transaction.Chain, &transaction.State, &transaction.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to scan wallet transaction: %w", err)
	}
	return &transaction, nil
}

func (s *Service) getTransactionLegs(ctx context.Context, transactionId string) ([]models.TransactionLeg, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTransactionLegs, transactionId)
	if err != nil {
		return nil, fmt.Errorf("unable to list transaction legs: %w", err)
	}
	defer rows.Close()

	var legs []models.TransactionLeg
	for rows.Next() {
		var (
			leg       models.TransactionLeg
			rawAmount string
		)
		if err := rows.Scan(&leg.Id, &leg.TransactionId, &rawAmount, &leg.Detail, &leg.CreatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan transaction leg: %w", err)
		}
		if leg.Amount, err = decimal.NewFromString(rawAmount); err != nil {
			return nil, fmt.Errorf("invalid stored leg amount %q: %w", rawAmount, err)
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}
