package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func (s *Service) CreateTransfer(ctx context.Context, params store.CreateTransferParams) (*models.Transfer, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, queryInsertTransfer,
		params.Id,
		params.Reference,
		params.WalletId,
		params.SourceChain,
		params.DestinationChain,
		params.DestinationAddress,
		params.Amount.String(),
		string(params.SpeedTier),
		string(models.StateInitiated),
		params.FeeQuoted.String(),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateReference
		}
		return nil, fmt.Errorf("unable to insert transfer: %w", err)
	}

	if err := s.insertTransferEvent(ctx, s.db, params.Id, "", models.StateInitiated, "transfer accepted"); err != nil {
		return nil, err
	}

	return s.GetTransfer(ctx, params.Id)
}

func (s *Service) GetTransfer(ctx context.Context, id string) (*models.Transfer, error) {
	row := s.db.QueryRowContext(ctx, queryGetTransferById, id)
	return scanTransfer(row)
}

func (s *Service) GetTransferByReference(ctx context.Context, reference string) (*models.Transfer, error) {
	row := s.db.QueryRowContext(ctx, queryGetTransferByReference, reference)
	return scanTransfer(row)
}

func (s *Service) ListActiveTransfers(ctx context.Context) ([]models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, queryListActiveTransfers)
	if err != nil {
		return nil, fmt.Errorf("unable to list active transfers: %w", err)
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func (s *Service) ListTransfers(ctx context.Context, filter store.TransferFilter) ([]models.Transfer, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.SpeedTier != "" {
		conditions = append(conditions, "speed_tier = ?")
		args = append(args, string(filter.SpeedTier))
	}
	if filter.Chain != "" {
		conditions = append(conditions, "(source_chain = ? OR destination_chain = ?)")
		args = append(args, filter.Chain, filter.Chain)
	}
	if filter.Query != "" {
		conditions = append(conditions, "(reference LIKE ? OR wallet_id LIKE ? OR destination_address LIKE ?)")
		pattern := "%" + filter.Query + "%"
		args = append(args, pattern, pattern, pattern)
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "initiated_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "initiated_at < ?")
		args = append(args, filter.To.UTC())
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + transferColumns + " FROM transfers")
	if len(conditions) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	sb.WriteString(" ORDER BY initiated_at DESC, id DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to list transfers: %w", err)
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// UpdateTransfer applies a single state-machine write conditioned on the version
// the caller read. A version mismatch returns store.ErrStaleVersion without
// touching the row; callers re-read and re-derive the transition.
func (s *Service) UpdateTransfer(ctx context.Context, id string, version int64, update store.TransferUpdate) (*models.Transfer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fromState string
	err = tx.QueryRowContext(ctx, "SELECT state FROM transfers WHERE id = ?", id).Scan(&fromState)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read transfer state: %w", err)
	}

	sets := []string{"version = version + 1", "updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.State != "" {
		sets = append(sets, "state = ?")
		args = append(args, string(update.State))
	}
	appendSet := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if update.BurnRequestId != nil {
		appendSet("burn_request_id", *update.BurnRequestId)
	}
	if update.BurnHash != nil {
		appendSet("burn_hash", *update.BurnHash)
	}
	if update.AttestationHash != nil {
		appendSet("attestation_hash", *update.AttestationHash)
	}
	if update.MintRequestId != nil {
		appendSet("mint_request_id", *update.MintRequestId)
	}
	if update.MintHash != nil {
		appendSet("mint_hash", *update.MintHash)
	}
	if update.FeeTotal != nil {
		appendSet("fee_total", update.FeeTotal.String())
	}
	if update.FeeReview != nil {
		appendSet("fee_review", *update.FeeReview)
	}
	if update.ErrorCode != nil {
		appendSet("error_code", *update.ErrorCode)
	}
	if update.ErrorMessage != nil {
		appendSet("error_message", *update.ErrorMessage)
	}
	if update.Stuck != nil {
		appendSet("stuck", *update.Stuck)
	}
	if update.BurnConfirmedAt != nil {
		appendSet("burn_confirmed_at", update.BurnConfirmedAt.UTC())
	}
	if update.AttestationReceivedAt != nil {
		appendSet("attestation_received_at", update.AttestationReceivedAt.UTC())
	}
	if update.CompletedAt != nil {
		appendSet("completed_at", update.CompletedAt.UTC())
	}

	query := "UPDATE transfers SET " + strings.Join(sets, ", ") + " WHERE id = ? AND version = ?"
	args = append(args, id, version)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to update transfer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to check update result: %w", err)
	}
	if affected == 0 {
		return nil, store.ErrStaleVersion
	}

	if update.State != "" || update.Detail != "" {
		toState := update.State
		if toState == "" {
			toState = models.TransferState(fromState)
		}
		if err := s.insertTransferEvent(ctx, tx, id, models.TransferState(fromState), toState, update.Detail); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("unable to commit transfer update: %w", err)
	}

	return s.GetTransfer(ctx, id)
}

func (s *Service) GetTransferEvents(ctx context.Context, transferId string) ([]models.TransferEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTransferEvents, transferId)
	if err != nil {
		return nil, fmt.Errorf("unable to list transfer events: %w", err)
	}
	defer rows.Close()

	var events []models.TransferEvent
	for rows.Next() {
		var event models.TransferEvent
		if err := rows.Scan(&event.Id, &event.TransferId, &event.FromState, &event.ToState, &event.Detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan transfer event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Service) insertTransferEvent(ctx context.Context, db execer, transferId string, from, to models.TransferState, detail string) error {
	_, err := db.ExecContext(ctx, queryInsertTransferEvent,
		uuid.New().String(), transferId, string(from), string(to), detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("unable to insert transfer event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*models.Transfer, error) {
	var (
		transfer              models.Transfer
		amount                string
		feeQuoted             string
		feeTotal              string
		burnConfirmedAt       sql.NullTime
		attestationReceivedAt sql.NullTime
		completedAt           sql.NullTime
	)

	err := row.Scan(
		&transfer.Id, &transfer.Reference, &transfer.WalletId,
		&transfer.SourceChain, &transfer.DestinationChain, &transfer.DestinationAddress,
		&amount, &transfer.SpeedTier, &transfer.State,
		&transfer.BurnRequestId, &transfer.BurnHash, &transfer.AttestationHash,
		&transfer.MintRequestId, &transfer.MintHash,
		&feeQuoted, &feeTotal, &transfer.FeeReview,
		&transfer.ErrorCode, &transfer.ErrorMessage, &transfer.Stuck, &transfer.Version,
		&transfer.InitiatedAt, &burnConfirmedAt, &attestationReceivedAt, &completedAt, &transfer.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to scan transfer: %w", err)
	}

	if transfer.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	if transfer.FeeQuoted, err = decimal.NewFromString(feeQuoted); err != nil {
		return nil, fmt.Errorf("invalid stored quoted fee %q: %w", feeQuoted, err)
	}
	if transfer.FeeTotal, err = decimal.NewFromString(feeTotal); err != nil {
		return nil, fmt.Errorf("invalid stored total fee %q: %w", feeTotal, err)
	}
	if burnConfirmedAt.Valid {
		transfer.BurnConfirmedAt = burnConfirmedAt.Time
	}
	if attestationReceivedAt.Valid {
		transfer.AttestationReceivedAt = attestationReceivedAt.Time
	}
	if completedAt.Valid {
		transfer.CompletedAt = completedAt.Time
	}

	return &transfer, nil
}

func collectTransfers(rows *sql.Rows) ([]models.Transfer, error) {
	var transfers []models.Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
