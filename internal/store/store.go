package store

import (
	"context"
	"errors"
	"time"

	"cctp-bridge-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrTransactionNotFound  = errors.New("wallet transaction not found")
	ErrDuplicateReference   = errors.New("duplicate transfer reference")
	ErrDuplicateTransaction = errors.New("duplicate wallet transaction")
	ErrStaleVersion         = errors.New("transfer modified concurrently")
)

// CreateTransferParams contains the parameters for persisting a new transfer.
type CreateTransferParams struct {
	Id                 string
	Reference          string
	WalletId           string
	SourceChain        string
	DestinationChain   string
	DestinationAddress string
	Amount             decimal.Decimal
	SpeedTier          models.SpeedTier
	FeeQuoted          decimal.Decimal
}

// TransferUpdate carries the fields a single state-machine write may change.
// Nil pointers leave the stored value untouched.
type TransferUpdate struct {
	State  models.TransferState
	Detail string // event history annotation

	BurnRequestId   *string
	BurnHash        *string
	AttestationHash *string
	MintRequestId   *string
	MintHash        *string

	FeeTotal  *decimal.Decimal
	FeeReview *bool

	ErrorCode    *string
	ErrorMessage *string
	Stuck        *bool

	BurnConfirmedAt       *time.Time
	AttestationReceivedAt *time.Time
	CompletedAt           *time.Time
}

// TransferFilter narrows ListTransfers results.
type TransferFilter struct {
	State     models.TransferState
	SpeedTier models.SpeedTier
	Chain     string
	Query     string // matches reference, wallet id or destination address
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// RecordWalletTransactionParams contains the parameters for one append-only
// ledger insert including its component legs.
type RecordWalletTransactionParams struct {
	Id           string
	ProviderTxId string
	Reference    string
	WalletId     string
	Direction    models.Direction
	Kind         models.TransactionKind
	Chain        string
	State        models.LedgerTxState
	Legs         []LegParams
}

// LegParams is one component amount of a wallet transaction.
type LegParams struct {
	Amount decimal.Decimal
	Detail string
}

// TransferStore persists transfers and their append-only status history.
// UpdateTransfer is conditioned on the previously read version; a mismatch
// returns ErrStaleVersion and the caller must re-read and retry.
type TransferStore interface {
	CreateTransfer(ctx context.Context, params CreateTransferParams) (*models.Transfer, error)
	GetTransfer(ctx context.Context, id string) (*models.Transfer, error)
	GetTransferByReference(ctx context.Context, reference string) (*models.Transfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter) ([]models.Transfer, error)
	ListActiveTransfers(ctx context.Context) ([]models.Transfer, error)
	UpdateTransfer(ctx context.Context, id string, version int64, update TransferUpdate) (*models.Transfer, error)
	GetTransferEvents(ctx context.Context, transferId string) ([]models.TransferEvent, error)
}

// LedgerStore persists wallet transactions. Inserts are append-only; state
// changes append event rows and never mutate history.
type LedgerStore interface {
	RecordWalletTransaction(ctx context.Context, params RecordWalletTransactionParams) (*models.WalletTransaction, error)
	GetWalletTransaction(ctx context.Context, id string) (*models.WalletTransaction, error)
	GetWalletTransactionByProviderId(ctx context.Context, providerTxId string) (*models.WalletTransaction, error)
	ListWalletTransactions(ctx context.Context, walletId string, limit, offset int) ([]models.WalletTransaction, error)
	AppendWalletTransactionEvent(ctx context.Context, transactionId string, state models.LedgerTxState, providerState string) error
	GetWalletTransactionEvents(ctx context.Context, transactionId string) ([]models.WalletTransactionEvent, error)
	FoldWalletBalance(ctx context.Context, walletId string) (*models.WalletBalance, error)
}

// Store is the full persistence contract the sqlite backend satisfies.
type Store interface {
	TransferStore
	LedgerStore
	Close()
}
