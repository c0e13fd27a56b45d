package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferState is the lifecycle state of a cross-chain transfer.
type TransferState string

const (
	StateInitiated           TransferState = "INITIATED"
	StateBurnPending         TransferState = "BURN_PENDING"
	StateBurnComplete        TransferState = "BURN_COMPLETE"
	StateAttestationPending  TransferState = "ATTESTATION_PENDING"
	StateAttestationComplete TransferState = "ATTESTATION_COMPLETE"
	StateMintPending         TransferState = "MINT_PENDING"
	StateComplete            TransferState = "COMPLETE"
	StateFailed              TransferState = "FAILED"
	StateCancelled           TransferState = "CANCELLED"
)

// stateRanks orders the forward path of the lifecycle. Terminal states sit past
// every pipeline stage so rank comparisons reject anything arriving after them.
var stateRanks = map[TransferState]int{
	StateInitiated:           0,
	StateBurnPending:         1,
	StateBurnComplete:        2,
	StateAttestationPending:  3,
	StateAttestationComplete: 4,
	StateMintPending:         5,
	StateComplete:            6,
	StateFailed:              6,
	StateCancelled:           6,
}

// Rank returns the forward-ordering position of the state, or -1 for unknown states.
func (s TransferState) Rank() int {
	if r, ok := stateRanks[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether the state ends the lifecycle.
func (s TransferState) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known transfer state.
func (s TransferState) Valid() bool {
	_, ok := stateRanks[s]
	return ok
}

// SpeedTier selects how quickly the provider settles each stage.
type SpeedTier string

const (
	TierFast     SpeedTier = "FAST"
	TierStandard SpeedTier = "STANDARD"
)

// Valid reports whether t is a known speed tier.
func (t SpeedTier) Valid() bool {
	return t == TierFast || t == TierStandard
}

// Transfer is the unit of cross-chain work. State is only ever mutated by the
// transfer state machine; everything else observes.
type Transfer struct {
	Id        string `db:"id"`
	Reference string `db:"reference"`
	WalletId  string `db:"wallet_id"`

	SourceChain        string          `db:"source_chain"`
	DestinationChain   string          `db:"destination_chain"`
	DestinationAddress string          `db:"destination_address"`
	Amount             decimal.Decimal `db:"amount"`
	SpeedTier          SpeedTier       `db:"speed_tier"`

	State         TransferState `db:"state"`
	BurnRequestId string        `db:"burn_request_id"`
	BurnHash      string        `db:"burn_hash"`
	AttestationHash string      `db:"attestation_hash"`
	MintRequestId string        `db:"mint_request_id"`
	MintHash      string        `db:"mint_hash"`

	FeeQuoted decimal.Decimal `db:"fee_quoted"`
	FeeTotal  decimal.Decimal `db:"fee_total"`
	FeeReview bool            `db:"fee_review"`

	ErrorCode    string `db:"error_code"`
	ErrorMessage string `db:"error_message"`
	Stuck        bool   `db:"stuck"`

	Version int64 `db:"version"`

	InitiatedAt           time.Time `db:"initiated_at"`
	BurnConfirmedAt       time.Time `db:"burn_confirmed_at"`
	AttestationReceivedAt time.Time `db:"attestation_received_at"`
	CompletedAt           time.Time `db:"completed_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

// TransferEvent is one row of the append-only transfer status history.
type TransferEvent struct {
	Id         string        `db:"id"`
	TransferId string        `db:"transfer_id"`
	FromState  TransferState `db:"from_state"`
	ToState    TransferState `db:"to_state"`
	Detail     string        `db:"detail"`
	CreatedAt  time.Time     `db:"created_at"`
}

// Direction of a wallet transaction relative to the wallet.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// TransactionKind distinguishes same-chain sends from CCTP bridge legs.
type TransactionKind string

const (
	KindDirectSend TransactionKind = "DIRECT_SEND"
	KindBridge     TransactionKind = "BRIDGE"
)

// LedgerTxState is the local view of a provider-reported transaction state.
type LedgerTxState string

const (
	LedgerTxPending   LedgerTxState = "PENDING"
	LedgerTxConfirmed LedgerTxState = "CONFIRMED"
	LedgerTxFailed    LedgerTxState = "FAILED"
	LedgerTxCancelled LedgerTxState = "CANCELLED"
)

// WalletTransaction is a ledger-facing record. Rows are append-only; state
// corrections arrive as new WalletTransactionEvent rows, never as mutation.
type WalletTransaction struct {
	Id           string          `db:"id"`
	ProviderTxId string          `db:"provider_tx_id"`
	Reference    string          `db:"reference"`
	WalletId     string          `db:"wallet_id"`
	Direction    Direction       `db:"direction"`
	Kind         TransactionKind `db:"kind"`
	Chain        string          `db:"chain"`
	State        LedgerTxState   `db:"state"`
	Legs         []TransactionLeg
	CreatedAt    time.Time `db:"created_at"`
}

// Total sums the component amounts of the transaction.
func (t *WalletTransaction) Total() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range t.Legs {
		total = total.Add(leg.Amount)
	}
	return total
}

// TransactionLeg is one component amount of a wallet transaction. A single
// logical transaction may aggregate several provider-side transfers.
type TransactionLeg struct {
	Id            string          `db:"id"`
	TransactionId string          `db:"transaction_id"`
	Amount        decimal.Decimal `db:"amount"`
	Detail        string          `db:"detail"`
	CreatedAt     time.Time       `db:"created_at"`
}

// WalletTransactionEvent records one provider-reported state in the audit trail.
type WalletTransactionEvent struct {
	Id            string        `db:"id"`
	TransactionId string        `db:"transaction_id"`
	State         LedgerTxState `db:"state"`
	ProviderState string        `db:"provider_state"`
	CreatedAt     time.Time     `db:"created_at"`
}

// WalletBalance is derived by folding ledger entries, never cached.
type WalletBalance struct {
	WalletId  string
	Available decimal.Decimal
	Pending   decimal.Decimal
}

// FeeQuote is the ephemeral result of a fee estimation. It is not persisted
// beyond the quoted total stamped on the transfer it seeded.
type FeeQuote struct {
	BaseFee          decimal.Decimal
	SpeedPremium     decimal.Decimal
	TotalFee         decimal.Decimal
	EstimatedSeconds int
}
