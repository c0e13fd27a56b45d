package gateway

import (
	"context"
	"errors"
	"fmt"

	"cctp-bridge-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors for well-defined gateway verdicts.
var (
	// ErrNotYetAvailable means the attestation service has not produced a
	// verdict for the burn yet. Retried on the next poll cycle.
	ErrNotYetAvailable = errors.New("attestation not yet available")

	// ErrTooLate means the pending request can no longer be cancelled.
	ErrTooLate = errors.New("request can no longer be cancelled")

	// ErrUnsupported means the provider cannot expedite this request.
	ErrUnsupported = errors.New("acceleration not supported for this request")
)

// TimeoutError wraps transient failures (network timeouts, 5xx, open circuit
// breaker). The outcome of the underlying operation is unknown; callers retry
// on the next tick rather than assuming failure.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gateway timeout during %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout reports whether err represents a transient gateway failure.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// RejectedError is a definitive provider-side rejection (invalid address,
// insufficient provider balance, ...). Terminal for the affected transfer.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected request: %s (%s)", e.Message, e.Code)
}

// AsRejected unwraps a RejectedError if err carries one.
func AsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// SubmitBurnParams contains the parameters for requesting a burn.
type SubmitBurnParams struct {
	WalletId         string
	Amount           decimal.Decimal
	DestinationChain string
	IdempotencyKey   string
}

// SubmitMintParams contains the parameters for requesting a mint.
type SubmitMintParams struct {
	AttestationHash    string
	DestinationAddress string
	IdempotencyKey     string
}

// Gateway is the custodial wallet provider's API surface. The provider holds
// the keys and talks to the chains; this system only calls and observes.
// Implementations must be safe for concurrent use.
type Gateway interface {
	SubmitBurn(ctx context.Context, params SubmitBurnParams) (*models.BurnSubmission, error)
	GetBurnStatus(ctx context.Context, burnRequestId string) (*models.BurnStatus, error)
	GetAttestation(ctx context.Context, burnHash string) (*models.Attestation, error)
	SubmitMint(ctx context.Context, params SubmitMintParams) (*models.MintSubmission, error)
	GetMintStatus(ctx context.Context, mintRequestId string) (*models.MintStatus, error)
	CancelPending(ctx context.Context, requestId string) error
	AcceleratePending(ctx context.Context, requestId string) error
	GetFeeSchedule(ctx context.Context) (*models.FeeSchedule, error)
}
