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

package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cctp-bridge-go/internal/fees"
	"cctp-bridge-go/internal/gateway"
	"cctp-bridge-go/internal/ledger"
	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrInvalidRoute means the chain pair is not supported or source equals
	// destination.
	ErrInvalidRoute = errors.New("unsupported transfer route")

	// ErrInvalidAmount means the amount is zero, negative, or over the tier
	// limit.
	ErrInvalidAmount = errors.New("invalid transfer amount")

	// ErrCancelWindowClosed means the burn already confirmed on chain, so the
	// transfer can no longer be cancelled.
	ErrCancelWindowClosed = errors.New("cancel window closed")

	// ErrNotAccelerable means the transfer has no pending provider request to
	// expedite.
	ErrNotAccelerable = errors.New("transfer has no pending request to accelerate")

	// ErrTerminal means the requested operation targets a finished transfer.
	ErrTerminal = errors.New("transfer already terminal")
)

// Error codes stamped on failed transfers.
const (
	codeProviderRejected  = "PROVIDER_REJECTED"
	codeProtocolViolation = "PROTOCOL_VIOLATION"
)

const versionRetries = 3

// Chains reports which chains the deployment is configured to bridge between.
type Chains interface {
	Supported(name string) bool
}

// InitiateParams describes one requested cross-chain transfer.
type InitiateParams struct {
	Reference          string
	WalletId           string
	SourceChain        string
	DestinationChain   string
	DestinationAddress string
	Amount             decimal.Decimal
	SpeedTier          models.SpeedTier
}

// Machine owns every transfer state transition. All writes go through
// version-conditioned updates; a concurrent writer forces a re-read and the
// transition is re-derived against the fresh row.
type Machine struct {
	store   store.TransferStore
	ledger  *ledger.Service
	gateway gateway.Gateway
	fees    *fees.Estimator
	chains  Chains
}

func NewMachine(transferStore store.TransferStore, ledgerService *ledger.Service, gw gateway.Gateway, estimator *fees.Estimator, chains Chains) *Machine {
	return &Machine{
		store:   transferStore,
		ledger:  ledgerService,
		gateway: gw,
		fees:    estimator,
		chains:  chains,
	}
}

// Initiate validates and persists a new transfer in INITIATED. The burn is
// submitted asynchronously on the next poll cycle, never inline, so a
// read-after-initiate always observes INITIATED. Re-initiating an existing
// reference with identical parameters returns the existing transfer.
func (m *Machine) Initiate(ctx context.Context, params InitiateParams) (*models.Transfer, error) {
	if params.Reference == "" {
		return nil, fmt.Errorf("%w: reference cannot be empty", ErrInvalidAmount)
	}
	if params.SourceChain == params.DestinationChain {
		return nil, fmt.Errorf("%w: source and destination are both %s", ErrInvalidRoute, params.SourceChain)
	}
	if !m.chains.Supported(params.SourceChain) {
		return nil, fmt.Errorf("%w: unknown source chain %s", ErrInvalidRoute, params.SourceChain)
	}
	if !m.chains.Supported(params.DestinationChain) {
		return nil, fmt.Errorf("%w: unknown destination chain %s", ErrInvalidRoute, params.DestinationChain)
	}
	if params.DestinationAddress == "" {
		return nil, fmt.Errorf("%w: destination address cannot be empty", ErrInvalidRoute)
	}
	if !params.Amount.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, params.Amount)
	}
	if !params.SpeedTier.Valid() {
		return nil, fmt.Errorf("%w: unknown speed tier %q", ErrInvalidAmount, params.SpeedTier)
	}
	if err := m.fees.CheckTierLimit(params.Amount, params.SpeedTier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if existing, err := m.store.GetTransferByReference(ctx, params.Reference); err == nil {
		return m.matchExisting(existing, params)
	} else if !errors.Is(err, store.ErrTransferNotFound) {
		return nil, err
	}

	quote, err := m.fees.Estimate(ctx, params.SourceChain, params.DestinationChain, params.Amount, params.SpeedTier)
	if err != nil {
		if errors.Is(err, fees.ErrRouteUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
		}
		return nil, err
	}

	created, err := m.store.CreateTransfer(ctx, store.CreateTransferParams{
		Id:                 uuid.New().String(),
		Reference:          params.Reference,
		WalletId:           params.WalletId,
		SourceChain:        params.SourceChain,
		DestinationChain:   params.DestinationChain,
		DestinationAddress: params.DestinationAddress,
		Amount:             params.Amount,
		SpeedTier:          params.SpeedTier,
		FeeQuoted:          quote.TotalFee,
	})
	if errors.Is(err, store.ErrDuplicateReference) {
		// Lost a create race on the same reference.
		existing, gerr := m.store.GetTransferByReference(ctx, params.Reference)
		if gerr != nil {
			return nil, gerr
		}
		return m.matchExisting(existing, params)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("Transfer initiated",
		zap.String("transferId", created.Id),
		zap.String("reference", created.Reference),
		zap.String("route", created.SourceChain+" -> "+created.DestinationChain),
		zap.String("amount", created.Amount.String()),
		zap.String("tier", string(created.SpeedTier)),
		zap.String("feeQuoted", created.FeeQuoted.String()))
	return created, nil
}

func (m *Machine) matchExisting(existing *models.Transfer, params InitiateParams) (*models.Transfer, error) {
	same := existing.WalletId == params.WalletId &&
		existing.SourceChain == params.SourceChain &&
		existing.DestinationChain == params.DestinationChain &&
		existing.DestinationAddress == params.DestinationAddress &&
		existing.Amount.Equal(params.Amount) &&
		existing.SpeedTier == params.SpeedTier
	if !same {
		return nil, fmt.Errorf("%w: reference %s already used with different parameters",
			store.ErrDuplicateReference, params.Reference)
	}
	return existing, nil
}

// Get fetches one transfer by id.
func (m *Machine) Get(ctx context.Context, id string) (*models.Transfer, error) {
	return m.store.GetTransfer(ctx, id)
}

// List fetches transfers matching the filter.
func (m *Machine) List(ctx context.Context, filter store.TransferFilter) ([]models.Transfer, error) {
	return m.store.ListTransfers(ctx, filter)
}

// Events returns the transfer's append-only status history.
func (m *Machine) Events(ctx context.Context, transferId string) ([]models.TransferEvent, error) {
	return m.store.GetTransferEvents(ctx, transferId)
}

// SubmitBurn moves INITIATED to BURN_PENDING by asking the provider to burn on
// the source chain. The idempotency key is derived from the transfer id, so a
// crash after submission cannot double-burn.
func (m *Machine) SubmitBurn(ctx context.Context, t *models.Transfer) (*models.Transfer, error) {
	if t.State != models.StateInitiated {
		return t, nil
	}

	submission, err := m.gateway.SubmitBurn(ctx, gateway.SubmitBurnParams{
		WalletId:         t.WalletId,
		Amount:           t.Amount,
		DestinationChain: t.DestinationChain,
		IdempotencyKey:   t.Id + "-burn",
	})
	if err != nil {
		if rejected, ok := gateway.AsRejected(err); ok {
			return m.Fail(ctx, t, codeProviderRejected, rejected.Message)
		}
		return nil, err
	}

	return m.transition(ctx, t, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.State != models.StateInitiated {
			return nil, nil
		}
		return &store.TransferUpdate{
			State:         models.StateBurnPending,
			Detail:        "burn submitted to provider",
			BurnRequestId: &submission.BurnRequestId,
		}, nil
	})
}

// AdvanceOnBurnObserved handles a confirmed burn. The transfer passes through
// BURN_COMPLETE and lands on ATTESTATION_PENDING in the same call. Replaying
// the same hash is a no-op; a different hash for an already-burned transfer is
// a protocol violation and fails the transfer.
func (m *Machine) AdvanceOnBurnObserved(ctx context.Context, t *models.Transfer, burnHash string) (*models.Transfer, error) {
	if t.BurnHash != "" && t.BurnHash != burnHash {
		return m.Fail(ctx, t, codeProtocolViolation,
			fmt.Sprintf("burn hash changed from %s to %s", t.BurnHash, burnHash))
	}
	if t.State.Terminal() || t.State.Rank() >= models.StateAttestationPending.Rank() {
		return t, nil
	}

	now := time.Now().UTC()
	updated, err := m.transition(ctx, t, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.BurnHash != "" && current.BurnHash != burnHash {
			return nil, errProtocolViolation(current.BurnHash, burnHash)
		}
		if current.State.Terminal() || current.State.Rank() >= models.StateAttestationPending.Rank() {
			return nil, nil
		}
		return &store.TransferUpdate{
			State:           models.StateBurnComplete,
			Detail:          "burn confirmed on chain",
			BurnHash:        &burnHash,
			BurnConfirmedAt: &now,
		}, nil
	})
	if err != nil {
		var pv *protocolViolation
		if errors.As(err, &pv) {
			return m.Fail(ctx, t, codeProtocolViolation, pv.Error())
		}
		return nil, err
	}
	if updated.State != models.StateBurnComplete {
		return updated, nil
	}

	return m.transition(ctx, updated, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.State != models.StateBurnComplete {
			return nil, nil
		}
		return &store.TransferUpdate{
			State:  models.StateAttestationPending,
			Detail: "awaiting attestation",
		}, nil
	})
}

// AdvanceOnAttestation handles an attestation verdict, moving the transfer to
// ATTESTATION_COMPLETE. Replays are no-ops; a conflicting attestation hash is a
// protocol violation.
func (m *Machine) AdvanceOnAttestation(ctx context.Context, t *models.Transfer, attestationHash string) (*models.Transfer, error) {
	if t.AttestationHash != "" && t.AttestationHash != attestationHash {
		return m.Fail(ctx, t, codeProtocolViolation,
			fmt.Sprintf("attestation hash changed from %s to %s", t.AttestationHash, attestationHash))
	}
	if t.State.Terminal() || t.State.Rank() >= models.StateAttestationComplete.Rank() {
		return t, nil
	}

	now := time.Now().UTC()
	updated, err := m.transition(ctx, t, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.AttestationHash != "" && current.AttestationHash != attestationHash {
			return nil, errProtocolViolation(current.AttestationHash, attestationHash)
		}
		if current.State.Terminal() || current.State.Rank() >= models.StateAttestationComplete.Rank() {
			return nil, nil
		}
		return &store.TransferUpdate{
			State:                 models.StateAttestationComplete,
			Detail:                "attestation received",
			AttestationHash:       &attestationHash,
			AttestationReceivedAt: &now,
		}, nil
	})
	if err != nil {
		var pv *protocolViolation
		if errors.As(err, &pv) {
			return m.Fail(ctx, t, codeProtocolViolation, pv.Error())
		}
		return nil, err
	}
	return updated, nil
}

// RequestMint moves ATTESTATION_COMPLETE to MINT_PENDING by submitting the
// attested message for minting on the destination chain.
func (m *Machine) RequestMint(ctx context.Context, t *models.Transfer) (*models.Transfer, error) {
	if t.State != models.StateAttestationComplete {
		return t, nil
	}

	submission, err := m.gateway.SubmitMint(ctx, gateway.SubmitMintParams{
		AttestationHash:    t.AttestationHash,
		DestinationAddress: t.DestinationAddress,
		IdempotencyKey:     t.Id + "-mint",
	})
	if err != nil {
		if rejected, ok := gateway.AsRejected(err); ok {
			return m.Fail(ctx, t, codeProviderRejected, rejected.Message)
		}
		return nil, err
	}

	return m.transition(ctx, t, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.State != models.StateAttestationComplete {
			return nil, nil
		}
		return &store.TransferUpdate{
			State:         models.StateMintPending,
			Detail:        "mint submitted to provider",
			MintRequestId: &submission.MintRequestId,
		}, nil
	})
}

// AdvanceOnMintConfirmed completes the transfer: stamps the mint hash and the
// final fee, flags the fee for review when the charge diverges from the quote
// beyond tolerance, and writes the bridge's ledger entry.
func (m *Machine) AdvanceOnMintConfirmed(ctx context.Context, t *models.Transfer, status *models.MintStatus) (*models.Transfer, error) {
	if t.State.Terminal() {
		return t, nil
	}

	feeTotal := t.FeeQuoted
	feeReview := false
	if status.FeeCharged.GreaterThan(decimal.Zero) {
		feeTotal = status.FeeCharged
		divergence := status.FeeCharged.Sub(t.FeeQuoted).Abs()
		feeReview = divergence.GreaterThan(m.fees.Tolerance())
	}

	now := time.Now().UTC()
	updated, err := m.transition(ctx, t, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.State.Terminal() {
			return nil, nil
		}
		return &store.TransferUpdate{
			State:       models.StateComplete,
			Detail:      "mint confirmed on destination chain",
			MintHash:    &status.Hash,
			FeeTotal:    &feeTotal,
			FeeReview:   &feeReview,
			CompletedAt: &now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if updated.State != models.StateComplete {
		return updated, nil
	}

	if feeReview {
		zap.L().Warn("Charged fee diverged from quote beyond tolerance",
			zap.String("transferId", updated.Id),
			zap.String("quoted", updated.FeeQuoted.String()),
			zap.String("charged", feeTotal.String()))
	}

	if _, err := m.ledger.RecordBridgeCompletion(ctx, updated); err != nil {
		// Completed transfers leave the poll set, so a dropped ledger write
		// will not retry on its own. Surface the error to the caller.
		zap.L().Error("Failed to write bridge completion ledger entry",
			zap.String("transferId", updated.Id), zap.Error(err))
		return updated, err
	}

	zap.L().Info("Transfer complete",
		zap.String("transferId", updated.Id),
		zap.String("mintHash", status.Hash),
		zap.String("feeTotal", feeTotal.String()))
	return updated, nil
}

// Fail moves any non-terminal transfer to FAILED with the given error code.
// Failing an already terminal transfer is a no-op.
func (m *Machine) Fail(ctx context.Context, t *models.Transfer, code, message string) (*models.Transfer, error) {
	updated, err := m.transition(ctx, t, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.State.Terminal() {
			return nil, nil
		}
		return &store.TransferUpdate{
			State:        models.StateFailed,
			Detail:       message,
			ErrorCode:    &code,
			ErrorMessage: &message,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if updated.State == models.StateFailed {
		zap.L().Warn("Transfer failed",
			zap.String("transferId", updated.Id),
			zap.String("code", code),
			zap.String("message", message))
	}
	return updated, nil
}

// Cancel aborts a transfer that has not burned yet. Once the burn confirms on
// chain the funds are committed and ErrCancelWindowClosed is returned. The
// provider is asked first so a request already in flight is withdrawn before
// the local state flips.
func (m *Machine) Cancel(ctx context.Context, id string) (*models.Transfer, error) {
	t, err := m.store.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.State.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, t.State)
	}
	if t.State != models.StateInitiated && t.State != models.StateBurnPending {
		return nil, fmt.Errorf("%w: %s already reached %s", ErrCancelWindowClosed, id, t.State)
	}
	if t.BurnHash != "" {
		return nil, fmt.Errorf("%w: burn %s already confirmed", ErrCancelWindowClosed, t.BurnHash)
	}

	if t.State == models.StateBurnPending {
		if err := m.gateway.CancelPending(ctx, t.BurnRequestId); err != nil {
			if errors.Is(err, gateway.ErrTooLate) {
				return nil, fmt.Errorf("%w: provider reports burn in flight", ErrCancelWindowClosed)
			}
			return nil, err
		}
	}

	updated, err := m.transition(ctx, t, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.State.Terminal() {
			return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, current.State)
		}
		// A burn confirmation may have raced the cancel; whichever write
		// committed first wins.
		if current.BurnHash != "" || current.State.Rank() >= models.StateBurnComplete.Rank() {
			return nil, fmt.Errorf("%w: burn confirmed during cancel", ErrCancelWindowClosed)
		}
		return &store.TransferUpdate{
			State:  models.StateCancelled,
			Detail: "cancelled by operator",
		}, nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Transfer cancelled", zap.String("transferId", updated.Id))
	return updated, nil
}

// Accelerate asks the provider to expedite the transfer's pending request.
// Only transfers waiting on a provider-side burn or mint can be accelerated.
func (m *Machine) Accelerate(ctx context.Context, id string) (*models.Transfer, error) {
	t, err := m.store.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}

	var requestId string
	switch t.State {
	case models.StateBurnPending:
		requestId = t.BurnRequestId
	case models.StateMintPending:
		requestId = t.MintRequestId
	default:
		return nil, fmt.Errorf("%w: state is %s", ErrNotAccelerable, t.State)
	}

	if err := m.gateway.AcceleratePending(ctx, requestId); err != nil {
		return nil, err
	}

	return m.transition(ctx, t, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.State != t.State {
			return nil, nil
		}
		return &store.TransferUpdate{Detail: "acceleration requested"}, nil
	})
}

// MarkStuck flags a transfer that has exceeded its stage SLA without changing
// its state. The flag clears implicitly when the transfer moves on.
func (m *Machine) MarkStuck(ctx context.Context, t *models.Transfer) (*models.Transfer, error) {
	if t.Stuck || t.State.Terminal() {
		return t, nil
	}
	stuck := true
	return m.transition(ctx, t, func(current *models.Transfer) (*store.TransferUpdate, error) {
		if current.Stuck || current.State.Terminal() {
			return nil, nil
		}
		return &store.TransferUpdate{
			Detail: "exceeded stage SLA, flagged for attention",
			Stuck:  &stuck,
		}, nil
	})
}

// transition retries a version-conditioned update, re-deriving the change from
// the freshly read row on every conflict. The derive callback returns nil to
// signal the transition no longer applies.
func (m *Machine) transition(ctx context.Context, t *models.Transfer, derive func(*models.Transfer) (*store.TransferUpdate, error)) (*models.Transfer, error) {
	current := t
	for attempt := 0; attempt < versionRetries; attempt++ {
		update, err := derive(current)
		if err != nil {
			return nil, err
		}
		if update == nil {
			return current, nil
		}
		// Moving to a new state clears a stuck flag left by the SLA check.
		if update.State != "" && update.State != current.State && current.Stuck && update.Stuck == nil {
			cleared := false
			update.Stuck = &cleared
		}

		updated, err := m.store.UpdateTransfer(ctx, current.Id, current.Version, *update)
		if errors.Is(err, store.ErrStaleVersion) {
			current, err = m.store.GetTransfer(ctx, current.Id)
			if err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts on %s", store.ErrStaleVersion, versionRetries, t.Id)
}

type protocolViolation struct {
	stored, observed string
}

func errProtocolViolation(stored, observed string) *protocolViolation {
	return &protocolViolation{stored: stored, observed: observed}
}

func (e *protocolViolation) Error() string {
	return fmt.Sprintf("hash changed from %s to %s", e.stored, e.observed)
}
