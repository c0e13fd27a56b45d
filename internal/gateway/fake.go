package gateway

import (
	"context"
	"fmt"
	"sync"

	"cctp-bridge-go/internal/models"

	"github.com/shopspring/decimal"
)

// Compile-time check: *Fake must satisfy Gateway.
var _ Gateway = (*Fake)(nil)

// Fake is an in-memory Gateway for deterministic tests. Each stage confirms
// after a configurable number of status polls; individual calls can be forced
// to fail with a scripted error.
type Fake struct {
	mu sync.Mutex

	// Polls required before a stage reports confirmed/available.
	BurnConfirmAfter  int
	AttestationAfter  int
	MintConfirmAfter  int
	FeeCharged        decimal.Decimal
	Schedule          *models.FeeSchedule
	AccelerateOutcome error // nil = accepted
	CancelOutcome     error // nil = accepted

	// Errs forces the named operation to return the given error once set.
	Errs map[string]error

	burnPolls map[string]int
	attPolls  map[string]int
	mintPolls map[string]int
	seq       int
	Calls     []string
}

func NewFake() *Fake {
	return &Fake{
		BurnConfirmAfter: 1,
		AttestationAfter: 1,
		MintConfirmAfter: 1,
		FeeCharged:       decimal.Zero,
		Errs:             make(map[string]error),
		burnPolls:        make(map[string]int),
		attPolls:         make(map[string]int),
		mintPolls:        make(map[string]int),
	}
}

// FailWith scripts an error for the named operation ("SubmitBurn",
// "GetBurnStatus", ...). Pass nil to clear.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errs, op)
		return
	}
	f.Errs[op] = err
}

func (f *Fake) record(op string) error {
	f.Calls = append(f.Calls, op)
	if err, ok := f.Errs[op]; ok {
		return err
	}
	return nil
}

func (f *Fake) SubmitBurn(_ context.Context, params SubmitBurnParams) (*models.BurnSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SubmitBurn"); err != nil {
		return nil, err
	}
	f.seq++
	id := fmt.Sprintf("burn-req-%d", f.seq)
	f.burnPolls[id] = 0
	return &models.BurnSubmission{BurnRequestId: id}, nil
}

func (f *Fake) GetBurnStatus(_ context.Context, burnRequestId string) (*models.BurnStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetBurnStatus"); err != nil {
		return nil, err
	}
	f.burnPolls[burnRequestId]++
	if f.burnPolls[burnRequestId] < f.BurnConfirmAfter {
		return &models.BurnStatus{}, nil
	}
	return &models.BurnStatus{Hash: "burn-hash-" + burnRequestId, Confirmed: true}, nil
}

func (f *Fake) GetAttestation(_ context.Context, burnHash string) (*models.Attestation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetAttestation"); err != nil {
		return nil, err
	}
	f.attPolls[burnHash]++
	if f.attPolls[burnHash] < f.AttestationAfter {
		return nil, ErrNotYetAvailable
	}
	return &models.Attestation{AttestationHash: "att-hash-" + burnHash}, nil
}

func (f *Fake) SubmitMint(_ context.Context, params SubmitMintParams) (*models.MintSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SubmitMint"); err != nil {
		return nil, err
	}
	f.seq++
	id := fmt.Sprintf("mint-req-%d", f.seq)
	f.mintPolls[id] = 0
	return &models.MintSubmission{MintRequestId: id}, nil
}

func (f *Fake) GetMintStatus(_ context.Context, mintRequestId string) (*models.MintStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetMintStatus"); err != nil {
		return nil, err
	}
	f.mintPolls[mintRequestId]++
	if f.mintPolls[mintRequestId] < f.MintConfirmAfter {
		return &models.MintStatus{}, nil
	}
	return &models.MintStatus{
		Hash:       "mint-hash-" + mintRequestId,
		Confirmed:  true,
		FeeCharged: f.FeeCharged,
	}, nil
}

func (f *Fake) CancelPending(_ context.Context, requestId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CancelPending"); err != nil {
		return err
	}
	return f.CancelOutcome
}

func (f *Fake) AcceleratePending(_ context.Context, requestId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AcceleratePending"); err != nil {
		return err
	}
	return f.AccelerateOutcome
}

func (f *Fake) GetFeeSchedule(_ context.Context) (*models.FeeSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetFeeSchedule"); err != nil {
		return nil, err
	}
	if f.Schedule != nil {
		return f.Schedule, nil
	}
	return &models.FeeSchedule{
		Entries: []models.FeeScheduleEntry{
			{
				SourceChain:      "ethereum",
				DestinationChain: "base",
				BaseFee:          decimal.RequireFromString("0.50"),
				FastPremium:      decimal.RequireFromString("1.25"),
				StandardSeconds:  900,
				FastSeconds:      60,
			},
			{
				SourceChain:      "base",
				DestinationChain: "ethereum",
				BaseFee:          decimal.RequireFromString("0.25"),
				FastPremium:      decimal.RequireFromString("1.00"),
				StandardSeconds:  900,
				FastSeconds:      60,
			},
		},
	}, nil
}
