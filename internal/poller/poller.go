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

package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"cctp-bridge-go/internal/gateway"
	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"
	"cctp-bridge-go/internal/transfer"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// pollState is the poller's per-transfer scratch pad: when the transfer entered
// its current state and how far its polling has backed off.
type pollState struct {
	lastState  models.TransferState
	enteredAt  time.Time
	misses     int
	nextPollAt time.Time
}

// Poller drives every active transfer forward. Each tick it lists non-terminal
// transfers, polls the provider for the stage each one is waiting on, and hands
// observations to the state machine. Polling for a transfer that keeps
// reporting no progress backs off exponentially up to a cap; a transfer sitting
// in one state past its SLA window is flagged stuck.
type Poller struct {
	store   store.TransferStore
	machine *transfer.Machine
	gateway gateway.Gateway
	cfg     models.PollerConfig

	mu       sync.Mutex
	tracked  map[string]*pollState
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewPoller(transferStore store.TransferStore, machine *transfer.Machine, gw gateway.Gateway, cfg models.PollerConfig) *Poller {
	return &Poller{
		store:    transferStore,
		machine:  machine,
		gateway:  gw,
		cfg:      cfg,
		tracked:  make(map[string]*pollState),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the poll loop. Stop with Stop.
func (p *Poller) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop shuts the loop down and waits for the in-flight tick to finish.
func (p *Poller) Stop() {
	close(p.stopChan)
	<-p.doneChan
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneChan)

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanup.Stop()

	zap.L().Info("Stage poller started",
		zap.Duration("tickInterval", p.cfg.TickInterval),
		zap.Int("maxConcurrent", p.cfg.MaxConcurrent))

	for {
		select {
		case <-p.stopChan:
			zap.L().Info("Stage poller stopped")
			return
		case <-ctx.Done():
			zap.L().Info("Stage poller context cancelled")
			return
		case <-cleanup.C:
			p.pruneTracked(ctx)
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass over all active transfers.
func (p *Poller) Tick(ctx context.Context) {
	transfers, err := p.store.ListActiveTransfers(ctx)
	if err != nil {
		zap.L().Error("Failed to list active transfers", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	group := errgroup.Group{}
	group.SetLimit(p.cfg.MaxConcurrent)

	for i := range transfers {
		t := transfers[i]
		state := p.track(&t, now)
		if now.Before(state.nextPollAt) {
			continue
		}
		group.Go(func() error {
			p.pollOne(ctx, &t)
			return nil
		})
	}
	_ = group.Wait()
}

// track returns the scratch state for the transfer, resetting it whenever the
// transfer moved since the last tick.
func (p *Poller) track(t *models.Transfer, now time.Time) *pollState {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.tracked[t.Id]
	if !ok || state.lastState != t.State {
		state = &pollState{lastState: t.State, enteredAt: t.UpdatedAt}
		if state.enteredAt.IsZero() {
			state.enteredAt = now
		}
		p.tracked[t.Id] = state
	}
	return state
}

func (p *Poller) pollOne(ctx context.Context, t *models.Transfer) {
	p.checkStuck(ctx, t)

	updated, err := p.advance(ctx, t)
	switch {
	case err == nil:
		p.observe(t, updated)
	case gateway.IsTimeout(err):
		zap.L().Warn("Gateway timed out, will retry next cycle",
			zap.String("transferId", t.Id),
			zap.String("state", string(t.State)),
			zap.Error(err))
		p.recordMiss(t.Id)
	case errors.Is(err, gateway.ErrNotYetAvailable):
		p.recordMiss(t.Id)
	default:
		zap.L().Error("Failed to advance transfer",
			zap.String("transferId", t.Id),
			zap.String("state", string(t.State)),
			zap.Error(err))
		p.recordMiss(t.Id)
	}
}

// advance polls the provider for the stage the transfer is waiting on and
// feeds the observation to the state machine.
func (p *Poller) advance(ctx context.Context, t *models.Transfer) (*models.Transfer, error) {
	switch t.State {
	case models.StateInitiated:
		return p.machine.SubmitBurn(ctx, t)

	case models.StateBurnPending:
		status, err := p.gateway.GetBurnStatus(ctx, t.BurnRequestId)
		if err != nil {
			return nil, err
		}
		if !status.Confirmed {
			return t, nil
		}
		return p.machine.AdvanceOnBurnObserved(ctx, t, status.Hash)

	case models.StateBurnComplete, models.StateAttestationPending:
		attestation, err := p.gateway.GetAttestation(ctx, t.BurnHash)
		if err != nil {
			return nil, err
		}
		updated, err := p.machine.AdvanceOnAttestation(ctx, t, attestation.AttestationHash)
		if err != nil {
			return nil, err
		}
		// Mint in the same cycle so the attested message does not sit idle
		// until the next tick.
		return p.machine.RequestMint(ctx, updated)

	case models.StateAttestationComplete:
		return p.machine.RequestMint(ctx, t)

	case models.StateMintPending:
		status, err := p.gateway.GetMintStatus(ctx, t.MintRequestId)
		if err != nil {
			return nil, err
		}
		if !status.Confirmed {
			return t, nil
		}
		return p.machine.AdvanceOnMintConfirmed(ctx, t, status)

	default:
		return t, nil
	}
}

// observe resets or extends the backoff depending on whether the poll moved
// the transfer.
func (p *Poller) observe(before, after *models.Transfer) {
	if after == nil || after.State == before.State {
		p.recordMiss(before.Id)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracked[after.Id] = &pollState{lastState: after.State, enteredAt: after.UpdatedAt}

	zap.L().Info("Transfer advanced",
		zap.String("transferId", after.Id),
		zap.String("from", string(before.State)),
		zap.String("to", string(after.State)))
}

// recordMiss extends the transfer's poll backoff: base * 2^misses, capped.
func (p *Poller) recordMiss(transferId string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.tracked[transferId]
	if !ok {
		return
	}

	delay := p.cfg.BaseBackoff << state.misses
	if delay > p.cfg.MaxBackoff || delay <= 0 {
		delay = p.cfg.MaxBackoff
	}
	state.misses++
	state.nextPollAt = time.Now().UTC().Add(delay)
}

// checkStuck flags transfers that have sat in one state past the SLA window.
func (p *Poller) checkStuck(ctx context.Context, t *models.Transfer) {
	if t.Stuck {
		return
	}

	p.mu.Lock()
	state, ok := p.tracked[t.Id]
	p.mu.Unlock()
	if !ok {
		return
	}

	limit := p.cfg.StageSLA * time.Duration(p.cfg.SLASafetyFactor)
	if time.Since(state.enteredAt) <= limit {
		return
	}

	if _, err := p.machine.MarkStuck(ctx, t); err != nil {
		zap.L().Error("Failed to flag stuck transfer",
			zap.String("transferId", t.Id), zap.Error(err))
		return
	}
	zap.L().Warn("Transfer exceeded stage SLA",
		zap.String("transferId", t.Id),
		zap.String("state", string(t.State)),
		zap.Duration("inState", time.Since(state.enteredAt)))
}

// pruneTracked drops scratch state for transfers that left the active set.
func (p *Poller) pruneTracked(ctx context.Context) {
	transfers, err := p.store.ListActiveTransfers(ctx)
	if err != nil {
		zap.L().Error("Failed to list active transfers for cleanup", zap.Error(err))
		return
	}

	active := make(map[string]struct{}, len(transfers))
	for _, t := range transfers {
		active[t.Id] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.tracked {
		if _, ok := active[id]; !ok {
			delete(p.tracked, id)
		}
	}
}
