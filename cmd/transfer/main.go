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

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"cctp-bridge-go/internal/common"
	"cctp-bridge-go/internal/config"
	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/transfer"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	reference := flag.String("reference", "", "Client reference for the transfer (required to initiate)")
	walletId := flag.String("wallet", "", "Source wallet id")
	source := flag.String("source", "", "Source chain")
	destination := flag.String("destination", "", "Destination chain")
	address := flag.String("address", "", "Destination address")
	amount := flag.String("amount", "", "USDC amount to bridge")
	tier := flag.String("tier", string(models.TierStandard), "Speed tier: FAST or STANDARD")
	statusId := flag.String("status", "", "Show status and history for a transfer id")
	cancelId := flag.String("cancel", "", "Cancel a transfer by id")
	accelerateId := flag.String("accelerate", "", "Request acceleration for a transfer by id")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	switch {
	case *statusId != "":
		showStatus(ctx, services, *statusId)
	case *cancelId != "":
		cancelTransfer(ctx, services, *cancelId)
	case *accelerateId != "":
		accelerateTransfer(ctx, services, *accelerateId)
	default:
		initiate(ctx, services, transferFlags{
			reference:   *reference,
			walletId:    *walletId,
			source:      *source,
			destination: *destination,
			address:     *address,
			amount:      *amount,
			tier:        *tier,
		})
	}
}

type transferFlags struct {
	reference, walletId, source, destination, address, amount, tier string
}

func initiate(ctx context.Context, services *common.Services, flags transferFlags) {
	if flags.reference == "" || flags.source == "" || flags.destination == "" ||
		flags.address == "" || flags.amount == "" {
		zap.L().Fatal("Missing required flags: -reference, -source, -destination, -address, -amount")
	}

	if flags.walletId == "" {
		zap.L().Fatal("Missing required flag: -wallet")
	}

	value, err := decimal.NewFromString(flags.amount)
	if err != nil {
		zap.L().Fatal("Invalid amount", zap.String("amount", flags.amount), zap.Error(err))
	}

	created, err := services.Machine.Initiate(ctx, transfer.InitiateParams{
		Reference:          flags.reference,
		WalletId:           flags.walletId,
		SourceChain:        flags.source,
		DestinationChain:   flags.destination,
		DestinationAddress: flags.address,
		Amount:             value,
		SpeedTier:          models.SpeedTier(flags.tier),
	})
	if err != nil {
		zap.L().Fatal("Failed to initiate transfer", zap.Error(err))
	}

	common.PrintHeader("TRANSFER INITIATED", common.DefaultWidth)
	common.PrintKeyValue("Id", created.Id)
	common.PrintKeyValue("Reference", created.Reference)
	common.PrintKeyValue("Route", common.FormatRoute(created.SourceChain, created.DestinationChain))
	common.PrintKeyValue("Amount", created.Amount.String()+" USDC")
	common.PrintKeyValue("Tier", string(created.SpeedTier))
	common.PrintKeyValue("Fee quoted", created.FeeQuoted.String())
	common.PrintFooter("The poller submits the burn on the next cycle.", common.DefaultWidth)
}

func showStatus(ctx context.Context, services *common.Services, id string) {
	t, err := services.Machine.Get(ctx, id)
	if err != nil {
		zap.L().Fatal("Failed to fetch transfer", zap.String("id", id), zap.Error(err))
	}
	events, err := services.Machine.Events(ctx, id)
	if err != nil {
		zap.L().Fatal("Failed to fetch transfer history", zap.String("id", id), zap.Error(err))
	}

	common.PrintHeader("TRANSFER "+t.Id, common.DefaultWidth)
	common.PrintKeyValue("State", string(t.State))
	common.PrintKeyValue("Route", common.FormatRoute(t.SourceChain, t.DestinationChain))
	common.PrintKeyValue("Amount", t.Amount.String()+" USDC")
	common.PrintKeyValue("Fee quoted", t.FeeQuoted.String())
	if t.State == models.StateComplete {
		common.PrintKeyValue("Fee charged", t.FeeTotal.String())
	}
	if t.BurnHash != "" {
		common.PrintKeyValue("Burn hash", t.BurnHash)
	}
	if t.MintHash != "" {
		common.PrintKeyValue("Mint hash", t.MintHash)
	}
	if t.Stuck {
		common.PrintKeyValue("Stuck", "YES, needs attention")
	}
	if t.ErrorCode != "" {
		common.PrintKeyValue("Error", t.ErrorCode+": "+t.ErrorMessage)
	}

	common.PrintBoxSeparator(common.DefaultWidth)
	for i, event := range events {
		isLast := i == len(events)-1
		line := fmt.Sprintf("%s%s", common.BoxPrefix(isLast), event.ToState)
		if event.Detail != "" {
			line += " (" + event.Detail + ")"
		}
		fmt.Println(line)
		fmt.Printf("%s%s\n", common.BoxDetailPrefix(isLast), event.CreatedAt.UTC().Format(time.RFC3339))
	}
	fmt.Println()
}

func cancelTransfer(ctx context.Context, services *common.Services, id string) {
	cancelled, err := services.Machine.Cancel(ctx, id)
	if err != nil {
		zap.L().Fatal("Failed to cancel transfer", zap.String("id", id), zap.Error(err))
	}
	common.PrintHeader("TRANSFER CANCELLED", common.DefaultWidth)
	common.PrintKeyValue("Id", cancelled.Id)
	common.PrintKeyValue("Reference", cancelled.Reference)
	common.PrintFooter("No funds moved; the burn never reached the chain.", common.DefaultWidth)
}

func accelerateTransfer(ctx context.Context, services *common.Services, id string) {
	accelerated, err := services.Machine.Accelerate(ctx, id)
	if err != nil {
		zap.L().Fatal("Failed to accelerate transfer", zap.String("id", id), zap.Error(err))
	}
	common.PrintHeader("ACCELERATION REQUESTED", common.DefaultWidth)
	common.PrintKeyValue("Id", accelerated.Id)
	common.PrintKeyValue("State", string(accelerated.State))
	common.PrintFooter("The provider reprices the pending request; watch -status.", common.DefaultWidth)
}
