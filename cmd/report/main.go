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
	"sort"
	"time"

	"cctp-bridge-go/internal/analytics"
	"cctp-bridge-go/internal/common"
	"cctp-bridge-go/internal/config"
	"cctp-bridge-go/internal/models"

	"go.uber.org/zap"
)

func main() {
	days := flag.Int("days", 1, "Aggregation window in days, ending now")
	fromFlag := flag.String("from", "", "Window start (RFC3339), overrides -days")
	toFlag := flag.String("to", "", "Window end (RFC3339), defaults to now")
	chain := flag.String("chain", "", "Limit the report to one chain")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	chains, err := common.LoadChainRegistry(cfg.Chains.File)
	if err != nil {
		zap.L().Fatal("Failed to load chain registry", zap.Error(err))
	}

	to := time.Now().UTC()
	if *toFlag != "" {
		if to, err = time.Parse(time.RFC3339, *toFlag); err != nil {
			zap.L().Fatal("Invalid -to value", zap.String("to", *toFlag), zap.Error(err))
		}
	}
	from := to.AddDate(0, 0, -*days)
	if *fromFlag != "" {
		if from, err = time.Parse(time.RFC3339, *fromFlag); err != nil {
			zap.L().Fatal("Invalid -from value", zap.String("from", *fromFlag), zap.Error(err))
		}
	}

	aggregator := analytics.NewAggregator(dbService, chains)
	report, err := aggregator.Rollup(ctx, from, to, *chain)
	if err != nil {
		zap.L().Fatal("Failed to build rollup", zap.Error(err))
	}

	printReport(report, *chain)
}

func printReport(report *analytics.Report, chain string) {
	title := "BRIDGE ROLLUP"
	if chain != "" {
		title += " FOR " + chain
	}
	common.PrintHeader(title, common.DefaultWidth)
	common.PrintKeyValue("Window", fmt.Sprintf("%s to %s",
		report.From.Format(time.RFC3339), report.To.Format(time.RFC3339)))
	common.PrintKeyValue("Transfers", fmt.Sprintf("%d", report.TotalCount))
	common.PrintKeyValue("Success rate", report.SuccessRate.String())
	common.PrintKeyValue("Fees collected", report.FeesCollected.String()+" USDC")
	common.PrintKeyValue("Gas estimate", report.GasEstimate.String()+" USDC")
	common.PrintKeyValue("Net profit", report.NetProfit.String()+" USDC")
	common.PrintKeyValue("Fee reviews", fmt.Sprintf("%d", report.FeeReviewCount))
	common.PrintKeyValue("Stuck", fmt.Sprintf("%d", report.StuckCount))

	common.PrintBoxSeparator(common.DefaultWidth)
	fmt.Println("By state:")
	states := make([]string, 0, len(report.CountsByState))
	for state := range report.CountsByState {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for i, state := range states {
		fmt.Printf("%s%-22s %d\n", common.BoxPrefix(i == len(states)-1),
			state, report.CountsByState[models.TransferState(state)])
	}

	fmt.Println("By chain:")
	chains := make([]string, 0, len(report.CountsByChain))
	for name := range report.CountsByChain {
		chains = append(chains, name)
	}
	sort.Strings(chains)
	for i, name := range chains {
		fmt.Printf("%s%-22s %d\n", common.BoxPrefix(i == len(chains)-1),
			name, report.CountsByChain[name])
	}
	fmt.Println()
}
