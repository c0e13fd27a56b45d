package common

import (
	"context"
	"log"
	"strings"

	"cctp-bridge-go/internal/analytics"
	"cctp-bridge-go/internal/database"
	"cctp-bridge-go/internal/fees"
	"cctp-bridge-go/internal/gateway"
	"cctp-bridge-go/internal/ledger"
	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/poller"
	"cctp-bridge-go/internal/transfer"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	}
}

// Services bundles the wired-up application components the commands share.
type Services struct {
	DbService  *database.Service
	Gateway    gateway.Gateway
	Chains     *ChainRegistry
	Estimator  *fees.Estimator
	Machine    *transfer.Machine
	Ledger     *ledger.Service
	Poller     *poller.Poller
	Aggregator *analytics.Aggregator
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	chains, err := LoadChainRegistry(cfg.Chains.File)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	gatewayClient, err := gateway.NewClient(cfg.Gateway)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	estimator := fees.NewEstimator(gatewayClient, cfg.Fees)
	ledgerService := ledger.NewService(dbService)
	machine := transfer.NewMachine(dbService, ledgerService, gatewayClient, estimator, chains)
	stagePoller := poller.NewPoller(dbService, machine, gatewayClient, cfg.Poller)
	aggregator := analytics.NewAggregator(dbService, chains)

	zap.L().Info("Services initialized",
		zap.String("gateway", cfg.Gateway.BaseURL),
		zap.Int("chains", chains.Len()))

	return &Services{
		DbService:  dbService,
		Gateway:    gatewayClient,
		Chains:     chains,
		Estimator:  estimator,
		Machine:    machine,
		Ledger:     ledgerService,
		Poller:     stagePoller,
		Aggregator: aggregator,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service, for read-only
// commands like report generation.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
