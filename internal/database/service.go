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

package database

import (
	"context"
	"database/sql"
	"fmt"

	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewMemoryService opens an in-memory database, used by tests and the CLIs'
// dry-run mode.
func NewMemoryService(ctx context.Context) (*Service, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("unable to open in-memory database: %w", err)
	}
	// Every pooled connection to :memory: would get its own database.
	db.SetMaxOpenConns(1)
	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

// Ping verifies the connection, used by the admin health endpoint.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Service) initSchema() error {
	schema := `
	-- Transfers: the unit of cross-chain work. Amounts stored as TEXT to keep
	-- decimal precision; state only ever written by the state machine.
	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		wallet_id TEXT NOT NULL,
		source_chain TEXT NOT NULL,
		destination_chain TEXT NOT NULL,
		destination_address TEXT NOT NULL,
		amount TEXT NOT NULL,
		speed_tier TEXT NOT NULL,
		state TEXT NOT NULL,
		burn_request_id TEXT NOT NULL DEFAULT '',
		burn_hash TEXT NOT NULL DEFAULT '',
		attestation_hash TEXT NOT NULL DEFAULT '',
		mint_request_id TEXT NOT NULL DEFAULT '',
		mint_hash TEXT NOT NULL DEFAULT '',
		fee_quoted TEXT NOT NULL DEFAULT '0',
		fee_total TEXT NOT NULL DEFAULT '0',
		fee_review INTEGER NOT NULL DEFAULT 0,
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		stuck INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		initiated_at TIMESTAMP NOT NULL,
		burn_confirmed_at TIMESTAMP,
		attestation_received_at TIMESTAMP,
		completed_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_state ON transfers(state);
	CREATE INDEX IF NOT EXISTS idx_transfers_wallet ON transfers(wallet_id);
	CREATE INDEX IF NOT EXISTS idx_transfers_initiated_at ON transfers(initiated_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transfers_reference ON transfers(reference);

	-- Append-only transfer status history.
	CREATE TABLE IF NOT EXISTS transfer_events (
		id TEXT PRIMARY KEY,
		transfer_id TEXT NOT NULL REFERENCES transfers(id),
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transfer_events_transfer ON transfer_events(transfer_id);

	-- Wallet transactions: append-only audit trail. Rows are never updated or
	-- deleted; provider state changes land in wallet_transaction_events.
	CREATE TABLE IF NOT EXISTS wallet_transactions (
		id TEXT PRIMARY KEY,
		provider_tx_id TEXT NOT NULL UNIQUE,
		reference TEXT NOT NULL DEFAULT '',
		wallet_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		kind TEXT NOT NULL,
		chain TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_transactions_wallet ON wallet_transactions(wallet_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_transactions_provider ON wallet_transactions(provider_tx_id);

	-- Component amounts: a logical transaction may aggregate several
	-- provider-side transfers; total is always the sum of its legs.
	CREATE TABLE IF NOT EXISTS wallet_transaction_legs (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES wallet_transactions(id),
		amount TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_transaction_legs_tx ON wallet_transaction_legs(transaction_id);

	CREATE TABLE IF NOT EXISTS wallet_transaction_events (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES wallet_transactions(id),
		state TEXT NOT NULL,
		provider_state TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_transaction_events_tx ON wallet_transaction_events(transaction_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
