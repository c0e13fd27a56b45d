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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"cctp-bridge-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	requestTimeout, err := getEnvDuration("GATEWAY_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	tickInterval, err := getEnvDuration("POLLER_TICK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}

	baseBackoff, err := getEnvDuration("POLLER_BASE_BACKOFF", 15*time.Second)
	if err != nil {
		return nil, err
	}

	maxBackoff, err := getEnvDuration("POLLER_MAX_BACKOFF", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	stageSLA, err := getEnvDuration("POLLER_STAGE_SLA", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := getEnvDuration("POLLER_CLEANUP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	scheduleTTL, err := getEnvDuration("FEE_SCHEDULE_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	markupPercent, err := getEnvDecimal("FEE_MARKUP_PERCENT", "0.1")
	if err != nil {
		return nil, err
	}

	maxFastAmount, err := getEnvDecimal("FEE_MAX_FAST_AMOUNT", "25000")
	if err != nil {
		return nil, err
	}

	maxStandardAmount, err := getEnvDecimal("FEE_MAX_STANDARD_AMOUNT", "1000000")
	if err != nil {
		return nil, err
	}

	feeTolerance, err := getEnvDecimal("FEE_TOLERANCE", "0.01")
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "bridge.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Gateway: models.GatewayConfig{
			BaseURL:        getEnvString("GATEWAY_BASE_URL", "https://api.gateway.example.com"),
			APIKey:         os.Getenv("GATEWAY_API_KEY"),
			WalletId:       os.Getenv("GATEWAY_WALLET_ID"),
			RequestTimeout: requestTimeout,
			MaxRetries:     getEnvInt("GATEWAY_MAX_RETRIES", 3),
		},
		Poller: models.PollerConfig{
			TickInterval:    tickInterval,
			MaxConcurrent:   getEnvInt("POLLER_MAX_CONCURRENT", 8),
			BaseBackoff:     baseBackoff,
			MaxBackoff:      maxBackoff,
			StageSLA:        stageSLA,
			SLASafetyFactor: getEnvInt("POLLER_SLA_SAFETY_FACTOR", 3),
			CleanupInterval: cleanupInterval,
		},
		Fees: models.FeeConfig{
			ScheduleTTL:       scheduleTTL,
			MarkupPercent:     markupPercent,
			MaxFastAmount:     maxFastAmount,
			MaxStandardAmount: maxStandardAmount,
			FeeTolerance:      feeTolerance,
		},
		Server: models.ServerConfig{
			ListenAddr:      getEnvString("SERVER_LISTEN_ADDR", ":8080"),
			ShutdownTimeout: shutdownTimeout,
		},
		Chains: models.ChainsConfig{
			File: getEnvString("CHAINS_FILE", "chains.yaml"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
	}
	return d, nil
}
