package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Gateway  GatewayConfig
	Poller   PollerConfig
	Fees     FeeConfig
	Server   ServerConfig
	Chains   ChainsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// GatewayConfig holds custodial wallet provider API settings
type GatewayConfig struct {
	BaseURL        string
	APIKey         string
	WalletId       string
	RequestTimeout time.Duration
	MaxRetries     int
}

// PollerConfig holds stage poller settings
type PollerConfig struct {
	TickInterval    time.Duration
	MaxConcurrent   int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	StageSLA        time.Duration
	SLASafetyFactor int
	CleanupInterval time.Duration
}

// FeeConfig holds fee estimation policy
type FeeConfig struct {
	ScheduleTTL       time.Duration
	MarkupPercent     decimal.Decimal
	MaxFastAmount     decimal.Decimal
	MaxStandardAmount decimal.Decimal
	FeeTolerance      decimal.Decimal
}

// ServerConfig holds the admin API listen settings
type ServerConfig struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// ChainsConfig points at the chain registry file
type ChainsConfig struct {
	File string
}
