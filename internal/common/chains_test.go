package common

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseChainRegistry(t *testing.T) {
	registry, err := ParseChainRegistry([]byte(`
chains:
  - name: ethereum
    gas_per_transfer: "2.50"
  - name: base
    gas_per_transfer: "0.02"
  - name: arbitrum
`))
	if err != nil {
		t.Fatalf("Failed to parse registry: %v", err)
	}

	if registry.Len() != 3 {
		t.Errorf("Expected 3 chains, got %d", registry.Len())
	}
	if !registry.Supported("ethereum") || !registry.Supported("base") {
		t.Error("Expected listed chains supported")
	}
	if registry.Supported("solana") {
		t.Error("Unlisted chain must not be supported")
	}

	if !registry.GasPerTransfer("ethereum").Equal(decimal.RequireFromString("2.50")) {
		t.Errorf("Expected gas 2.50, got %s", registry.GasPerTransfer("ethereum"))
	}
	// Missing gas defaults to zero, same for unknown chains.
	if !registry.GasPerTransfer("arbitrum").IsZero() {
		t.Errorf("Expected zero gas for arbitrum, got %s", registry.GasPerTransfer("arbitrum"))
	}
	if !registry.GasPerTransfer("solana").IsZero() {
		t.Errorf("Expected zero gas for unknown chain, got %s", registry.GasPerTransfer("solana"))
	}
}

func TestParseChainRegistry_Invalid(t *testing.T) {
	if _, err := ParseChainRegistry([]byte("chains: []")); err == nil {
		t.Error("Expected error for empty registry")
	}
	if _, err := ParseChainRegistry([]byte("chains:\n  - gas_per_transfer: \"1\"")); err == nil {
		t.Error("Expected error for entry without name")
	}
	if _, err := ParseChainRegistry([]byte("chains:\n  - name: ethereum\n    gas_per_transfer: \"abc\"")); err == nil {
		t.Error("Expected error for non-decimal gas")
	}
}
