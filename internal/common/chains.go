package common

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// chainEntry is one chain in the deployment's YAML registry.
type chainEntry struct {
	Name           string `yaml:"name"`
	GasPerTransfer string `yaml:"gas_per_transfer"`
}

type chainsFile struct {
	Chains []chainEntry `yaml:"chains"`
}

type chainInfo struct {
	gasPerTransfer decimal.Decimal
}

// ChainRegistry holds the chains this deployment bridges between, loaded from
// a YAML file at startup. It doubles as the analytics gas model.
type ChainRegistry struct {
	chains map[string]chainInfo
}

func LoadChainRegistry(path string) (*ChainRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read chain registry %s: %w", path, err)
	}
	return ParseChainRegistry(data)
}

func ParseChainRegistry(data []byte) (*ChainRegistry, error) {
	var parsed chainsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse chain registry: %w", err)
	}
	if len(parsed.Chains) == 0 {
		return nil, fmt.Errorf("chain registry lists no chains")
	}

	chains := make(map[string]chainInfo, len(parsed.Chains))
	for _, entry := range parsed.Chains {
		if entry.Name == "" {
			return nil, fmt.Errorf("chain registry entry missing name")
		}
		gas := decimal.Zero
		if entry.GasPerTransfer != "" {
			parsed, err := decimal.NewFromString(entry.GasPerTransfer)
			if err != nil {
				return nil, fmt.Errorf("invalid gas_per_transfer for %s: %w", entry.Name, err)
			}
			gas = parsed
		}
		chains[entry.Name] = chainInfo{gasPerTransfer: gas}
	}

	return &ChainRegistry{chains: chains}, nil
}

// Supported reports whether the chain is configured for bridging.
func (r *ChainRegistry) Supported(name string) bool {
	_, ok := r.chains[name]
	return ok
}

// GasPerTransfer returns the configured gas cost estimate for one transfer leg
// on the chain, zero for unknown chains.
func (r *ChainRegistry) GasPerTransfer(name string) decimal.Decimal {
	if info, ok := r.chains[name]; ok {
		return info.gasPerTransfer
	}
	return decimal.Zero
}

// Names lists the configured chains.
func (r *ChainRegistry) Names() []string {
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	return names
}

func (r *ChainRegistry) Len() int {
	return len(r.chains)
}
