package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint and its deployed contracts.
type ChainDefinition struct {
	Type           string            `yaml:"type"`
	ChainID        string            `yaml:"chain_id"`
	RPCURL         string            `yaml:"rpc_url"`
	VaultAddress   string            `yaml:"vault_address"`
	PoolManager    string            `yaml:"pool_manager_address"`
	Assets         map[string]string `yaml:"assets"`
	SignerKeyEnv   string            `yaml:"signer_key_env"`
	GasCeilingGwei int64             `yaml:"gas_ceiling_gwei"`
	Description    string            `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
