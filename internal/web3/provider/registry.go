package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"ChainFlow-Agent/internal/web3"
	"ChainFlow-Agent/internal/web3/ethereum"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	clients map[string]web3.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, chainConfigPath string) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(chainConfigPath)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			var gasCeiling *big.Int
			if chain.GasCeilingGwei > 0 {
				gasCeiling = new(big.Int).Mul(big.NewInt(chain.GasCeilingGwei), big.NewInt(1_000_000_000))
			}
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:         name,
				ChainID:      chain.ChainID,
				RPCURL:       chain.RPCURL,
				VaultAddress: chain.VaultAddress,
				PoolManager:  chain.PoolManager,
				Assets:       chain.Assets,
				SignerKeyEnv: chain.SignerKeyEnv,
				GasCeiling:   gasCeiling,
			})
			if err != nil {
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
		default:
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	return &Registry{clients: clients}, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}
