package web3

import (
	"context"
	"math/big"
)

// TxStatus 表示一笔已提交交易的确认状态。
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxReverted  TxStatus = "reverted"
)

// ChainSnapshot 汇总链的轻量元数据，供观测与日志使用。
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	GasPrice    string `json:"gas_price"`
}

// Client 定义了所有链实现必须提供的统一接口。
// 所有状态变更调用都返回交易哈希，由调用方轮询确认。
type Client interface {
	// Name 返回链在配置中的可读名称。
	Name() string
	// ChainID 返回链 ID 的十进制字符串。
	ChainID() string
	// FetchChainSnapshot 采集链的最新元数据。
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	// SuggestGasPrice 返回当前建议的 gas 价格（wei）。
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// VaultBuffer 读取金库中指定资产的缓冲余额。
	VaultBuffer(ctx context.Context, asset string) (*big.Int, error)
	// PoolLiquidity 读取本代理在指定资产池中的头寸规模。
	PoolLiquidity(ctx context.Context, asset string) (*big.Int, error)
	// SyncVault 触发金库的账实核对交易。
	SyncVault(ctx context.Context) (string, error)
	// Swap 在本链上把 fromAsset 兑换为 toAsset。
	Swap(ctx context.Context, fromAsset, toAsset string, amount *big.Int) (string, error)
	// AddLiquidity 将金库资金存入资产池。
	AddLiquidity(ctx context.Context, asset string, amount *big.Int) (string, error)
	// RemoveLiquidity 从资产池撤回资金到金库。
	RemoveLiquidity(ctx context.Context, asset string, amount *big.Int) (string, error)
	// TransactionStatus 查询交易哈希的确认状态。
	TransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
	Close()
}
