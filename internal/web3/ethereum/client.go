package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"ChainFlow-Agent/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name         string
	ChainID      string
	RPCURL       string
	VaultAddress string
	PoolManager  string
	Assets       map[string]string
	SignerKeyEnv string
	GasCeiling   *big.Int
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name       string
	chainID    *big.Int
	rpcClient  *gethrpc.Client
	eth        backend
	vault      common.Address
	pool       common.Address
	assets     map[string]common.Address
	vaultABI   abi.ABI
	poolABI    abi.ABI
	signerKey  *ecdsa.PrivateKey
	signerAddr common.Address
	gasCeiling *big.Int

	mu    sync.Mutex
	nonce uint64
}

// backend mirrors the ethclient surface the client depends on, so tests can
// substitute an in-memory implementation.
type backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置链的 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接链节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, ok := new(big.Int).SetString(strings.TrimSpace(cfg.ChainID), 10)
	if !ok || chainID.Sign() <= 0 {
		var fetched *big.Int
		fetched, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		chainID = fetched
	}

	client, err := newClient(cfg, chainID, eth)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	return client, nil
}

// newClient wires the pure configuration; the backend may be a test double.
func newClient(cfg Config, chainID *big.Int, eth backend) (*Client, error) {
	vaultParsed, poolParsed, err := loadABIs()
	if err != nil {
		return nil, err
	}

	assets := make(map[string]common.Address, len(cfg.Assets))
	for symbol, addr := range cfg.Assets {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("资产 %s 的地址 %s 无效", symbol, addr)
		}
		assets[symbol] = common.HexToAddress(addr)
	}

	client := &Client{
		name:       cfg.Name,
		chainID:    new(big.Int).Set(chainID),
		eth:        eth,
		assets:     assets,
		vaultABI:   vaultParsed,
		poolABI:    poolParsed,
		gasCeiling: cfg.GasCeiling,
	}

	if cfg.VaultAddress != "" {
		if !common.IsHexAddress(cfg.VaultAddress) {
			return nil, fmt.Errorf("金库地址 %s 无效", cfg.VaultAddress)
		}
		client.vault = common.HexToAddress(cfg.VaultAddress)
	}
	if cfg.PoolManager != "" {
		if !common.IsHexAddress(cfg.PoolManager) {
			return nil, fmt.Errorf("池管理地址 %s 无效", cfg.PoolManager)
		}
		client.pool = common.HexToAddress(cfg.PoolManager)
	}

	if cfg.SignerKeyEnv != "" {
		raw := strings.TrimPrefix(strings.TrimSpace(os.Getenv(cfg.SignerKeyEnv)), "0x")
		if raw == "" {
			return nil, fmt.Errorf("签名私钥环境变量 %s 为空", cfg.SignerKeyEnv)
		}
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("解析签名私钥失败: %w", err)
		}
		client.signerKey = key
		client.signerAddr = crypto.PubkeyToAddress(key.PublicKey)
	}

	return client, nil
}

// Name 返回链在配置中的名称。
func (c *Client) Name() string { return c.name }

// ChainID 返回链 ID 的十进制字符串。
func (c *Client) ChainID() string { return c.chainID.String() }

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     c.chainID.String(),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		GasPrice:    gasPrice.String(),
	}, nil
}

// SuggestGasPrice 返回当前建议的 gas 价格。
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	return price, nil
}

// VaultBuffer 读取金库中指定资产的缓冲余额。
func (c *Client) VaultBuffer(ctx context.Context, asset string) (*big.Int, error) {
	if c.vault == (common.Address{}) {
		return nil, errors.New("链未配置金库地址")
	}
	addr, err := c.assetAddress(asset)
	if err != nil {
		return nil, err
	}
	return c.callUint(ctx, c.vault, c.vaultABI, "buffer", addr)
}

// PoolLiquidity 读取本代理在指定资产池中的头寸规模。
func (c *Client) PoolLiquidity(ctx context.Context, asset string) (*big.Int, error) {
	if c.pool == (common.Address{}) {
		return nil, errors.New("链未配置池管理地址")
	}
	addr, err := c.assetAddress(asset)
	if err != nil {
		return nil, err
	}
	return c.callUint(ctx, c.pool, c.poolABI, "positionOf", addr)
}

// SyncVault 触发金库的账实核对交易。
func (c *Client) SyncVault(ctx context.Context) (string, error) {
	if c.vault == (common.Address{}) {
		return "", errors.New("链未配置金库地址")
	}
	data, err := c.vaultABI.Pack("sync")
	if err != nil {
		return "", fmt.Errorf("编码 sync 调用失败: %w", err)
	}
	return c.transact(ctx, c.vault, data)
}

// Swap 在本链上把 fromAsset 兑换为 toAsset。
func (c *Client) Swap(ctx context.Context, fromAsset, toAsset string, amount *big.Int) (string, error) {
	fromAddr, err := c.assetAddress(fromAsset)
	if err != nil {
		return "", err
	}
	toAddr, err := c.assetAddress(toAsset)
	if err != nil {
		return "", err
	}
	data, err := c.poolABI.Pack("swap", fromAddr, toAddr, amount)
	if err != nil {
		return "", fmt.Errorf("编码 swap 调用失败: %w", err)
	}
	return c.transact(ctx, c.pool, data)
}

// AddLiquidity 将金库资金存入资产池。
func (c *Client) AddLiquidity(ctx context.Context, asset string, amount *big.Int) (string, error) {
	addr, err := c.assetAddress(asset)
	if err != nil {
		return "", err
	}
	data, err := c.poolABI.Pack("deposit", addr, amount)
	if err != nil {
		return "", fmt.Errorf("编码 deposit 调用失败: %w", err)
	}
	return c.transact(ctx, c.pool, data)
}

// RemoveLiquidity 从资产池撤回资金到金库。
func (c *Client) RemoveLiquidity(ctx context.Context, asset string, amount *big.Int) (string, error) {
	addr, err := c.assetAddress(asset)
	if err != nil {
		return "", err
	}
	data, err := c.poolABI.Pack("withdraw", addr, amount)
	if err != nil {
		return "", fmt.Errorf("编码 withdraw 调用失败: %w", err)
	}
	return c.transact(ctx, c.pool, data)
}

// TransactionStatus 查询交易哈希的确认状态。
func (c *Client) TransactionStatus(ctx context.Context, txHash string) (web3.TxStatus, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return web3.TxPending, nil
		}
		return "", fmt.Errorf("查询交易回执失败: %w", err)
	}
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		return web3.TxConfirmed, nil
	}
	return web3.TxReverted, nil
}

func (c *Client) assetAddress(symbol string) (common.Address, error) {
	addr, ok := c.assets[symbol]
	if !ok {
		return common.Address{}, fmt.Errorf("链 %s 未配置资产 %s", c.name, symbol)
	}
	return addr, nil
}

func (c *Client) callUint(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) (*big.Int, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	results, err := parsed.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s 未返回数据", method)
	}
	value, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s 返回值类型意外", method)
	}
	return value, nil
}

// transact 以固定 gas 上限构造并广播一笔合约调用交易。
func (c *Client) transact(ctx context.Context, to common.Address, data []byte) (string, error) {
	if c.signerKey == nil {
		return "", errors.New("链未配置签名私钥，无法发送交易")
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	if c.gasCeiling != nil && c.gasCeiling.Sign() > 0 && gasPrice.Cmp(c.gasCeiling) > 0 {
		return "", fmt.Errorf("gas 价格 %s 超出上限 %s", gasPrice, c.gasCeiling)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.eth.PendingNonceAt(ctx, c.signerAddr)
	if err != nil {
		return "", fmt.Errorf("查询 nonce 失败: %w", err)
	}
	if nonce < c.nonce {
		nonce = c.nonce
	}

	tx := coretypes.NewTransaction(nonce, to, big.NewInt(0), 500_000, gasPrice, data)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.signerKey)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("广播交易失败: %w", err)
	}
	c.nonce = nonce + 1
	return signed.Hash().Hex(), nil
}

var _ web3.Client = (*Client)(nil)
