package ethereum

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// 金库与池管理合约的最小 ABI，只包含调度器用到的方法。
const vaultABI = `[
  {"type":"function","name":"buffer","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"sync","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const poolManagerABI = `[
  {"type":"function","name":"positionOf","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"swap","stateMutability":"nonpayable","inputs":[{"name":"fromAsset","type":"address"},{"name":"toAsset","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

var (
	abiOnce     sync.Once
	parsedVault abi.ABI
	parsedPool  abi.ABI
	abiErr      error
)

func loadABIs() (abi.ABI, abi.ABI, error) {
	abiOnce.Do(func() {
		parsedVault, abiErr = abi.JSON(strings.NewReader(vaultABI))
		if abiErr != nil {
			abiErr = fmt.Errorf("解析金库 ABI 失败: %w", abiErr)
			return
		}
		parsedPool, abiErr = abi.JSON(strings.NewReader(poolManagerABI))
		if abiErr != nil {
			abiErr = fmt.Errorf("解析池管理 ABI 失败: %w", abiErr)
		}
	})
	return parsedVault, parsedPool, abiErr
}
