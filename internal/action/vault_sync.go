package action

import (
	"context"
	"sync"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
	"ChainFlow-Agent/internal/task"
	"ChainFlow-Agent/internal/web3"
)

// VaultSyncConfig 配置金库账实核对动作。
type VaultSyncConfig struct {
	// Client 是目标链的客户端。
	Client web3.Client
	// Interval 是两次核对之间的最短间隔，缺省 1 小时。
	Interval time.Duration
}

// VaultSync 周期性地在目标链上触发金库的账实核对交易。
// 动作状态（上一次核对时间）显式保存在结构体字段中。
type VaultSync struct {
	client   web3.Client
	interval time.Duration

	mu           sync.Mutex
	lastSyncedAt time.Time
}

// NewVaultSync 创建金库核对动作。
func NewVaultSync(cfg VaultSyncConfig) (*VaultSync, error) {
	if cfg.Client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金库核对动作缺少链客户端")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &VaultSync{
		client:   cfg.Client,
		interval: interval,
	}, nil
}

func (v *VaultSync) Name() string {
	return "vault-sync/" + v.client.Name()
}

func (v *VaultSync) LockResources() []string {
	return []string{LockResource("vault", v.client.ChainID(), "buffer")}
}

// ShouldStart 在距离上一次核对超过 Interval 时放行。
func (v *VaultSync) ShouldStart(active []*task.Task) bool {
	if hasActiveTask(active, v.Name()) {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return time.Since(v.lastSyncedAt) >= v.interval
}

func (v *VaultSync) Start(ctx context.Context, active []*task.Task, force bool) (*task.Task, string, error) {
	if !force && !v.ShouldStart(active) {
		return nil, "核对间隔未到", nil
	}
	payload := chainTxPayload{Phase: phaseSubmit}
	t, err := newTask(v.Name(), v.LockResources(), payload, time.Now())
	if err != nil {
		return nil, "", err
	}
	return t, "", nil
}

func (v *VaultSync) Update(ctx context.Context, t *task.Task) (*task.Task, error) {
	var payload chainTxPayload
	if err := t.DecodeData(&payload); err != nil {
		return nil, err
	}

	switch payload.Phase {
	case phaseSubmit:
		return runSubmitPhase(ctx, t, v.Name()+".sync", func(ctx context.Context) (string, error) {
			return v.client.SyncVault(ctx)
		})
	case phaseConfirm:
		return runConfirmPhase(ctx, v.client, t, v.Name(), func() {
			v.mu.Lock()
			v.lastSyncedAt = time.Now()
			v.mu.Unlock()
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务阶段: "+payload.Phase)
	}
}

// Stop 没有可取消的外部资源，仅满足接口。
func (v *VaultSync) Stop(ctx context.Context) error {
	return nil
}

var _ Definition = (*VaultSync)(nil)
