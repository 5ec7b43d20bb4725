package action

import (
	"context"
	"math/big"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
	"ChainFlow-Agent/internal/scoring"
	"ChainFlow-Agent/internal/task"
	"ChainFlow-Agent/internal/web3"
	"ChainFlow-Agent/pkg/retry"
)

// LiquidityConfig 同时服务加流动性与减流动性两个动作变体。
type LiquidityConfig struct {
	Client web3.Client
	Asset  string
	// Amount 是单次存入或撤出的数量（wei）。
	Amount *big.Int
	Feed   scoring.Feed
	Gate   *scoring.Gate
	// Threshold 是评分阈值：加流动性要求评分不低于该值，
	// 减流动性要求评分不高于该值。
	Threshold   float64
	MaxScoreAge time.Duration
}

func (cfg LiquidityConfig) validate() error {
	if cfg.Client == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "流动性动作缺少链客户端")
	}
	if cfg.Asset == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "流动性动作缺少资产")
	}
	if cfg.Amount == nil || cfg.Amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "流动性动作金额非法")
	}
	if cfg.Feed == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "流动性动作缺少评分数据源")
	}
	return nil
}

func liquidityLocks(client web3.Client, asset string) []string {
	chainID := client.ChainID()
	return []string{
		LockResource("pool", chainID, asset),
		LockResource("vault", chainID, asset),
	}
}

// AddLiquidity 在评分走高时把金库资金存入资产池。
type AddLiquidity struct {
	cfg LiquidityConfig
}

// NewAddLiquidity 创建加流动性动作。
func NewAddLiquidity(cfg LiquidityConfig) (*AddLiquidity, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Amount = new(big.Int).Set(cfg.Amount)
	return &AddLiquidity{cfg: cfg}, nil
}

func (a *AddLiquidity) Name() string {
	return "add-liquidity/" + a.cfg.Client.Name() + "/" + a.cfg.Asset
}

func (a *AddLiquidity) LockResources() []string {
	return liquidityLocks(a.cfg.Client, a.cfg.Asset)
}

func (a *AddLiquidity) ShouldStart(active []*task.Task) bool {
	if hasActiveTask(active, a.Name()) {
		return false
	}
	score, ok := a.cfg.Feed.Snapshot(a.cfg.Client.ChainID())
	if !ok || score.Stale(a.cfg.MaxScoreAge, time.Now()) {
		return false
	}
	if score.Score < a.cfg.Threshold {
		return false
	}
	if a.cfg.Gate != nil && !a.cfg.Gate.Allow(a.cfg.Client.ChainID(), score.Score) {
		return false
	}
	return true
}

// Start 先核对金库缓冲是否足够，余额不足时拒绝启动，
// 留待下一个 tick 重新评估。
func (a *AddLiquidity) Start(ctx context.Context, active []*task.Task, force bool) (*task.Task, string, error) {
	if !force && !a.ShouldStart(active) {
		return nil, "评分未达到入池阈值", nil
	}

	buffer, err := retry.Do(ctx, a.Name()+".buffer", retry.ReadProfile, func(ctx context.Context) (*big.Int, error) {
		return a.cfg.Client.VaultBuffer(ctx, a.cfg.Asset)
	})
	if err != nil {
		return nil, "", err
	}
	if buffer.Cmp(a.cfg.Amount) < 0 {
		return nil, "金库缓冲不足: " + buffer.String(), nil
	}

	payload := chainTxPayload{Phase: phaseSubmit, Amount: a.cfg.Amount.String()}
	t, err := newTask(a.Name(), a.LockResources(), payload, time.Now())
	if err != nil {
		return nil, "", err
	}
	return t, "", nil
}

func (a *AddLiquidity) Update(ctx context.Context, t *task.Task) (*task.Task, error) {
	var payload chainTxPayload
	if err := t.DecodeData(&payload); err != nil {
		return nil, err
	}

	switch payload.Phase {
	case phaseSubmit:
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			return nil, err
		}
		return runSubmitPhase(ctx, t, a.Name()+".deposit", func(ctx context.Context) (string, error) {
			return a.cfg.Client.AddLiquidity(ctx, a.cfg.Asset, amount)
		})
	case phaseConfirm:
		return runConfirmPhase(ctx, a.cfg.Client, t, a.Name(), func() {
			commitGate(a.cfg)
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务阶段: "+payload.Phase)
	}
}

func (a *AddLiquidity) Stop(ctx context.Context) error {
	return nil
}

// RemoveLiquidity 在评分走低时把资金从资产池撤回金库。
type RemoveLiquidity struct {
	cfg LiquidityConfig
}

// NewRemoveLiquidity 创建减流动性动作。
func NewRemoveLiquidity(cfg LiquidityConfig) (*RemoveLiquidity, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Amount = new(big.Int).Set(cfg.Amount)
	return &RemoveLiquidity{cfg: cfg}, nil
}

func (r *RemoveLiquidity) Name() string {
	return "remove-liquidity/" + r.cfg.Client.Name() + "/" + r.cfg.Asset
}

func (r *RemoveLiquidity) LockResources() []string {
	return liquidityLocks(r.cfg.Client, r.cfg.Asset)
}

func (r *RemoveLiquidity) ShouldStart(active []*task.Task) bool {
	if hasActiveTask(active, r.Name()) {
		return false
	}
	score, ok := r.cfg.Feed.Snapshot(r.cfg.Client.ChainID())
	if !ok || score.Stale(r.cfg.MaxScoreAge, time.Now()) {
		return false
	}
	if score.Score > r.cfg.Threshold {
		return false
	}
	if r.cfg.Gate != nil && !r.cfg.Gate.Allow(r.cfg.Client.ChainID(), score.Score) {
		return false
	}
	return true
}

// Start 先核对池内头寸，空头寸时拒绝启动。
func (r *RemoveLiquidity) Start(ctx context.Context, active []*task.Task, force bool) (*task.Task, string, error) {
	if !force && !r.ShouldStart(active) {
		return nil, "评分未低于出池阈值", nil
	}

	position, err := retry.Do(ctx, r.Name()+".position", retry.ReadProfile, func(ctx context.Context) (*big.Int, error) {
		return r.cfg.Client.PoolLiquidity(ctx, r.cfg.Asset)
	})
	if err != nil {
		return nil, "", err
	}
	if position.Sign() == 0 {
		return nil, "池内没有可撤出的头寸", nil
	}

	// 头寸不足一次标准撤出量时撤出全部。
	amount := new(big.Int).Set(r.cfg.Amount)
	if position.Cmp(amount) < 0 {
		amount.Set(position)
	}

	payload := chainTxPayload{Phase: phaseSubmit, Amount: amount.String()}
	t, err := newTask(r.Name(), r.LockResources(), payload, time.Now())
	if err != nil {
		return nil, "", err
	}
	return t, "", nil
}

func (r *RemoveLiquidity) Update(ctx context.Context, t *task.Task) (*task.Task, error) {
	var payload chainTxPayload
	if err := t.DecodeData(&payload); err != nil {
		return nil, err
	}

	switch payload.Phase {
	case phaseSubmit:
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			return nil, err
		}
		return runSubmitPhase(ctx, t, r.Name()+".withdraw", func(ctx context.Context) (string, error) {
			return r.cfg.Client.RemoveLiquidity(ctx, r.cfg.Asset, amount)
		})
	case phaseConfirm:
		return runConfirmPhase(ctx, r.cfg.Client, t, r.Name(), func() {
			commitGate(r.cfg)
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务阶段: "+payload.Phase)
	}
}

func (r *RemoveLiquidity) Stop(ctx context.Context) error {
	return nil
}

// commitGate 以确认成交时刻的评分刷新迟滞基准。
func commitGate(cfg LiquidityConfig) {
	if cfg.Gate == nil {
		return
	}
	if score, ok := cfg.Feed.Snapshot(cfg.Client.ChainID()); ok {
		cfg.Gate.Commit(cfg.Client.ChainID(), score.Score)
	}
}

var (
	_ Definition = (*AddLiquidity)(nil)
	_ Definition = (*RemoveLiquidity)(nil)
)
