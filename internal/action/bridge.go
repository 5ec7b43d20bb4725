package action

import (
	"context"
	"math/big"
	"time"

	"ChainFlow-Agent/internal/bridge"
	xerrors "ChainFlow-Agent/internal/errors"
	"ChainFlow-Agent/internal/scoring"
	"ChainFlow-Agent/internal/task"
	"ChainFlow-Agent/internal/web3"
	"ChainFlow-Agent/pkg/retry"
)

// BridgeConfig 配置跨链转移动作。
type BridgeConfig struct {
	// From 与 To 是资金流出、流入两侧的链客户端。
	From web3.Client
	To   web3.Client
	// Backend 是执行实际跨链转移的组合服务。
	Backend bridge.Backend
	Asset   string
	// Amount 是单次转移数量（wei）。
	Amount *big.Int
	Feed   scoring.Feed
	Gate   *scoring.Gate
	// MinSpread 是目标链与来源链评分差的触发下限。
	MinSpread   float64
	MaxScoreAge time.Duration
}

// Bridge 在目标链机会评分显著高于来源链时，通过组合服务把
// 资金从来源链转移到目标链。转移的幂等与内部重试由组合服务
// 负责，这里只做提交与轮询。
type Bridge struct {
	cfg BridgeConfig
}

// NewBridge 创建跨链转移动作。
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.From == nil || cfg.To == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "跨链动作缺少链客户端")
	}
	if cfg.From.ChainID() == cfg.To.ChainID() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "跨链动作两侧链相同")
	}
	if cfg.Backend == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "跨链动作缺少桥接服务")
	}
	if cfg.Asset == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "跨链动作缺少资产")
	}
	if cfg.Amount == nil || cfg.Amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "跨链动作金额非法")
	}
	if cfg.Feed == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "跨链动作缺少评分数据源")
	}
	cfg.Amount = new(big.Int).Set(cfg.Amount)
	return &Bridge{cfg: cfg}, nil
}

func (b *Bridge) Name() string {
	return "bridge/" + b.cfg.From.Name() + "-" + b.cfg.To.Name() + "/" + b.cfg.Asset
}

// LockResources 同时锁定两侧链的金库资产，转移期间两侧都不允许
// 其他动作动用该资产。
func (b *Bridge) LockResources() []string {
	return []string{
		LockResource("vault", b.cfg.From.ChainID(), b.cfg.Asset),
		LockResource("vault", b.cfg.To.ChainID(), b.cfg.Asset),
	}
}

func (b *Bridge) gateKey() string {
	return b.cfg.From.ChainID() + ">" + b.cfg.To.ChainID()
}

func (b *Bridge) ShouldStart(active []*task.Task) bool {
	if hasActiveTask(active, b.Name()) {
		return false
	}
	now := time.Now()
	from, ok := b.cfg.Feed.Snapshot(b.cfg.From.ChainID())
	if !ok || from.Stale(b.cfg.MaxScoreAge, now) {
		return false
	}
	to, ok := b.cfg.Feed.Snapshot(b.cfg.To.ChainID())
	if !ok || to.Stale(b.cfg.MaxScoreAge, now) {
		return false
	}
	spread := to.Score - from.Score
	if spread < b.cfg.MinSpread {
		return false
	}
	if b.cfg.Gate != nil && !b.cfg.Gate.Allow(b.gateKey(), spread) {
		return false
	}
	return true
}

// Start 先向组合服务取报价，报价成功才创建任务。来源链金库缓冲
// 不足时拒绝启动。
func (b *Bridge) Start(ctx context.Context, active []*task.Task, force bool) (*task.Task, string, error) {
	if !force && !b.ShouldStart(active) {
		return nil, "评分差未达到跨链阈值", nil
	}

	buffer, err := retry.Do(ctx, b.Name()+".buffer", retry.ReadProfile, func(ctx context.Context) (*big.Int, error) {
		return b.cfg.From.VaultBuffer(ctx, b.cfg.Asset)
	})
	if err != nil {
		return nil, "", err
	}
	if buffer.Cmp(b.cfg.Amount) < 0 {
		return nil, "来源链金库缓冲不足: " + buffer.String(), nil
	}

	quote, err := retry.Do(ctx, b.Name()+".quote", retry.ReadProfile, func(ctx context.Context) (bridge.Quote, error) {
		return b.cfg.Backend.QuoteTransfer(ctx, b.cfg.From.Name(), b.cfg.To.Name(), b.cfg.Asset, b.cfg.Amount)
	})
	if err != nil {
		return nil, "", err
	}

	payload := bridgePayload{
		Phase:   phaseSubmit,
		QuoteID: quote.QuoteID,
		Amount:  b.cfg.Amount.String(),
	}
	t, err := newTask(b.Name(), b.LockResources(), payload, time.Now())
	if err != nil {
		return nil, "", err
	}
	return t, "", nil
}

func (b *Bridge) Update(ctx context.Context, t *task.Task) (*task.Task, error) {
	var payload bridgePayload
	if err := t.DecodeData(&payload); err != nil {
		return nil, err
	}

	switch payload.Phase {
	case phaseSubmit:
		transfer, err := retry.Do(ctx, b.Name()+".submit", retry.WriteProfile, func(ctx context.Context) (bridge.Transfer, error) {
			return b.cfg.Backend.SubmitTransfer(ctx, payload.QuoteID)
		})
		if err != nil {
			return nil, err
		}
		payload.Phase = phaseConfirm
		payload.CorrelationID = transfer.CorrelationID
		if err := t.EncodeData(&payload); err != nil {
			return nil, err
		}
		t.Status = task.StatusRunning
		t.StatusMessage = "转移已提交: " + transfer.CorrelationID
		return t, nil

	case phaseConfirm:
		transfer, err := retry.Do(ctx, b.Name()+".status", retry.ReadProfile, func(ctx context.Context) (bridge.Transfer, error) {
			return b.cfg.Backend.TransferStatus(ctx, payload.CorrelationID)
		})
		if err != nil {
			return nil, err
		}
		switch transfer.Status {
		case bridge.TransferCompleted:
			t.Finish(task.StatusCompleted, "跨链转移完成: "+payload.CorrelationID, time.Now())
			if b.cfg.Gate != nil {
				b.commitSpread()
			}
			return t, nil
		case bridge.TransferFailed:
			// 组合服务判定的终态失败属于业务失败，与异常区分。
			message := transfer.Message
			if message == "" {
				message = "跨链转移失败: " + payload.CorrelationID
			}
			t.Finish(task.StatusFailed, message, time.Now())
			return t, nil
		default:
			t.StatusMessage = "等待跨链转移完成: " + payload.CorrelationID
			return t, nil
		}

	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务阶段: "+payload.Phase)
	}
}

func (b *Bridge) commitSpread() {
	from, okFrom := b.cfg.Feed.Snapshot(b.cfg.From.ChainID())
	to, okTo := b.cfg.Feed.Snapshot(b.cfg.To.ChainID())
	if okFrom && okTo {
		b.cfg.Gate.Commit(b.gateKey(), to.Score-from.Score)
	}
}

func (b *Bridge) Stop(ctx context.Context) error {
	return nil
}

var _ Definition = (*Bridge)(nil)
