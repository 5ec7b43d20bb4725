package action

import (
	"context"
	"math/big"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
	"ChainFlow-Agent/internal/scoring"
	"ChainFlow-Agent/internal/task"
	"ChainFlow-Agent/internal/web3"
)

// SwapConfig 配置单链资产兑换动作。
type SwapConfig struct {
	Client    web3.Client
	FromAsset string
	ToAsset   string
	// Amount 是每次兑换的数量（wei）。
	Amount *big.Int
	// Feed 提供目标链的机会评分。
	Feed scoring.Feed
	// Gate 抑制评分抖动引起的反复兑换。
	Gate *scoring.Gate
	// MinScore 是触发兑换的评分下限。
	MinScore float64
	// MaxScoreAge 超过该时长的评分快照视为过期，不触发动作。
	MaxScoreAge time.Duration
}

// Swap 在单条链上把 FromAsset 兑换为 ToAsset，当且仅当该链的
// 机会评分越过阈值且通过迟滞闸门。
type Swap struct {
	client      web3.Client
	fromAsset   string
	toAsset     string
	amount      *big.Int
	feed        scoring.Feed
	gate        *scoring.Gate
	minScore    float64
	maxScoreAge time.Duration
}

// NewSwap 创建兑换动作。
func NewSwap(cfg SwapConfig) (*Swap, error) {
	if cfg.Client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "兑换动作缺少链客户端")
	}
	if cfg.FromAsset == "" || cfg.ToAsset == "" || cfg.FromAsset == cfg.ToAsset {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "兑换动作资产配置非法")
	}
	if cfg.Amount == nil || cfg.Amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "兑换动作金额非法")
	}
	if cfg.Feed == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "兑换动作缺少评分数据源")
	}
	return &Swap{
		client:      cfg.Client,
		fromAsset:   cfg.FromAsset,
		toAsset:     cfg.ToAsset,
		amount:      new(big.Int).Set(cfg.Amount),
		feed:        cfg.Feed,
		gate:        cfg.Gate,
		minScore:    cfg.MinScore,
		maxScoreAge: cfg.MaxScoreAge,
	}, nil
}

func (s *Swap) Name() string {
	return "swap/" + s.client.Name() + "/" + s.fromAsset + "-" + s.toAsset
}

// LockResources 同时锁定两种资产的金库余额，兑换期间禁止其他
// 动作动用同链同资产的资金。
func (s *Swap) LockResources() []string {
	chainID := s.client.ChainID()
	return []string{
		LockResource("vault", chainID, s.fromAsset),
		LockResource("vault", chainID, s.toAsset),
	}
}

func (s *Swap) ShouldStart(active []*task.Task) bool {
	if hasActiveTask(active, s.Name()) {
		return false
	}
	score, ok := s.feed.Snapshot(s.client.ChainID())
	if !ok || score.Stale(s.maxScoreAge, time.Now()) {
		return false
	}
	if score.Score < s.minScore {
		return false
	}
	if s.gate != nil && !s.gate.Allow(s.client.ChainID(), score.Score) {
		return false
	}
	return true
}

func (s *Swap) Start(ctx context.Context, active []*task.Task, force bool) (*task.Task, string, error) {
	if !force && !s.ShouldStart(active) {
		return nil, "评分未达到兑换阈值", nil
	}
	payload := chainTxPayload{Phase: phaseSubmit, Amount: s.amount.String()}
	t, err := newTask(s.Name(), s.LockResources(), payload, time.Now())
	if err != nil {
		return nil, "", err
	}
	return t, "", nil
}

func (s *Swap) Update(ctx context.Context, t *task.Task) (*task.Task, error) {
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
		return runSubmitPhase(ctx, t, s.Name()+".swap", func(ctx context.Context) (string, error) {
			return s.client.Swap(ctx, s.fromAsset, s.toAsset, amount)
		})
	case phaseConfirm:
		return runConfirmPhase(ctx, s.client, t, s.Name(), func() {
			if s.gate == nil {
				return
			}
			if score, ok := s.feed.Snapshot(s.client.ChainID()); ok {
				s.gate.Commit(s.client.ChainID(), score.Score)
			}
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务阶段: "+payload.Phase)
	}
}

func (s *Swap) Stop(ctx context.Context) error {
	return nil
}

var _ Definition = (*Swap)(nil)
