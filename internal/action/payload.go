package action

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	xerrors "ChainFlow-Agent/internal/errors"
	"ChainFlow-Agent/internal/task"
)

// 任务负载中的执行阶段。首次 Update 完成 pre_start 到 running
// 的迁移并提交链上交易，之后的 Update 轮询确认结果。
const (
	phaseSubmit  = "submit"
	phaseConfirm = "confirm"
)

// chainTxPayload 是单链交易类动作（金库同步、兑换、加减流动性）
// 的任务负载。
type chainTxPayload struct {
	Phase  string `json:"phase"`
	TxHash string `json:"tx_hash,omitempty"`
	Amount string `json:"amount,omitempty"`
}

// bridgePayload 是跨链桥动作的任务负载。CorrelationID 由组合
// 服务返回，用于跨 tick 轮询转移进度。
type bridgePayload struct {
	Phase         string `json:"phase"`
	QuoteID       string `json:"quote_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Amount        string `json:"amount"`
}

// newTask 以 pre_start 状态组装一条新任务记录。
func newTask(definition string, resources []string, payload any, now time.Time) (*task.Task, error) {
	t := &task.Task{
		ID:             uuid.NewString(),
		DefinitionName: definition,
		Status:         task.StatusPreStart,
		ResourcesTaken: append([]string(nil), resources...),
		StartedAt:      now.UnixMilli(),
		LastUpdatedAt:  now.UnixMilli(),
	}
	if payload != nil {
		if err := t.EncodeData(payload); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// parseAmount 校验并解析十进制 wei 金额。
func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的金额: "+raw)
	}
	return amount, nil
}
