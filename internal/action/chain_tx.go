package action

import (
	"context"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
	"ChainFlow-Agent/internal/task"
	"ChainFlow-Agent/internal/web3"
	"ChainFlow-Agent/pkg/retry"
)

// runSubmitPhase 执行单链交易任务的第一步：提交链上交易并把
// 任务从 pre_start 迁移到 running。submit 内部自行决定调用哪个
// 合约方法，这里统一套用写入重试策略。
func runSubmitPhase(ctx context.Context, t *task.Task, opName string, submit func(ctx context.Context) (string, error)) (*task.Task, error) {
	txHash, err := retry.Do(ctx, opName, retry.WriteProfile, submit)
	if err != nil {
		return nil, err
	}

	var payload chainTxPayload
	if len(t.Data) > 0 {
		if err := t.DecodeData(&payload); err != nil {
			return nil, err
		}
	}
	payload.Phase = phaseConfirm
	payload.TxHash = txHash
	if err := t.EncodeData(&payload); err != nil {
		return nil, err
	}

	t.Status = task.StatusRunning
	t.StatusMessage = "交易已提交: " + txHash
	return t, nil
}

// runConfirmPhase 轮询交易确认结果。确认成功时把任务置为
// completed 并回调 onConfirmed；交易被回滚则返回错误，由调度器
// 记录为 error 终态；仍在等待确认时任务保持 running。
func runConfirmPhase(ctx context.Context, client web3.Client, t *task.Task, opName string, onConfirmed func()) (*task.Task, error) {
	var payload chainTxPayload
	if err := t.DecodeData(&payload); err != nil {
		return nil, err
	}

	status, err := retry.Do(ctx, opName+".confirm", retry.ReadProfile, func(ctx context.Context) (web3.TxStatus, error) {
		return client.TransactionStatus(ctx, payload.TxHash)
	})
	if err != nil {
		return nil, err
	}

	switch status {
	case web3.TxConfirmed:
		t.Finish(task.StatusCompleted, "交易已确认: "+payload.TxHash, time.Now())
		if onConfirmed != nil {
			onConfirmed()
		}
		return t, nil
	case web3.TxReverted:
		return nil, xerrors.New(xerrors.CodeChainFailure, "交易被回滚: "+payload.TxHash)
	default:
		t.StatusMessage = "等待交易确认: " + payload.TxHash
		return t, nil
	}
}
