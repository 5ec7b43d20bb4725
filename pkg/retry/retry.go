package retry

import (
	"context"
	"log/slog"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
	"ChainFlow-Agent/pkg/logger"
)

// Profile 描述一次可重试操作的执行策略。
type Profile struct {
	// MaxAttempts 是总尝试次数（含首次），小于 1 时按 1 处理。
	MaxAttempts int
	// Timeout 限制单次尝试的耗时，为零表示不限制。
	Timeout time.Duration
	// BaseDelay 是第一次重试前的等待时间。
	BaseDelay time.Duration
	// MaxDelay 是指数退避的上限。
	MaxDelay time.Duration
}

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 10 * time.Second
)

// ReadProfile 用于只读链上调用：2 次尝试，单次 5 秒超时。
var ReadProfile = Profile{
	MaxAttempts: 2,
	Timeout:     5 * time.Second,
	BaseDelay:   defaultBaseDelay,
	MaxDelay:    defaultMaxDelay,
}

// WriteProfile 用于改变链上状态的调用：3 次尝试，单次 10 秒超时。
var WriteProfile = Profile{
	MaxAttempts: 3,
	Timeout:     10 * time.Second,
	BaseDelay:   defaultBaseDelay,
	MaxDelay:    defaultMaxDelay,
}

func (p Profile) normalize() Profile {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// backoffDelay 返回第 attempt 次失败后、下一次尝试前的等待时间。
// attempt 从 1 开始计数。
func (p Profile) backoffDelay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do 按照给定策略执行 op，直到成功或尝试次数耗尽。
// 每次尝试都与 Timeout 竞争；超时的尝试按失败处理并记入 TIMEOUT 错误。
// 耗尽所有尝试后返回最后一次观察到的错误。
func Do[T any](ctx context.Context, name string, profile Profile, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	profile = profile.normalize()
	log := logger.Named("retry")

	var lastErr error
	for attempt := 1; attempt <= profile.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := profile.backoffDelay(attempt - 1)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		value, err := runAttempt(ctx, profile.Timeout, op)
		if err == nil {
			return value, nil
		}
		lastErr = err
		log.Warn("操作尝试失败",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", profile.MaxAttempts),
			slog.Any("error", err),
		)
	}

	log.Error("操作重试次数耗尽",
		slog.String("operation", name),
		slog.Int("attempts", profile.MaxAttempts),
		slog.Any("error", lastErr),
	)
	if profile.MaxAttempts > 1 {
		return zero, xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr, name+" 重试次数耗尽")
	}
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := op(attemptCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, xerrors.New(xerrors.CodeTimeout, "单次尝试超时")
	case result := <-done:
		return result.value, result.err
	}
}
