package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
)

func TestBackoffDelaysDouble(t *testing.T) {
	profile := Profile{
		MaxAttempts: 3,
		BaseDelay:   1000 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}.normalize()

	if got := profile.backoffDelay(1); got != 1000*time.Millisecond {
		t.Fatalf("expected 1000ms before 2nd attempt, got %v", got)
	}
	if got := profile.backoffDelay(2); got != 2000*time.Millisecond {
		t.Fatalf("expected 2000ms before 3rd attempt, got %v", got)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	profile := Profile{
		MaxAttempts: 10,
		BaseDelay:   1 * time.Second,
		MaxDelay:    10 * time.Second,
	}.normalize()

	if got := profile.backoffDelay(9); got != 10*time.Second {
		t.Fatalf("expected delay capped at 10s, got %v", got)
	}
}

func TestDoReturnsSuccessAfterFailures(t *testing.T) {
	ctx := context.Background()
	attempts := 0

	value, err := Do(ctx, "flaky-op", Profile{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
	}, func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("boom")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if value != "ok" {
		t.Fatalf("unexpected value: %q", value)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoWaitsBetweenAttempts(t *testing.T) {
	ctx := context.Background()
	var starts []time.Time

	_, err := Do(ctx, "timed-op", Profile{
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
	}, func(context.Context) (int, error) {
		starts = append(starts, time.Now())
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if len(starts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(starts))
	}
	if gap := starts[1].Sub(starts[0]); gap < 20*time.Millisecond {
		t.Fatalf("expected >= 20ms before 2nd attempt, got %v", gap)
	}
	if gap := starts[2].Sub(starts[1]); gap < 40*time.Millisecond {
		t.Fatalf("expected >= 40ms before 3rd attempt, got %v", gap)
	}
}

func TestDoAttemptTimeout(t *testing.T) {
	ctx := context.Background()

	_, err := Do(ctx, "slow-op", Profile{
		MaxAttempts: 1,
		Timeout:     20 * time.Millisecond,
	}, func(ctx context.Context) (int, error) {
		select {
		case <-time.After(time.Second):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if code := xerrors.CodeOf(err); code != xerrors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %s", code)
	}
}

func TestDoExhaustionWrapsLastError(t *testing.T) {
	ctx := context.Background()

	_, err := Do(ctx, "doomed-op", Profile{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if code := xerrors.CodeOf(err); code != xerrors.CodeRetriesExhausted {
		t.Fatalf("expected RETRIES_EXHAUSTED, got %s", code)
	}
}

func TestDoContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Do(ctx, "cancelled-op", Profile{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Second,
	}, func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
