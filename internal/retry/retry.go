package retry

import (
	"context"
	"time"

	"rewardcraft/internal/backend"
	"rewardcraft/internal/fault"
)

// Policy bounds how transient backend faults are retried by callers.
type Policy struct {
	Attempts    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:    3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		CallTimeout: 2 * time.Minute,
	}
}

// Delay is the wait before retry number n (1-based): BaseDelay doubled per
// retry, capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Generate calls gen once per attempt under CallTimeout, retrying only faults
// marked retryable. The last error is returned unchanged.
func Generate(ctx context.Context, p Policy, gen backend.Generator, req backend.Request) (string, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var lastErr error
	for n := 1; n <= attempts; n++ {
		text, err := call(ctx, p.CallTimeout, gen, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !fault.IsRetryable(err) || n == attempts || ctx.Err() != nil {
			break
		}
		if err := sleep(ctx, p.Delay(n)); err != nil {
			break
		}
	}
	return "", lastErr
}

func call(ctx context.Context, timeout time.Duration, gen backend.Generator, req backend.Request) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return gen.Generate(ctx, req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
