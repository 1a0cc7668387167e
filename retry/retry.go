// Package retry 提供指数退避重试，用于建立外部连接等可恢复的操作.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/wyfcoding/geodist/logging"
)

// Func 定义了可被重试执行的函数原型.
type Func func(ctx context.Context) error

// Config 封装了重试策略参数，MaxRetries 为 0 时只执行一次.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
	MaxRetries     int
}

// DefaultConfig 返回默认重试配置.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// WithRetries 返回只修改了重试次数的默认配置.
func WithRetries(n int) Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = n
	return cfg
}

// Do 按策略执行 fn，直到成功或次数用尽.
func Do(ctx context.Context, fn Func, cfg Config) error {
	return DoIf(ctx, fn, func(error) bool { return true }, cfg)
}

// DoIf 仅在 shouldRetry 返回 true 时进行重试.
func DoIf(ctx context.Context, fn Func, shouldRetry func(error) bool, cfg Config) error {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxRetries || !shouldRetry(lastErr) {
			break
		}

		logging.Debug(ctx, "retrying after failure", "attempt", attempt+1, "backoff", backoff, "error", lastErr)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		next := float64(backoff) * cfg.Multiplier
		if cfg.Jitter > 0 {
			next += (rand.Float64()*2 - 1) * cfg.Jitter * next
		}
		backoff = min(time.Duration(next), cfg.MaxBackoff)
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
