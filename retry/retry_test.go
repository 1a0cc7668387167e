package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastConfig(n int) Config {
	return Config{MaxRetries: n, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2, Jitter: 0.1}
}

func TestDo(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, fastConfig(5))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, fastConfig(2))
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestDoIf_NotRetryable(t *testing.T) {
	calls := 0
	err := DoIf(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, func(error) bool { return false }, fastConfig(5))
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(5)
	cfg.InitialBackoff = time.Hour

	err := Do(ctx, func(context.Context) error {
		cancel()
		return errTransient
	}, cfg)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithRetries(t *testing.T) {
	cfg := WithRetries(0)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, DefaultConfig().InitialBackoff, cfg.InitialBackoff)

	calls := 0
	_ = Do(context.Background(), func(context.Context) error { calls++; return errTransient }, Config{MaxRetries: -1})
	assert.Equal(t, 1, calls)
}
