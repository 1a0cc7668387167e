package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/geodist/breaker"
	"github.com/wyfcoding/geodist/config"
	"github.com/wyfcoding/geodist/metrics"
	"github.com/wyfcoding/geodist/xerrors"
)

type snapshot struct {
	Centers []float64 `json:"centers"`
	Members [][]int   `json:"members"`
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(context.Background(), config.RedisConfig{
		Addrs:     []string{mr.Addr()},
		KeyPrefix: "geodist",
		Breaker: config.CircuitBreakerConfig{
			Enabled:      true,
			MinRequests:  5,
			FailureRatio: 0.6,
			Timeout:      time.Minute,
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestBigCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewBigCache(ctx, time.Minute, 0)
	require.NoError(t, err)
	defer c.Close()

	var got snapshot
	err = c.Get(ctx, "k", &got)
	assert.True(t, IsMiss(err))

	want := snapshot{Centers: []float64{116.4, 39.9}, Members: [][]int{{0, 2}, {1}}}
	require.NoError(t, c.Set(ctx, "k", want, 0))
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, want, got)

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k", "absent"))
	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)

	var got snapshot
	assert.True(t, IsMiss(c.Get(ctx, "k", &got)))

	want := snapshot{Centers: []float64{1, 2}, Members: [][]int{{0}}}
	require.NoError(t, c.Set(ctx, "k", want, time.Minute))
	assert.True(t, mr.Exists("geodist:k"))
	assert.Equal(t, time.Minute, mr.TTL("geodist:k"))

	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, want, got)

	other := c.WithPrefix("other")
	ok, err := other.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, other.Close(), "derived cache must not close the shared client")

	require.NoError(t, c.Delete(ctx, "k"))
	assert.False(t, mr.Exists("geodist:k"))
}

func TestRedisCache_MissesDoNotTripBreaker(t *testing.T) {
	ctx := context.Background()
	_, c := newRedis(t)

	var got snapshot
	for i := 0; i < 20; i++ {
		assert.True(t, IsMiss(c.Get(ctx, "absent", &got)))
	}
	require.NoError(t, c.Set(ctx, "present", snapshot{}, 0))
	assert.Equal(t, gobreaker.StateClosed, c.cb.State())
}

func TestRedisCache_FailuresTripBreaker(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)
	mr.SetError("ERR simulated failure")

	var got snapshot
	for i := 0; i < 5; i++ {
		err := c.Get(ctx, "k", &got)
		require.Error(t, err)
		assert.False(t, IsMiss(err))
	}
	assert.Equal(t, gobreaker.StateOpen, c.cb.State())

	mr.SetError("")
	err := c.Get(ctx, "k", &got)
	assert.True(t, errors.Is(err, breaker.ErrServiceUnavailable))
}

func TestNewRedisCache_Errors(t *testing.T) {
	_, err := NewRedisCache(context.Background(), config.RedisConfig{}, nil)
	require.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisCache(context.Background(), config.RedisConfig{Addrs: []string{addr}, ConnectRetries: 1}, nil)
	require.Error(t, err)
	xe, ok := xerrors.FromError(err)
	require.True(t, ok)
	assert.Equal(t, xerrors.ErrUnavailable, xe.Type)
}

func TestMultiLevelCache(t *testing.T) {
	ctx := context.Background()
	l1, err := NewBigCache(ctx, time.Minute, 0)
	require.NoError(t, err)
	_, l2 := newRedis(t)
	c := NewMultiLevelCache(l1, l2, nil)

	want := snapshot{Centers: []float64{3, 4}}
	require.NoError(t, l2.Set(ctx, "only-l2", want, 0))

	var got snapshot
	require.NoError(t, c.Get(ctx, "only-l2", &got))
	assert.Equal(t, want, got)

	// L2 命中后应回填 L1
	ok, err := l1.Exists(ctx, "only-l2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Set(ctx, "both", want, time.Minute))
	ok, err = c.Exists(ctx, "both")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "both"))
	assert.True(t, IsMiss(c.Get(ctx, "both", &got)))
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	local, err := NewFromConfig(ctx, config.CacheConfig{BigCache: config.BigCacheConfig{TTL: time.Minute}}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &BigCache{}, local)
	require.NoError(t, local.Close())

	mr := miniredis.RunT(t)
	multi, err := NewFromConfig(ctx, config.CacheConfig{
		BigCache: config.BigCacheConfig{TTL: time.Minute},
		Redis:    config.RedisConfig{Addrs: []string{mr.Addr()}},
	}, nil, metrics.NewMetrics("geodist-test"))
	require.NoError(t, err)
	assert.IsType(t, &MultiLevelCache{}, multi)
	require.NoError(t, multi.Close())
}
