// Package cache 提供了缓存抽象和多种缓存实现，包括本地缓存、分布式缓存和多级缓存。
// 聚合覆盖层用它保存视口聚合结果快照。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/geodist/breaker"
	"github.com/wyfcoding/geodist/config"
	"github.com/wyfcoding/geodist/metrics"
	"github.com/wyfcoding/geodist/retry"
	"github.com/wyfcoding/geodist/xerrors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

var (
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodist_cache_hits_total",
			Help: "The total number of cache hits",
		},
		[]string{"prefix"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodist_cache_misses_total",
			Help: "The total number of cache misses",
		},
		[]string{"prefix"},
	)
	cacheDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geodist_cache_operation_duration_seconds",
			Help:    "The duration of cache operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"prefix", "operation"},
	)
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheDuration)
}

// Collectors 返回缓存命中、未命中与耗时采集器，便于注册到独立的 Registry。
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{cacheHits, cacheMisses, cacheDuration}
}

// Cache 定义缓存接口。未命中时 Get 返回可被 errors.Is(err, xerrors.ErrCacheMiss) 识别的错误。
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// IsMiss 判断错误是否为缓存未命中。
func IsMiss(err error) bool {
	return errors.Is(err, xerrors.ErrCacheMiss)
}

func missError(key string) error {
	return xerrors.ErrCacheMiss.WithContext("key", key)
}

// RedisCache 使用 Redis 实现 Cache，所有命令都经过熔断器。
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	cb     *breaker.Breaker
	owner  bool // 只有创建客户端的实例负责关闭它
}

// NewRedisCache 根据配置创建 RedisCache，并通过 PING 校验连通性，失败时按 ConnectRetries 重试。
// m 用于上报熔断器状态，可以为 nil。
func NewRedisCache(ctx context.Context, cfg config.RedisConfig, m *metrics.Metrics) (*RedisCache, error) {
	if len(cfg.Addrs) == 0 {
		return nil, xerrors.InvalidArg("redis addrs must not be empty")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	ping := func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	if err := retry.Do(ctx, ping, retry.WithRetries(cfg.ConnectRetries)); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(err, xerrors.ErrUnavailable, "redis ping failed")
	}

	cb := breaker.NewBreaker(breaker.Settings{
		Name:   "geodist-redis-cache",
		Config: cfg.Breaker,
		// 未命中不是故障，不能计入熔断器的失败次数
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	}, m)

	return &RedisCache{
		client: client,
		prefix: cfg.KeyPrefix,
		cb:     cb,
		owner:  true,
	}, nil
}

// WithPrefix 返回共享底层客户端与熔断器、但使用不同键前缀的实例。
func (c *RedisCache) WithPrefix(prefix string) *RedisCache {
	return &RedisCache{
		client: c.client,
		prefix: prefix,
		cb:     c.cb,
	}
}

func (c *RedisCache) buildKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

func (c *RedisCache) observe(op string) func() {
	start := time.Now()
	return func() {
		cacheDuration.WithLabelValues(c.prefix, op).Observe(time.Since(start).Seconds())
	}
}

// Get 从缓存中获取值，value 必须是指针。
func (c *RedisCache) Get(ctx context.Context, key string, value any) error {
	defer c.observe("get")()

	data, err := breaker.ExecuteTyped(c.cb, func() ([]byte, error) {
		return c.client.Get(ctx, c.buildKey(key)).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		cacheMisses.WithLabelValues(c.prefix).Inc()
		return missError(key)
	}
	if err != nil {
		return err
	}
	cacheHits.WithLabelValues(c.prefix).Inc()
	return json.Unmarshal(data, value)
}

// Set 将 value 序列化为 JSON 后写入，expiration 为 0 表示不过期。
func (c *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	defer c.observe("set")()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, c.client.Set(ctx, c.buildKey(key), data, expiration).Err()
	})
	return err
}

// Delete 删除一个或多个键。
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	defer c.observe("delete")()

	if len(keys) == 0 {
		return nil
	}
	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = c.buildKey(key)
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.client.Del(ctx, fullKeys...).Err()
	})
	return err
}

// Exists 检查 key 是否存在。
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	defer c.observe("exists")()

	n, err := breaker.ExecuteTyped(c.cb, func() (int64, error) {
		return c.client.Exists(ctx, c.buildKey(key)).Result()
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close 关闭 Redis 客户端；由 WithPrefix 派生的实例不会关闭共享连接。
func (c *RedisCache) Close() error {
	if !c.owner {
		return nil
	}
	slog.Info("closing redis cache connection")
	return c.client.Close()
}

// GetClient 返回底层的 Redis 客户端。
func (c *RedisCache) GetClient() redis.UniversalClient {
	return c.client
}
