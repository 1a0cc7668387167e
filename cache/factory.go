package cache

import (
	"context"

	"github.com/wyfcoding/geodist/config"
	"github.com/wyfcoding/geodist/logging"
	"github.com/wyfcoding/geodist/metrics"
)

// NewFromConfig 按配置组装缓存：始终创建本地 BigCache，配置了 Redis 地址时再叠加为二级缓存。
func NewFromConfig(ctx context.Context, cfg config.CacheConfig, logger *logging.Logger, m *metrics.Metrics) (Cache, error) {
	local, err := NewBigCache(ctx, cfg.BigCache.TTL, cfg.BigCache.MaxMB)
	if err != nil {
		return nil, err
	}
	if len(cfg.Redis.Addrs) == 0 {
		return local, nil
	}

	remote, err := NewRedisCache(ctx, cfg.Redis, m)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	return NewMultiLevelCache(local, remote, logger), nil
}
