// Package bootstrap 按配置文件组装日志、指标、追踪与快照缓存，并提供覆盖层的构造入口。
package bootstrap

import (
	"context"
	"fmt"

	"github.com/wyfcoding/geodist/cache"
	"github.com/wyfcoding/geodist/cluster"
	"github.com/wyfcoding/geodist/config"
	"github.com/wyfcoding/geodist/geo"
	"github.com/wyfcoding/geodist/logging"
	"github.com/wyfcoding/geodist/metrics"
	"github.com/wyfcoding/geodist/tracing"
)

// Runtime 持有已初始化的基础设施，Close 按初始化的逆序释放资源。
type Runtime struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Cache   cache.Cache // 未启用缓存时为 nil

	cleanups []func(context.Context) error
}

// New 加载配置文件并初始化各组件，任一步骤失败都会释放已初始化的资源。
func New(ctx context.Context, configPath string) (*Runtime, error) {
	cfg := &config.Config{}
	if err := config.Load(configPath, cfg); err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig 使用已加载的配置初始化各组件。
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	rt.Logger = logging.NewFromConfig(cfg.Log.Logging("bootstrap"))
	logging.SetDefault(rt.Logger)
	defer logging.LogDuration(ctx, "runtime init", "version", cfg.Version)()

	serviceName := cfg.Metrics.ServiceName
	if serviceName == "" {
		serviceName = "geodist"
	}
	rt.Metrics = metrics.NewMetrics(serviceName, append(geo.Collectors(), cache.Collectors()...)...)
	rt.Metrics.RegisterBuildInfo(serviceName, cfg.Version)
	if cfg.Metrics.Enabled && cfg.Metrics.Port != "" {
		stop := rt.Metrics.ExposeHttp(cfg.Metrics.Port)
		rt.addCleanup(func(context.Context) error {
			stop()
			return nil
		})
	}

	shutdown, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	rt.addCleanup(shutdown)

	if cfg.Cache.Enabled {
		c, err := cache.NewFromConfig(ctx, cfg.Cache, rt.Logger, rt.Metrics)
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("init cache: %w", err)
		}
		rt.Cache = c
		rt.addCleanup(func(context.Context) error { return c.Close() })
	}

	unregister := config.RegisterReloadHook(func(c *config.Config) {
		if c != rt.Config {
			return
		}
		rt.Logger.Info("configuration reloaded", "log_level", c.Log.Level, "cluster_size", c.Cluster.Size)
	})
	rt.addCleanup(func(context.Context) error {
		unregister()
		return nil
	})

	rt.Logger.InfoContext(ctx, "runtime initialized",
		"version", cfg.Version,
		"cache", cfg.Cache.Enabled,
		"tracing", cfg.Tracing.Enabled,
	)
	return rt, nil
}

func (rt *Runtime) addCleanup(fn func(context.Context) error) {
	rt.cleanups = append(rt.cleanups, fn)
}

// Close 释放全部资源，返回遇到的第一个错误。
func (rt *Runtime) Close(ctx context.Context) error {
	var first error
	for i := len(rt.cleanups) - 1; i >= 0; i-- {
		if err := rt.cleanups[i](ctx); err != nil {
			rt.Logger.ErrorContext(ctx, "cleanup failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	rt.cleanups = nil
	return first
}

// NewOverlay 按 cluster 配置创建覆盖层，并注入运行时的缓存、指标与日志。
func NewOverlay[T any](rt *Runtime, opts ...cluster.Option) (*cluster.Overlay[T], error) {
	base := []cluster.Option{
		cluster.WithMetrics(rt.Metrics),
		cluster.WithLogger(rt.Logger),
	}
	if rt.Config.Cluster.Name != "" {
		base = append(base, cluster.WithName(rt.Config.Cluster.Name))
	}
	if rt.Cache != nil {
		base = append(base, cluster.WithCache(rt.Cache, rt.Config.Cache.TTL))
	}
	return cluster.NewOverlay[T](rt.Config.Cluster.Size, append(base, opts...)...)
}

// DefaultViewport 使用配置的默认比例尺设置覆盖层视口。
func DefaultViewport[T any](ctx context.Context, rt *Runtime, o *cluster.Overlay[T], extent cluster.Extent) error {
	return o.SetViewport(ctx, extent, rt.Config.Cluster.DefaultMetersPerPixel)
}
