// Package config 提供了统一的配置加载与管理能力。
// 配置文件为 TOML，环境变量以 APP_ 为前缀覆盖同名键（"." 替换为 "_"），加载后经 validator 校验并监听文件变更热更新。
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/geodist/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 全局顶级配置结构.
type Config struct {
	Version string        `mapstructure:"version" toml:"version"`
	Log     LogConfig     `mapstructure:"log"     toml:"log"`
	Cluster ClusterConfig `mapstructure:"cluster" toml:"cluster"`
	Cache   CacheConfig   `mapstructure:"cache"   toml:"cache"`
	Metrics MetricsConfig `mapstructure:"metrics" toml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" toml:"tracing"`
}

// LogConfig 定义日志输出、级别与切割策略.
type LogConfig struct {
	Service    string `mapstructure:"service"     toml:"service"`
	Level      string `mapstructure:"level"       toml:"level"       validate:"omitempty,oneof=debug info warn error"`
	Output     string `mapstructure:"output"      toml:"output"      validate:"omitempty,oneof=stdout file both"`
	File       string `mapstructure:"file"        toml:"file"`
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"    validate:"gte=0"` // 单个文件最大大小 (MB)
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"     validate:"gte=0"` // 最大保留天数
	Compress   bool   `mapstructure:"compress"    toml:"compress"`
}

// ClusterConfig 点聚合参数.
type ClusterConfig struct {
	Name string `mapstructure:"name" toml:"name"`
	// Size 聚合范围（像素），该像素距离内的点聚合为一个点显示。
	Size int `mapstructure:"size" toml:"size" validate:"required,min=1"`
	// DefaultMetersPerPixel 视口尚未给出比例尺时使用的每像素米数。
	DefaultMetersPerPixel float64 `mapstructure:"default_meters_per_pixel" toml:"default_meters_per_pixel" validate:"gte=0"`
}

// CacheConfig 聚合快照缓存配置.
type CacheConfig struct {
	Enabled  bool           `mapstructure:"enabled"  toml:"enabled"`
	TTL      time.Duration  `mapstructure:"ttl"      toml:"ttl"`
	BigCache BigCacheConfig `mapstructure:"bigcache" toml:"bigcache"`
	Redis    RedisConfig    `mapstructure:"redis"    toml:"redis"`
}

// BigCacheConfig 本地缓存参数.
type BigCacheConfig struct {
	TTL   time.Duration `mapstructure:"ttl"    toml:"ttl"`
	MaxMB int           `mapstructure:"max_mb" toml:"max_mb" validate:"gte=0"`
}

// RedisConfig 定义 Redis 连接与池化参数，Addrs 为空表示不启用二级缓存.
type RedisConfig struct {
	MasterName   string        `mapstructure:"master_name"    toml:"master_name"`
	Password     string        `mapstructure:"password"       toml:"password"`
	KeyPrefix    string        `mapstructure:"key_prefix"     toml:"key_prefix"`
	Addrs        []string      `mapstructure:"addrs"          toml:"addrs"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"   toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"  toml:"write_timeout"`
	DB           int           `mapstructure:"db"             toml:"db"             validate:"gte=0"`
	PoolSize     int           `mapstructure:"pool_size"      toml:"pool_size"      validate:"gte=0"`
	MinIdleConns int           `mapstructure:"min_idle_conns" toml:"min_idle_conns" validate:"gte=0"`

	// ConnectRetries 建立连接时 PING 失败的重试次数。
	ConnectRetries int                  `mapstructure:"connect_retries" toml:"connect_retries" validate:"gte=0"`
	Breaker        CircuitBreakerConfig `mapstructure:"breaker"         toml:"breaker"`
}

// CircuitBreakerConfig 熔断器参数.
type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"       toml:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"  toml:"max_requests"`
	MinRequests  uint32        `mapstructure:"min_requests"  toml:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio" toml:"failure_ratio" validate:"gte=0,lte=1"`
	Interval     time.Duration `mapstructure:"interval"      toml:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"       toml:"timeout"`
}

// TracingConfig 链路追踪参数.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint" validate:"required_if=Enabled true"`
	SampleRatio  float64 `mapstructure:"sample_ratio"  toml:"sample_ratio"  validate:"gte=0,lte=1"`
}

// MetricsConfig 指标暴露参数.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"      toml:"enabled"`
	ServiceName string `mapstructure:"service_name" toml:"service_name"`
	Port        string `mapstructure:"port"         toml:"port" validate:"omitempty,numeric"`
}

// Logging 将日志配置转换为 logging.Config.
func (c LogConfig) Logging(module string) logging.Config {
	service := c.Service
	if service == "" {
		service = "geodist"
	}
	return logging.Config{
		Service:    service,
		Module:     module,
		Level:      c.Level,
		Output:     c.Output,
		File:       c.File,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
}

type reloadHook struct {
	id uint64
	fn func(*Config)
}

var (
	mu         sync.Mutex
	vInstance  = viper.New()
	onReload   []reloadHook
	nextHookID uint64
)

// RegisterReloadHook 注册配置热更新回调，返回的函数用于注销，可重复调用。
func RegisterReloadHook(hook func(*Config)) (unregister func()) {
	if hook == nil {
		return func() {}
	}
	mu.Lock()
	defer mu.Unlock()
	nextHookID++
	id := nextHookID
	onReload = append(onReload, reloadHook{id: id, fn: hook})

	return func() {
		mu.Lock()
		defer mu.Unlock()
		for i, h := range onReload {
			if h.id == id {
				onReload = append(onReload[:i:i], onReload[i+1:]...)
				return
			}
		}
	}
}

func reloadHooks() []func(*Config) {
	mu.Lock()
	defer mu.Unlock()
	hooks := make([]func(*Config), len(onReload))
	for i, h := range onReload {
		hooks[i] = h.fn
	}
	return hooks
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("cluster.size", 100)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.bigcache.ttl", 10*time.Minute)
	v.SetDefault("cache.bigcache.max_mb", 64)
	v.SetDefault("cache.redis.connect_retries", 2)
	v.SetDefault("cache.redis.breaker.enabled", true)
	v.SetDefault("cache.redis.breaker.min_requests", 10)
	v.SetDefault("cache.redis.breaker.failure_ratio", 0.6)
	v.SetDefault("cache.redis.breaker.timeout", 30*time.Second)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load 读取、校验配置并开始监听文件变更.
func Load(path string, conf any) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}

	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	mu.Lock()
	vInstance = v
	mu.Unlock()

	v.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		if err := reload(v, validate, conf); err != nil {
			slog.Error("config reload rejected", "error", err)
		}
	})
	v.WatchConfig()

	return nil
}

// reload 先解码到同类型的新值并校验，通过后才覆盖 conf，失败时 conf 保持不变。
func reload(v *viper.Viper, validate *validator.Validate, conf any) error {
	cur := reflect.ValueOf(conf)
	if cur.Kind() != reflect.Ptr || cur.IsNil() {
		return fmt.Errorf("config target must be a non-nil pointer, got %T", conf)
	}
	next := reflect.New(cur.Elem().Type())
	if err := v.Unmarshal(next.Interface()); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}
	if err := validate.Struct(next.Interface()); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	cur.Elem().Set(next.Elem())
	applyLogLevel(conf)
	slog.Info("config hot-reloaded and validated successfully")

	if cfg, ok := conf.(*Config); ok {
		for _, hook := range reloadHooks() {
			hook(cfg)
		}
	}
	return nil
}

// applyLogLevel 热更新时同步全局日志级别，非 *Config 类型通过反射查找 Log.Level。
func applyLogLevel(conf any) {
	if c, ok := conf.(*Config); ok {
		logging.SetLevel(c.Log.Level)
		return
	}
	val := reflect.ValueOf(conf)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}
	logField := val.FieldByName("Log")
	if !logField.IsValid() || logField.Kind() != reflect.Struct {
		return
	}
	levelField := logField.FieldByName("Level")
	if levelField.IsValid() && levelField.Kind() == reflect.String {
		logging.SetLevel(levelField.String())
	}
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	masked, err := MaskedJSON(conf)
	if err != nil {
		slog.Error("failed to mask config for printing", "error", err)
		return
	}
	slog.Info("Current effective configuration", "config", masked)
}

// MaskedJSON 返回敏感字段被替换为 ****** 的 JSON 文本.
func MaskedJSON(conf any) (string, error) {
	data, err := json.Marshal(conf)
	if err != nil {
		return "", err
	}

	var configMap map[string]any
	if err := json.Unmarshal(data, &configMap); err != nil {
		return "", err
	}

	mask(configMap)

	maskedJSON, err := json.MarshalIndent(configMap, "  ", "  ")
	if err != nil {
		return "", err
	}
	return string(maskedJSON), nil
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}

		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					mask(itemMap)
				}
			}
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}

// GetViper 返回最近一次 Load 使用的 Viper 实例.
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return vInstance
}
