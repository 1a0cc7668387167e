// Package breaker 提供了基于 gobreaker 的熔断器封装，集成 Prometheus 状态指标与日志。
package breaker

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/geodist/config"
	"github.com/wyfcoding/geodist/metrics"
	"github.com/wyfcoding/geodist/xerrors"
)

// ErrServiceUnavailable 表示服务当前处于熔断状态。
var ErrServiceUnavailable = xerrors.New(xerrors.ErrUnavailable, 503101, "service unavailable: circuit breaker is open", "", nil)

// Breaker 封装了 gobreaker 实例，未启用时直接执行函数。
type Breaker struct {
	circuitBreaker *gobreaker.CircuitBreaker
	state          *prometheus.GaugeVec
}

// Settings 定义了熔断器的初始化参数。
type Settings struct {
	Name   string
	Config config.CircuitBreakerConfig
	// IsSuccessful 判断错误是否不应计为失败，例如缓存未命中。
	IsSuccessful func(err error) bool
}

// NewBreaker 初始化并返回一个新的熔断器封装对象，m 为 nil 时不上报状态指标。
func NewBreaker(st Settings, m *metrics.Metrics) *Breaker {
	if !st.Config.Enabled {
		return &Breaker{}
	}

	failureRatio := st.Config.FailureRatio
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	minRequests := st.Config.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}

	var stateVec *prometheus.GaugeVec
	if m != nil {
		stateVec = stateGauge(m)
	}

	gs := gobreaker.Settings{
		Name:         st.Name,
		MaxRequests:  st.Config.MaxRequests,
		Interval:     st.Config.Interval,
		Timeout:      st.Config.Timeout,
		IsSuccessful: st.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			if stateVec != nil {
				stateVec.WithLabelValues(name).Set(float64(to))
			}
		},
	}

	b := &Breaker{
		circuitBreaker: gobreaker.NewCircuitBreaker(gs),
		state:          stateVec,
	}
	if stateVec != nil {
		stateVec.WithLabelValues(st.Name).Set(float64(gobreaker.StateClosed))
	}
	return b
}

// stateGauge 在同一注册表中复用已注册的状态指标。
func stateGauge(m *metrics.Metrics) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geodist_circuit_breaker_state",
		Help: "Circuit breaker state (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"name"})
	if err := m.Registry().Register(gv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		slog.Error("failed to register circuit breaker metric", "error", err)
		return nil
	}
	return gv
}

// State 返回当前状态，未启用时总是 Closed。
func (b *Breaker) State() gobreaker.State {
	if b == nil || b.circuitBreaker == nil {
		return gobreaker.StateClosed
	}
	return b.circuitBreaker.State()
}

// Execute 执行受熔断保护的函数。
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return ExecuteTyped(b, fn)
}

// ExecuteTyped 是 Execute 的泛型版本。
func ExecuteTyped[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil || b.circuitBreaker == nil {
		return fn()
	}

	res, err := b.circuitBreaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrServiceUnavailable.WithContext("breaker", b.circuitBreaker.Name())
		}
		// 被 IsSuccessful 放行的错误同样返回给调用方，此时 res 仍可能携带值
		if res != nil {
			if v, ok := res.(T); ok {
				return v, err
			}
		}
		return zero, err
	}

	v, _ := res.(T)
	return v, nil
}
