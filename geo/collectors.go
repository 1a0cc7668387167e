package geo

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeOK                = "ok"
	outcomeMissingCoordinate = "missing_coordinate"
	outcomeArithmeticFault   = "arithmetic_fault"
)

// lineDistanceTotal 统计 LineDistance 的调用结果。
var lineDistanceTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "geodist_line_distance_total",
		Help: "The total number of line distance calculations by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(lineDistanceTotal)
}

// Collectors 返回本包的指标采集器，便于注册到独立的 Registry。
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{lineDistanceTotal}
}
