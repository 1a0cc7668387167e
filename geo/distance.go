package geo

import (
	"context"
	"errors"
	"math"

	"github.com/sourcegraph/conc/iter"

	"github.com/wyfcoding/geodist/logging"
	"github.com/wyfcoding/geodist/xerrors"
)

const (
	// degreeToRad 角度转弧度系数 π/180。
	degreeToRad = 0.01745329251994329
	// chordScale 两倍地球平均半径（米），asin(弦长/2) 乘以它得到地表距离。
	chordScale = 1.27420015798544e7
	// earthRadiusMeters Haversine 公式使用的平均半径。
	earthRadiusMeters = 6371000.0

	// MaxLineDistance 是 LineDistance 的理论上限（对跖点），即 chordScale·π/2。
	MaxLineDistance = chordScale * math.Pi / 2
)

// Distance 计算两点间的球面距离（单位：米），并显式返回失败原因。
//
// 任一点为 nil 时返回 xerrors.ErrMissingCoordinate；asin 参数因舍入落在 [-1,1] 之外时
// 返回 xerrors.ErrArithmeticFault。NaN 或 ±Inf 输入不会报错，结果按 IEEE 754 传播为 NaN。
func Distance(a, b *Point) (float32, error) {
	if a == nil || b == nil {
		return 0, xerrors.ErrMissingCoordinate
	}

	va := a.UnitVector()
	vb := b.UnitVector()
	dx := va[0] - vb[0]
	dy := va[1] - vb[1]
	dz := va[2] - vb[2]
	return chordToMeters(math.Sqrt(dx*dx + dy*dy + dz*dz))
}

// chordToMeters 将单位球上的弦长换算为地表距离。
func chordToMeters(chord float64) (float32, error) {
	half := chord / 2.0
	if half > 1 {
		return 0, xerrors.ErrArithmeticFault.WithDetail("asin argument %v outside [-1, 1]", half)
	}
	return float32(math.Asin(half) * chordScale), nil
}

// LineDistance 计算两点间的球面距离（单位：米）。
// 它从不向调用方返回错误：坐标缺失或运算越界时记录一条诊断日志并返回 0，
// 因此返回 0 既可能表示两点重合，也可能表示输入非法；需要区分时请使用 Distance。
func LineDistance(a, b *Point) float32 {
	return LineDistanceContext(context.Background(), a, b)
}

// LineDistanceContext 与 LineDistance 相同，诊断日志携带 ctx 中的追踪信息。
func LineDistanceContext(ctx context.Context, a, b *Point) float32 {
	d, err := Distance(a, b)
	return report(ctx, d, err)
}

// report 按结果计数，失败时记录诊断日志并返回 0。
func report(ctx context.Context, d float32, err error) float32 {
	outcome := outcomeOf(err)
	lineDistanceTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		logging.Error(ctx, "illegal coordinate value", "outcome", outcome, "error", err)
		return 0
	}
	return d
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, xerrors.ErrMissingCoordinate):
		return outcomeMissingCoordinate
	default:
		return outcomeArithmeticFault
	}
}

// WithinRange 检查两点是否在指定范围内（单位：米），任一点缺失时返回 false。
func WithinRange(a, b *Point, meters float64) bool {
	d, err := Distance(a, b)
	if err != nil {
		return false
	}
	return float64(d) <= meters
}

// HaversineDistance 使用 Haversine 公式计算两点间的距离（单位：米），保留 float64 精度。
func HaversineDistance(p1, p2 Point) float64 {
	lat1 := p1.Lat * degreeToRad
	lat2 := p2.Lat * degreeToRad
	dLat := (p2.Lat - p1.Lat) * degreeToRad
	dLng := (p2.Lng - p1.Lng) * degreeToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Pair 是一组待计算距离的坐标点。
type Pair struct {
	A, B *Point
}

// BatchLineDistance 并行计算多组点对的距离，结果顺序与输入一致。
func BatchLineDistance(pairs []Pair) []float32 {
	return iter.Map(pairs, func(p *Pair) float32 {
		return LineDistance(p.A, p.B)
	})
}
