package cluster

import (
	"strings"

	"github.com/wyfcoding/geodist/geo"
)

// Extent 表示可视区域的经纬度外包矩形（单位：度）。
type Extent struct {
	MinLng float64
	MinLat float64
	MaxLng float64
	MaxLat float64
}

// Contains 判断点是否严格位于矩形内部，落在边界上的点不算在内。
func (e Extent) Contains(p geo.Point) bool {
	return p.Lng > e.MinLng && p.Lng < e.MaxLng && p.Lat > e.MinLat && p.Lat < e.MaxLat
}

// Key 返回按 6 位小数格式化后的比较键，微小的视口抖动不会产生新键。
func (e Extent) Key() string {
	return strings.Join([]string{
		geo.FormatCoordinate(e.MinLng),
		geo.FormatCoordinate(e.MinLat),
		geo.FormatCoordinate(e.MaxLng),
		geo.FormatCoordinate(e.MaxLat),
	}, ",")
}

// Center 返回矩形中心点。
func (e Extent) Center() geo.Point {
	return geo.Point{Lng: (e.MinLng + e.MaxLng) / 2, Lat: (e.MinLat + e.MaxLat) / 2}
}
