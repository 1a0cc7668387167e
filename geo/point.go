// Package geo 提供了地理位置计算工具。
// 核心是基于单位向量弦长的球面距离（LineDistance），并提供 WGS-84/GCJ-02/BD-09 坐标系转换、
// 度分秒换算与经纬度格式化。
package geo

import "math"

// Point 表示一个地理经纬度坐标点（单位：度）。
// 函数不对取值范围做校验，超出 [-180,180]/[-90,90] 的值按三角函数周期照常参与计算。
type Point struct {
	Lng float64 // 经度
	Lat float64 // 纬度
}

// NewPoint 按 (纬度, 经度) 顺序构造坐标点，与多数地图 SDK 的 LatLng 习惯一致。
func NewPoint(lat, lng float64) Point {
	return Point{Lng: lng, Lat: lat}
}

// UnitVector 返回该点在单位球上的三维直角坐标。
func (p Point) UnitVector() [3]float64 {
	lng := p.Lng * degreeToRad
	lat := p.Lat * degreeToRad
	cosLat := math.Cos(lat)
	return [3]float64{
		cosLat * math.Cos(lng),
		cosLat * math.Sin(lng),
		math.Sin(lat),
	}
}
