package geo

import (
	"math"
	"strconv"
)

// FormatStyle 经纬度字符串的展示样式。
type FormatStyle int

const (
	// FormatDecimal 形如 116.397128E,39.916527N。
	FormatDecimal FormatStyle = iota
	// FormatDMS 形如 116°23′49.66″E,39°54′59.50″N。
	FormatDMS
)

// FormatCoordinate 将单个坐标值格式化为 6 位小数，用于生成稳定的视口比较键。
func FormatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// FormatLatLng 按指定样式输出"经度,纬度"字符串，数值取绝对值并以 E/W、N/S 标注半球。
func FormatLatLng(p Point, style FormatStyle) string {
	lngSuffix, latSuffix := "E", "N"
	if p.Lng < 0 {
		lngSuffix = "W"
	}
	if p.Lat < 0 {
		latSuffix = "S"
	}

	lng, lat := math.Abs(p.Lng), math.Abs(p.Lat)
	if style != FormatDMS {
		return FormatCoordinate(lng) + lngSuffix + "," + FormatCoordinate(lat) + latSuffix
	}

	return formatDMS(lng) + lngSuffix + "," + formatDMS(lat) + latSuffix
}

func formatDMS(v float64) string {
	d, err := ToDMS(strconv.FormatFloat(v, 'f', -1, 64))
	if err != nil {
		// 仅 NaN/Inf 会走到这里
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return d.String()
}
