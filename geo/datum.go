package geo

import "math"

// 国内地图坐标系转换。
// WGS-84：GPS 原始坐标；GCJ-02：国测局加密坐标（"火星坐标"）；BD-09：百度坐标。
const (
	datumPi = 3.1415926535897932384626
	// xPi 是 BD-09 偏移使用的角度系数。
	xPi = datumPi * 3000.0 / 180.0
	// krasovskyA 克拉索夫斯基椭球长半轴。
	krasovskyA = 6378245.0
	// krasovskyEE 克拉索夫斯基椭球第一偏心率平方。
	krasovskyEE = 0.00669342162296594323
)

// WGS84ToGCJ02 地球坐标转火星坐标。
func WGS84ToGCJ02(p Point) Point {
	return gcjOffset(p)
}

// GCJ02ToWGS84 火星坐标转地球坐标。
// 采用一次迭代近似：wgs = 2*gcj - offset(gcj)，误差在米级以内。
func GCJ02ToWGS84(p Point) Point {
	shifted := gcjOffset(p)
	return Point{
		Lng: p.Lng*2 - shifted.Lng,
		Lat: p.Lat*2 - shifted.Lat,
	}
}

// GCJ02ToBD09 火星坐标转百度坐标。
func GCJ02ToBD09(p Point) Point {
	z := math.Sqrt(p.Lng*p.Lng+p.Lat*p.Lat) + 0.00002*math.Sin(p.Lat*xPi)
	theta := math.Atan2(p.Lat, p.Lng) + 0.000003*math.Cos(p.Lng*xPi)
	return Point{
		Lng: z*math.Cos(theta) + 0.0065,
		Lat: z*math.Sin(theta) + 0.006,
	}
}

// BD09ToGCJ02 百度坐标转火星坐标。
func BD09ToGCJ02(p Point) Point {
	x := p.Lng - 0.0065
	y := p.Lat - 0.006
	z := math.Sqrt(x*x+y*y) - 0.00002*math.Sin(y*xPi)
	theta := math.Atan2(y, x) - 0.000003*math.Cos(x*xPi)
	return Point{
		Lng: z * math.Cos(theta),
		Lat: z * math.Sin(theta),
	}
}

// WGS84ToBD09 地球坐标转百度坐标。
func WGS84ToBD09(p Point) Point {
	return GCJ02ToBD09(WGS84ToGCJ02(p))
}

// BD09ToWGS84 百度坐标转地球坐标。
func BD09ToWGS84(p Point) Point {
	return GCJ02ToWGS84(BD09ToGCJ02(p))
}

func gcjOffset(p Point) Point {
	dLat := transformLat(p.Lng-105.0, p.Lat-35.0)
	dLng := transformLng(p.Lng-105.0, p.Lat-35.0)
	radLat := p.Lat / 180.0 * datumPi
	magic := math.Sin(radLat)
	magic = 1 - krasovskyEE*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = dLat * 180.0 / (krasovskyA * (1 - krasovskyEE) / (magic * sqrtMagic) * datumPi)
	dLng = dLng * 180.0 / (krasovskyA / sqrtMagic * math.Cos(radLat) * datumPi)
	return Point{Lng: p.Lng + dLng, Lat: p.Lat + dLat}
}

func transformLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*datumPi) + 20.0*math.Sin(2.0*x*datumPi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*datumPi) + 40.0*math.Sin(y/3.0*datumPi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*datumPi) + 320*math.Sin(y*datumPi/30.0)) * 2.0 / 3.0
	return ret
}

func transformLng(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*datumPi) + 20.0*math.Sin(2.0*x*datumPi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*datumPi) + 40.0*math.Sin(x/3.0*datumPi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*datumPi) + 300.0*math.Sin(x/30.0*datumPi)) * 2.0 / 3.0
	return ret
}
