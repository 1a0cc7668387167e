package geo

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/geodist/xerrors"
)

var sixty = decimal.NewFromInt(60)

// DMS 是度分秒形式的角度。
// Degrees 与 Minutes 向零截断，Seconds 保留两位小数（四舍五入）。
type DMS struct {
	Degrees string
	Minutes string
	Seconds string
}

// String 返回形如 116°23′49.66″ 的表示。
func (d DMS) String() string {
	return d.Degrees + "°" + d.Minutes + "′" + d.Seconds + "″"
}

// ToDMS 将十进制角度字符串转换为度分秒，全程使用十进制精确运算。
func ToDMS(num string) (DMS, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(num))
	if err != nil {
		return DMS{}, xerrors.ErrInvalidDMS.WithContext("input", num)
	}

	degree := value.Truncate(0)
	minutes := value.Sub(degree).Mul(sixty)
	minute := minutes.Truncate(0)
	seconds := minutes.Sub(minute).Mul(sixty)

	return DMS{
		Degrees: degree.String(),
		Minutes: minute.String(),
		Seconds: seconds.StringFixed(2),
	}, nil
}

// FromDMS 将度分秒转换为十进制角度字符串，保留 15 位小数。
func FromDMS(degree, minute, second string) (string, error) {
	parts := make([]decimal.Decimal, 0, 3)
	for _, s := range []string{degree, minute, second} {
		v, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return "", xerrors.ErrInvalidDMS.WithContext("input", s)
		}
		parts = append(parts, v)
	}

	t1 := parts[2].DivRound(sixty, 15)
	t2 := t1.Add(parts[1]).DivRound(sixty, 15)
	return parts[0].Add(t2).StringFixed(15), nil
}
