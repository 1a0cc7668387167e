package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatLatLng(t *testing.T) {
	tests := []struct {
		name  string
		p     Point
		style FormatStyle
		want  string
	}{
		{"decimal north east", Point{Lng: 116.397128, Lat: 39.916527}, FormatDecimal, "116.397128E,39.916527N"},
		{"decimal south west", Point{Lng: -73.985656, Lat: -40.5}, FormatDecimal, "73.985656W,40.500000S"},
		{"decimal origin", Point{}, FormatDecimal, "0.000000E,0.000000N"},
		{"dms north east", Point{Lng: 116.397128, Lat: 39.916527}, FormatDMS, "116°23′49.66″E,39°54′59.50″N"},
		{"dms south west", Point{Lng: -73.985656, Lat: -40.5}, FormatDMS, "73°59′8.36″W,40°30′0.00″S"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatLatLng(tt.p, tt.style))
		})
	}
}

func TestFormatCoordinate(t *testing.T) {
	assert.Equal(t, "116.397128", FormatCoordinate(116.3971284))
	assert.Equal(t, "-0.500000", FormatCoordinate(-0.5))
}
