package coupons

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"bond-screener/internal/bonds"
)

func amounts(values ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestClassifyShortSeriesIsFixed(t *testing.T) {
	assert.Equal(t, bonds.RegimeFixed, Classify(nil))
	assert.Equal(t, bonds.RegimeFixed, Classify(amounts(10, 50, 90)))
}

func TestClassifyConstantSeriesIsFixed(t *testing.T) {
	for n := 4; n <= 40; n += 6 {
		series := make([]float64, n)
		for i := range series {
			series[i] = 37.4
		}
		assert.Equal(t, bonds.RegimeFixed, Classify(amounts(series...)), "length %d", n)
	}
}

func TestClassifyAlternatingSeriesIsFloating(t *testing.T) {
	assert.Equal(t, bonds.RegimeFloating, Classify(amounts(40, 41, 40, 41, 40, 41)))
}

func TestClassifyRoundingNoise(t *testing.T) {
	// differences below a cent disappear after rounding
	assert.Equal(t, bonds.RegimeFixed, Classify(amounts(24.931, 24.929, 24.93, 24.9301, 24.93)))
}

func TestClassifyLateStepChangeStaysFixed(t *testing.T) {
	series := []float64{30, 30, 30, 30, 30, 30, 30, 30, 30, 45}
	assert.Equal(t, bonds.RegimeFixed, Classify(amounts(series...)))
}

func TestClassifyDominantShareBelowThreshold(t *testing.T) {
	// one step change but the dominant value covers only 60%
	assert.Equal(t, bonds.RegimeFloating, Classify(amounts(20, 20, 20, 35, 35)))
}

func TestClassifyIdempotent(t *testing.T) {
	series := amounts(12.5, 13.1, 12.9, 14.2, 15, 15, 16.7)
	first := Classify(series)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Classify(series))
	}
}

func TestPaymentsSkipsNulls(t *testing.T) {
	coupons := []bonds.Record{
		{"value": 10.0},
		{"value": nil},
		{"coupondate": "2030-01-01"},
		{"value": "12.5"},
	}
	got := Payments(coupons)
	assert.Len(t, got, 2)
	assert.True(t, got[1].Equal(decimal.RequireFromString("12.5")))
}
