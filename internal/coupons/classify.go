package coupons

import (
	"github.com/shopspring/decimal"

	"bond-screener/internal/bonds"
)

const minPaymentsForFloating = 4

var (
	noiseThreshold = decimal.RequireFromString("0.10")
	dominantShare  = decimal.RequireFromString("0.8")
)

// maxTransitions is how many real payment changes a fixed schedule may show.
const maxTransitions = 2

// Classify labels a payment series. Short series are fixed; otherwise the
// series is fixed when one rounded amount covers at least 80% of payments
// and no more than two adjacent steps exceed the noise threshold.
func Classify(payments []decimal.Decimal) bonds.CouponRegime {
	if len(payments) < minPaymentsForFloating {
		return bonds.RegimeFixed
	}

	rounded := make([]decimal.Decimal, len(payments))
	counts := make(map[string]int, len(payments))
	best := 0
	for i, p := range payments {
		rounded[i] = p.Round(2)
		key := rounded[i].StringFixed(2)
		counts[key]++
		if counts[key] > best {
			best = counts[key]
		}
	}

	share := decimal.NewFromInt(int64(best)).Div(decimal.NewFromInt(int64(len(rounded))))

	transitions := 0
	for i := 1; i < len(rounded); i++ {
		if rounded[i].Sub(rounded[i-1]).Abs().GreaterThan(noiseThreshold) {
			transitions++
		}
	}

	if share.GreaterThanOrEqual(dominantShare) && transitions <= maxTransitions {
		return bonds.RegimeFixed
	}
	return bonds.RegimeFloating
}

// Payments pulls the non-null "value" amounts out of coupon records in order.
func Payments(coupons []bonds.Record) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(coupons))
	for _, c := range coupons {
		f, ok := bonds.AsFloat(c["value"])
		if !ok {
			continue
		}
		out = append(out, decimal.NewFromFloat(f))
	}
	return out
}
