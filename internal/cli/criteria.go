package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bond-screener/internal/bonds"
	"bond-screener/internal/filter"
)

// criteriaFlags holds the raw filter flags shared by show and export.
type criteriaFlags struct {
	couponMin, couponMax           float64
	yieldMin, yieldMax             float64
	couponYieldMin, couponYieldMax float64
	matFrom, matTo                 string
	listLevels                     []int
	faceUnits, bondTypes           []string
	couponTypes                    []string
	ratingFrom, ratingTo           string
}

func bindCriteriaFlags(cmd *cobra.Command, f *criteriaFlags) {
	fs := cmd.Flags()
	fs.Float64Var(&f.couponMin, "coupon-min", 0, "Minimum coupon rate, %")
	fs.Float64Var(&f.couponMax, "coupon-max", 0, "Maximum coupon rate, %")
	fs.Float64Var(&f.yieldMin, "yield-min", 0, "Minimum yield at previous weighted price, %")
	fs.Float64Var(&f.yieldMax, "yield-max", 0, "Maximum yield at previous weighted price, %")
	fs.Float64Var(&f.couponYieldMin, "coupon-yield-min", 0, "Minimum annualised coupon-to-price ratio, %")
	fs.Float64Var(&f.couponYieldMax, "coupon-yield-max", 0, "Maximum annualised coupon-to-price ratio, %")
	fs.StringVar(&f.matFrom, "matdate-from", "", "Earliest maturity date (YYYY-MM-DD)")
	fs.StringVar(&f.matTo, "matdate-to", "", "Latest maturity date (YYYY-MM-DD)")
	fs.IntSliceVar(&f.listLevels, "listlevel", nil, "Listing tiers")
	fs.StringSliceVar(&f.faceUnits, "faceunit", nil, "Face value currencies")
	fs.StringSliceVar(&f.bondTypes, "bondtype", nil, "Issuer bond types")
	fs.StringSliceVar(&f.couponTypes, "coupon-type", nil, "Coupon regimes (fixed, floating)")
	fs.StringVar(&f.ratingFrom, "rating-from", "", "Rating range bound, e.g. A")
	fs.StringVar(&f.ratingTo, "rating-to", "", "Rating range bound, e.g. AAA")
}

// criteria converts the flags the user actually set.
func (f *criteriaFlags) criteria(cmd *cobra.Command) (filter.Criteria, error) {
	fs := cmd.Flags()
	set := func(name string, v float64) *float64 {
		if !fs.Changed(name) {
			return nil
		}
		return &v
	}

	c := filter.Criteria{
		CouponMin:      set("coupon-min", f.couponMin),
		CouponMax:      set("coupon-max", f.couponMax),
		YieldMin:       set("yield-min", f.yieldMin),
		YieldMax:       set("yield-max", f.yieldMax),
		CouponYieldMin: set("coupon-yield-min", f.couponYieldMin),
		CouponYieldMax: set("coupon-yield-max", f.couponYieldMax),
		ListLevels:     f.listLevels,
		FaceUnits:      f.faceUnits,
		BondTypes:      f.bondTypes,
		RatingFrom:     f.ratingFrom,
		RatingTo:       f.ratingTo,
	}
	for _, t := range f.couponTypes {
		c.CouponTypes = append(c.CouponTypes, bonds.CouponRegime(t))
	}

	var err error
	if c.MatDateFrom, err = parseDate("matdate-from", f.matFrom); err != nil {
		return filter.Criteria{}, err
	}
	if c.MatDateTo, err = parseDate("matdate-to", f.matTo); err != nil {
		return filter.Criteria{}, err
	}
	return c, nil
}

func parseDate(flag, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(bonds.DateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", flag, err)
	}
	return &t, nil
}
