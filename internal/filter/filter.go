package filter

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"bond-screener/internal/bonds"
)

// Criteria is a conjunction of optional predicates. Unset fields do not
// constrain the result; a record lacking a constrained value is excluded.
type Criteria struct {
	CouponMin *float64 `json:"coupon_min,omitempty" validate:"omitempty,gte=0,lte=100"`
	CouponMax *float64 `json:"coupon_max,omitempty" validate:"omitempty,gte=0,lte=100"`

	YieldMin *float64 `json:"yield_min,omitempty"`
	YieldMax *float64 `json:"yield_max,omitempty"`

	CouponYieldMin *float64 `json:"coupon_yield_min,omitempty" validate:"omitempty,gte=0"`
	CouponYieldMax *float64 `json:"coupon_yield_max,omitempty" validate:"omitempty,gte=0"`

	MatDateFrom *time.Time `json:"matdate_from,omitempty"`
	MatDateTo   *time.Time `json:"matdate_to,omitempty"`

	ListLevels  []int                `json:"listlevel,omitempty" validate:"dive,gte=0"`
	FaceUnits   []string             `json:"faceunit,omitempty" validate:"dive,required"`
	BondTypes   []string             `json:"bondtype,omitempty" validate:"dive,required"`
	CouponTypes []bonds.CouponRegime `json:"coupon_type,omitempty" validate:"dive,oneof=fixed floating"`

	RatingFrom string `json:"rating_from,omitempty" validate:"omitempty,rating_label"`
	RatingTo   string `json:"rating_to,omitempty" validate:"omitempty,rating_label"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("rating_label", func(fl validator.FieldLevel) bool {
		_, ok := ScaleIndex(fl.Field().String())
		return ok
	})
	return v
}

// Validate checks field bounds and that every range is ordered.
func (c Criteria) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	var errs []error
	if outOfOrder(c.CouponMin, c.CouponMax) {
		errs = append(errs, errors.New("coupon_min exceeds coupon_max"))
	}
	if outOfOrder(c.YieldMin, c.YieldMax) {
		errs = append(errs, errors.New("yield_min exceeds yield_max"))
	}
	if outOfOrder(c.CouponYieldMin, c.CouponYieldMax) {
		errs = append(errs, errors.New("coupon_yield_min exceeds coupon_yield_max"))
	}
	if c.MatDateFrom != nil && c.MatDateTo != nil && c.MatDateFrom.After(*c.MatDateTo) {
		errs = append(errs, errors.New("matdate_from is after matdate_to"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid filter: %w", errors.Join(errs...))
	}
	return nil
}

func outOfOrder(lo, hi *float64) bool {
	return lo != nil && hi != nil && *lo > *hi
}

type predicate func(bonds.ListRecord) bool

// Apply returns the records satisfying every criterion, in input order.
func Apply(records []bonds.ListRecord, c Criteria) []bonds.ListRecord {
	preds := c.predicates()
	out := make([]bonds.ListRecord, 0, len(records))
	for _, r := range records {
		if matchesAll(r, preds) {
			out = append(out, r)
		}
	}
	return out
}

func matchesAll(r bonds.ListRecord, preds []predicate) bool {
	for _, p := range preds {
		if !p(r) {
			return false
		}
	}
	return true
}

func (c Criteria) predicates() []predicate {
	var preds []predicate

	if c.CouponMin != nil || c.CouponMax != nil {
		preds = append(preds, func(r bonds.ListRecord) bool {
			return inRange(r.CouponPercent, c.CouponMin, c.CouponMax)
		})
	}
	if c.YieldMin != nil || c.YieldMax != nil {
		preds = append(preds, func(r bonds.ListRecord) bool {
			return inRange(r.YieldAtPrevWAPrice, c.YieldMin, c.YieldMax)
		})
	}
	if c.CouponYieldMin != nil || c.CouponYieldMax != nil {
		preds = append(preds, func(r bonds.ListRecord) bool {
			v, ok := r.CouponYield()
			if !ok {
				return false
			}
			return inRange(&v, c.CouponYieldMin, c.CouponYieldMax)
		})
	}
	if c.MatDateFrom != nil || c.MatDateTo != nil {
		from, to := day(c.MatDateFrom), day(c.MatDateTo)
		preds = append(preds, func(r bonds.ListRecord) bool {
			if r.MatDate == nil {
				return false
			}
			d := day(r.MatDate)
			if from != nil && d.Before(*from) {
				return false
			}
			return to == nil || !d.After(*to)
		})
	}
	if len(c.ListLevels) > 0 {
		preds = append(preds, func(r bonds.ListRecord) bool {
			return r.ListLevel != nil && slices.Contains(c.ListLevels, *r.ListLevel)
		})
	}
	if len(c.FaceUnits) > 0 {
		preds = append(preds, func(r bonds.ListRecord) bool {
			return r.FaceUnit != "" && slices.Contains(c.FaceUnits, r.FaceUnit)
		})
	}
	if len(c.BondTypes) > 0 {
		preds = append(preds, func(r bonds.ListRecord) bool {
			return r.BondType != "" && slices.Contains(c.BondTypes, r.BondType)
		})
	}
	if len(c.CouponTypes) > 0 {
		preds = append(preds, func(r bonds.ListRecord) bool {
			return r.CouponType != "" && slices.Contains(c.CouponTypes, r.CouponType)
		})
	}
	if lo, hi, ok := ratingSpan(c.RatingFrom, c.RatingTo); ok {
		preds = append(preds, func(r bonds.ListRecord) bool {
			return matchesSpan(r.RatingLevel, lo, hi)
		})
	}

	return preds
}

func inRange(v, lo, hi *float64) bool {
	if v == nil {
		return false
	}
	if lo != nil && *v < *lo {
		return false
	}
	return hi == nil || *v <= *hi
}

func day(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}
