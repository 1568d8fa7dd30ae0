package cli

import (
	"testing"

	"github.com/spf13/cobra"

	"bond-screener/internal/bonds"
)

func TestCriteriaOnlyChangedFlagsConstrain(t *testing.T) {
	var f criteriaFlags
	cmd := &cobra.Command{Use: "t"}
	bindCriteriaFlags(cmd, &f)

	err := cmd.ParseFlags([]string{"--coupon-min=0", "--faceunit=RUB,USD", "--coupon-type=floating", "--matdate-to=2030-12-31", "--rating-from=A"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	c, err := f.criteria(cmd)
	if err != nil {
		t.Fatalf("criteria: %v", err)
	}
	if c.CouponMin == nil || *c.CouponMin != 0 {
		t.Fatalf("explicit zero coupon-min should constrain, got %v", c.CouponMin)
	}
	if c.CouponMax != nil || c.YieldMin != nil {
		t.Fatal("unset flags should leave ranges open")
	}
	if len(c.FaceUnits) != 2 || c.FaceUnits[1] != "USD" {
		t.Fatalf("unexpected face units %v", c.FaceUnits)
	}
	if len(c.CouponTypes) != 1 || c.CouponTypes[0] != bonds.RegimeFloating {
		t.Fatalf("unexpected coupon types %v", c.CouponTypes)
	}
	if c.MatDateFrom != nil || c.MatDateTo == nil || c.MatDateTo.Format(bonds.DateLayout) != "2030-12-31" {
		t.Fatalf("unexpected maturity range %v..%v", c.MatDateFrom, c.MatDateTo)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("criteria should validate: %v", err)
	}
}

func TestCriteriaRejectsBadDate(t *testing.T) {
	var f criteriaFlags
	cmd := &cobra.Command{Use: "t"}
	bindCriteriaFlags(cmd, &f)
	if err := cmd.ParseFlags([]string{"--matdate-from=15.01.2030"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := f.criteria(cmd); err == nil {
		t.Fatal("expected invalid date error")
	}
}
