package staleness

import (
	"time"

	"bond-screener/internal/bonds"
)

const (
	// CouponTTLDays is the default coupon schedule lifetime.
	CouponTTLDays = 14
	// RatingTTLDays is the default rating lifetime.
	RatingTTLDays = 30
)

// IsStale reports whether a cached value last refreshed on lastRefresh
// (YYYY-MM-DD) must be refetched. Missing, sentinel and unparseable dates
// are always stale.
func IsStale(lastRefresh string, ttlDays int, today time.Time) bool {
	last, ok := bonds.ParseDate(lastRefresh)
	if !ok {
		return true
	}
	return DaysBetween(last, today) > ttlDays
}

// DaysBetween counts calendar days from a to b, ignoring time of day.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// Policy binds a TTL to a clock.
type Policy struct {
	TTLDays int
	Now     func() time.Time
}

// New returns a Policy using the wall clock.
func New(ttlDays int) Policy {
	return Policy{TTLDays: ttlDays, Now: time.Now}
}

// IsStale applies the policy's TTL against today.
func (p Policy) IsStale(lastRefresh string) bool {
	return IsStale(lastRefresh, p.TTLDays, p.now())
}

// Today formats the policy's current date for persistence.
func (p Policy) Today() string {
	return p.now().Format(bonds.DateLayout)
}

// Time is the policy's current instant.
func (p Policy) Time() time.Time {
	return p.now()
}

func (p Policy) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
