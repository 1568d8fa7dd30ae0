package staleness

import (
	"testing"
	"time"
)

func TestIsStaleBoundaries(t *testing.T) {
	today := time.Date(2025, 6, 30, 15, 4, 0, 0, time.UTC)

	cases := []struct {
		name string
		last string
		ttl  int
		want bool
	}{
		{"same day", "2025-06-30", 14, false},
		{"exactly ttl", "2025-06-16", 14, false},
		{"ttl plus one", "2025-06-15", 14, true},
		{"long ttl inside", "2025-05-31", 30, false},
		{"long ttl outside", "2025-05-30", 30, true},
		{"empty", "", 30, true},
		{"sentinel", "0000-00-00", 30, true},
		{"garbage", "30.06.2025", 30, true},
		{"future date", "2025-07-10", 14, false},
	}

	for _, tc := range cases {
		if got := IsStale(tc.last, tc.ttl, today); got != tc.want {
			t.Fatalf("%s: IsStale(%q, %d) = %v, want %v", tc.name, tc.last, tc.ttl, got, tc.want)
		}
	}
}

func TestPolicyUsesClock(t *testing.T) {
	p := Policy{TTLDays: CouponTTLDays, Now: func() time.Time {
		return time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	}}

	if p.Today() != "2025-01-20" {
		t.Fatalf("unexpected today: %s", p.Today())
	}
	if p.IsStale("2025-01-06") {
		t.Fatal("14 days old should still be fresh")
	}
	if !p.IsStale("2025-01-05") {
		t.Fatal("15 days old should be stale")
	}
}
