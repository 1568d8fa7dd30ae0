package storage

import (
	"time"

	"github.com/google/uuid"
)

// Refresh run kinds.
const (
	RunStatic  = "static"
	RunRatings = "ratings"
	RunCoupons = "coupons"
	RunIssuers = "issuers"
	RunCaches  = "caches"
)

// RefreshRun is one recorded batch refresh.
type RefreshRun struct {
	ID         uuid.UUID
	Kind       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Total      int
	Updated    int
	Errors     int
	Skipped    int
	Status     string
	Error      *string
}
