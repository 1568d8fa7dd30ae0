package fetcher

import (
	"context"

	"bond-screener/internal/bonds"
)

// StaticFetcher downloads the full bonds snapshot document.
type StaticFetcher interface {
	FetchStatic(ctx context.Context, url string) ([]byte, error)
}

// CouponFetcher retrieves an instrument's bondization schedule.
type CouponFetcher interface {
	FetchBondization(ctx context.Context, secid string) (Bondization, error)
}

// RatingFetcher performs the two-step issue page and rating API lookup.
type RatingFetcher interface {
	FetchIssuePage(ctx context.Context, boardID, secid string) ([]byte, error)
	FetchIssuerRatings(ctx context.Context, issuerID, secid string) ([]byte, error)
}

// IssuerSearcher queries the exchange security search.
type IssuerSearcher interface {
	SearchSecurities(ctx context.Context, query string) (bonds.Table, error)
}

// Bondization holds the three schedule sections of one instrument.
type Bondization struct {
	Amortizations []bonds.Record
	Coupons       []bonds.Record
	Offers        []bonds.Record
}
