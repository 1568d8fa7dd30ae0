package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"bond-screener/internal/bonds"
)

// FetchStatic downloads a full snapshot document from sourceURL and
// checks it is JSON before handing back the raw bytes.
func (c *Client) FetchStatic(ctx context.Context, sourceURL string) ([]byte, error) {
	if sourceURL == "" {
		return nil, fmt.Errorf("static source url is required")
	}
	payload, err := c.get(ctx, sourceURL, "application/json")
	if err != nil {
		return nil, fmt.Errorf("download static snapshot: %w", err)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: static snapshot is not valid JSON", bonds.ErrMalformedPayload)
	}
	return payload, nil
}

type bondizationResponse struct {
	Amortizations bonds.Table `json:"amortizations"`
	Coupons       bonds.Table `json:"coupons"`
	Offers        bonds.Table `json:"offers"`
}

// FetchBondization loads the amortization, coupon and offer schedules.
// Rows whose width does not match their header are dropped.
func (c *Client) FetchBondization(ctx context.Context, secid string) (Bondization, error) {
	endpoint := fmt.Sprintf("%s/securities/%s/bondization.json?iss.meta=off", c.issURL, url.PathEscape(secid))

	var resp bondizationResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return Bondization{}, fmt.Errorf("fetch bondization %s: %w", secid, err)
	}

	return Bondization{
		Amortizations: resp.Amortizations.StrictRecords(),
		Coupons:       resp.Coupons.StrictRecords(),
		Offers:        resp.Offers.StrictRecords(),
	}, nil
}

// FetchIssuerRatings calls the credit rating API scoped to an issuer and
// security. The payload shape varies, so it is returned undecoded.
func (c *Client) FetchIssuerRatings(ctx context.Context, issuerID, secid string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/cci/rating/companies/ecbd_%s/securities/isin_%s.json?iss.json=extended&iss.meta=off",
		c.issURL, url.PathEscape(issuerID), url.PathEscape(secid))

	payload, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch ratings %s: %w", secid, err)
	}
	return payload, nil
}

type searchResponse struct {
	Securities bonds.Table `json:"securities"`
}

// SearchSecurities runs a free-text security search, usually by ISIN.
func (c *Client) SearchSecurities(ctx context.Context, query string) (bonds.Table, error) {
	endpoint := fmt.Sprintf("%s/securities.json?q=%s", c.issURL, url.QueryEscape(query))

	var resp searchResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return bonds.Table{}, fmt.Errorf("search securities %q: %w", query, err)
	}
	return resp.Securities, nil
}

var (
	_ StaticFetcher  = (*Client)(nil)
	_ CouponFetcher  = (*Client)(nil)
	_ RatingFetcher  = (*Client)(nil)
	_ IssuerSearcher = (*Client)(nil)
)
