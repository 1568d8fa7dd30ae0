package coupons

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bond-screener/internal/bonds"
	"bond-screener/internal/fetcher"
	"bond-screener/internal/staleness"
	"bond-screener/internal/storage"
)

const couponsDoc = "coupons_data.json"

type stubCouponFetcher struct {
	calls  int
	result fetcher.Bondization
	err    error
}

func (f *stubCouponFetcher) FetchBondization(_ context.Context, _ string) (fetcher.Bondization, error) {
	f.calls++
	if f.err != nil {
		return fetcher.Bondization{}, f.err
	}
	out := fetcher.Bondization{}
	for _, a := range f.result.Amortizations {
		out.Amortizations = append(out.Amortizations, copyRecords([]bonds.Record{a})[0])
	}
	out.Coupons = copyRecords(f.result.Coupons)
	out.Offers = copyRecords(f.result.Offers)
	return out, nil
}

func fixedPolicy(day string) staleness.Policy {
	now, _ := time.Parse(bonds.DateLayout, day)
	return staleness.Policy{TTLDays: staleness.CouponTTLDays, Now: func() time.Time { return now }}
}

func floatingSchedule() fetcher.Bondization {
	return fetcher.Bondization{
		Amortizations: []bonds.Record{{"amortdate": "2030-01-01", "facevalue": 1000.0}},
		Coupons: []bonds.Record{
			{"coupondate": "2025-01-10", "value": 40.0, "isin": "RU1", "secid": "RU1", "name": "Bond"},
			{"coupondate": "2025-04-10", "value": 45.0},
			{"coupondate": "2025-07-10", "value": 40.0},
			{"coupondate": "2025-10-10", "value": 47.0},
		},
		Offers: nil,
	}
}

func newTestService(t *testing.T, dir string, src fetcher.CouponFetcher, day string) *Service {
	t.Helper()
	return NewService(storage.NewFileStore(dir), couponsDoc, src, fixedPolicy(day), zerolog.Nop())
}

func readDoc(t *testing.T, dir string) map[string]map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, couponsDoc))
	require.NoError(t, err)
	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestGetFetchesClassifiesAndPersists(t *testing.T) {
	dir := t.TempDir()
	src := &stubCouponFetcher{result: floatingSchedule()}
	svc := newTestService(t, dir, src, "2025-05-01")

	changed := 0
	svc.OnChange(func() { changed++ })

	entry, err := svc.Get(context.Background(), "RU1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, changed)
	assert.Equal(t, "2025-05-01", entry.LastUpdated)
	assert.Equal(t, "floating", entry.Amortizations[0]["coupon_type"])
	assert.NotContains(t, entry.Coupons[0], "isin")
	assert.NotContains(t, entry.Coupons[0], "secid")
	assert.NotNil(t, entry.Offers)

	doc := readDoc(t, dir)
	require.Contains(t, doc, "RU1")
	assert.Equal(t, "2025-05-01", doc["RU1"]["last_updated"])
}

func TestGetServesFreshCacheWithoutNetwork(t *testing.T) {
	dir := t.TempDir()
	src := &stubCouponFetcher{result: floatingSchedule()}
	svc := newTestService(t, dir, src, "2025-05-01")

	_, err := svc.Get(context.Background(), "RU1", false)
	require.NoError(t, err)

	later := newTestService(t, dir, src, "2025-05-15")
	entry, err := later.Get(context.Background(), "RU1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, "floating", entry.Amortizations[0]["coupon_type"])
}

func TestGetForceRefetches(t *testing.T) {
	dir := t.TempDir()
	src := &stubCouponFetcher{result: floatingSchedule()}
	svc := newTestService(t, dir, src, "2025-05-01")

	_, err := svc.Get(context.Background(), "RU1", false)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), "RU1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestGetFallsBackToStaleEntry(t *testing.T) {
	dir := t.TempDir()
	src := &stubCouponFetcher{result: floatingSchedule()}
	_, err := newTestService(t, dir, src, "2025-01-01").Get(context.Background(), "RU1", false)
	require.NoError(t, err)

	src.err = bonds.ErrOriginUnavailable
	svc := newTestService(t, dir, src, "2025-03-01")
	entry, err := svc.Get(context.Background(), "RU1", false)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", entry.LastUpdated)
	assert.Equal(t, 2, src.calls)
}

func TestGetPropagatesErrorWithoutCache(t *testing.T) {
	src := &stubCouponFetcher{err: bonds.ErrOriginUnavailable}
	svc := newTestService(t, t.TempDir(), src, "2025-03-01")

	_, err := svc.Get(context.Background(), "RU9", false)
	assert.True(t, errors.Is(err, bonds.ErrOriginUnavailable))
}

func TestCacheHitDoesNotReclassify(t *testing.T) {
	dir := t.TempDir()
	// stored label contradicts what the coupons would classify as
	doc := `{"RU1":{"last_updated":"2025-05-01","amortizations":[{"coupon_type":"fixed"}],` +
		`"coupons":[{"coupondate":"2025-01-01","value":1},{"coupondate":"2025-02-01","value":9},` +
		`{"coupondate":"2025-03-01","value":1},{"coupondate":"2025-04-01","value":9}],"offers":[]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, couponsDoc), []byte(doc), 0o644))

	src := &stubCouponFetcher{}
	svc := newTestService(t, dir, src, "2025-05-02")
	entry, err := svc.Get(context.Background(), "RU1", false)
	require.NoError(t, err)
	assert.Equal(t, "fixed", entry.Amortizations[0]["coupon_type"])
	assert.Zero(t, src.calls)
}

func TestLegacyDocumentMigratedOnLoad(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"bonds":{"RU1":{"last_updated":"2025-05-01",` +
		`"amortizations":[{"amortdate":"2030-01-01"}],` +
		`"coupons":[{"coupondate":"2025-04-01","value":30,"coupon_type":"FLOAT","isin":"RU1"}],` +
		`"offers":[]}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, couponsDoc), []byte(legacy), 0o644))

	svc := newTestService(t, dir, &stubCouponFetcher{}, "2025-05-02")
	sums, err := svc.Summaries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bonds.RegimeFloating, sums["RU1"].Regime)

	stored := readDoc(t, dir)
	require.Contains(t, stored, "RU1", "wrapper should be removed on disk")
	amort := stored["RU1"]["amortizations"].([]any)[0].(map[string]any)
	assert.Equal(t, "floating", amort["coupon_type"])
	coupon := stored["RU1"]["coupons"].([]any)[0].(map[string]any)
	assert.NotContains(t, coupon, "coupon_type")
	assert.NotContains(t, coupon, "isin")
}

func TestCorruptDocumentReset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, couponsDoc), []byte("{{{"), 0o644))

	svc := newTestService(t, dir, &stubCouponFetcher{}, "2025-05-02")
	sums, err := svc.Summaries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sums)

	raw, err := os.ReadFile(filepath.Join(dir, couponsDoc))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestNearestCouponValue(t *testing.T) {
	today := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	coupons := []bonds.Record{
		{"coupondate": "2025-01-01", "value": 10.0},
		{"coupondate": "2025-05-20", "value": 12.0},
		{"coupondate": "2025-04-20", "value": 11.0},
		{"coupondate": "0000-00-00", "value": 99.0},
	}
	got := NearestCouponValue(coupons, today)
	require.NotNil(t, got)
	assert.Equal(t, 11.0, *got)

	assert.Nil(t, NearestCouponValue([]bonds.Record{{"coupondate": "2025-05-01", "value": nil}}, today))
}

func TestRefreshAllCountsAndContinues(t *testing.T) {
	dir := t.TempDir()
	good := &stubCouponFetcher{result: floatingSchedule()}
	svc := newTestService(t, dir, good, "2025-05-01")
	_, err := svc.Get(context.Background(), "FRESH", false)
	require.NoError(t, err)

	flaky := &flakyFetcher{fail: map[string]bool{"BAD": true}, ok: floatingSchedule()}
	svc = newTestService(t, dir, flaky, "2025-05-02")
	notified := 0
	svc.OnChange(func() { notified++ })

	sum, err := svc.RefreshAll(context.Background(), []string{"FRESH", "BAD", "NEW", "", "NEW"}, false)
	require.NoError(t, err)
	assert.Equal(t, bonds.Summary{Total: 5, Updated: 1, Errors: 1, Skipped: 3}, sum)
	assert.Equal(t, 1, notified)
	assert.Contains(t, readDoc(t, dir), "NEW")
}

type flakyFetcher struct {
	fail map[string]bool
	ok   fetcher.Bondization
}

func (f *flakyFetcher) FetchBondization(_ context.Context, secid string) (fetcher.Bondization, error) {
	if f.fail[secid] {
		return fetcher.Bondization{}, bonds.ErrOriginUnavailable
	}
	return fetcher.Bondization{
		Amortizations: copyRecords(f.ok.Amortizations),
		Coupons:       copyRecords(f.ok.Coupons),
	}, nil
}

func TestInvalidateRereadsStoredDocumentAndNotifies(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	src := &stubCouponFetcher{result: floatingSchedule()}
	svc := newTestService(t, dir, src, "2025-05-01")

	_, err := svc.Get(ctx, "RU1", false)
	require.NoError(t, err)

	notified := 0
	svc.OnChange(func() { notified++ })

	store := storage.NewFileStore(dir)
	var doc map[string]bonds.CouponsEntry
	require.NoError(t, storage.LoadJSON(ctx, store, couponsDoc, &doc))
	doc["RU1"].Coupons[0]["value"] = 99.0
	require.NoError(t, storage.SaveJSON(ctx, store, couponsDoc, doc))

	entry, err := svc.Get(ctx, "RU1", false)
	require.NoError(t, err)
	assert.Equal(t, 40.0, entry.Coupons[0]["value"])

	svc.Invalidate()
	assert.Equal(t, 1, notified)

	entry, err = svc.Get(ctx, "RU1", false)
	require.NoError(t, err)
	assert.Equal(t, 99.0, entry.Coupons[0]["value"])
	assert.Equal(t, 1, src.calls)
}
