package ratings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bond-screener/internal/bonds"
	"bond-screener/internal/staleness"
	"bond-screener/internal/storage"
)

const ratingsDoc = "bonds_rating.json"

type stubRatingFetcher struct {
	pageCalls int
	apiCalls  int
	page      string
	pageErr   error
	payload   string
	apiErr    error
	issuerIDs []string
}

func (f *stubRatingFetcher) FetchIssuePage(_ context.Context, _, _ string) ([]byte, error) {
	f.pageCalls++
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	return []byte(f.page), nil
}

func (f *stubRatingFetcher) FetchIssuerRatings(_ context.Context, issuerID, _ string) ([]byte, error) {
	f.apiCalls++
	f.issuerIDs = append(f.issuerIDs, issuerID)
	if f.apiErr != nil {
		return nil, f.apiErr
	}
	return []byte(f.payload), nil
}

const issuePage = `<html><body><a href="/ru/emidocs.aspx?id=12345">Документы эмитента</a></body></html>`

const ratingPayload = `[{"charsetinfo":{"name":"utf-8"}},{"cci_rating_securities":[
	{"agency_id":3,"agency_name_short_ru":"АКРА","rating_level_id":17,"rating_date":"2024-03-01","rating_level_name_short_ru":"A+(RU)"}]}]`

func policyAt(day string) staleness.Policy {
	now, _ := time.Parse(bonds.DateLayout, day)
	return staleness.Policy{TTLDays: staleness.RatingTTLDays, Now: func() time.Time { return now }}
}

func newRatingService(dir string, src *stubRatingFetcher, day string) *Service {
	return NewService(storage.NewFileStore(dir), ratingsDoc, src, policyAt(day), zerolog.Nop())
}

func TestPlaceholderLifecycleWithoutIssuerID(t *testing.T) {
	dir := t.TempDir()
	src := &stubRatingFetcher{page: `<html><body>nothing here</body></html>`}
	svc := newRatingService(dir, src, "2025-06-01")
	ctx := context.Background()

	got, err := svc.Get(ctx, "X", "BOARD1", false)
	require.NoError(t, err)
	assert.Equal(t, bonds.PlaceholderRatings(), got)
	assert.Zero(t, src.pageCalls)

	got, err = svc.Get(ctx, "X", "BOARD1", true)
	require.NoError(t, err)
	assert.Equal(t, bonds.PlaceholderRatings(), got)
	assert.Equal(t, 1, src.pageCalls)
	assert.Zero(t, src.apiCalls)

	// a fresh process reads the stored placeholder without network access
	reloaded := newRatingService(dir, src, "2025-06-02")
	got, err = reloaded.Get(ctx, "X", "BOARD1", false)
	require.NoError(t, err)
	assert.Equal(t, bonds.PlaceholderRatings(), got)
	assert.Equal(t, 1, src.pageCalls)

	var doc map[string]bonds.RatingEntry
	require.NoError(t, storage.LoadJSON(ctx, storage.NewFileStore(dir), ratingsDoc, &doc))
	assert.Equal(t, "2025-06-01", doc["X"].LastUpdated)
	assert.Equal(t, bonds.PlaceholderRatings(), doc["X"].Ratings)
}

func TestGetRefreshResolvesRatings(t *testing.T) {
	dir := t.TempDir()
	src := &stubRatingFetcher{page: issuePage, payload: ratingPayload}
	svc := newRatingService(dir, src, "2025-06-01")

	notified := 0
	svc.OnChange(func() { notified++ })

	got, err := svc.Get(context.Background(), "RU000A1", "TQCB", true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A+(RU)", got[0].RatingLevelName)
	assert.Equal(t, []string{"12345"}, src.issuerIDs)
	assert.Equal(t, 1, notified)

	// fresh within TTL: no second round trip even when refresh is requested
	_, err = svc.Get(context.Background(), "RU000A1", "TQCB", true)
	require.NoError(t, err)
	assert.Equal(t, 1, src.pageCalls)

	sums, err := svc.Summaries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bonds.RatingSummary{Agency: "АКРА", Level: "A+(RU)"}, sums["RU000A1"])
}

func TestStaleEntryServedWithoutRefresh(t *testing.T) {
	dir := t.TempDir()
	src := &stubRatingFetcher{page: issuePage, payload: ratingPayload}
	_, err := newRatingService(dir, src, "2025-01-01").Get(context.Background(), "S", "TQCB", true)
	require.NoError(t, err)

	later := newRatingService(dir, src, "2025-06-01")
	got, err := later.Get(context.Background(), "S", "TQCB", false)
	require.NoError(t, err)
	assert.Equal(t, "АКРА", got[0].AgencyName)
	assert.Equal(t, 1, src.pageCalls)

	_, err = later.Get(context.Background(), "S", "TQCB", true)
	require.NoError(t, err)
	assert.Equal(t, 2, src.pageCalls)
}

func TestOriginFailureStoresPlaceholder(t *testing.T) {
	dir := t.TempDir()
	src := &stubRatingFetcher{page: issuePage, apiErr: bonds.ErrOriginUnavailable}
	svc := newRatingService(dir, src, "2025-06-01")

	got, err := svc.Get(context.Background(), "F", "TQCB", true)
	require.NoError(t, err)
	assert.Equal(t, bonds.PlaceholderRatings(), got)

	_, err = svc.Get(context.Background(), "F", "TQCB", true)
	require.NoError(t, err)
	assert.Equal(t, 1, src.apiCalls, "placeholder is cached for the TTL")
}

func TestCorruptRatingDocumentReset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ratingsDoc), []byte("not json"), 0o644))

	svc := newRatingService(dir, &stubRatingFetcher{}, "2025-06-01")
	got, err := svc.Get(context.Background(), "X", "B", false)
	require.NoError(t, err)
	assert.Equal(t, bonds.PlaceholderRatings(), got)

	raw, err := os.ReadFile(filepath.Join(dir, ratingsDoc))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestLegacyEntryIsStaleAndMigrated(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"L":[{"agency_id":1,"agency_name_short_ru":"НРА","rating_level_name_short_ru":"BBB"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ratingsDoc), []byte(legacy), 0o644))

	src := &stubRatingFetcher{page: issuePage, payload: ratingPayload}
	svc := newRatingService(dir, src, "2025-06-01")

	got, err := svc.Get(context.Background(), "L", "TQCB", false)
	require.NoError(t, err)
	assert.Equal(t, "BBB", got[0].RatingLevelName)
	assert.Zero(t, src.pageCalls)

	var doc map[string]map[string]any
	require.NoError(t, storage.LoadJSON(context.Background(), storage.NewFileStore(dir), ratingsDoc, &doc))
	assert.Contains(t, doc["L"], "ratings")
	assert.Equal(t, "", doc["L"]["last_updated"])

	got, err = svc.Get(context.Background(), "L", "TQCB", true)
	require.NoError(t, err)
	assert.Equal(t, "A+(RU)", got[0].RatingLevelName)
}

func TestRefreshAllCounts(t *testing.T) {
	dir := t.TempDir()
	src := &stubRatingFetcher{page: issuePage, payload: ratingPayload}
	svc := newRatingService(dir, src, "2025-06-01")
	_, err := svc.Get(context.Background(), "FRESH", "TQCB", true)
	require.NoError(t, err)

	records := []bonds.ListRecord{
		{SecID: "FRESH", BoardID: "TQCB"},
		{SecID: "NEW", BoardID: "TQCB"},
		{SecID: "NOBOARD"},
		{SecID: "NEW", BoardID: "TQIR"},
	}
	sum, err := svc.RefreshAll(context.Background(), records, false)
	require.NoError(t, err)
	assert.Equal(t, bonds.Summary{Total: 4, Updated: 1, Skipped: 3}, sum)

	src.pageErr = errors.New("connection reset")
	sum, err = svc.RefreshAll(context.Background(), records, true)
	require.NoError(t, err)
	assert.Equal(t, bonds.Summary{Total: 4, Updated: 2, Errors: 2, Skipped: 2}, sum)

	got, err := svc.Get(context.Background(), "NEW", "TQCB", false)
	require.NoError(t, err)
	assert.Equal(t, bonds.PlaceholderRatings(), got)
}

func TestRefreshAllStopsOnCancel(t *testing.T) {
	svc := newRatingService(t.TempDir(), &stubRatingFetcher{page: issuePage, payload: ratingPayload}, "2025-06-01")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.RefreshAll(ctx, []bonds.ListRecord{{SecID: "A", BoardID: "B"}}, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFreshEmptyRatingsReturnedAsStored(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	require.NoError(t, storage.SaveJSON(ctx, storage.NewFileStore(dir), ratingsDoc, map[string]bonds.RatingEntry{
		"E": {LastUpdated: "2025-06-01", Ratings: []bonds.Rating{}},
	}))
	src := &stubRatingFetcher{}
	svc := newRatingService(dir, src, "2025-06-02")

	got, err := svc.Get(ctx, "E", "TQCB", true)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, src.pageCalls)
}

func TestInvalidateRereadsStoredRatings(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	src := &stubRatingFetcher{page: issuePage, payload: ratingPayload}
	svc := newRatingService(dir, src, "2025-06-01")

	_, err := svc.Get(ctx, "RU000A1", "TQCB", true)
	require.NoError(t, err)

	notified := 0
	svc.OnChange(func() { notified++ })

	store := storage.NewFileStore(dir)
	var doc map[string]bonds.RatingEntry
	require.NoError(t, storage.LoadJSON(ctx, store, ratingsDoc, &doc))
	entry := doc["RU000A1"]
	entry.Ratings[0].RatingLevelName = "AA(RU)"
	doc["RU000A1"] = entry
	require.NoError(t, storage.SaveJSON(ctx, store, ratingsDoc, doc))

	svc.Invalidate()
	assert.Equal(t, 1, notified)

	got, err := svc.Get(ctx, "RU000A1", "TQCB", false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AA(RU)", got[0].RatingLevelName)
	assert.Equal(t, 1, src.pageCalls)
}
