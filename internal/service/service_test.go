package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bond-screener/internal/alerting"
	"bond-screener/internal/bonds"
	"bond-screener/internal/storage"
)

type fakeSnapshot struct {
	list    []bonds.ListRecord
	details map[string]bonds.DetailRecord
	counts  bonds.SectionCounts
	err     error
	urls    []string
}

func (f *fakeSnapshot) ListRecords(context.Context) ([]bonds.ListRecord, error) {
	return f.list, f.err
}

func (f *fakeSnapshot) DetailRecords(context.Context) (map[string]bonds.DetailRecord, error) {
	return f.details, f.err
}

func (f *fakeSnapshot) ReplaceStaticSource(_ context.Context, url string) (bonds.SectionCounts, error) {
	f.urls = append(f.urls, url)
	return f.counts, f.err
}

type fakeCoupons struct {
	secids []string
	force  bool
}

func (f *fakeCoupons) RefreshAll(_ context.Context, secids []string, force bool) (bonds.Summary, error) {
	f.secids, f.force = secids, force
	return bonds.Summary{Total: len(secids), Updated: len(secids)}, nil
}

type fakeRatings struct {
	summary bonds.Summary
	err     error
	calls   int
}

func (f *fakeRatings) RefreshAll(context.Context, []bonds.ListRecord, bool) (bonds.Summary, error) {
	f.calls++
	return f.summary, f.err
}

type fakeIssuers struct{ got map[string]bonds.DetailRecord }

func (f *fakeIssuers) RefreshAll(_ context.Context, details map[string]bonds.DetailRecord) (bonds.Summary, error) {
	f.got = details
	return bonds.Summary{Total: len(details)}, nil
}

type fakeRuns struct {
	mu       sync.Mutex
	started  []string
	finished []storage.RefreshRun
}

func (f *fakeRuns) StartRun(_ context.Context, kind string, at time.Time) (storage.RefreshRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, kind)
	return storage.RefreshRun{ID: uuid.New(), Kind: kind, StartedAt: at, Status: "running"}, nil
}

func (f *fakeRuns) FinishRun(_ context.Context, run storage.RefreshRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, run)
	return nil
}

func (f *fakeRuns) ListRecentRuns(context.Context, int) ([]storage.RefreshRun, error) {
	return nil, nil
}

type fakeLocker struct {
	acquired bool
	released int
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.released++ }, true, nil
}

type fakeNotifier struct{ reports []alerting.Report }

func (f *fakeNotifier) Notify(_ context.Context, r alerting.Report) error {
	f.reports = append(f.reports, r)
	return nil
}

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRefreshCouponsUsesDistinctSecIDs(t *testing.T) {
	snap := &fakeSnapshot{list: []bonds.ListRecord{
		{SecID: "AAA", BoardID: "TQCB"},
		{SecID: "AAA", BoardID: "TQIR"},
		{SecID: ""},
		{SecID: "BBB", BoardID: "TQOB"},
	}}
	coupons := &fakeCoupons{}
	runs := &fakeRuns{}
	r := New(Options{Snapshot: snap, Coupons: coupons, Runs: runs, Now: fixedClock(), Logger: zerolog.Nop()})

	summary, err := r.RefreshCoupons(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, coupons.secids)
	assert.True(t, coupons.force)
	assert.Equal(t, bonds.Summary{Total: 2, Updated: 2}, summary)

	require.Len(t, runs.finished, 1)
	run := runs.finished[0]
	assert.Equal(t, storage.RunCoupons, run.Kind)
	assert.Equal(t, "complete", run.Status)
	assert.Equal(t, 2, run.Updated)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.After(run.StartedAt))
}

func TestRefreshRecordsFailureAndNotifies(t *testing.T) {
	snap := &fakeSnapshot{}
	ratings := &fakeRatings{summary: bonds.Summary{Total: 3, Updated: 1}, err: context.Canceled}
	runs := &fakeRuns{}
	notifier := &fakeNotifier{}
	r := New(Options{Snapshot: snap, Ratings: ratings, Runs: runs, Notifier: notifier, Now: fixedClock(), Logger: zerolog.Nop()})

	summary, err := r.RefreshRatings(context.Background(), false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Updated)

	require.Len(t, runs.finished, 1)
	assert.Equal(t, "failed", runs.finished[0].Status)
	require.NotNil(t, runs.finished[0].Error)
	assert.Equal(t, context.Canceled.Error(), *runs.finished[0].Error)

	require.Len(t, notifier.reports, 1)
	assert.Equal(t, storage.RunRatings, notifier.reports[0].Kind)
	assert.True(t, notifier.reports[0].Failed())
}

func TestOnlyOnErrorsSuppressesCleanReports(t *testing.T) {
	notifier := &fakeNotifier{}
	ratings := &fakeRatings{summary: bonds.Summary{Total: 2, Updated: 2}}
	r := New(Options{Snapshot: &fakeSnapshot{}, Ratings: ratings, Notifier: notifier, OnlyOnErrors: true, Logger: zerolog.Nop()})

	_, err := r.RefreshRatings(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, notifier.reports)

	ratings.summary.Errors = 1
	_, err = r.RefreshRatings(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, notifier.reports, 1)
}

func TestLockHeldElsewhereSkipsRun(t *testing.T) {
	ratings := &fakeRatings{}
	runs := &fakeRuns{}
	r := New(Options{Snapshot: &fakeSnapshot{}, Ratings: ratings, Runs: runs, Locker: &fakeLocker{}, LockKey: 42, Logger: zerolog.Nop()})

	_, err := r.RefreshRatings(context.Background(), false)
	require.ErrorIs(t, err, ErrLocked)
	assert.Zero(t, ratings.calls)
	assert.Empty(t, runs.started)
}

func TestLockReleasedAfterRun(t *testing.T) {
	locker := &fakeLocker{acquired: true}
	issuers := &fakeIssuers{}
	details := map[string]bonds.DetailRecord{"AAA": {}}
	r := New(Options{Snapshot: &fakeSnapshot{details: details}, Issuers: issuers, Locker: locker, LockKey: 42, Logger: zerolog.Nop()})

	summary, err := r.RefreshIssuers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, details, issuers.got)
	assert.Equal(t, 1, locker.released)
}

func TestRefreshStaticReturnsCounts(t *testing.T) {
	snap := &fakeSnapshot{counts: bonds.SectionCounts{Securities: 3, MarketData: 2}}
	r := New(Options{Snapshot: snap, StaticURL: "https://iss.example/bonds.json", Logger: zerolog.Nop()})

	counts, err := r.RefreshStatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Securities)
	assert.Equal(t, []string{"https://iss.example/bonds.json"}, snap.urls)
}

func TestSnapshotFailureIsWrapped(t *testing.T) {
	snap := &fakeSnapshot{err: bonds.ErrNotFound}
	r := New(Options{Snapshot: snap, Coupons: &fakeCoupons{}, Logger: zerolog.Nop()})

	_, err := r.RefreshCoupons(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bonds.ErrNotFound))
}

type fakeCache struct{ invalidated int }

func (f *fakeCache) Invalidate() { f.invalidated++ }

func TestReloadCachesInvalidatesEveryCache(t *testing.T) {
	snap := &fakeSnapshot{list: []bonds.ListRecord{{SecID: "AAA"}}}
	a, b := &fakeCache{}, &fakeCache{}
	runs := &fakeRuns{}
	r := New(Options{Snapshot: snap, Caches: []Invalidator{a, b}, Runs: runs, Now: fixedClock(), Logger: zerolog.Nop()})

	summary, err := r.ReloadCaches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bonds.Summary{Total: 2, Updated: 2}, summary)
	assert.Equal(t, 1, a.invalidated)
	assert.Equal(t, 1, b.invalidated)

	require.Len(t, runs.finished, 1)
	assert.Equal(t, storage.RunCaches, runs.finished[0].Kind)
	assert.Equal(t, "complete", runs.finished[0].Status)
}
