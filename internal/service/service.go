package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bond-screener/internal/alerting"
	"bond-screener/internal/bonds"
	"bond-screener/internal/storage"
)

// ErrLocked is returned when another process holds the refresh lock.
var ErrLocked = errors.New("refresh lock held elsewhere")

// Snapshot is the part of the loader a refresh reads from or replaces.
type Snapshot interface {
	ListRecords(ctx context.Context) ([]bonds.ListRecord, error)
	DetailRecords(ctx context.Context) (map[string]bonds.DetailRecord, error)
	ReplaceStaticSource(ctx context.Context, sourceURL string) (bonds.SectionCounts, error)
}

// RatingRefresher refreshes the rating cache.
type RatingRefresher interface {
	RefreshAll(ctx context.Context, records []bonds.ListRecord, force bool) (bonds.Summary, error)
}

// CouponRefresher refreshes the coupon cache.
type CouponRefresher interface {
	RefreshAll(ctx context.Context, secids []string, force bool) (bonds.Summary, error)
}

// IssuerRefresher refreshes the issuer cache.
type IssuerRefresher interface {
	RefreshAll(ctx context.Context, details map[string]bonds.DetailRecord) (bonds.Summary, error)
}

// Invalidator drops an in-memory cache so it is re-read from storage.
type Invalidator interface {
	Invalidate()
}

// Options wires a Refresher. Runs, Locker and Notifier are optional.
type Options struct {
	Snapshot     Snapshot
	Ratings      RatingRefresher
	Coupons      CouponRefresher
	Issuers      IssuerRefresher
	Caches       []Invalidator
	Runs         storage.RunRecorder
	Locker       storage.AdvisoryLocker
	LockKey      int64
	Notifier     alerting.Notifier
	OnlyOnErrors bool
	StaticURL    string
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Refresher runs the batch refreshes: one at a time per lock key, each
// recorded in the run ledger and reported to the notifier.
type Refresher struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Refresher.
func New(opts Options) *Refresher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Refresher{
		opts:   opts,
		now:    now,
		logger: opts.Logger.With().Str("component", "refresher").Logger(),
	}
}

// RefreshStatic downloads the securities snapshot and replaces the stored one.
func (r *Refresher) RefreshStatic(ctx context.Context) (bonds.SectionCounts, error) {
	var counts bonds.SectionCounts
	_, err := r.withRun(ctx, storage.RunStatic, func(ctx context.Context) (bonds.Summary, error) {
		c, err := r.opts.Snapshot.ReplaceStaticSource(ctx, r.opts.StaticURL)
		if err != nil {
			return bonds.Summary{}, err
		}
		counts = c
		return bonds.Summary{Total: c.Securities, Updated: c.Securities}, nil
	})
	return counts, err
}

// RefreshRatings refreshes ratings for every listing in the list view.
func (r *Refresher) RefreshRatings(ctx context.Context, force bool) (bonds.Summary, error) {
	return r.withRun(ctx, storage.RunRatings, func(ctx context.Context) (bonds.Summary, error) {
		list, err := r.opts.Snapshot.ListRecords(ctx)
		if err != nil {
			return bonds.Summary{}, fmt.Errorf("list records: %w", err)
		}
		return r.opts.Ratings.RefreshAll(ctx, list, force)
	})
}

// RefreshCoupons refreshes coupon schedules for every distinct security.
func (r *Refresher) RefreshCoupons(ctx context.Context, force bool) (bonds.Summary, error) {
	return r.withRun(ctx, storage.RunCoupons, func(ctx context.Context) (bonds.Summary, error) {
		list, err := r.opts.Snapshot.ListRecords(ctx)
		if err != nil {
			return bonds.Summary{}, fmt.Errorf("list records: %w", err)
		}
		return r.opts.Coupons.RefreshAll(ctx, distinctSecIDs(list), force)
	})
}

// RefreshIssuers searches the issuer of every detailed security again.
func (r *Refresher) RefreshIssuers(ctx context.Context) (bonds.Summary, error) {
	return r.withRun(ctx, storage.RunIssuers, func(ctx context.Context) (bonds.Summary, error) {
		details, err := r.opts.Snapshot.DetailRecords(ctx)
		if err != nil {
			return bonds.Summary{}, fmt.Errorf("detail records: %w", err)
		}
		return r.opts.Issuers.RefreshAll(ctx, details)
	})
}

// ReloadCaches drops every in-memory cache so edits made to the stored
// documents outside this process become visible, then rebuilds the list view.
func (r *Refresher) ReloadCaches(ctx context.Context) (bonds.Summary, error) {
	return r.withRun(ctx, storage.RunCaches, func(ctx context.Context) (bonds.Summary, error) {
		for _, c := range r.opts.Caches {
			c.Invalidate()
		}
		list, err := r.opts.Snapshot.ListRecords(ctx)
		if err != nil {
			return bonds.Summary{Total: len(r.opts.Caches), Errors: 1}, fmt.Errorf("list records: %w", err)
		}
		r.logger.Info().Int("caches", len(r.opts.Caches)).Int("listings", len(list)).Msg("caches reloaded")
		return bonds.Summary{Total: len(r.opts.Caches), Updated: len(r.opts.Caches)}, nil
	})
}

func (r *Refresher) withRun(ctx context.Context, kind string, fn func(context.Context) (bonds.Summary, error)) (bonds.Summary, error) {
	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return bonds.Summary{}, err
	}
	if !proceed {
		r.logger.Info().Str("kind", kind).Msg("skip refresh because advisory lock held elsewhere")
		return bonds.Summary{}, ErrLocked
	}
	if unlock != nil {
		defer unlock()
	}

	started := r.now().UTC()
	run, recorded := r.startRun(ctx, kind, started)

	summary, runErr := fn(ctx)
	finished := r.now().UTC()

	if recorded {
		r.finishRun(run, summary, runErr, finished)
	}

	event := r.logger.Info()
	if runErr != nil {
		event = r.logger.Error().Err(runErr)
	}
	event.Str("kind", kind).
		Int("total", summary.Total).
		Int("updated", summary.Updated).
		Int("errors", summary.Errors).
		Int("skipped", summary.Skipped).
		Dur("took", finished.Sub(started)).
		Msg("refresh finished")

	r.notify(ctx, alerting.Report{
		Kind:       kind,
		StartedAt:  started,
		FinishedAt: finished,
		Summary:    summary,
		Err:        runErr,
	})
	return summary, runErr
}

func (r *Refresher) startRun(ctx context.Context, kind string, started time.Time) (storage.RefreshRun, bool) {
	if r.opts.Runs == nil {
		return storage.RefreshRun{}, false
	}
	run, err := r.opts.Runs.StartRun(ctx, kind, started)
	if err != nil {
		r.logger.Error().Err(err).Str("kind", kind).Msg("failed to record refresh start")
		return storage.RefreshRun{}, false
	}
	return run, true
}

func (r *Refresher) finishRun(run storage.RefreshRun, summary bonds.Summary, runErr error, finished time.Time) {
	run.FinishedAt = &finished
	run.Total = summary.Total
	run.Updated = summary.Updated
	run.Errors = summary.Errors
	run.Skipped = summary.Skipped
	run.Status = "complete"
	if runErr != nil {
		run.Status = "failed"
		msg := runErr.Error()
		run.Error = &msg
	}

	// the run context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.opts.Runs.FinishRun(ctx, run); err != nil {
		r.logger.Error().Err(err).Str("kind", run.Kind).Msg("failed to record refresh result")
	}
}

func (r *Refresher) notify(ctx context.Context, report alerting.Report) {
	if r.opts.Notifier == nil {
		return
	}
	if r.opts.OnlyOnErrors && !report.Failed() {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := r.opts.Notifier.Notify(ctx, report); err != nil {
		r.logger.Error().Err(err).Str("kind", report.Kind).Msg("failed to dispatch refresh report")
	}
}

func (r *Refresher) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.opts.LockKey == 0 || r.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.opts.Locker.TryAdvisoryLock(ctx, r.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func distinctSecIDs(list []bonds.ListRecord) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, r := range list {
		if r.SecID == "" {
			continue
		}
		if _, ok := seen[r.SecID]; ok {
			continue
		}
		seen[r.SecID] = struct{}{}
		out = append(out, r.SecID)
	}
	return out
}
