package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bond-screener/internal/alerting"
	"bond-screener/internal/bonds"
	"bond-screener/internal/config"
	"bond-screener/internal/coupons"
	"bond-screener/internal/fetcher"
	"bond-screener/internal/filter"
	"bond-screener/internal/issuers"
	"bond-screener/internal/loader"
	"bond-screener/internal/ratings"
	"bond-screener/internal/scheduler"
	"bond-screener/internal/service"
	"bond-screener/internal/staleness"
	"bond-screener/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// services is the object graph one command works with. Every cache
// invalidates the loader's list view when it changes.
type services struct {
	client  *fetcher.Client
	coupons *coupons.Service
	ratings *ratings.Service
	issuers *issuers.Service
	loader  *loader.Loader
	runs    *storage.Store
	close   func()
}

func (a *App) newServices(ctx context.Context) (*services, error) {
	docs, closeDocs, err := storage.OpenDocuments(ctx, a.Config.Data, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	return a.wire(ctx, docs, closeDocs)
}

func (a *App) wire(ctx context.Context, docs storage.DocumentStore, closeDocs func()) (*services, error) {
	client := fetcher.NewClient(fetcher.Options{
		ISSBaseURL:        a.Config.Moex.ISSBaseURL,
		SiteBaseURL:       a.Config.Moex.SiteBaseURL,
		Timeout:           a.Config.Moex.RequestTimeout,
		UserAgent:         a.Config.Moex.UserAgent,
		RequestsPerSecond: a.Config.Moex.RequestsPerSecond,
	}, a.Logger)

	data := a.Config.Data
	s := &services{
		client:  client,
		coupons: coupons.NewService(docs, data.Coupons, client, staleness.New(a.Config.Cache.CouponTTLDays), a.Logger),
		ratings: ratings.NewService(docs, data.Ratings, client, staleness.New(a.Config.Cache.RatingTTLDays), a.Logger),
		issuers: issuers.NewService(docs, data.Issuers, client, a.Logger),
		close:   closeDocs,
	}
	s.loader = loader.New(loader.Options{
		Store: docs,
		Documents: loader.Documents{
			Bonds:        data.Bonds,
			Columns:      data.Columns,
			Descriptions: data.Descriptions,
		},
		Source:    client,
		Coupons:   s.coupons,
		Ratings:   s.ratings,
		BondTypes: s.issuers,
		Logger:    a.Logger,
	})
	s.coupons.OnChange(s.loader.InvalidateListCache)
	s.ratings.OnChange(s.loader.InvalidateListCache)
	s.issuers.OnChange(s.loader.InvalidateListCache)

	runs, closeRuns, err := a.openStore(ctx)
	if err != nil {
		closeDocs()
		return nil, err
	}
	if runs != nil {
		if err := runs.EnsureSchema(ctx); err != nil {
			closeRuns()
			closeDocs()
			return nil, err
		}
		s.runs = runs
		s.close = func() {
			closeRuns()
			closeDocs()
		}
	}
	return s, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) newRefresher(s *services) *service.Refresher {
	opts := service.Options{
		Snapshot:     s.loader,
		Ratings:      s.ratings,
		Coupons:      s.coupons,
		Issuers:      s.issuers,
		Caches:       []service.Invalidator{s.coupons, s.ratings, s.issuers},
		Notifier:     a.newNotifier(),
		OnlyOnErrors: a.Config.Alerting.OnlyOnErrors,
		StaticURL:    a.Config.Moex.SecuritiesURL,
		Logger:       a.Logger,
	}
	if s.runs != nil {
		opts.Runs = s.runs
		opts.Locker = s.runs
		opts.LockKey = a.Config.Scheduler.AdvisoryLockKey
	}
	return service.New(opts)
}

// Run executes the long-running refresh service: the static snapshot on an
// aligned interval, the caches on their cron schedules.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := a.newServices(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	if s.runs == nil {
		a.Logger.Warn().Msg("database.dsn not configured; refresh ledger and lock disabled")
	}

	refresher := a.newRefresher(s)
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.StaticInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.StaticOnStart,
	}, a.Logger)

	jobs := scheduler.NewCron(time.UTC, a.Logger)
	for _, job := range []scheduler.Job{
		{Name: "ratings", Spec: a.Config.Scheduler.RatingsCron, Run: func(ctx context.Context) error {
			_, err := refresher.RefreshRatings(ctx, false)
			return err
		}},
		{Name: "coupons", Spec: a.Config.Scheduler.CouponsCron, Run: func(ctx context.Context) error {
			_, err := refresher.RefreshCoupons(ctx, false)
			return err
		}},
		{Name: "issuers", Spec: a.Config.Scheduler.IssuersCron, Run: func(ctx context.Context) error {
			_, err := refresher.RefreshIssuers(ctx)
			return err
		}},
	} {
		if err := jobs.Add(ctx, job); err != nil {
			return err
		}
	}

	a.Logger.Info().Strs("cron_jobs", jobs.Jobs()).
		Dur("static_interval", a.Config.Scheduler.StaticInterval).
		Msg("starting refresh service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx, func(ctx context.Context, _ time.Time) error {
			_, err := refresher.RefreshStatic(ctx)
			return err
		})
	})
	g.Go(func() error { return jobs.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("refresh service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

// Refresh kinds accepted by Refresh.
var RefreshKinds = []string{storage.RunStatic, storage.RunRatings, storage.RunCoupons, storage.RunIssuers, storage.RunCaches}

// Refresh runs one batch refresh and prints its outcome.
func (a *App) Refresh(ctx context.Context, kind string, force bool) error {
	s, err := a.newServices(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return a.refresh(ctx, a.newRefresher(s), kind, force)
}

func (a *App) refresh(ctx context.Context, r *service.Refresher, kind string, force bool) error {
	switch kind {
	case storage.RunStatic:
		counts, err := r.RefreshStatic(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "securities: %d\nmarketdata: %d\nmarketdata_yields: %d\n",
			counts.Securities, counts.MarketData, counts.MarketDataYields)
		return nil
	case storage.RunRatings, storage.RunCoupons, storage.RunIssuers, storage.RunCaches:
	default:
		return fmt.Errorf("unknown refresh kind %q", kind)
	}

	var (
		summary bonds.Summary
		err     error
	)
	switch kind {
	case storage.RunRatings:
		summary, err = r.RefreshRatings(ctx, force)
	case storage.RunCoupons:
		summary, err = r.RefreshCoupons(ctx, force)
	case storage.RunIssuers:
		summary, err = r.RefreshIssuers(ctx)
	case storage.RunCaches:
		summary, err = r.ReloadCaches(ctx)
	}
	fmt.Fprintf(a.Out, "total: %d\nupdated: %d\nerrors: %d\nskipped: %d\n",
		summary.Total, summary.Updated, summary.Errors, summary.Skipped)
	return err
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Criteria filter.Criteria
	Limit    int
}

// ExportOptions hold parameters for exporting the screened list.
type ExportOptions struct {
	Criteria filter.Criteria
	CSVPath  string
	PNGPath  string
	MaxRows  int
}
