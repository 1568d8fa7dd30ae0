package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"bond-screener/internal/bonds"
	"bond-screener/internal/fetcher"
	"bond-screener/internal/storage"
)

// CouponIndex supplies coupon amount and regime per instrument.
type CouponIndex interface {
	Summaries(ctx context.Context) (map[string]bonds.CouponSummary, error)
}

// RatingIndex supplies the headline rating per instrument.
type RatingIndex interface {
	Summaries(ctx context.Context) (map[string]bonds.RatingSummary, error)
}

// BondTypeIndex supplies the issuer bond type per instrument.
type BondTypeIndex interface {
	BondTypes(ctx context.Context) (map[string]string, error)
}

// Documents names the stored documents the loader reads.
type Documents struct {
	Bonds        string
	Columns      string
	Descriptions string
}

// Options wires the loader's collaborators. Side indexes may be nil.
type Options struct {
	Store     storage.DocumentStore
	Documents Documents
	Source    fetcher.StaticFetcher
	Coupons   CouponIndex
	Ratings   RatingIndex
	BondTypes BondTypeIndex
	Logger    zerolog.Logger
}

// Loader owns the joined snapshot. Readers always observe a complete
// snapshot; invalidation makes the next read rebuild it.
type Loader struct {
	opts   Options
	logger zerolog.Logger

	current atomic.Pointer[Snapshot]
	swapMu  sync.Mutex
	gen     uint64
	builds  singleflight.Group

	metaMu       sync.Mutex
	columns      map[string]string
	descriptions map[string]any
}

// buildTimeout bounds one snapshot build.
const buildTimeout = 2 * time.Minute

// New returns a Loader; nothing is read until the first access.
func New(opts Options) *Loader {
	return &Loader{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "data_loader").Logger(),
	}
}

// ListRecords returns the list view, building the snapshot if needed.
// Records share immutable pointer fields and must not be modified.
func (l *Loader) ListRecords(ctx context.Context) ([]bonds.ListRecord, error) {
	snap, err := l.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return append([]bonds.ListRecord(nil), snap.List...), nil
}

// DetailRecords returns a copy of the sectioned view keyed by security code.
func (l *Loader) DetailRecords(ctx context.Context) (map[string]bonds.DetailRecord, error) {
	snap, err := l.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bonds.DetailRecord, len(snap.Details))
	for k, v := range snap.Details {
		out[k] = copyDetail(v)
	}
	return out, nil
}

func copyDetail(d bonds.DetailRecord) bonds.DetailRecord {
	out := bonds.DetailRecord{
		Securities: maps.Clone(d.Securities),
		MarketData: maps.Clone(d.MarketData),
	}
	if d.MarketDataYields != nil {
		out.MarketDataYields = make([]bonds.Record, len(d.MarketDataYields))
		for i, r := range d.MarketDataYields {
			out.MarketDataYields[i] = maps.Clone(r)
		}
	}
	return out
}

// Detail returns one instrument's sectioned view.
func (l *Loader) Detail(ctx context.Context, secid string) (bonds.DetailRecord, error) {
	snap, err := l.snapshot(ctx)
	if err != nil {
		return bonds.DetailRecord{}, err
	}
	d, ok := snap.Details[secid]
	if !ok {
		return bonds.DetailRecord{}, fmt.Errorf("bond %s: %w", secid, bonds.ErrNotFound)
	}
	return copyDetail(d), nil
}

// ISIN looks up the ISIN of secid in the static attributes.
func (l *Loader) ISIN(ctx context.Context, secid string) (string, error) {
	d, err := l.Detail(ctx, secid)
	if err != nil {
		return "", err
	}
	return bonds.AsString(d.Securities["ISIN"]), nil
}

// InvalidateListCache discards the snapshot; the next read rebuilds it.
func (l *Loader) InvalidateListCache() {
	l.swapMu.Lock()
	l.gen++
	l.current.Store(nil)
	l.swapMu.Unlock()
	l.logger.Debug().Msg("bond snapshot invalidated")
}

// InvalidateMetadataCache drops the column mapping and descriptions.
func (l *Loader) InvalidateMetadataCache() {
	l.metaMu.Lock()
	l.columns = nil
	l.descriptions = nil
	l.metaMu.Unlock()
}

// ReplaceStaticSource downloads a full snapshot from sourceURL, stores it
// in place of the current one, clears the metadata caches and rebuilds.
func (l *Loader) ReplaceStaticSource(ctx context.Context, sourceURL string) (bonds.SectionCounts, error) {
	if l.opts.Source == nil {
		return bonds.SectionCounts{}, fmt.Errorf("no static source configured")
	}
	payload, err := l.opts.Source.FetchStatic(ctx, sourceURL)
	if err != nil {
		return bonds.SectionCounts{}, err
	}

	var static bonds.StaticSnapshot
	if err := decodeStatic(payload, &static); err != nil {
		return bonds.SectionCounts{}, err
	}
	if err := storage.SaveJSON(ctx, l.opts.Store, l.opts.Documents.Bonds, json.RawMessage(payload)); err != nil {
		return bonds.SectionCounts{}, fmt.Errorf("persist static snapshot: %w", err)
	}

	l.InvalidateMetadataCache()
	l.InvalidateListCache()
	if _, err := l.snapshot(ctx); err != nil {
		return bonds.SectionCounts{}, err
	}

	counts := static.Counts()
	l.logger.Info().Str("source", sourceURL).
		Int("securities", counts.Securities).
		Int("marketdata", counts.MarketData).
		Int("marketdata_yields", counts.MarketDataYields).
		Msg("static snapshot replaced")
	return counts, nil
}

// snapshot returns the published snapshot or joins the build for the
// current generation. A read that starts after an invalidation never shares
// a build begun before it. The build itself runs detached from the caller,
// so one caller giving up does not fail the others.
func (l *Loader) snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := l.current.Load(); snap != nil {
		return snap, nil
	}

	l.swapMu.Lock()
	gen := l.gen
	l.swapMu.Unlock()

	ch := l.builds.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		if snap := l.current.Load(); snap != nil {
			return snap, nil
		}
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()

		snap, err := l.build(bctx)
		if err != nil {
			return nil, err
		}

		l.swapMu.Lock()
		if l.gen == gen {
			l.current.Store(snap)
		}
		l.swapMu.Unlock()
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (l *Loader) build(ctx context.Context) (*Snapshot, error) {
	started := time.Now()

	var (
		static bonds.StaticSnapshot
		side   SideTables
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		payload, err := l.opts.Store.Load(gctx, l.opts.Documents.Bonds)
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return fmt.Errorf("static snapshot %s: %w", l.opts.Documents.Bonds, bonds.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load static snapshot: %w", err)
		}
		return decodeStatic(payload, &static)
	})
	if l.opts.Coupons != nil {
		g.Go(func() error {
			side.Coupons = optional(l.logger, "coupons", func() (map[string]bonds.CouponSummary, error) {
				return l.opts.Coupons.Summaries(gctx)
			})
			return nil
		})
	}
	if l.opts.Ratings != nil {
		g.Go(func() error {
			side.Ratings = optional(l.logger, "ratings", func() (map[string]bonds.RatingSummary, error) {
				return l.opts.Ratings.Summaries(gctx)
			})
			return nil
		})
	}
	if l.opts.BondTypes != nil {
		g.Go(func() error {
			side.BondTypes = optional(l.logger, "bond_types", func() (map[string]string, error) {
				return l.opts.BondTypes.BondTypes(gctx)
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := Assemble(static, side)
	l.logger.Info().
		Int("bonds", len(snap.List)).
		Int("details", len(snap.Details)).
		Int("coupons", len(side.Coupons)).
		Int("ratings", len(side.Ratings)).
		Int("bond_types", len(side.BondTypes)).
		Dur("took", time.Since(started)).
		Msg("bond snapshot built")
	return snap, nil
}

// optional reads a side table; failures are logged and treated as absent.
func optional[T any](logger zerolog.Logger, name string, read func() (map[string]T, error)) map[string]T {
	m, err := read()
	if err != nil {
		logger.Warn().Err(err).Str("table", name).Msg("side table unavailable; continuing without it")
		return nil
	}
	return m
}
