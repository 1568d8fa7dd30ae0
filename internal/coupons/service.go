package coupons

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bond-screener/internal/bonds"
	"bond-screener/internal/fetcher"
	"bond-screener/internal/staleness"
	"bond-screener/internal/storage"
)

// batchFlushEvery bounds how many refreshed entries a batch keeps unsaved.
const batchFlushEvery = 100

// Service is the coupon schedule cache backed by a stored document.
type Service struct {
	store  storage.DocumentStore
	doc    string
	source fetcher.CouponFetcher
	policy staleness.Policy
	logger zerolog.Logger

	mu        sync.Mutex
	entries   map[string]bonds.CouponsEntry
	listeners []func()
}

// NewService wires the coupon cache.
func NewService(store storage.DocumentStore, doc string, source fetcher.CouponFetcher, policy staleness.Policy, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		doc:    doc,
		source: source,
		policy: policy,
		logger: logger.With().Str("component", "coupon_cache").Logger(),
	}
}

// OnChange registers fn to run after new coupon data has been persisted.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Invalidate drops the in-memory copy so the next access re-reads storage,
// then notifies the OnChange listeners.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.entries = nil
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Get returns the coupon entry for secid. Fresh cache hits are served
// without network access unless force is set. When the origin fails a
// cached entry is returned even if stale; with nothing cached the error
// is propagated.
func (s *Service) Get(ctx context.Context, secid string, force bool) (bonds.CouponsEntry, error) {
	if secid == "" {
		return bonds.CouponsEntry{}, fmt.Errorf("secid is required")
	}

	cached, ok, err := s.cached(ctx, secid)
	if err != nil {
		return bonds.CouponsEntry{}, err
	}
	if ok && !force && !s.policy.IsStale(cached.LastUpdated) {
		return cleanEntry(cached), nil
	}

	entry, err := s.fetch(ctx, secid)
	if err != nil {
		if ok {
			s.logger.Warn().Err(err).Str("secid", secid).Str("last_updated", cached.LastUpdated).
				Msg("coupon refresh failed; serving cached entry")
			return cleanEntry(cached), nil
		}
		return bonds.CouponsEntry{}, err
	}

	if err := s.put(ctx, map[string]bonds.CouponsEntry{secid: entry}); err != nil {
		return bonds.CouponsEntry{}, err
	}
	return cleanEntry(entry), nil
}

// CouponsOnly returns just the coupon events of an entry.
func (s *Service) CouponsOnly(ctx context.Context, secid string, force bool) ([]bonds.Record, error) {
	entry, err := s.Get(ctx, secid, force)
	if err != nil {
		return nil, err
	}
	return entry.Coupons, nil
}

// RefreshAll refetches every listed instrument, one at a time. Fresh
// entries are skipped unless force is set. Failures are counted and the
// batch carries on.
func (s *Service) RefreshAll(ctx context.Context, secids []string, force bool) (bonds.Summary, error) {
	summary := bonds.Summary{Total: len(secids)}
	pending := make(map[string]bonds.CouponsEntry)
	seen := make(map[string]struct{}, len(secids))

	for _, secid := range secids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, dup := seen[secid]; secid == "" || dup {
			summary.Skipped++
			continue
		}
		seen[secid] = struct{}{}

		if !force {
			cached, ok, err := s.cached(ctx, secid)
			if err != nil {
				return summary, err
			}
			if ok && !s.policy.IsStale(cached.LastUpdated) {
				summary.Skipped++
				continue
			}
		}

		entry, err := s.fetch(ctx, secid)
		if err != nil {
			summary.Errors++
			s.logger.Error().Err(err).Str("secid", secid).Msg("coupon refresh failed")
			continue
		}
		pending[secid] = entry
		summary.Updated++

		if len(pending) >= batchFlushEvery {
			if err := s.put(ctx, pending); err != nil {
				return summary, err
			}
			pending = make(map[string]bonds.CouponsEntry)
		}
	}

	if len(pending) > 0 {
		if err := s.put(ctx, pending); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// Summaries exposes coupon amount and regime per instrument for the list view.
func (s *Service) Summaries(ctx context.Context) (map[string]bonds.CouponSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	today := s.policy.Time()
	out := make(map[string]bonds.CouponSummary, len(s.entries))
	for secid, entry := range s.entries {
		var sum bonds.CouponSummary
		sum.Value = NearestCouponValue(entry.Coupons, today)
		if regime, ok := entry.Regime(); ok {
			sum.Regime = regime
		}
		if sum.Value == nil && sum.Regime == "" {
			continue
		}
		out[secid] = sum
	}
	return out, nil
}

// NearestCouponValue picks the "value" of the coupon whose date is closest
// to today in either direction. Ties keep the earlier record.
func NearestCouponValue(coupons []bonds.Record, today time.Time) *float64 {
	var (
		nearest  bonds.Record
		minDelta = -1
	)
	for _, c := range coupons {
		d, ok := bonds.ParseDate(c["coupondate"])
		if !ok {
			continue
		}
		delta := staleness.DaysBetween(today, d)
		if delta < 0 {
			delta = -delta
		}
		if minDelta < 0 || delta < minDelta {
			minDelta = delta
			nearest = c
		}
	}
	if nearest == nil {
		return nil
	}
	return bonds.FloatPtr(nearest["value"])
}

func (s *Service) fetch(ctx context.Context, secid string) (bonds.CouponsEntry, error) {
	fresh, err := s.source.FetchBondization(ctx, secid)
	if err != nil {
		return bonds.CouponsEntry{}, err
	}

	regime := Classify(Payments(fresh.Coupons))
	amortizations := make([]bonds.Record, 0, len(fresh.Amortizations))
	for _, a := range fresh.Amortizations {
		a["coupon_type"] = string(regime)
		amortizations = append(amortizations, a)
	}
	offers := fresh.Offers
	if offers == nil {
		offers = []bonds.Record{}
	}

	s.logger.Info().Str("secid", secid).Str("regime", string(regime)).
		Int("coupons", len(fresh.Coupons)).Msg("coupon schedule refreshed")

	return bonds.CouponsEntry{
		LastUpdated:   s.policy.Today(),
		Amortizations: amortizations,
		Coupons:       stripAll(fresh.Coupons),
		Offers:        offers,
	}, nil
}

func (s *Service) cached(ctx context.Context, secid string) (bonds.CouponsEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return bonds.CouponsEntry{}, false, err
	}
	entry, ok := s.entries[secid]
	return entry, ok, nil
}

// put stores entries, persists the document and then notifies listeners.
func (s *Service) put(ctx context.Context, updates map[string]bonds.CouponsEntry) error {
	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	for secid, entry := range updates {
		s.entries[secid] = entry
	}
	err := storage.SaveJSON(ctx, s.store, s.doc, s.entries)
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("persist coupon cache: %w", err)
	}
	for _, fn := range listeners {
		fn()
	}
	return nil
}

func (s *Service) ensureLoadedLocked(ctx context.Context) error {
	if s.entries != nil {
		return nil
	}

	payload, err := s.store.Load(ctx, s.doc)
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
		s.entries = make(map[string]bonds.CouponsEntry)
		return s.saveLocked(ctx)
	case err != nil:
		return fmt.Errorf("load coupon cache: %w", err)
	}

	entries, changed, dropped, err := decodeDocument(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("document", s.doc).Msg("coupon cache unreadable; starting empty")
		s.entries = make(map[string]bonds.CouponsEntry)
		return s.saveLocked(ctx)
	}
	if len(dropped) > 0 {
		s.logger.Warn().Strs("secids", dropped).Msg("dropped unreadable coupon entries")
	}

	s.entries = entries
	if changed {
		s.logger.Info().Int("entries", len(entries)).Msg("coupon cache migrated to current layout")
		return s.saveLocked(ctx)
	}
	return nil
}

func (s *Service) saveLocked(ctx context.Context) error {
	if err := storage.SaveJSON(ctx, s.store, s.doc, s.entries); err != nil {
		return fmt.Errorf("persist coupon cache: %w", err)
	}
	return nil
}

// cleanEntry copies an entry with coupon duplicates stripped so callers
// never alias cached maps.
func cleanEntry(e bonds.CouponsEntry) bonds.CouponsEntry {
	out := bonds.CouponsEntry{
		LastUpdated:   e.LastUpdated,
		Amortizations: copyRecords(e.Amortizations),
		Coupons:       stripAll(e.Coupons),
		Offers:        copyRecords(e.Offers),
	}
	return out
}

func copyRecords(in []bonds.Record) []bonds.Record {
	out := make([]bonds.Record, 0, len(in))
	for _, r := range in {
		c := make(bonds.Record, len(r))
		for k, v := range r {
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}
