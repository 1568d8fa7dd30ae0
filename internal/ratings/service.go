package ratings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"bond-screener/internal/bonds"
	"bond-screener/internal/fetcher"
	"bond-screener/internal/staleness"
	"bond-screener/internal/storage"
)

const batchFlushEvery = 100

// errNoIssuerID marks an issue page without an issuer link.
var errNoIssuerID = errors.New("issuer id not found on issue page")

// Service resolves and caches credit ratings per instrument.
type Service struct {
	store  storage.DocumentStore
	doc    string
	source fetcher.RatingFetcher
	policy staleness.Policy
	logger zerolog.Logger

	mu        sync.Mutex
	entries   map[string]bonds.RatingEntry
	listeners []func()
}

// NewService wires the rating cache.
func NewService(store storage.DocumentStore, doc string, source fetcher.RatingFetcher, policy staleness.Policy, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		doc:    doc,
		source: source,
		policy: policy,
		logger: logger.With().Str("component", "rating_cache").Logger(),
	}
}

// OnChange registers fn to run after ratings have been persisted.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Invalidate drops the in-memory copy and notifies listeners.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.entries = nil
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Get returns the ratings of secid. A fresh cached entry is returned as is.
// Without refresh a stale entry is still served, and a missing one yields
// the placeholder without touching the network or the cache. With refresh
// the issue page and rating API are consulted; every outcome, including
// failures, is stored as of today so the round trip is not repeated within
// the TTL.
func (s *Service) Get(ctx context.Context, secid, boardID string, refresh bool) ([]bonds.Rating, error) {
	if secid == "" {
		return nil, fmt.Errorf("secid is required")
	}

	cached, ok, err := s.cached(ctx, secid)
	if err != nil {
		return nil, err
	}
	if ok && !s.policy.IsStale(cached.LastUpdated) {
		return copyRatings(cached.Ratings), nil
	}
	if !refresh {
		if ok {
			return nonEmpty(cached.Ratings), nil
		}
		return bonds.PlaceholderRatings(), nil
	}

	ratings, err := s.resolve(ctx, secid, boardID)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := s.put(ctx, map[string]bonds.RatingEntry{secid: {LastUpdated: s.policy.Today(), Ratings: ratings}}); err != nil {
		return nil, err
	}
	return copyRatings(ratings), nil
}

// RefreshAll resolves ratings for every listed instrument. Without force
// only missing or stale entries are fetched; with force every instrument
// is. Rows lacking a security or board code are skipped. Failed lookups
// still store the placeholder and are counted as errors.
func (s *Service) RefreshAll(ctx context.Context, records []bonds.ListRecord, force bool) (bonds.Summary, error) {
	summary := bonds.Summary{Total: len(records)}
	pending := make(map[string]bonds.RatingEntry)
	seen := make(map[string]struct{}, len(records))

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.put(ctx, pending); err != nil {
			return err
		}
		pending = make(map[string]bonds.RatingEntry)
		return nil
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, errors.Join(err, flush())
		}
		if rec.SecID == "" || rec.BoardID == "" {
			summary.Skipped++
			continue
		}
		if _, dup := seen[rec.SecID]; dup {
			summary.Skipped++
			continue
		}
		seen[rec.SecID] = struct{}{}

		if !force {
			cached, ok, err := s.cached(ctx, rec.SecID)
			if err != nil {
				return summary, err
			}
			if ok && !s.policy.IsStale(cached.LastUpdated) {
				summary.Skipped++
				continue
			}
		}

		ratings, err := s.resolve(ctx, rec.SecID, rec.BoardID)
		if err != nil {
			if ctx.Err() != nil {
				return summary, errors.Join(ctx.Err(), flush())
			}
			if !errors.Is(err, errNoIssuerID) {
				summary.Errors++
			}
		}
		pending[rec.SecID] = bonds.RatingEntry{LastUpdated: s.policy.Today(), Ratings: ratings}
		summary.Updated++

		if len(pending) >= batchFlushEvery {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}

	return summary, flush()
}

// Summaries exposes the first observation's agency and level per
// instrument, skipping entries without an agency.
func (s *Service) Summaries(ctx context.Context) (map[string]bonds.RatingSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]bonds.RatingSummary, len(s.entries))
	for secid, entry := range s.entries {
		if len(entry.Ratings) == 0 {
			continue
		}
		first := entry.Ratings[0]
		agency := strings.TrimSpace(first.AgencyName)
		if agency == "" {
			continue
		}
		out[secid] = bonds.RatingSummary{Agency: agency, Level: strings.TrimSpace(first.RatingLevelName)}
	}
	return out, nil
}

// resolve runs the page scrape and API lookup. It always returns a usable
// list; the error explains why the placeholder was used.
func (s *Service) resolve(ctx context.Context, secid, boardID string) ([]bonds.Rating, error) {
	log := s.logger.With().Str("secid", secid).Str("board", boardID).Logger()

	page, err := s.source.FetchIssuePage(ctx, boardID, secid)
	if err != nil {
		log.Warn().Err(err).Msg("issue page unavailable; storing placeholder rating")
		return bonds.PlaceholderRatings(), err
	}

	issuerID, ok := fetcher.ExtractIssuerID(page)
	if !ok {
		log.Info().Msg("no issuer id on issue page; storing placeholder rating")
		return bonds.PlaceholderRatings(), errNoIssuerID
	}

	payload, err := s.source.FetchIssuerRatings(ctx, issuerID, secid)
	if err != nil {
		log.Warn().Err(err).Str("issuer_id", issuerID).Msg("rating api unavailable; storing placeholder rating")
		return bonds.PlaceholderRatings(), err
	}

	ratings, err := ParseRatings(payload)
	if err != nil {
		log.Warn().Err(err).Str("issuer_id", issuerID).Msg("rating response unreadable; storing placeholder rating")
		return bonds.PlaceholderRatings(), err
	}
	if len(ratings) == 0 {
		log.Info().Str("issuer_id", issuerID).Msg("rating response empty; storing placeholder rating")
		return bonds.PlaceholderRatings(), nil
	}

	log.Info().Str("issuer_id", issuerID).Int("ratings", len(ratings)).Msg("ratings refreshed")
	return ratings, nil
}

func (s *Service) cached(ctx context.Context, secid string) (bonds.RatingEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return bonds.RatingEntry{}, false, err
	}
	entry, ok := s.entries[secid]
	return entry, ok, nil
}

func (s *Service) put(ctx context.Context, updates map[string]bonds.RatingEntry) error {
	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	for secid, entry := range updates {
		s.entries[secid] = entry
	}
	err := s.saveLocked(ctx)
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	if err != nil {
		return err
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
		s.entries = make(map[string]bonds.RatingEntry)
		return s.saveLocked(ctx)
	case err != nil:
		return fmt.Errorf("load rating cache: %w", err)
	}

	entries, migrated, err := decodeDocument(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("document", s.doc).Msg("rating cache unreadable; starting empty")
		s.entries = make(map[string]bonds.RatingEntry)
		return s.saveLocked(ctx)
	}

	s.entries = entries
	if migrated > 0 {
		s.logger.Info().Int("entries", migrated).Msg("rating cache entries migrated to current layout")
		return s.saveLocked(ctx)
	}
	return nil
}

func (s *Service) saveLocked(ctx context.Context) error {
	if err := storage.SaveJSON(ctx, s.store, s.doc, s.entries); err != nil {
		return fmt.Errorf("persist rating cache: %w", err)
	}
	return nil
}

// decodeDocument reads the rating document. Entries stored as a bare list
// or under cci_rating_securities are converted to the dated layout with an
// empty date, which keeps them stale.
func decodeDocument(payload []byte) (map[string]bonds.RatingEntry, int, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return nil, 0, fmt.Errorf("%w: rating document: %v", bonds.ErrMalformedPayload, err)
	}

	entries := make(map[string]bonds.RatingEntry, len(top))
	migrated := 0
	for secid, raw := range top {
		entry, legacy, err := decodeEntry(raw)
		if err != nil {
			migrated++
			continue
		}
		if legacy {
			migrated++
		}
		entries[secid] = entry
	}
	return entries, migrated, nil
}

func decodeEntry(raw json.RawMessage) (bonds.RatingEntry, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		ratings, err := decodeList(trimmed)
		return bonds.RatingEntry{Ratings: ratings}, true, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return bonds.RatingEntry{}, false, err
	}

	if list, ok := obj["ratings"]; ok {
		var last string
		if rawDate, ok := obj["last_updated"]; ok {
			_ = json.Unmarshal(rawDate, &last)
		}
		ratings, err := decodeList(list)
		if err != nil {
			ratings = []bonds.Rating{}
		}
		return bonds.RatingEntry{LastUpdated: last, Ratings: ratings}, err != nil, nil
	}
	if list, ok := obj[ratingsKey]; ok {
		ratings, err := decodeList(list)
		if err != nil {
			ratings = []bonds.Rating{}
		}
		return bonds.RatingEntry{Ratings: ratings}, true, nil
	}
	return bonds.RatingEntry{}, false, fmt.Errorf("unrecognised rating entry")
}

func nonEmpty(ratings []bonds.Rating) []bonds.Rating {
	if len(ratings) == 0 {
		return bonds.PlaceholderRatings()
	}
	return copyRatings(ratings)
}

func copyRatings(in []bonds.Rating) []bonds.Rating {
	return append(make([]bonds.Rating, 0, len(in)), in...)
}
