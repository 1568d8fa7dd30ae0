package issuers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"bond-screener/internal/bonds"
	"bond-screener/internal/fetcher"
	"bond-screener/internal/storage"
)

// Service caches issuer search rows keyed by the requesting security code.
// An empty stored object records a lookup that found nothing.
type Service struct {
	store  storage.DocumentStore
	doc    string
	source fetcher.IssuerSearcher
	logger zerolog.Logger

	mu        sync.Mutex
	entries   map[string]bonds.Issuer
	listeners []func()
}

// NewService builds the issuer cache backed by doc in store.
func NewService(store storage.DocumentStore, doc string, source fetcher.IssuerSearcher, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		doc:    doc,
		source: source,
		logger: logger.With().Str("component", "issuer_cache").Logger(),
	}
}

// OnChange registers fn to run after issuer data has been persisted.
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

// Lookup returns the cached issuer of secid without network access.
func (s *Service) Lookup(ctx context.Context, secid string) (bonds.Issuer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, false, err
	}
	entry, ok := s.entries[secid]
	if !ok {
		return nil, false, nil
	}
	if len(entry) == 0 {
		return nil, true, nil
	}
	return copyIssuer(entry), true, nil
}

// GetOrFetch returns the issuer cached for secid, searching the exchange by
// isin when nothing is cached. A nil issuer with a nil error means the
// issuer is unknown; that outcome is cached too.
func (s *Service) GetOrFetch(ctx context.Context, secid, isin string) (bonds.Issuer, error) {
	if secid == "" {
		return nil, fmt.Errorf("secid is required")
	}
	issuer, ok, err := s.Lookup(ctx, secid)
	if err != nil || ok {
		return issuer, err
	}
	if isin == "" {
		return nil, nil
	}

	found, err := s.search(ctx, isin)
	if err != nil {
		return nil, err
	}

	stored := found
	if stored == nil {
		s.logger.Info().Str("secid", secid).Str("isin", isin).Msg("issuer not found; caching miss")
		stored = bonds.Issuer{}
	}
	if err := s.put(ctx, map[string]bonds.Issuer{secid: stored}); err != nil {
		return nil, err
	}
	return found, nil
}

// Info reduces an issuer row to the fields shown to users.
func (s *Service) Info(ctx context.Context, secid, isin string) (*bonds.IssuerInfo, error) {
	issuer, err := s.GetOrFetch(ctx, secid, isin)
	if err != nil || issuer == nil {
		return nil, err
	}
	info := issuer.Info()
	return &info, nil
}

// RefreshAll searches every instrument's ISIN again and stores the rows
// under the instrument's security code. Instruments without an ISIN are
// skipped; searches that fail or find nothing count as errors. The
// document is written once at the end.
func (s *Service) RefreshAll(ctx context.Context, details map[string]bonds.DetailRecord) (bonds.Summary, error) {
	summary := bonds.Summary{Total: len(details)}

	secids := make([]string, 0, len(details))
	for secid := range details {
		secids = append(secids, secid)
	}
	sort.Strings(secids)

	updates := make(map[string]bonds.Issuer)
	for _, secid := range secids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		isin := strings.TrimSpace(bonds.AsString(details[secid].Securities["ISIN"]))
		if isin == "" {
			summary.Skipped++
			continue
		}

		issuer, err := s.search(ctx, isin)
		if err != nil || issuer == nil {
			summary.Errors++
			if err != nil {
				s.logger.Error().Err(err).Str("secid", secid).Str("isin", isin).Msg("issuer refresh failed")
			}
			continue
		}
		updates[secid] = issuer
		summary.Updated++
	}

	if len(updates) > 0 {
		if err := s.put(ctx, updates); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// BondTypes maps each cached instrument to its trimmed issuer "type".
func (s *Service) BondTypes(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(s.entries))
	for secid, issuer := range s.entries {
		if t := strings.TrimSpace(bonds.AsString(issuer["type"])); t != "" {
			out[secid] = t
		}
	}
	return out, nil
}

func (s *Service) search(ctx context.Context, isin string) (bonds.Issuer, error) {
	table, err := s.source.SearchSecurities(ctx, isin)
	if err != nil {
		return nil, err
	}
	return matchRow(table, isin), nil
}

// matchRow picks the first search row whose isin equals the query.
func matchRow(table bonds.Table, isin string) bonds.Issuer {
	idx := -1
	for i, c := range table.Columns {
		if c == "isin" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, row := range table.Data {
		if idx < len(row) && bonds.AsString(row[idx]) == isin {
			issuer := make(bonds.Issuer, len(table.Columns))
			for i, c := range table.Columns {
				if i < len(row) {
					issuer[c] = row[i]
				}
			}
			return issuer
		}
	}
	return nil
}

func (s *Service) put(ctx context.Context, updates map[string]bonds.Issuer) error {
	s.mu.Lock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	for secid, issuer := range updates {
		s.entries[secid] = issuer
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

	var entries map[string]bonds.Issuer
	err := storage.LoadJSON(ctx, s.store, s.doc, &entries)
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
		s.entries = make(map[string]bonds.Issuer)
		return s.saveLocked(ctx)
	case errors.Is(err, storage.ErrCorruptDocument):
		s.logger.Error().Err(err).Str("document", s.doc).Msg("issuer cache unreadable; starting empty")
		s.entries = make(map[string]bonds.Issuer)
		return s.saveLocked(ctx)
	case err != nil:
		return fmt.Errorf("load issuer cache: %w", err)
	}

	if entries == nil {
		entries = make(map[string]bonds.Issuer)
	}
	s.entries = entries
	return nil
}

func (s *Service) saveLocked(ctx context.Context) error {
	if err := storage.SaveJSON(ctx, s.store, s.doc, s.entries); err != nil {
		return fmt.Errorf("persist issuer cache: %w", err)
	}
	return nil
}

func copyIssuer(in bonds.Issuer) bonds.Issuer {
	out := make(bonds.Issuer, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
