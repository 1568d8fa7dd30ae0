package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"

	"bond-screener/internal/bonds"
	"bond-screener/internal/storage"
)

var metadataSections = []string{"securities", "marketdata", "marketdata_yields"}

// FilterOptions lists the distinct values available for set filters.
type FilterOptions struct {
	ListLevels  []int    `json:"listlevels"`
	FaceUnits   []string `json:"faceunits"`
	BondTypes   []string `json:"bondtypes"`
	CouponTypes []string `json:"coupon_types"`
}

func decodeStatic(payload []byte, out *bonds.StaticSnapshot) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: static snapshot: %v", bonds.ErrMalformedPayload, err)
	}
	return nil
}

// ColumnMapping maps field names to their display titles using the
// name/short_title columns of every section.
func (l *Loader) ColumnMapping(ctx context.Context) (map[string]string, error) {
	l.metaMu.Lock()
	defer l.metaMu.Unlock()
	if l.columns != nil {
		return copyStrings(l.columns), nil
	}

	var doc map[string]bonds.Table
	if err := l.loadMetadata(ctx, l.opts.Documents.Columns, &doc); err != nil {
		return nil, err
	}

	mapping := make(map[string]string)
	for _, name := range metadataSections {
		section, ok := doc[name]
		if !ok {
			continue
		}
		nameIdx, titleIdx := indexOf(section.Columns, "name"), indexOf(section.Columns, "short_title")
		if nameIdx < 0 || titleIdx < 0 {
			continue
		}
		for _, row := range section.Data {
			if len(row) <= max(nameIdx, titleIdx) {
				continue
			}
			field, title := bonds.AsString(row[nameIdx]), bonds.AsString(row[titleIdx])
			if field != "" && title != "" {
				mapping[field] = title
			}
		}
	}

	l.columns = mapping
	return copyStrings(mapping), nil
}

// Descriptions returns the field description document as stored. The top
// level is copied; nested values are shared and must not be modified.
func (l *Loader) Descriptions(ctx context.Context) (map[string]any, error) {
	l.metaMu.Lock()
	defer l.metaMu.Unlock()
	if l.descriptions != nil {
		return maps.Clone(l.descriptions), nil
	}

	var doc map[string]any
	if err := l.loadMetadata(ctx, l.opts.Documents.Descriptions, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	l.descriptions = doc
	return maps.Clone(doc), nil
}

// FilterOptions collects sorted distinct values from the list view.
func (l *Loader) FilterOptions(ctx context.Context) (FilterOptions, error) {
	list, err := l.ListRecords(ctx)
	if err != nil {
		return FilterOptions{}, err
	}

	levels := make(map[int]struct{})
	faceUnits := make(map[string]struct{})
	bondTypes := make(map[string]struct{})
	couponTypes := make(map[string]struct{})
	for _, r := range list {
		if r.ListLevel != nil {
			levels[*r.ListLevel] = struct{}{}
		}
		if r.FaceUnit != "" {
			faceUnits[r.FaceUnit] = struct{}{}
		}
		if r.BondType != "" {
			bondTypes[r.BondType] = struct{}{}
		}
		if r.CouponType != "" {
			couponTypes[string(r.CouponType)] = struct{}{}
		}
	}

	opts := FilterOptions{
		ListLevels:  make([]int, 0, len(levels)),
		FaceUnits:   sortedKeys(faceUnits),
		BondTypes:   sortedKeys(bondTypes),
		CouponTypes: sortedKeys(couponTypes),
	}
	for lvl := range levels {
		opts.ListLevels = append(opts.ListLevels, lvl)
	}
	sort.Ints(opts.ListLevels)
	return opts, nil
}

func (l *Loader) loadMetadata(ctx context.Context, name string, v any) error {
	err := storage.LoadJSON(ctx, l.opts.Store, name, v)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		return fmt.Errorf("metadata %s: %w", name, bonds.ErrNotFound)
	}
	return err
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
