package coupons

import (
	"encoding/json"
	"fmt"

	"bond-screener/internal/bonds"
)

// legacyWrapperKey is the top-level key older coupon documents nested entries under.
const legacyWrapperKey = "bonds"

var duplicateCouponFields = []string{"isin", "name", "issuevalue", "primary_boardid", "coupon_type", "secid"}

// decodeDocument reads a coupon document in any known layout and brings it
// to the current one. changed reports whether the stored form must be rewritten.
func decodeDocument(payload []byte) (entries map[string]bonds.CouponsEntry, changed bool, dropped []string, err error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return nil, false, nil, fmt.Errorf("%w: coupon document: %v", bonds.ErrMalformedPayload, err)
	}

	if inner, ok := top[legacyWrapperKey]; ok && len(top) == 1 {
		var unwrapped map[string]json.RawMessage
		if err := json.Unmarshal(inner, &unwrapped); err == nil {
			top = unwrapped
			changed = true
		}
	}

	entries = make(map[string]bonds.CouponsEntry, len(top))
	for secid, raw := range top {
		var entry bonds.CouponsEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			dropped = append(dropped, secid)
			changed = true
			continue
		}
		if normalizeEntry(&entry) {
			changed = true
		}
		entries[secid] = entry
	}
	return entries, changed, dropped, nil
}

// normalizeEntry applies every schema fix to one entry in place.
func normalizeEntry(e *bonds.CouponsEntry) bool {
	changed := false

	if e.Amortizations == nil {
		e.Amortizations = []bonds.Record{}
		changed = true
	}
	if e.Coupons == nil {
		e.Coupons = []bonds.Record{}
		changed = true
	}
	if e.Offers == nil {
		e.Offers = []bonds.Record{}
		changed = true
	}

	// Older entries carried the label on coupons instead of amortizations.
	if len(e.Coupons) > 0 && len(e.Amortizations) > 0 && !hasRegime(e.Amortizations) {
		if regime, ok := bonds.NormalizeRegime(e.Coupons[0]["coupon_type"]); ok {
			for _, a := range e.Amortizations {
				if _, present := a["coupon_type"]; !present {
					a["coupon_type"] = string(regime)
				}
			}
			changed = true
		}
	}

	for _, a := range e.Amortizations {
		raw, present := a["coupon_type"]
		if !present {
			continue
		}
		if regime, ok := bonds.NormalizeRegime(raw); ok && raw != string(regime) {
			a["coupon_type"] = string(regime)
			changed = true
		}
	}

	for i, c := range e.Coupons {
		if hasDuplicateFields(c) {
			e.Coupons[i] = stripDuplicateFields(c)
			changed = true
		}
	}

	return changed
}

func hasRegime(amortizations []bonds.Record) bool {
	for _, a := range amortizations {
		if a["coupon_type"] != nil {
			return true
		}
	}
	return false
}

func hasDuplicateFields(c bonds.Record) bool {
	for _, f := range duplicateCouponFields {
		if _, ok := c[f]; ok {
			return true
		}
	}
	return false
}

// stripDuplicateFields returns a copy of c without the fields that now live
// on amortization entries.
func stripDuplicateFields(c bonds.Record) bonds.Record {
	out := make(bonds.Record, len(c))
	for k, v := range c {
		out[k] = v
	}
	for _, f := range duplicateCouponFields {
		delete(out, f)
	}
	return out
}

func stripAll(coupons []bonds.Record) []bonds.Record {
	out := make([]bonds.Record, 0, len(coupons))
	for _, c := range coupons {
		out = append(out, stripDuplicateFields(c))
	}
	return out
}
