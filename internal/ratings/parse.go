package ratings

import (
	"bytes"
	"encoding/json"
	"fmt"

	"bond-screener/internal/bonds"
)

const ratingsKey = "cci_rating_securities"

// ratingFields is the whitelist kept from every rating observation.
var ratingFields = []string{
	"agency_id",
	"agency_name_short_ru",
	"rating_level_id",
	"rating_date",
	"rating_level_name_short_ru",
}

// shape recognises one layout of the rating API response.
type shape struct {
	name   string
	decode func(doc any) ([]any, bool)
}

// shapes are tried in order; the first one that recognises the document wins.
var shapes = []shape{
	{name: "extended_list", decode: decodeExtendedList},
	{name: "direct_list", decode: decodeDirectList},
	{name: "keyed_object", decode: decodeKeyedObject},
	{name: "envelope", decode: decodeEnvelope},
}

// ParseRatings decodes a rating API payload into whitelisted observations.
// A payload that is valid JSON but matches no known layout yields an empty
// list and no error.
func ParseRatings(payload []byte) ([]bonds.Rating, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: rating response: %v", bonds.ErrMalformedPayload, err)
	}

	for _, s := range shapes {
		items, ok := s.decode(doc)
		if !ok {
			continue
		}
		return toRatings(items), nil
	}
	return nil, nil
}

func decodeExtendedList(doc any) ([]any, bool) {
	list, ok := doc.([]any)
	if !ok {
		return nil, false
	}
	for _, el := range list {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if items, ok := obj[ratingsKey].([]any); ok && len(items) > 0 {
			return items, true
		}
	}
	return nil, false
}

func decodeDirectList(doc any) ([]any, bool) {
	list, ok := doc.([]any)
	if !ok {
		return nil, false
	}
	var items []any
	for _, el := range list {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := obj["agency_id"]; ok {
			items = append(items, obj)
		}
	}
	return items, len(items) > 0
}

func decodeKeyedObject(doc any) ([]any, bool) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	return fromSection(obj[ratingsKey])
}

func decodeEnvelope(doc any) ([]any, bool) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, child := range obj {
		inner, ok := child.(map[string]any)
		if !ok {
			continue
		}
		if items, ok := fromSection(inner[ratingsKey]); ok {
			return items, true
		}
	}
	return nil, false
}

// fromSection accepts either a plain list or a columns/data table.
func fromSection(section any) ([]any, bool) {
	switch v := section.(type) {
	case []any:
		return v, len(v) > 0
	case map[string]any:
		rows, ok := v["data"].([]any)
		if !ok {
			return nil, false
		}
		columns, _ := v["columns"].([]any)
		items := make([]any, 0, len(rows))
		for _, r := range rows {
			row, ok := r.([]any)
			if !ok || len(row) != len(columns) {
				continue
			}
			rec := make(map[string]any, len(columns))
			for i, c := range columns {
				rec[bonds.AsString(c)] = row[i]
			}
			items = append(items, rec)
		}
		return items, len(items) > 0
	}
	return nil, false
}

func toRatings(items []any) []bonds.Rating {
	out := make([]bonds.Rating, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if r, ok := toRating(obj); ok {
			out = append(out, r)
		}
	}
	return out
}

// toRating keeps the whitelisted fields; an object carrying none of them
// is not an observation.
func toRating(obj map[string]any) (bonds.Rating, bool) {
	found := false
	for _, f := range ratingFields {
		if _, ok := obj[f]; ok {
			found = true
			break
		}
	}
	if !found {
		return bonds.Rating{}, false
	}
	return bonds.Rating{
		AgencyID:        bonds.AsInt64(obj["agency_id"]),
		AgencyName:      bonds.AsString(obj["agency_name_short_ru"]),
		RatingLevelID:   bonds.AsInt64(obj["rating_level_id"]),
		RatingDate:      bonds.AsString(obj["rating_date"]),
		RatingLevelName: bonds.AsString(obj["rating_level_name_short_ru"]),
	}, true
}

// decodeList reads a stored list of observations leniently.
func decodeList(raw json.RawMessage) ([]bonds.Rating, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, err
	}
	return toRatings(items), nil
}
