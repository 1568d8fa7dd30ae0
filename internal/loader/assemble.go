package loader

import (
	"bond-screener/internal/bonds"
)

// dateFields are converted on load; the sentinel and bad values become nil.
var dateFields = []string{
	"NEXTCOUPON", "MATDATE", "BUYBACKDATE", "PREVDATE", "OFFERDATE",
	"SETTLEDATE", "CALLOPTIONDATE", "PUTOPTIONDATE", "DATEYIELDFROMISSUER",
}

// SideTables carries the optional per-instrument enrichments keyed by SECID.
type SideTables struct {
	Coupons   map[string]bonds.CouponSummary
	Ratings   map[string]bonds.RatingSummary
	BondTypes map[string]string
}

// Snapshot is one immutable, fully joined view of the market.
type Snapshot struct {
	List    []bonds.ListRecord
	Details map[string]bonds.DetailRecord
}

// index resolves instruments to positions in the list.
type index struct {
	exact map[bonds.InstrumentKey]int
	first map[string]int
	all   map[string][]int
}

func buildIndex(list []bonds.ListRecord) index {
	idx := index{
		exact: make(map[bonds.InstrumentKey]int, len(list)),
		first: make(map[string]int, len(list)),
		all:   make(map[string][]int, len(list)),
	}
	for i, rec := range list {
		if _, ok := idx.exact[rec.Key()]; !ok {
			idx.exact[rec.Key()] = i
		}
		if _, ok := idx.first[rec.SecID]; !ok {
			idx.first[rec.SecID] = i
		}
		idx.all[rec.SecID] = append(idx.all[rec.SecID], i)
	}
	return idx
}

// lookup prefers the exact listing and falls back to the first listing of
// the security.
func (x index) lookup(secid, boardID string) (int, bool) {
	if boardID != "" {
		if i, ok := x.exact[bonds.InstrumentKey{SecID: secid, BoardID: boardID}]; ok {
			return i, true
		}
	}
	i, ok := x.first[secid]
	return i, ok
}

// Assemble joins the static snapshot with market data, yields and the side
// tables. DURATION is taken from market data only and DURATIONWAPRICE from
// the yield section only; the two are never substituted for each other.
func Assemble(static bonds.StaticSnapshot, side SideTables) *Snapshot {
	rows := static.Securities.Records()
	list := make([]bonds.ListRecord, 0, len(rows))
	details := make(map[string]bonds.DetailRecord, len(rows))

	for _, row := range rows {
		normalizeDates(row)
		rec, ok := toListRecord(row)
		if !ok {
			continue
		}
		list = append(list, rec)
		details[rec.SecID] = bonds.DetailRecord{
			Securities:       row,
			MarketData:       bonds.Record{},
			MarketDataYields: []bonds.Record{},
		}
	}

	idx := buildIndex(list)

	for _, md := range static.MarketData.Records() {
		secid := bonds.AsString(md["SECID"])
		d, ok := details[secid]
		if secid == "" || !ok {
			continue
		}
		d.MarketData = md
		details[secid] = d

		i, ok := idx.lookup(secid, bonds.AsString(md["BOARDID"]))
		if !ok {
			continue
		}
		if status := bonds.AsString(md["TRADINGSTATUS"]); status != "" {
			list[i].TradingStatus = status
		}
		if raw, present := md["DURATION"]; present {
			list[i].Duration = bonds.FloatPtr(raw)
		}
	}

	for _, y := range static.MarketDataYields.Records() {
		secid := bonds.AsString(y["SECID"])
		d, ok := details[secid]
		if secid == "" || !ok {
			continue
		}
		d.MarketDataYields = append(d.MarketDataYields, y)
		details[secid] = d

		raw := y["DURATIONWAPRICE"]
		if raw == nil {
			continue
		}
		if i, ok := idx.first[secid]; ok && list[i].DurationWAPrice == nil {
			list[i].DurationWAPrice = bonds.FloatPtr(raw)
		}
	}

	for secid, r := range side.Ratings {
		for _, i := range idx.all[secid] {
			list[i].RatingAgency = r.Agency
			list[i].RatingLevel = r.Level
		}
		if d, ok := details[secid]; ok {
			d.Securities["RATING_AGENCY"] = r.Agency
			d.Securities["RATING_LEVEL"] = r.Level
		}
	}

	for secid, bt := range side.BondTypes {
		for _, i := range idx.all[secid] {
			list[i].BondType = bt
		}
		if d, ok := details[secid]; ok {
			d.Securities["BONDTYPE"] = bt
		}
	}

	for secid, c := range side.Coupons {
		for _, i := range idx.all[secid] {
			if c.Value != nil {
				v := *c.Value
				list[i].CouponValue = &v
			}
			if c.Regime != "" {
				list[i].CouponType = c.Regime
			}
		}
	}

	return &Snapshot{List: list, Details: details}
}

// normalizeDates rewrites date columns in place to YYYY-MM-DD or nil.
func normalizeDates(row bonds.Record) {
	for _, f := range dateFields {
		v, ok := row[f]
		if !ok || v == nil {
			continue
		}
		if t, ok := bonds.ParseDate(v); ok {
			row[f] = t.Format(bonds.DateLayout)
		} else {
			row[f] = nil
		}
	}
}

// toListRecord maps a securities row; rows without a security code, board
// or short name are not instruments.
func toListRecord(r bonds.Record) (bonds.ListRecord, bool) {
	secid := bonds.AsString(r["SECID"])
	if secid == "" || r["BOARDID"] == nil || r["SHORTNAME"] == nil {
		return bonds.ListRecord{}, false
	}
	return bonds.ListRecord{
		SecID:              secid,
		BoardID:            bonds.AsString(r["BOARDID"]),
		ShortName:          bonds.AsString(r["SHORTNAME"]),
		CouponPercent:      bonds.FloatPtr(r["COUPONPERCENT"]),
		MatDate:            bonds.DatePtr(r["MATDATE"]),
		Status:             bonds.AsString(r["STATUS"]),
		FaceValue:          bonds.FloatPtr(r["FACEVALUE"]),
		PrevPrice:          bonds.FloatPtr(r["PREVPRICE"]),
		YieldAtPrevWAPrice: bonds.FloatPtr(r["YIELDATPREVWAPRICE"]),
		NextCoupon:         bonds.DatePtr(r["NEXTCOUPON"]),
		BoardName:          bonds.AsString(r["BOARDNAME"]),
		CallOptionDate:     bonds.DatePtr(r["CALLOPTIONDATE"]),
		PutOptionDate:      bonds.DatePtr(r["PUTOPTIONDATE"]),
		AccruedInt:         bonds.FloatPtr(r["ACCRUEDINT"]),
		CouponPeriod:       bonds.IntPtr(r["COUPONPERIOD"]),
		CurrencyID:         bonds.AsString(r["CURRENCYID"]),
		FaceUnit:           bonds.AsString(r["FACEUNIT"]),
		ListLevel:          bonds.IntPtr(r["LISTLEVEL"]),
	}, true
}
