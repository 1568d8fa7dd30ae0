package bonds

import (
	"time"
)

// CouponRegime labels how an instrument's coupon payments behave over time.
type CouponRegime string

const (
	RegimeFixed    CouponRegime = "fixed"
	RegimeFloating CouponRegime = "floating"
)

// Record is one row of an exchange table keyed by column name.
type Record map[string]any

// Table mirrors the exchange's columns+data section layout.
type Table struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

// StaticSnapshot is the persisted securities/marketdata/yields document.
type StaticSnapshot struct {
	Securities       Table `json:"securities"`
	MarketData       Table `json:"marketdata"`
	MarketDataYields Table `json:"marketdata_yields"`
}

// SectionCounts reports how many rows each static section carried.
type SectionCounts struct {
	Securities       int `json:"securities"`
	MarketData       int `json:"marketdata"`
	MarketDataYields int `json:"marketdata_yields"`
}

// Counts summarises the snapshot's section sizes.
func (s StaticSnapshot) Counts() SectionCounts {
	return SectionCounts{
		Securities:       len(s.Securities.Data),
		MarketData:       len(s.MarketData.Data),
		MarketDataYields: len(s.MarketDataYields.Data),
	}
}

// InstrumentKey identifies one listing of a security on a trading board.
type InstrumentKey struct {
	SecID   string
	BoardID string
}

// ListRecord is the flattened per-instrument row used for screening.
// DURATION comes only from market data and DURATIONWAPRICE only from the
// yield curve section.
type ListRecord struct {
	SecID              string       `json:"SECID"`
	BoardID            string       `json:"BOARDID"`
	ShortName          string       `json:"SHORTNAME"`
	CouponPercent      *float64     `json:"COUPONPERCENT"`
	MatDate            *time.Time   `json:"MATDATE"`
	Status             string       `json:"STATUS"`
	TradingStatus      string       `json:"TRADINGSTATUS,omitempty"`
	FaceValue          *float64     `json:"FACEVALUE"`
	PrevPrice          *float64     `json:"PREVPRICE"`
	YieldAtPrevWAPrice *float64     `json:"YIELDATPREVWAPRICE"`
	NextCoupon         *time.Time   `json:"NEXTCOUPON"`
	BoardName          string       `json:"BOARDNAME"`
	CallOptionDate     *time.Time   `json:"CALLOPTIONDATE"`
	PutOptionDate      *time.Time   `json:"PUTOPTIONDATE"`
	AccruedInt         *float64     `json:"ACCRUEDINT"`
	CouponPeriod       *int         `json:"COUPONPERIOD"`
	CouponValue        *float64     `json:"COUPONVALUE"`
	Duration           *float64     `json:"DURATION"`
	DurationWAPrice    *float64     `json:"DURATIONWAPRICE"`
	CurrencyID         string       `json:"CURRENCYID"`
	FaceUnit           string       `json:"FACEUNIT"`
	ListLevel          *int         `json:"LISTLEVEL"`
	RatingAgency       string       `json:"RATING_AGENCY,omitempty"`
	RatingLevel        string       `json:"RATING_LEVEL,omitempty"`
	BondType           string       `json:"BONDTYPE,omitempty"`
	CouponType         CouponRegime `json:"COUPON_TYPE,omitempty"`
}

// Key returns the record's instrument identifier.
func (r ListRecord) Key() InstrumentKey {
	return InstrumentKey{SecID: r.SecID, BoardID: r.BoardID}
}

// DetailRecord is the full sectioned attribute set for one instrument.
type DetailRecord struct {
	Securities       Record   `json:"securities"`
	MarketData       Record   `json:"marketdata"`
	MarketDataYields []Record `json:"marketdata_yields"`
}

// CouponsEntry is one coupon cache entry.
type CouponsEntry struct {
	LastUpdated   string   `json:"last_updated"`
	Amortizations []Record `json:"amortizations"`
	Coupons       []Record `json:"coupons"`
	Offers        []Record `json:"offers"`
}

// Regime returns the label stored on the first amortization, if any.
func (e CouponsEntry) Regime() (CouponRegime, bool) {
	if len(e.Amortizations) == 0 {
		return "", false
	}
	return NormalizeRegime(e.Amortizations[0]["coupon_type"])
}

// NormalizeRegime maps stored labels, including the legacy FIX/FLOAT
// spelling, onto a CouponRegime.
func NormalizeRegime(v any) (CouponRegime, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch s {
	case "fixed", "FIX":
		return RegimeFixed, true
	case "floating", "FLOAT":
		return RegimeFloating, true
	}
	return "", false
}

// CouponSummary is what the list view needs from a coupon entry.
type CouponSummary struct {
	Value  *float64
	Regime CouponRegime
}

// Rating is one credit rating observation.
type Rating struct {
	AgencyID        int64  `json:"agency_id"`
	AgencyName      string `json:"agency_name_short_ru"`
	RatingLevelID   int64  `json:"rating_level_id"`
	RatingDate      string `json:"rating_date"`
	RatingLevelName string `json:"rating_level_name_short_ru"`
}

// PlaceholderRatings is the cacheable "no rating found" value.
func PlaceholderRatings() []Rating {
	return []Rating{{}}
}

// RatingEntry is one rating cache entry.
type RatingEntry struct {
	LastUpdated string   `json:"last_updated"`
	Ratings     []Rating `json:"ratings"`
}

// RatingSummary is what the list view needs from a rating entry.
type RatingSummary struct {
	Agency string
	Level  string
}

// Issuer is the normalised issuer search row; nil means not found.
type Issuer Record

// IssuerInfo is the reduced issuer view.
type IssuerInfo struct {
	IsTraded any    `json:"is_traded"`
	Title    string `json:"emitent_title"`
	INN      string `json:"emitent_inn"`
	Type     string `json:"type"`
}

// Info extracts the reduced view from a full issuer row.
func (i Issuer) Info() IssuerInfo {
	return IssuerInfo{
		IsTraded: i["is_traded"],
		Title:    AsString(i["emitent_title"]),
		INN:      AsString(i["emitent_inn"]),
		Type:     AsString(i["type"]),
	}
}

// Summary counts the outcome of a batch refresh.
type Summary struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}
