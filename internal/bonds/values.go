package bonds

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrOriginUnavailable indicates a network or HTTP failure talking to the exchange.
	ErrOriginUnavailable = errors.New("bonds: origin unavailable")
	// ErrMalformedPayload indicates the exchange returned something unparseable.
	ErrMalformedPayload = errors.New("bonds: malformed payload")
	// ErrNotFound indicates a requested instrument or document does not exist.
	ErrNotFound = errors.New("bonds: not found")
)

const (
	// DateLayout is the on-disk date format.
	DateLayout = "2006-01-02"
	// NullDate is the exchange's "no date" sentinel.
	NullDate = "0000-00-00"
)

// ParseDate parses a YYYY-MM-DD value. The sentinel and anything
// unparseable are reported as absent.
func ParseDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" || s == NullDate {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DatePtr is ParseDate returning nil when absent.
func DatePtr(v any) *time.Time {
	t, ok := ParseDate(v)
	if !ok {
		return nil
	}
	return &t
}

// Records zips each data row with the column list. Short rows yield
// only the columns they cover.
func (t Table) Records() []Record {
	out := make([]Record, 0, len(t.Data))
	for _, row := range t.Data {
		out = append(out, zipRow(t.Columns, row))
	}
	return out
}

// StrictRecords is Records but drops rows whose width differs from the header.
func (t Table) StrictRecords() []Record {
	out := make([]Record, 0, len(t.Data))
	for _, row := range t.Data {
		if len(row) != len(t.Columns) {
			continue
		}
		out = append(out, zipRow(t.Columns, row))
	}
	return out
}

func zipRow(columns []string, row []any) Record {
	rec := make(Record, len(columns))
	for i, col := range columns {
		if i >= len(row) {
			break
		}
		rec[col] = row[i]
	}
	return rec
}

// AsString renders scalar values as strings; nil becomes "".
func AsString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

// AsFloat converts numbers and numeric strings. Empty, NaN-like and
// non-numeric values are absent.
func AsFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(val)
		switch strings.ToLower(s) {
		case "", "nan", "none", "null", "n/a":
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// FloatPtr is AsFloat returning nil when absent.
func FloatPtr(v any) *float64 {
	f, ok := AsFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// IntPtr converts integral numbers and numeric strings.
func IntPtr(v any) *int {
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil
		}
		return &n
	}
	f, ok := AsFloat(v)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}

// AsInt64 converts an id-like value, defaulting to zero.
func AsInt64(v any) int64 {
	if s, ok := v.(string); ok {
		n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return n
	}
	f, ok := AsFloat(v)
	if !ok {
		return 0
	}
	return int64(f)
}

var (
	dec10000 = decimal.NewFromInt(10000)
	dec365   = decimal.NewFromInt(365)
)

// CouponYield is the annualised coupon-to-price ratio
// (couponAmount*10000)/(prevPrice*faceValue)*(365/couponPeriod).
// It is absent when any input is missing or zero.
func (r ListRecord) CouponYield() (float64, bool) {
	if r.CouponValue == nil || r.PrevPrice == nil || r.FaceValue == nil || r.CouponPeriod == nil {
		return 0, false
	}
	if *r.PrevPrice == 0 || *r.FaceValue == 0 || *r.CouponPeriod <= 0 {
		return 0, false
	}
	amount := decimal.NewFromFloat(*r.CouponValue)
	price := decimal.NewFromFloat(*r.PrevPrice)
	face := decimal.NewFromFloat(*r.FaceValue)
	period := decimal.NewFromInt(int64(*r.CouponPeriod))

	ratio := amount.Mul(dec10000).Div(price.Mul(face)).Mul(dec365.Div(period))
	return ratio.InexactFloat64(), true
}
