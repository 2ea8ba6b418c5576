package transform

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"metaetl/internal/domain"
)

// ParseCount coerces API numeric text to an integer count. Blank text is zero;
// decimal text truncates toward zero. ok is false when the text is not a
// number, in which case the count is zero.
func ParseCount(v domain.NumericText) (int64, bool) {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return 0, true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ParseSpend parses an amount and rounds it to cents.
func ParseSpend(v domain.NumericText) (decimal.Decimal, bool) {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d.Round(2), true
}

var reportDateFormats = []string{
	domain.DateLayout,          // YYYY-MM-DD, what the reporting API sends
	time.RFC3339,               // 2006-01-02T15:04:05Z07:00
	"2006-01-02T15:04:05-0700", // Graph API timestamps
	"2006/01/02",               // YYYY/MM/DD
}

// ParseReportDate returns the calendar day of a report date, at UTC midnight.
func ParseReportDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, format := range reportDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
