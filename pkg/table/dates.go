package table

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02-Jan-2006",
}

// looseDates accepts unpadded fields, two-digit years and times without
// seconds. Bare numbers and time-only strings are not listed so they never
// pick up today's date.
var looseDates = &now.Config{
	TimeLocation: time.UTC,
	TimeFormats: []string{
		"2006-1-2",
		"2006-1-2 15:4",
		"2006-1-2 15:4:5",
		"2006-1-2T15:4",
		"2006-1-2T15:4:5",
		"2006/1/2",
		"2006/1/2 15:4",
		"2006/1/2 15:4:5",
		"2006.1.2",
		"1/2/06",
		"1/2/06 15:4",
		"1/2/2006 15:4:5",
		"1-2-2006",
		"1-2-06",
		"2-Jan-06",
		"2 January 2006",
		"Jan 2 2006",
		"2006-01-02 15:04:05 -0700 MST",
		time.RFC1123,
		time.RFC1123Z,
	},
}

// ParseDate tries the date layouts seen in clinical extracts, then the looser
// spellings. Month-first is preferred for slash dates.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := looseDates.Parse(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// ParseDateValue converts a raw cell to a date. Whole numbers are read as
// yyyymmdd since CSV inference turns such columns numeric.
func ParseDateValue(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case string:
		return ParseDate(val)
	case float64:
		if math.IsNaN(val) || val != math.Trunc(val) {
			return time.Time{}, false
		}
		return ParseDate(strconv.FormatInt(int64(val), 10))
	case int64:
		return ParseDate(strconv.FormatInt(val, 10))
	case int:
		return ParseDate(strconv.Itoa(val))
	}
	return time.Time{}, false
}

// SubMonths moves t back by n calendar months, clamping to the last day of
// the target month (Aug 31 minus 6 months is Feb 28/29).
func SubMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 - n
	y += total / 12
	total %= 12
	if total < 0 {
		total += 12
		y--
	}
	month := time.Month(total + 1)
	last := time.Date(y, month+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > last {
		d = last
	}
	h, mi, s := t.Clock()
	return time.Date(y, month, d, h, mi, s, t.Nanosecond(), t.Location())
}
