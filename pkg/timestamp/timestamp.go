// Package timestamp decomposes proxy log timestamps of the form
// [DD/Mon/YYYY:HH:MM:SS zone] into the calendar parts kept in a record.
package timestamp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedTimestamp is returned (wrapped) for any timestamp that cannot be decomposed.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// months maps the three-letter English abbreviations to calendar months.
var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// Parts holds the pieces of a log timestamp retained in a record.
// Day, Month, Year and Hour keep the text found in the log.
type Parts struct {
	Day     string
	Month   string
	Year    string
	Hour    string
	Weekday string // Full English day name, e.g. "Friday"
}

// Decompose parses raw (with or without its enclosing brackets) and derives the weekday.
// Minutes, seconds and the zone offset are read past but not retained.
func Decompose(raw string) (Parts, error) {
	ts := strings.TrimPrefix(raw, "[")
	ts = strings.TrimSuffix(ts, "]")

	segments := strings.Split(ts, "/")
	if len(segments) != 3 {
		return Parts{}, fmt.Errorf("%w: %q: want DD/Mon/YYYY:HH", ErrMalformedTimestamp, raw)
	}

	yearHour := strings.Split(segments[2], ":")
	if len(yearHour) < 2 {
		return Parts{}, fmt.Errorf("%w: %q: missing hour", ErrMalformedTimestamp, raw)
	}

	p := Parts{
		Day:   segments[0],
		Month: segments[1],
		Year:  yearHour[0],
		Hour:  yearHour[1],
	}

	month, ok := months[strings.ToLower(p.Month)]
	if !ok {
		return Parts{}, fmt.Errorf("%w: %q: unknown month %q", ErrMalformedTimestamp, raw, p.Month)
	}
	day, err := strconv.Atoi(p.Day)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: %q: bad day: %v", ErrMalformedTimestamp, raw, err)
	}
	year, err := strconv.Atoi(p.Year)
	if err != nil || year < 1 {
		return Parts{}, fmt.Errorf("%w: %q: bad year %q", ErrMalformedTimestamp, raw, p.Year)
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (31 Apr becomes 1 May), so compare back.
	if date.Year() != year || date.Month() != month || date.Day() != day {
		return Parts{}, fmt.Errorf("%w: %q: %04d-%s-%02d is not a calendar date", ErrMalformedTimestamp, raw, year, month, day)
	}

	p.Weekday = date.Weekday().String()
	return p, nil
}
