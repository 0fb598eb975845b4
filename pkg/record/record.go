// Package record builds one statistics record from one raw proxy log line.
package record

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/papaganelli/ezstats/pkg/geoip"
	"github.com/papaganelli/ezstats/pkg/parser"
	"github.com/papaganelli/ezstats/pkg/timestamp"
	"github.com/papaganelli/ezstats/pkg/urlnorm"
)

const (
	// StatusAnonymous is written to every record's Status column whatever the
	// log says. Existing reports depend on it.
	StatusAnonymous = "anonymous"
	// NoReferrer replaces a "-" referrer.
	NoReferrer = "No Referrer"
	// DefaultCampusPrefix is the address prefix of on-campus clients.
	DefaultCampusPrefix = "10."
)

// Location tells whether a request came from the campus network.
type Location int

const (
	OffCampus Location = iota
	OnCampus
)

func (l Location) String() string {
	if l == OnCampus {
		return "On Campus"
	}
	return "Off Campus"
}

// Record is one row of the statistics output.
type Record struct {
	Date         string // Day of month as written in the log, e.g. "01"
	Weekday      string
	Hour         string
	Country      string
	State        string
	City         string
	Location     Location
	Status       string
	RequestedURL string // Host only
	ReferringURL string // Host only, or NoReferrer
	Resource     string // Label of the requested host, when known; not part of Row
}

var header = []string{
	"Date", "Weekday", "Hour", "Country", "State", "City",
	"Location", "Status", "Requested_url", "Referring_url",
}

// Header returns the column names matching Row.
func Header() []string {
	return append([]string(nil), header...)
}

// Row returns the record's columns in Header order.
func (r Record) Row() []string {
	return []string{
		r.Date,
		r.Weekday,
		r.Hour,
		r.Country,
		r.State,
		r.City,
		r.Location.String(),
		r.Status,
		r.RequestedURL,
		r.ReferringURL,
	}
}

// Reason classifies why a line produced no record.
type Reason string

const (
	ReasonFieldCount Reason = "field-count"
	ReasonEmptyIP    Reason = "empty-ip"
	ReasonTimestamp  Reason = "timestamp"
	ReasonUnexpected Reason = "unexpected"
)

// LineParseError reports a line that was skipped.
type LineParseError struct {
	Reason Reason
	Line   string
	Err    error
}

func (e *LineParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *LineParseError) Unwrap() error {
	return e.Err
}

// GeoResolver resolves a client address. Implementations never fail.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) geoip.GeoInfo
}

// Builder turns raw lines into records. The zero value is usable: without a
// GeoResolver every location is Unknown, and CampusPrefix falls back to
// DefaultCampusPrefix. A Builder is safe for concurrent use as long as Geo is.
type Builder struct {
	Geo          GeoResolver
	Labels       map[string]string // Requested host -> resource label
	CampusPrefix string
}

// Build parses one line. Every failure is a *LineParseError; geolocation and URL
// problems degrade the record instead of failing it.
func (b *Builder) Build(ctx context.Context, line string) (rec Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			rec = Record{}
			err = &LineParseError{Reason: ReasonUnexpected, Line: line, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	f, err := parser.Split(line)
	if err != nil {
		reason := ReasonUnexpected
		switch {
		case errors.Is(err, parser.ErrFieldCount):
			reason = ReasonFieldCount
		case errors.Is(err, parser.ErrEmptyIP):
			reason = ReasonEmptyIP
		}
		return Record{}, &LineParseError{Reason: reason, Line: line, Err: err}
	}

	ts, err := timestamp.Decompose(f.TimestampRaw)
	if err != nil {
		return Record{}, &LineParseError{Reason: ReasonTimestamp, Line: line, Err: err}
	}

	requested := urlnorm.Normalize(f.RequestedURL)
	referring := NoReferrer
	if f.ReferringURL != "-" {
		referring = urlnorm.Normalize(f.ReferringURL)
	}

	geo := geoip.GeoInfo{Country: geoip.Unknown, State: geoip.Unknown, City: geoip.Unknown}
	if b.Geo != nil {
		geo = b.Geo.Resolve(ctx, f.IP)
	}

	return Record{
		Date:         ts.Day,
		Weekday:      ts.Weekday,
		Hour:         ts.Hour,
		Country:      geo.Country,
		State:        geo.State,
		City:         geo.City,
		Location:     Classify(f.IP, b.campusPrefix()),
		Status:       StatusAnonymous,
		RequestedURL: requested,
		ReferringURL: referring,
		Resource:     b.label(requested),
	}, nil
}

func (b *Builder) campusPrefix() string {
	if b.CampusPrefix == "" {
		return DefaultCampusPrefix
	}
	return b.CampusPrefix
}

// label looks the host up with and without its port.
func (b *Builder) label(host string) string {
	if host == "" || len(b.Labels) == 0 {
		return ""
	}
	if l, ok := b.Labels[host]; ok {
		return l
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return b.Labels[h]
	}
	return ""
}

// Classify is a plain text prefix test on the address, not a CIDR match:
// with the default prefix "10.", "10.1.2.3" is on campus and "104.1.2.3" is not.
func Classify(ip, prefix string) Location {
	if strings.HasPrefix(ip, prefix) {
		return OnCampus
	}
	return OffCampus
}
