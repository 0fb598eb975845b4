// Package geoip resolves client IP addresses to country, state and city names.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Sentinel field values.
const (
	Unknown = "Unknown" // Address not covered, or the name is absent from the record
	Error   = "Error"   // Lookup failed for any other reason
)

// Backend names accepted by Open.
const (
	BackendMaxMind  = "maxmind"
	BackendEmbedded = "embedded"
)

var (
	// ErrAddressNotFound marks an address the database does not cover.
	ErrAddressNotFound = errors.New("address not found")
	// ErrDatabaseUnavailable is returned by Open when the database cannot be used at all.
	// No record of the batch can be geolocated, so callers treat it as fatal.
	ErrDatabaseUnavailable = errors.New("geolocation database unavailable")
)

// GeoInfo is the location attached to a record.
type GeoInfo struct {
	Country string
	State   string
	City    string
}

func unknownInfo() GeoInfo { return GeoInfo{Country: Unknown, State: Unknown, City: Unknown} }
func errorInfo() GeoInfo   { return GeoInfo{Country: Error, State: Error, City: Error} }

// Place is the raw answer of a Database. Empty fields mean the name is absent.
type Place struct {
	Country     string
	Subdivision string // Most specific subdivision (state, region)
	City        string
}

// Database is a read-only IP geolocation source.
// Lookup returns ErrAddressNotFound for addresses outside its coverage.
type Database interface {
	Lookup(ip net.IP) (Place, error)
	Close() error
}

// Logger receives lookup faults.
type Logger interface {
	Printf(format string, v ...any)
}

// Options configures Open.
type Options struct {
	Backend       string
	Path          string
	LookupTimeout time.Duration // Zero disables the per-lookup deadline
	Logger        Logger
}

// Resolver maps IP addresses to GeoInfo. It never fails: faults degrade to sentinel values.
// A Resolver is safe for concurrent use.
type Resolver struct {
	db       Database
	timeout  time.Duration
	logger   Logger
	cache    sync.Map // map[string]GeoInfo
	inflight sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Open acquires the database selected by opts.
// Any failure wraps ErrDatabaseUnavailable.
func Open(opts Options) (*Resolver, error) {
	var db Database
	switch opts.Backend {
	case "", BackendMaxMind:
		var err error
		db, err = OpenMaxMind(opts.Path)
		if err != nil {
			return nil, err
		}
	case BackendEmbedded:
		db = NewEmbedded()
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrDatabaseUnavailable, opts.Backend)
	}
	return NewResolver(db, opts), nil
}

// NewResolver wraps an already opened database. The Resolver takes ownership of db.
func NewResolver(db Database, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		db:      db,
		timeout: opts.LookupTimeout,
		logger:  logger,
	}
}

// Resolve looks up ip. Names missing from the record become Unknown one by one,
// an uncovered address is Unknown everywhere and any other fault is logged and
// reported as Error everywhere.
func (r *Resolver) Resolve(ctx context.Context, ipStr string) GeoInfo {
	if r == nil || r.db == nil {
		return unknownInfo()
	}

	if cached, ok := r.cache.Load(ipStr); ok {
		return cached.(GeoInfo)
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		r.logger.Printf("ERROR: GeoIP lookup error for IP: %s. Error: invalid IP address", ipStr)
		return errorInfo()
	}

	place, err := r.lookup(ctx, ip)
	var info GeoInfo
	switch {
	case errors.Is(err, ErrAddressNotFound):
		info = unknownInfo()
	case err != nil:
		r.logger.Printf("ERROR: GeoIP lookup error for IP: %s. Error: %v", ipStr, err)
		return errorInfo()
	default:
		info = GeoInfo{
			Country: orUnknown(place.Country),
			State:   orUnknown(place.Subdivision),
			City:    orUnknown(place.City),
		}
	}

	r.cache.Store(ipStr, info)
	return info
}

// lookup queries the database, bounded by the configured deadline.
func (r *Resolver) lookup(ctx context.Context, ip net.IP) (Place, error) {
	if err := ctx.Err(); err != nil {
		return Place{}, err
	}

	r.inflight.Add(1)
	if r.timeout <= 0 {
		defer r.inflight.Done()
		return r.db.Lookup(ip)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		place Place
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer r.inflight.Done()
		p, err := r.db.Lookup(ip)
		done <- result{p, err}
	}()

	select {
	case res := <-done:
		return res.place, res.err
	case <-ctx.Done():
		return Place{}, fmt.Errorf("lookup %s: %w", ip, ctx.Err())
	}
}

// Close waits for outstanding lookups and releases the database.
// It is safe to call more than once.
func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.inflight.Wait()
		r.closeErr = r.db.Close()
	})
	return r.closeErr
}

func orUnknown(name string) string {
	if name == "" {
		return Unknown
	}
	return name
}
