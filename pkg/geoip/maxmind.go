package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// maxMindDB reads a GeoIP2/GeoLite2 City database file.
type maxMindDB struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the .mmdb file at path.
func OpenMaxMind(path string) (Database, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no database path configured", ErrDatabaseUnavailable)
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDatabaseUnavailable, path, err)
	}
	return &maxMindDB{reader: reader}, nil
}

func (m *maxMindDB) Lookup(ip net.IP) (Place, error) {
	rec, err := m.reader.City(ip)
	if err != nil {
		return Place{}, err
	}
	return placeFromCity(rec)
}

func (m *maxMindDB) Close() error {
	return m.reader.Close()
}

// placeFromCity extracts English names. The reader answers an uncovered
// address with an empty record rather than an error, so that case is
// detected here.
func placeFromCity(rec *geoip2.City) (Place, error) {
	if rec == nil || isEmptyCity(rec) {
		return Place{}, ErrAddressNotFound
	}

	p := Place{
		Country: rec.Country.Names["en"],
		City:    rec.City.Names["en"],
	}
	if n := len(rec.Subdivisions); n > 0 {
		p.Subdivision = rec.Subdivisions[n-1].Names["en"]
	}
	return p, nil
}

func isEmptyCity(rec *geoip2.City) bool {
	return rec.Continent.Code == "" &&
		rec.Country.IsoCode == "" &&
		rec.RegisteredCountry.IsoCode == "" &&
		rec.City.GeoNameID == 0 &&
		len(rec.Country.Names) == 0 &&
		len(rec.City.Names) == 0 &&
		len(rec.Subdivisions) == 0
}
