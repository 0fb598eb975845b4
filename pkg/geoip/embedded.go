package geoip

import (
	"net"

	"github.com/phuslu/iploc"
)

// embeddedDB answers from the country table compiled into the binary.
// It knows countries only; state and city are never available.
type embeddedDB struct{}

// NewEmbedded returns the compiled-in country database. It needs no file.
func NewEmbedded() Database {
	return embeddedDB{}
}

func (embeddedDB) Lookup(ip net.IP) (Place, error) {
	code := iploc.Country(ip)
	if code == "" || code == "ZZ" {
		return Place{}, ErrAddressNotFound
	}
	return Place{Country: CountryName(code)}, nil
}

func (embeddedDB) Close() error {
	return nil
}

// countryNames maps ISO 3166-1 alpha-2 codes to the English names GeoLite2 uses.
var countryNames = map[string]string{
	"AR": "Argentina",
	"AT": "Austria",
	"AU": "Australia",
	"BE": "Belgium",
	"BR": "Brazil",
	"CA": "Canada",
	"CH": "Switzerland",
	"CL": "Chile",
	"CN": "China",
	"CO": "Colombia",
	"CZ": "Czechia",
	"DE": "Germany",
	"DK": "Denmark",
	"EG": "Egypt",
	"ES": "Spain",
	"FI": "Finland",
	"FR": "France",
	"GB": "United Kingdom",
	"GR": "Greece",
	"HK": "Hong Kong",
	"IE": "Ireland",
	"IL": "Israel",
	"IN": "India",
	"IT": "Italy",
	"JP": "Japan",
	"KE": "Kenya",
	"KR": "South Korea",
	"MX": "Mexico",
	"NG": "Nigeria",
	"NL": "Netherlands",
	"NO": "Norway",
	"NZ": "New Zealand",
	"PH": "Philippines",
	"PK": "Pakistan",
	"PL": "Poland",
	"PT": "Portugal",
	"RU": "Russia",
	"SA": "Saudi Arabia",
	"SE": "Sweden",
	"SG": "Singapore",
	"TR": "Türkiye",
	"TW": "Taiwan",
	"UA": "Ukraine",
	"US": "United States",
	"VN": "Vietnam",
	"ZA": "South Africa",
}

// CountryName returns the English name for an ISO country code,
// or the code itself when it is not in the table.
func CountryName(code string) string {
	if name, ok := countryNames[code]; ok {
		return name
	}
	return code
}
