// Package urlnorm reduces request and referrer URLs to their host component.
package urlnorm

import (
	"net/url"
	"regexp"
)

// bareHostRegex matches a host[:port] token that carries no scheme or path.
var bareHostRegex = regexp.MustCompile(`^(?:[A-Za-z0-9][A-Za-z0-9-]*(?:\.[A-Za-z0-9-]+)*|\[[0-9A-Fa-f:.]+\])(?::\d+)?$`)

// Normalize returns the network location (host, plus port when present) of raw.
// Input that is not a well-formed absolute URL yields an empty string.
// A value that is already a bare host is returned unchanged.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	if bareHostRegex.MatchString(raw) {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
