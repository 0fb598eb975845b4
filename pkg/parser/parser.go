// Package parser splits proxy access log lines into their raw fields.
package parser

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// FieldCount is the number of parts a line is split into. The last part keeps
// the remainder of the line.
const FieldCount = 6

var (
	// ErrFieldCount is returned for lines with fewer than FieldCount parts.
	ErrFieldCount = errors.New("too few fields")
	// ErrEmptyIP is returned when the client address field is empty.
	ErrEmptyIP = errors.New("empty client address")
)

// Layout identifies where the fields sit in a line.
type Layout int

const (
	// LayoutEZproxy: ip [timestamp] username url status referrer
	LayoutEZproxy Layout = iota
	// LayoutNCSA: ip ident username [timestamp] "METHOD url PROTO" referrer
	LayoutNCSA
)

func (l Layout) String() string {
	switch l {
	case LayoutEZproxy:
		return "ezproxy"
	case LayoutNCSA:
		return "ncsa"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// Fields holds the raw values of one log line.
type Fields struct {
	IP           string
	TimestampRaw string // Still bracketed, e.g. "[15/Mar/2024:14:22:01 -0500]"
	Username     string // "anonymous" when the log has "-"
	RequestedURL string
	Status       string
	ReferringURL string // Remainder of the line, "-" when absent
	Layout       Layout
}

// Split breaks line into at most FieldCount parts separated by whitespace.
// A [bracketed] or "quoted" group counts as a single part. The layout is
// chosen from the position of the bracketed timestamp.
func Split(line string) (Fields, error) {
	parts := splitParts(line, FieldCount)
	if len(parts) < FieldCount {
		return Fields{}, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(parts), FieldCount)
	}

	f := Fields{
		IP:           unquote(parts[0]),
		ReferringURL: unquote(parts[5]),
	}
	if f.IP == "" {
		return Fields{}, ErrEmptyIP
	}

	if !isBracketed(parts[1]) && isBracketed(parts[3]) {
		f.Layout = LayoutNCSA
		f.Username = parts[2]
		f.TimestampRaw = parts[3]
		f.RequestedURL = requestTarget(parts[4])
	} else {
		f.Layout = LayoutEZproxy
		f.TimestampRaw = parts[1]
		f.Username = parts[2]
		f.RequestedURL = requestTarget(parts[3])
		f.Status = parts[4]
	}

	if f.Username == "-" {
		f.Username = "anonymous"
	}
	return f, nil
}

// splitParts returns up to n parts; the last one is the trimmed remainder.
func splitParts(line string, n int) []string {
	var parts []string
	rest := strings.TrimSpace(line)
	for rest != "" && len(parts) < n-1 {
		end := tokenEnd(rest)
		parts = append(parts, rest[:end])
		rest = strings.TrimLeftFunc(rest[end:], unicode.IsSpace)
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

var groupClosers = map[byte]byte{
	'[': ']',
	'"': '"',
}

// tokenEnd returns the index just past the first token of s.
func tokenEnd(s string) int {
	start := 0
	if closer, ok := groupClosers[s[0]]; ok {
		if i := strings.IndexByte(s[1:], closer); i >= 0 {
			start = i + 2
		}
	}
	if i := strings.IndexFunc(s[start:], unicode.IsSpace); i >= 0 {
		return start + i
	}
	return len(s)
}

func isBracketed(s string) bool {
	return len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']'
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// requestTarget returns the URL of a field that is either a bare URL or a
// quoted request line such as "GET http://host/path HTTP/1.1".
func requestTarget(field string) string {
	words := strings.Fields(unquote(field))
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	default:
		return words[1]
	}
}
