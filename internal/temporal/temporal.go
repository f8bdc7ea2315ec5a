// Package temporal parses acquisition dates out of observation identifiers.
//
// Identifiers are underscore-delimited, with the acquisition timestamp in
// one part formatted as YYYYMMDDThhmmss, e.g.
// S2A_B04_20250115T135701_N0511_R067_22MCC.
package temporal

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const tokenLayout = "20060102"

// Key identifies an acquisition date. Token is the 8-digit date string used
// both for provenance and for keying intermediate artifacts.
type Key struct {
	Token     string
	Date      time.Time
	DayOfYear int
}

func (k Key) String() string { return k.Token }

// UnparseableDateError reports an identifier with no usable date token.
type UnparseableDateError struct {
	Identifier string
	Reason     string
}

func (e *UnparseableDateError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("no acquisition date in %q", e.Identifier)
	}
	return fmt.Sprintf("no acquisition date in %q: %s", e.Identifier, e.Reason)
}

// Extract returns the first date token immediately preceding a 'T' in the
// underscore-delimited identifier. Directory and extension are ignored, so
// a file path may be passed directly.
func Extract(identifier string) (Key, error) {
	name := path.Base(identifier)
	if ext := path.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}

	for _, part := range strings.Split(name, "_") {
		if len(part) < 9 || part[8] != 'T' || !allDigits(part[:8]) {
			continue
		}
		token := part[:8]
		date, err := time.Parse(tokenLayout, token)
		if err != nil {
			return Key{}, &UnparseableDateError{Identifier: identifier, Reason: fmt.Sprintf("invalid date %s", token)}
		}
		return Key{Token: token, Date: date, DayOfYear: date.YearDay()}, nil
	}
	return Key{}, &UnparseableDateError{Identifier: identifier}
}

// FormatCompact renders a date as a digit-only YYYYMMDD string.
func FormatCompact(t time.Time) string {
	return t.Format(tokenLayout)
}

// ParseCompact is the inverse of FormatCompact.
func ParseCompact(s string) (time.Time, error) {
	return time.Parse(tokenLayout, s)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
