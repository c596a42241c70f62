package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CleanText trims surrounding whitespace, collapses internal runs of
// whitespace and puts the string in Unicode NFC form so that visually
// identical names compare equal byte for byte.
func CleanText(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeDomain strips scheme, "www." prefix, any path or port, and
// lowercases the host. Returns "" for blank input.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}

// IsEmptyJSON reports whether raw carries no usable value: absent, null, an
// empty string, an empty list or an empty object.
func IsEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	switch string(t) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}
