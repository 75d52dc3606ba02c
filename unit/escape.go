// Package unit implements systemd's unit name escaping, as performed
// by systemd-escape.
package unit

import (
	"fmt"
	"strconv"
	"strings"
)

func mustEscape(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == ':' || c == '_':
		return false
	case c == '.':
		// A leading dot would make the name hidden.
		return first
	default:
		return true
	}
}

// EscapeName escapes an arbitrary string for use as (part of) a unit
// name: '/' becomes '-', and bytes outside the unit name alphabet
// become \xNN sequences.
func EscapeName(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '/':
			b.WriteByte('-')
		case mustEscape(c, i == 0):
			fmt.Fprintf(&b, `\x%02x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// UnescapeName undoes [EscapeName].
func UnescapeName(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '-':
			b.WriteByte('/')
		case '\\':
			if i+3 >= len(s) || s[i+1] != 'x' {
				return "", fmt.Errorf("invalid escape at offset %d of %q", i, s)
			}
			v, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid escape at offset %d of %q", i, s)
			}
			b.WriteByte(byte(v))
			i += 3
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// EscapePath escapes a filesystem path for use as a unit name, the
// way mount and swap units name themselves: the root path maps to
// "-", and redundant slashes are removed before escaping.
func EscapePath(p string) string {
	p = strings.Trim(collapseSlashes(p), "/")
	if p == "" {
		return "-"
	}
	return EscapeName(p)
}

func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}
