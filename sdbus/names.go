package sdbus

import (
	"bytes"
	"fmt"
)

// A ValidationError reports the grammar rule violated by a candidate
// name. It is returned by the Parse* constructors in this package.
type ValidationError struct {
	// Kind is the kind of name being validated ("object path",
	// "interface name", ...).
	Kind string
	// Rule describes the rule that the input violated.
	Rule string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Rule)
}

func pathErr(rule string) error      { return &ValidationError{"object path", rule} }
func interfaceErr(rule string) error { return &ValidationError{"interface name", rule} }
func busErr(rule string) error       { return &ValidationError{"bus name", rule} }
func memberErr(rule string) error    { return &ValidationError{"member name", rule} }

// maxNameLen is the maximum length of a bus or member name, per the
// D-Bus specification, not counting the NUL terminator.
const maxNameLen = 255

// An ObjectPath holds a validated, NUL-terminated D-Bus object path.
//
// Requirements (D-Bus spec 0.26):
//
//   - the path begins with '/' and consists of elements separated by
//     slash characters
//   - elements contain only the ASCII characters [A-Z][a-z][0-9]_
//   - no element is empty: '/' never appears twice in a row, and a
//     trailing '/' is only allowed on the root path
//
// The wire protocol additionally requires NUL termination, which the
// validated buffer retains.
type ObjectPath struct {
	b []byte
}

// ParseObjectPath validates b, which must include the trailing NUL
// byte, as an object path. The returned path aliases b; the caller
// must not modify it afterwards.
func ParseObjectPath(b []byte) (ObjectPath, error) {
	if len(b) == 0 {
		return ObjectPath{}, pathErr("path must have at least 1 character ('/')")
	}
	if bytes.IndexByte(b, 0) != len(b)-1 {
		return ObjectPath{}, pathErr("path must be NUL terminated")
	}
	if b[0] != '/' {
		return ObjectPath{}, pathErr("path must begin with '/'")
	}

	prev := byte('/')
	for _, c := range b[1:] {
		switch {
		case c == '/':
			if prev == '/' {
				return ObjectPath{}, pathErr("path must not have 2 '/' next to each other")
			}
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
		case c == 0:
			if prev == '/' && len(b) != 2 {
				return ObjectPath{}, pathErr("path must not end in '/' unless it is the root path")
			}
			return objectPathUnchecked(b), nil
		default:
			return ObjectPath{}, pathErr("invalid character in path, only '[A-Z][a-z][0-9]_/' allowed")
		}
		prev = c
	}

	return ObjectPath{}, pathErr("path must be NUL terminated")
}

// MustObjectPath validates the string form of an object path,
// appending the NUL terminator itself. It panics on invalid input,
// and is intended for path literals.
func MustObjectPath(s string) ObjectPath {
	p, err := ParseObjectPath(append([]byte(s), 0))
	if err != nil {
		panic(err)
	}
	return p
}

// objectPathUnchecked wraps b without validating it. b must be a
// valid NUL-terminated object path, e.g. one already validated, or
// received in a message whose header the bus daemon has checked.
func objectPathUnchecked(b []byte) ObjectPath { return ObjectPath{b} }

// String returns the path without its NUL terminator.
func (p ObjectPath) String() string { return cstr(p.b) }

// IsZero reports whether p is the zero value rather than a parsed
// path.
func (p ObjectPath) IsZero() bool { return p.b == nil }

// An InterfaceName holds a validated, NUL-terminated D-Bus interface
// name: two or more dot-separated elements, each matching
// [A-Za-z_][A-Za-z0-9_]*.
type InterfaceName struct {
	b []byte
}

// ParseInterfaceName validates b, which must include the trailing NUL
// byte, as an interface name. The returned name aliases b.
func ParseInterfaceName(b []byte) (InterfaceName, error) {
	if len(b) == 0 {
		return InterfaceName{}, interfaceErr("name must have more than 0 characters")
	}
	if bytes.IndexByte(b, 0) != len(b)-1 {
		return InterfaceName{}, interfaceErr("name must be NUL terminated")
	}
	switch {
	case b[0] == '.':
		return InterfaceName{}, interfaceErr("name must not begin with '.'")
	case b[0] >= 'A' && b[0] <= 'Z', b[0] >= 'a' && b[0] <= 'z', b[0] == '_':
	default:
		return InterfaceName{}, interfaceErr("name must begin with '[A-Z][a-z]_'")
	}

	periods := 0
	prev := b[0]
	for _, c := range b[1:] {
		switch {
		case c == '.':
			if prev == '.' {
				return InterfaceName{}, interfaceErr("name must not have 2 '.' next to each other")
			}
			periods++
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '_':
		case c >= '0' && c <= '9':
			if prev == '.' {
				return InterfaceName{}, interfaceErr("name element must not start with '[0-9]'")
			}
		case c == 0:
			if prev == '.' {
				return InterfaceName{}, interfaceErr("name must not end in '.'")
			}
			if periods < 1 {
				return InterfaceName{}, interfaceErr("name must have at least 2 elements")
			}
			return interfaceNameUnchecked(b), nil
		default:
			return InterfaceName{}, interfaceErr("invalid character in interface name, only '[A-Z][a-z][0-9]_.' allowed")
		}
		prev = c
	}

	return InterfaceName{}, interfaceErr("name must be NUL terminated")
}

// MustInterfaceName validates the string form of an interface name,
// appending the NUL terminator itself. It panics on invalid input.
func MustInterfaceName(s string) InterfaceName {
	n, err := ParseInterfaceName(append([]byte(s), 0))
	if err != nil {
		panic(err)
	}
	return n
}

func interfaceNameUnchecked(b []byte) InterfaceName { return InterfaceName{b} }

// String returns the name without its NUL terminator.
func (n InterfaceName) String() string { return cstr(n.b) }

// IsZero reports whether n is the zero value rather than a parsed
// name.
func (n InterfaceName) IsZero() bool { return n.b == nil }

// A BusName holds a validated, NUL-terminated D-Bus bus name.
//
// Bus names follow the interface name grammar with two extensions:
// elements may contain '-', and unique connection names begin with
// ':' and may have digit-leading elements. Total length is capped at
// 255 characters.
type BusName struct {
	b []byte
}

// ParseBusName validates b, which must include the trailing NUL byte,
// as a bus name. The returned name aliases b.
func ParseBusName(b []byte) (BusName, error) {
	if len(b) == 0 {
		return BusName{}, busErr("name must have more than 0 characters")
	}
	if len(b) > maxNameLen+1 {
		return BusName{}, busErr("name must be no longer than 255 characters")
	}
	if bytes.IndexByte(b, 0) != len(b)-1 {
		return BusName{}, busErr("name must be NUL terminated")
	}

	unique := false
	switch {
	case b[0] == '.':
		return BusName{}, busErr("name must not begin with '.'")
	case b[0] == ':':
		unique = true
	case b[0] >= 'A' && b[0] <= 'Z', b[0] >= 'a' && b[0] <= 'z', b[0] == '_', b[0] == '-':
	default:
		return BusName{}, busErr("name must begin with '[A-Z][a-z]_-' or ':'")
	}

	periods := 0
	prev := b[0]
	for _, c := range b[1:] {
		switch {
		case c == '.':
			if prev == '.' || prev == ':' {
				return BusName{}, busErr("elements may not be empty")
			}
			periods++
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '_', c == '-':
		case c >= '0' && c <= '9':
			if prev == '.' && !unique {
				return BusName{}, busErr("name element must not start with '[0-9]'")
			}
		case c == 0:
			if prev == '.' {
				return BusName{}, busErr("name must not end in '.'")
			}
			if periods < 1 {
				return BusName{}, busErr("name must have at least 2 elements")
			}
			return busNameUnchecked(b), nil
		default:
			return BusName{}, busErr("invalid character in bus name, only '[A-Z][a-z][0-9]_-.' allowed")
		}
		prev = c
	}

	return BusName{}, busErr("name must be NUL terminated")
}

// MustBusName validates the string form of a bus name, appending the
// NUL terminator itself. It panics on invalid input.
func MustBusName(s string) BusName {
	n, err := ParseBusName(append([]byte(s), 0))
	if err != nil {
		panic(err)
	}
	return n
}

func busNameUnchecked(b []byte) BusName { return BusName{b} }

// String returns the name without its NUL terminator.
func (n BusName) String() string { return cstr(n.b) }

// IsZero reports whether n is the zero value rather than a parsed
// name.
func (n BusName) IsZero() bool { return n.b == nil }

// IsUnique reports whether the name is a unique connection name
// (":1.42" style) rather than a well-known name.
func (n BusName) IsUnique() bool { return len(n.b) > 0 && n.b[0] == ':' }

// A MemberName holds a validated, NUL-terminated method or signal
// name: [A-Za-z_][A-Za-z0-9_]*, at most 255 characters, no dots.
type MemberName struct {
	b []byte
}

// ParseMemberName validates b, which must include the trailing NUL
// byte, as a member name. The returned name aliases b.
func ParseMemberName(b []byte) (MemberName, error) {
	if len(b) < 2 {
		return MemberName{}, memberErr("name must have more than 0 characters")
	}
	if len(b) > maxNameLen+1 {
		return MemberName{}, memberErr("name must be no longer than 255 characters")
	}
	if bytes.IndexByte(b, 0) != len(b)-1 {
		return MemberName{}, memberErr("name must be NUL terminated")
	}
	switch {
	case b[0] >= 'A' && b[0] <= 'Z', b[0] >= 'a' && b[0] <= 'z', b[0] == '_':
	default:
		return MemberName{}, memberErr("name must begin with '[A-Z][a-z]_'")
	}

	for _, c := range b[1:] {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
		case c == 0:
			return memberNameUnchecked(b), nil
		default:
			return MemberName{}, memberErr("invalid character in member name, only '[A-Z][a-z][0-9]_' allowed")
		}
	}

	return MemberName{}, memberErr("name must be NUL terminated")
}

// MustMemberName validates the string form of a member name,
// appending the NUL terminator itself. It panics on invalid input.
func MustMemberName(s string) MemberName {
	n, err := ParseMemberName(append([]byte(s), 0))
	if err != nil {
		panic(err)
	}
	return n
}

func memberNameUnchecked(b []byte) MemberName { return MemberName{b} }

// String returns the name without its NUL terminator.
func (n MemberName) String() string { return cstr(n.b) }

// IsZero reports whether n is the zero value rather than a parsed
// name.
func (n MemberName) IsZero() bool { return n.b == nil }

// cstr returns b as a string, without the trailing NUL if present.
func cstr(b []byte) string {
	if len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}
