package sdbus_test

import (
	"testing"

	"github.com/codyps/go-systemd/sdbus"
)

func TestParseObjectPath(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"/\x00", true},
		{"/hello\x00", true},
		{"/hello/good_bye\x00", true},
		{"/hello/\x00", false},
		{"//hello\x00", false},
		{"/he//llo\x00", false},
		{"hello\x00", false},
		{"/hel lo\x00", false},
		{"/hel-lo\x00", false},
		{"/hello", false},
		{"", false},
		{"/hello\x00trailing", false},
	}
	for _, tc := range tests {
		p, err := sdbus.ParseObjectPath([]byte(tc.in))
		if (err == nil) != tc.ok {
			t.Errorf("ParseObjectPath(%q) error: %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if err == nil && p.String() != tc.in[:len(tc.in)-1] {
			t.Errorf("ParseObjectPath(%q).String() = %q", tc.in, p.String())
		}
	}
}

func TestParseInterfaceName(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"a.b\x00", true},
		{"a.b.c_d\x00", true},
		{"_a._b\x00", true},
		{"a.b.3\x00", false},
		{"a.b.c3\x00", true},
		{"3a.b\x00", false},
		{"a\x00", false},
		{"a..b\x00", false},
		{".a.b\x00", false},
		{"a.b.\x00", false},
		{"a.b-c\x00", false},
		{"a.b", false},
		{"", false},
	}
	for _, tc := range tests {
		_, err := sdbus.ParseInterfaceName([]byte(tc.in))
		if (err == nil) != tc.ok {
			t.Errorf("ParseInterfaceName(%q) error: %v, want ok=%v", tc.in, err, tc.ok)
		}
	}
}

func TestParseBusName(t *testing.T) {
	tests := []struct {
		in     string
		ok     bool
		unique bool
	}{
		{":a.b-c.1\x00", true, true},
		{":1.42\x00", true, true},
		{"org.freedesktop.DBus\x00", true, false},
		{"a.b-c\x00", true, false},
		{"a.b-c.0a\x00", false, false},
		{":a.b-c.0a\x00", true, true},
		{"a\x00", false, false},
		{"a..b\x00", false, false},
		{".a.b\x00", false, false},
		{"a.b.\x00", false, false},
		{"a b.c\x00", false, false},
		{"a.b", false, false},
		{"", false, false},
	}
	for _, tc := range tests {
		n, err := sdbus.ParseBusName([]byte(tc.in))
		if (err == nil) != tc.ok {
			t.Errorf("ParseBusName(%q) error: %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if err == nil && n.IsUnique() != tc.unique {
			t.Errorf("ParseBusName(%q).IsUnique() = %v, want %v", tc.in, n.IsUnique(), tc.unique)
		}
	}
}

func TestParseBusNameLength(t *testing.T) {
	long := make([]byte, 0, 300)
	long = append(long, "a."...)
	for len(long) < 256 {
		long = append(long, 'b')
	}
	long = append(long, 0)
	if _, err := sdbus.ParseBusName(long); err == nil {
		t.Error("ParseBusName accepted a 256-character name")
	}
	if _, err := sdbus.ParseBusName([]byte("a.\x00")); err == nil {
		t.Error(`ParseBusName accepted "a."`)
	}
}

func TestParseMemberName(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"abc13\x00", true},
		{"_abc\x00", true},
		{"1234abc\x00", false},
		{"abc.13\x00", false},
		{"ab cd\x00", false},
		{"\x00", false},
		{"abc", false},
		{"", false},
	}
	for _, tc := range tests {
		_, err := sdbus.ParseMemberName([]byte(tc.in))
		if (err == nil) != tc.ok {
			t.Errorf("ParseMemberName(%q) error: %v, want ok=%v", tc.in, err, tc.ok)
		}
	}
}

func TestMustPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustObjectPath(invalid) did not panic")
		}
	}()
	sdbus.MustObjectPath("not/a/path")
}

func TestZeroNames(t *testing.T) {
	var p sdbus.ObjectPath
	if !p.IsZero() {
		t.Error("zero ObjectPath is not IsZero")
	}
	if got := sdbus.MustObjectPath("/a"); got.IsZero() {
		t.Error("parsed path reports IsZero")
	}
}
