package id128

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"9f26b148a68a487cb28c76e1bb500e11", true},
		{"9f26b148-a68a-487c-b28c-76e1bb500e11", true},
		{"9F26B148A68A487CB28C76E1BB500E11", true},
		{"9f26b148a68a487cb28c76e1bb500e1", false},
		{"9f26b148a68a487cb28c76e1bb500exx", false},
		{"9f26b148-a68a-487c-b28c76e1bb500e11x", false},
		{"", false},
	}
	for _, tc := range tests {
		id, err := Parse(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("Parse(%q) error: %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if err == nil && id.String() != "9f26b148a68a487cb28c76e1bb500e11" {
			t.Errorf("Parse(%q).String() = %q", tc.in, id.String())
		}
	}
}

func TestUUIDString(t *testing.T) {
	id, err := Parse("9f26b148a68a487cb28c76e1bb500e11")
	if err != nil {
		t.Fatal(err)
	}
	want := "9f26b148-a68a-487c-b28c-76e1bb500e11"
	if got := id.UUIDString(); got != want {
		t.Errorf("UUIDString() = %q, want %q", got, want)
	}
	back, err := Parse(id.UUIDString())
	if err != nil || !back.Equal(id) {
		t.Errorf("UUID round trip = %v, %v", back, err)
	}
}

func TestRandom(t *testing.T) {
	a, err := Random()
	if err != nil {
		t.Fatal(err)
	}
	b, err := Random()
	if err != nil {
		t.Fatal(err)
	}
	if a.Equal(b) {
		t.Error("two Random() ids are equal")
	}
	if a.IsNull() {
		t.Error("Random() returned the null id")
	}
	if a[6]&0xf0 != 0x40 {
		t.Errorf("version nibble = %x, want 4", a[6]>>4)
	}
	if a[8]&0xc0 != 0x80 {
		t.Errorf("variant bits = %x, want 10", a[8]>>6)
	}
}

func TestIsNull(t *testing.T) {
	var id ID128
	if !id.IsNull() {
		t.Error("zero id is not null")
	}
}
