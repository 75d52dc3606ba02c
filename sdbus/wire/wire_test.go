package wire_test

import (
	"testing"

	"github.com/codyps/go-systemd/sdbus/wire"
	"github.com/google/go-cmp/cmp"
)

func TestEncoder(t *testing.T) {
	tests := []struct {
		name string
		in   func(*wire.Encoder)
		want []byte
	}{
		{
			"string",
			func(e *wire.Encoder) {
				e.String("foo")
			},
			[]byte{
				0x00, 0x00, 0x00, 0x03,
				0x66, 0x6f, 0x6f,
				0x00,
			},
		},

		{
			"signature",
			func(e *wire.Encoder) {
				e.Signature("a{sv}")
			},
			[]byte{
				0x05,
				0x61, 0x7b, 0x73, 0x76, 0x7d,
				0x00,
			},
		},

		{
			"uints",
			func(e *wire.Encoder) {
				e.Uint8(42)
				e.Uint16(66)
				e.Uint32(42)
				e.Uint64(66)
			},
			[]byte{
				0x2a,
				0x00, // pad
				0x00, 0x42,
				0x00, 0x00, 0x00, 0x2a,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
			},
		},

		{
			"bool",
			func(e *wire.Encoder) {
				e.Bool(true)
				e.Bool(false)
			},
			[]byte{
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x00,
			},
		},

		{
			"array",
			func(e *wire.Encoder) {
				e.Array(false, func() error {
					e.Uint16(1)
					e.Uint16(2)
					return nil
				})
			},
			[]byte{
				0x00, 0x00, 0x00, 0x04, // length
				0x00, 0x01,
				0x00, 0x02,
			},
		},

		{
			"empty 8-aligned array pads its header",
			func(e *wire.Encoder) {
				e.Array(true, func() error { return nil })
			},
			[]byte{
				0x00, 0x00, 0x00, 0x00, // length
				0x00, 0x00, 0x00, 0x00, // pad to elements
			},
		},

		{
			"struct",
			func(e *wire.Encoder) {
				e.Uint8(1)
				e.Struct(func() error {
					e.Uint8(2)
					e.Uint16(3)
					return nil
				})
			},
			[]byte{
				0x01,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // pad
				0x02,
				0x00, // pad
				0x00, 0x03,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := &wire.Encoder{Order: wire.BigEndian}
			tc.in(e)
			if diff := cmp.Diff(e.Out, tc.want); diff != "" {
				t.Errorf("encoding mismatch (-got+want):\n%s", diff)
			}
		})
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	e := &wire.Encoder{Order: wire.LittleEndian}
	e.Uint8(9)
	e.String("hello")
	e.Uint64(1 << 40)
	e.Signature("ii")
	e.Bool(true)
	e.Array(false, func() error {
		e.Uint32(4)
		e.Uint32(5)
		return nil
	})
	e.Float64(0.5)

	d := &wire.Decoder{Order: wire.LittleEndian, In: e.Out}
	if v, err := d.Uint8(); err != nil || v != 9 {
		t.Errorf("Uint8() = %v, %v, want 9", v, err)
	}
	if v, err := d.String(); err != nil || v != "hello" {
		t.Errorf("String() = %q, %v, want hello", v, err)
	}
	if v, err := d.Uint64(); err != nil || v != 1<<40 {
		t.Errorf("Uint64() = %v, %v, want 1<<40", v, err)
	}
	if v, err := d.Signature(); err != nil || v != "ii" {
		t.Errorf("Signature() = %q, %v, want ii", v, err)
	}
	if v, err := d.Bool(); err != nil || v != true {
		t.Errorf("Bool() = %v, %v, want true", v, err)
	}
	var got []uint32
	if _, err := d.Array(false, func(int) error {
		v, err := d.Uint32()
		got = append(got, v)
		return err
	}); err != nil {
		t.Errorf("Array() failed: %v", err)
	}
	if diff := cmp.Diff(got, []uint32{4, 5}); diff != "" {
		t.Errorf("array mismatch (-got+want):\n%s", diff)
	}
	if v, err := d.Float64(); err != nil || v != 0.5 {
		t.Errorf("Float64() = %v, %v, want 0.5", v, err)
	}
	if d.Rest() != 0 {
		t.Errorf("decoder has %d unread bytes", d.Rest())
	}
}

func TestDecoderShortInput(t *testing.T) {
	d := &wire.Decoder{Order: wire.LittleEndian, In: []byte{0x10, 0x00, 0x00, 0x00}}
	if _, err := d.String(); err == nil {
		t.Error("String() with truncated input succeeded, want error")
	}
}

func TestByteOrderFlag(t *testing.T) {
	e := &wire.Encoder{Order: wire.BigEndian}
	e.ByteOrderFlag()
	e.Uint32(7)

	d := &wire.Decoder{Order: wire.LittleEndian, In: e.Out}
	if err := d.ByteOrderFlag(); err != nil {
		t.Fatalf("ByteOrderFlag() failed: %v", err)
	}
	if v, err := d.Uint32(); err != nil || v != 7 {
		t.Errorf("Uint32() after flag = %v, %v, want 7", v, err)
	}

	d = &wire.Decoder{In: []byte{'x'}}
	if err := d.ByteOrderFlag(); err == nil {
		t.Error("ByteOrderFlag() accepted unknown flag")
	}
}
