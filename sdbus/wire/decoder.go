package wire

import (
	"fmt"
	"io"
	"math"
)

// A Decoder reads D-Bus wire format values out of a byte slice.
//
// Methods advance the read position past the padding required by
// D-Bus alignment rules. Alignment is computed from the absolute
// position within the message, so a Decoder must be handed the bytes
// starting at an 8-aligned message boundary (the start of a message,
// or the start of a body).
type Decoder struct {
	// Order is the byte order to use when reading multi-byte values.
	Order ByteOrder
	// In is the input buffer.
	In []byte

	pos int
}

// Pos returns the current read position.
func (d *Decoder) Pos() int { return d.pos }

// SetPos moves the read position. It is the caller's responsibility
// to only seek to positions previously returned by [Decoder.Pos], or
// 0.
func (d *Decoder) SetPos(pos int) { d.pos = pos }

// Rest returns the number of unread bytes.
func (d *Decoder) Rest() int { return len(d.In) - d.pos }

// Pad consumes padding bytes as needed to make the next read happen
// at a multiple of align bytes.
func (d *Decoder) Pad(align int) error {
	extra := d.pos % align
	if extra == 0 {
		return nil
	}
	skip := align - extra
	if d.pos+skip > len(d.In) {
		return io.ErrUnexpectedEOF
	}
	d.pos += skip
	return nil
}

// Read returns the next n bytes, with no framing or padding. The
// returned slice aliases the decoder's buffer and is valid for as
// long as the buffer is.
func (d *Decoder) Read(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.In) {
		return nil, io.ErrUnexpectedEOF
	}
	ret := d.In[d.pos : d.pos+n]
	d.pos += n
	return ret, nil
}

// Bytes reads a D-Bus byte array.
func (d *Decoder) Bytes() ([]byte, error) {
	ln, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return d.Read(int(ln))
}

// String reads a D-Bus string.
func (d *Decoder) String() (string, error) {
	ln, err := d.Uint32()
	if err != nil {
		return "", err
	}
	ret, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	if ret[len(ret)-1] != 0 {
		return "", fmt.Errorf("string of length %d not NUL terminated", ln)
	}
	return string(ret[:len(ret)-1]), nil
}

// Signature reads a D-Bus signature string, whose length prefix is a
// single byte.
func (d *Decoder) Signature() (string, error) {
	ln, err := d.Uint8()
	if err != nil {
		return "", err
	}
	ret, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	if ret[len(ret)-1] != 0 {
		return "", fmt.Errorf("signature of length %d not NUL terminated", ln)
	}
	return string(ret[:len(ret)-1]), nil
}

// Uint8 reads a uint8.
func (d *Decoder) Uint8() (uint8, error) {
	bs, err := d.Read(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// Uint16 reads a uint16.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.Pad(2); err != nil {
		return 0, err
	}
	bs, err := d.Read(2)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint16(bs), nil
}

// Uint32 reads a uint32.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.Pad(4); err != nil {
		return 0, err
	}
	bs, err := d.Read(4)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint32(bs), nil
}

// Uint64 reads a uint64.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.Pad(8); err != nil {
		return 0, err
	}
	bs, err := d.Read(8)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint64(bs), nil
}

// Int16 reads an int16.
func (d *Decoder) Int16() (int16, error) {
	v, err := d.Uint16()
	return int16(v), err
}

// Int32 reads an int32.
func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

// Int64 reads an int64.
func (d *Decoder) Int64() (int64, error) {
	v, err := d.Uint64()
	return int64(v), err
}

// Float64 reads a float64.
func (d *Decoder) Float64() (float64, error) {
	v, err := d.Uint64()
	return math.Float64frombits(v), err
}

// Bool reads a D-Bus boolean: a 4-byte integer, nonzero meaning true.
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint32()
	return v != 0, err
}

// ArrayEnd reads an array length prefix and returns the position just
// past the final array element. align8 indicates whether the array's
// elements are 8-aligned (structs or dict entries), whose header
// padding is consumed even for an empty array.
func (d *Decoder) ArrayEnd(align8 bool) (int, error) {
	ln, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if align8 {
		if err := d.Pad(8); err != nil {
			return 0, err
		}
	}
	end := d.pos + int(ln)
	if end > len(d.In) {
		return 0, io.ErrUnexpectedEOF
	}
	return end, nil
}

// Array reads an array. readElement is called repeatedly, with the
// element index, while array data remains; it must consume exactly
// one element per call. Array returns the number of elements read.
func (d *Decoder) Array(align8 bool, readElement func(int) error) (int, error) {
	end, err := d.ArrayEnd(align8)
	if err != nil {
		return 0, err
	}
	idx := 0
	for d.pos < end {
		if err := readElement(idx); err != nil {
			return idx, err
		}
		idx++
	}
	if d.pos != end {
		return idx, fmt.Errorf("array element reader overran element data by %d bytes", d.pos-end)
	}
	return idx, nil
}

// Struct positions the decoder at the start of a struct. Fields must
// be read within the provided fields function.
func (d *Decoder) Struct(fields func() error) error {
	if err := d.Pad(8); err != nil {
		return err
	}
	return fields()
}

// ByteOrderFlag reads a D-Bus byte order flag byte, and sets
// [Decoder.Order] to match it.
func (d *Decoder) ByteOrderFlag() error {
	v, err := d.Uint8()
	if err != nil {
		return err
	}
	ord, ok := OrderForFlag(v)
	if !ok {
		return fmt.Errorf("unknown byte order flag %q", v)
	}
	d.Order = ord
	return nil
}
