package sdbus

import (
	"fmt"
	"os"

	"github.com/codyps/go-systemd/sdbus/wire"
)

// An Iterator is a read cursor over a sealed message's body.
//
// The typed Read methods return (value, ok, err): ok is false when
// the current container (or the message) has no values left, and a
// non-nil error reports a wrong-type read (*[TypeMismatchError]) or
// malformed wire data. Reads advance the cursor only on success.
//
// A message has at most one iterator at a time; [Iterator.Close]
// releases it.
type Iterator struct {
	m      *Message
	dec    wire.Decoder
	frames []iterFrame
	closed bool
}

// iterFrame is one level of the read cursor's container stack.
type iterFrame struct {
	kind  Type
	sig   string // remaining signature at this level
	elem  string // arrays: the element signature
	limit int    // arrays: offset one past the last element byte
}

// Iter returns a read cursor positioned at the start of the message
// body. It fails with [ErrUnsealed] on an open message and with
// [ErrIterLive] while a previous iterator has not been closed.
func (m *Message) Iter() (*Iterator, error) {
	if !m.sealed {
		return nil, ErrUnsealed
	}
	if m.iter != nil {
		return nil, ErrIterLive
	}
	it := &Iterator{
		m:      m,
		dec:    wire.Decoder{Order: m.order, In: m.body},
		frames: []iterFrame{{sig: m.bodySig, limit: -1}},
	}
	m.iter = it
	return it, nil
}

// Close releases the iterator, allowing a new one to be created.
func (it *Iterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	if it.m.iter == it {
		it.m.iter = nil
	}
}

func (it *Iterator) top() *iterFrame { return &it.frames[len(it.frames)-1] }

// PeekType reports the type of the next value under the cursor
// without consuming it. For arrays, structs and dict entries,
// contents is the inner signature; for variants it is empty, since a
// variant's contents travel with the value. At the end of the current
// container it returns ([TypeInvalid], "", nil).
func (it *Iterator) PeekType() (t Type, contents string, err error) {
	if it.closed {
		return TypeInvalid, "", fmt.Errorf("iterator is closed")
	}
	f := it.top()
	if f.kind == TypeArray {
		if it.dec.Pos() >= f.limit {
			return TypeInvalid, "", nil
		}
		t, contents, _, err = firstType(f.elem)
		return t, contents, err
	}
	t, contents, _, err = firstType(f.sig)
	return t, contents, err
}

// consume advances the current frame past one complete type.
func (it *Iterator) consume() {
	f := it.top()
	if f.kind == TypeArray {
		return
	}
	_, _, rest, _ := firstType(f.sig)
	f.sig = rest
}

func (it *Iterator) readBasic(tag Type, fn func(*wire.Decoder) error) (bool, error) {
	t, _, err := it.PeekType()
	if err != nil {
		return false, err
	}
	if t == TypeInvalid {
		return false, nil
	}
	if t != tag {
		return false, &TypeMismatchError{Want: tag, Got: t}
	}
	if err := fn(&it.dec); err != nil {
		return false, err
	}
	it.consume()
	return true, nil
}

// ReadByte reads a 'y' value.
func (it *Iterator) ReadByte() (v byte, ok bool, err error) {
	ok, err = it.readBasic(TypeByte, func(d *wire.Decoder) (err error) {
		v, err = d.Uint8()
		return err
	})
	return v, ok, err
}

// ReadBool reads a 'b' value.
func (it *Iterator) ReadBool() (v bool, ok bool, err error) {
	ok, err = it.readBasic(TypeBoolean, func(d *wire.Decoder) (err error) {
		v, err = d.Bool()
		return err
	})
	return v, ok, err
}

// ReadInt16 reads an 'n' value.
func (it *Iterator) ReadInt16() (v int16, ok bool, err error) {
	ok, err = it.readBasic(TypeInt16, func(d *wire.Decoder) (err error) {
		v, err = d.Int16()
		return err
	})
	return v, ok, err
}

// ReadUint16 reads a 'q' value.
func (it *Iterator) ReadUint16() (v uint16, ok bool, err error) {
	ok, err = it.readBasic(TypeUint16, func(d *wire.Decoder) (err error) {
		v, err = d.Uint16()
		return err
	})
	return v, ok, err
}

// ReadInt32 reads an 'i' value.
func (it *Iterator) ReadInt32() (v int32, ok bool, err error) {
	ok, err = it.readBasic(TypeInt32, func(d *wire.Decoder) (err error) {
		v, err = d.Int32()
		return err
	})
	return v, ok, err
}

// ReadUint32 reads a 'u' value.
func (it *Iterator) ReadUint32() (v uint32, ok bool, err error) {
	ok, err = it.readBasic(TypeUint32, func(d *wire.Decoder) (err error) {
		v, err = d.Uint32()
		return err
	})
	return v, ok, err
}

// ReadInt64 reads an 'x' value.
func (it *Iterator) ReadInt64() (v int64, ok bool, err error) {
	ok, err = it.readBasic(TypeInt64, func(d *wire.Decoder) (err error) {
		v, err = d.Int64()
		return err
	})
	return v, ok, err
}

// ReadUint64 reads a 't' value.
func (it *Iterator) ReadUint64() (v uint64, ok bool, err error) {
	ok, err = it.readBasic(TypeUint64, func(d *wire.Decoder) (err error) {
		v, err = d.Uint64()
		return err
	})
	return v, ok, err
}

// ReadFloat64 reads a 'd' value.
func (it *Iterator) ReadFloat64() (v float64, ok bool, err error) {
	ok, err = it.readBasic(TypeDouble, func(d *wire.Decoder) (err error) {
		v, err = d.Float64()
		return err
	})
	return v, ok, err
}

// ReadString reads an 's' value.
func (it *Iterator) ReadString() (v string, ok bool, err error) {
	ok, err = it.readBasic(TypeString, func(d *wire.Decoder) (err error) {
		v, err = d.String()
		return err
	})
	return v, ok, err
}

// ReadObjectPath reads an 'o' value, validating the path.
func (it *Iterator) ReadObjectPath() (p ObjectPath, ok bool, err error) {
	ok, err = it.readBasic(TypeObjectPath, func(d *wire.Decoder) error {
		s, err := d.String()
		if err != nil {
			return err
		}
		p, err = ParseObjectPath(append([]byte(s), 0))
		return err
	})
	return p, ok, err
}

// ReadSignature reads a 'g' value.
func (it *Iterator) ReadSignature() (v string, ok bool, err error) {
	ok, err = it.readBasic(TypeSignature, func(d *wire.Decoder) (err error) {
		v, err = d.Signature()
		return err
	})
	return v, ok, err
}

// ReadFile reads an 'h' value and resolves it against the message's
// descriptor array. The returned file stays owned by the message;
// duplicate it to keep it past the message's lifetime.
func (it *Iterator) ReadFile() (f *os.File, ok bool, err error) {
	ok, err = it.readBasic(TypeUnixFD, func(d *wire.Decoder) error {
		idx, err := d.Uint32()
		if err != nil {
			return err
		}
		if int(idx) >= len(it.m.files) {
			return fmt.Errorf("fd index %d out of range (message carries %d)", idx, len(it.m.files))
		}
		f = it.m.files[idx]
		return nil
	})
	return f, ok, err
}

// Enter descends into the next value, which must be a container of
// the given kind. A non-empty contents additionally requires the
// container's inner signature to match (variants always match, their
// contents being dynamic). It returns (false, nil) at the end of the
// current container.
func (it *Iterator) Enter(kind Type, contents string) (bool, error) {
	t, c, err := it.PeekType()
	if err != nil {
		return false, err
	}
	if t == TypeInvalid {
		return false, nil
	}
	if t != kind {
		return false, &TypeMismatchError{Want: kind, Got: t}
	}
	if contents != "" && t != TypeVariant && c != contents {
		return false, fmt.Errorf("container holds %q, want %q", c, contents)
	}
	switch kind {
	case TypeArray:
		n, err := it.dec.ArrayEnd(arrayElemAlign(c) == 8)
		if err != nil {
			return false, err
		}
		it.consume()
		it.frames = append(it.frames, iterFrame{kind: TypeArray, elem: c, limit: n})
	case TypeStruct, TypeDictEntry:
		if err := it.dec.Pad(8); err != nil {
			return false, err
		}
		it.consume()
		it.frames = append(it.frames, iterFrame{kind: kind, sig: c, limit: -1})
	case TypeVariant:
		sig, err := it.dec.Signature()
		if err != nil {
			return false, err
		}
		if vt, _, rest, err := firstType(sig); err != nil || vt == TypeInvalid || rest != "" {
			return false, fmt.Errorf("variant signature %q is not one complete type", sig)
		}
		it.consume()
		it.frames = append(it.frames, iterFrame{kind: TypeVariant, sig: sig, limit: -1})
	default:
		return false, fmt.Errorf("cannot enter container of type %s", kind)
	}
	return true, nil
}

// Exit ascends out of the innermost entered container. Unread array
// elements are skipped; other containers must be fully read.
func (it *Iterator) Exit() error {
	if len(it.frames) < 2 {
		return fmt.Errorf("no entered container to exit")
	}
	f := it.top()
	switch f.kind {
	case TypeArray:
		it.dec.SetPos(f.limit)
	default:
		if f.sig != "" {
			return fmt.Errorf("%s not fully read, %q remains", f.kind, f.sig)
		}
	}
	it.frames = it.frames[:len(it.frames)-1]
	return nil
}

// Rewind moves the cursor back to the start of the message body,
// leaving any entered containers.
func (it *Iterator) Rewind() {
	it.dec.SetPos(0)
	it.frames = it.frames[:1]
	it.frames[0].sig = it.m.bodySig
}

// Read reads one value into each pointer in dsts, choosing the wire
// type from the pointee type as [Message.Append] does. It returns
// (false, nil) without consuming anything further once the current
// container runs out of values.
func (it *Iterator) Read(dsts ...any) (bool, error) {
	for _, dst := range dsts {
		var ok bool
		var err error
		switch dst := dst.(type) {
		case *byte:
			*dst, ok, err = it.ReadByte()
		case *bool:
			*dst, ok, err = it.ReadBool()
		case *int16:
			*dst, ok, err = it.ReadInt16()
		case *uint16:
			*dst, ok, err = it.ReadUint16()
		case *int32:
			*dst, ok, err = it.ReadInt32()
		case *uint32:
			*dst, ok, err = it.ReadUint32()
		case *int64:
			*dst, ok, err = it.ReadInt64()
		case *uint64:
			*dst, ok, err = it.ReadUint64()
		case *float64:
			*dst, ok, err = it.ReadFloat64()
		case *string:
			*dst, ok, err = it.ReadString()
		case *ObjectPath:
			*dst, ok, err = it.ReadObjectPath()
		case **os.File:
			*dst, ok, err = it.ReadFile()
		default:
			return false, fmt.Errorf("cannot read into value of type %T", dst)
		}
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
