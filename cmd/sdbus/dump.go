package main

import (
	"fmt"

	"github.com/codyps/go-systemd/sdbus"
)

// messageValues reads every value out of a message body into plain Go
// values suitable for printing.
func messageValues(m *sdbus.Message) ([]any, error) {
	it, err := m.Iter()
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return readAll(it)
}

func readAll(it *sdbus.Iterator) ([]any, error) {
	var out []any
	for {
		t, contents, err := it.PeekType()
		if err != nil {
			return nil, err
		}
		if t == sdbus.TypeInvalid {
			return out, nil
		}
		v, err := readValue(it, t, contents)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func readValue(it *sdbus.Iterator, t sdbus.Type, contents string) (any, error) {
	switch t {
	case sdbus.TypeByte:
		v, _, err := it.ReadByte()
		return v, err
	case sdbus.TypeBoolean:
		v, _, err := it.ReadBool()
		return v, err
	case sdbus.TypeInt16:
		v, _, err := it.ReadInt16()
		return v, err
	case sdbus.TypeUint16:
		v, _, err := it.ReadUint16()
		return v, err
	case sdbus.TypeInt32:
		v, _, err := it.ReadInt32()
		return v, err
	case sdbus.TypeUint32:
		v, _, err := it.ReadUint32()
		return v, err
	case sdbus.TypeInt64:
		v, _, err := it.ReadInt64()
		return v, err
	case sdbus.TypeUint64:
		v, _, err := it.ReadUint64()
		return v, err
	case sdbus.TypeDouble:
		v, _, err := it.ReadFloat64()
		return v, err
	case sdbus.TypeString:
		v, _, err := it.ReadString()
		return v, err
	case sdbus.TypeObjectPath:
		v, _, err := it.ReadObjectPath()
		if err != nil {
			return nil, err
		}
		return v.String(), nil
	case sdbus.TypeSignature:
		v, _, err := it.ReadSignature()
		return v, err
	case sdbus.TypeUnixFD:
		f, _, err := it.ReadFile()
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("<fd %d>", f.Fd()), nil
	case sdbus.TypeArray, sdbus.TypeStruct, sdbus.TypeDictEntry, sdbus.TypeVariant:
		if _, err := it.Enter(t, contents); err != nil {
			return nil, err
		}
		vals, err := readAll(it)
		if err != nil {
			return nil, err
		}
		if err := it.Exit(); err != nil {
			return nil, err
		}
		if t == sdbus.TypeVariant && len(vals) == 1 {
			return vals[0], nil
		}
		return vals, nil
	default:
		return nil, fmt.Errorf("unhandled type %v", t)
	}
}
