package wire

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// ByteOrder is a byte order usable on the wire. It extends the
// standard library orders with the flag byte D-Bus uses to announce a
// message's endianness.
type ByteOrder interface {
	byteOrder
	Flag() byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type wrapStd struct {
	byteOrder
}

func (w wrapStd) Flag() byte {
	switch w.byteOrder {
	case binary.BigEndian:
		return 'B'
	case binary.LittleEndian:
		return 'l'
	case binary.NativeEndian:
		if cpu.IsBigEndian {
			return 'B'
		}
		return 'l'
	default:
		panic("unknown ByteOrder, how did you manage to make one of those?")
	}
}

var (
	BigEndian    = wrapStd{binary.BigEndian}
	LittleEndian = wrapStd{binary.LittleEndian}
	NativeEndian = wrapStd{binary.NativeEndian}
)

// OrderForFlag maps a D-Bus endianness flag byte back to a ByteOrder.
func OrderForFlag(b byte) (ByteOrder, bool) {
	switch b {
	case 'B':
		return BigEndian, true
	case 'l':
		return LittleEndian, true
	}
	return nil, false
}
