package sdbus

import (
	"fmt"

	"github.com/codyps/go-systemd/sdbus/wire"
)

// Header field codes, per the D-Bus specification.
const (
	fieldPath        = 1 // o
	fieldInterface   = 2 // s
	fieldMember      = 3 // s
	fieldErrorName   = 4 // s
	fieldReplySerial = 5 // u
	fieldDestination = 6 // s
	fieldSender      = 7 // s
	fieldSignature   = 8 // g
	fieldUnixFDs     = 9 // u
)

const protocolVersion = 1

// maxMessageSize is the largest message the D-Bus specification
// permits, 128 MiB.
const maxMessageSize = 128 * 1024 * 1024

// encodeMessage serializes a sealed message, header and body, ready
// to write to the transport.
func encodeMessage(m *Message) ([]byte, error) {
	if !m.sealed {
		return nil, ErrUnsealed
	}
	e := &wire.Encoder{Order: m.order}
	e.ByteOrderFlag()
	e.Uint8(byte(m.typ))
	e.Uint8(m.flags)
	e.Uint8(protocolVersion)
	e.Uint32(uint32(len(m.body)))
	e.Uint32(m.serial)

	field := func(code byte, sig string, val func()) {
		e.Struct(func() error {
			e.Uint8(code)
			e.Signature(sig)
			val()
			return nil
		})
	}
	e.Array(true, func() error {
		if !m.path.IsZero() {
			field(fieldPath, "o", func() { e.String(m.path.String()) })
		}
		if !m.iface.IsZero() {
			field(fieldInterface, "s", func() { e.String(m.iface.String()) })
		}
		if !m.member.IsZero() {
			field(fieldMember, "s", func() { e.String(m.member.String()) })
		}
		if m.errName != "" {
			field(fieldErrorName, "s", func() { e.String(m.errName) })
		}
		if m.replySerial != 0 {
			field(fieldReplySerial, "u", func() { e.Uint32(m.replySerial) })
		}
		if !m.dest.IsZero() {
			field(fieldDestination, "s", func() { e.String(m.dest.String()) })
		}
		if m.bodySig != "" {
			field(fieldSignature, "g", func() { e.Signature(m.bodySig) })
		}
		if len(m.files) > 0 {
			field(fieldUnixFDs, "u", func() { e.Uint32(uint32(len(m.files))) })
		}
		return nil
	})
	e.Pad(8)
	e.Raw(m.body)
	if len(e.Out) > maxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds the %d byte limit", len(e.Out), maxMessageSize)
	}
	return e.Out, nil
}

// header holds the decoded fixed header and header fields of an
// inbound message.
type header struct {
	order       wire.ByteOrder
	typ         MessageType
	flags       byte
	serial      uint32
	bodyLen     uint32
	path        string
	iface       string
	member      string
	errName     string
	replySerial uint32
	dest        string
	sender      string
	sig         string
	numFDs      uint32
}

// decodeHeader parses a message header. d must be positioned at the
// start of a message; on success it is left at the start of the body.
// Unknown header fields are skipped, as the protocol requires.
func decodeHeader(d *wire.Decoder) (*header, error) {
	var h header
	if err := d.ByteOrderFlag(); err != nil {
		return nil, err
	}
	h.order = d.Order
	typ, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	h.typ = MessageType(typ)
	if h.flags, err = d.Uint8(); err != nil {
		return nil, err
	}
	ver, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	if ver != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", ver)
	}
	if h.bodyLen, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.serial, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.serial == 0 {
		return nil, fmt.Errorf("message has serial 0")
	}

	_, err = d.Array(true, func(int) error {
		return d.Struct(func() error {
			code, err := d.Uint8()
			if err != nil {
				return err
			}
			sig, err := d.Signature()
			if err != nil {
				return err
			}
			var dst *string
			switch code {
			case fieldPath:
				dst = &h.path
				if sig != "o" {
					return fmt.Errorf("header field %d has signature %q, want %q", code, sig, "o")
				}
			case fieldInterface:
				dst = &h.iface
			case fieldMember:
				dst = &h.member
			case fieldErrorName:
				dst = &h.errName
			case fieldDestination:
				dst = &h.dest
			case fieldSender:
				dst = &h.sender
			case fieldReplySerial:
				if sig != "u" {
					return fmt.Errorf("header field %d has signature %q, want %q", code, sig, "u")
				}
				h.replySerial, err = d.Uint32()
				return err
			case fieldSignature:
				if sig != "g" {
					return fmt.Errorf("header field %d has signature %q, want %q", code, sig, "g")
				}
				h.sig, err = d.Signature()
				return err
			case fieldUnixFDs:
				if sig != "u" {
					return fmt.Errorf("header field %d has signature %q, want %q", code, sig, "u")
				}
				h.numFDs, err = d.Uint32()
				return err
			default:
				return skipValue(d, sig)
			}
			if code != fieldPath && sig != "s" {
				return fmt.Errorf("header field %d has signature %q, want %q", code, sig, "s")
			}
			*dst, err = d.String()
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if err := d.Pad(8); err != nil {
		return nil, err
	}
	return &h, nil
}

// skipValue advances the decoder past one value of the given
// signature without interpreting it. Used to tolerate header fields
// from future protocol revisions.
func skipValue(d *wire.Decoder, sig string) error {
	for sig != "" {
		t, contents, rest, err := firstType(sig)
		if err != nil {
			return err
		}
		if t == TypeInvalid {
			return nil
		}
		switch t {
		case TypeByte:
			_, err = d.Uint8()
		case TypeInt16, TypeUint16:
			_, err = d.Uint16()
		case TypeBoolean, TypeInt32, TypeUint32, TypeUnixFD:
			_, err = d.Uint32()
		case TypeInt64, TypeUint64, TypeDouble:
			_, err = d.Uint64()
		case TypeString, TypeObjectPath:
			_, err = d.String()
		case TypeSignature:
			_, err = d.Signature()
		case TypeArray:
			var end int
			end, err = d.ArrayEnd(arrayElemAlign(contents) == 8)
			if err == nil {
				d.SetPos(end)
			}
		case TypeStruct, TypeDictEntry:
			if err = d.Pad(8); err == nil {
				err = skipValue(d, contents)
			}
		case TypeVariant:
			var vs string
			if vs, err = d.Signature(); err == nil {
				err = skipValue(d, vs)
			}
		default:
			err = fmt.Errorf("cannot skip value of type %s", t)
		}
		if err != nil {
			return err
		}
		sig = rest
	}
	return nil
}

// valid checks the field requirements the protocol imposes per
// message type.
func (h *header) valid() error {
	switch h.typ {
	case MessageMethodCall:
		if h.path == "" || h.member == "" {
			return fmt.Errorf("method call missing path or member")
		}
	case MessageSignal:
		if h.path == "" || h.iface == "" || h.member == "" {
			return fmt.Errorf("signal missing path, interface or member")
		}
	case MessageMethodReturn:
		if h.replySerial == 0 {
			return fmt.Errorf("method return missing reply serial")
		}
	case MessageMethodError:
		if h.replySerial == 0 || h.errName == "" {
			return fmt.Errorf("method error missing reply serial or error name")
		}
	default:
		return fmt.Errorf("unknown message type %d", byte(h.typ))
	}
	return nil
}

// wantReply reports whether a reply must be produced for a message
// with this header.
func (h *header) wantReply() bool {
	return h.typ == MessageMethodCall && h.flags&flagNoReplyExpected == 0
}
