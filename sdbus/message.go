package sdbus

import (
	"fmt"
	"os"
	"time"

	"github.com/codyps/go-systemd/sdbus/wire"
	"golang.org/x/sys/unix"
)

// MessageType is the type of a D-Bus message.
type MessageType byte

const (
	MessageMethodCall MessageType = iota + 1
	MessageMethodReturn
	MessageMethodError
	MessageSignal
)

func (t MessageType) String() string {
	switch t {
	case MessageMethodCall:
		return "method-call"
	case MessageMethodReturn:
		return "method-return"
	case MessageMethodError:
		return "method-error"
	case MessageSignal:
		return "signal"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Message flag bits.
const (
	flagNoReplyExpected = 0x1
	flagNoAutoStart     = 0x2
)

// A Message is a D-Bus message being built or being read.
//
// A message starts out open: arguments are added with the Append
// methods, which write to the message's body at a sequential cursor.
// Sending (or receiving) a message seals it; a sealed message can
// only be read, through [Message.Iter].
//
// The cursors are not synchronized. A Message must not be used from
// multiple goroutines concurrently.
type Message struct {
	conn *Conn

	typ         MessageType
	flags       byte
	serial      uint32
	replySerial uint32
	path        ObjectPath
	iface       InterfaceName
	member      MemberName
	dest        BusName
	sender      string
	errName     string

	order  wire.ByteOrder
	enc    *wire.Encoder
	frames []buildFrame

	sealed  bool
	body    []byte
	bodySig string
	files   []*os.File
	iter    *Iterator

	monotonicUsec uint64
	realtimeUsec  uint64
	seq           uint64
}

// buildFrame is one level of the append cursor's container stack.
type buildFrame struct {
	kind     Type   // TypeInvalid at the root
	contents string // declared contents for containers
	sig      []byte // signature accumulated by appends at this level
	lenOff   int    // arrays: offset of the length prefix to backfill
	start    int    // arrays: offset of the first element byte
}

func newMessage(c *Conn, typ MessageType) *Message {
	return &Message{
		conn:   c,
		typ:    typ,
		order:  wire.NativeEndian,
		enc:    &wire.Encoder{Order: wire.NativeEndian},
		frames: []buildFrame{{}},
	}
}

// Type returns the message's type.
func (m *Message) Type() MessageType { return m.typ }

// Path returns the object path the message targets (calls) or was
// emitted from (signals). Zero if absent.
func (m *Message) Path() ObjectPath { return m.path }

// Interface returns the message's interface name. Zero if absent.
func (m *Message) Interface() InterfaceName { return m.iface }

// Member returns the method or signal name. Zero if absent.
func (m *Message) Member() MemberName { return m.member }

// Destination returns the message's destination name. Zero if absent.
func (m *Message) Destination() BusName { return m.dest }

// Sender returns the unique name of the message's sender, as stamped
// by the bus daemon. Empty on outbound messages.
func (m *Message) Sender() string { return m.sender }

// ErrName returns the error name of a method-error message.
func (m *Message) ErrName() string { return m.errName }

// Signature returns the type signature of the message body.
func (m *Message) Signature() string {
	if m.sealed {
		return m.bodySig
	}
	return string(m.frames[0].sig)
}

// Cookie returns the message's serial, assigned when the message is
// sent. Replies reference it via [Message.ReplyCookie].
func (m *Message) Cookie() uint64 { return uint64(m.serial) }

// ReplyCookie returns the cookie of the message this message replies
// to. Zero for non-reply messages.
func (m *Message) ReplyCookie() uint64 { return uint64(m.replySerial) }

// IsSealed reports whether the message has been sealed.
func (m *Message) IsSealed() bool { return m.sealed }

// MonotonicUsec returns the monotonic receive timestamp, in
// microseconds. Zero for messages that were not received from the
// bus.
func (m *Message) MonotonicUsec() uint64 { return m.monotonicUsec }

// RealtimeUsec returns the wall-clock receive timestamp, in
// microseconds since the epoch. Zero for messages that were not
// received from the bus.
func (m *Message) RealtimeUsec() uint64 { return m.realtimeUsec }

// SeqNum returns the connection-local receive sequence number. Zero
// for messages that were not received from the bus.
func (m *Message) SeqNum() uint64 { return m.seq }

// Err returns the error carried by a method-error message, or nil for
// other message types. The message text is the error's first body
// argument, when it is a string.
func (m *Message) Err() *Error {
	if m.typ != MessageMethodError {
		return nil
	}
	ret := &Error{Name: m.errName}
	if len(m.bodySig) > 0 && m.bodySig[0] == 's' {
		dec := wire.Decoder{Order: m.order, In: m.body}
		if s, err := dec.String(); err == nil {
			ret.Message = s
		}
	}
	return ret
}

func (m *Message) topFrame() *buildFrame { return &m.frames[len(m.frames)-1] }

// noteAppend records that one complete type (tag, with the given
// container contents) is being appended at the current cursor
// position, updating the accumulated signature and enforcing the
// enclosing container's element type.
func (m *Message) noteAppend(tag Type, contents string) error {
	f := m.topFrame()
	text := signatureText(tag, contents)
	switch f.kind {
	case TypeArray:
		if text != f.contents {
			return fmt.Errorf("cannot append %q to array of %q", text, f.contents)
		}
	case TypeVariant:
		if len(f.sig) > 0 {
			return fmt.Errorf("variant already contains a value")
		}
		if text != f.contents {
			return fmt.Errorf("cannot append %q to variant declared as %q", text, f.contents)
		}
		f.sig = append(f.sig, text...)
	default:
		f.sig = append(f.sig, text...)
	}
	return nil
}

func (m *Message) appendBasic(tag Type, fn func(*wire.Encoder)) error {
	if m.sealed {
		return ErrSealed
	}
	if err := m.noteAppend(tag, ""); err != nil {
		return err
	}
	fn(m.enc)
	return nil
}

// AppendByte appends a 'y' value.
func (m *Message) AppendByte(v byte) error {
	return m.appendBasic(TypeByte, func(e *wire.Encoder) { e.Uint8(v) })
}

// AppendBool appends a 'b' value. Booleans are not wire-native; they
// travel as a 4-byte integer holding 0 or 1.
func (m *Message) AppendBool(v bool) error {
	return m.appendBasic(TypeBoolean, func(e *wire.Encoder) { e.Bool(v) })
}

// AppendInt16 appends an 'n' value.
func (m *Message) AppendInt16(v int16) error {
	return m.appendBasic(TypeInt16, func(e *wire.Encoder) { e.Int16(v) })
}

// AppendUint16 appends a 'q' value.
func (m *Message) AppendUint16(v uint16) error {
	return m.appendBasic(TypeUint16, func(e *wire.Encoder) { e.Uint16(v) })
}

// AppendInt32 appends an 'i' value.
func (m *Message) AppendInt32(v int32) error {
	return m.appendBasic(TypeInt32, func(e *wire.Encoder) { e.Int32(v) })
}

// AppendUint32 appends a 'u' value.
func (m *Message) AppendUint32(v uint32) error {
	return m.appendBasic(TypeUint32, func(e *wire.Encoder) { e.Uint32(v) })
}

// AppendInt64 appends an 'x' value.
func (m *Message) AppendInt64(v int64) error {
	return m.appendBasic(TypeInt64, func(e *wire.Encoder) { e.Int64(v) })
}

// AppendUint64 appends a 't' value.
func (m *Message) AppendUint64(v uint64) error {
	return m.appendBasic(TypeUint64, func(e *wire.Encoder) { e.Uint64(v) })
}

// AppendFloat64 appends a 'd' value.
func (m *Message) AppendFloat64(v float64) error {
	return m.appendBasic(TypeDouble, func(e *wire.Encoder) { e.Float64(v) })
}

// AppendString appends an 's' value.
func (m *Message) AppendString(v string) error {
	return m.appendBasic(TypeString, func(e *wire.Encoder) { e.String(v) })
}

// AppendObjectPath appends an 'o' value.
func (m *Message) AppendObjectPath(p ObjectPath) error {
	if p.IsZero() {
		return fmt.Errorf("cannot append zero ObjectPath")
	}
	return m.appendBasic(TypeObjectPath, func(e *wire.Encoder) { e.String(p.String()) })
}

// AppendSignature appends a 'g' value.
func (m *Message) AppendSignature(sig string) error {
	if err := validSignature(sig); err != nil {
		return err
	}
	return m.appendBasic(TypeSignature, func(e *wire.Encoder) { e.Signature(sig) })
}

// AppendFile appends an 'h' value. The file is duplicated and the
// duplicate travels with the message as SCM_RIGHTS ancillary data;
// the wire value is the index into the message's descriptor array.
// The caller keeps ownership of f.
func (m *Message) AppendFile(f *os.File) error {
	if m.sealed {
		return ErrSealed
	}
	dup, err := dupFile(f)
	if err != nil {
		return err
	}
	idx := uint32(len(m.files))
	if err := m.appendBasic(TypeUnixFD, func(e *wire.Encoder) { e.Uint32(idx) }); err != nil {
		dup.Close()
		return err
	}
	m.files = append(m.files, dup)
	return nil
}

// Append appends each value in vs, choosing the wire type from the Go
// type: byte, bool, int16, uint16, int32, uint32, int64, uint64,
// float64, string, [ObjectPath], and *os.File are accepted.
func (m *Message) Append(vs ...any) error {
	for _, v := range vs {
		var err error
		switch v := v.(type) {
		case byte:
			err = m.AppendByte(v)
		case bool:
			err = m.AppendBool(v)
		case int16:
			err = m.AppendInt16(v)
		case uint16:
			err = m.AppendUint16(v)
		case int32:
			err = m.AppendInt32(v)
		case uint32:
			err = m.AppendUint32(v)
		case int64:
			err = m.AppendInt64(v)
		case uint64:
			err = m.AppendUint64(v)
		case float64:
			err = m.AppendFloat64(v)
		case string:
			err = m.AppendString(v)
		case ObjectPath:
			err = m.AppendObjectPath(v)
		case *os.File:
			err = m.AppendFile(v)
		default:
			err = fmt.Errorf("cannot append value of type %T", v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// OpenContainer begins a container of the given kind at the append
// cursor. contents is the container's type signature: the element
// type for [TypeArray], the field types for [TypeStruct], the key and
// value types for [TypeDictEntry], and the single contained type for
// [TypeVariant]. Each OpenContainer must be balanced by a
// [Message.CloseContainer] before the message can be sealed.
func (m *Message) OpenContainer(kind Type, contents string) error {
	if m.sealed {
		return ErrSealed
	}
	if err := validSignature(contents); err != nil {
		return err
	}
	switch kind {
	case TypeArray:
		if t, _, rest, err := firstType(contents); err != nil || t == TypeInvalid || rest != "" {
			return fmt.Errorf("array contents %q is not one complete type", contents)
		}
		if err := m.noteAppend(TypeArray, contents); err != nil {
			return err
		}
		m.enc.Pad(4)
		f := buildFrame{kind: TypeArray, contents: contents, lenOff: len(m.enc.Out)}
		m.enc.Uint32(0)
		if arrayElemAlign(contents) == 8 {
			m.enc.Pad(8)
		}
		f.start = len(m.enc.Out)
		m.frames = append(m.frames, f)
	case TypeStruct:
		if contents == "" {
			return fmt.Errorf("struct container needs contents")
		}
		if err := m.noteAppend(TypeStruct, contents); err != nil {
			return err
		}
		m.enc.Pad(8)
		m.frames = append(m.frames, buildFrame{kind: TypeStruct, contents: contents})
	case TypeDictEntry:
		if err := m.noteAppend(TypeDictEntry, contents); err != nil {
			return err
		}
		m.enc.Pad(8)
		m.frames = append(m.frames, buildFrame{kind: TypeDictEntry, contents: contents})
	case TypeVariant:
		if t, _, rest, err := firstType(contents); err != nil || t == TypeInvalid || rest != "" {
			return fmt.Errorf("variant contents %q is not one complete type", contents)
		}
		if err := m.noteAppend(TypeVariant, ""); err != nil {
			return err
		}
		m.enc.Signature(contents)
		m.frames = append(m.frames, buildFrame{kind: TypeVariant, contents: contents})
	default:
		return fmt.Errorf("cannot open container of type %s", kind)
	}
	return nil
}

// CloseContainer ends the innermost open container.
func (m *Message) CloseContainer() error {
	if m.sealed {
		return ErrSealed
	}
	if len(m.frames) < 2 {
		return fmt.Errorf("no open container to close")
	}
	f := m.topFrame()
	switch f.kind {
	case TypeArray:
		m.enc.Order.PutUint32(m.enc.Out[f.lenOff:], uint32(len(m.enc.Out)-f.start))
	case TypeStruct, TypeDictEntry, TypeVariant:
		if string(f.sig) != f.contents {
			return fmt.Errorf("%s declared contents %q but holds %q", f.kind, f.contents, f.sig)
		}
	}
	m.frames = m.frames[:len(m.frames)-1]
	return nil
}

// seal finishes the body and makes the message read-only. It fails if
// a container is still open.
func (m *Message) seal(serial uint32) error {
	if m.sealed {
		return nil
	}
	if len(m.frames) != 1 {
		return fmt.Errorf("cannot seal message with %d open containers", len(m.frames)-1)
	}
	m.serial = serial
	m.body = m.enc.Out
	m.bodySig = string(m.frames[0].sig)
	m.sealed = true
	m.enc = nil
	m.frames = nil
	return nil
}

// NewMethodReturn constructs an open reply to m, which must be a
// received method call.
func (m *Message) NewMethodReturn() (*Message, error) {
	if m.typ != MessageMethodCall {
		return nil, fmt.Errorf("cannot reply to a %s message", m.typ)
	}
	if !m.sealed {
		return nil, ErrUnsealed
	}
	ret := newMessage(m.conn, MessageMethodReturn)
	ret.replySerial = m.serial
	if m.sender != "" {
		ret.dest = busNameUnchecked(append([]byte(m.sender), 0))
	}
	return ret, nil
}

// NewMethodError constructs an error reply to m, which must be a
// received method call. The error's message text, when present,
// becomes the reply's first argument.
func (m *Message) NewMethodError(e *Error) (*Message, error) {
	ret, err := m.NewMethodReturn()
	if err != nil {
		return nil, err
	}
	if _, err := ParseInterfaceName(append([]byte(e.Name), 0)); err != nil {
		return nil, fmt.Errorf("error name %q: %w", e.Name, err)
	}
	ret.typ = MessageMethodError
	ret.errName = e.Name
	if e.Message != "" {
		if err := ret.AppendString(e.Message); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Send seals the message and queues it on the connection, expecting a
// reply. It returns the cookie that the reply will reference.
func (m *Message) Send() (uint64, error) {
	return m.conn.send(m, false)
}

// SendNoReply seals the message and queues it, telling the peer not
// to reply.
func (m *Message) SendNoReply() error {
	m.flags |= flagNoReplyExpected
	_, err := m.conn.send(m, false)
	return err
}

// SendTo sets the message's destination and sends it.
func (m *Message) SendTo(dest BusName) (uint64, error) {
	if m.sealed {
		return 0, ErrSealed
	}
	m.dest = dest
	return m.Send()
}

// Call seals the message, sends it, and blocks until the reply
// arrives or timeout elapses. A zero timeout means wait forever.
//
// An application-level failure from the peer is returned as an
// *[Error]; transport failures and timeouts are ordinary errors.
//
// Call drives the connection's dispatch loop while it waits, so other
// traffic (signals, inbound calls) continues to be handled. It must
// only be used from the goroutine that drives dispatch.
func (m *Message) Call(timeout time.Duration) (*Message, error) {
	return m.conn.call(m, timeout)
}

// CallAsync seals the message, sends it, and registers fn to be
// invoked with the reply from within a later [Conn.Process] call on
// this connection. fn runs on the goroutine calling Process, never
// concurrently with other callbacks. There is no way to cancel the
// registration short of closing the connection.
//
// A zero timeout applies the connection's default method call
// timeout. If the timeout elapses before a reply arrives, fn receives
// a synthesized method-error message carrying [ErrNameTimeout].
//
// Registration failures are reported synchronously; fn is not
// retained on error.
func (m *Message) CallAsync(fn func(*Message) error, timeout time.Duration) error {
	return m.conn.callAsync(m, fn, timeout)
}

func dupFile(f *os.File) (*os.File, error) {
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 3)
	if err != nil {
		return nil, fmt.Errorf("duplicating fd %d: %w", f.Fd(), err)
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

// arrayElemAlign returns the alignment of an array's element data,
// given the element signature.
func arrayElemAlign(elem string) int {
	switch elem[0] {
	case '(', '{':
		return 8
	default:
		return Type(elem[0]).align()
	}
}
