package sdbus

import (
	"errors"
	"testing"

	"github.com/codyps/go-systemd/sdbus/wire"
	"github.com/google/go-cmp/cmp"
)

func buildCall(t *testing.T, build func(*Message)) *Message {
	t.Helper()
	m := newMessage(nil, MessageMethodCall)
	m.dest = MustBusName("org.example.Dest")
	m.path = MustObjectPath("/org/example")
	m.iface = MustInterfaceName("org.example.Iface")
	m.member = MustMemberName("Frob")
	build(m)
	if err := m.seal(1); err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	return m
}

func TestMessageLoopback(t *testing.T) {
	m := buildCall(t, func(m *Message) {
		if err := m.Append(byte(7), true, int32(-12), "hello", uint64(1<<40), 0.25); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if err := m.AppendObjectPath(MustObjectPath("/a/b")); err != nil {
			t.Fatalf("AppendObjectPath failed: %v", err)
		}
		if err := m.AppendSignature("a{sv}"); err != nil {
			t.Fatalf("AppendSignature failed: %v", err)
		}
	})

	if got, want := m.Signature(), "ybistdog"; got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}

	it, err := m.Iter()
	if err != nil {
		t.Fatalf("Iter failed: %v", err)
	}
	defer it.Close()

	var (
		b  byte
		bl bool
		i  int32
		s  string
		u  uint64
		f  float64
		p  ObjectPath
	)
	if ok, err := it.Read(&b, &bl, &i, &s, &u, &f, &p); err != nil || !ok {
		t.Fatalf("Read failed: ok=%v err=%v", ok, err)
	}
	// A *string destination reads 's'; the trailing value is a 'g' and
	// needs the typed read.
	sig, ok, err := it.ReadSignature()
	if err != nil || !ok {
		t.Fatalf("ReadSignature failed: ok=%v err=%v", ok, err)
	}
	if b != 7 || !bl || i != -12 || s != "hello" || u != 1<<40 || f != 0.25 ||
		p.String() != "/a/b" || sig != "a{sv}" {
		t.Errorf("read back %v %v %v %q %v %v %q %q", b, bl, i, s, u, f, p, sig)
	}
	if _, ok, _ := it.ReadByte(); ok {
		t.Error("read past the end of the body succeeded")
	}
}

func TestMessageContainers(t *testing.T) {
	m := buildCall(t, func(m *Message) {
		if err := m.OpenContainer(TypeArray, "(is)"); err != nil {
			t.Fatalf("open array: %v", err)
		}
		for i, s := range []string{"a", "b"} {
			if err := m.OpenContainer(TypeStruct, "is"); err != nil {
				t.Fatalf("open struct: %v", err)
			}
			if err := m.Append(int32(i), s); err != nil {
				t.Fatalf("append element: %v", err)
			}
			if err := m.CloseContainer(); err != nil {
				t.Fatalf("close struct: %v", err)
			}
		}
		if err := m.CloseContainer(); err != nil {
			t.Fatalf("close array: %v", err)
		}
		if err := m.OpenContainer(TypeVariant, "u"); err != nil {
			t.Fatalf("open variant: %v", err)
		}
		if err := m.AppendUint32(99); err != nil {
			t.Fatalf("append variant value: %v", err)
		}
		if err := m.CloseContainer(); err != nil {
			t.Fatalf("close variant: %v", err)
		}
	})

	if got, want := m.Signature(), "a(is)v"; got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}

	it, err := m.Iter()
	if err != nil {
		t.Fatalf("Iter failed: %v", err)
	}
	defer it.Close()

	if typ, contents, err := it.PeekType(); err != nil || typ != TypeArray || contents != "(is)" {
		t.Fatalf("PeekType() = %v %q %v, want array (is)", typ, contents, err)
	}
	if ok, err := it.Enter(TypeArray, "(is)"); err != nil || !ok {
		t.Fatalf("Enter array: ok=%v err=%v", ok, err)
	}
	type elem struct {
		I int32
		S string
	}
	var got []elem
	for {
		ok, err := it.Enter(TypeStruct, "is")
		if err != nil {
			t.Fatalf("Enter struct: %v", err)
		}
		if !ok {
			break
		}
		var e elem
		if ok, err := it.Read(&e.I, &e.S); err != nil || !ok {
			t.Fatalf("read struct fields: ok=%v err=%v", ok, err)
		}
		if err := it.Exit(); err != nil {
			t.Fatalf("Exit struct: %v", err)
		}
		got = append(got, e)
	}
	if err := it.Exit(); err != nil {
		t.Fatalf("Exit array: %v", err)
	}
	want := []elem{{0, "a"}, {1, "b"}}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("array mismatch (-got+want):\n%s", diff)
	}

	if ok, err := it.Enter(TypeVariant, ""); err != nil || !ok {
		t.Fatalf("Enter variant: ok=%v err=%v", ok, err)
	}
	if v, ok, err := it.ReadUint32(); err != nil || !ok || v != 99 {
		t.Fatalf("variant value = %v ok=%v err=%v, want 99", v, ok, err)
	}
	if err := it.Exit(); err != nil {
		t.Fatalf("Exit variant: %v", err)
	}
}

func TestMessageAppendErrors(t *testing.T) {
	m := newMessage(nil, MessageMethodCall)
	if err := m.OpenContainer(TypeArray, "i"); err != nil {
		t.Fatalf("open array: %v", err)
	}
	if err := m.AppendString("nope"); err == nil {
		t.Error("appended a string to an array of i")
	}
	if err := m.seal(1); err == nil {
		t.Error("sealed a message with an open container")
	}
	if err := m.CloseContainer(); err != nil {
		t.Fatalf("close array: %v", err)
	}
	if err := m.seal(1); err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if err := m.AppendUint32(1); !errors.Is(err, ErrSealed) {
		t.Errorf("append to sealed message: %v, want ErrSealed", err)
	}

	if _, err := m.Iter(); err != nil {
		t.Fatalf("Iter failed: %v", err)
	}
	if _, err := m.Iter(); !errors.Is(err, ErrIterLive) {
		t.Errorf("second Iter: %v, want ErrIterLive", err)
	}
}

func TestMessageTypeMismatch(t *testing.T) {
	m := buildCall(t, func(m *Message) {
		if err := m.AppendUint32(5); err != nil {
			t.Fatal(err)
		}
	})
	it, err := m.Iter()
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	_, _, err = it.ReadString()
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("ReadString on u = %v, want TypeMismatchError", err)
	}
	if tm.Want != TypeString || tm.Got != TypeUint32 {
		t.Errorf("mismatch = want %v got %v", tm.Want, tm.Got)
	}
	// The failed read must not consume the value.
	if v, ok, err := it.ReadUint32(); err != nil || !ok || v != 5 {
		t.Errorf("ReadUint32 after mismatch = %v ok=%v err=%v", v, ok, err)
	}
}

func TestMessageWireRoundTrip(t *testing.T) {
	m := buildCall(t, func(m *Message) {
		if err := m.Append("payload", uint32(4242)); err != nil {
			t.Fatal(err)
		}
	})
	bs, err := encodeMessage(m)
	if err != nil {
		t.Fatalf("encodeMessage failed: %v", err)
	}

	dec := &wire.Decoder{Order: wire.NativeEndian, In: bs}
	h, err := decodeHeader(dec)
	if err != nil {
		t.Fatalf("decodeHeader failed: %v", err)
	}
	if err := h.valid(); err != nil {
		t.Errorf("decoded header invalid: %v", err)
	}
	if h.typ != MessageMethodCall || h.serial != 1 {
		t.Errorf("header type/serial = %v/%d", h.typ, h.serial)
	}
	if h.path != "/org/example" || h.iface != "org.example.Iface" || h.member != "Frob" || h.dest != "org.example.Dest" {
		t.Errorf("header fields = %q %q %q %q", h.path, h.iface, h.member, h.dest)
	}
	if h.sig != "su" {
		t.Errorf("header signature = %q, want su", h.sig)
	}
	body := bs[dec.Pos():]
	if int(h.bodyLen) != len(body) {
		t.Fatalf("bodyLen = %d, body is %d bytes", h.bodyLen, len(body))
	}

	in := &Message{
		typ:     h.typ,
		serial:  h.serial,
		order:   dec.Order,
		sealed:  true,
		body:    body,
		bodySig: h.sig,
	}
	it, err := in.Iter()
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	var s string
	var u uint32
	if ok, err := it.Read(&s, &u); err != nil || !ok {
		t.Fatalf("reading decoded body: ok=%v err=%v", ok, err)
	}
	if s != "payload" || u != 4242 {
		t.Errorf("decoded body = %q %d", s, u)
	}
}

func TestHeaderSkipsUnknownFields(t *testing.T) {
	m := buildCall(t, func(m *Message) {})

	// Build a header with an extra field code 200
	// carrying a variant string, which a decoder must skip.
	e := &wire.Encoder{Order: m.order}
	e.ByteOrderFlag()
	e.Uint8(byte(m.typ))
	e.Uint8(m.flags)
	e.Uint8(protocolVersion)
	e.Uint32(0)
	e.Uint32(m.serial)
	e.Array(true, func() error {
		field := func(code byte, sig string, val func()) {
			e.Struct(func() error {
				e.Uint8(code)
				e.Signature(sig)
				val()
				return nil
			})
		}
		field(200, "s", func() { e.String("from the future") })
		field(fieldPath, "o", func() { e.String(m.path.String()) })
		field(fieldMember, "s", func() { e.String(m.member.String()) })
		return nil
	})
	e.Pad(8)

	dec := &wire.Decoder{Order: wire.NativeEndian, In: e.Out}
	h, err := decodeHeader(dec)
	if err != nil {
		t.Fatalf("decodeHeader with unknown field failed: %v", err)
	}
	if h.path != m.path.String() || h.member != m.member.String() {
		t.Errorf("fields after skip = %q %q", h.path, h.member)
	}
}

func TestMethodErrorReply(t *testing.T) {
	call := buildCall(t, func(m *Message) {})
	call.sender = ":1.7"

	reply, err := call.NewMethodError(&Error{Name: ErrNameUnknownMethod, Message: "no Frob here"})
	if err != nil {
		t.Fatalf("NewMethodError failed: %v", err)
	}
	if err := reply.seal(2); err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if reply.Type() != MessageMethodError {
		t.Errorf("reply type = %v", reply.Type())
	}
	if reply.ReplyCookie() != call.Cookie() {
		t.Errorf("reply cookie = %d, want %d", reply.ReplyCookie(), call.Cookie())
	}
	if reply.Destination().String() != ":1.7" {
		t.Errorf("reply destination = %q", reply.Destination())
	}
	e := reply.Err()
	if e == nil || e.Name != ErrNameUnknownMethod || e.Message != "no Frob here" {
		t.Errorf("reply.Err() = %+v", e)
	}
	if !errors.Is(e, &Error{Name: ErrNameUnknownMethod}) {
		t.Error("errors.Is does not match by name")
	}
}
