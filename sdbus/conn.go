package sdbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/codyps/go-systemd/id128"
	"github.com/codyps/go-systemd/sdbus/transport"
	"github.com/codyps/go-systemd/sdbus/wire"
	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"
)

const (
	busDest  = "org.freedesktop.DBus"
	busPath  = "/org/freedesktop/DBus"
	busIface = "org.freedesktop.DBus"
)

// defaultCallTimeout is applied to method calls that pass a zero
// timeout, matching the 25 second bus default.
const defaultCallTimeout = 25 * time.Second

// A Conn is a connection to a message bus.
//
// Reception is split in two. A background goroutine does nothing but
// frame complete messages off the transport into an internal queue;
// all interpretation and callback execution happens in [Conn.Process],
// on the goroutine that calls it. [Conn.Wait] blocks until Process
// has something to do. One goroutine must own this Wait/Process loop;
// sending messages is safe from any goroutine.
type Conn struct {
	t transport.Transport

	uniqueName string

	writeMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	readErr     error
	inbound     *queue.Queue[*Message]
	readable    chan struct{} // cap 1, token present while inbound may be nonempty
	lastSerial  uint32
	lastSeq     uint64
	busID       id128.ID128
	syncWait    mapset.Set[uint32]
	syncReplies map[uint32]*Message
	asyncCalls  map[uint32]*asyncCall
	objects     map[string]func(*Message) error
	matches     mapset.Set[*Slot]
}

type asyncCall struct {
	fn       func(*Message) error
	deadline time.Time
}

// Open connects to the bus a service of the invoking process's
// context would talk to: the bus named by $DBUS_STARTER_BUS_TYPE when
// set, otherwise the user bus when one is reachable, otherwise the
// system bus.
func Open(ctx context.Context) (*Conn, error) {
	switch os.Getenv("DBUS_STARTER_BUS_TYPE") {
	case "system":
		return OpenSystem(ctx)
	case "user", "session":
		return OpenUser(ctx)
	}
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") != "" || os.Getenv("XDG_RUNTIME_DIR") != "" {
		if c, err := OpenUser(ctx); err == nil {
			return c, nil
		}
	}
	return OpenSystem(ctx)
}

// OpenSystem connects to the system bus.
func OpenSystem(ctx context.Context) (*Conn, error) {
	addr := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS")
	if addr == "" {
		addr = "unix:path=/run/dbus/system_bus_socket"
	}
	return OpenAddress(ctx, addr)
}

// OpenUser connects to the invoking user's bus.
func OpenUser(ctx context.Context) (*Conn, error) {
	addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if addr == "" {
		run := os.Getenv("XDG_RUNTIME_DIR")
		if run == "" {
			return nil, errors.New("user bus not available")
		}
		addr = "unix:path=" + run + "/bus"
	}
	return OpenAddress(ctx, addr)
}

// OpenAddress connects to the bus at the given address, in D-Bus
// server address syntax.
func OpenAddress(ctx context.Context, address string) (*Conn, error) {
	t, err := transport.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		t:           t,
		inbound:     queue.New[*Message](),
		readable:    make(chan struct{}, 1),
		syncWait:    mapset.New[uint32](),
		syncReplies: map[uint32]*Message{},
		asyncCalls:  map[uint32]*asyncCall{},
		objects:     map[string]func(*Message) error{},
		matches:     mapset.New[*Slot](),
	}

	go c.readLoop()

	reply, err := c.newBusCall("Hello").Call(defaultCallTimeout)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("bus handshake: %w", err)
	}
	it, err := reply.Iter()
	if err != nil {
		c.Close()
		return nil, err
	}
	name, ok, err := it.ReadString()
	it.Close()
	if err != nil || !ok {
		c.Close()
		return nil, fmt.Errorf("bus handshake returned no name (%v)", err)
	}
	c.uniqueName = name
	return c, nil
}

// Close shuts the connection down. Blocked [Conn.Wait] and pending
// calls fail with [net.ErrClosed].
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.readErr = net.ErrClosed
	// Registered async callbacks are dropped, not invoked: there is
	// no dispatch loop left to run them on. Undelivered inbound
	// messages go with them, so Wait and Process report the close
	// instead of handing out messages from a dead connection.
	c.asyncCalls = map[uint32]*asyncCall{}
	c.syncWait.Clear()
	c.inbound.Clear()
	c.signalLocked()
	c.mu.Unlock()

	return c.t.Close()
}

// UniqueName returns the connection's unique bus name, assigned
// during the opening handshake.
func (c *Conn) UniqueName() string { return c.uniqueName }

// Fd returns the connection's transport file descriptor, for use with
// poll or select. Readability means [Conn.Process] may have work.
func (c *Conn) Fd() int { return c.t.Fd() }

// Events returns the poll events the caller should wait for on
// [Conn.Fd]. The connection writes synchronously, so this is always
// POLLIN.
func (c *Conn) Events() int16 { return unix.POLLIN }

// Timeout returns the time at which [Conn.Process] next has time-based
// work (an asynchronous call expiring), or the zero time when there is
// none.
func (c *Conn) Timeout() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextDeadlineLocked()
}

func (c *Conn) nextDeadlineLocked() time.Time {
	var next time.Time
	for _, ac := range c.asyncCalls {
		if next.IsZero() || ac.deadline.Before(next) {
			next = ac.deadline
		}
	}
	return next
}

// QueuedRead returns the number of received messages waiting to be
// dispatched by [Conn.Process].
func (c *Conn) QueuedRead() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbound.Len()
}

// QueuedWrite returns the number of messages waiting to be written.
// Sends complete before returning, so this is always zero; it exists
// to pair with [Conn.QueuedRead] in poll loops.
func (c *Conn) QueuedWrite() int { return 0 }

// BusID queries the bus daemon for its machine identity. The answer
// is cached after the first successful query.
func (c *Conn) BusID() (id128.ID128, error) {
	c.mu.Lock()
	if c.busID != (id128.ID128{}) {
		id := c.busID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()
	reply, err := c.newBusCall("GetId").Call(defaultCallTimeout)
	if err != nil {
		return id128.ID128{}, err
	}
	it, err := reply.Iter()
	if err != nil {
		return id128.ID128{}, err
	}
	defer it.Close()
	s, ok, err := it.ReadString()
	if err != nil || !ok {
		return id128.ID128{}, fmt.Errorf("GetId returned no id (%v)", err)
	}
	id, err := id128.Parse(s)
	if err != nil {
		return id128.ID128{}, err
	}
	c.mu.Lock()
	c.busID = id
	c.mu.Unlock()
	return id, nil
}

// NewMethodCall constructs an open method call message.
func (c *Conn) NewMethodCall(dest BusName, path ObjectPath, iface InterfaceName, member MemberName) *Message {
	m := newMessage(c, MessageMethodCall)
	m.dest = dest
	m.path = path
	m.iface = iface
	m.member = member
	return m
}

// NewSignal constructs an open signal message.
func (c *Conn) NewSignal(path ObjectPath, iface InterfaceName, member MemberName) *Message {
	m := newMessage(c, MessageSignal)
	m.path = path
	m.iface = iface
	m.member = member
	m.flags = flagNoReplyExpected
	return m
}

// signalLocked deposits the readable token. Callers hold c.mu.
func (c *Conn) signalLocked() {
	select {
	case c.readable <- struct{}{}:
	default:
	}
}

// send seals m, assigns its serial, and writes it to the transport.
// With wantSync set (and a reply expected), the serial is registered
// so that Process parks the reply for a synchronous caller instead of
// dispatching it.
func (c *Conn) send(m *Message, wantSync bool) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, net.ErrClosed
	}
	c.lastSerial++
	serial := c.lastSerial
	if err := m.seal(serial); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	expectReply := m.typ == MessageMethodCall && m.flags&flagNoReplyExpected == 0
	if wantSync && expectReply {
		c.syncWait.Add(serial)
	}
	c.mu.Unlock()

	bs, err := encodeMessage(m)
	if err == nil {
		c.writeMu.Lock()
		_, err = c.t.WriteWithFiles(bs, m.files)
		c.writeMu.Unlock()
	}
	if err != nil {
		c.mu.Lock()
		c.syncWait.Remove(serial)
		c.mu.Unlock()
		return 0, err
	}
	for _, f := range m.files {
		f.Close()
	}
	m.files = nil
	return uint64(serial), nil
}

func (c *Conn) call(m *Message, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	cookie64, err := c.send(m, true)
	if err != nil {
		return nil, err
	}
	cookie := uint32(cookie64)
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		reply, ok := c.syncReplies[cookie]
		if ok {
			delete(c.syncReplies, cookie)
		}
		c.mu.Unlock()
		if ok {
			if e := reply.Err(); e != nil {
				return nil, e
			}
			return reply, nil
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			c.mu.Lock()
			c.syncWait.Remove(cookie)
			delete(c.syncReplies, cookie)
			c.mu.Unlock()
			return nil, fmt.Errorf("call to %s.%s: %w", m.iface, m.member, context.DeadlineExceeded)
		}
		if _, err := c.ProcessAll(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		_, got := c.syncReplies[cookie]
		empty := c.inbound.IsEmpty()
		c.mu.Unlock()
		if got {
			continue
		}
		if empty {
			if _, err := c.Wait(remain); err != nil {
				return nil, err
			}
		}
	}
}

func (c *Conn) callAsync(m *Message, fn func(*Message) error, timeout time.Duration) error {
	if fn == nil {
		return errors.New("nil callback")
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	cookie, err := c.send(m, false)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.asyncCalls[uint32(cookie)] = &asyncCall{fn: fn, deadline: time.Now().Add(timeout)}
	c.signalLocked()
	c.mu.Unlock()
	return nil
}

// Wait blocks until the connection has work for [Conn.Process]: a
// queued inbound message, an expired asynchronous call, or a failed
// transport. It does not consume anything; it returns true as long as
// the condition holds, so a subsequent Process observes it. A zero
// timeout means wait forever; on timeout Wait returns (false, nil).
func (c *Conn) Wait(timeout time.Duration) (bool, error) {
	var overall <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		overall = t.C
	}
	for {
		c.mu.Lock()
		switch {
		case !c.inbound.IsEmpty():
			c.signalLocked()
			c.mu.Unlock()
			return true, nil
		case c.readErr != nil:
			err := c.readErr
			c.mu.Unlock()
			return false, err
		}
		next := c.nextDeadlineLocked()
		c.mu.Unlock()

		var expiry <-chan time.Time
		var expiryTimer *time.Timer
		if !next.IsZero() {
			d := time.Until(next)
			if d <= 0 {
				return true, nil
			}
			expiryTimer = time.NewTimer(d)
			expiry = expiryTimer.C
		}
		select {
		case <-c.readable:
		case <-expiry:
		case <-overall:
			if expiryTimer != nil {
				expiryTimer.Stop()
			}
			return false, nil
		}
		if expiryTimer != nil {
			expiryTimer.Stop()
		}
	}
}

// Process dispatches at most one unit of work: it pops one received
// message and routes it, or expires one overdue asynchronous call. It
// returns (false, nil, nil) when there was nothing to do. When the
// dispatched message was not consumed by a registered callback (an
// unmatched signal, or a call to an unregistered object), it is
// returned to the caller; messages a callback handled yield
// (true, nil, nil).
//
// All callbacks run here, on the calling goroutine.
func (c *Conn) Process() (bool, *Message, error) {
	c.mu.Lock()
	if c.readErr != nil && c.inbound.IsEmpty() {
		err := c.readErr
		c.mu.Unlock()
		return false, nil, err
	}
	m, ok := c.inbound.Pop()
	if !ok {
		ac, cookie := c.expiredCallLocked()
		c.mu.Unlock()
		if ac == nil {
			return false, nil, nil
		}
		timeoutMsg := &Message{
			conn:        c,
			typ:         MessageMethodError,
			replySerial: cookie,
			errName:     ErrNameTimeout,
			order:       wire.NativeEndian,
			sealed:      true,
		}
		if err := ac.fn(timeoutMsg); err != nil {
			log.Printf("dbus: async call callback: %v", err)
		}
		return true, nil, nil
	}
	if !c.inbound.IsEmpty() {
		c.signalLocked()
	}
	c.mu.Unlock()

	return c.dispatch(m)
}

// ProcessAll calls [Conn.Process] until it reports no work, returning
// the number of units dispatched. Unconsumed messages are dropped;
// callers that want them should loop over Process themselves.
func (c *Conn) ProcessAll() (int, error) {
	n := 0
	for {
		did, _, err := c.Process()
		if err != nil || !did {
			return n, err
		}
		n++
	}
}

// expiredCallLocked removes and returns one asynchronous call whose
// deadline has passed. Callers hold c.mu.
func (c *Conn) expiredCallLocked() (*asyncCall, uint32) {
	now := time.Now()
	for cookie, ac := range c.asyncCalls {
		if !ac.deadline.After(now) {
			delete(c.asyncCalls, cookie)
			return ac, cookie
		}
	}
	return nil, 0
}

func (c *Conn) dispatch(m *Message) (bool, *Message, error) {
	switch m.typ {
	case MessageMethodReturn, MessageMethodError:
		cookie := m.replySerial
		c.mu.Lock()
		if c.syncWait.Has(cookie) {
			c.syncWait.Remove(cookie)
			c.syncReplies[cookie] = m
			c.mu.Unlock()
			return true, nil, nil
		}
		ac := c.asyncCalls[cookie]
		delete(c.asyncCalls, cookie)
		c.mu.Unlock()
		if ac == nil {
			// Reply to a forgotten call.
			return true, nil, nil
		}
		if err := ac.fn(m); err != nil {
			log.Printf("dbus: async call callback: %v", err)
		}
		return true, nil, nil

	case MessageMethodCall:
		c.mu.Lock()
		handler := c.objects[m.path.String()]
		c.mu.Unlock()
		if handler == nil {
			if m.flags&flagNoReplyExpected == 0 {
				c.replyError(m, &Error{
					Name:    ErrNameUnknownObject,
					Message: fmt.Sprintf("no object at %s", m.path),
				})
			}
			return true, m, nil
		}
		if err := handler(m); err != nil {
			e := &Error{}
			if !errors.As(err, &e) {
				e = &Error{Name: ErrNameFailed, Message: err.Error()}
			}
			if m.flags&flagNoReplyExpected == 0 {
				c.replyError(m, e)
			}
		}
		return true, nil, nil

	case MessageSignal:
		c.mu.Lock()
		var targets []*Slot
		for s := range c.matches {
			if s.rule.matches(m) {
				targets = append(targets, s)
			}
		}
		c.mu.Unlock()
		for _, s := range targets {
			if err := s.fn(m); err != nil {
				log.Printf("dbus: signal callback for %q: %v", s.ruleText, err)
			}
		}
		if len(targets) == 0 {
			return true, m, nil
		}
		return true, nil, nil
	}
	return true, m, nil
}

func (c *Conn) replyError(m *Message, e *Error) {
	reply, err := m.NewMethodError(e)
	if err == nil {
		err = reply.SendNoReply()
	}
	if err != nil {
		log.Printf("dbus: sending error reply: %v", err)
	}
}

// AddObject registers fn to receive method calls addressed to path.
// The handler replies itself, via [Message.NewMethodReturn]; an error
// return makes the connection send an error reply on its behalf
// (an *[Error] travels as-is, anything else as
// org.freedesktop.DBus.Error.Failed).
func (c *Conn) AddObject(path ObjectPath, fn func(*Message) error) error {
	if fn == nil {
		return errors.New("nil handler")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.objects[path.String()]; dup {
		return fmt.Errorf("object already registered at %s", path)
	}
	c.objects[path.String()] = fn
	return nil
}

// RemoveObject unregisters the handler at path.
func (c *Conn) RemoveObject(path ObjectPath) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, path.String())
}

// readLoop frames messages off the transport into the inbound queue.
// It does no dispatching; that is Process's job.
func (c *Conn) readLoop() {
	for {
		m, err := c.readMessage()
		c.mu.Lock()
		if err != nil {
			if c.readErr == nil {
				if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
					err = net.ErrClosed
				}
				c.readErr = err
			}
			c.signalLocked()
			c.mu.Unlock()
			return
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.lastSeq++
		m.seq = c.lastSeq
		c.inbound.Add(m)
		c.signalLocked()
		c.mu.Unlock()
	}
}

// readMessage reads and decodes one complete message.
func (c *Conn) readMessage() (*Message, error) {
	var fixed [16]byte
	if _, err := io.ReadFull(c.t, fixed[:]); err != nil {
		return nil, err
	}
	order, ok := wire.OrderForFlag(fixed[0])
	if !ok {
		return nil, fmt.Errorf("unknown byte order flag %q", fixed[0])
	}
	bodyLen := int(order.Uint32(fixed[4:8]))
	fieldsLen := int(order.Uint32(fixed[12:16]))
	fieldsPadded := (fieldsLen + 7) &^ 7
	total := 16 + fieldsPadded + bodyLen
	if total > maxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds the %d byte limit", total, maxMessageSize)
	}

	buf := make([]byte, total)
	copy(buf, fixed[:])
	if _, err := io.ReadFull(c.t, buf[16:]); err != nil {
		return nil, err
	}
	recvMono, recvReal := nowUsec()

	dec := &wire.Decoder{Order: order, In: buf}
	h, err := decodeHeader(dec)
	if err != nil {
		return nil, err
	}
	if err := h.valid(); err != nil {
		return nil, err
	}
	if int(h.bodyLen) != bodyLen {
		return nil, fmt.Errorf("header claims %d body bytes, framing read %d", h.bodyLen, bodyLen)
	}
	var files []*os.File
	if h.numFDs > 0 {
		files, err = c.t.TakeFiles(int(h.numFDs))
		if err != nil {
			return nil, err
		}
	}

	m := &Message{
		conn:          c,
		typ:           h.typ,
		flags:         h.flags,
		serial:        h.serial,
		replySerial:   h.replySerial,
		sender:        h.sender,
		errName:       h.errName,
		order:         order,
		sealed:        true,
		body:          buf[dec.Pos():],
		bodySig:       h.sig,
		files:         files,
		monotonicUsec: recvMono,
		realtimeUsec:  recvReal,
	}
	if h.path != "" {
		m.path, err = ParseObjectPath(append([]byte(h.path), 0))
	}
	if err == nil && h.iface != "" {
		m.iface, err = ParseInterfaceName(append([]byte(h.iface), 0))
	}
	if err == nil && h.member != "" {
		m.member, err = ParseMemberName(append([]byte(h.member), 0))
	}
	if err == nil && h.dest != "" {
		m.dest, err = ParseBusName(append([]byte(h.dest), 0))
	}
	if err != nil {
		return nil, fmt.Errorf("message %d: %w", h.serial, err)
	}
	return m, nil
}

func nowUsec() (mono, real uint64) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err == nil {
		mono = uint64(ts.Sec)*1e6 + uint64(ts.Nsec)/1e3
	}
	real = uint64(time.Now().UnixMicro())
	return mono, real
}
