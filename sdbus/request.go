package sdbus

import "fmt"

// RequestNameFlags adjust how a bus name is acquired.
type RequestNameFlags uint32

const (
	// AllowReplacement lets a later claimant with ReplaceExisting
	// take the name away.
	AllowReplacement RequestNameFlags = 1 << iota
	// ReplaceExisting takes over the name from a current owner that
	// set AllowReplacement.
	ReplaceExisting
	// Queue waits in the daemon's ownership queue when the name is
	// taken, instead of failing.
	Queue
)

// Daemon-side request flags and response codes, from the bus
// daemon's RequestName interface.
const (
	reqFlagAllowReplacement = 0x1
	reqFlagReplaceExisting  = 0x2
	reqFlagDoNotQueue       = 0x4

	reqReplyPrimaryOwner = 1
	reqReplyInQueue      = 2
	reqReplyExists       = 3
	reqReplyAlreadyOwner = 4

	relReplyReleased    = 1
	relReplyNonExistent = 2
	relReplyNotOwner    = 3
)

func (f RequestNameFlags) daemonFlags() uint32 {
	var d uint32
	if f&AllowReplacement != 0 {
		d |= reqFlagAllowReplacement
	}
	if f&ReplaceExisting != 0 {
		d |= reqFlagReplaceExisting
	}
	if f&Queue == 0 {
		d |= reqFlagDoNotQueue
	}
	return d
}

func (c *Conn) newBusCall(member string) *Message {
	return c.NewMethodCall(MustBusName(busDest), MustObjectPath(busPath),
		MustInterfaceName(busIface), MustMemberName(member))
}

func readBusReplyUint32(reply *Message) (uint32, error) {
	it, err := reply.Iter()
	if err != nil {
		return 0, err
	}
	defer it.Close()
	v, ok, err := it.ReadUint32()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("empty reply from bus daemon")
	}
	return v, nil
}

// RequestName asks the bus daemon for ownership of name. Without the
// [Queue] flag, a name owned by another peer is an error; with it,
// the request parks in the daemon's queue and ownership arrives later
// via the NameAcquired signal.
func (c *Conn) RequestName(name BusName, flags RequestNameFlags) error {
	if name.IsUnique() {
		return fmt.Errorf("cannot request unique name %s", name)
	}
	m := c.newBusCall("RequestName")
	if err := m.Append(name.String(), flags.daemonFlags()); err != nil {
		return err
	}
	reply, err := m.Call(defaultCallTimeout)
	if err != nil {
		return err
	}
	code, err := readBusReplyUint32(reply)
	if err != nil {
		return err
	}
	switch code {
	case reqReplyPrimaryOwner, reqReplyAlreadyOwner:
		return nil
	case reqReplyInQueue:
		if flags&Queue != 0 {
			return nil
		}
		return fmt.Errorf("request for %s unexpectedly queued", name)
	case reqReplyExists:
		return fmt.Errorf("name %s already has an owner", name)
	default:
		return fmt.Errorf("RequestName returned unknown code %d", code)
	}
}

// RequestNameAsync is [Conn.RequestName] without waiting for the
// daemon's answer: fn receives the reply from a later [Conn.Process].
func (c *Conn) RequestNameAsync(name BusName, flags RequestNameFlags, fn func(*Message) error) error {
	if name.IsUnique() {
		return fmt.Errorf("cannot request unique name %s", name)
	}
	m := c.newBusCall("RequestName")
	if err := m.Append(name.String(), flags.daemonFlags()); err != nil {
		return err
	}
	return m.CallAsync(fn, 0)
}

// ReleaseName gives up ownership of (or a queued claim to) name.
func (c *Conn) ReleaseName(name BusName) error {
	m := c.newBusCall("ReleaseName")
	if err := m.AppendString(name.String()); err != nil {
		return err
	}
	reply, err := m.Call(defaultCallTimeout)
	if err != nil {
		return err
	}
	code, err := readBusReplyUint32(reply)
	if err != nil {
		return err
	}
	switch code {
	case relReplyReleased:
		return nil
	case relReplyNonExistent:
		return fmt.Errorf("name %s does not exist", name)
	case relReplyNotOwner:
		return fmt.Errorf("not the owner of %s", name)
	default:
		return fmt.Errorf("ReleaseName returned unknown code %d", code)
	}
}

// ListNames returns the names currently present on the bus, unique
// and well-known alike.
func (c *Conn) ListNames() ([]string, error) {
	reply, err := c.newBusCall("ListNames").Call(defaultCallTimeout)
	if err != nil {
		return nil, err
	}
	it, err := reply.Iter()
	if err != nil {
		return nil, err
	}
	defer it.Close()
	if ok, err := it.Enter(TypeArray, "s"); err != nil || !ok {
		return nil, fmt.Errorf("unexpected ListNames reply shape (%v)", err)
	}
	var names []string
	for {
		s, ok, err := it.ReadString()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		names = append(names, s)
	}
	return names, it.Exit()
}

// NameHasOwner reports whether name currently has an owner on the
// bus.
func (c *Conn) NameHasOwner(name BusName) (bool, error) {
	m := c.newBusCall("NameHasOwner")
	if err := m.AppendString(name.String()); err != nil {
		return false, err
	}
	reply, err := m.Call(defaultCallTimeout)
	if err != nil {
		return false, err
	}
	it, err := reply.Iter()
	if err != nil {
		return false, err
	}
	defer it.Close()
	v, ok, err := it.ReadBool()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("empty reply from bus daemon")
	}
	return v, nil
}

// GetNameOwner returns the unique name of the peer that owns name.
func (c *Conn) GetNameOwner(name BusName) (string, error) {
	m := c.newBusCall("GetNameOwner")
	if err := m.AppendString(name.String()); err != nil {
		return "", err
	}
	reply, err := m.Call(defaultCallTimeout)
	if err != nil {
		return "", err
	}
	it, err := reply.Iter()
	if err != nil {
		return "", err
	}
	defer it.Close()
	v, ok, err := it.ReadString()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("empty reply from bus daemon")
	}
	return v, nil
}
