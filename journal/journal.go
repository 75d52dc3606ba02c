// Package journal writes log entries to the systemd journal using
// its native wire protocol.
package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// A Priority is a syslog-compatible severity level.
type Priority int

const (
	PriEmerg Priority = iota
	PriAlert
	PriCrit
	PriErr
	PriWarning
	PriNotice
	PriInfo
	PriDebug
)

const journalSocket = "/run/systemd/journal/socket"

var conn = sync.OnceValue(func() *net.UnixConn {
	autobind := &net.UnixAddr{Net: "unixgram", Name: ""}
	c, err := net.ListenUnixgram("unixgram", autobind)
	if err != nil {
		return nil
	}
	return c
})

// Enabled reports whether the journal's native socket is reachable
// from this process.
func Enabled() bool {
	if conn() == nil {
		return false
	}
	_, err := os.Stat(journalSocket)
	return err == nil
}

// Print writes a formatted message to the journal at the given
// priority.
func Print(priority Priority, format string, args ...any) error {
	return Send(fmt.Sprintf(format, args...), priority, nil)
}

// Send writes an entry to the journal. fields carries additional
// journal fields; keys must consist of uppercase letters, digits and
// underscores, not start with a digit, and not use the leading
// underscore that journald reserves for fields it adds itself.
// MESSAGE and PRIORITY come from the explicit arguments.
func Send(message string, priority Priority, fields map[string]string) error {
	c := conn()
	if c == nil {
		return errors.New("journal socket not available")
	}

	var buf bytes.Buffer
	appendField(&buf, "PRIORITY", strconv.Itoa(int(priority)))
	appendField(&buf, "MESSAGE", message)
	for k, v := range fields {
		if err := validField(k); err != nil {
			return err
		}
		appendField(&buf, k, v)
	}

	addr := &net.UnixAddr{Net: "unixgram", Name: journalSocket}
	_, _, err := c.WriteMsgUnix(buf.Bytes(), nil, addr)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EMSGSIZE) && !errors.Is(err, unix.ENOBUFS) {
		return err
	}
	// The datagram is too large for the socket. Journald accepts
	// oversized entries as a sealed memfd passed over SCM_RIGHTS.
	fd, err := unix.MemfdCreate("journal-entry", unix.MFD_ALLOW_SEALING|unix.MFD_CLOEXEC)
	if err != nil {
		return err
	}
	f := os.NewFile(uintptr(fd), "journal-entry")
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS,
		unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_WRITE|unix.F_SEAL_SEAL); err != nil {
		return err
	}
	rights := unix.UnixRights(int(f.Fd()))
	_, _, err = c.WriteMsgUnix(nil, rights, addr)
	return err
}

// appendField serializes one field. Values without newlines use the
// KEY=value form; values with newlines use the binary-safe form with
// a little-endian 64-bit length.
func appendField(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	if !strings.Contains(value, "\n") {
		buf.WriteByte('=')
		buf.WriteString(value)
		buf.WriteByte('\n')
		return
	}
	buf.WriteByte('\n')
	var ln [8]byte
	binary.LittleEndian.PutUint64(ln[:], uint64(len(value)))
	buf.Write(ln[:])
	buf.WriteString(value)
	buf.WriteByte('\n')
}

func validField(key string) error {
	if key == "" || len(key) > 64 {
		return fmt.Errorf("journal field name %q has bad length", key)
	}
	if key[0] == '_' {
		return fmt.Errorf("journal field name %q uses the reserved '_' prefix", key)
	}
	if key[0] >= '0' && key[0] <= '9' {
		return fmt.Errorf("journal field name %q starts with a digit", key)
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return fmt.Errorf("journal field name %q contains %q", key, c)
		}
	}
	return nil
}

// StderrIsJournal reports whether this process's stderr is connected
// to the journal, per the $JOURNAL_STREAM protocol. Services use it
// to skip duplicate native logging.
func StderrIsJournal() bool {
	env := os.Getenv("JOURNAL_STREAM")
	devStr, inoStr, ok := strings.Cut(env, ":")
	if !ok {
		return false
	}
	dev, err1 := strconv.ParseUint(devStr, 10, 64)
	ino, err2 := strconv.ParseUint(inoStr, 10, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	var st unix.Stat_t
	if err := unix.Fstat(2, &st); err != nil {
		return false
	}
	return st.Dev == dev && st.Ino == ino
}
