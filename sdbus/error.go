package sdbus

import (
	"errors"
	"fmt"
)

// Well-known error names defined by the D-Bus specification. Method
// handlers may return an [Error] with one of these names, or any
// name matching the interface name grammar.
const (
	ErrNameFailed        = "org.freedesktop.DBus.Error.Failed"
	ErrNameNoMemory      = "org.freedesktop.DBus.Error.NoMemory"
	ErrNameNoReply       = "org.freedesktop.DBus.Error.NoReply"
	ErrNameTimeout       = "org.freedesktop.DBus.Error.Timeout"
	ErrNameUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameUnknownObject = "org.freedesktop.DBus.Error.UnknownObject"
	ErrNameInvalidArgs   = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrNameDisconnected  = "org.freedesktop.DBus.Error.Disconnected"
)

// An Error is the structured failure carried by a method-error reply:
// an error name in the interface name grammar, plus an optional
// human-readable message.
//
// Receiving one from [Message.Call] means the round trip itself
// succeeded and the remote peer (or the bus daemon) answered with an
// application-level failure. Transport failures are reported as
// ordinary I/O errors instead.
type Error struct {
	// Name identifies the error, e.g.
	// "org.freedesktop.DBus.Error.UnknownMethod".
	Name string
	// Message optionally explains the error in prose.
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dbus error: %s", e.Name)
	}
	return fmt.Sprintf("dbus error: %s: %s", e.Name, e.Message)
}

// Is matches any *Error with the same name, so that callers can write
// errors.Is(err, &Error{Name: ErrNameUnknownMethod}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Name == t.Name
}

// Errorf constructs an Error with a formatted message.
func Errorf(name, format string, args ...any) *Error {
	return &Error{Name: name, Message: fmt.Sprintf(format, args...)}
}

// Sentinel errors for message lifecycle misuse.
var (
	// ErrSealed is returned when appending to a message that has
	// already been sealed for transmission.
	ErrSealed = errors.New("message is sealed")
	// ErrUnsealed is returned when reading from a message that has
	// not been sealed yet.
	ErrUnsealed = errors.New("message is not sealed")
	// ErrIterLive is returned by [Message.Iter] while a previous
	// iterator on the same message has not been closed.
	ErrIterLive = errors.New("message already has a live iterator")
)

// A TypeMismatchError is returned when a read requests a value of a
// different wire type than the one at the iterator's position. It is
// distinct from exhaustion: reading past the last value reports
// "no more values" rather than an error.
type TypeMismatchError struct {
	Want Type
	Got  Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("wire type mismatch: want %s, message holds %s", e.Want, e.Got)
}
