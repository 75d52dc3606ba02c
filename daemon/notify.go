// Package daemon implements the service manager integration
// protocols: readiness notification, socket activation and the
// watchdog.
package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Well-formed state strings for [Notify].
const (
	StateReady     = "READY=1"
	StateReloading = "RELOADING=1"
	StateStopping  = "STOPPING=1"
	StateWatchdog  = "WATCHDOG=1"
)

// StateStatus formats a STATUS= state line.
func StateStatus(status string) string { return "STATUS=" + status }

// StateErrno formats an ERRNO= state line.
func StateErrno(errno int) string { return "ERRNO=" + strconv.Itoa(errno) }

// StateMainPID formats a MAINPID= state line.
func StateMainPID(pid int) string { return "MAINPID=" + strconv.Itoa(pid) }

// ErrNoNotifySocket is returned when $NOTIFY_SOCKET is not set, i.e.
// when the process was not started by a service manager that expects
// notifications.
var ErrNoNotifySocket = errors.New("notify socket not available")

// Notify sends state lines to the service manager over the socket
// named by $NOTIFY_SOCKET. With unsetEnv set, the variable is removed
// so that child processes cannot notify on this service's behalf.
func Notify(unsetEnv bool, state ...string) error {
	return notify(unsetEnv, 0, nil, state)
}

// PidNotify is [Notify] on behalf of another process, typically a
// forked-off main process whose pid was announced with MAINPID=.
func PidNotify(unsetEnv bool, pid int, state ...string) error {
	return notify(unsetEnv, pid, nil, state)
}

// NotifyWithFds is [Notify] carrying file descriptors, for use with
// FDSTORE=1 state to park descriptors in the service manager across
// restarts.
func NotifyWithFds(unsetEnv bool, files []*os.File, state ...string) error {
	return notify(unsetEnv, 0, files, state)
}

func notify(unsetEnv bool, pid int, files []*os.File, state []string) error {
	path := os.Getenv("NOTIFY_SOCKET")
	if unsetEnv {
		defer os.Unsetenv("NOTIFY_SOCKET")
	}
	if path == "" {
		return ErrNoNotifySocket
	}
	if path[0] != '@' && path[0] != '/' {
		return fmt.Errorf("unsupported notify socket %q", path)
	}
	if path[0] == '@' {
		// Abstract namespace sockets spell their leading NUL as '@'
		// in the environment.
		path = "\x00" + path[1:]
	}
	if len(state) == 0 {
		return errors.New("no state to send")
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Net: "unixgram", Name: path})
	if err != nil {
		return err
	}
	defer conn.Close()

	msg := []byte(strings.Join(state, "\n"))
	var oob []byte
	if len(files) > 0 {
		fds := make([]int, len(files))
		for i, f := range files {
			fds[i] = int(f.Fd())
		}
		oob = unix.UnixRights(fds...)
	}
	if pid > 0 && pid != os.Getpid() {
		ucred := unix.Ucred{Pid: int32(pid), Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
		oob = append(oob, unix.UnixCredentials(&ucred)...)
	}
	if len(oob) == 0 {
		_, err = conn.Write(msg)
		return err
	}
	_, _, err = conn.WriteMsgUnix(msg, oob, nil)
	return err
}

// Booted reports whether the system was booted with systemd as its
// init.
func Booted() (bool, error) {
	_, err := os.Lstat("/run/systemd/system")
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// WatchdogEnabled reports the watchdog keep-alive interval the
// service manager expects, or 0 when no watchdog is configured for
// this process. Services should send [StateWatchdog] at half the
// returned interval. With unsetEnv set, the watchdog variables are
// removed after reading.
func WatchdogEnabled(unsetEnv bool) (time.Duration, error) {
	if unsetEnv {
		defer os.Unsetenv("WATCHDOG_USEC")
		defer os.Unsetenv("WATCHDOG_PID")
	}
	usecStr := os.Getenv("WATCHDOG_USEC")
	if usecStr == "" {
		return 0, nil
	}
	usec, err := strconv.ParseUint(usecStr, 10, 64)
	if err != nil || usec == 0 {
		return 0, fmt.Errorf("malformed WATCHDOG_USEC %q", usecStr)
	}
	if pidStr := os.Getenv("WATCHDOG_PID"); pidStr != "" {
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			return 0, fmt.Errorf("malformed WATCHDOG_PID %q", pidStr)
		}
		if pid != os.Getpid() {
			return 0, nil
		}
	}
	return time.Duration(usec) * time.Microsecond, nil
}
