package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// listenFdsStart is the first descriptor number the service manager
// uses when passing sockets: stdin, stdout and stderr come first.
const listenFdsStart = 3

// ListenFds returns the descriptors passed by the service manager for
// socket activation, in declaration order. Each file's name is taken
// from $LISTEN_FDNAMES when provided. With unsetEnv set, the
// activation variables are removed so that the descriptors are not
// offered again to child processes.
//
// Descriptors passed for some other process (per $LISTEN_PID) yield
// an empty result, not an error.
func ListenFds(unsetEnv bool) ([]*os.File, error) {
	if unsetEnv {
		defer os.Unsetenv("LISTEN_PID")
		defer os.Unsetenv("LISTEN_FDS")
		defer os.Unsetenv("LISTEN_FDNAMES")
	}
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("malformed LISTEN_PID %q", pidStr)
	}
	if pid != os.Getpid() {
		return nil, nil
	}
	nfds, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil || nfds < 0 {
		return nil, fmt.Errorf("malformed LISTEN_FDS %q", os.Getenv("LISTEN_FDS"))
	}
	names := strings.Split(os.Getenv("LISTEN_FDNAMES"), ":")

	files := make([]*os.File, 0, nfds)
	for i := range nfds {
		fd := listenFdsStart + i
		unix.CloseOnExec(fd)
		name := "LISTEN_FD_" + strconv.Itoa(fd)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		files = append(files, os.NewFile(uintptr(fd), name))
	}
	return files, nil
}

// IsSocket reports whether f is a socket, optionally constrained to a
// socket type (unix.SOCK_STREAM, unix.SOCK_DGRAM, ...; 0 for any) and
// listening state (-1 for either, 0 for not listening, 1 for
// listening).
func IsSocket(f *os.File, socketType int, listening int) (bool, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return false, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return false, nil
	}
	if socketType != 0 {
		ty, err := unix.GetsockoptInt(int(f.Fd()), unix.SOL_SOCKET, unix.SO_TYPE)
		if err != nil {
			return false, err
		}
		if ty != socketType {
			return false, nil
		}
	}
	if listening >= 0 {
		accepting, err := unix.GetsockoptInt(int(f.Fd()), unix.SOL_SOCKET, unix.SO_ACCEPTCONN)
		if err != nil {
			return false, err
		}
		if (accepting != 0) != (listening != 0) {
			return false, nil
		}
	}
	return true, nil
}

// IsSocketUnix is [IsSocket] additionally constrained to the AF_UNIX
// family, and optionally to a socket path ("" for any, "@..." for
// abstract).
func IsSocketUnix(f *os.File, socketType int, listening int, path string) (bool, error) {
	ok, err := IsSocket(f, socketType, listening)
	if err != nil || !ok {
		return ok, err
	}
	sa, err := unix.Getsockname(int(f.Fd()))
	if err != nil {
		return false, err
	}
	ua, ok := sa.(*unix.SockaddrUnix)
	if !ok {
		return false, nil
	}
	if path == "" {
		return true, nil
	}
	want := path
	if strings.HasPrefix(want, "@") {
		want = "\x00" + want[1:]
	}
	return ua.Name == want, nil
}

// IsSocketInet is [IsSocket] additionally constrained to the AF_INET
// or AF_INET6 families, and optionally to a port (0 for any).
func IsSocketInet(f *os.File, socketType int, listening int, port uint16) (bool, error) {
	ok, err := IsSocket(f, socketType, listening)
	if err != nil || !ok {
		return ok, err
	}
	sa, err := unix.Getsockname(int(f.Fd()))
	if err != nil {
		return false, err
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return port == 0 || sa.Port == int(port), nil
	case *unix.SockaddrInet6:
		return port == 0 || sa.Port == int(port), nil
	}
	return false, nil
}

// IsFIFO reports whether f is a FIFO, optionally at the given path
// ("" for any).
func IsFIFO(f *os.File, path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return false, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		return false, nil
	}
	if path == "" {
		return true, nil
	}
	var pst unix.Stat_t
	if err := unix.Stat(path, &pst); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return st.Dev == pst.Dev && st.Ino == pst.Ino, nil
}
