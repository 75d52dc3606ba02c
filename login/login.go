// Package login answers seat, session and user questions the way
// logind tracks them, by reading the control group of a process and
// logind's runtime state files under /run/systemd.
package login

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Overridden in tests.
var (
	procDir = "/proc"
	runDir  = "/run/systemd"
)

// cgroupOf returns the systemd-managed cgroup path of pid (the
// name=systemd or unified hierarchy entry). pid 0 means the calling
// process.
func cgroupOf(pid int) (string, error) {
	dir := strconv.Itoa(pid)
	if pid == 0 {
		dir = "self"
	}
	f, err := os.Open(path.Join(procDir, dir, "cgroup"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		// hierarchy-ID:controller-list:cgroup-path
		parts := strings.SplitN(sc.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[1] == "" || parts[1] == "name=systemd" {
			return parts[2], nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("pid %d has no systemd cgroup", pid)
}

// PidGetSession returns the login session identifier of pid, or an
// error when the process is not part of a login session.
func PidGetSession(pid int) (string, error) {
	cg, err := cgroupOf(pid)
	if err != nil {
		return "", err
	}
	for _, elem := range strings.Split(cg, "/") {
		if id, ok := strings.CutPrefix(elem, "session-"); ok {
			if id, ok := strings.CutSuffix(id, ".scope"); ok {
				return unescapeCgroup(id), nil
			}
		}
	}
	return "", fmt.Errorf("pid %d is not in a login session", pid)
}

// PidGetOwnerUID returns the uid of the user whose slice pid runs
// under.
func PidGetOwnerUID(pid int) (int, error) {
	cg, err := cgroupOf(pid)
	if err != nil {
		return 0, err
	}
	for _, elem := range strings.Split(cg, "/") {
		if s, ok := strings.CutPrefix(elem, "user-"); ok {
			if s, ok := strings.CutSuffix(s, ".slice"); ok {
				uid, err := strconv.Atoi(s)
				if err != nil {
					return 0, fmt.Errorf("malformed user slice %q", elem)
				}
				return uid, nil
			}
		}
	}
	return 0, fmt.Errorf("pid %d does not run under a user slice", pid)
}

// PidGetUnit returns the system unit pid belongs to.
func PidGetUnit(pid int) (string, error) {
	cg, err := cgroupOf(pid)
	if err != nil {
		return "", err
	}
	elems := strings.Split(cg, "/")
	// The unit is the outermost unit-suffixed element outside any
	// user manager subtree.
	for i, elem := range elems {
		if strings.HasPrefix(elem, "user@") {
			break
		}
		if isUnitName(elem) && !strings.HasSuffix(elem, ".slice") {
			return unescapeCgroup(elems[i]), nil
		}
	}
	return "", fmt.Errorf("pid %d does not belong to a system unit", pid)
}

// PidGetUserUnit returns the user-manager unit pid belongs to.
func PidGetUserUnit(pid int) (string, error) {
	cg, err := cgroupOf(pid)
	if err != nil {
		return "", err
	}
	elems := strings.Split(cg, "/")
	seenManager := false
	for _, elem := range elems {
		if strings.HasPrefix(elem, "user@") {
			seenManager = true
			continue
		}
		if seenManager && isUnitName(elem) && !strings.HasSuffix(elem, ".slice") {
			return unescapeCgroup(elem), nil
		}
	}
	return "", fmt.Errorf("pid %d does not belong to a user unit", pid)
}

// PidGetCgroup returns the systemd cgroup path of pid.
func PidGetCgroup(pid int) (string, error) {
	return cgroupOf(pid)
}

// PidGetSlice returns the innermost system slice pid runs in.
func PidGetSlice(pid int) (string, error) {
	cg, err := cgroupOf(pid)
	if err != nil {
		return "", err
	}
	slice := "-.slice"
	for _, elem := range strings.Split(cg, "/") {
		if strings.HasPrefix(elem, "user@") {
			break
		}
		if strings.HasSuffix(elem, ".slice") {
			slice = unescapeCgroup(elem)
		}
	}
	return slice, nil
}

// PidGetUserSlice returns the innermost slice of pid's user manager
// subtree.
func PidGetUserSlice(pid int) (string, error) {
	cg, err := cgroupOf(pid)
	if err != nil {
		return "", err
	}
	seenManager := false
	slice := ""
	for _, elem := range strings.Split(cg, "/") {
		if strings.HasPrefix(elem, "user@") {
			seenManager = true
			continue
		}
		if seenManager && strings.HasSuffix(elem, ".slice") {
			slice = unescapeCgroup(elem)
		}
	}
	if !seenManager {
		return "", fmt.Errorf("pid %d does not run under a user manager", pid)
	}
	if slice == "" {
		slice = "-.slice"
	}
	return slice, nil
}

// PidGetMachineName returns the name of the registered machine pid
// runs in, or an error when it runs on the host.
func PidGetMachineName(pid int) (string, error) {
	cg, err := cgroupOf(pid)
	if err != nil {
		return "", err
	}
	for _, elem := range strings.Split(cg, "/") {
		if s, ok := strings.CutPrefix(elem, "machine-"); ok {
			if s, ok := strings.CutSuffix(s, ".scope"); ok {
				return unescapeCgroup(s), nil
			}
		}
	}
	return "", fmt.Errorf("pid %d does not run in a machine", pid)
}

func isUnitName(s string) bool {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 {
		return false
	}
	switch s[i+1:] {
	case "service", "socket", "target", "mount", "swap", "device", "path",
		"timer", "scope", "slice":
		return true
	}
	return false
}

// unescapeCgroup undoes the \xNN escaping systemd applies to unit
// names in cgroup paths.
func unescapeCgroup(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// sessionFile reads logind's state file for a session into a
// key/value map. The file uses shell-style KEY=value lines, with
// optional double quoting.
func sessionFile(id string) (map[string]string, error) {
	f, err := os.Open(path.Join(runDir, "sessions", id))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kv := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		kv[k] = v
	}
	return kv, sc.Err()
}

func sessionField(id, key string) (string, error) {
	kv, err := sessionFile(id)
	if err != nil {
		return "", err
	}
	v, ok := kv[key]
	if !ok {
		return "", fmt.Errorf("session %s has no %s", id, key)
	}
	return v, nil
}

// SessionGetUID returns the uid of the user the session belongs to.
func SessionGetUID(id string) (int, error) {
	v, err := sessionField(id, "UID")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// SessionGetSeat returns the seat the session is attached to, or an
// error for seatless sessions.
func SessionGetSeat(id string) (string, error) {
	return sessionField(id, "SEAT")
}

// SessionGetTTY returns the terminal the session runs on.
func SessionGetTTY(id string) (string, error) {
	return sessionField(id, "TTY")
}

// SessionGetState returns the session state: "online", "active" or
// "closing".
func SessionGetState(id string) (string, error) {
	return sessionField(id, "STATE")
}

// SessionGetVT returns the virtual terminal number of the session, or
// an error for sessions without one.
func SessionGetVT(id string) (int, error) {
	v, err := sessionField(id, "VTNR")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// SessionGetRemoteHost returns the remote host of the session.
func SessionGetRemoteHost(id string) (string, error) {
	return sessionField(id, "REMOTE_HOST")
}

// SessionGetDisplay returns the X11 display of the session.
func SessionGetDisplay(id string) (string, error) {
	return sessionField(id, "DISPLAY")
}

// SessionGetType returns the session type, such as "tty", "x11" or
// "wayland".
func SessionGetType(id string) (string, error) {
	return sessionField(id, "TYPE")
}

// SessionIsActive reports whether the session is the active one on
// its seat.
func SessionIsActive(id string) (bool, error) {
	v, err := sessionField(id, "ACTIVE")
	if err != nil {
		return false, err
	}
	return v == "1" || v == "yes", nil
}

// ListSessions returns the identifiers of all current login sessions.
func ListSessions() ([]string, error) {
	return listDir(path.Join(runDir, "sessions"), func(name string) bool {
		return !strings.HasSuffix(name, ".ref")
	})
}

// ListSeats returns the identifiers of all current seats.
func ListSeats() ([]string, error) {
	return listDir(path.Join(runDir, "seats"), func(string) bool { return true })
}

// ListUsers returns the uids of all users with at least one session.
func ListUsers() ([]int, error) {
	names, err := listDir(path.Join(runDir, "users"), func(string) bool { return true })
	if err != nil {
		return nil, err
	}
	uids := make([]int, 0, len(names))
	for _, n := range names {
		uid, err := strconv.Atoi(n)
		if err != nil {
			continue
		}
		uids = append(uids, uid)
	}
	sort.Ints(uids)
	return uids, nil
}

func listDir(dir string, keep func(string) bool) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if keep(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
