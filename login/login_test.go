package login

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// fakeRoots points the package at a synthetic /proc and /run/systemd
// tree for the duration of a test.
func fakeRoots(t *testing.T) (proc, run string) {
	t.Helper()
	tmp := t.TempDir()
	proc = filepath.Join(tmp, "proc")
	run = filepath.Join(tmp, "run-systemd")

	oldProc, oldRun := procDir, runDir
	procDir, runDir = proc, run
	t.Cleanup(func() { procDir, runDir = oldProc, oldRun })
	return proc, run
}

func writeCgroup(t *testing.T, proc string, pid, content string) {
	t.Helper()
	dir := filepath.Join(proc, pid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cgroup"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPidGetSession(t *testing.T) {
	proc, _ := fakeRoots(t)
	writeCgroup(t, proc, "100",
		"0::/user.slice/user-1000.slice/session-4.scope\n")
	writeCgroup(t, proc, "200",
		"0::/system.slice/sshd.service\n")

	id, err := PidGetSession(100)
	if err != nil || id != "4" {
		t.Errorf("PidGetSession(100) = %q, %v, want 4", id, err)
	}
	if _, err := PidGetSession(200); err == nil {
		t.Error("PidGetSession for a system service succeeded")
	}
	if _, err := PidGetSession(999); err == nil {
		t.Error("PidGetSession for a missing pid succeeded")
	}
}

func TestPidGetOwnerUID(t *testing.T) {
	proc, _ := fakeRoots(t)
	writeCgroup(t, proc, "100",
		"0::/user.slice/user-1000.slice/session-4.scope\n")
	writeCgroup(t, proc, "200",
		"0::/system.slice/cron.service\n")

	uid, err := PidGetOwnerUID(100)
	if err != nil || uid != 1000 {
		t.Errorf("PidGetOwnerUID(100) = %d, %v, want 1000", uid, err)
	}
	if _, err := PidGetOwnerUID(200); err == nil {
		t.Error("PidGetOwnerUID for a system service succeeded")
	}
}

func TestPidGetUnit(t *testing.T) {
	proc, _ := fakeRoots(t)
	writeCgroup(t, proc, "200",
		"0::/system.slice/sshd.service\n")
	writeCgroup(t, proc, "300",
		"0::/user.slice/user-1000.slice/user@1000.service/app.slice/syncthing.service\n")

	unit, err := PidGetUnit(200)
	if err != nil || unit != "sshd.service" {
		t.Errorf("PidGetUnit(200) = %q, %v, want sshd.service", unit, err)
	}

	// Processes inside a user manager belong to a user unit, not a
	// system one.
	if _, err := PidGetUnit(300); err == nil {
		t.Error("PidGetUnit inside user manager succeeded")
	}
	userUnit, err := PidGetUserUnit(300)
	if err != nil || userUnit != "syncthing.service" {
		t.Errorf("PidGetUserUnit(300) = %q, %v, want syncthing.service", userUnit, err)
	}
}

func TestPidGetSlice(t *testing.T) {
	proc, _ := fakeRoots(t)
	writeCgroup(t, proc, "100",
		"0::/user.slice/user-1000.slice/session-4.scope\n")
	writeCgroup(t, proc, "200",
		"0::/init.scope\n")
	writeCgroup(t, proc, "300",
		"0::/user.slice/user-1000.slice/user@1000.service/app.slice/foo.service\n")

	slice, err := PidGetSlice(100)
	if err != nil || slice != "user-1000.slice" {
		t.Errorf("PidGetSlice(100) = %q, %v, want user-1000.slice", slice, err)
	}
	// Processes outside any explicit slice live in the root slice.
	slice, err = PidGetSlice(200)
	if err != nil || slice != "-.slice" {
		t.Errorf("PidGetSlice(200) = %q, %v, want -.slice", slice, err)
	}
	userSlice, err := PidGetUserSlice(300)
	if err != nil || userSlice != "app.slice" {
		t.Errorf("PidGetUserSlice(300) = %q, %v, want app.slice", userSlice, err)
	}
	if _, err := PidGetUserSlice(100); err == nil {
		t.Error("PidGetUserSlice outside a user manager succeeded")
	}
}

func TestPidGetCgroup(t *testing.T) {
	proc, _ := fakeRoots(t)
	writeCgroup(t, proc, "100", "0::/system.slice/sshd.service\n")

	cg, err := PidGetCgroup(100)
	if err != nil || cg != "/system.slice/sshd.service" {
		t.Errorf("PidGetCgroup(100) = %q, %v", cg, err)
	}
}

func TestPidGetMachineName(t *testing.T) {
	proc, _ := fakeRoots(t)
	writeCgroup(t, proc, "100",
		"0::/machine.slice/machine-fedora\\x2d40.scope/payload\n")
	writeCgroup(t, proc, "200",
		"0::/system.slice/sshd.service\n")

	name, err := PidGetMachineName(100)
	if err != nil || name != "fedora-40" {
		t.Errorf("PidGetMachineName(100) = %q, %v, want fedora-40", name, err)
	}
	if _, err := PidGetMachineName(200); err == nil {
		t.Error("PidGetMachineName on the host succeeded")
	}
}

func TestPidLegacyHierarchy(t *testing.T) {
	proc, _ := fakeRoots(t)
	writeCgroup(t, proc, "100",
		"12:pids:/init.scope\n"+
			"1:name=systemd:/user.slice/user-500.slice/session-c2.scope\n")

	id, err := PidGetSession(100)
	if err != nil || id != "c2" {
		t.Errorf("PidGetSession(100) = %q, %v, want c2", id, err)
	}
}

func TestSessionQueries(t *testing.T) {
	_, run := fakeRoots(t)
	dir := filepath.Join(run, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	state := `# This is private data. Do not parse.
UID=1000
USER=alice
ACTIVE=1
STATE=active
SEAT=seat0
TTY=/dev/tty2
VTNR=2
TYPE=tty
REMOTE_HOST="host.example.com"
`
	if err := os.WriteFile(filepath.Join(dir, "4"), []byte(state), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "4.ref"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if uid, err := SessionGetUID("4"); err != nil || uid != 1000 {
		t.Errorf("SessionGetUID = %d, %v, want 1000", uid, err)
	}
	if seat, err := SessionGetSeat("4"); err != nil || seat != "seat0" {
		t.Errorf("SessionGetSeat = %q, %v, want seat0", seat, err)
	}
	if tty, err := SessionGetTTY("4"); err != nil || tty != "/dev/tty2" {
		t.Errorf("SessionGetTTY = %q, %v, want /dev/tty2", tty, err)
	}
	if st, err := SessionGetState("4"); err != nil || st != "active" {
		t.Errorf("SessionGetState = %q, %v, want active", st, err)
	}
	if active, err := SessionIsActive("4"); err != nil || !active {
		t.Errorf("SessionIsActive = %v, %v, want true", active, err)
	}
	if vt, err := SessionGetVT("4"); err != nil || vt != 2 {
		t.Errorf("SessionGetVT = %d, %v, want 2", vt, err)
	}
	if typ, err := SessionGetType("4"); err != nil || typ != "tty" {
		t.Errorf("SessionGetType = %q, %v, want tty", typ, err)
	}
	// Quotes are stripped.
	if h, err := SessionGetRemoteHost("4"); err != nil || h != "host.example.com" {
		t.Errorf("SessionGetRemoteHost = %q, %v", h, err)
	}
	if _, err := SessionGetDisplay("4"); err == nil {
		t.Error("SessionGetDisplay for a tty session succeeded")
	}
	if _, err := SessionGetUID("5"); err == nil {
		t.Error("query for a missing session succeeded")
	}

	sessions, err := ListSessions()
	if err != nil || !slices.Equal(sessions, []string{"4"}) {
		t.Errorf("ListSessions = %v, %v, want [4]", sessions, err)
	}
}

func TestListUsersAndSeats(t *testing.T) {
	_, run := fakeRoots(t)
	for _, d := range []string{"users", "seats"} {
		if err := os.MkdirAll(filepath.Join(run, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range []string{"users/1000", "users/500", "seats/seat0"} {
		if err := os.WriteFile(filepath.Join(run, f), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	uids, err := ListUsers()
	if err != nil || !slices.Equal(uids, []int{500, 1000}) {
		t.Errorf("ListUsers = %v, %v, want [500 1000]", uids, err)
	}
	seats, err := ListSeats()
	if err != nil || !slices.Equal(seats, []string{"seat0"}) {
		t.Errorf("ListSeats = %v, %v, want [seat0]", seats, err)
	}
}

func TestListEmptyWhenNotBooted(t *testing.T) {
	fakeRoots(t)
	sessions, err := ListSessions()
	if err != nil || sessions != nil {
		t.Errorf("ListSessions without logind = %v, %v, want nil, nil", sessions, err)
	}
}

func TestUnescapeCgroup(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain.service", "plain.service"},
		{`with\x20space.service`, "with space.service"},
		{`dash\x2dayed`, "dash-ayed"},
	}
	for _, tc := range tests {
		if got := unescapeCgroup(tc.in); got != tc.want {
			t.Errorf("unescapeCgroup(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
