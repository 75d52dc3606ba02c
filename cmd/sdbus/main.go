// Command sdbus is a debugging tool for poking at busses and the
// local service manager state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/codyps/go-systemd/daemon"
	"github.com/codyps/go-systemd/id128"
	"github.com/codyps/go-systemd/login"
	"github.com/codyps/go-systemd/sdbus"
	"github.com/codyps/go-systemd/unit"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/kr/pretty"
)

var globalArgs struct {
	UseUserBus bool   `flag:"user,Connect to the user bus instead of the system bus"`
	Address    string `flag:"address,Connect to an explicit bus address"`
}

func busConn(ctx context.Context) (*sdbus.Conn, error) {
	switch {
	case globalArgs.Address != "":
		return sdbus.OpenAddress(ctx, globalArgs.Address)
	case globalArgs.UseUserBus:
		return sdbus.OpenUser(ctx)
	default:
		return sdbus.OpenSystem(ctx)
	}
}

func main() {
	root := &command.C{
		Name:     "sdbus",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:  "names",
				Usage: "names",
				Help:  "List the names currently present on the bus.",
				Run:   command.Adapt(runNames),
			},
			{
				Name:  "call",
				Usage: "call destination path interface member [arg...]",
				Help: `Call a method and print its reply.

Arguments are typed by prefix: "i:42" appends an int32, "u:42" a
uint32, "x:42" an int64, "t:42" a uint64, "d:0.5" a double, "b:true"
a boolean, "y:7" a byte, "o:/a/b" an object path. Anything else is
appended as a string.`,
				SetFlags: command.Flags(flax.MustBind, &callArgs),
				Run:      runCall,
			},
			{
				Name:  "listen",
				Usage: "listen match-rule",
				Help: `Subscribe to signals matching a rule and print them.

The rule uses the bus match syntax, e.g.
  type='signal',interface='org.freedesktop.DBus'`,
				Run: runListen,
			},
			{
				Name:  "id",
				Usage: "id",
				Help:  "Print the bus, machine and boot identifiers.",
				Run:   command.Adapt(runID),
			},
			{
				Name:  "notify",
				Usage: "notify state...",
				Help:  "Send service state notifications, e.g. READY=1.",
				Run:   runNotify,
			},
			{
				Name:     "escape",
				Usage:    "escape string...",
				Help:     "Escape strings for use in unit names.",
				SetFlags: command.Flags(flax.MustBind, &escapeArgs),
				Run:      runEscape,
			},
			{
				Name:  "session",
				Usage: "session [pid]",
				Help:  "Show the login session of a process (default: self).",
				Run:   runSession,
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runNames(env *command.Env) error {
	conn, err := busConn(env.Context())
	if err != nil {
		return err
	}
	defer conn.Close()
	names, err := conn.ListNames()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

var callArgs struct {
	Timeout time.Duration `flag:"timeout,default=25s,Call timeout"`
}

func runCall(env *command.Env) error {
	args := env.Args
	if len(args) < 4 {
		return env.Usagef("call requires destination, path, interface and member")
	}
	dest, err := sdbus.ParseBusName(append([]byte(args[0]), 0))
	if err != nil {
		return err
	}
	path, err := sdbus.ParseObjectPath(append([]byte(args[1]), 0))
	if err != nil {
		return err
	}
	iface, err := sdbus.ParseInterfaceName(append([]byte(args[2]), 0))
	if err != nil {
		return err
	}
	member, err := sdbus.ParseMemberName(append([]byte(args[3]), 0))
	if err != nil {
		return err
	}

	conn, err := busConn(env.Context())
	if err != nil {
		return err
	}
	defer conn.Close()

	call := conn.NewMethodCall(dest, path, iface, member)
	for _, arg := range args[4:] {
		if err := appendTyped(call, arg); err != nil {
			return err
		}
	}
	reply, err := call.Call(callArgs.Timeout)
	if err != nil {
		return err
	}
	vals, err := messageValues(reply)
	if err != nil {
		return err
	}
	for _, v := range vals {
		pretty.Println(v)
	}
	return nil
}

func runListen(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("listen requires exactly one match rule")
	}
	ctx := env.Context()

	conn, err := busConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.AddMatch(env.Args[0], func(sig *sdbus.Message) error {
		fmt.Printf("%s %s.%s from %s\n", sig.Path(), sig.Interface(), sig.Member(), sig.Sender())
		vals, err := messageValues(sig)
		if err != nil {
			return err
		}
		for _, v := range vals {
			pretty.Println("  ", v)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for ctx.Err() == nil {
		if _, err := conn.Wait(time.Second); err != nil {
			return err
		}
		if _, _, err := conn.Process(); err != nil {
			return err
		}
	}
	return nil
}

func runID(env *command.Env) error {
	conn, err := busConn(env.Context())
	if err == nil {
		defer conn.Close()
		if id, err := conn.BusID(); err == nil {
			fmt.Printf("bus:     %s\n", id)
		}
	}
	if id, err := id128.MachineID(); err == nil {
		fmt.Printf("machine: %s\n", id)
	}
	if id, err := id128.BootID(); err == nil {
		fmt.Printf("boot:    %s\n", id)
	}
	return nil
}

func runNotify(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("notify requires at least one state assignment")
	}
	return daemon.Notify(false, env.Args...)
}

var escapeArgs struct {
	Path     bool `flag:"path,Escape as a filesystem path (mount unit style)"`
	Unescape bool `flag:"unescape,Reverse the escaping"`
}

func runEscape(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("escape requires at least one string")
	}
	for _, s := range env.Args {
		switch {
		case escapeArgs.Unescape:
			out, err := unit.UnescapeName(s)
			if err != nil {
				return err
			}
			fmt.Println(out)
		case escapeArgs.Path:
			fmt.Println(unit.EscapePath(s))
		default:
			fmt.Println(unit.EscapeName(s))
		}
	}
	return nil
}

func runSession(env *command.Env) error {
	pid := 0
	if len(env.Args) == 1 {
		var err error
		pid, err = strconv.Atoi(env.Args[0])
		if err != nil {
			return fmt.Errorf("bad pid %q", env.Args[0])
		}
	} else if len(env.Args) > 1 {
		return env.Usagef("session takes at most one pid")
	}

	id, err := login.PidGetSession(pid)
	if err != nil {
		return err
	}
	fmt.Printf("session: %s\n", id)
	if uid, err := login.SessionGetUID(id); err == nil {
		fmt.Printf("uid:     %d\n", uid)
	}
	if seat, err := login.SessionGetSeat(id); err == nil {
		fmt.Printf("seat:    %s\n", seat)
	}
	if tty, err := login.SessionGetTTY(id); err == nil {
		fmt.Printf("tty:     %s\n", tty)
	}
	if state, err := login.SessionGetState(id); err == nil {
		fmt.Printf("state:   %s\n", state)
	}
	return nil
}

// appendTyped appends one command line argument to a message, typed
// by its prefix.
func appendTyped(m *sdbus.Message, arg string) error {
	tag, val, ok := strings.Cut(arg, ":")
	if !ok || len(tag) != 1 {
		return m.AppendString(arg)
	}
	switch tag {
	case "s":
		return m.AppendString(val)
	case "y":
		v, err := strconv.ParseUint(val, 10, 8)
		if err != nil {
			return err
		}
		return m.AppendByte(byte(v))
	case "b":
		v, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		return m.AppendBool(v)
	case "i":
		v, err := strconv.ParseInt(val, 10, 32)
		if err != nil {
			return err
		}
		return m.AppendInt32(int32(v))
	case "u":
		v, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return err
		}
		return m.AppendUint32(uint32(v))
	case "x":
		v, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return err
		}
		return m.AppendInt64(v)
	case "t":
		v, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return err
		}
		return m.AppendUint64(v)
	case "d":
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		return m.AppendFloat64(v)
	case "o":
		p, err := sdbus.ParseObjectPath(append([]byte(val), 0))
		if err != nil {
			return err
		}
		return m.AppendObjectPath(p)
	default:
		return m.AppendString(arg)
	}
}
