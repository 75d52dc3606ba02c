// Package transport provides the byte-stream transports that D-Bus
// connections run over, along with the authentication handshake and
// file descriptor passing.
package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Transport is a raw D-Bus connection: an authenticated byte stream
// that can carry file descriptors alongside message bytes.
type Transport interface {
	io.ReadWriteCloser

	// TakeFiles returns n received files that were attached to
	// previously read bytes as ancillary data.
	TakeFiles(n int) ([]*os.File, error)
	// WriteWithFiles is like Write, but additionally sends the given
	// files as ancillary data.
	WriteWithFiles(bs []byte, files []*os.File) (int, error)
	// Fd returns the transport's file descriptor, for polling. It
	// returns -1 if the transport has no descriptor.
	Fd() int
}

// Dial connects to a bus at the given address, which uses the D-Bus
// server address syntax: one or more transport specifications
// separated by ';', tried in order. Only the "unix" transport is
// supported, with the "path" and "abstract" keys.
func Dial(ctx context.Context, address string) (Transport, error) {
	var firstErr error
	for _, spec := range strings.Split(address, ";") {
		if spec == "" {
			continue
		}
		t, err := dialOne(ctx, spec)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no usable transport in address %q", address)
	}
	return nil, firstErr
}

func dialOne(ctx context.Context, spec string) (Transport, error) {
	method, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("malformed bus address %q", spec)
	}
	if method != "unix" {
		return nil, fmt.Errorf("unsupported bus transport %q", method)
	}
	var path, abstract string
	for _, kv := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("malformed bus address %q", spec)
		}
		switch k {
		case "path":
			path = v
		case "abstract":
			abstract = v
		}
	}
	switch {
	case path != "":
		return DialUnix(ctx, path)
	case abstract != "":
		return DialUnix(ctx, "@"+abstract)
	default:
		return nil, fmt.Errorf("unix bus address %q has neither path nor abstract", spec)
	}
}
