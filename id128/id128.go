// Package id128 handles the 128-bit identifiers systemd uses for
// machines, boots and invocations.
package id128

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// An ID128 is a 128-bit identifier, usually rendered as 32 lowercase
// hex characters.
type ID128 [16]byte

// Parse reads an identifier in either the plain 32-character hex form
// or the 36-character dashed UUID form.
func Parse(s string) (ID128, error) {
	var id ID128
	switch len(s) {
	case 32:
	case 36:
		if s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
			return id, fmt.Errorf("malformed UUID %q", s)
		}
		s = s[:8] + s[9:13] + s[14:18] + s[19:23] + s[24:]
	default:
		return id, fmt.Errorf("id128 has length %d, want 32 or 36", len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ID128{}, fmt.Errorf("malformed id128 %q: %w", s, err)
	}
	return id, nil
}

// String renders the identifier as 32 lowercase hex characters.
func (id ID128) String() string {
	return hex.EncodeToString(id[:])
}

// UUIDString renders the identifier in the dashed RFC 4122 form.
func (id ID128) UUIDString() string {
	s := id.String()
	return strings.Join([]string{s[:8], s[8:12], s[12:16], s[16:20], s[20:]}, "-")
}

// IsNull reports whether the identifier is all zeroes.
func (id ID128) IsNull() bool { return id == ID128{} }

// Equal reports whether two identifiers are the same.
func (id ID128) Equal(other ID128) bool { return id == other }

// Random returns a new random identifier. The variant and version
// bits are set so that the result is also a valid UUIDv4.
func Random() (ID128, error) {
	var id ID128
	if _, err := rand.Read(id[:]); err != nil {
		return ID128{}, err
	}
	return makeV4(id), nil
}

func makeV4(id ID128) ID128 {
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

// MachineID returns the host's machine identifier, from
// /etc/machine-id.
func MachineID() (ID128, error) {
	return readIDFile("/etc/machine-id")
}

// BootID returns the identifier of the current boot.
func BootID() (ID128, error) {
	return readIDFile("/proc/sys/kernel/random/boot_id")
}

func readIDFile(path string) (ID128, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return ID128{}, err
	}
	id, err := Parse(strings.TrimSpace(string(bs)))
	if err != nil {
		return ID128{}, fmt.Errorf("%s: %w", path, err)
	}
	return id, nil
}

// MachineAppSpecific derives a stable identifier from the machine ID
// and an application-chosen one, without exposing the machine ID
// itself. The derivation is HMAC-SHA256 keyed with the machine ID,
// truncated to 128 bits with UUIDv4 bits applied.
func MachineAppSpecific(app ID128) (ID128, error) {
	machine, err := MachineID()
	if err != nil {
		return ID128{}, err
	}
	mac := hmac.New(sha256.New, machine[:])
	mac.Write(app[:])
	var id ID128
	copy(id[:], mac.Sum(nil))
	return makeV4(id), nil
}
