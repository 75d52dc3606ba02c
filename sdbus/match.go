package sdbus

import (
	"fmt"
	"strings"
)

// A Slot is a live signal match registration, returned by
// [Conn.AddMatch]. Closing it uninstalls the match.
type Slot struct {
	conn     *Conn
	ruleText string
	rule     matchRule
	fn       func(*Message) error
}

// matchRule is the parsed form of a D-Bus match rule, reduced to the
// keys the connection filters on locally. The bus daemon applies the
// full rule; local filtering only picks which callback sees a
// delivered signal.
type matchRule struct {
	typ    string
	sender string
	iface  string
	member string
	path   string
}

// parseMatchRule parses the comma-separated key='value' match rule
// syntax. Unknown keys are tolerated; the daemon rejects rules it
// does not understand.
func parseMatchRule(rule string) (matchRule, error) {
	var ret matchRule
	for _, kv := range splitRule(rule) {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return ret, fmt.Errorf("malformed match rule element %q", kv)
		}
		if len(v) < 2 || v[0] != '\'' || v[len(v)-1] != '\'' {
			return ret, fmt.Errorf("match rule value %q is not quoted", v)
		}
		v = v[1 : len(v)-1]
		switch k {
		case "type":
			ret.typ = v
		case "sender":
			ret.sender = v
		case "interface":
			ret.iface = v
		case "member":
			ret.member = v
		case "path":
			ret.path = v
		}
	}
	return ret, nil
}

// splitRule splits a match rule on commas that sit outside quoted
// values.
func splitRule(rule string) []string {
	var parts []string
	start, quoted := 0, false
	for i := 0; i < len(rule); i++ {
		switch rule[i] {
		case '\'':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, rule[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, rule[start:])
}

func (r matchRule) matches(m *Message) bool {
	if r.typ != "" && r.typ != "signal" {
		return false
	}
	if r.sender != "" && r.sender != m.sender {
		return false
	}
	if r.iface != "" && r.iface != m.iface.String() {
		return false
	}
	if r.member != "" && r.member != m.member.String() {
		return false
	}
	if r.path != "" && r.path != m.path.String() {
		return false
	}
	return true
}

// AddMatch installs a match rule on the bus daemon and registers fn
// to receive the signals it selects. fn runs from [Conn.Process].
// The registration stays installed until the returned Slot is closed
// or the connection shuts down.
func (c *Conn) AddMatch(rule string, fn func(*Message) error) (*Slot, error) {
	if fn == nil {
		return nil, fmt.Errorf("nil callback")
	}
	parsed, err := parseMatchRule(rule)
	if err != nil {
		return nil, err
	}
	m := c.newBusCall("AddMatch")
	if err := m.AppendString(rule); err != nil {
		return nil, err
	}
	if _, err := m.Call(defaultCallTimeout); err != nil {
		return nil, err
	}
	s := &Slot{conn: c, ruleText: rule, rule: parsed, fn: fn}
	c.mu.Lock()
	c.matches.Add(s)
	c.mu.Unlock()
	return s, nil
}

// Close uninstalls the match. Signals already queued may still be
// delivered to other matches, but this slot's callback will not run
// again.
func (s *Slot) Close() error {
	c := s.conn
	c.mu.Lock()
	had := c.matches.Has(s)
	c.matches.Remove(s)
	c.mu.Unlock()
	if !had {
		return nil
	}
	m := c.newBusCall("RemoveMatch")
	if err := m.AppendString(s.ruleText); err != nil {
		return err
	}
	return m.SendNoReply()
}
