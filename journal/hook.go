package journal

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// A Hook forwards logrus entries to the journal as native entries,
// preserving structured fields instead of flattening them into the
// message text.
//
//	log := logrus.New()
//	if journal.Enabled() {
//		log.AddHook(&journal.Hook{})
//		log.SetOutput(io.Discard)
//	}
type Hook struct {
	// ExtraFields is added to every entry, e.g. a SYSLOG_IDENTIFIER.
	ExtraFields map[string]string
}

var levelPriorities = map[logrus.Level]Priority{
	logrus.PanicLevel: PriCrit,
	logrus.FatalLevel: PriCrit,
	logrus.ErrorLevel: PriErr,
	logrus.WarnLevel:  PriWarning,
	logrus.InfoLevel:  PriInfo,
	logrus.DebugLevel: PriDebug,
	logrus.TraceLevel: PriDebug,
}

func (h *Hook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *Hook) Fire(entry *logrus.Entry) error {
	fields := make(map[string]string, len(entry.Data)+len(h.ExtraFields))
	for k, v := range h.ExtraFields {
		fields[k] = v
	}
	for k, v := range entry.Data {
		fields[fieldName(k)] = fmt.Sprint(v)
	}
	if entry.Caller != nil {
		fields["CODE_FILE"] = entry.Caller.File
		fields["CODE_LINE"] = fmt.Sprint(entry.Caller.Line)
		fields["CODE_FUNC"] = entry.Caller.Function
	}
	pri, ok := levelPriorities[entry.Level]
	if !ok {
		pri = PriInfo
	}
	return Send(entry.Message, pri, fields)
}

// fieldName maps a logrus field key to a valid journal field name:
// uppercased, with invalid characters replaced by underscores.
func fieldName(k string) string {
	var b strings.Builder
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			c = '_'
		}
		b.WriteByte(c)
	}
	name := strings.TrimLeft(b.String(), "_")
	if name == "" {
		name = "FIELD"
	}
	return name
}
