package hooks

import (
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
)

// Prefix stripped from stack frame paths before they are attached to log entries.
const sourcePrefix = "rulecomp/"

type contextHook struct {
	field string
}

// NewContextHook returns a hook that tags every entry with the file:line of the caller.
func NewContextHook() contextHook {
	return contextHook{field: "file:line"}
}

func (hook contextHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (hook contextHook) Fire(entry *logrus.Entry) error {
	if loc := callerLocation(string(debug.Stack())); loc != "" {
		entry.Data[hook.field] = loc
	}
	return nil
}

// callerLocation walks a goroutine stack dump and returns the first file:line
// outside of logrus and this hook.
func callerLocation(stack string) string {
	lines := strings.Split(stack, "\n")
	foundHook := false
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if strings.Contains(line, "context_hook.go:") {
			foundHook = true
			continue
		}
		if !foundHook || !strings.HasPrefix(line, "/") {
			continue
		}
		if strings.Contains(line, "sirupsen/logrus") {
			continue
		}
		parts := strings.Split(line, sourcePrefix)
		loc := parts[len(parts)-1]
		if idx := strings.Index(loc, " +0x"); idx >= 0 {
			loc = loc[:idx]
		}
		return loc
	}
	return ""
}
