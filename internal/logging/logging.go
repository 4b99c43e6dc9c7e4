// Package logging wraps hashicorp/logutils into the small Logger interface
// the rest of Robocat depends on, generalizing the teacher's conditional
// logDebug/pluginLogger pattern (server/plugin.go) off the Mattermost host
// logger onto a standalone stdlib logger.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/hashicorp/logutils"
)

// Logger is the logging surface every component depends on.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type leveledLogger struct {
	out *log.Logger
}

// New builds a Logger whose minimum visible level is level (one of "DEBUG",
// "INFO", "WARN", "ERROR"). Unrecognized levels default to "INFO".
func New(level string) Logger {
	filter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(normalizeLevel(level)),
		Writer:   os.Stderr,
	}
	return &leveledLogger{out: log.New(filter, "", log.LstdFlags)}
}

func normalizeLevel(level string) string {
	switch level {
	case "DEBUG", "INFO", "WARN", "ERROR":
		return level
	default:
		return "INFO"
	}
}

func (l *leveledLogger) log(level, msg string, kv []any) {
	l.out.Printf("[%s] %s %s", level, msg, formatKV(kv))
}

func (l *leveledLogger) Debug(msg string, kv ...any) { l.log("DEBUG", msg, kv) }
func (l *leveledLogger) Info(msg string, kv ...any)  { l.log("INFO", msg, kv) }
func (l *leveledLogger) Warn(msg string, kv ...any)  { l.log("WARN", msg, kv) }
func (l *leveledLogger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv) }

func formatKV(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	out := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			out += " "
		}
		out += toString(kv[i]) + "=" + toString(kv[i+1])
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
