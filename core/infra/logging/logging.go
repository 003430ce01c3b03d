package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const envLogFormat = "IPSPATCH_LOG_FORMAT"

var (
	logFormatOnce sync.Once
	logAsJSON     bool
)

// Level orders log severities from most to least verbose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel accepts the level names used by event payloads (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Info logs a message with key/value fields using a consistent prefix.
func Info(component, msg string, kv ...interface{}) {
	emit(component, LevelInfo, msg, kv)
}

// Error logs an error message with key/value fields using a consistent prefix.
func Error(component, msg string, kv ...interface{}) {
	emit(component, LevelError, msg, kv)
}

// Logger is a leveled logger bound to one component, optionally carrying
// fields that are appended to every line.
type Logger struct {
	component string
	level     Level
	fields    []interface{}
}

// New returns a logger that drops entries below level.
func New(component string, level Level) *Logger {
	return &Logger{component: component, level: level}
}

// With returns a copy of the logger with extra key/value fields.
func (l *Logger) With(kv ...interface{}) *Logger {
	if l == nil {
		return nil
	}
	fields := make([]interface{}, 0, len(l.fields)+len(kv))
	fields = append(fields, l.fields...)
	fields = append(fields, kv...)
	return &Logger{component: l.component, level: l.level, fields: fields}
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.level
}

func (l *Logger) Debug(msg string, kv ...interface{})    { l.Entry(LevelDebug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})     { l.Entry(LevelInfo, msg, kv...) }
func (l *Logger) Warning(msg string, kv ...interface{})  { l.Entry(LevelWarning, msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{})    { l.Entry(LevelError, msg, kv...) }
func (l *Logger) Critical(msg string, kv ...interface{}) { l.Entry(LevelCritical, msg, kv...) }

// Entry writes msg at the given level.
func (l *Logger) Entry(level Level, msg string, kv ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	if len(l.fields) > 0 {
		kv = append(append([]interface{}{}, l.fields...), kv...)
	}
	emit(l.component, level, msg, kv)
}

func emit(component string, level Level, msg string, kv []interface{}) {
	if useJSON() {
		log.Print(formatJSON(component, level, msg, kv))
		return
	}
	log.Printf("[%s] %s %s%s", strings.ToUpper(component), level, msg, formatFields(kv...))
}

func useJSON() bool {
	logFormatOnce.Do(func() {
		logAsJSON = strings.EqualFold(strings.TrimSpace(os.Getenv(envLogFormat)), "json")
	})
	return logAsJSON
}

func formatJSON(component string, level Level, msg string, kv []interface{}) string {
	payload := map[string]any{
		"time":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"component": component,
		"msg":       msg,
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	for i := 0; i < len(kv); i += 2 {
		key := strings.TrimSpace(toString(kv[i]))
		if key == "" {
			continue
		}
		if _, reserved := payload[key]; reserved {
			key = "field_" + key
		}
		switch v := kv[i+1].(type) {
		case error:
			payload[key] = v.Error()
		default:
			payload[key] = v
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"level":%q,"component":%q,"msg":%q}`, level.String(), component, msg)
	}
	return string(data)
}

func formatFields(kv ...interface{}) string {
	if len(kv) == 0 {
		return ""
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	var b strings.Builder
	b.WriteString(" ")
	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		key := kv[i]
		val := kv[i+1]
		b.WriteString(strings.TrimSpace(toString(key)))
		b.WriteString("=")
		b.WriteString(toString(val))
	}
	return b.String()
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(fmt.Sprintf("%v", t)), "\n", " "), "\t", " "))
	}
}
