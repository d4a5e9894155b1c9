package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger shared by every livedatabus component.
// Calls take a message followed by alternating key/value pairs:
//
//	logger.Info("provider registered", "provider", name, "running", true)
//
// A single map[string]interface{} argument is accepted as well.
type Logger struct {
	mu        sync.RWMutex
	base      *logrus.Logger
	component string
}

// NewLogger creates a logger at the given level. Unknown levels fall back
// to info. "trace" enables the verbose helpers.
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})

	l := &Logger{base: base, component: component}
	l.SetLevel(level)
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := NewLogger("error", "")
	l.base.SetOutput(io.Discard)
	return l
}

// SetLevel changes the minimum level.
func (l *Logger) SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}

	l.mu.Lock()
	l.base.SetLevel(lvl)
	l.mu.Unlock()
}

// Level returns the current level as a string.
func (l *Logger) Level() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.base.GetLevel().String()
}

// SetFormat switches between "json" (default) and "text" output.
func (l *Logger) SetFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch format {
	case "text":
		l.base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}
}

// WithOutput redirects output, mostly for tests.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	l.mu.Lock()
	l.base.SetOutput(w)
	l.mu.Unlock()
	return l
}

// Named returns a logger sharing the same sink under another component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{base: l.base, component: component}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.entry(keyvals).Debug(msg)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.entry(keyvals).Info(msg)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.entry(keyvals).Warn(msg)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.entry(keyvals).Error(msg)
}

// LogVerbose logs an event with its fields at trace level.
func (l *Logger) LogVerbose(event string, fields map[string]interface{}) {
	l.entry([]interface{}{fields}).WithField("event", event).Trace(event)
}

// LogDebugVerbose logs an event with its fields at debug level.
func (l *Logger) LogDebugVerbose(event string, fields map[string]interface{}) {
	l.entry([]interface{}{fields}).WithField("event", event).Debug(event)
}

// LogStateChange records a component moving from one state to another.
func (l *Logger) LogStateChange(component, from, to, reason string, fields map[string]interface{}) {
	l.entry([]interface{}{fields}).WithFields(logrus.Fields{
		"state_component": component,
		"from":            from,
		"to":              to,
		"reason":          reason,
	}).Info("state_change")
}

// LogDataFlow records a value moving between two named stages.
func (l *Logger) LogDataFlow(stage, kind, source string, count int, fields map[string]interface{}) {
	l.entry([]interface{}{fields}).WithFields(logrus.Fields{
		"stage":  stage,
		"kind":   kind,
		"source": source,
		"count":  count,
	}).Trace("data_flow")
}

func (l *Logger) entry(keyvals []interface{}) *logrus.Entry {
	l.mu.RLock()
	base := l.base
	l.mu.RUnlock()

	e := logrus.NewEntry(base)
	if l.component != "" {
		e = e.WithField("component", l.component)
	}
	return e.WithFields(toFields(keyvals))
}

func toFields(keyvals []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(keyvals); i++ {
		switch kv := keyvals[i].(type) {
		case map[string]interface{}:
			for k, v := range kv {
				fields[k] = normalize(v)
			}
		case string:
			if i+1 < len(keyvals) {
				fields[kv] = normalize(keyvals[i+1])
				i++
			} else {
				fields["_extra"] = kv
			}
		default:
			fields[fmt.Sprintf("arg%d", i)] = normalize(kv)
		}
	}
	return fields
}

// errors don't marshal to JSON on their own
func normalize(v interface{}) interface{} {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return v
}
