package utils

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var (
	outputMu     sync.RWMutex
	output       io.Writer = os.Stdout
	defaultLevel           = Warning
)

// ConfigureLogging sets the process-wide sink and default level for loggers
// created afterwards. pretty switches to zerolog's console writer.
func ConfigureLogging(level string, pretty bool) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		output = os.Stdout
	}
	defaultLevel = ParseLogLevel(level)
}

// SetLogOutput redirects new loggers to w. Used by tests.
func SetLogOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

// ParseLogLevel maps a level name to a LogLevel, defaulting to Warning.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "fatal", "critical":
		return Critical
	default:
		return Warning
	}
}

// Logger provides structured logging with context
type Logger struct {
	prefix        string
	logger        zerolog.Logger
	logLevel      LogLevel
	logLevelMutex sync.RWMutex
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	outputMu.RLock()
	w := output
	logLevelValue := defaultLevel
	outputMu.RUnlock()

	if len(logLevel) > 0 {
		logLevelValue = logLevel[0]
	}
	return &Logger{
		prefix:   prefix,
		logger:   zerolog.New(w).With().Timestamp().Str("component", prefix).Logger(),
		logLevel: logLevelValue,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	l.logLevel = logLevel
}

func (l *Logger) enabled(level LogLevel) bool {
	l.logLevelMutex.RLock()
	defer l.logLevelMutex.RUnlock()
	return l.logLevel <= level
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if !l.enabled(Info) {
		return
	}
	withFields(l.logger.Info(), keyvals).Msg(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if !l.enabled(Error) {
		return
	}
	withFields(l.logger.Error(), keyvals).Msg(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if !l.enabled(Warning) {
		return
	}
	withFields(l.logger.Warn(), keyvals).Msg(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if !l.enabled(Debug) {
		return
	}
	withFields(l.logger.Debug(), keyvals).Msg(msg)
}

// withFields attaches key/value pairs; a trailing key without value is dropped.
func withFields(e *zerolog.Event, keyvals []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		switch v := keyvals[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}
