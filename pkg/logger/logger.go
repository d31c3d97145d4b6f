package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options configures a Logger beyond its service identity.
type Options struct {
	// Level is a zerolog level name ("debug", "info", ...). Empty falls back
	// to LOG_LEVEL and then to info.
	Level string
	// Output defaults to os.Stderr.
	Output io.Writer
	// Console forces human readable output. When nil, console output is used
	// if Output is a terminal.
	Console *bool
}

// Logger provides leveled, structured logging for one service.
type Logger struct {
	serviceName string
	version     string
	zl          zerolog.Logger
}

// New creates a logger writing to stderr.
func New(serviceName, version string) *Logger {
	return NewWithOptions(serviceName, version, Options{})
}

// NewWithOptions creates a logger with explicit output and level.
func NewWithOptions(serviceName, version string, opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	console := isTerminal(out)
	if opts.Console != nil {
		console = *opts.Console
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000"}
	}

	level := parseLevel(opts.Level)
	zl := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version).
		Logger()

	return &Logger{serviceName: serviceName, version: version, zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return parsed
}

// isTerminal checks if we're outputting to a terminal (for color support)
func isTerminal(w io.Writer) bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// ServiceName returns the name the logger was created with.
func (l *Logger) ServiceName() string {
	if l == nil {
		return ""
	}
	return l.serviceName
}

// SetLevel changes the minimum level. Unknown names are rejected.
func (l *Logger) SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.zl = l.zl.Level(parsed)
	return nil
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{
		serviceName: l.serviceName,
		version:     l.version,
		zl:          l.zl.With().Str("component", component).Logger(),
	}
}

// Zerolog exposes the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.zl
}

func (l *Logger) log(level zerolog.Level, fields map[string]string, message string, args []interface{}) {
	if l == nil {
		return
	}
	ev := l.zl.WithLevel(level)
	if ev == nil {
		return
	}
	for k, v := range fields {
		ev = ev.Str(k, v)
	}
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	ev.Msg(message)
}

// Debug logs a debug message with optional formatting
func (l *Logger) Debug(message string, args ...interface{}) {
	l.log(zerolog.DebugLevel, nil, message, args)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(zerolog.DebugLevel, nil, format, args)
}

// Info logs an info message with optional formatting
func (l *Logger) Info(message string, args ...interface{}) {
	l.log(zerolog.InfoLevel, nil, message, args)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(zerolog.InfoLevel, nil, format, args)
}

// Warn logs a warning message with optional formatting
func (l *Logger) Warn(message string, args ...interface{}) {
	l.log(zerolog.WarnLevel, nil, message, args)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(zerolog.WarnLevel, nil, format, args)
}

// Error logs an error message with optional formatting
func (l *Logger) Error(message string, args ...interface{}) {
	l.log(zerolog.ErrorLevel, nil, message, args)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(zerolog.ErrorLevel, nil, format, args)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.log(zerolog.FatalLevel, nil, message, nil)
	os.Exit(1)
}

// WithFields logs a message with additional fields
func (l *Logger) WithFields(fields map[string]string) *LogContext {
	return &LogContext{
		logger: l,
		fields: fields,
	}
}

// LogContext provides field-based logging
type LogContext struct {
	logger *Logger
	fields map[string]string
}

func (c *LogContext) Debug(message string, args ...interface{}) {
	c.logger.log(zerolog.DebugLevel, c.fields, message, args)
}

func (c *LogContext) Info(message string, args ...interface{}) {
	c.logger.log(zerolog.InfoLevel, c.fields, message, args)
}

func (c *LogContext) Warn(message string, args ...interface{}) {
	c.logger.log(zerolog.WarnLevel, c.fields, message, args)
}

func (c *LogContext) Error(message string, args ...interface{}) {
	c.logger.log(zerolog.ErrorLevel, c.fields, message, args)
}
