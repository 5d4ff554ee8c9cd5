package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/h1conn/internal/config"
)

// LogFields carries structured key/value pairs for a log entry.
type LogFields map[string]interface{}

// timeFormat is ISO 8601 with millisecond precision.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// sink is one log destination. File targets keep their path so they can be
// reopened after rotation.
type sink struct {
	mu     sync.Mutex
	zl     zerolog.Logger
	target string
	format string
	output io.WriteCloser
}

// AccessLogger writes one entry per completed HTTP/1 transaction.
type AccessLogger struct {
	sink
}

// ErrorLogger handles leveled diagnostic logging.
type ErrorLogger struct {
	sink
	globalLogLevel config.LogLevel
}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	accessLog      *AccessLogger
	errorLog       *ErrorLogger
	globalLogLevel config.LogLevel
}

// NewLogger creates and configures a new Logger instance.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	l := &Logger{globalLogLevel: cfg.LogLevel}

	errTarget, errFormat := "stderr", "json"
	if cfg.ErrorLog != nil {
		if cfg.ErrorLog.Target != nil {
			errTarget = *cfg.ErrorLog.Target
		}
		if cfg.ErrorLog.Format != "" {
			errFormat = cfg.ErrorLog.Format
		}
	}
	errOut, err := openTarget(errTarget)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log target: %w", err)
	}
	l.errorLog = &ErrorLogger{globalLogLevel: cfg.LogLevel}
	l.errorLog.init(errTarget, errFormat, errOut, zerologLevel(cfg.LogLevel))

	if cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled) {
		target := "stdout"
		if cfg.AccessLog.Target != nil {
			target = *cfg.AccessLog.Target
		}
		accessOut, err := openTarget(target)
		if err != nil {
			l.CloseLogFiles()
			return nil, fmt.Errorf("failed to open access log target: %w", err)
		}
		l.accessLog = &AccessLogger{}
		l.accessLog.init(target, cfg.AccessLog.Format, accessOut, zerolog.InfoLevel)
	}

	return l, nil
}

// NewTestLogger returns a Logger whose error log writes JSON lines to w at
// the given level and whose access log is disabled. It is intended for tests
// and embedding.
func NewTestLogger(w io.Writer, level config.LogLevel) *Logger {
	l := &Logger{globalLogLevel: level}
	l.errorLog = &ErrorLogger{globalLogLevel: level}
	l.errorLog.init("test", "json", nopWriteCloser{w}, zerologLevel(level))
	return l
}

// WithAccessLog attaches an access log writing JSON lines to w.
func (l *Logger) WithAccessLog(w io.Writer) *Logger {
	l.accessLog = &AccessLogger{}
	l.accessLog.init("test", "json", nopWriteCloser{w}, zerolog.InfoLevel)
	return l
}

func (s *sink) init(target, format string, out io.WriteCloser, level zerolog.Level) {
	s.target = target
	s.format = format
	s.output = out
	s.zl = newZerolog(out, format, level)
}

func newZerolog(out io.Writer, format string, level zerolog.Level) zerolog.Logger {
	var w io.Writer = out
	if format == "text" {
		w = zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: timeFormat}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func openTarget(target string) (io.WriteCloser, error) {
	switch target {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if !config.IsFilePath(target) || target == "" {
		return nil, fmt.Errorf("invalid log target: %q", target)
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", target, err)
	}
	return f, nil
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogError writes an error log entry at the given level.
func (el *ErrorLogger) LogError(level config.LogLevel, msg string, fields ...LogFields) {
	if el == nil {
		return
	}
	el.mu.Lock()
	defer el.mu.Unlock()

	var ev *zerolog.Event
	switch level {
	case config.LogLevelDebug:
		ev = el.zl.Debug()
	case config.LogLevelWarning:
		ev = el.zl.Warn()
	case config.LogLevelError:
		ev = el.zl.Error()
	default:
		ev = el.zl.Info()
	}
	if ev == nil {
		return // below threshold
	}
	for _, f := range fields {
		if len(f) > 0 {
			ev = ev.Fields(map[string]interface{}(f))
		}
	}
	ev.Msg(msg)
}

// Enabled reports whether entries at level would be written.
func (el *ErrorLogger) Enabled(level config.LogLevel) bool {
	if el == nil {
		return false
	}
	return zerologLevel(level) >= el.zl.GetLevel()
}

// AccessEntry describes one completed HTTP/1 transaction.
type AccessEntry struct {
	Role         string
	Method       string
	Target       string
	Status       int
	Version      string
	KeepAlive    bool
	BytesRead    int64
	BytesWritten int64
	Duration     time.Duration
}

// LogAccess writes an access log entry.
func (al *AccessLogger) LogAccess(e AccessEntry) {
	if al == nil {
		return
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	ev := al.zl.Info().
		Str("role", e.Role).
		Str("method", e.Method).
		Str("version", e.Version).
		Bool("keep_alive", e.KeepAlive).
		Int64("bytes_read", e.BytesRead).
		Int64("bytes_written", e.BytesWritten).
		Int64("duration_ms", e.Duration.Milliseconds())
	if e.Target != "" {
		ev = ev.Str("target", e.Target)
	}
	if e.Status != 0 {
		ev = ev.Int("status", e.Status)
	}
	ev.Send()
}

// Convenience methods on the main Logger. All of them accept a nil receiver.

func (l *Logger) Info(msg string, fields ...LogFields) {
	if l != nil {
		l.errorLog.LogError(config.LogLevelInfo, msg, fields...)
	}
}

func (l *Logger) Error(msg string, fields ...LogFields) {
	if l != nil {
		l.errorLog.LogError(config.LogLevelError, msg, fields...)
	}
}

func (l *Logger) Debug(msg string, fields ...LogFields) {
	if l != nil {
		l.errorLog.LogError(config.LogLevelDebug, msg, fields...)
	}
}

func (l *Logger) Warn(msg string, fields ...LogFields) {
	if l != nil {
		l.errorLog.LogError(config.LogLevelWarning, msg, fields...)
	}
}

// DebugEnabled lets callers skip building fields for suppressed entries.
func (l *Logger) DebugEnabled() bool {
	return l != nil && l.errorLog.Enabled(config.LogLevelDebug)
}

// Access writes an access log entry if access logging is enabled.
func (l *Logger) Access(e AccessEntry) {
	if l != nil {
		l.accessLog.LogAccess(e)
	}
}

// CloseLogFiles closes any open log files.
func (l *Logger) CloseLogFiles() {
	if l == nil {
		return
	}
	if l.accessLog != nil {
		l.accessLog.closeFile()
	}
	if l.errorLog != nil {
		l.errorLog.closeFile()
	}
}

func (s *sink) closeFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.output.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		f.Close()
	}
}

// ReopenLogFiles closes and reopens file-based log targets, for use after
// external log rotation.
func (l *Logger) ReopenLogFiles() error {
	if l == nil {
		return nil
	}
	if l.errorLog != nil {
		if err := l.errorLog.reopen(zerologLevel(l.globalLogLevel)); err != nil {
			return err
		}
	}
	if l.accessLog != nil {
		if err := l.accessLog.reopen(zerolog.InfoLevel); err != nil {
			return err
		}
	}
	return nil
}

func (s *sink) reopen(level zerolog.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.output.(*os.File)
	if !ok || f == os.Stdout || f == os.Stderr {
		return nil
	}
	if err := f.Close(); err != nil {
		// Keep going, the new handle is what matters.
		log.Printf("Error closing log file %s during reopen: %v", s.target, err)
	}
	nf, err := os.OpenFile(s.target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		s.output = os.Stderr
		s.zl = newZerolog(os.Stderr, s.format, level)
		return fmt.Errorf("failed to reopen log file %s: %w", s.target, err)
	}
	s.output = nf
	s.zl = newZerolog(nf, s.format, level)
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
