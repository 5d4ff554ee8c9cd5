package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// WriteStrategy selects how the transport buffer stages outgoing bytes.
type WriteStrategy string

const (
	// WriteStrategyFlatten copies every outgoing byte into a single buffer.
	WriteStrategyFlatten WriteStrategy = "flatten"
	// WriteStrategyQueue keeps body chunks as separate buffers and writes
	// them with a vectored write.
	WriteStrategyQueue WriteStrategy = "queue"
)

// Config is the top-level configuration structure.
type Config struct {
	HTTP1   *HTTP1Config   `json:"http1,omitempty" toml:"http1,omitempty" yaml:"http1,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty" yaml:"logging,omitempty"`
}

// HTTP1Config holds the per-connection engine settings.
// Sizes are human readable strings such as "400 KiB" or "8KB".
type HTTP1Config struct {
	AllowHalfClose   *bool          `json:"allow_half_close,omitempty" toml:"allow_half_close,omitempty" yaml:"allow_half_close,omitempty"`
	KeepAlive        *bool          `json:"keep_alive,omitempty" toml:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`
	TitleCaseHeaders *bool          `json:"title_case_headers,omitempty" toml:"title_case_headers,omitempty" yaml:"title_case_headers,omitempty"`
	DateHeader       *bool          `json:"date_header,omitempty" toml:"date_header,omitempty" yaml:"date_header,omitempty"`
	MaxBufSize       *string        `json:"max_buf_size,omitempty" toml:"max_buf_size,omitempty" yaml:"max_buf_size,omitempty"`
	ReadBufExactSize *string        `json:"read_buf_exact_size,omitempty" toml:"read_buf_exact_size,omitempty" yaml:"read_buf_exact_size,omitempty"`
	WriteStrategy    *WriteStrategy `json:"write_strategy,omitempty" toml:"write_strategy,omitempty" yaml:"write_strategy,omitempty"`
	MaxHeaders       *int           `json:"max_headers,omitempty" toml:"max_headers,omitempty" yaml:"max_headers,omitempty"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty" yaml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty" yaml:"error_log,omitempty"`
}

// AccessLogConfig configures the per-transaction access log.
type AccessLogConfig struct {
	Enabled *bool   `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Target  *string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	Format  string  `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target *string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	Format string  `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
}

// IsFilePath reports whether a log target names a file rather than a
// standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}

// MaxBufSizeBytes returns the parsed max_buf_size. Defaults must have been
// applied.
func (c *HTTP1Config) MaxBufSizeBytes() (int, error) {
	if c == nil || c.MaxBufSize == nil {
		return 0, fmt.Errorf("http1.max_buf_size is not set")
	}
	return parseSize("http1.max_buf_size", *c.MaxBufSize)
}

// ReadBufExactSizeBytes returns the parsed read_buf_exact_size, or 0 when
// the read buffer should grow adaptively.
func (c *HTTP1Config) ReadBufExactSizeBytes() (int, error) {
	if c == nil || c.ReadBufExactSize == nil {
		return 0, nil
	}
	return parseSize("http1.read_buf_exact_size", *c.ReadBufExactSize)
}

func parseSize(field, s string) (int, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s '%s' is not a valid size: %w", field, s, err)
	}
	if n > uint64(maxSizeValue) {
		return 0, fmt.Errorf("%s '%s' exceeds the maximum of %s", field, s, humanize.IBytes(uint64(maxSizeValue)))
	}
	return int(n), nil
}
