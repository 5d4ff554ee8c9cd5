package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied by ApplyDefaults.
const (
	defaultAllowHalfClose   = false
	defaultKeepAlive        = true
	defaultTitleCaseHeaders = false
	defaultDateHeader       = true
	defaultMaxBufSize       = "408 KiB"
	defaultWriteStrategy    = WriteStrategyFlatten
	defaultMaxHeaders       = 100

	defaultLogLevel         = LogLevelInfo
	defaultAccessLogEnabled = true
	defaultAccessLogTarget  = "stdout"
	defaultAccessLogFormat  = "json"
	defaultErrorLogTarget   = "stderr"
	defaultErrorLogFormat   = "json"

	// MinBufSize is the smallest accepted max_buf_size. A head must fit into
	// the read buffer, so smaller values make ordinary requests unparseable.
	MinBufSize = 8192

	maxSizeValue = 1 << 30
)

// LoadConfig reads, parses, defaults and validates the configuration file at
// path. The format is chosen by extension (.json, .toml, .yaml, .yml); any
// other extension is auto-detected, trying JSON first and TOML second.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("configuration file path cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	cfg, err := ParseConfig(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes raw configuration bytes. ext selects the format and
// may be empty for auto-detection.
func ParseConfig(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, fmt.Errorf("failed to parse TOML config: empty input")
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, fmt.Errorf("failed to parse YAML config: empty input")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		jsonErr := json.Unmarshal(data, cfg)
		if jsonErr == nil {
			return cfg, nil
		}
		cfg = &Config{}
		var tomlErr error
		if len(bytes.TrimSpace(data)) == 0 {
			tomlErr = fmt.Errorf("empty input")
		} else if _, err := toml.Decode(string(data), cfg); err != nil {
			tomlErr = err
		}
		if tomlErr != nil {
			return nil, fmt.Errorf("failed to auto-detect and parse config: JSON error: %v; TOML error: %v", jsonErr, tomlErr)
		}
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.HTTP1 == nil {
		cfg.HTTP1 = &HTTP1Config{}
	}
	h := cfg.HTTP1
	if h.AllowHalfClose == nil {
		h.AllowHalfClose = boolPtr(defaultAllowHalfClose)
	}
	if h.KeepAlive == nil {
		h.KeepAlive = boolPtr(defaultKeepAlive)
	}
	if h.TitleCaseHeaders == nil {
		h.TitleCaseHeaders = boolPtr(defaultTitleCaseHeaders)
	}
	if h.DateHeader == nil {
		h.DateHeader = boolPtr(defaultDateHeader)
	}
	if h.MaxBufSize == nil {
		h.MaxBufSize = strPtr(defaultMaxBufSize)
	}
	if h.WriteStrategy == nil {
		ws := defaultWriteStrategy
		h.WriteStrategy = &ws
	}
	if h.MaxHeaders == nil {
		n := defaultMaxHeaders
		h.MaxHeaders = &n
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	lg := cfg.Logging
	if lg.LogLevel == "" {
		lg.LogLevel = defaultLogLevel
	}
	if lg.AccessLog == nil {
		lg.AccessLog = &AccessLogConfig{}
	}
	if lg.AccessLog.Enabled == nil {
		lg.AccessLog.Enabled = boolPtr(defaultAccessLogEnabled)
	}
	if lg.AccessLog.Target == nil {
		lg.AccessLog.Target = strPtr(defaultAccessLogTarget)
	}
	if lg.AccessLog.Format == "" {
		lg.AccessLog.Format = defaultAccessLogFormat
	}
	if lg.ErrorLog == nil {
		lg.ErrorLog = &ErrorLogConfig{}
	}
	if lg.ErrorLog.Target == nil {
		lg.ErrorLog.Target = strPtr(defaultErrorLogTarget)
	}
	if lg.ErrorLog.Format == "" {
		lg.ErrorLog.Format = defaultErrorLogFormat
	}
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := validateHTTP1(cfg.HTTP1); err != nil {
		return err
	}
	return validateLogging(cfg.Logging)
}

func validateHTTP1(h *HTTP1Config) error {
	if h == nil {
		return fmt.Errorf("http1 section is missing")
	}
	maxBuf, err := h.MaxBufSizeBytes()
	if err != nil {
		return err
	}
	if maxBuf < MinBufSize {
		return fmt.Errorf("http1.max_buf_size '%s' is too small; must be at least %d bytes", *h.MaxBufSize, MinBufSize)
	}
	exact, err := h.ReadBufExactSizeBytes()
	if err != nil {
		return err
	}
	if h.ReadBufExactSize != nil && exact == 0 {
		return fmt.Errorf("http1.read_buf_exact_size cannot be zero")
	}
	if exact > maxBuf {
		return fmt.Errorf("http1.read_buf_exact_size '%s' exceeds http1.max_buf_size '%s'", *h.ReadBufExactSize, *h.MaxBufSize)
	}
	if h.WriteStrategy != nil {
		switch *h.WriteStrategy {
		case WriteStrategyFlatten, WriteStrategyQueue:
		default:
			return fmt.Errorf("http1.write_strategy '%s' is invalid; must be one of 'flatten', 'queue'", *h.WriteStrategy)
		}
	}
	if h.MaxHeaders != nil && *h.MaxHeaders <= 0 {
		return fmt.Errorf("http1.max_headers must be positive, got %d", *h.MaxHeaders)
	}
	return nil
}

func validateLogging(lg *LoggingConfig) error {
	if lg == nil {
		return fmt.Errorf("logging section is missing")
	}
	switch lg.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return fmt.Errorf("logging.log_level '%s' is invalid; must be one of 'DEBUG', 'INFO', 'WARNING', 'ERROR'", lg.LogLevel)
	}
	if lg.AccessLog != nil {
		if err := validateTarget("logging.access_log.target", lg.AccessLog.Target); err != nil {
			return err
		}
		if err := validateFormat("logging.access_log.format", lg.AccessLog.Format); err != nil {
			return err
		}
	}
	if lg.ErrorLog != nil {
		if err := validateTarget("logging.error_log.target", lg.ErrorLog.Target); err != nil {
			return err
		}
		if err := validateFormat("logging.error_log.format", lg.ErrorLog.Format); err != nil {
			return err
		}
	}
	return nil
}

func validateTarget(field string, target *string) error {
	if target == nil || *target == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if IsFilePath(*target) && !filepath.IsAbs(*target) {
		return fmt.Errorf("%s path '%s' must be absolute", field, *target)
	}
	return nil
}

func validateFormat(field, format string) error {
	switch format {
	case "json", "text":
		return nil
	}
	return fmt.Errorf("%s '%s' is invalid; must be one of 'json', 'text'", field, format)
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
