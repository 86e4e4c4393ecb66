package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"scanwedge/internal/scanner"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

// Fields lists the offending fields in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

// ValidateConfig checks cross-field rules the schema cannot express and
// returns ValidationErrors or nil.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateScanner(c)...)
	errs = append(errs, validateCapture(&c.Capture)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateRedis(&c.Redis)...)
	errs = append(errs, validateHTTP(&c.HTTP)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if c.Dedupe.WindowMs < 0 {
		errs = append(errs, *RangeError("dedupe.window_ms", 0, "unbounded"))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateScanner(c *Config) ValidationErrors {
	var errs ValidationErrors
	s := &c.Scanner

	if s.MinLength < 1 {
		errs = append(errs, ValidationError{Field: "scanner.min_length", Message: "must be at least 1"})
	}
	if s.MaxInterKeyDelayMs < 1 {
		errs = append(errs, ValidationError{Field: "scanner.max_inter_key_delay_ms", Message: "must be positive"})
	}
	if s.EndTimeoutMs < 1 {
		errs = append(errs, ValidationError{Field: "scanner.end_timeout_ms", Message: "must be positive"})
	}
	if s.IdleGapMs < 1 {
		errs = append(errs, ValidationError{Field: "scanner.idle_gap_ms", Message: "must be positive"})
	}
	if s.IdleGapMs > 0 && s.IdleGapMs < s.MaxInterKeyDelayMs {
		errs = append(errs, ValidationError{
			Field:   "scanner.idle_gap_ms",
			Message: "must not be shorter than max_inter_key_delay_ms",
		})
	}

	for _, name := range s.Terminators {
		suffix, err := scanner.ParseSuffix(strings.ToLower(name))
		if err != nil || suffix == scanner.SuffixTimeout {
			errs = append(errs, ValidationError{
				Field:   "scanner.terminators",
				Message: fmt.Sprintf("unknown terminator %q (valid: enter, tab)", name),
			})
		}
	}
	return errs
}

func validateCapture(c *CaptureConfig) ValidationErrors {
	var errs ValidationErrors

	switch c.Source {
	case "evdev", "terminal":
	default:
		errs = append(errs, ValidationError{
			Field:   "capture.source",
			Message: fmt.Sprintf("invalid source: %s (valid: evdev, terminal)", c.Source),
		})
	}

	switch c.Focus {
	case "none", "":
	case "window":
		if c.Source != "evdev" {
			errs = append(errs, ValidationError{
				Field:   "capture.focus",
				Message: "window focus requires the evdev source",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "capture.focus",
			Message: fmt.Sprintf("invalid focus mode: %s (valid: none, window)", c.Focus),
		})
	}

	if c.FocusCacheMs < 0 {
		errs = append(errs, *RangeError("capture.focus_cache_ms", 0, "unbounded"))
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if !s.Enabled {
		return nil
	}
	if s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
	}
	if s.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.retention_days",
			Message: "cannot be negative (0 keeps scans forever)",
		})
	}
	return errs
}

func validateRedis(r *RedisConfig) ValidationErrors {
	var errs ValidationErrors
	if !r.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(r.Addr); err != nil {
		errs = append(errs, ValidationError{Field: "redis.addr", Message: "must be host:port"})
	}
	if r.DB < 0 {
		errs = append(errs, *RangeError("redis.db", 0, 15))
	}
	if r.Prefix == "" {
		errs = append(errs, *RequiredFieldError("redis.prefix"))
	}
	if r.RecentLimit < 0 {
		errs = append(errs, ValidationError{Field: "redis.recent_limit", Message: "cannot be negative"})
	}
	return errs
}

func validateHTTP(h *HTTPConfig) ValidationErrors {
	if !h.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(h.Listen); err != nil {
		return ValidationErrors{{Field: "http.listen", Message: "must be host:port"}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	return errs
}

// RequiredFieldError creates an error for a missing required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "required field is missing"}
}

// RangeError creates an error for a value outside its range.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
