// Package config handles configuration loading and validation for scanwedge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"scanwedge/internal/keystroke"
	"scanwedge/internal/logging"
	"scanwedge/internal/scanner"
)

// Version is the current configuration format version.
const Version = 1

// Config is the complete daemon configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Scanner ScannerConfig `toml:"scanner" json:"scanner" yaml:"scanner"`
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`
	Dedupe  DedupeConfig  `toml:"dedupe" json:"dedupe" yaml:"dedupe"`
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`
	Redis   RedisConfig   `toml:"redis" json:"redis" yaml:"redis"`
	DBus    DBusConfig    `toml:"dbus" json:"dbus" yaml:"dbus"`
	HTTP    HTTPConfig    `toml:"http" json:"http" yaml:"http"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// ScannerConfig holds the burst classification limits.
type ScannerConfig struct {
	// Enabled attaches the capture handler at startup.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// MinLength is the shortest code accepted, in runes after trimming.
	MinLength int `toml:"min_length" json:"min_length" yaml:"min_length"`

	// MaxInterKeyDelayMs caps the mean gap between keys of a scan.
	MaxInterKeyDelayMs int `toml:"max_inter_key_delay_ms" json:"max_inter_key_delay_ms" yaml:"max_inter_key_delay_ms"`

	// EndTimeoutMs ends a burst that has no terminator.
	EndTimeoutMs int `toml:"end_timeout_ms" json:"end_timeout_ms" yaml:"end_timeout_ms"`

	// IdleGapMs is the pause after which a key starts a new session.
	IdleGapMs int `toml:"idle_gap_ms" json:"idle_gap_ms" yaml:"idle_gap_ms"`

	// Terminators is any of "enter", "tab". An empty list leaves only
	// the timeout.
	Terminators []string `toml:"terminators" json:"terminators" yaml:"terminators"`
}

// CaptureConfig selects where key events come from.
type CaptureConfig struct {
	// Source is "evdev" or "terminal".
	Source string `toml:"source" json:"source" yaml:"source"`

	// Devices restricts evdev to these /dev/input nodes. Empty means
	// every keyboard.
	Devices []string `toml:"devices" json:"devices" yaml:"devices"`

	// Focus is "none" (always capture) or "window" (look up the active
	// window class).
	Focus string `toml:"focus" json:"focus" yaml:"focus"`

	TextEntryClasses []string `toml:"text_entry_classes" json:"text_entry_classes" yaml:"text_entry_classes"`
	ExemptClasses    []string `toml:"exempt_classes" json:"exempt_classes" yaml:"exempt_classes"`
	FocusCacheMs     int      `toml:"focus_cache_ms" json:"focus_cache_ms" yaml:"focus_cache_ms"`
}

// DedupeConfig drops repeated codes.
type DedupeConfig struct {
	// WindowMs is how long an identical code is suppressed. 0 disables.
	WindowMs int `toml:"window_ms" json:"window_ms" yaml:"window_ms"`
}

// StorageConfig controls the sqlite scan history.
type StorageConfig struct {
	Enabled       bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path          string `toml:"path" json:"path" yaml:"path"`
	RetentionDays int    `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// RedisConfig controls publishing scans to redis.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Addr     string `toml:"addr" json:"addr" yaml:"addr"`
	Password string `toml:"password" json:"password" yaml:"password"`
	DB       int    `toml:"db" json:"db" yaml:"db"`

	// Prefix namespaces the channel and list keys.
	Prefix string `toml:"prefix" json:"prefix" yaml:"prefix"`

	// RecentLimit caps the <prefix>:recent list.
	RecentLimit int `toml:"recent_limit" json:"recent_limit" yaml:"recent_limit"`
}

// DBusConfig controls the session bus service.
type DBusConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// HTTPConfig controls the status and control API.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level       string `toml:"level" json:"level" yaml:"level"`
	Format      string `toml:"format" json:"format" yaml:"format"`
	Output      string `toml:"output" json:"output" yaml:"output"`
	FilePath    string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB   int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	Compress    bool   `toml:"compress" json:"compress" yaml:"compress"`
	RedactCodes bool   `toml:"redact_codes" json:"redact_codes" yaml:"redact_codes"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	th := scanner.DefaultThresholds()
	paths := GetDefaultPaths()

	return &Config{
		Version: Version,
		Scanner: ScannerConfig{
			Enabled:            true,
			MinLength:          th.MinLength,
			MaxInterKeyDelayMs: int(th.MaxInterKeyDelay / time.Millisecond),
			EndTimeoutMs:       int(th.EndTimeout / time.Millisecond),
			IdleGapMs:          int(th.IdleGap / time.Millisecond),
			Terminators:        []string{string(scanner.SuffixEnter), string(scanner.SuffixTab)},
		},
		Capture: CaptureConfig{
			Source:           "evdev",
			Devices:          []string{},
			Focus:            "none",
			TextEntryClasses: DefaultTextEntryClasses(),
			ExemptClasses:    []string{},
			FocusCacheMs:     250,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          paths.DatabaseFile,
			RetentionDays: 90,
		},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			Prefix:      "scanwedge",
			RecentLimit: 100,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8765",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  20,
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path. A missing file
// yields the defaults. The format follows the file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	return NewLoader(path).Load()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Storage.Enabled && c.Storage.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies SCANWEDGE_* environment variables on top
// of the configuration. Malformed numbers are reported and left unset.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidationErrors

	envBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, ValidationError{Field: name, Message: "not a boolean: " + v})
				return
			}
			*dst = b
		}
	}
	envInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, ValidationError{Field: name, Message: "not an integer: " + v})
				return
			}
			*dst = n
		}
	}
	envString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	envBool("SCANWEDGE_ENABLED", &c.Scanner.Enabled)
	envInt("SCANWEDGE_MIN_LENGTH", &c.Scanner.MinLength)
	envInt("SCANWEDGE_MAX_INTER_KEY_DELAY_MS", &c.Scanner.MaxInterKeyDelayMs)
	envInt("SCANWEDGE_END_TIMEOUT_MS", &c.Scanner.EndTimeoutMs)
	envInt("SCANWEDGE_IDLE_GAP_MS", &c.Scanner.IdleGapMs)
	if v, ok := os.LookupEnv("SCANWEDGE_TERMINATORS"); ok {
		c.Scanner.Terminators = splitList(v)
	}

	envString("SCANWEDGE_CAPTURE_SOURCE", &c.Capture.Source)
	envString("SCANWEDGE_FOCUS", &c.Capture.Focus)
	envInt("SCANWEDGE_DEDUPE_MS", &c.Dedupe.WindowMs)

	envString("SCANWEDGE_STORAGE_PATH", &c.Storage.Path)

	envBool("SCANWEDGE_REDIS_ENABLED", &c.Redis.Enabled)
	envString("SCANWEDGE_REDIS_ADDR", &c.Redis.Addr)
	envString("SCANWEDGE_REDIS_PASSWORD", &c.Redis.Password)

	envBool("SCANWEDGE_DBUS_ENABLED", &c.DBus.Enabled)
	envString("SCANWEDGE_HTTP_LISTEN", &c.HTTP.Listen)

	envString("SCANWEDGE_LOG_LEVEL", &c.Logging.Level)
	envString("SCANWEDGE_LOG_FORMAT", &c.Logging.Format)
	envString("SCANWEDGE_LOG_PATH", &c.Logging.FilePath)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Scanner.Terminators = append([]string{}, c.Scanner.Terminators...)
	clone.Capture.Devices = append([]string{}, c.Capture.Devices...)
	clone.Capture.TextEntryClasses = append([]string{}, c.Capture.TextEntryClasses...)
	clone.Capture.ExemptClasses = append([]string{}, c.Capture.ExemptClasses...)
	return &clone
}

// Thresholds converts the scanner section.
func (c *Config) Thresholds() scanner.Thresholds {
	ms := time.Millisecond
	return scanner.Thresholds{
		MinLength:        c.Scanner.MinLength,
		MaxInterKeyDelay: time.Duration(c.Scanner.MaxInterKeyDelayMs) * ms,
		EndTimeout:       time.Duration(c.Scanner.EndTimeoutMs) * ms,
		IdleGap:          time.Duration(c.Scanner.IdleGapMs) * ms,
	}
}

// Terminators parses the configured terminator names.
func (c *Config) Terminators() ([]scanner.Suffix, error) {
	out := make([]scanner.Suffix, 0, len(c.Scanner.Terminators))
	for _, name := range c.Scanner.Terminators {
		s, err := scanner.ParseSuffix(strings.ToLower(name))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DedupeWindow returns the dedupe window as a duration.
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.Dedupe.WindowMs) * time.Millisecond
}

// Retention returns how long scans are kept, or 0 for forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
}

// WindowFocus converts the capture section.
func (c *Config) WindowFocus() keystroke.WindowFocusConfig {
	cfg := keystroke.DefaultWindowFocusConfig()
	cfg.TextEntryClasses = c.Capture.TextEntryClasses
	cfg.ExemptClasses = c.Capture.ExemptClasses
	if c.Capture.FocusCacheMs > 0 {
		cfg.CacheTTL = time.Duration(c.Capture.FocusCacheMs) * time.Millisecond
	}
	return cfg
}

// LoggerConfig converts the logging section.
func (l LoggingConfig) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = l.Output
	if l.FilePath != "" {
		cfg.FilePath = l.FilePath
	}
	cfg.MaxSize = int64(l.MaxSizeMB)
	cfg.MaxBackups = l.MaxBackups
	cfg.Compress = l.Compress
	cfg.RedactCodes = l.RedactCodes
	return cfg, nil
}
