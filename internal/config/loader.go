package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 100 * time.Millisecond

// Loader handles configuration loading, watching, and hot-reloading.
type Loader struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
}

// NewLoader creates a new configuration loader.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:    path,
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, checks and stores the configuration. A missing file
// yields the defaults with environment overrides applied.
func (l *Loader) Load() (*Config, error) {
	cfg, err := readConfig(l.path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Watch starts watching the configuration file for changes.
// When changes are detected, the configuration is reloaded and
// registered callbacks are invoked. An invalid file is reported on
// Errors and the previous configuration stays in effect.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) reload() {
	if l.ctx.Err() != nil {
		return
	}
	newCfg, err := readConfig(l.path)
	if err != nil {
		l.report(fmt.Errorf("reload config: %w", err))
		return
	}

	l.mu.Lock()
	l.config = newCfg
	callbacks := append([]func(*Config){}, l.onChange...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(newCfg)
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// OnChange registers a callback to be invoked when the configuration changes.
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, cb)
	l.mu.Unlock()
}

// Errors returns a channel for receiving errors that occur during watching.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops the watcher and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// readConfig decodes path over the defaults, checks the document against
// the schema, applies environment overrides and validates the result.
func readConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		doc, err := decodeDocument(path, data, cfg)
		if err != nil {
			return nil, err
		}
		if err := ValidateDocument(doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// decodeDocument decodes data into cfg and also returns the raw document
// for schema checks. The format follows the extension; unknown
// extensions are tried as TOML, JSON then YAML.
func decodeDocument(path string, data []byte, cfg *Config) (map[string]interface{}, error) {
	doc := map[string]interface{}{}

	switch filepath.Ext(path) {
	case ".toml":
		if err := decodeTOML(data, cfg, &doc); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := decodeJSON(data, cfg, &doc); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := decodeYAML(data, cfg, &doc); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg, &doc); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if doc == nil {
		doc = map[string]interface{}{}
	}
	return doc, nil
}

func decodeTOML(data []byte, cfg *Config, doc *map[string]interface{}) error {
	if err := toml.Unmarshal(data, doc); err != nil {
		return err
	}
	return toml.Unmarshal(data, cfg)
}

func decodeJSON(data []byte, cfg *Config, doc *map[string]interface{}) error {
	if err := json.Unmarshal(data, doc); err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func decodeYAML(data []byte, cfg *Config, doc *map[string]interface{}) error {
	if err := yaml.Unmarshal(data, doc); err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// autoDetectAndParse attempts to parse the config in multiple formats.
// Each attempt starts from a fresh copy so a failed decoder leaves no
// partial values behind.
func autoDetectAndParse(data []byte, cfg *Config, doc *map[string]interface{}) error {
	decoders := []func([]byte, *Config, *map[string]interface{}) error{
		decodeTOML, decodeJSON, decodeYAML,
	}
	for _, decode := range decoders {
		try := cfg.Clone()
		m := map[string]interface{}{}
		if err := decode(data, try, &m); err == nil {
			*cfg = *try
			*doc = m
			return nil
		}
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// LoadOrCreate loads the configuration from path, writing the defaults
// there first if the file does not exist. The bool reports creation.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		if err := cfg.ApplyEnvOverrides(); err != nil {
			return nil, true, fmt.Errorf("environment: %w", err)
		}
		return cfg, true, nil
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// SaveConfig writes cfg to path in the format its extension names,
// TOML by default.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML, JSON (".json") or YAML (".yaml", ".yml").
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		buf.WriteString("# scanwedge configuration\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// ConfigWatcher provides a simple interface for watching config changes.
type ConfigWatcher struct {
	loader *Loader

	mu        sync.Mutex
	current   *Config
	callbacks []func(old, new *Config)
}

// NewConfigWatcher loads path and prepares to watch it.
func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	loader := NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{loader: loader, current: cfg}, nil
}

// Start begins watching for configuration changes.
func (w *ConfigWatcher) Start() error {
	w.loader.OnChange(w.changed)
	return w.loader.Watch()
}

func (w *ConfigWatcher) changed(newCfg *Config) {
	w.mu.Lock()
	old := w.current
	w.current = newCfg
	callbacks := append([]func(old, new *Config){}, w.callbacks...)
	w.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, newCfg)
	}
}

// OnChange registers a callback for config changes.
// The callback receives both old and new configurations.
func (w *ConfigWatcher) OnChange(cb func(old, new *Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, cb)
	w.mu.Unlock()
}

// Config returns the current configuration.
func (w *ConfigWatcher) Config() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Errors reports reload failures.
func (w *ConfigWatcher) Errors() <-chan error {
	return w.loader.Errors()
}

// Stop stops watching for changes.
func (w *ConfigWatcher) Stop() error {
	return w.loader.Close()
}

// Reload forces a reload of the configuration and notifies callbacks.
func (w *ConfigWatcher) Reload() error {
	cfg, err := w.loader.Load()
	if err != nil {
		return err
	}
	w.changed(cfg)
	return nil
}
