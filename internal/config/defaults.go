package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/scanwedge/
//   - Linux:   ~/.local/share/scanwedge/
//   - Windows: %APPDATA%\scanwedge\
//
// SCANWEDGE_DATA_DIR overrides all of them.
func PlatformDataDir() string {
	if dir := os.Getenv("SCANWEDGE_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "scanwedge")
	case "linux":
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "scanwedge")
		}
		return filepath.Join(homeDir(), "AppData", "Roaming", "scanwedge")
	default:
		return filepath.Join(homeDir(), ".scanwedge")
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/scanwedge/
//   - Linux:   ~/.config/scanwedge/
//   - Windows: %APPDATA%\scanwedge\
func PlatformConfigDir() string {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	return PlatformDataDir()
}

// PlatformRuntimeDir returns the directory for runtime files such as
// the pid file. Empty on Windows.
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "windows":
		return ""
	case "darwin":
		return PlatformDataDir()
	default:
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "scanwedge")
		}
		return filepath.Join(os.TempDir(), "scanwedge-"+strconv.Itoa(os.Getuid()))
	}
}

func xdgDir(env, fallback string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, "scanwedge")
	}
	return filepath.Join(homeDir(), fallback, "scanwedge")
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

// DefaultPaths lists the files the daemon uses.
type DefaultPaths struct {
	DataDir    string
	ConfigDir  string
	RuntimeDir string

	ConfigFile   string
	DatabaseFile string
	PIDFile      string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()
	runtimeDir := PlatformRuntimeDir()

	p := &DefaultPaths{
		DataDir:      dataDir,
		ConfigDir:    configDir,
		RuntimeDir:   runtimeDir,
		ConfigFile:   filepath.Join(configDir, "config.toml"),
		DatabaseFile: filepath.Join(dataDir, "scans.db"),
	}
	if runtimeDir != "" {
		p.PIDFile = filepath.Join(runtimeDir, "scanwedge.pid")
	}
	return p
}

// DefaultTextEntryClasses are X11 window classes treated as visible text
// controls. Bursts typed into them are left alone.
func DefaultTextEntryClasses() []string {
	return []string{
		"gnome-terminal-server",
		"xterm",
		"kitty",
		"alacritty",
		"konsole",
		"code",
		"gedit",
		"libreoffice",
	}
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches the working directory then the config
// directory. Returns "" if none exists.
func FindConfigFile() string {
	return findConfigIn(".", PlatformConfigDir())
}

func findConfigIn(dirs ...string) string {
	for _, dir := range dirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
