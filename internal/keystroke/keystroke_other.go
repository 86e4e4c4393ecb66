//go:build !linux

package keystroke

import "log/slog"

// NewPlatformSource returns an unavailable source on platforms without a
// native capture backend. Use TerminalSource instead.
func NewPlatformSource(devices []string, focus FocusProvider, logger *slog.Logger) Source {
	return UnavailableSource{Reason: "evdev capture is only implemented on linux"}
}
