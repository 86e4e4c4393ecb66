package keystroke

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// FocusProvider reports where keyboard focus is when an event arrives.
type FocusProvider interface {
	Focused() Target
}

// StaticFocus always reports the same target. The zero value reports
// TargetNone, so every key is eligible for capture.
type StaticFocus Target

// Focused returns the fixed target.
func (s StaticFocus) Focused() Target {
	return Target(s)
}

// WindowLookup returns the class name of the active window.
type WindowLookup func(ctx context.Context) (string, error)

// WindowFocusConfig configures WindowFocus.
type WindowFocusConfig struct {
	// TextEntryClasses are window classes whose key presses belong to a
	// visible text control (terminals, editors, office apps).
	TextEntryClasses []string

	// ExemptClasses are window classes that want scanner bursts captured
	// even though they accept text.
	ExemptClasses []string

	// CacheTTL is how long a lookup result is reused. Bursts arrive
	// within a few milliseconds, so one lookup covers a whole scan.
	CacheTTL time.Duration

	// Lookup overrides the active window query. Defaults to xdotool.
	Lookup WindowLookup
}

// DefaultWindowFocusConfig returns a config with a 250ms cache.
func DefaultWindowFocusConfig() WindowFocusConfig {
	return WindowFocusConfig{
		CacheTTL: 250 * time.Millisecond,
	}
}

// WindowFocus maps the active X11 window class to a Target.
type WindowFocus struct {
	textEntry map[string]bool
	exempt    map[string]bool
	ttl       time.Duration
	lookup    WindowLookup
	now       func() time.Time

	mu      sync.Mutex
	cached  Target
	fetched time.Time
}

// NewWindowFocus creates a window-class based focus provider.
func NewWindowFocus(cfg WindowFocusConfig) *WindowFocus {
	w := &WindowFocus{
		textEntry: classSet(cfg.TextEntryClasses),
		exempt:    classSet(cfg.ExemptClasses),
		ttl:       cfg.CacheTTL,
		lookup:    cfg.Lookup,
		now:       time.Now,
	}
	if w.lookup == nil {
		w.lookup = xdotoolWindowClass
	}
	return w
}

// Focused returns the target for the active window. Lookup failures
// report TargetNone.
func (w *WindowFocus) Focused() Target {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if !w.fetched.IsZero() && now.Sub(w.fetched) < w.ttl {
		return w.cached
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	class, err := w.lookup(ctx)
	if err != nil {
		w.cached = Target{Kind: TargetNone}
	} else {
		w.cached = w.classify(class)
	}
	w.fetched = now
	return w.cached
}

func (w *WindowFocus) classify(class string) Target {
	key := strings.ToLower(strings.TrimSpace(class))
	switch {
	case key == "":
		return Target{Kind: TargetNone}
	case w.exempt[key]:
		return Target{Kind: TargetInput, Exempt: true, Name: class}
	case w.textEntry[key]:
		return Target{Kind: TargetInput, Name: class}
	default:
		return Target{Kind: TargetOther, Name: class}
	}
}

func classSet(classes []string) map[string]bool {
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			set[c] = true
		}
	}
	return set
}

func xdotoolWindowClass(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "xdotool", "getactivewindow", "getwindowclassname").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
