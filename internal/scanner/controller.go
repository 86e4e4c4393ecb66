// Package scanner recognises keyboard-wedge barcode scanners by their
// typing cadence.
//
// A scanner that emulates a keyboard types a whole code in a few
// milliseconds and ends it with Enter or Tab. The Controller watches key
// presses from a keystroke.Source, buffers printable keys that are not
// aimed at a text control, and when the burst ends decides from the mean
// gap between keys whether a scanner or a person typed it. Accepted codes
// are delivered to OnScan.
//
// Each Controller owns its handler registration and its one pending
// timer. Two Controllers on the same Source both see every key; nothing
// arbitrates between them.
package scanner

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scanwedge/internal/keystroke"
	"scanwedge/internal/metrics"
)

// Suffix names what ended a scan.
type Suffix string

const (
	SuffixEnter   Suffix = "enter"
	SuffixTab     Suffix = "tab"
	SuffixTimeout Suffix = "timeout"
)

// ParseSuffix parses a terminator name.
func ParseSuffix(s string) (Suffix, error) {
	switch Suffix(s) {
	case SuffixEnter, SuffixTab, SuffixTimeout:
		return Suffix(s), nil
	}
	return "", fmt.Errorf("unknown suffix %q", s)
}

// Result is one accepted scan.
type Result struct {
	Code        string        `json:"code"`
	Suffix      Suffix        `json:"suffix"`
	SessionID   string        `json:"session_id"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Keystrokes  int           `json:"keystrokes"`
	AvgInterval time.Duration `json:"avg_interval_ns"`
}

// Thresholds are the tunable classification and timing limits.
type Thresholds struct {
	// MinLength is the minimum trimmed code length in characters.
	MinLength int `json:"min_length"`

	// MaxInterKeyDelay is the largest mean gap between keys that still
	// counts as a scanner.
	MaxInterKeyDelay time.Duration `json:"max_inter_key_delay"`

	// EndTimeout finalizes a burst after this long without a key.
	EndTimeout time.Duration `json:"end_timeout"`

	// IdleGap is the pause after which a new key starts a fresh session
	// instead of extending the current one.
	IdleGap time.Duration `json:"idle_gap"`
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLength:        4,
		MaxInterKeyDelay: 25 * time.Millisecond,
		EndTimeout:       100 * time.Millisecond,
		IdleGap:          200 * time.Millisecond,
	}
}

// Validate checks every limit is positive.
func (t Thresholds) Validate() error {
	switch {
	case t.MinLength <= 0:
		return &ConfigurationError{Field: "MinLength", Message: fmt.Sprintf("must be positive, got %d", t.MinLength)}
	case t.MaxInterKeyDelay <= 0:
		return &ConfigurationError{Field: "MaxInterKeyDelay", Message: fmt.Sprintf("must be positive, got %v", t.MaxInterKeyDelay)}
	case t.EndTimeout <= 0:
		return &ConfigurationError{Field: "EndTimeout", Message: fmt.Sprintf("must be positive, got %v", t.EndTimeout)}
	case t.IdleGap <= 0:
		return &ConfigurationError{Field: "IdleGap", Message: fmt.Sprintf("must be positive, got %v", t.IdleGap)}
	}
	return nil
}

// Options configures a Controller. Start from DefaultOptions.
type Options struct {
	// OnScan receives every accepted scan. Required.
	OnScan func(Result)

	// OnStart fires once when a session opens.
	OnStart func()

	// OnStop fires once when a session that fired OnStart ends, whatever
	// the outcome.
	OnStop func()

	// Enabled attaches the capture handler on construction.
	Enabled bool

	Thresholds

	// Terminators lists the keys that end a scan. Keys not listed are
	// ignored like any other control key and the burst ends on timeout.
	Terminators []Suffix

	Clock   Clock
	Logger  *slog.Logger
	Metrics *metrics.ScannerMetrics
}

// DefaultOptions returns enabled options with stock thresholds and both
// Enter and Tab as terminators. OnScan must still be set.
func DefaultOptions() Options {
	return Options{
		Enabled:     true,
		Thresholds:  DefaultThresholds(),
		Terminators: []Suffix{SuffixEnter, SuffixTab},
	}
}

// ConfigurationError reports an invalid option passed to New or
// Reconfigure.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("scanner: invalid %s: %s", e.Field, e.Message)
}

// Status is a snapshot of the controller.
type Status struct {
	Enabled          bool       `json:"enabled"`
	Listening        bool       `json:"listening"`
	ScannerConnected bool       `json:"scanner_connected"`
	State            string     `json:"state"`
	Buffered         int        `json:"buffered"`
	Thresholds       Thresholds `json:"thresholds"`
	Terminators      []Suffix   `json:"terminators"`
}

// effects are callbacks collected under the lock and run after it is
// released.
type effects []func()

// Controller turns key events into scan results.
type Controller struct {
	src     keystroke.Source
	clock   Clock
	log     *slog.Logger
	metrics *metrics.ScannerMetrics

	onScan  func(Result)
	onStart func()
	onStop  func()

	// lifeMu serializes attach and detach, which must run without mu held.
	lifeMu sync.Mutex

	mu          sync.Mutex
	th          Thresholds
	terminators map[Suffix]bool
	state       State
	buf         accumulator
	timer       Timer
	timerGen    uint64
	enabled     bool
	listening   bool
	listenGen   uint64
	detach      func()
	connected   bool
	closed      bool
}

// New validates opts and creates a controller reading from src. If
// opts.Enabled is set the capture handler is attached immediately; a
// source that cannot attach leaves the controller enabled but not
// listening. A nil src is treated as an unavailable source.
func New(src keystroke.Source, opts Options) (*Controller, error) {
	if opts.OnScan == nil {
		return nil, &ConfigurationError{Field: "OnScan", Message: "required"}
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	terminators := make(map[Suffix]bool, len(opts.Terminators))
	for _, t := range opts.Terminators {
		if t != SuffixEnter && t != SuffixTab {
			return nil, &ConfigurationError{Field: "Terminators", Message: fmt.Sprintf("%q is not enter or tab", t)}
		}
		terminators[t] = true
	}

	if src == nil {
		src = keystroke.UnavailableSource{Reason: "no keystroke source configured"}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{
		src:         src,
		clock:       opts.Clock,
		log:         opts.Logger.With("component", "scanner"),
		metrics:     opts.Metrics,
		onScan:      opts.OnScan,
		onStart:     opts.OnStart,
		onStop:      opts.OnStop,
		th:          opts.Thresholds,
		terminators: terminators,
	}

	if ln, ok := src.(keystroke.LossNotifier); ok {
		ln.OnLost(c.sourceLost)
	}
	if opts.Enabled {
		c.Enable()
	}
	return c, nil
}

// Enable attaches the capture handler.
func (c *Controller) Enable() {
	c.SetEnabled(true)
}

// Disable detaches the capture handler, cancels the pending timer and
// drops any open session without emitting it.
func (c *Controller) Disable() {
	c.SetEnabled(false)
}

// SetEnabled enables or disables capture. Repeating the current state is
// a no-op, except that enabling again retries a source that failed to
// attach.
func (c *Controller) SetEnabled(on bool) {
	c.run(c.setEnabled(on, false))
}

// setEnabled applies the change under lifeMu and returns the callbacks
// to run once it is released. closing marks the controller closed in the
// same section as the detach.
func (c *Controller) setEnabled(on, closing bool) effects {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if closing {
		c.closed = true
	}
	if c.enabled == on && (!on || c.listening) && !closing {
		c.mu.Unlock()
		return nil
	}
	c.enabled = on
	if on {
		c.listenGen++
		gen := c.listenGen
		c.mu.Unlock()
		c.attach(gen)
		return nil
	}
	detach, fx := c.detachLocked()
	c.mu.Unlock()

	if detach != nil {
		detach()
	}
	return fx
}

// attach subscribes to the source. Must hold lifeMu, not mu.
func (c *Controller) attach(gen uint64) {
	detach, err := c.src.Subscribe(func(ev *keystroke.KeyEvent) {
		c.handleKey(gen, ev)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		_, reason := c.src.Available()
		c.log.Warn("keystroke capture unavailable", "error", err, "reason", reason)
		c.listening = false
		c.metrics.SetListening(false)
		return
	}
	c.detach = detach
	c.listening = true
	c.metrics.SetListening(true)
	c.log.Debug("capture attached")
}

// detachLocked stops listening and discards the session. The returned
// detach func must be called after mu is released.
func (c *Controller) detachLocked() (func(), effects) {
	c.listenGen++
	detach := c.detach
	c.detach = nil
	c.listening = false
	c.metrics.SetListening(false)
	return detach, c.discardLocked()
}

// sourceLost handles a source whose devices went away. The controller
// stays enabled but stops listening, so SetEnabled(true) re-attaches.
func (c *Controller) sourceLost(reason string) {
	c.lifeMu.Lock()
	c.mu.Lock()
	if c.closed || !c.listening {
		c.mu.Unlock()
		c.lifeMu.Unlock()
		return
	}
	detach, fx := c.detachLocked()
	c.mu.Unlock()

	c.log.Warn("keystroke source lost", "reason", reason)
	if detach != nil {
		detach()
	}
	c.lifeMu.Unlock()
	c.run(fx)
}

// Reset drops the open session, if any, without emitting it. With no open
// session it has no effect.
func (c *Controller) Reset() {
	c.mu.Lock()
	fx := c.discardLocked()
	c.mu.Unlock()
	c.run(fx)
}

// Close disables the controller permanently. The source is not closed.
func (c *Controller) Close() error {
	c.run(c.setEnabled(false, true))
	return nil
}

// Reconfigure replaces the thresholds. A burst already in progress keeps
// its scheduled timeout and is classified with the new limits.
func (c *Controller) Reconfigure(th Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.th = th
	c.mu.Unlock()
	c.log.Info("thresholds updated",
		"min_length", th.MinLength,
		"max_inter_key_delay", th.MaxInterKeyDelay,
		"end_timeout", th.EndTimeout,
		"idle_gap", th.IdleGap)
	return nil
}

// ScannerConnected reports whether any scan has ever been accepted.
func (c *Controller) ScannerConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsListening reports whether the capture handler is attached.
func (c *Controller) IsListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Enabled reports whether capture is enabled.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Thresholds returns the current limits.
func (c *Controller) Thresholds() Thresholds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.th
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var terms []Suffix
	for _, s := range []Suffix{SuffixEnter, SuffixTab} {
		if c.terminators[s] {
			terms = append(terms, s)
		}
	}
	return Status{
		Enabled:          c.enabled,
		Listening:        c.listening,
		ScannerConnected: c.connected,
		State:            c.state.String(),
		Buffered:         c.buf.len(),
		Thresholds:       c.th,
		Terminators:      terms,
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// run invokes callbacks in order. A panicking callback is logged and does
// not stop the ones after it.
func (c *Controller) run(fx effects) {
	for _, f := range fx {
		c.call(f)
	}
}

func (c *Controller) call(f func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordPanic()
			c.log.Error("scan callback panicked", "panic", r)
		}
	}()
	f()
}
