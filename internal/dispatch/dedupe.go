package dispatch

import (
	"sync"
	"time"
)

// sweepAt is the table size above which expired codes are dropped.
const sweepAt = 256

// Deduper reports codes seen again within a window.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

// NewDeduper creates a deduper. A window of 0 disables it. now defaults
// to time.Now.
func NewDeduper(window time.Duration, now func() time.Time) *Deduper {
	if now == nil {
		now = time.Now
	}
	return &Deduper{
		window: window,
		now:    now,
		seen:   make(map[string]time.Time),
	}
}

// Duplicate records code and reports whether the same code was last
// seen less than the window ago. A duplicate does not extend the window.
func (d *Deduper) Duplicate(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.window <= 0 {
		return false
	}

	now := d.now()
	if last, ok := d.seen[code]; ok && now.Sub(last) < d.window {
		return true
	}
	d.seen[code] = now

	if len(d.seen) > sweepAt {
		for c, t := range d.seen {
			if now.Sub(t) >= d.window {
				delete(d.seen, c)
			}
		}
	}
	return false
}

// SetWindow changes the window. Disabling forgets remembered codes.
func (d *Deduper) SetWindow(window time.Duration) {
	d.mu.Lock()
	d.window = window
	if window <= 0 {
		d.seen = make(map[string]time.Time)
	}
	d.mu.Unlock()
}

// Window returns the current window.
func (d *Deduper) Window() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

// Len returns how many codes are remembered.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
