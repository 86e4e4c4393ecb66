package keystroke

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// Profile describes the cadence of a synthetic keystroke burst.
type Profile struct {
	Name        string
	Description string

	// MeanInterval is the average gap between key presses.
	MeanInterval time.Duration

	// Jitter is the standard deviation of the gap.
	Jitter time.Duration

	// MinInterval clamps the low end of the distribution.
	MinInterval time.Duration
}

var profiles = map[string]Profile{
	"scanner": {
		Name:         "scanner",
		Description:  "Keyboard-wedge scanner emitting a decoded barcode",
		MeanInterval: 4 * time.Millisecond,
		Jitter:       2 * time.Millisecond,
		MinInterval:  time.Millisecond,
	},
	"slow-scanner": {
		Name:         "slow-scanner",
		Description:  "Bluetooth scanner with a throttled HID report rate",
		MeanInterval: 16 * time.Millisecond,
		Jitter:       4 * time.Millisecond,
		MinInterval:  8 * time.Millisecond,
	},
	"fast-typist": {
		Name:         "fast-typist",
		Description:  "Experienced typist with quick, consistent pace",
		MeanInterval: 110 * time.Millisecond,
		Jitter:       40 * time.Millisecond,
		MinInterval:  40 * time.Millisecond,
	},
	"human": {
		Name:         "human",
		Description:  "Typical human typing with natural variation",
		MeanInterval: 220 * time.Millisecond,
		Jitter:       90 * time.Millisecond,
		MinInterval:  60 * time.Millisecond,
	},
}

// LookupProfile returns the named profile.
func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// Profiles returns all profile names in sorted order.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Intervals draws n gaps from the profile's normal distribution.
func (p Profile) Intervals(n int, rng *rand.Rand) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		d := float64(p.MeanInterval) + rng.NormFloat64()*float64(p.Jitter)
		d = math.Max(d, float64(p.MinInterval))
		out[i] = time.Duration(d)
	}
	return out
}

// Burst generates the key events a source would deliver for code typed
// with the profile's cadence, followed by terminator if it is not empty.
// The first key lands at start.
func (p Profile) Burst(code, terminator string, start time.Time, rng *rand.Rand) []KeyEvent {
	keys := make([]string, 0, len(code)+1)
	for _, r := range code {
		keys = append(keys, string(r))
	}
	if terminator != "" {
		keys = append(keys, terminator)
	}

	gaps := p.Intervals(len(keys), rng)
	events := make([]KeyEvent, len(keys))
	ts := start
	for i, key := range keys {
		if i > 0 {
			ts = ts.Add(gaps[i])
		}
		events[i] = KeyEvent{Key: key, Timestamp: ts, Source: SourceSimulated}
	}
	return events
}
