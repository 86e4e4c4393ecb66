package scanner

import (
	"time"

	"github.com/google/uuid"
)

// accumulator holds the burst in progress. runes and stamps always have
// the same length; stamps[i] is when runes[i] was accepted.
type accumulator struct {
	id      string
	started time.Time
	runes   []rune
	stamps  []time.Time
}

// begin opens a new session.
func (a *accumulator) begin(now time.Time) {
	a.clear()
	a.id = uuid.NewString()
	a.started = now
}

// add appends r accepted at ts and returns the gap to the previous key,
// or zero for the first key.
func (a *accumulator) add(r rune, ts time.Time) time.Duration {
	var gap time.Duration
	if n := len(a.stamps); n > 0 {
		gap = ts.Sub(a.stamps[n-1])
	}
	a.runes = append(a.runes, r)
	a.stamps = append(a.stamps, ts)
	return gap
}

// last returns the timestamp of the most recent key.
func (a *accumulator) last() time.Time {
	if len(a.stamps) == 0 {
		return time.Time{}
	}
	return a.stamps[len(a.stamps)-1]
}

// stale reports whether now is more than gap past the last key.
func (a *accumulator) stale(now time.Time, gap time.Duration) bool {
	return len(a.stamps) > 0 && now.Sub(a.last()) > gap
}

func (a *accumulator) len() int {
	return len(a.runes)
}

func (a *accumulator) String() string {
	return string(a.runes)
}

// clear empties the buffer. Backing arrays are dropped so a finished code
// does not linger in memory.
func (a *accumulator) clear() {
	a.id = ""
	a.started = time.Time{}
	a.runes = nil
	a.stamps = nil
}
