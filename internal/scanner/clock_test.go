package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockFiresInOrder(t *testing.T) {
	start := time.Unix(100, 0)
	clk := NewManualClock(start)

	var fired []string
	var seen []time.Time
	clk.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "b"); seen = append(seen, clk.Now()) })
	clk.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a"); seen = append(seen, clk.Now()) })
	clk.AfterFunc(90*time.Millisecond, func() { fired = append(fired, "c") })

	clk.Advance(50 * time.Millisecond)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, []time.Time{start.Add(10 * time.Millisecond), start.Add(30 * time.Millisecond)}, seen)
	assert.Equal(t, start.Add(50*time.Millisecond), clk.Now())
	assert.Equal(t, 1, clk.Pending())
}

func TestManualClockStop(t *testing.T) {
	clk := NewManualClock(time.Unix(0, 0))
	fired := false
	tm := clk.AfterFunc(time.Millisecond, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	clk.Advance(time.Second)

	assert.False(t, fired)
	assert.Zero(t, clk.Pending())
}

func TestManualClockTimerScheduledByTimer(t *testing.T) {
	clk := NewManualClock(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		clk.AfterFunc(10*time.Millisecond, tick)
	}
	clk.AfterFunc(10*time.Millisecond, tick)

	clk.Advance(35 * time.Millisecond)
	assert.Equal(t, 3, count)
}

func TestManualClockUnavailable(t *testing.T) {
	clk := NewManualClock(time.Unix(5, 0))
	clk.SetUnavailable(true)
	assert.True(t, clk.Now().IsZero())
	clk.SetUnavailable(false)
	assert.Equal(t, time.Unix(5, 0), clk.Now())
}

func TestSystemClock(t *testing.T) {
	done := make(chan struct{})
	SystemClock{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, SystemClock{}.Now().IsZero())
}
