package scanner

import (
	"scanwedge/internal/keystroke"
)

// handleKey is the capture handler installed on the source. gen ties it to
// one attach; events delivered after a detach are ignored.
func (c *Controller) handleKey(gen uint64, ev *keystroke.KeyEvent) {
	c.mu.Lock()
	if gen != c.listenGen || !c.enabled {
		c.mu.Unlock()
		return
	}

	if ev.Target.IsTextEntry() {
		c.metrics.RecordFiltered()
		c.mu.Unlock()
		return
	}

	var fx effects
	switch ev.Type() {
	case keystroke.InputTypeReturn:
		fx = c.terminateLocked(ev, SuffixEnter)
	case keystroke.InputTypeTab:
		fx = c.terminateLocked(ev, SuffixTab)
	case keystroke.InputTypeCharacter:
		r, _ := ev.Rune()
		fx = c.appendLocked(r)
	}
	c.mu.Unlock()

	c.run(fx)
}

// terminateLocked finalizes on an enabled terminator and consumes it so
// the key does not also reach the focused element.
func (c *Controller) terminateLocked(ev *keystroke.KeyEvent, suffix Suffix) effects {
	if !c.terminators[suffix] {
		return nil
	}
	ev.Consume()
	return c.finalizeLocked(suffix)
}

// appendLocked buffers r. A key arriving after the idle gap first discards
// the stale session, so OnStop for the old session runs before OnStart
// for the new one.
func (c *Controller) appendLocked(r rune) effects {
	now := c.clock.Now()

	var fx effects
	if c.state == StateBuffering && c.buf.stale(now, c.th.IdleGap) {
		c.log.Debug("idle gap exceeded, discarding stale session",
			"session", c.buf.id, "buffered", c.buf.len())
		fx = append(fx, c.discardLocked()...)
	}

	next, err := Next(c.state, EventKeystroke)
	if err != nil {
		c.log.Error("keystroke rejected by state machine", "error", err)
		return fx
	}

	if c.state == StateIdle {
		c.buf.begin(now)
		c.metrics.SessionStarted()
		if c.onStart != nil {
			fx = append(fx, c.onStart)
		}
	}

	gap := c.buf.add(r, now)
	c.metrics.RecordKeystroke(gap)
	c.state = next
	c.scheduleLocked()
	return fx
}

// scheduleLocked replaces the pending end-of-burst timer.
func (c *Controller) scheduleLocked() {
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(c.th.EndTimeout, func() {
		c.onTimeout(gen)
	})
}

// stopTimerLocked cancels the pending timer. Bumping the generation makes
// a fire that already left the timer queue a no-op.
func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

// discardLocked drops the session without classifying it and returns
// OnStop if a session was open.
func (c *Controller) discardLocked() effects {
	c.stopTimerLocked()
	wasOpen := c.state == StateBuffering
	c.buf.clear()
	c.state = StateIdle
	if wasOpen && c.onStop != nil {
		return effects{c.onStop}
	}
	return nil
}
