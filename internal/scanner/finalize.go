package scanner

// onTimeout runs on the clock's goroutine when a burst goes quiet.
func (c *Controller) onTimeout(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || !CanTransition(c.state, EventTimeoutFired) {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	fx := c.finalizeLocked(SuffixTimeout)
	c.mu.Unlock()

	c.run(fx)
}

func eventFor(suffix Suffix) Event {
	if suffix == SuffixTimeout {
		return EventTimeoutFired
	}
	return EventTerminator
}

// finalizeLocked ends the burst: the timer is cancelled and the buffer
// emptied before any callback is queued, so a panicking callback cannot
// leave state behind. OnScan is queued before OnStop.
func (c *Controller) finalizeLocked(suffix Suffix) effects {
	c.stopTimerLocked()

	from := c.state
	next, err := Next(from, eventFor(suffix))
	if err != nil {
		c.log.Debug("finalize ignored", "error", err)
		return nil
	}
	started := from == StateBuffering

	verdict := Classifier{
		MinLength:        c.th.MinLength,
		MaxInterKeyDelay: c.th.MaxInterKeyDelay,
	}.Classify(c.buf.String(), c.buf.stamps)

	now := c.clock.Now()
	if started && (now.IsZero() || now.Before(c.buf.last())) {
		verdict = Verdict{Code: verdict.Code, Reason: ReasonClockUnavailable}
	}

	res := Result{
		Code:        verdict.Code,
		Suffix:      suffix,
		SessionID:   c.buf.id,
		StartedAt:   c.buf.started,
		EndedAt:     now,
		Keystrokes:  c.buf.len(),
		AvgInterval: verdict.AvgInterval,
	}

	c.buf.clear()
	c.state = next

	var fx effects
	switch {
	case verdict.Accepted:
		c.connected = true
		c.metrics.RecordAccepted(now)
		c.log.Debug("scan accepted",
			"session", res.SessionID, "suffix", suffix,
			"keystrokes", res.Keystrokes, "avg_interval", res.AvgInterval)
		onScan := c.onScan
		fx = append(fx, func() { onScan(res) })
	case started:
		c.metrics.RecordRejected(string(verdict.Reason))
		c.log.Debug("burst rejected",
			"session", res.SessionID, "suffix", suffix,
			"reason", verdict.Reason, "keystrokes", res.Keystrokes,
			"avg_interval", verdict.AvgInterval)
	}

	if started && c.onStop != nil {
		fx = append(fx, c.onStop)
	}
	return fx
}
