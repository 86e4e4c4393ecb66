package scanner

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwedge/internal/keystroke"
	"scanwedge/internal/metrics"
)

type recorder struct {
	mu     sync.Mutex
	scans  []Result
	starts int
	stops  int
}

func (r *recorder) onScan(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, res)
}

func (r *recorder) onStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *recorder) onStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *recorder) codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.scans {
		out = append(out, s.Code)
	}
	return out
}

type harness struct {
	c   *Controller
	src *keystroke.SimulatedSource
	clk *ManualClock
	rec *recorder
	m   *metrics.ScannerMetrics
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		src: keystroke.NewSimulated(),
		clk: NewManualClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		rec: &recorder{},
		m:   metrics.NewScannerMetrics(metrics.NewRegistry("test", "")),
	}

	opts := DefaultOptions()
	opts.OnScan = h.rec.onScan
	opts.OnStart = h.rec.onStart
	opts.OnStop = h.rec.onStop
	opts.Clock = h.clk
	opts.Metrics = h.m
	if mutate != nil {
		mutate(&opts)
	}

	c, err := New(h.src, opts)
	require.NoError(t, err)
	h.c = c
	t.Cleanup(func() { c.Close() })
	return h
}

// typeString presses each character of s, gap apart.
func (h *harness) typeString(s string, gap time.Duration) {
	first := true
	for _, r := range s {
		if !first {
			h.clk.Advance(gap)
		}
		first = false
		h.src.Press(string(r))
	}
}

func (h *harness) typeGaps(s string, gaps []time.Duration) {
	i := 0
	for _, r := range s {
		if i > 0 {
			h.clk.Advance(gaps[i-1])
		}
		i++
		h.src.Press(string(r))
	}
}

func (h *harness) assertIdle(t *testing.T) {
	t.Helper()
	assert.Equal(t, StateIdle, h.c.State())
	assert.Zero(t, h.c.Status().Buffered)
	assert.Zero(t, h.clk.Pending(), "no timer may remain pending")
}

// =============================================================================
// Scenarios
// =============================================================================

func TestScenarioFastDigitsThenEnter(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("1234", 5*time.Millisecond)
	h.clk.Advance(5 * time.Millisecond)
	consumed := h.src.Press(keystroke.KeyEnter)

	require.Len(t, h.rec.scans, 1)
	res := h.rec.scans[0]
	assert.Equal(t, "1234", res.Code)
	assert.Equal(t, SuffixEnter, res.Suffix)
	assert.Equal(t, 4, res.Keystrokes)
	assert.Equal(t, 5*time.Millisecond, res.AvgInterval)
	assert.NotEmpty(t, res.SessionID)
	assert.True(t, res.EndedAt.After(res.StartedAt))
	assert.True(t, consumed, "enter must be consumed")
	assert.Equal(t, 1, h.rec.starts)
	assert.Equal(t, 1, h.rec.stops)
	assert.True(t, h.c.ScannerConnected())
	h.assertIdle(t)
}

func TestScenarioSlowDigitsThenEnter(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("1234", 300*time.Millisecond)
	h.clk.Advance(300 * time.Millisecond)
	h.src.Press(keystroke.KeyEnter)

	assert.Empty(t, h.rec.scans)
	assert.False(t, h.c.ScannerConnected())
	assert.Equal(t, h.rec.starts, h.rec.stops)
	h.assertIdle(t)
}

func TestScenarioShortBurstTimesOut(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("12", 5*time.Millisecond)
	require.Equal(t, 1, h.clk.Pending())

	h.clk.Advance(150 * time.Millisecond)

	assert.Empty(t, h.rec.scans)
	assert.Equal(t, 1, h.rec.starts)
	assert.Equal(t, 1, h.rec.stops)
	assert.Equal(t, uint64(1), h.m.RejectedCount(string(ReasonTooShort)))
	h.assertIdle(t)
}

func TestScenarioTextInputFocusFiltersEverything(t *testing.T) {
	h := newHarness(t, nil)
	h.src.SetFocus(keystroke.Target{Kind: keystroke.TargetInput})

	h.typeString("5678", 3*time.Millisecond)
	h.clk.Advance(3 * time.Millisecond)
	consumed := h.src.Press(keystroke.KeyEnter)
	h.clk.Advance(time.Second)

	assert.Empty(t, h.rec.scans)
	assert.Zero(t, h.rec.starts)
	assert.Zero(t, h.rec.stops)
	assert.False(t, consumed, "enter in a text input belongs to the input")
	assert.Equal(t, uint64(5), h.m.FilteredTotal.Value())
	h.assertIdle(t)
}

func TestScenarioAlphanumericThenTab(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("ABCD1234", 12*time.Millisecond)
	h.clk.Advance(12 * time.Millisecond)
	consumed := h.src.Press(keystroke.KeyTab)

	require.Len(t, h.rec.scans, 1)
	assert.Equal(t, "ABCD1234", h.rec.scans[0].Code)
	assert.Equal(t, SuffixTab, h.rec.scans[0].Suffix)
	assert.True(t, consumed)
	h.assertIdle(t)
}

// =============================================================================
// Properties
// =============================================================================

func TestShortSequencesNeverScan(t *testing.T) {
	for _, code := range []string{"1", "12", "123", " 12 "} {
		h := newHarness(t, nil)
		h.typeString(code, time.Millisecond)
		h.clk.Advance(time.Millisecond)
		h.src.Press(keystroke.KeyEnter)

		assert.Empty(t, h.rec.scans, "code %q", code)
		h.assertIdle(t)
	}
}

func TestFastSequencesScanOnceWithAnyTerminator(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-.")

	for _, suffix := range []Suffix{SuffixEnter, SuffixTab, SuffixTimeout} {
		for trial := 0; trial < 20; trial++ {
			n := 4 + rng.Intn(12)
			code := make([]rune, n)
			gaps := make([]time.Duration, n-1)
			for i := range code {
				code[i] = alphabet[rng.Intn(len(alphabet))]
			}
			for i := range gaps {
				gaps[i] = time.Duration(rng.Int63n(int64(25*time.Millisecond) + 1))
			}

			h := newHarness(t, nil)
			h.typeGaps(string(code), gaps)
			switch suffix {
			case SuffixEnter:
				h.src.Press(keystroke.KeyEnter)
			case SuffixTab:
				h.src.Press(keystroke.KeyTab)
			case SuffixTimeout:
				h.clk.Advance(100 * time.Millisecond)
			}

			require.Len(t, h.rec.scans, 1, "suffix %s code %q gaps %v", suffix, string(code), gaps)
			assert.Equal(t, string(code), h.rec.scans[0].Code)
			assert.Equal(t, suffix, h.rec.scans[0].Suffix)
			h.assertIdle(t)
		}
	}
}

func TestSlowMeanNeverScans(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("0123456789", 30*time.Millisecond)
	h.clk.Advance(30 * time.Millisecond)
	h.src.Press(keystroke.KeyEnter)

	assert.Empty(t, h.rec.scans)
	assert.Equal(t, uint64(1), h.m.RejectedCount(string(ReasonTooSlow)))
	h.assertIdle(t)
}

func TestSinglePauseBiasesMean(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.EndTimeout = time.Second
		o.IdleGap = time.Second
	})

	// Eight 2ms gaps and one 150ms pause average to about 18ms.
	gaps := []time.Duration{2, 2, 2, 2, 150, 2, 2, 2, 2}
	for i := range gaps {
		gaps[i] *= time.Millisecond
	}
	h.typeGaps("1234567890", gaps)
	h.src.Press(keystroke.KeyEnter)

	require.Len(t, h.rec.scans, 1)
	assert.Equal(t, "1234567890", h.rec.scans[0].Code)
}

func TestTrimmedCode(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString(" 4006381333931 ", 3*time.Millisecond)
	h.src.Press(keystroke.KeyEnter)

	require.Len(t, h.rec.scans, 1)
	assert.Equal(t, "4006381333931", h.rec.scans[0].Code)
	assert.Equal(t, 15, h.rec.scans[0].Keystrokes)
}

func TestResetWithoutSessionIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Reset()

	assert.Zero(t, h.rec.starts)
	assert.Zero(t, h.rec.stops)
	assert.Empty(t, h.rec.scans)
	assert.True(t, h.c.IsListening())
	h.assertIdle(t)
}

func TestResetDropsOpenSession(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("123", time.Millisecond)
	h.c.Reset()
	h.clk.Advance(time.Second)

	assert.Empty(t, h.rec.scans)
	assert.Equal(t, 1, h.rec.stops)
	h.assertIdle(t)

	h.typeString("9876", time.Millisecond)
	h.src.Press(keystroke.KeyEnter)
	assert.Equal(t, []string{"9876"}, h.rec.codes())
}

func TestDisableMidSession(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("12345", 2*time.Millisecond)
	h.c.Disable()
	h.c.Disable()
	h.clk.Advance(time.Second)
	h.src.Press(keystroke.KeyEnter)

	assert.Empty(t, h.rec.scans)
	assert.Equal(t, 1, h.rec.stops)
	assert.False(t, h.c.IsListening())
	assert.Zero(t, h.src.HandlerCount())
	h.assertIdle(t)
}

func TestEnableDisableCyclesLeaveNothingBehind(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 5; i++ {
		h.typeString("12", time.Millisecond)
		h.c.SetEnabled(false)
		assert.Zero(t, h.src.HandlerCount())
		assert.Zero(t, h.clk.Pending())
		h.c.SetEnabled(true)
		assert.Equal(t, 1, h.src.HandlerCount())
	}

	h.typeString("5555", time.Millisecond)
	h.src.Press(keystroke.KeyEnter)
	assert.Equal(t, []string{"5555"}, h.rec.codes())
	assert.Equal(t, h.rec.starts, h.rec.stops)
}

func TestIdleGapStartsFreshSession(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.EndTimeout = time.Second
	})

	h.typeString("ab", 2*time.Millisecond)
	h.clk.Advance(300 * time.Millisecond)
	h.typeString("1234", 2*time.Millisecond)
	h.src.Press(keystroke.KeyEnter)

	assert.Equal(t, []string{"1234"}, h.rec.codes())
	assert.Equal(t, 2, h.rec.starts)
	assert.Equal(t, 2, h.rec.stops)
}

func TestStartFiresOncePerSession(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("12345678", time.Millisecond)
	assert.Equal(t, 1, h.rec.starts)
	assert.Zero(t, h.rec.stops)
	assert.Equal(t, StateBuffering, h.c.State())
}

func TestControlKeysIgnored(t *testing.T) {
	h := newHarness(t, nil)

	h.src.Press("1")
	h.src.Press(keystroke.KeyShift)
	h.src.Press("2")
	h.src.Press(keystroke.KeyLeft)
	h.src.Press("F5")
	h.src.Press("3")
	h.src.Press("4")
	h.src.Press(keystroke.KeyEnter)

	assert.Equal(t, []string{"1234"}, h.rec.codes())
}

func TestEnterWithEmptyBufferIsSilent(t *testing.T) {
	h := newHarness(t, nil)

	h.src.Press(keystroke.KeyEnter)

	assert.Empty(t, h.rec.scans)
	assert.Zero(t, h.rec.stops)
	assert.Zero(t, h.m.RejectedCount(string(ReasonTooShort)))
	h.assertIdle(t)
}

func TestTerminatorSubset(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Terminators = []Suffix{SuffixEnter}
	})

	h.typeString("ABCD", 2*time.Millisecond)
	consumed := h.src.Press(keystroke.KeyTab)
	assert.False(t, consumed)
	assert.Empty(t, h.rec.scans)

	h.clk.Advance(100 * time.Millisecond)
	require.Len(t, h.rec.scans, 1)
	assert.Equal(t, SuffixTimeout, h.rec.scans[0].Suffix)
}

func TestClockUnavailableFailsClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.clk.SetUnavailable(true)

	assert.NotPanics(t, func() {
		h.typeString("12345", time.Millisecond)
		h.src.Press(keystroke.KeyEnter)
	})

	assert.Empty(t, h.rec.scans)
	assert.Equal(t, 1, h.rec.stops)
	assert.Equal(t, uint64(1), h.m.RejectedCount(string(ReasonClockUnavailable)))
	h.assertIdle(t)
}

func TestPanickingCallbackIsRecovered(t *testing.T) {
	calls := 0
	h := newHarness(t, func(o *Options) {
		o.OnScan = func(Result) {
			calls++
			panic("boom")
		}
	})

	assert.NotPanics(t, func() {
		h.typeString("1111", time.Millisecond)
		h.src.Press(keystroke.KeyEnter)
	})
	assert.Equal(t, 1, h.rec.stops, "OnStop still runs after OnScan panics")
	assert.Equal(t, uint64(1), h.m.CallbackPanics.Value())
	h.assertIdle(t)

	h.typeString("2222", time.Millisecond)
	h.src.Press(keystroke.KeyEnter)
	assert.Equal(t, 2, calls)
}

func TestScannerConnectedIsSticky(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.c.ScannerConnected())

	h.typeString("1234", time.Millisecond)
	h.src.Press(keystroke.KeyEnter)
	require.True(t, h.c.ScannerConnected())

	h.typeString("12", 300*time.Millisecond)
	h.src.Press(keystroke.KeyEnter)
	h.c.Reset()
	h.c.Disable()
	assert.True(t, h.c.ScannerConnected())
}

func TestCallbacksMayReenterController(t *testing.T) {
	var c *Controller
	h := newHarness(t, func(o *Options) {
		o.OnScan = func(Result) {
			c.Reset()
			c.Disable()
		}
	})
	c = h.c

	h.typeString("1234", time.Millisecond)
	h.src.Press(keystroke.KeyEnter)

	assert.False(t, h.c.IsListening())
	h.assertIdle(t)
}

func TestOnStopMayReenterLifecycle(t *testing.T) {
	var c *Controller
	stops := 0
	h := newHarness(t, func(o *Options) {
		o.OnStop = func() {
			stops++
			c.SetEnabled(false)
			c.Enable()
			c.Close()
		}
	})
	c = h.c

	h.typeString("12", time.Millisecond)
	require.Equal(t, StateBuffering, h.c.State())

	done := make(chan struct{})
	go func() {
		h.c.Disable()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disable blocked while OnStop re-entered the controller")
	}

	assert.Equal(t, 1, stops)
	assert.False(t, h.c.IsListening())
	assert.Equal(t, 0, h.src.HandlerCount())

	h.c.Enable()
	assert.False(t, h.c.IsListening(), "closed controller stays detached")
}

func TestSourceLossStopsListening(t *testing.T) {
	h := newHarness(t, nil)
	h.typeString("12", time.Millisecond)
	require.True(t, h.c.IsListening())

	h.src.NotifyLost("unplugged")

	assert.False(t, h.c.IsListening())
	assert.True(t, h.c.Enabled())
	assert.Equal(t, 1, h.rec.stops)
	assert.Equal(t, 0, h.src.HandlerCount())
	h.assertIdle(t)

	h.c.Enable()
	assert.True(t, h.c.IsListening())
	assert.Equal(t, 1, h.src.HandlerCount())

	h.typeString("4006381333931", time.Millisecond)
	h.src.Press(keystroke.KeyEnter)
	assert.Equal(t, []string{"4006381333931"}, h.rec.codes())
}

func TestCloseRacingEnableLeavesNoHandler(t *testing.T) {
	for i := 0; i < 200; i++ {
		src := keystroke.NewSimulated()
		opts := DefaultOptions()
		opts.OnScan = func(Result) {}
		c, err := New(src, opts)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Close()
		}()
		go func() {
			defer wg.Done()
			c.Disable()
			c.Enable()
		}()
		wg.Wait()

		require.False(t, c.IsListening())
		require.Equal(t, 0, src.HandlerCount())
	}
}

func TestStaleTimerFireIgnored(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("12", time.Millisecond)
	h.c.mu.Lock()
	stale := h.c.timerGen - 1
	h.c.mu.Unlock()

	h.c.onTimeout(stale)
	assert.Equal(t, StateBuffering, h.c.State())
	assert.Zero(t, h.rec.stops)
}

func TestReconfigure(t *testing.T) {
	h := newHarness(t, nil)

	err := h.c.Reconfigure(Thresholds{MinLength: 0, MaxInterKeyDelay: time.Millisecond, EndTimeout: time.Millisecond, IdleGap: time.Millisecond})
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "MinLength", cfgErr.Field)

	th := DefaultThresholds()
	th.MinLength = 2
	require.NoError(t, h.c.Reconfigure(th))
	assert.Equal(t, 2, h.c.Thresholds().MinLength)

	h.typeString("12", time.Millisecond)
	h.src.Press(keystroke.KeyEnter)
	assert.Equal(t, []string{"12"}, h.rec.codes())
}

func TestUnavailableSourceDoesNotError(t *testing.T) {
	opts := DefaultOptions()
	opts.OnScan = func(Result) {}

	c, err := New(keystroke.UnavailableSource{Reason: "headless"}, opts)
	require.NoError(t, err)
	assert.True(t, c.Enabled())
	assert.False(t, c.IsListening())

	c, err = New(nil, opts)
	require.NoError(t, err)
	assert.False(t, c.IsListening())
}

func TestDisabledOnConstruction(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Enabled = false })

	assert.False(t, h.c.IsListening())
	assert.Zero(t, h.src.HandlerCount())

	h.c.Enable()
	assert.True(t, h.c.IsListening())
}

func TestConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		field  string
	}{
		{"nil OnScan", func(o *Options) { o.OnScan = nil }, "OnScan"},
		{"zero MinLength", func(o *Options) { o.MinLength = 0 }, "MinLength"},
		{"negative delay", func(o *Options) { o.MaxInterKeyDelay = -1 }, "MaxInterKeyDelay"},
		{"zero timeout", func(o *Options) { o.EndTimeout = 0 }, "EndTimeout"},
		{"zero idle gap", func(o *Options) { o.IdleGap = 0 }, "IdleGap"},
		{"bad terminator", func(o *Options) { o.Terminators = []Suffix{SuffixTimeout} }, "Terminators"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.OnScan = func(Result) {}
			tt.mutate(&opts)

			_, err := New(keystroke.NewSimulated(), opts)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestCloseDetachesAndStaysClosed(t *testing.T) {
	h := newHarness(t, nil)

	h.typeString("12", time.Millisecond)
	require.NoError(t, h.c.Close())
	h.c.Enable()

	assert.False(t, h.c.IsListening())
	assert.Zero(t, h.src.HandlerCount())
	assert.Equal(t, 1, h.rec.stops)
	h.assertIdle(t)
}

func TestIndependentControllersShareSource(t *testing.T) {
	h := newHarness(t, nil)

	other := &recorder{}
	opts := DefaultOptions()
	opts.OnScan = other.onScan
	opts.Clock = h.clk
	c2, err := New(h.src, opts)
	require.NoError(t, err)
	defer c2.Close()

	h.typeString("7777", time.Millisecond)
	h.src.Press(keystroke.KeyEnter)

	assert.Equal(t, []string{"7777"}, h.rec.codes())
	assert.Equal(t, []string{"7777"}, other.codes())
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.typeString("12", time.Millisecond)

	st := h.c.Status()
	assert.True(t, st.Enabled)
	assert.True(t, st.Listening)
	assert.Equal(t, "buffering", st.State)
	assert.Equal(t, 2, st.Buffered)
	assert.Equal(t, []Suffix{SuffixEnter, SuffixTab}, st.Terminators)
	assert.Equal(t, DefaultThresholds(), st.Thresholds)
}

func TestSystemClockTimeout(t *testing.T) {
	src := keystroke.NewSimulated()
	got := make(chan Result, 1)

	opts := DefaultOptions()
	opts.EndTimeout = 20 * time.Millisecond
	opts.OnScan = func(r Result) { got <- r }
	c, err := New(src, opts)
	require.NoError(t, err)
	defer c.Close()

	for _, k := range "SCAN-42" {
		src.Press(string(k))
	}

	select {
	case r := <-got:
		assert.Equal(t, "SCAN-42", r.Code)
		assert.Equal(t, SuffixTimeout, r.Suffix)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never finalized the burst")
	}
	assert.Eventually(t, func() bool { return c.State() == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestParseSuffix(t *testing.T) {
	s, err := ParseSuffix("tab")
	require.NoError(t, err)
	assert.Equal(t, SuffixTab, s)

	_, err = ParseSuffix("space")
	assert.Error(t, err)
}
