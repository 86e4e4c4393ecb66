package metrics

import (
	"time"
)

// ScannerMetrics holds the metrics recorded by the scan controller and the
// dispatch pipeline. All methods are safe on a nil receiver.
type ScannerMetrics struct {
	registry *Registry

	// Counters
	KeystrokesTotal *Counter
	FilteredTotal   *Counter
	SessionsTotal   *Counter
	ScansTotal      *Counter
	DuplicatesTotal *Counter
	CallbackPanics  *Counter

	// Gauges
	Listening        *Gauge
	ScannerConnected *Gauge
	LastScanTs       *Gauge

	// Histograms
	KeyInterval      *Histogram
	DispatchDuration *Histogram
}

// NewScannerMetrics creates and registers the scanner metrics.
func NewScannerMetrics(registry *Registry) *ScannerMetrics {
	if registry == nil {
		registry = Default()
	}

	return &ScannerMetrics{
		registry: registry,

		KeystrokesTotal: registry.RegisterCounter(
			"keystrokes_total",
			"Key presses accepted into a scan buffer",
			nil,
		),
		FilteredTotal: registry.RegisterCounter(
			"keystrokes_filtered_total",
			"Key presses dropped because focus was in a text control",
			nil,
		),
		SessionsTotal: registry.RegisterCounter(
			"sessions_total",
			"Scan sessions started",
			nil,
		),
		ScansTotal: registry.RegisterCounter(
			"scans_accepted_total",
			"Bursts classified as scanner input",
			nil,
		),
		DuplicatesTotal: registry.RegisterCounter(
			"scans_deduplicated_total",
			"Accepted scans dropped as duplicates",
			nil,
		),
		CallbackPanics: registry.RegisterCounter(
			"callback_panics_total",
			"Panics recovered from scan callbacks",
			nil,
		),

		Listening: registry.RegisterGauge(
			"listening",
			"1 while the capture handler is attached",
			nil,
		),
		ScannerConnected: registry.RegisterGauge(
			"scanner_connected",
			"1 once a scan has been accepted",
			nil,
		),
		LastScanTs: registry.RegisterGauge(
			"last_scan_timestamp",
			"Unix timestamp of the last accepted scan",
			nil,
		),

		KeyInterval: registry.RegisterHistogram(
			"key_interval_seconds",
			"Gap between consecutive keys within a session",
			nil,
			IntervalBuckets,
		),
		DispatchDuration: registry.RegisterHistogram(
			"dispatch_duration_seconds",
			"Time spent delivering one scan to all sinks",
			nil,
			DurationBuckets,
		),
	}
}

// Registry returns the registry the metrics live in.
func (m *ScannerMetrics) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordKeystroke records a buffered key and, when known, its gap to the
// previous key.
func (m *ScannerMetrics) RecordKeystroke(gap time.Duration) {
	if m == nil {
		return
	}
	m.KeystrokesTotal.Inc()
	if gap > 0 {
		m.KeyInterval.ObserveDuration(gap)
	}
}

// RecordFiltered records a key dropped by the focus filter.
func (m *ScannerMetrics) RecordFiltered() {
	if m == nil {
		return
	}
	m.FilteredTotal.Inc()
}

// SessionStarted records a new scan session.
func (m *ScannerMetrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
}

// RecordAccepted records an accepted scan.
func (m *ScannerMetrics) RecordAccepted(at time.Time) {
	if m == nil {
		return
	}
	m.ScansTotal.Inc()
	m.ScannerConnected.Set(1)
	m.LastScanTs.Set(at.Unix())
}

// RecordRejected records a discarded burst under its reason label.
func (m *ScannerMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.registry.RegisterCounter(
		"scans_rejected_total",
		"Bursts discarded by the timing classifier",
		Labels{"reason": reason},
	).Inc()
}

// RejectedCount returns the rejects recorded for reason.
func (m *ScannerMetrics) RejectedCount(reason string) uint64 {
	if m == nil {
		return 0
	}
	c := m.registry.GetCounter("scans_rejected_total", Labels{"reason": reason})
	if c == nil {
		return 0
	}
	return c.Value()
}

// RecordDuplicate records a scan dropped by the deduper.
func (m *ScannerMetrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

// RecordPanic records a recovered callback panic.
func (m *ScannerMetrics) RecordPanic() {
	if m == nil {
		return
	}
	m.CallbackPanics.Inc()
}

// SetListening updates the listener gauge.
func (m *ScannerMetrics) SetListening(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Listening.Set(1)
	} else {
		m.Listening.Set(0)
	}
}

// RecordDispatch records one fan-out and any sink failures by sink name.
func (m *ScannerMetrics) RecordDispatch(d time.Duration, failed []string) {
	if m == nil {
		return
	}
	m.DispatchDuration.ObserveDuration(d)
	for _, sink := range failed {
		m.registry.RegisterCounter(
			"sink_errors_total",
			"Sink delivery failures",
			Labels{"sink": sink},
		).Inc()
	}
}

// SinkErrors returns the failures recorded for sink.
func (m *ScannerMetrics) SinkErrors(sink string) uint64 {
	if m == nil {
		return 0
	}
	c := m.registry.GetCounter("sink_errors_total", Labels{"sink": sink})
	if c == nil {
		return 0
	}
	return c.Value()
}
