// Package dispatch delivers accepted scans to sinks such as the scan
// history, redis and the session bus.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"scanwedge/internal/metrics"
	"scanwedge/internal/scanner"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatch: closed")

// Sink receives accepted scans.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, r scanner.Result) error
}

// Options configures a Dispatcher.
type Options struct {
	// DedupeWindow drops a code repeated within the window. 0 disables.
	DedupeWindow time.Duration

	// QueueSize bounds scans waiting for delivery. Scans submitted to a
	// full queue are dropped and logged.
	QueueSize int

	// SinkTimeout bounds a single delivery.
	SinkTimeout time.Duration

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.ScannerMetrics
}

// DefaultOptions returns options with a 64 entry queue and a 2s sink
// timeout.
func DefaultOptions() Options {
	return Options{
		QueueSize:   64,
		SinkTimeout: 2 * time.Second,
	}
}

// Dispatcher fans accepted scans out to sinks on its own goroutine so
// slow sinks never stall key capture.
type Dispatcher struct {
	log     *slog.Logger
	metrics *metrics.ScannerMetrics
	dedupe  *Deduper
	timeout time.Duration

	sinkMu sync.RWMutex
	sinks  []Sink

	mu     sync.RWMutex
	queue  chan scanner.Result
	closed bool
	wg     sync.WaitGroup
}

// New creates a dispatcher and starts its delivery goroutine.
func New(opts Options, sinks ...Sink) *Dispatcher {
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = def.SinkTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		log:     logger.With("component", "dispatch"),
		metrics: opts.Metrics,
		dedupe:  NewDeduper(opts.DedupeWindow, opts.Now),
		timeout: opts.SinkTimeout,
		sinks:   append([]Sink(nil), sinks...),
		queue:   make(chan scanner.Result, opts.QueueSize),
	}

	d.wg.Add(1)
	go d.loop()
	return d
}

// Add registers another sink.
func (d *Dispatcher) Add(s Sink) {
	d.sinkMu.Lock()
	d.sinks = append(d.sinks, s)
	d.sinkMu.Unlock()
}

// Sinks returns the registered sink names.
func (d *Dispatcher) Sinks() []string {
	d.sinkMu.RLock()
	defer d.sinkMu.RUnlock()
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// SetDedupeWindow changes the dedupe window.
func (d *Dispatcher) SetDedupeWindow(w time.Duration) {
	d.dedupe.SetWindow(w)
}

// Submit queues r for delivery without blocking. It is shaped to be the
// controller's OnScan callback. It reports whether r was queued.
func (d *Dispatcher) Submit(r scanner.Result) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- r:
		return true
	default:
		d.log.Warn("dispatch queue full, scan dropped",
			"session", r.SessionID, "code", r.Code)
		d.metrics.RecordDispatch(0, []string{"queue"})
		return false
	}
}

// OnScan adapts Submit to the controller callback signature.
func (d *Dispatcher) OnScan(r scanner.Result) {
	d.Submit(r)
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for r := range d.queue {
		d.deliver(context.Background(), r)
	}
}

// Dispatch delivers r synchronously and returns the joined sink errors.
// A deduplicated scan returns nil without reaching any sink.
func (d *Dispatcher) Dispatch(ctx context.Context, r scanner.Result) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	_, err := d.deliver(ctx, r)
	return err
}

// deliver reports whether r reached the sinks, and the joined errors.
func (d *Dispatcher) deliver(ctx context.Context, r scanner.Result) (bool, error) {
	if d.dedupe.Duplicate(r.Code) {
		d.metrics.RecordDuplicate()
		d.log.Debug("duplicate scan dropped", "session", r.SessionID, "code", r.Code)
		return false, nil
	}

	d.sinkMu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.sinkMu.RUnlock()

	start := time.Now()
	var failed []string
	var errs []error
	for _, s := range sinks {
		if err := d.deliverOne(ctx, s, r); err != nil {
			failed = append(failed, s.Name())
			errs = append(errs, err)
			d.log.Warn("sink delivery failed",
				"sink", s.Name(), "session", r.SessionID, "error", err)
		}
	}
	d.metrics.RecordDispatch(time.Since(start), failed)

	d.log.Info("scan dispatched",
		"session", r.SessionID, "code", r.Code, "suffix", r.Suffix,
		"sinks", len(sinks), "failed", len(failed))
	return true, errors.Join(errs...)
}

func (d *Dispatcher) deliverOne(ctx context.Context, s Sink, r scanner.Result) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			d.metrics.RecordPanic()
			err = &SinkPanicError{Sink: s.Name(), Value: p}
		}
	}()
	return s.Deliver(ctx, r)
}

// Close stops accepting scans, delivers what is queued and closes every
// sink that implements io.Closer.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()

	d.sinkMu.RLock()
	defer d.sinkMu.RUnlock()
	var errs []error
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SinkPanicError wraps a panic raised by a sink.
type SinkPanicError struct {
	Sink  string
	Value interface{}
}

func (e *SinkPanicError) Error() string {
	return fmt.Sprintf("dispatch: sink %s panicked: %v", e.Sink, e.Value)
}
