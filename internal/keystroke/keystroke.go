// Package keystroke delivers keyboard events from capture sources to handlers.
//
// A Source plays the role of a global key-down listener: handlers subscribe
// to it, receive every key press in delivery order, and detach when they no
// longer want events. Sources only start reading devices while at least one
// handler is attached.
//
// Platform support:
// - Linux: reads /dev/input/event* (requires input group or root)
// - Any terminal: raw-mode stdin via TerminalSource
// - Tests: SimulatedSource
package keystroke

import (
	"errors"
	"sync"
)

// Handler receives key events. Handlers run on the source's read goroutine
// and must not block.
type Handler func(ev *KeyEvent)

// Source produces key events for subscribed handlers.
type Source interface {
	// Subscribe attaches h. The returned detach func is idempotent.
	Subscribe(h Handler) (detach func(), err error)

	// Available reports whether the source can capture on this host
	// with the current permissions.
	Available() (bool, string)

	// Close detaches every handler and releases devices.
	Close() error
}

// ErrNotAvailable is returned when keyboard capture isn't available.
var ErrNotAvailable = errors.New("keyboard capture not available on this platform")

// ErrPermissionDenied is returned when permissions are insufficient.
var ErrPermissionDenied = errors.New("insufficient permissions for keyboard capture")

// ErrClosed is returned when subscribing to a closed source.
var ErrClosed = errors.New("keystroke source closed")

type subscription struct {
	id uint64
	h  Handler
}

// BaseSource provides handler fan-out for source implementations.
type BaseSource struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	closed bool

	// onEmpty is called (without the lock held) when the last handler detaches.
	onEmpty func()

	lost []func(reason string)
}

// LossNotifier is implemented by sources whose devices can vanish while
// handlers are attached. Handlers stay subscribed but receive nothing
// until they subscribe again.
type LossNotifier interface {
	OnLost(fn func(reason string))
}

// OnLost registers fn to be called when capture stops on its own.
func (b *BaseSource) OnLost(fn func(reason string)) {
	b.mu.Lock()
	b.lost = append(b.lost, fn)
	b.mu.Unlock()
}

// NotifyLost calls every OnLost func.
func (b *BaseSource) NotifyLost(reason string) {
	b.mu.RLock()
	fns := make([]func(string), len(b.lost))
	copy(fns, b.lost)
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(reason)
	}
}

// Subscribe attaches h and returns its detach func.
func (b *BaseSource) Subscribe(h Handler) (func(), error) {
	if h == nil {
		return nil, errors.New("nil handler")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}, nil
}

func (b *BaseSource) remove(id uint64) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	empty := len(b.subs) == 0
	onEmpty := b.onEmpty
	b.mu.Unlock()

	if empty && onEmpty != nil {
		onEmpty()
	}
}

// Dispatch delivers ev to every handler in subscription order and reports
// whether any handler consumed it.
func (b *BaseSource) Dispatch(ev *KeyEvent) bool {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.h(ev)
	}
	return ev.Consumed()
}

// HandlerCount returns the number of attached handlers.
func (b *BaseSource) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// CloseHandlers detaches every handler and refuses new subscriptions.
func (b *BaseSource) CloseHandlers() {
	b.mu.Lock()
	b.subs = nil
	b.closed = true
	b.mu.Unlock()
}

// IsClosed reports whether CloseHandlers has been called.
func (b *BaseSource) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// SimulatedSource is a source for testing that doesn't hook a real keyboard.
type SimulatedSource struct {
	BaseSource
	focus Target
	mu    sync.Mutex
}

// NewSimulated creates a source for testing.
func NewSimulated() *SimulatedSource {
	return &SimulatedSource{}
}

// SetFocus sets the target attached to subsequently emitted events.
func (s *SimulatedSource) SetFocus(t Target) {
	s.mu.Lock()
	s.focus = t
	s.mu.Unlock()
}

// Press emits a key press for key with the current focus target and
// reports whether a handler consumed it.
func (s *SimulatedSource) Press(key string) bool {
	s.mu.Lock()
	focus := s.focus
	s.mu.Unlock()
	return s.Emit(&KeyEvent{Key: key, Target: focus, Source: SourceSimulated})
}

// Emit delivers ev to the attached handlers.
func (s *SimulatedSource) Emit(ev *KeyEvent) bool {
	if s.IsClosed() {
		return false
	}
	return s.Dispatch(ev)
}

// Available returns true (simulated is always available).
func (s *SimulatedSource) Available() (bool, string) {
	return true, "simulated source (for testing)"
}

// Close detaches all handlers.
func (s *SimulatedSource) Close() error {
	s.CloseHandlers()
	return nil
}

// UnavailableSource refuses every subscription. It stands in for capture
// backends that cannot run on the current host.
type UnavailableSource struct {
	Reason string
}

// Subscribe always fails with ErrNotAvailable.
func (u UnavailableSource) Subscribe(Handler) (func(), error) {
	return nil, ErrNotAvailable
}

// Available reports false with the configured reason.
func (u UnavailableSource) Available() (bool, string) {
	if u.Reason == "" {
		return false, ErrNotAvailable.Error()
	}
	return false, u.Reason
}

// Close is a no-op.
func (u UnavailableSource) Close() error { return nil }
