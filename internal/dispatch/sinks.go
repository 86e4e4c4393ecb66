package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"scanwedge/internal/scanner"
	"scanwedge/internal/store"
)

// FuncSink adapts a function to Sink.
type FuncSink struct {
	SinkName string
	Fn       func(ctx context.Context, r scanner.Result) error
}

// Name implements Sink.
func (f FuncSink) Name() string { return f.SinkName }

// Deliver implements Sink.
func (f FuncSink) Deliver(ctx context.Context, r scanner.Result) error {
	return f.Fn(ctx, r)
}

// WriterSink writes one JSON object per scan.
type WriterSink struct {
	name string
	mu   sync.Mutex
	enc  *json.Encoder
	w    io.Writer
}

// NewWriterSink writes JSON lines to w. If w is an io.Closer it is
// closed with the sink.
func NewWriterSink(name string, w io.Writer) *WriterSink {
	return &WriterSink{name: name, enc: json.NewEncoder(w), w: w}
}

// Name implements Sink.
func (s *WriterSink) Name() string { return s.name }

// Deliver implements Sink.
func (s *WriterSink) Deliver(_ context.Context, r scanner.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(r); err != nil {
		return fmt.Errorf("write scan: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it is closable.
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// StoreSink records scans in the sqlite history.
type StoreSink struct {
	store *store.Store
}

// NewStoreSink wraps an open store. The sink owns it and closes it.
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{store: s}
}

// Name implements Sink.
func (s *StoreSink) Name() string { return "store" }

// Deliver implements Sink.
func (s *StoreSink) Deliver(ctx context.Context, r scanner.Result) error {
	_, err := s.store.InsertScan(ctx, r)
	return err
}

// Close closes the store.
func (s *StoreSink) Close() error {
	return s.store.Close()
}
