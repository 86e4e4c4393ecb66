package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwedge/internal/metrics"
	"scanwedge/internal/scanner"
	"scanwedge/internal/store"
)

func scan(code, session string) scanner.Result {
	t0 := time.Unix(1700000000, 0)
	return scanner.Result{
		Code:        code,
		Suffix:      scanner.SuffixEnter,
		SessionID:   session,
		StartedAt:   t0,
		EndedAt:     t0.Add(30 * time.Millisecond),
		Keystrokes:  len(code),
		AvgInterval: 5 * time.Millisecond,
	}
}

type collector struct {
	mu   sync.Mutex
	got  []scanner.Result
	fail error
}

func (c *collector) sink(name string) FuncSink {
	return FuncSink{SinkName: name, Fn: func(_ context.Context, r scanner.Result) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.fail != nil {
			return c.fail
		}
		c.got = append(c.got, r)
		return nil
	}}
}

func (c *collector) codes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.got))
	for i, r := range c.got {
		out[i] = r.Code
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestDeduper(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	d := NewDeduper(500*time.Millisecond, clk.Now)

	assert.False(t, d.Duplicate("A"))
	clk.advance(100 * time.Millisecond)
	assert.True(t, d.Duplicate("A"))
	assert.False(t, d.Duplicate("B"))

	// duplicates do not extend the window
	clk.advance(400 * time.Millisecond)
	assert.False(t, d.Duplicate("A"))
}

func TestDeduperDisabled(t *testing.T) {
	d := NewDeduper(0, nil)
	assert.False(t, d.Duplicate("A"))
	assert.False(t, d.Duplicate("A"))
	assert.Zero(t, d.Len())

	d.SetWindow(time.Minute)
	assert.False(t, d.Duplicate("A"))
	assert.True(t, d.Duplicate("A"))

	d.SetWindow(0)
	assert.Zero(t, d.Len())
	assert.Equal(t, time.Duration(0), d.Window())
}

func TestDeduperSweepsExpired(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	d := NewDeduper(time.Second, clk.Now)

	for i := 0; i < sweepAt; i++ {
		d.Duplicate(string(rune('a' + i%26)) + string(rune('A'+i/26)))
	}
	clk.advance(2 * time.Second)
	d.Duplicate("fresh")
	assert.Equal(t, 1, d.Len())
}

func TestDispatchFansOut(t *testing.T) {
	var a, b collector
	d := New(Options{}, a.sink("a"), b.sink("b"))
	defer d.Close()

	require.NoError(t, d.Dispatch(context.Background(), scan("12345", "s1")))
	assert.Equal(t, []string{"12345"}, a.codes())
	assert.Equal(t, []string{"12345"}, b.codes())
	assert.Equal(t, []string{"a", "b"}, d.Sinks())
}

func TestDispatchSinkErrorDoesNotStopOthers(t *testing.T) {
	m := metrics.NewScannerMetrics(metrics.NewRegistry("test", ""))
	bad := collector{fail: errors.New("disk full")}
	var good collector
	d := New(Options{Metrics: m}, bad.sink("bad"), good.sink("good"))
	defer d.Close()

	err := d.Dispatch(context.Background(), scan("12345", "s1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"12345"}, good.codes())
	assert.Equal(t, uint64(1), m.SinkErrors("bad"))
	assert.Zero(t, m.SinkErrors("good"))
}

func TestDispatchRecoversSinkPanic(t *testing.T) {
	m := metrics.NewScannerMetrics(metrics.NewRegistry("test", ""))
	boom := FuncSink{SinkName: "boom", Fn: func(context.Context, scanner.Result) error { panic("nil map") }}
	var good collector
	d := New(Options{Metrics: m}, boom, good.sink("good"))
	defer d.Close()

	err := d.Dispatch(context.Background(), scan("12345", "s1"))
	var perr *SinkPanicError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "boom", perr.Sink)
	assert.Equal(t, []string{"12345"}, good.codes())
	assert.Equal(t, uint64(1), m.CallbackPanics.Value())
}

func TestDispatchDedupe(t *testing.T) {
	m := metrics.NewScannerMetrics(metrics.NewRegistry("test", ""))
	clk := &fakeClock{now: time.Unix(0, 0)}
	var c collector
	d := New(Options{DedupeWindow: time.Second, Now: clk.Now, Metrics: m}, c.sink("c"))
	defer d.Close()

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, scan("AAAA", "s1")))
	require.NoError(t, d.Dispatch(ctx, scan("AAAA", "s2")))
	require.NoError(t, d.Dispatch(ctx, scan("BBBB", "s3")))
	clk.advance(2 * time.Second)
	require.NoError(t, d.Dispatch(ctx, scan("AAAA", "s4")))

	assert.Equal(t, []string{"AAAA", "BBBB", "AAAA"}, c.codes())
	assert.Equal(t, uint64(1), m.DuplicatesTotal.Value())
}

func TestDispatchSinkTimeout(t *testing.T) {
	slow := FuncSink{SinkName: "slow", Fn: func(ctx context.Context, _ scanner.Result) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	d := New(Options{SinkTimeout: 20 * time.Millisecond}, slow)
	defer d.Close()

	err := d.Dispatch(context.Background(), scan("12345", "s1"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSubmitDeliversAsynchronously(t *testing.T) {
	var c collector
	d := New(Options{}, c.sink("c"))

	for _, code := range []string{"1111", "2222", "3333"} {
		assert.True(t, d.Submit(scan(code, code)))
	}
	require.NoError(t, d.Close())

	assert.Equal(t, []string{"1111", "2222", "3333"}, c.codes())
	assert.False(t, d.Submit(scan("4444", "s4")))
	assert.True(t, errors.Is(d.Dispatch(context.Background(), scan("4444", "s4")), ErrClosed))
	assert.NoError(t, d.Close())
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := FuncSink{SinkName: "blocking", Fn: func(context.Context, scanner.Result) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}}
	d := New(Options{QueueSize: 1, SinkTimeout: time.Minute}, blocking)

	require.True(t, d.Submit(scan("1111", "s1")))
	<-started
	require.True(t, d.Submit(scan("2222", "s2")))
	assert.False(t, d.Submit(scan("3333", "s3")))

	close(release)
	require.NoError(t, d.Close())
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink("stdout", &buf)
	d := New(Options{}, s)
	defer d.Close()

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, scan("4006381333931", "s1")))
	require.NoError(t, d.Dispatch(ctx, scan("ABC-9", "s2")))

	sc := bufio.NewScanner(&buf)
	var lines []scanner.Result
	for sc.Scan() {
		var r scanner.Result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		lines = append(lines, r)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "4006381333931", lines[0].Code)
	assert.Equal(t, scanner.SuffixEnter, lines[1].Suffix)
}

func TestStoreSink(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)

	d := New(Options{}, NewStoreSink(st))
	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, scan("12345", "s1")))

	scans, err := st.RecentScans(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "s1", scans[0].SessionID)

	// Close closes the store through the sink.
	require.NoError(t, d.Close())
	_, err = st.RecentScans(ctx, 1)
	assert.Error(t, err)
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewRedisSink(&redis.Options{Addr: mr.Addr()}, "wedge", 2)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, s.ScansChannel())
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)
	msgs := sub.Channel()

	for i, code := range []string{"1111", "2222", "3333"} {
		require.NoError(t, s.Deliver(ctx, scan(code, string(rune('a'+i)))))
	}

	select {
	case msg := <-msgs:
		var r scanner.Result
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &r))
		assert.Equal(t, "1111", r.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "3333", recent[0].Code)
	assert.Equal(t, "2222", recent[1].Code)

	items, err := mr.List("wedge:recent")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRedisSinkPublishOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewRedisSink(&redis.Options{Addr: mr.Addr()}, "wedge", 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Deliver(ctx, scan("1111", "a")))
	assert.False(t, mr.Exists("wedge:recent"))
}

func TestRedisSinkUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	s, err := NewRedisSink(&redis.Options{Addr: addr, MaxRetries: -1}, "wedge", 10)
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Deliver(context.Background(), scan("1111", "a")))
}

func TestRedisSinkRequiresPrefix(t *testing.T) {
	_, err := NewRedisSink(&redis.Options{}, "", 10)
	assert.Error(t, err)
}
