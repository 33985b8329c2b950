package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/processlens/backend/pkg/api"
)

type fakeTicker struct {
	ch      chan time.Time
	d       time.Duration
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type fakeTimer struct {
	ch   chan time.Time
	d    time.Duration
	done atomic.Bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }
func (t *fakeTimer) Stop() bool          { return !t.done.Swap(true) }

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time), d: d}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) NewTimer(d time.Duration) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{ch: make(chan time.Time), d: d}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) activeTicker() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.tickers) - 1; i >= 0; i-- {
		if !c.tickers[i].stopped.Load() {
			return c.tickers[i]
		}
	}
	return nil
}

func (c *fakeClock) activeTimer() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].done.Load() {
			return c.timers[i]
		}
	}
	return nil
}

// active counts tickers and timers that could still fire.
func (c *fakeClock) active() (tickers, timers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		if !t.stopped.Load() {
			tickers++
		}
	}
	for _, t := range c.timers {
		if !t.done.Load() {
			timers++
		}
	}
	return tickers, timers
}

func (c *fakeClock) timerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) timerDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.d)
	}
	return out
}

// tick advances the clock by the ticker interval and delivers one tick.
func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	tk := c.activeTicker()
	if tk == nil {
		t.Fatal("no active heartbeat ticker")
	}
	c.advance(tk.d)
	select {
	case tk.ch <- c.Now():
	case <-time.After(time.Second):
		t.Fatal("heartbeat tick was not consumed")
	}
}

// fireTimer delivers the pending reconnect timer.
func (c *fakeClock) fireTimer(t *testing.T) {
	t.Helper()
	tm := c.activeTimer()
	if tm == nil {
		t.Fatal("no pending reconnect timer")
	}
	tm.done.Store(true)
	c.advance(tm.d)
	select {
	case tm.ch <- c.Now():
	case <-time.After(time.Second):
		t.Fatal("reconnect timer was not consumed")
	}
}

type fakeConn struct {
	in        chan []byte
	out       chan api.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan api.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	f, ok := v.(api.Frame)
	if !ok {
		return errors.New("unexpected payload")
	}
	select {
	case c.out <- f:
	default:
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(t *testing.T, ft api.FrameType, data any) {
	t.Helper()
	f, err := api.NewFrame(ft, data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	c.in <- b
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	fail  error
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}
