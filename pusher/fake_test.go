package pusher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kleeedolinux/pusher.go/pusher/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeSession is a transport.Session driven by the test.
type fakeSession struct {
	url      string
	listener transport.Listener

	mu     sync.Mutex
	opened bool
	closed bool
	sent   [][]byte
}

func (s *fakeSession) Open(ctx context.Context) {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
}

func (s *fakeSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrNotOpen
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) frames() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.sent))
	for _, frame := range s.sent {
		msg, _, err := decodeMessage(frame)
		if err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (s *fakeSession) framesFor(event string) []Message {
	var out []Message
	for _, msg := range s.frames() {
		if msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}

func (s *fakeSession) open() {
	s.listener.OnOpen()
}

func (s *fakeSession) receive(frame string) {
	s.listener.OnMessage([]byte(frame))
}

func (s *fakeSession) establish(socketID string) {
	s.receive(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"` + socketID + `\",\"activity_timeout\":120}"}`)
}

func (s *fakeSession) fail(err error) {
	s.listener.OnClose(err)
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (d *fakeDialer) factory(url string, l transport.Listener) transport.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSession{url: url, listener: l}
	d.sessions = append(d.sessions, s)
	return s
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1]
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// fakeClock records timers instead of running them. fire runs a timer even
// after Stop, which is how a real timer behaves when its callback is already
// waiting on the client lock.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) all() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) fire(t *fakeTimer) {
	t.fn()
}

func withClock(clock *fakeClock) ClientOption {
	return func(c *Client) {
		c.afterFunc = clock.afterFunc
	}
}

// newTestClient builds a client whose transport and timers are fakes. The
// connect timer and retry timer alternate in the clock: every attempt adds a
// connect timer, every failure a retry timer.
func newTestClient(t *testing.T, opts ...ClientOption) (*Client, *fakeDialer, *fakeClock) {
	t.Helper()

	dialer := &fakeDialer{}
	clock := &fakeClock{}

	opts = append([]ClientOption{
		WithHost("host"),
		WithPorts(8080, 8443),
		WithTransport(dialer.factory),
		WithLogger(zerolog.Nop()),
		withClock(clock),
	}, opts...)

	c, err := NewClient("abc123", opts...)
	require.NoError(t, err)

	return c, dialer, clock
}

func (c *Client) retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCounter
}
