package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/kleeedolinux/pusher.go/debug"

	"github.com/gorilla/websocket"
)

var ErrNotOpen = errors.New("transport: session not open")

type WebSocket struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	url          string
	listener     Listener
	dialer       *websocket.Dialer
	headers      http.Header
	readTimeout  time.Duration
	writeTimeout time.Duration
	compression  bool
	started      bool
	closed       bool
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

type WebSocketOption func(*WebSocket)

func WithHeaders(headers http.Header) WebSocketOption {
	return func(t *WebSocket) {
		t.headers = headers
	}
}

func WithDialer(dialer *websocket.Dialer) WebSocketOption {
	return func(t *WebSocket) {
		t.dialer = dialer
	}
}

// WithReadTimeout bounds the silence between inbound frames. Zero disables it.
func WithReadTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocket) {
		t.readTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocket) {
		t.writeTimeout = timeout
	}
}

func WithCompression(enabled bool) WebSocketOption {
	return func(t *WebSocket) {
		t.compression = enabled
	}
}

func NewWebSocket(url string, l Listener, opts ...WebSocketOption) *WebSocket {
	t := &WebSocket{
		url:          url,
		listener:     l,
		dialer:       websocket.DefaultDialer,
		headers:      make(http.Header),
		writeTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// NewFactory returns a Factory producing gorilla/websocket sessions.
func NewFactory(opts ...WebSocketOption) Factory {
	return func(url string, l Listener) Session {
		return NewWebSocket(url, l, opts...)
	}
}

func (t *WebSocket) Open(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	if t.closed {
		t.mu.Unlock()
		go t.notifyClose(nil)
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	go t.run(ctx)
}

func (t *WebSocket) run(ctx context.Context) {
	debug.Printf("WebSocket: Connecting to %s", t.url)

	dialer := *t.dialer
	if t.compression {
		dialer.EnableCompression = true
	}

	conn, _, err := dialer.DialContext(ctx, t.url, t.headers)
	if err != nil {
		debug.Printf("WebSocket: Connection failed: %v", err)
		t.notifyClose(t.closeErr(err))
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		t.notifyClose(nil)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	debug.Printf("WebSocket: Connected to %s", t.url)
	if t.listener.OnOpen != nil {
		t.listener.OnOpen()
	}

	for {
		if t.readTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
				t.teardown(conn)
				t.notifyClose(t.closeErr(err))
				return
			}
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			debug.Printf("WebSocket: Read error: %v", err)
			t.teardown(conn)
			t.notifyClose(t.closeErr(err))
			return
		}

		debug.Printf("WebSocket: Received data: %s", string(message))
		if t.listener.OnMessage != nil {
			t.listener.OnMessage(message)
		}
	}
}

func (t *WebSocket) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.conn == nil {
		return ErrNotOpen
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	debug.Printf("WebSocket: Sending data: %s", string(data))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocket) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	cancel := t.cancel
	started := t.started
	t.mu.Unlock()

	debug.Printf("WebSocket: Closing connection to %s", t.url)

	if cancel != nil {
		cancel()
	}
	if !started {
		go t.notifyClose(nil)
		return nil
	}
	if conn == nil {
		return nil
	}

	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err != nil {
		debug.Printf("WebSocket: Error sending close message: %v", err)
	}
	return conn.Close()
}

func (t *WebSocket) teardown(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	conn.Close()
}

// closeErr hides the read error caused by a local Close.
func (t *WebSocket) closeErr(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return err
}

func (t *WebSocket) notifyClose(err error) {
	t.closeOnce.Do(func() {
		if t.listener.OnClose != nil {
			t.listener.OnClose(err)
		}
	})
}
