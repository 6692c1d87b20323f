package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	opened   chan struct{}
	messages chan string
	closed   chan error
	closes   atomic.Int32
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan struct{}, 1),
		messages: make(chan string, 16),
		closed:   make(chan error, 4),
	}
}

func (r *recorder) listener() Listener {
	return Listener{
		OnOpen:    func() { r.opened <- struct{}{} },
		OnMessage: func(data []byte) { r.messages <- string(data) },
		OnClose: func(err error) {
			r.closes.Add(1)
			r.closed <- err
		},
	}
}

// echoServer upgrades every request, greets the client and echoes what it
// reads until the client goes away.
func echoServer(t *testing.T, drop <-chan struct{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
			return
		}

		go func() {
			if drop != nil {
				<-drop
				conn.UnderlyingConn().Close()
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketLifecycle(t *testing.T) {
	server := echoServer(t, nil)
	defer server.Close()

	rec := newRecorder()
	sess := NewWebSocket(wsURL(server), rec.listener())
	assert.ErrorIs(t, sess.Send([]byte("early")), ErrNotOpen)

	sess.Open(context.Background())

	select {
	case <-rec.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("session never opened")
	}
	assert.Equal(t, "hello", <-rec.messages)

	require.NoError(t, sess.Send([]byte(`{"event":"ping"}`)))
	select {
	case msg := <-rec.messages:
		assert.Equal(t, `{"event":"ping"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived")
	}

	require.NoError(t, sess.Close())
	select {
	case err := <-rec.closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close never reported")
	}

	require.NoError(t, sess.Close())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), rec.closes.Load())
	assert.ErrorIs(t, sess.Send([]byte("late")), ErrNotOpen)
}

func TestWebSocketDialFailureReportsClose(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	rec := newRecorder()
	NewFactory(WithWriteTimeout(time.Second))(wsURL(server), rec.listener()).Open(context.Background())

	select {
	case err := <-rec.closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close never reported")
	}
	assert.Len(t, rec.opened, 0)
}

func TestWebSocketRemoteDropReportsError(t *testing.T) {
	drop := make(chan struct{})
	server := echoServer(t, drop)
	defer server.Close()

	rec := newRecorder()
	sess := NewWebSocket(wsURL(server), rec.listener(), WithReadTimeout(5*time.Second))
	sess.Open(context.Background())
	<-rec.opened

	close(drop)
	select {
	case err := <-rec.closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close never reported")
	}
}

func TestWebSocketCloseBeforeOpen(t *testing.T) {
	rec := newRecorder()
	sess := NewWebSocket("ws://127.0.0.1:1/app/key", rec.listener())

	require.NoError(t, sess.Close())
	sess.Open(context.Background())

	select {
	case err := <-rec.closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close never reported")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), rec.closes.Load())
	assert.Len(t, rec.opened, 0)
}
