package pusher_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kleeedolinux/pusher.go/pusher"
	"github.com/kleeedolinux/pusher.go/pusher/pushertest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

func newClient(t *testing.T, server *pushertest.Server, opts ...pusher.ClientOption) *pusher.Client {
	t.Helper()

	opts = append([]pusher.ClientOption{
		pusher.WithHost(server.Host()),
		pusher.WithPorts(server.Port(), server.Port()),
		pusher.WithAuthEndpoint(server.AuthURL()),
		pusher.WithLogger(zerolog.Nop()),
	}, opts...)

	c, err := pusher.NewClient("app-key", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestClientAgainstServer(t *testing.T) {
	server := pushertest.NewServer("app-key")
	defer server.Close()

	c := newClient(t, server)

	news, err := c.Subscribe("news")
	require.NoError(t, err)
	orders, err := c.Subscribe("private-orders")
	require.NoError(t, err)

	updates := make(chan pusher.Value, 4)
	news.Bind("update", func(data pusher.Value) { updates <- data })

	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool {
		return c.IsConnected() && news.IsSubscribed() && orders.IsSubscribed()
	}, waitFor, tick)

	socketID := c.SocketID()
	assert.NotEmpty(t, socketID)
	assert.Equal(t, []string{socketID}, server.Subscribers("private-orders"))

	require.NoError(t, server.Publish("news", "update", map[string]any{"id": 1}))
	select {
	case data := <-updates:
		n, ok := data.Get("id").AsNumber()
		assert.True(t, ok)
		assert.Equal(t, 1.0, n)
	case <-time.After(waitFor):
		t.Fatal("update never delivered")
	}
}

func TestClientResubscribesAfterDrop(t *testing.T) {
	server := pushertest.NewServer("app-key")
	defer server.Close()

	c := newClient(t, server)
	news, err := c.Subscribe("news")
	require.NoError(t, err)

	var disconnects atomic.Int32
	c.Bind(pusher.EventConnectionDisconnected, func(pusher.Value) { disconnects.Add(1) })

	require.NoError(t, c.Connect())
	require.Eventually(t, news.IsSubscribed, waitFor, tick)
	first := c.SocketID()

	server.DropAll()

	require.Eventually(t, func() bool {
		id := c.SocketID()
		return id != "" && id != first && news.IsSubscribed()
	}, waitFor, tick)
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, 2, server.Accepts())
	assert.Len(t, server.FramesFor(pusher.EventSubscribe), 2)
}

func TestClientEventsReachOtherSubscribers(t *testing.T) {
	server := pushertest.NewServer("app-key")
	defer server.Close()

	alice := newClient(t, server)
	bob := newClient(t, server)

	aliceChat, err := alice.Subscribe("private-chat")
	require.NoError(t, err)
	bobChat, err := bob.Subscribe("private-chat")
	require.NoError(t, err)

	var aliceGot atomic.Int32
	aliceChat.Bind("client-typing", func(pusher.Value) { aliceGot.Add(1) })
	bobGot := make(chan pusher.Value, 1)
	bobChat.Bind("client-typing", func(data pusher.Value) { bobGot <- data })

	require.NoError(t, alice.Connect())
	require.NoError(t, bob.Connect())
	require.Eventually(t, func() bool { return aliceChat.IsSubscribed() && bobChat.IsSubscribed() }, waitFor, tick)

	require.NoError(t, aliceChat.Trigger("client-typing", pusher.String("alice")))
	select {
	case data := <-bobGot:
		assert.Equal(t, "alice", data.Str())
	case <-time.After(waitFor):
		t.Fatal("client event never relayed")
	}
	assert.Equal(t, int32(0), aliceGot.Load())
}

func TestClientRejectedSignatureSurfacesServerError(t *testing.T) {
	server := pushertest.NewServer("app-key")
	defer server.Close()

	bad := pusher.AuthorizerFunc(func(ctx context.Context, socketID, channel string) (pusher.Value, error) {
		return pusher.ParseValue([]byte(`{"auth":"app-key:forged"}`))
	})
	c := newClient(t, server, pusher.WithAuthorizer(bad))

	codes := make(chan float64, 1)
	c.Bind(pusher.EventError, func(data pusher.Value) {
		code, _ := data.Get("code").AsNumber()
		codes <- code
	})

	orders, err := c.Subscribe("private-orders")
	require.NoError(t, err)
	require.NoError(t, c.Connect())

	select {
	case code := <-codes:
		assert.Equal(t, 4009.0, code)
	case <-time.After(waitFor):
		t.Fatal("server error never delivered")
	}
	assert.False(t, orders.IsSubscribed())
	assert.Empty(t, server.Subscribers("private-orders"))
}

func TestClientConnectTimeoutWithoutHandshake(t *testing.T) {
	server := pushertest.NewServer("app-key", pushertest.WithoutHandshake())
	defer server.Close()

	c := newClient(t, server, pusher.WithConnectionTimeout(50*time.Millisecond))

	var failures atomic.Int32
	c.Bind(pusher.EventConnectionFailed, func(pusher.Value) { failures.Add(1) })

	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool { return failures.Load() >= 1 }, waitFor, tick)
	assert.False(t, c.IsConnected())
	assert.GreaterOrEqual(t, server.Accepts(), 1)
}
