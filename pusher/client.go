package pusher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kleeedolinux/pusher.go/debug"
	"github.com/kleeedolinux/pusher.go/pusher/transport"

	"github.com/rs/zerolog"
)

// State is the connection lifecycle state of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosedAfterConnect
	StateClosedBeforeConnect
	StateRetryScheduled
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosedAfterConnect:
		return "closed_after_connect"
	case StateClosedBeforeConnect:
		return "closed_before_connect"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Client keeps one logical connection to the service alive and routes the
// events it receives to channel and global callbacks.
//
// Every connection attempt runs under a new generation number. Timers and
// transport notifications carry the generation they were created for and
// are ignored once the client has moved on.
type Client struct {
	id     string
	appKey string

	host              string
	wsPort            int
	wssPort           int
	clientName        string
	encrypted         bool
	connectionTimeout time.Duration

	authEndpoint string
	authTimeout  time.Duration
	authHeader   http.Header
	cookieJar    http.CookieJar
	authorizer   Authorizer

	dial       transport.Factory
	afterFunc  afterFunc
	readyGroup *ReadyGroup
	log        zerolog.Logger

	channels *Channels
	global   *Channel

	mu           sync.Mutex
	state        State
	generation   uint64
	session      transport.Session
	connectTimer timer
	retryTimer   timer
	connected    bool
	reconnect    bool
	secure       bool
	retryCounter int
	socketID     string
}

// NewClient builds a client for the application identified by appKey. The
// client does not connect until Connect is called or its ReadyGroup fires.
func NewClient(appKey string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(appKey) == "" {
		return nil, ErrEmptyAppKey
	}

	c := &Client{
		id:                generateID(),
		appKey:            appKey,
		host:              DefaultHost,
		wsPort:            DefaultWSPort,
		wssPort:           DefaultWSSPort,
		clientName:        DefaultClientName,
		connectionTimeout: DefaultConnectionTimeout,
		dial:              transport.NewFactory(),
		afterFunc:         realAfterFunc,
		log:               debug.Logger(),
		channels:          NewChannels(),
		state:             StateIdle,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.With().Str("client", c.id).Logger()
	c.global = newGlobalChannel(c.log)

	if c.authTimeout <= 0 {
		c.authTimeout = c.connectionTimeout
	}
	if c.authorizer == nil && c.authEndpoint != "" {
		a := NewHTTPAuthorizer(c.authEndpoint, c.authTimeout, &http.Client{Jar: c.cookieJar})
		for k, values := range c.authHeader {
			for _, v := range values {
				a.Header.Add(k, v)
			}
		}
		c.authorizer = a
	}

	c.Bind(EventConnectionDisconnected, func(Value) {
		for _, ch := range c.channels.All() {
			ch.setSubscribed(false)
		}
	})
	c.Bind(EventError, func(data Value) {
		c.log.Error().
			Str("message", data.Get("message").Str()).
			Stringer("code", data.Get("code")).
			Msg("server error")
	})

	if c.readyGroup != nil {
		c.readyGroup.Register(c)
	}

	return c, nil
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SocketID returns the id the server assigned to the current connection, or
// "" while not connected.
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// URL returns the endpoint the next connection attempt dials.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.urlLocked()
}

func (c *Client) urlLocked() string {
	scheme, port := "ws", c.wsPort
	if c.encrypted || c.secure {
		scheme, port = "wss", c.wssPort
	}
	return fmt.Sprintf("%s://%s:%d/app/%s?client=%s&version=%s",
		scheme, c.host, port, c.appKey, c.clientName, Version)
}

func connectTimeout(base time.Duration, retries int) time.Duration {
	return base + time.Duration(retries)*retryStep
}

func retryDelay(retries int) time.Duration {
	delay := time.Duration(retries) * retryStep
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// Connect starts a connection attempt unless one is already running.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.reconnect = true
	sess := c.startLocked()
	c.mu.Unlock()

	sess.Open(context.Background())
	return nil
}

func (c *Client) startLocked() transport.Session {
	c.stopTimersLocked()

	c.generation++
	gen := c.generation
	c.setStateLocked(StateConnecting)
	c.connected = false
	c.socketID = ""

	url := c.urlLocked()
	timeout := connectTimeout(c.connectionTimeout, c.retryCounter)
	scheme := url[:strings.Index(url, ":")]
	connectAttempts.WithLabelValues(scheme).Inc()
	c.log.Info().Str("url", url).Dur("timeout", timeout).Msg("connecting")

	sess := c.dial(url, transport.Listener{
		OnOpen:    func() { c.handleOpen(gen) },
		OnMessage: func(data []byte) { c.handleFrame(gen, data) },
		OnClose:   func(err error) { c.handleClose(gen, err) },
	})
	c.session = sess
	c.connectTimer = c.afterFunc(timeout, func() {
		c.closeAttempt(gen, ErrConnectTimeout, true)
	})
	return sess
}

func (c *Client) setStateLocked(s State) {
	if s == c.state {
		return
	}
	if c.state != StateIdle {
		clientStates.WithLabelValues(c.state.String()).Dec()
	}
	if s != StateIdle {
		clientStates.WithLabelValues(s.String()).Inc()
	}
	c.state = s
}

func (c *Client) stopTimersLocked() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) handleOpen(gen uint64) {
	c.mu.Lock()
	current := gen == c.generation
	c.mu.Unlock()
	if current {
		c.global.Dispatch(EventOpen, Null())
	}
}

func (c *Client) handleEstablished(gen uint64, data Value) bool {
	c.mu.Lock()
	if gen != c.generation || c.state != StateConnecting {
		c.mu.Unlock()
		return false
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	c.setStateLocked(StateConnected)
	c.connected = true
	c.retryCounter = 0
	c.socketID = data.Get("socket_id").Str()
	socketID := c.socketID
	c.mu.Unlock()

	connectionsEstablished.Inc()
	c.log.Info().Str("socket_id", socketID).Msg("connection established")

	// The server forgets subscriptions along with the socket.
	for _, name := range c.channels.Names() {
		if ch, ok := c.channels.Get(name); ok {
			go c.subscribeChannel(ch, gen, socketID)
		}
	}
	return true
}

func (c *Client) handleClose(gen uint64, cause error) {
	c.closeAttempt(gen, cause, false)
}

// closeAttempt drives the transition out of Connecting or Connected. The
// connect timer and the transport close race for it; the first caller wins.
// A timeout only applies while the attempt is still connecting.
func (c *Client) closeAttempt(gen uint64, cause error, timedOut bool) {
	c.mu.Lock()
	if gen != c.generation || (c.state != StateConnecting && c.state != StateConnected) {
		c.mu.Unlock()
		return
	}
	if timedOut && c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	if timedOut {
		c.log.Warn().Dur("timeout", connectTimeout(c.connectionTimeout, c.retryCounter)).Msg("connection timeout")
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	sess := c.session
	c.session = nil
	wasConnected := c.connected
	c.connected = false
	c.socketID = ""

	if wasConnected {
		c.setStateLocked(StateClosedAfterConnect)
		c.log.Info().AnErr("cause", cause).Msg("connection broken")
		if c.reconnect {
			retriesScheduled.WithLabelValues("closed_after_connect").Inc()
			c.scheduleLocked(0)
		} else {
			c.setStateLocked(StateIdle)
		}
	} else {
		c.setStateLocked(StateClosedBeforeConnect)
		c.log.Info().AnErr("cause", cause).Msg("connection failed")
		if c.reconnect {
			if !c.encrypted {
				c.secure = !c.secure
				c.log.Debug().Bool("secure", c.secure).Msg("toggling transport mode")
			}
			delay := retryDelay(c.retryCounter)
			c.retryCounter++
			retriesScheduled.WithLabelValues("closed_before_connect").Inc()
			c.scheduleLocked(delay)
		} else {
			c.setStateLocked(StateIdle)
		}
	}
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			c.log.Debug().Err(err).Msg("closing transport")
		}
	}

	c.global.Dispatch(EventClose, Null())
	if wasConnected {
		c.dispatchLocal(EventConnectionDisconnected, EmptyObject(), "")
	} else {
		c.dispatchLocal(EventConnectionFailed, Null(), "")
	}
}

func (c *Client) scheduleLocked(delay time.Duration) {
	c.setStateLocked(StateRetryScheduled)
	gen := c.generation
	c.log.Info().Dur("delay", delay).Int("retry", c.retryCounter).Msg("retrying connection")
	c.retryTimer = c.afterFunc(delay, func() { c.retry(gen) })
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateRetryScheduled || !c.reconnect {
		c.mu.Unlock()
		return
	}
	sess := c.startLocked()
	c.mu.Unlock()

	sess.Open(context.Background())
}

// Disconnect closes the connection and stops automatic reconnection until
// Connect is called again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.log.Info().Msg("disconnecting")
	c.reconnect = false
	c.retryCounter = 0
	c.stopTimersLocked()
	c.generation++
	c.setStateLocked(StateDisconnecting)
	sess := c.session
	c.session = nil
	wasConnected := c.connected
	c.connected = false
	c.socketID = ""
	c.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.Close()
	}

	c.mu.Lock()
	if c.state == StateDisconnecting {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()

	if sess != nil {
		c.global.Dispatch(EventClose, Null())
	}
	if wasConnected {
		c.dispatchLocal(EventConnectionDisconnected, EmptyObject(), "")
	}
	return err
}

// Bind registers callback for event on every channel, including events not
// scoped to a channel.
func (c *Client) Bind(event string, callback Callback) *Client {
	c.global.Bind(event, callback)
	return c
}

// BindAll registers callback for every event the client dispatches.
func (c *Client) BindAll(callback Callback) *Client {
	c.global.BindAll(callback)
	return c
}

// Subscribe registers the channel and, when connected, subscribes to it on
// the server. While offline the subscription is sent on the next connect.
func (c *Client) Subscribe(name string) (*Channel, error) {
	switch kindOf(name) {
	case Presence:
		return nil, fmt.Errorf("subscribe %q: %w", name, ErrPresenceUnsupported)
	case Private:
		if c.authorizer == nil {
			return nil, fmt.Errorf("subscribe %q: %w", name, ErrMissingAuthEndpoint)
		}
	}

	ch, err := c.channels.Add(name, c, c.log)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	connected := c.state == StateConnected
	gen, socketID := c.generation, c.socketID
	c.mu.Unlock()

	if connected {
		go c.subscribeChannel(ch, gen, socketID)
	}
	return ch, nil
}

func (c *Client) subscribeChannel(ch *Channel, gen uint64, socketID string) {
	auth := c.authorize(ch, socketID)

	c.mu.Lock()
	current := gen == c.generation && c.state == StateConnected
	c.mu.Unlock()
	if !current {
		return
	}
	if registered, ok := c.channels.Get(ch.Name()); !ok || registered != ch {
		return
	}

	data := NewObject().
		Set("channel", String(ch.Name())).
		Set("auth", auth.Get("auth")).
		Set("channel_data", auth.Get("channel_data"))
	if err := c.SendEvent(EventSubscribe, ObjectValue(data), ""); err != nil {
		c.log.Warn().Err(err).Str("channel", ch.Name()).Msg("subscribe not sent")
	}
}

// authorize never fails: private channels fall back to an empty token and
// the server's rejection arrives as a pusher:error event.
func (c *Client) authorize(ch *Channel, socketID string) Value {
	if ch.Kind() != Private {
		return EmptyObject()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.authTimeout)
	defer cancel()

	type result struct {
		data Value
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.authorizer.Authorize(ctx, socketID, ch.Name())
		done <- result{data, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		authFailures.Inc()
		c.log.Warn().Err(res.err).Str("channel", ch.Name()).Dur("timeout", c.authTimeout).Msg("auth failed")
		return EmptyObject()
	}
	return res.data
}

// Unsubscribe drops the channel and its callbacks.
func (c *Client) Unsubscribe(name string) {
	c.channels.Remove(name)

	if !c.IsConnected() {
		return
	}
	data := NewObject().Set("channel", String(name))
	if err := c.SendEvent(EventUnsubscribe, ObjectValue(data), ""); err != nil {
		c.log.Warn().Err(err).Str("channel", name).Msg("unsubscribe not sent")
	}
}

func (c *Client) Channel(name string) (*Channel, bool) {
	return c.channels.Get(name)
}

// Channels lists the registered channel names.
func (c *Client) Channels() []string {
	return c.channels.Names()
}

// SendEvent writes an event envelope to the server.
func (c *Client) SendEvent(event string, data Value, channel string) error {
	c.mu.Lock()
	sess := c.session
	connected := c.connected
	c.mu.Unlock()

	if !connected || sess == nil {
		return ErrNotConnected
	}

	frame, err := encodeMessage(event, data, channel)
	if err != nil {
		return err
	}
	c.log.Debug().Str("event", event).Str("channel", channel).Stringer("data", data).Msg("event sent")
	return sess.Send(frame)
}
