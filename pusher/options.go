package pusher

import (
	"net/http"
	"time"

	"github.com/kleeedolinux/pusher.go/pusher/transport"

	"github.com/rs/zerolog"
)

const (
	// Version is the protocol version announced in the connection URL.
	Version = "1.8.3"

	DefaultHost              = "ws.pusherapp.com"
	DefaultWSPort            = 80
	DefaultWSSPort           = 443
	DefaultConnectionTimeout = 5 * time.Second
	DefaultClientName        = "go"

	retryStep     = time.Second
	maxRetryDelay = 10 * time.Second
)

type ClientOption func(*Client)

func WithHost(host string) ClientOption {
	return func(c *Client) {
		c.host = host
	}
}

func WithPorts(wsPort, wssPort int) ClientOption {
	return func(c *Client) {
		c.wsPort = wsPort
		c.wssPort = wssPort
	}
}

// WithEncrypted restricts the client to wss:// endpoints.
func WithEncrypted(encrypted bool) ClientOption {
	return func(c *Client) {
		c.encrypted = encrypted
	}
}

// WithConnectionTimeout sets the base connect timeout. Each retry adds a second.
func WithConnectionTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.connectionTimeout = d
	}
}

func WithClientName(name string) ClientOption {
	return func(c *Client) {
		c.clientName = name
	}
}

// WithAuthEndpoint installs an HTTPAuthorizer for private channels.
func WithAuthEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.authEndpoint = endpoint
	}
}

// WithAuthTimeout bounds authorization requests. It defaults to the
// connection timeout.
func WithAuthTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.authTimeout = d
	}
}

// WithCookieJar shares a cookie jar with the auth endpoint requests.
func WithCookieJar(jar http.CookieJar) ClientOption {
	return func(c *Client) {
		c.cookieJar = jar
	}
}

func WithAuthHeaders(header http.Header) ClientOption {
	return func(c *Client) {
		c.authHeader = header
	}
}

// WithAuthorizer replaces the HTTP authorizer entirely.
func WithAuthorizer(a Authorizer) ClientOption {
	return func(c *Client) {
		c.authorizer = a
	}
}

func WithTransport(factory transport.Factory) ClientOption {
	return func(c *Client) {
		c.dial = factory
	}
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithReadyGroup registers the client with g, which connects it once g is ready.
func WithReadyGroup(g *ReadyGroup) ClientOption {
	return func(c *Client) {
		c.readyGroup = g
	}
}
