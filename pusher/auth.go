package pusher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Authorizer obtains the subscription token for a private channel.
type Authorizer interface {
	Authorize(ctx context.Context, socketID, channel string) (Value, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, socketID, channel string) (Value, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, socketID, channel string) (Value, error) {
	return f(ctx, socketID, channel)
}

// HTTPAuthorizer posts to an application endpoint that signs subscriptions:
//
//	POST {endpoint}?socket_id={id}&channel_name={name}
//
// and decodes the JSON body it answers with.
type HTTPAuthorizer struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
	Header   http.Header
}

func NewHTTPAuthorizer(endpoint string, timeout time.Duration, client *http.Client) *HTTPAuthorizer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPAuthorizer{
		Endpoint: endpoint,
		Timeout:  timeout,
		Client:   client,
		Header:   make(http.Header),
	}
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, socketID, channel string) (Value, error) {
	endpoint, err := url.Parse(a.Endpoint)
	if err != nil {
		return Value{}, fmt.Errorf("auth endpoint %q: %w", a.Endpoint, err)
	}
	query := endpoint.Query()
	query.Set("socket_id", socketID)
	query.Set("channel_name", channel)
	endpoint.RawQuery = query.Encode()

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return Value{}, err
	}
	for k, values := range a.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return Value{}, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Value{}, fmt.Errorf("auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Value{}, fmt.Errorf("auth request failed: %s - %s", resp.Status, string(body))
	}

	data, err := ParseValue(body)
	if err != nil {
		return Value{}, fmt.Errorf("auth response: %w", err)
	}
	if data.Kind() != KindObject {
		return Value{}, fmt.Errorf("auth response is %s, not an object", data.Kind())
	}
	return data, nil
}
