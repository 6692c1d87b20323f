// Package transport provides the socket sessions a pusher.Client drives.
//
// A Session owns one physical connection. The client creates a fresh
// Session for every connection attempt through a Factory and learns about
// the connection exclusively through the Listener it hands over.
package transport

import "context"

// Listener receives a session's notifications. OnClose is delivered exactly
// once per session, whether the connection failed to open, was dropped, or
// was closed locally. No notification is delivered from inside Open.
type Listener struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(err error)
}

type Session interface {
	// Open starts connecting and returns immediately.
	Open(ctx context.Context)
	Send(data []byte) error
	// Close tears the connection down. Closing before Open makes Open a no-op
	// that still reports OnClose.
	Close() error
}

// Factory builds a session for url.
type Factory func(url string, l Listener) Session
