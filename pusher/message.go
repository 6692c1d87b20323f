package pusher

import (
	"encoding/json"
	"errors"
)

const (
	EventConnectionEstablished  = "pusher:connection_established"
	EventConnectionDisconnected = "pusher:connection_disconnected"
	EventConnectionFailed       = "pusher:connection_failed"
	EventError                  = "pusher:error"
	EventSubscribe              = "pusher:subscribe"
	EventUnsubscribe            = "pusher:unsubscribe"
	EventSubscriptionSucceeded  = "pusher_internal:subscription_succeeded"

	// Transport notifications, dispatched to global Bind callbacks only.
	EventOpen  = "open"
	EventClose = "close"
)

// Message is the wire envelope exchanged in both directions.
type Message struct {
	Event    string `json:"event"`
	Data     Value  `json:"data"`
	Channel  string `json:"channel,omitempty"`
	SocketID string `json:"socket_id,omitempty"`
}

var (
	ErrNotConnected        = errors.New("pusher: not connected")
	ErrUnsubscribed        = errors.New("pusher: channel was unsubscribed")
	ErrPresenceUnsupported = errors.New("pusher: presence channels are not implemented")
	ErrMissingAuthEndpoint = errors.New("pusher: an auth endpoint is required to subscribe to private channels")
	ErrEmptyAppKey         = errors.New("pusher: application key is empty")
	ErrConnectTimeout      = errors.New("pusher: connection timed out")
	ErrInvalidMessage      = errors.New("pusher: invalid message format")
)

// decodeMessage parses an inbound frame. A data field that is itself an
// encoded string is decoded again; if that fails the raw string is kept and
// rawData reports it.
func decodeMessage(frame []byte) (msg Message, rawData bool, err error) {
	var raw struct {
		Event    string          `json:"event"`
		Data     json.RawMessage `json:"data"`
		Channel  string          `json:"channel"`
		SocketID string          `json:"socket_id"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Message{}, false, errors.Join(ErrInvalidMessage, err)
	}
	if raw.Event == "" {
		return Message{}, false, ErrInvalidMessage
	}

	msg = Message{Event: raw.Event, Channel: raw.Channel, SocketID: raw.SocketID}
	if len(raw.Data) == 0 {
		return msg, false, nil
	}

	data, err := ParseValue(raw.Data)
	if err != nil {
		return Message{}, false, errors.Join(ErrInvalidMessage, err)
	}
	if s, ok := data.AsString(); ok {
		if nested, perr := ParseValue([]byte(s)); perr == nil {
			data = nested
		} else {
			rawData = true
		}
	}
	msg.Data = data
	return msg, rawData, nil
}

func encodeMessage(event string, data Value, channel string) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: data, Channel: channel})
}
