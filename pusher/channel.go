package pusher

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	privatePrefix  = "private-"
	presencePrefix = "presence-"

	globalChannelName = "pusher_global_channel"
)

// ChannelKind is derived from the channel name prefix.
type ChannelKind int

const (
	Public ChannelKind = iota
	Private
	Presence
)

func (k ChannelKind) String() string {
	switch k {
	case Private:
		return "private"
	case Presence:
		return "presence"
	default:
		return "public"
	}
}

func kindOf(name string) ChannelKind {
	switch {
	case strings.HasPrefix(name, privatePrefix):
		return Private
	case strings.HasPrefix(name, presencePrefix):
		return Presence
	default:
		return Public
	}
}

// Callback receives the data of a dispatched event.
type Callback func(data Value)

// sender is the slice of Client a Channel needs to trigger events.
type sender interface {
	SendEvent(event string, data Value, channel string) error
}

type Channel struct {
	name   string
	kind   ChannelKind
	global bool
	client sender
	log    zerolog.Logger

	mu              sync.RWMutex
	subscribed      bool
	removed         bool
	callbacks       map[string][]Callback
	globalCallbacks []Callback
}

func newChannel(name string, client sender, log zerolog.Logger) (*Channel, error) {
	kind := kindOf(name)
	if kind == Presence {
		return nil, ErrPresenceUnsupported
	}
	return &Channel{
		name:      name,
		kind:      kind,
		client:    client,
		log:       log.With().Str("channel", name).Logger(),
		callbacks: make(map[string][]Callback),
	}, nil
}

func newGlobalChannel(log zerolog.Logger) *Channel {
	return &Channel{
		name:      globalChannelName,
		global:    true,
		log:       log,
		callbacks: make(map[string][]Callback),
	}
}

func (ch *Channel) Name() string {
	return ch.name
}

func (ch *Channel) Kind() ChannelKind {
	return ch.kind
}

// IsSubscribed reports whether the server acknowledged the subscription on
// the current connection.
func (ch *Channel) IsSubscribed() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.subscribed
}

func (ch *Channel) setSubscribed(subscribed bool) {
	ch.mu.Lock()
	ch.subscribed = subscribed
	ch.mu.Unlock()
}

// Bind appends callback to the list for event. Bindings made before the
// channel is subscribed are kept.
func (ch *Channel) Bind(event string, callback Callback) *Channel {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.callbacks[event] = append(ch.callbacks[event], callback)
	return ch
}

// BindAll registers callback for every event dispatched on this channel.
func (ch *Channel) BindAll(callback Callback) *Channel {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.globalCallbacks = append(ch.globalCallbacks, callback)
	return ch
}

// Unbind drops every callback bound to event.
func (ch *Channel) Unbind(event string) *Channel {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.callbacks, event)
	return ch
}

// Trigger sends a client event scoped to this channel. A channel dropped by
// Unsubscribe no longer sends.
func (ch *Channel) Trigger(event string, data Value) error {
	ch.mu.RLock()
	removed := ch.removed
	ch.mu.RUnlock()
	if removed {
		return ErrUnsubscribed
	}
	if ch.client == nil {
		return ErrNotConnected
	}
	return ch.client.SendEvent(event, data, ch.name)
}

// Dispatch runs the callbacks bound to event in registration order.
func (ch *Channel) Dispatch(event string, data Value) {
	ch.mu.RLock()
	callbacks, exists := ch.callbacks[event]
	callbacks = append([]Callback(nil), callbacks...)
	ch.mu.RUnlock()

	if !exists {
		if !ch.global {
			ch.log.Debug().Str("event", event).Msg("no callbacks bound")
		}
		return
	}
	for _, callback := range callbacks {
		ch.invoke(event, callback, data)
	}
}

// DispatchWithAll runs Dispatch and then every BindAll callback.
func (ch *Channel) DispatchWithAll(event string, data Value) {
	if !ch.global {
		ch.log.Debug().Str("event", event).Stringer("data", data).Msg("event received")
	}
	ch.Dispatch(event, data)

	ch.mu.RLock()
	callbacks := append([]Callback(nil), ch.globalCallbacks...)
	ch.mu.RUnlock()

	for _, callback := range callbacks {
		ch.invoke(event, callback, data)
	}
}

func (ch *Channel) invoke(event string, callback Callback, data Value) {
	defer func() {
		if r := recover(); r != nil {
			ch.log.Error().Str("event", event).Interface("panic", r).Msg("callback panicked")
		}
	}()
	callback(data)
}

// Channels maps channel names to live Channel instances.
type Channels struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

func NewChannels() *Channels {
	return &Channels{
		channels: make(map[string]*Channel),
	}
}

// Add returns the channel registered under name, creating it on first use.
func (cs *Channels) Add(name string, client sender, log zerolog.Logger) (*Channel, error) {
	cs.mu.RLock()
	ch, exists := cs.channels[name]
	cs.mu.RUnlock()
	if exists {
		return ch, nil
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if ch, exists = cs.channels[name]; exists {
		return ch, nil
	}
	ch, err := newChannel(name, client, log)
	if err != nil {
		return nil, err
	}
	cs.channels[name] = ch
	return ch, nil
}

func (cs *Channels) Get(name string) (*Channel, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	ch, exists := cs.channels[name]
	return ch, exists
}

func (cs *Channels) Has(name string) bool {
	_, exists := cs.Get(name)
	return exists
}

// Remove discards the channel. A later Add creates a fresh one.
func (cs *Channels) Remove(name string) {
	cs.mu.Lock()
	ch, exists := cs.channels[name]
	delete(cs.channels, name)
	cs.mu.Unlock()

	if exists {
		ch.mu.Lock()
		ch.removed = true
		ch.subscribed = false
		ch.mu.Unlock()
	}
}

// Names returns the registered channel names in sorted order.
func (cs *Channels) Names() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	names := make([]string, 0, len(cs.channels))
	for name := range cs.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cs *Channels) All() []*Channel {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	channels := make([]*Channel, 0, len(cs.channels))
	for _, ch := range cs.channels {
		channels = append(channels, ch)
	}
	return channels
}

func (cs *Channels) Count() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.channels)
}
