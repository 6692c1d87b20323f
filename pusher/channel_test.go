package pusher

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	events []Message
	err    error
}

func (s *recordingSender) SendEvent(event string, data Value, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Message{Event: event, Data: data, Channel: channel})
	return s.err
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Public, kindOf("news"))
	assert.Equal(t, Private, kindOf("private-orders"))
	assert.Equal(t, Presence, kindOf("presence-room"))
	assert.Equal(t, Public, kindOf("privatechannel"))
}

func TestChannelDispatchRunsCallbacksInOrder(t *testing.T) {
	ch, err := newChannel("news", nil, zerolog.Nop())
	require.NoError(t, err)

	var calls []string
	ch.Bind("update", func(Value) { calls = append(calls, "first") })
	ch.Bind("update", func(Value) { calls = append(calls, "second") })
	ch.Bind("other", func(Value) { calls = append(calls, "other") })

	ch.Dispatch("update", Null())
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestChannelDispatchSurvivesPanickingCallback(t *testing.T) {
	ch, err := newChannel("news", nil, zerolog.Nop())
	require.NoError(t, err)

	var got Value
	ch.Bind("update", func(Value) { panic("boom") })
	ch.Bind("update", func(data Value) { got = data })

	assert.NotPanics(t, func() { ch.Dispatch("update", String("payload")) })
	assert.Equal(t, "payload", got.Str())
}

func TestChannelDispatchWithAll(t *testing.T) {
	ch, err := newChannel("news", nil, zerolog.Nop())
	require.NoError(t, err)

	var calls []string
	ch.BindAll(func(Value) { calls = append(calls, "all") })
	ch.Bind("update", func(Value) { calls = append(calls, "update") })

	ch.DispatchWithAll("update", Null())
	ch.DispatchWithAll("unbound", Null())
	assert.Equal(t, []string{"update", "all", "all"}, calls)
}

func TestChannelUnbind(t *testing.T) {
	ch, err := newChannel("news", nil, zerolog.Nop())
	require.NoError(t, err)

	called := false
	ch.Bind("update", func(Value) { called = true }).Unbind("update")
	ch.Dispatch("update", Null())
	assert.False(t, called)
}

func TestChannelTrigger(t *testing.T) {
	s := &recordingSender{}
	ch, err := newChannel("private-chat", s, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, ch.Trigger("client-typing", String("bob")))
	require.Len(t, s.events, 1)
	assert.Equal(t, "client-typing", s.events[0].Event)
	assert.Equal(t, "private-chat", s.events[0].Channel)

	s.err = ErrNotConnected
	assert.ErrorIs(t, ch.Trigger("client-typing", Null()), ErrNotConnected)
}

func TestChannelTriggerWithoutClient(t *testing.T) {
	ch, err := newChannel("news", nil, zerolog.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, ch.Trigger("client-x", Null()), ErrNotConnected)
}

func TestNewChannelRejectsPresence(t *testing.T) {
	_, err := newChannel("presence-room", nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrPresenceUnsupported)
}

func TestChannelsAddIsIdempotent(t *testing.T) {
	cs := NewChannels()

	first, err := cs.Add("news", nil, zerolog.Nop())
	require.NoError(t, err)
	second, err := cs.Add("news", nil, zerolog.Nop())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, cs.Count())
}

func TestChannelsRemoveDiscardsCallbacks(t *testing.T) {
	cs := NewChannels()

	ch, err := cs.Add("news", nil, zerolog.Nop())
	require.NoError(t, err)
	called := false
	ch.Bind("update", func(Value) { called = true })

	cs.Remove("news")
	assert.False(t, cs.Has("news"))

	fresh, err := cs.Add("news", nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NotSame(t, ch, fresh)
	fresh.Dispatch("update", Null())
	assert.False(t, called)
}

func TestRemovedChannelStopsTriggering(t *testing.T) {
	s := &recordingSender{}
	cs := NewChannels()

	ch, err := cs.Add("private-chat", s, zerolog.Nop())
	require.NoError(t, err)
	cs.Remove("private-chat")

	assert.ErrorIs(t, ch.Trigger("client-typing", Null()), ErrUnsubscribed)
	assert.Empty(t, s.events)

	fresh, err := cs.Add("private-chat", s, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, fresh.Trigger("client-typing", Null()))
	assert.Len(t, s.events, 1)
}

func TestChannelsNamesSorted(t *testing.T) {
	cs := NewChannels()
	for _, name := range []string{"zeta", "alpha", "private-mid"} {
		_, err := cs.Add(name, nil, zerolog.Nop())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alpha", "private-mid", "zeta"}, cs.Names())
	assert.Len(t, cs.All(), 3)
}

func TestChannelsConcurrentAdd(t *testing.T) {
	cs := NewChannels()

	var wg sync.WaitGroup
	results := make([]*Channel, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := cs.Add("news", nil, zerolog.Nop())
			if err == nil {
				results[i] = ch
			}
		}(i)
	}
	wg.Wait()

	for _, ch := range results {
		assert.Same(t, results[0], ch)
	}
}
