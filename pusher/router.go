package pusher

// handleFrame decodes one inbound frame of connection generation gen and
// routes it to the channel it names and to the global callbacks.
func (c *Client) handleFrame(gen uint64, frame []byte) {
	c.mu.Lock()
	current := gen == c.generation
	socketID := c.socketID
	c.mu.Unlock()
	if !current {
		return
	}

	msg, rawData, err := decodeMessage(frame)
	if err != nil {
		c.log.Warn().Err(err).Bytes("frame", frame).Msg("dropping frame")
		return
	}
	eventsReceived.Inc()
	if rawData {
		c.log.Debug().Str("event", msg.Event).Msg("data attribute is not valid JSON, passing the raw string")
	}

	if msg.SocketID != "" && msg.SocketID == socketID {
		loopbackDropped.Inc()
		c.log.Debug().Str("event", msg.Event).Msg("dropping our own event")
		return
	}

	if msg.Event == EventConnectionEstablished && !c.handleEstablished(gen, msg.Data) {
		return
	}

	c.dispatchLocal(msg.Event, msg.Data, msg.Channel)
}

// dispatchLocal delivers an event to its channel, if registered, and then
// always to the global pseudo-channel.
func (c *Client) dispatchLocal(event string, data Value, channel string) {
	if channel != "" {
		if ch, ok := c.channels.Get(channel); ok {
			if event == EventSubscriptionSucceeded {
				ch.setSubscribed(true)
			}
			ch.DispatchWithAll(event, data)
		}
	} else {
		c.log.Debug().Str("event", event).Stringer("data", data).Msg("event received")
	}

	c.global.DispatchWithAll(event, data)
}
