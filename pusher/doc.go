// Package pusher is a client for hosted websocket pub/sub services speaking
// the Pusher channels protocol.
//
// A Client keeps a single connection alive, retrying with a growing delay and
// alternating between ws:// and wss:// until a connection is established.
// Channels are registered with Subscribe and survive reconnects: every
// registered channel is subscribed again on each new connection.
//
//	client, err := pusher.NewClient("app-key",
//		pusher.WithAuthEndpoint("https://example.com/pusher/auth"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	ch, _ := client.Subscribe("private-orders")
//	ch.Bind("order-created", func(data pusher.Value) {
//		fmt.Println(data.Get("id"))
//	})
//	client.Connect()
//
// Callbacks run on the connection's read goroutine, in registration order.
// A callback that panics is logged and does not stop the ones after it.
package pusher
