package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kleeedolinux/pusher.go/pusher"

	"github.com/spf13/cobra"
)

func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger <channel> <event> [data]",
		Short: "Send a client event on a channel",
		Long: `Connect, subscribe to the channel and send one client event on it.

Data is sent as JSON when it parses as JSON and as a string otherwise. The
service only relays client events on authenticated channels whose event
names start with "client-".

Examples:
  pusherctl trigger private-chat client-typing '{"user":"alice"}' --auth-endpoint=http://localhost:8080/auth
`,
		Args: cobra.RangeArgs(2, 3),
		RunE: runTrigger,
	}

	cmd.Flags().Duration("wait", 10*time.Second, "How long to wait for the subscription to be acknowledged")

	return cmd
}

func runTrigger(cmd *cobra.Command, args []string) error {
	client, _, err := newClient(cmd)
	if err != nil {
		return err
	}

	channel, event := args[0], args[1]
	data := pusher.Null()
	if len(args) == 3 {
		data = parseData(args[2])
	}
	wait, _ := cmd.Flags().GetDuration("wait")

	ch, err := client.Subscribe(channel)
	if err != nil {
		return err
	}

	subscribed := make(chan struct{})
	ch.Bind(pusher.EventSubscriptionSucceeded, func(pusher.Value) {
		select {
		case <-subscribed:
		default:
			close(subscribed)
		}
	})
	rejected := make(chan string, 1)
	client.Bind(pusher.EventError, func(data pusher.Value) {
		select {
		case rejected <- data.Get("message").Str():
		default:
		}
	})

	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(cmd.Context(), wait)
	defer cancel()

	select {
	case <-subscribed:
	case msg := <-rejected:
		return fmt.Errorf("subscribe %s: %s", channel, msg)
	case <-ctx.Done():
		return fmt.Errorf("subscribe %s: no acknowledgement within %s", channel, wait)
	}

	if err := ch.Trigger(event, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s on %s\n", event, channel)
	return nil
}

func parseData(raw string) pusher.Value {
	if v, err := pusher.ParseValue([]byte(strings.TrimSpace(raw))); err == nil {
		return v
	}
	return pusher.String(raw)
}
