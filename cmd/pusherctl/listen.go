package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kleeedolinux/pusher.go/pusher"

	"github.com/spf13/cobra"
)

func newListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to channels and print the events they receive",
		Long: `Subscribe to channels and print one line per event:

  <channel> <event> <data>

Without --event every event is printed with "*" in place of its name.

Examples:
  pusherctl listen --key=app-key --channel=news
  pusherctl listen --config=client.toml --channel=private-orders --event=order-created
`,
		RunE: runListen,
	}

	cmd.Flags().StringSlice("channel", nil, "Channel to subscribe to (repeatable)")
	cmd.Flags().StringSlice("event", nil, "Only print these events (repeatable)")
	cmd.Flags().Int("count", 0, "Exit after printing this many events (0 = run until interrupted)")

	return cmd
}

func runListen(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient(cmd)
	if err != nil {
		return err
	}

	channels, _ := cmd.Flags().GetStringSlice("channel")
	events, _ := cmd.Flags().GetStringSlice("event")
	count, _ := cmd.Flags().GetInt("count")

	channels = append(cfg.Channels, channels...)
	if len(channels) == 0 {
		return fmt.Errorf("no channels given: use --channel or the config file")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &printer{out: cmd.OutOrStdout(), limit: count, done: cancel}

	for _, name := range channels {
		ch, err := client.Subscribe(name)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			ch.BindAll(p.callback(name, "*"))
			continue
		}
		for _, event := range events {
			ch.Bind(event, p.callback(name, event))
		}
	}

	client.Bind(pusher.EventError, func(data pusher.Value) {
		fmt.Fprintf(cmd.ErrOrStderr(), "server error: %s\n", data)
	})

	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Disconnect()

	<-ctx.Done()
	return nil
}

// printer writes events as lines and cancels the run once limit lines are out.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	limit   int
	printed int
	done    context.CancelFunc
}

func (p *printer) callback(channel, event string) pusher.Callback {
	return func(data pusher.Value) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.limit > 0 && p.printed >= p.limit {
			return
		}
		fmt.Fprintf(p.out, "%s %s %s\n", channel, event, data)
		p.printed++
		if p.limit > 0 && p.printed >= p.limit {
			p.done()
		}
	}
}
