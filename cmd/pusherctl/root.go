package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kleeedolinux/pusher.go/config"
	"github.com/kleeedolinux/pusher.go/debug"
	"github.com/kleeedolinux/pusher.go/pusher"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pusherctl",
		Short:         "Listen to and trigger events on a Pusher channels app",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Client config file (.toml, .yaml or .yml)")
	flags.String("key", "", "Application key (overrides the config file and "+config.EnvAppKey+")")
	flags.String("host", pusher.DefaultHost, "Service host")
	flags.Int("ws-port", pusher.DefaultWSPort, "Port for ws:// connections")
	flags.Int("wss-port", pusher.DefaultWSSPort, "Port for wss:// connections")
	flags.Bool("encrypted", false, "Only connect over wss://")
	flags.String("auth-endpoint", "", "Endpoint that signs private channel subscriptions")
	flags.Duration("timeout", pusher.DefaultConnectionTimeout, "Base connection timeout")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error or disabled")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	cmd.AddCommand(newListenCmd())
	cmd.AddCommand(newTriggerCmd())

	return cmd
}

// resolveConfig loads the config file, if any, and applies command line
// overrides on top of it.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else {
		cfg.ApplyEnv()
	}

	if flags.Changed("key") {
		cfg.AppKey, _ = flags.GetString("key")
	}
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("ws-port") {
		cfg.WSPort, _ = flags.GetInt("ws-port")
	}
	if flags.Changed("wss-port") {
		cfg.WSSPort, _ = flags.GetInt("wss-port")
	}
	if flags.Changed("encrypted") {
		cfg.Encrypted, _ = flags.GetBool("encrypted")
	}
	if flags.Changed("auth-endpoint") {
		cfg.AuthEndpoint, _ = flags.GetString("auth-endpoint")
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		cfg.ConnectionTimeout = d.String()
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newClient builds a client from the resolved config and starts the metrics
// endpoint when one was requested.
func newClient(cmd *cobra.Command) (*pusher.Client, config.Config, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, config.Config{}, err
	}

	if cfg.LogLevel != "" {
		lvl, ok := debug.ParseLevel(cfg.LogLevel)
		if !ok {
			return nil, config.Config{}, fmt.Errorf("unknown log level %q", cfg.LogLevel)
		}
		debug.SetLevel(lvl)
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		if err := serveMetrics(addr); err != nil {
			return nil, config.Config{}, err
		}
	}

	client, err := pusher.NewClient(cfg.AppKey, cfg.Options()...)
	if err != nil {
		return nil, config.Config{}, err
	}
	return client, cfg, nil
}

func serveMetrics(addr string) error {
	if err := pusher.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log := debug.Logger()
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return nil
}
