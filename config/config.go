// Package config loads client settings from a TOML or YAML file.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kleeedolinux/pusher.go/pusher"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvAppKey overrides the app_key of any loaded file.
const EnvAppKey = "PUSHER_APP_KEY"

var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Config mirrors the client options. Durations are Go duration strings.
type Config struct {
	AppKey            string            `toml:"app_key" yaml:"app_key"`
	Host              string            `toml:"host" yaml:"host"`
	WSPort            int               `toml:"ws_port" yaml:"ws_port"`
	WSSPort           int               `toml:"wss_port" yaml:"wss_port"`
	Encrypted         bool              `toml:"encrypted" yaml:"encrypted"`
	ConnectionTimeout string            `toml:"connection_timeout" yaml:"connection_timeout"`
	ClientName        string            `toml:"client_name" yaml:"client_name"`
	AuthEndpoint      string            `toml:"auth_endpoint" yaml:"auth_endpoint"`
	AuthTimeout       string            `toml:"auth_timeout" yaml:"auth_timeout"`
	AuthHeaders       map[string]string `toml:"auth_headers" yaml:"auth_headers"`
	Channels          []string          `toml:"channels" yaml:"channels"`
	LogLevel          string            `toml:"log_level" yaml:"log_level"`
}

func Default() Config {
	return Config{
		Host:              pusher.DefaultHost,
		WSPort:            pusher.DefaultWSPort,
		WSSPort:           pusher.DefaultWSSPort,
		ConnectionTimeout: pusher.DefaultConnectionTimeout.String(),
		ClientName:        pusher.DefaultClientName,
	}
}

// Load reads path, picking the decoder from its extension. Keys missing from
// the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if key := strings.TrimSpace(os.Getenv(EnvAppKey)); key != "" {
		c.AppKey = key
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.AppKey) == "" {
		return pusher.ErrEmptyAppKey
	}
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("config: host is empty")
	}
	if c.WSPort <= 0 || c.WSPort > 65535 {
		return fmt.Errorf("config: invalid ws_port %d", c.WSPort)
	}
	if c.WSSPort <= 0 || c.WSSPort > 65535 {
		return fmt.Errorf("config: invalid wss_port %d", c.WSSPort)
	}
	if _, err := parseDuration("connection_timeout", c.ConnectionTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("auth_timeout", c.AuthTimeout); err != nil {
		return err
	}
	for _, name := range c.Channels {
		if strings.HasPrefix(name, "private-") && c.AuthEndpoint == "" {
			return fmt.Errorf("config: channel %q: %w", name, pusher.ErrMissingAuthEndpoint)
		}
		if strings.HasPrefix(name, "presence-") {
			return fmt.Errorf("config: channel %q: %w", name, pusher.ErrPresenceUnsupported)
		}
	}
	return nil
}

// Options converts the file settings into client options.
func (c Config) Options() []pusher.ClientOption {
	opts := []pusher.ClientOption{
		pusher.WithHost(c.Host),
		pusher.WithPorts(c.WSPort, c.WSSPort),
		pusher.WithEncrypted(c.Encrypted),
	}

	if c.ClientName != "" {
		opts = append(opts, pusher.WithClientName(c.ClientName))
	}
	if d, _ := parseDuration("connection_timeout", c.ConnectionTimeout); d > 0 {
		opts = append(opts, pusher.WithConnectionTimeout(d))
	}
	if c.AuthEndpoint != "" {
		opts = append(opts, pusher.WithAuthEndpoint(c.AuthEndpoint))
	}
	if d, _ := parseDuration("auth_timeout", c.AuthTimeout); d > 0 {
		opts = append(opts, pusher.WithAuthTimeout(d))
	}
	if len(c.AuthHeaders) > 0 {
		header := make(http.Header, len(c.AuthHeaders))
		for k, v := range c.AuthHeaders {
			header.Set(k, v)
		}
		opts = append(opts, pusher.WithAuthHeaders(header))
	}
	return opts
}

func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s is negative", field)
	}
	return d, nil
}
