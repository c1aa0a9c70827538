package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"api-url":      "api.base_url",
	"channel":      "channel.kind",
	"amqp-url":     "channel.amqp_url",
	"stomp":        "channel.stomp_endpoints",
	"email":        "auth.email",
	"log-level":    "log.level",
	"pretty":       "log.pretty",
	"metrics-addr": "metrics.addr",
}

// Flags registers the flags Load understands on set.
func Flags(set *pflag.FlagSet) {
	set.String("config", "", "path to a YAML config file")
	set.String("api-url", "", "REST API base URL")
	set.String("channel", "", "channel transport: amqp, stomp or loopback")
	set.String("amqp-url", "", "RabbitMQ URL")
	set.StringSlice("stomp", nil, "STOMP websocket endpoints, tried in order")
	set.String("email", "", "account email")
	set.String("log-level", "", "debug, info, warn or error")
	set.Bool("pretty", false, "human readable logs")
	set.String("metrics-addr", "", "address for /metrics and /healthz, empty to disable")
}

// Load reads, lowest precedence first: defaults, the YAML file, a .env
// file, RESCUE_* environment variables and flags changed on flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetDefault("api.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("api.timeout", "15s")

	v.SetDefault("channel.kind", ChannelStomp)
	v.SetDefault("channel.amqp_url", "")
	v.SetDefault("channel.exchange", "rescue.notifications")
	v.SetDefault("channel.stomp_endpoints", []string{"ws://localhost:8080/ws", "ws://localhost:8080/ws/websocket"})
	v.SetDefault("channel.heartbeat", "4s")
	v.SetDefault("channel.reconnect_delay", "3s")
	v.SetDefault("channel.max_reconnect_attempts", 5)

	v.SetDefault("auth.email", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.keyring_service", "rescue-events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("metrics.addr", "")

	v.SetEnvPrefix("rescue")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
