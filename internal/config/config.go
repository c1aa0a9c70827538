package config

import (
	"errors"
	"fmt"
	"time"
)

type APICfg struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChannelCfg struct {
	Kind                 string        `mapstructure:"kind"`
	AMQPURL              string        `mapstructure:"amqp_url"`
	Exchange             string        `mapstructure:"exchange"`
	StompEndpoints       []string      `mapstructure:"stomp_endpoints"`
	Heartbeat            time.Duration `mapstructure:"heartbeat"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

type AuthCfg struct {
	Email          string `mapstructure:"email"`
	Password       string `mapstructure:"password"`
	KeyringService string `mapstructure:"keyring_service"`
}

type LogCfg struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type MetricsCfg struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	API     APICfg     `mapstructure:"api"`
	Channel ChannelCfg `mapstructure:"channel"`
	Auth    AuthCfg    `mapstructure:"auth"`
	Log     LogCfg     `mapstructure:"log"`
	Metrics MetricsCfg `mapstructure:"metrics"`
}

const (
	ChannelAMQP     = "amqp"
	ChannelStomp    = "stomp"
	ChannelLoopback = "loopback"
)

var ErrInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	switch c.Channel.Kind {
	case ChannelAMQP:
		if c.Channel.AMQPURL == "" {
			return fmt.Errorf("%w: channel.amqp_url is required for amqp", ErrInvalid)
		}
	case ChannelStomp:
		if len(c.Channel.StompEndpoints) == 0 {
			return fmt.Errorf("%w: channel.stomp_endpoints is required for stomp", ErrInvalid)
		}
	case ChannelLoopback:
	default:
		return fmt.Errorf("%w: unknown channel.kind %q", ErrInvalid, c.Channel.Kind)
	}
	if c.Channel.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("%w: channel.max_reconnect_attempts must be positive", ErrInvalid)
	}
	if c.Channel.ReconnectDelay <= 0 || c.Channel.Heartbeat <= 0 {
		return fmt.Errorf("%w: channel durations must be positive", ErrInvalid)
	}
	return nil
}
