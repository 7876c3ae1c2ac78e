// Package config loads runtime configuration with precedence
// file > environment > defaults, via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel  string           `mapstructure:"log_level"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Mongo     *MongoConfig     `mapstructure:"mongo"`
	Realtime  *RealtimeConfig  `mapstructure:"realtime"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RealtimeConfig holds the coordinator timing knobs. The defaults match
// the client's expectations; changing them only affects the server side.
type RealtimeConfig struct {
	TypingTimeout   time.Duration `mapstructure:"typing_timeout"`
	RingTimeout     time.Duration `mapstructure:"ring_timeout"`
	MaxCallDuration time.Duration `mapstructure:"max_call_duration"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("websocket.ping_interval", 25*time.Second)
	v.SetDefault("websocket.read_timeout", 60*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.send_buffer", 100)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chatline")
	v.SetDefault("mongo.timeout", 10*time.Second)

	v.SetDefault("realtime.typing_timeout", 3*time.Second)
	v.SetDefault("realtime.ring_timeout", 60*time.Second)
	v.SetDefault("realtime.max_call_duration", time.Hour)
}

// Load reads configuration from the optional file at path (YAML) and
// from CHATLINE_* environment variables, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHATLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Mongo == nil || c.Realtime == nil {
		return fmt.Errorf("incomplete configuration")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed ping interval")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" {
		return fmt.Errorf("mongo uri and database are required")
	}
	if c.Mongo.Timeout <= 0 {
		return fmt.Errorf("mongo timeout must be positive")
	}
	if c.Realtime.TypingTimeout <= 0 {
		return fmt.Errorf("typing timeout must be positive")
	}
	if c.Realtime.RingTimeout <= 0 {
		return fmt.Errorf("ring timeout must be positive")
	}
	if c.Realtime.MaxCallDuration <= c.Realtime.RingTimeout {
		return fmt.Errorf("max call duration must exceed ring timeout")
	}
	return nil
}
