package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WSConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

type PresenceConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	EvictDuplicates bool          `mapstructure:"evict_duplicates"`
}

type MessagesConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

type RateLimitConfig struct {
	Messages int           `mapstructure:"messages"`
	Window   time.Duration `mapstructure:"window"`
}

type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type Config struct {
	Mode        string          `mapstructure:"mode"`
	Port        int             `mapstructure:"port"`
	LogLevel    string          `mapstructure:"log_level"`
	Secret      string          `mapstructure:"secret"`
	NodeID      string          `mapstructure:"node_id"`
	Backend     string          `mapstructure:"backend"`
	DatabaseURL string          `mapstructure:"database_url"`
	Redis       RedisConfig     `mapstructure:"redis"`
	WS          WSConfig        `mapstructure:"ws"`
	Presence    PresenceConfig  `mapstructure:"presence"`
	Messages    MessagesConfig  `mapstructure:"messages"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Retry       RetryConfig     `mapstructure:"retry"`
	Session     SessionConfig   `mapstructure:"session"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

func setDefaults(v *viper.Viper) {
	host, _ := os.Hostname()
	if host == "" {
		host = "chat"
	}
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")
	v.SetDefault("node_id", host)
	v.SetDefault("backend", BackendMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ws.read_limit", 32768)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("presence.ttl", "2m")
	v.SetDefault("presence.janitor_interval", "30s")
	v.SetDefault("presence.evict_duplicates", true)
	v.SetDefault("messages.max_length", 2000)
	v.SetDefault("rate_limit.messages", 5)
	v.SetDefault("rate_limit.window", "10s")
	v.SetDefault("retry.max_tries", 3)
	v.SetDefault("retry.initial_interval", "50ms")
	v.SetDefault("session.ttl", "168h")
}

// Load reads config/config.<CONFIG_ENV>.yaml (env defaults to dev) and
// applies CHAT_* environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("backend", cfg.Backend).Str("node", cfg.NodeID).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("mode must be debug, release or test, got %q", c.Mode))
	}
	if c.Mode == "release" && len(c.Secret) < 16 {
		errs = append(errs, errors.New("secret must be at least 16 bytes in release mode"))
	}
	if c.Backend != BackendMemory && c.Backend != BackendRedis {
		errs = append(errs, fmt.Errorf("backend must be %s or %s, got %q", BackendMemory, BackendRedis, c.Backend))
	}
	positive := map[string]time.Duration{
		"ws.ping_period":            c.WS.PingPeriod,
		"ws.pong_wait":              c.WS.PongWait,
		"ws.write_wait":             c.WS.WriteWait,
		"presence.ttl":              c.Presence.TTL,
		"presence.janitor_interval": c.Presence.JanitorInterval,
		"rate_limit.window":         c.RateLimit.Window,
		"session.ttl":               c.Session.TTL,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if c.WS.PingPeriod >= c.WS.PongWait {
		errs = append(errs, errors.New("ws.ping_period must be shorter than ws.pong_wait"))
	}
	if c.WS.ReadLimit <= 0 || c.WS.SendBuffer <= 0 {
		errs = append(errs, errors.New("ws.read_limit and ws.send_buffer must be positive"))
	}
	if c.RateLimit.Messages <= 0 || c.Messages.MaxLength <= 0 {
		errs = append(errs, errors.New("rate_limit.messages and messages.max_length must be positive"))
	}
	if c.Retry.MaxTries == 0 {
		errs = append(errs, errors.New("retry.max_tries must be at least 1"))
	}
	return errors.Join(errs...)
}
