package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Room   RoomConfig   `mapstructure:"room"`
	Store  StoreConfig  `mapstructure:"store"`
	Mirror MirrorConfig `mapstructure:"mirror"`
}

type RoomConfig struct {
	StageSlots       int           `mapstructure:"stage_slots"`
	HistorySize      int           `mapstructure:"history_size"`
	ChatMaxLen       int           `mapstructure:"chat_max_len"`
	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`
	XPPerChat        int64         `mapstructure:"xp_per_chat"`
}

type StoreConfig struct {
	Driver        string        `mapstructure:"driver"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type MirrorConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
	Retries   int `mapstructure:"retries"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")

	v.SetDefault("room.stage_slots", 10)
	v.SetDefault("room.history_size", 50)
	v.SetDefault("room.chat_max_len", 500)
	v.SetDefault("room.chat_rate_limit", 5)
	v.SetDefault("room.chat_rate_interval", "3s")
	v.SetDefault("room.xp_per_chat", 1)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.timeout", "2s")

	v.SetDefault("mirror.workers", 2)
	v.SetDefault("mirror.queue_size", 256)
	v.SetDefault("mirror.retries", 2)
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults; VOICE_*
// variables override both, e.g. VOICE_STORE_DRIVER.
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
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Err(err).Str("module", "config").Str("file", fileName).Msg("config file not loaded, using defaults")
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
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Room.StageSlots <= 0:
		return errors.New("room.stage_slots must be positive")
	case c.Room.HistorySize <= 0:
		return errors.New("room.history_size must be positive")
	case c.Room.ChatMaxLen <= 0:
		return errors.New("room.chat_max_len must be positive")
	case c.Store.Driver != "memory" && c.Store.Driver != "redis":
		return fmt.Errorf("store.driver %q is not one of memory, redis", c.Store.Driver)
	case c.Mirror.Workers <= 0:
		return errors.New("mirror.workers must be positive")
	}
	return nil
}
