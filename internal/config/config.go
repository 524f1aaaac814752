package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string            `mapstructure:"mode" validate:"oneof=release debug test"`
	Port        int               `mapstructure:"port" validate:"min=1,max=65535"`
	Log         LogConfig         `mapstructure:"log"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Bypass      BypassConfig      `mapstructure:"bypass"`
	Extractor   ExtractorConfig   `mapstructure:"extractor"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Store       StoreConfig       `mapstructure:"store"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

type CacheConfig struct {
	Dir     string `mapstructure:"dir" validate:"required"`
	Limit   int    `mapstructure:"limit" validate:"min=1"`
	MinSize int64  `mapstructure:"min_size" validate:"min=0"`
}

type CredentialsConfig struct {
	Dir string `mapstructure:"dir"`
}

type BypassConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BaseURL          string        `mapstructure:"base_url" validate:"required,url"`
	DiscoveryURL     string        `mapstructure:"discovery_url" validate:"omitempty,url"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	Mirrors          []string      `mapstructure:"mirrors" validate:"dive,url"`
	Mode             string        `mapstructure:"mode" validate:"oneof=download stream"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout" validate:"gt=0"`
	TransferTimeout  time.Duration `mapstructure:"transfer_timeout" validate:"gt=0"`
}

type ExtractorConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Binary  string        `mapstructure:"binary" validate:"required_if=Enabled true"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// CatalogConfig covers search and playlist expansion; both run the
// extractor binary.
type CatalogConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PlaylistLimit int           `mapstructure:"playlist_limit" validate:"min=1,max=100"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type EngineConfig struct {
	Assistants  []string      `mapstructure:"assistants" validate:"dive,url"`
	PingPeriod  time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	ReadLimit   int64         `mapstructure:"read_limit" validate:"gt=0"`
}

type StoreConfig struct {
	Type   string       `mapstructure:"type" validate:"oneof=memory redis sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RateLimitConfig struct {
	Limit    int           `mapstructure:"limit" validate:"min=1"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("cache.dir", "downloads")
	v.SetDefault("cache.limit", 10)
	v.SetDefault("cache.min_size", 50000)
	v.SetDefault("credentials.dir", "cookies")

	v.SetDefault("bypass.enabled", true)
	v.SetDefault("bypass.base_url", "https://shrutibots.site")
	v.SetDefault("bypass.discovery_url", "https://pastebin.com/raw/rLsBhAQa")
	v.SetDefault("bypass.discovery_timeout", "5s")
	v.SetDefault("bypass.mirrors", []string{})
	v.SetDefault("bypass.mode", "download")
	v.SetDefault("bypass.query_timeout", "15s")
	v.SetDefault("bypass.transfer_timeout", "300s")

	v.SetDefault("extractor.enabled", true)
	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.timeout", "300s")

	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.playlist_limit", 10)
	v.SetDefault("catalog.timeout", "30s")

	v.SetDefault("engine.assistants", []string{})
	v.SetDefault("engine.ping_period", "10s")
	v.SetDefault("engine.call_timeout", "15s")
	v.SetDefault("engine.read_limit", 1<<20)

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.redis.address", "localhost:6379")
	v.SetDefault("store.redis.key_prefix", "voiceplay:")
	v.SetDefault("store.sqlite.path", "voiceplay.db")

	v.SetDefault("ratelimit.limit", 5)
	v.SetDefault("ratelimit.interval", "10s")
}

// FileName is the config file for the CONFIG_ENV environment, dev by default.
func FileName() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

// Load reads fileName (a missing file means defaults), applies VOICEPLAY_*
// environment overrides and validates the result. A non-nil v carries
// values already bound by the caller, e.g. command line flags.
func Load(v *viper.Viper, fileName string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("VOICEPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("store", cfg.Store.Type).Int("assistants", len(cfg.Engine.Assistants)).Msg("config ready")
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
