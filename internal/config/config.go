package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration decodes TOML strings such as "5m" or "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type AppConfig struct {
	Name        string `toml:"name"`
	Env         string `toml:"env"`
	HTTPPort    string `toml:"http_port"`
	GRPCPort    string `toml:"grpc_port"`
	DebugRoutes bool   `toml:"debug_routes"`
}

type StorageConfig struct {
	Backend     string `toml:"backend"`
	PostgresDSN string `toml:"postgres_dsn"`
}

type RedisConfig struct {
	URL           string `toml:"url"`
	EventsChannel string `toml:"events_channel"`
}

type PresenceConfig struct {
	TTL     Duration `toml:"ttl"`
	Refresh Duration `toml:"refresh"`
}

type AMQPConfig struct {
	URL           string `toml:"url"`
	Exchange      string `toml:"exchange"`
	AuditRouteKey string `toml:"audit_routing_key"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
}

type LogConfig struct {
	LogPath    string `toml:"log_path"`
	FileName   string `toml:"file_name"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Level      string `toml:"level"`
}

type TracingConfig struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

type ChatConfig struct {
	PageSize           int      `toml:"page_size"`
	MaxPageSize        int      `toml:"max_page_size"`
	TypingIdle         Duration `toml:"typing_idle"`
	TypingTTL          Duration `toml:"typing_ttl"`
	NotificationWindow Duration `toml:"notification_window"`
	SearchLimit        int      `toml:"search_limit"`
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type RateLimitConfig struct {
	PerSecond float64 `toml:"per_second"`
	Burst     int     `toml:"burst"`
}

// Config aggregates every section of the service configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Storage   StorageConfig   `toml:"storage"`
	Redis     RedisConfig     `toml:"redis"`
	AMQP      AMQPConfig      `toml:"amqp"`
	Auth      AuthConfig      `toml:"auth"`
	Log       LogConfig       `toml:"log"`
	Tracing   TracingConfig   `toml:"tracing"`
	Chat      ChatConfig      `toml:"chat"`
	CORS      CORSConfig      `toml:"cors"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Presence  PresenceConfig  `toml:"presence"`
}

var searchPaths = []string{
	"configs/config_local.toml",
	"configs/config.toml",
	"../../configs/config_local.toml",
	"../../configs/config.toml",
}

// Default returns a configuration that runs without any external backend.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "hive-chat",
			Env:      "dev",
			HTTPPort: "8083",
			GRPCPort: "9083",
		},
		Storage: StorageConfig{Backend: "memory"},
		Redis:   RedisConfig{EventsChannel: "hive-chat:events"},
		AMQP: AMQPConfig{
			Exchange:      "hive.events",
			AuditRouteKey: "audit.chat",
		},
		Log: LogConfig{
			LogPath:    "logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Level:      "info",
		},
		Tracing: TracingConfig{ServiceName: "hive-chat"},
		Chat: ChatConfig{
			PageSize:           30,
			MaxPageSize:        100,
			TypingIdle:         Duration{2 * time.Second},
			TypingTTL:          Duration{6 * time.Second},
			NotificationWindow: Duration{5 * time.Minute},
			SearchLimit:        20,
		},
		CORS:      CORSConfig{AllowedOrigins: []string{"*"}},
		RateLimit: RateLimitConfig{PerSecond: 5, Burst: 20},
		Presence: PresenceConfig{
			TTL:     Duration{90 * time.Second},
			Refresh: Duration{30 * time.Second},
		},
	}
}

// Load reads .env, the first TOML file found (HIVE_CONFIG wins over the search paths)
// and finally the environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	paths := searchPaths
	if explicit := os.Getenv("HIVE_CONFIG"); explicit != "" {
		paths = []string{explicit}
	}

	loaded := false
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		loaded = true
		break
	}
	if !loaded && os.Getenv("HIVE_CONFIG") != "" {
		return nil, fmt.Errorf("config file %s not found", os.Getenv("HIVE_CONFIG"))
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.App.HTTPPort, "PORT")
	overrideString(&cfg.App.GRPCPort, "GRPC_PORT")
	overrideString(&cfg.App.Env, "APP_ENV")
	overrideString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	overrideString(&cfg.Storage.PostgresDSN, "DB_DSN")
	overrideString(&cfg.Redis.URL, "REDIS_URL")
	overrideString(&cfg.AMQP.URL, "AMQP_URL")
	overrideString(&cfg.AMQP.Exchange, "AMQP_EXCHANGE")
	overrideString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	overrideString(&cfg.Auth.Issuer, "JWT_ISSUER")
	overrideString(&cfg.Tracing.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	overrideString(&cfg.Log.Level, "LOG_LEVEL")
	if val, ok := os.LookupEnv("DEBUG_ROUTES"); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			cfg.App.DebugRoutes = parsed
		}
	}
	if val, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok && val != "" {
		cfg.CORS.AllowedOrigins = strings.Split(val, ",")
	}
}

func overrideString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		*target = val
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Chat.PageSize <= 0 {
		return errors.New("chat.page_size must be positive")
	}
	if c.Presence.TTL.Duration > 0 && c.Presence.Refresh.Duration >= c.Presence.TTL.Duration {
		return errors.New("presence.refresh must be shorter than presence.ttl")
	}
	if c.Chat.MaxPageSize < c.Chat.PageSize {
		c.Chat.MaxPageSize = c.Chat.PageSize
	}
	return nil
}
