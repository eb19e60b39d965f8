// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Links       LinksConfig       `yaml:"links"`
	Auth        AuthConfig        `yaml:"auth"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Transport   TransportConfig   `yaml:"transport"`
	GC          GCConfig          `yaml:"gc"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LinksConfig struct {
	TokenLength          int     `yaml:"token_length"`
	LinkFormat           string  `yaml:"link_format"`
	Admins               []int64 `yaml:"admins"`
	ForwardMediaToAdmins bool    `yaml:"forward_media_to_admins"`
	Locale               string  `yaml:"locale"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type PersistenceConfig struct {
	Backend     string         `yaml:"backend"`
	Codec       string         `yaml:"codec"`
	Compression string         `yaml:"compression"`
	Interval    time.Duration  `yaml:"interval"`
	Path        string         `yaml:"path"`
	Redis       RedisConfig    `yaml:"redis"`
	S3          S3Config       `yaml:"s3"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Object    string `yaml:"object"`
}

type PostgresConfig struct {
	DSN  string `yaml:"dsn"`
	Name string `yaml:"name"`
}

type DeliveryConfig struct {
	Scheduler   string      `yaml:"scheduler"`
	Redis       RedisConfig `yaml:"redis"`
	Queue       string      `yaml:"queue"`
	Concurrency int         `yaml:"concurrency"`
}

type TransportConfig struct {
	GatewayURL   string        `yaml:"gateway_url"`
	GatewayToken string        `yaml:"gateway_token"`
	Timeout      time.Duration `yaml:"timeout"`
	// MemoryHistory bounds the in-memory sink used when no gateway is set.
	MemoryHistory int `yaml:"memory_history"`
}

type GCConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	HooksPerMin    int  `yaml:"hooks_per_min"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Links: LinksConfig{
			TokenLength: 6,
			LinkFormat:  "https://t.me/vanish_share_bot?start=%s",
			Locale:      "en",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Persistence: PersistenceConfig{
			Backend:     "file",
			Codec:       "json",
			Compression: "none",
			Interval:    30 * time.Second,
			Path:        "data/registry.snap",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "vanish:snapshot",
			},
			S3: S3Config{
				Bucket: "vanish",
				Object: "registry/snapshot",
			},
			Postgres: PostgresConfig{
				Name: "registry",
			},
		},
		Delivery: DeliveryConfig{
			Scheduler: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Queue:       "default",
			Concurrency: 10,
		},
		Transport: TransportConfig{
			Timeout:       10 * time.Second,
			MemoryHistory: 1000,
		},
		GC: GCConfig{
			Interval: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 100,
			HooksPerMin:    600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env, the optional YAML file and the environment, in that
// order, then validates the result.
func Load(path string) (*Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() error {
	// Server
	setString(&c.Server.Host, "HOST")
	setInt(&c.Server.Port, "PORT")

	// Links
	setInt(&c.Links.TokenLength, "TOKEN_LENGTH")
	setString(&c.Links.LinkFormat, "LINK_FORMAT")
	setString(&c.Links.Locale, "LOCALE")
	setBool(&c.Links.ForwardMediaToAdmins, "FORWARD_MEDIA_TO_ADMINS")
	if v := os.Getenv("ADMINS"); v != "" {
		admins, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("ADMINS: %w", err)
		}
		c.Links.Admins = admins
	}

	// Auth
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setDuration(&c.Auth.TokenTTL, "TOKEN_TTL")

	// Persistence
	setString(&c.Persistence.Backend, "PERSISTENCE_BACKEND")
	setString(&c.Persistence.Codec, "PERSISTENCE_CODEC")
	setString(&c.Persistence.Compression, "PERSISTENCE_COMPRESSION")
	setDuration(&c.Persistence.Interval, "PERSISTENCE_INTERVAL")
	setString(&c.Persistence.Path, "PERSISTENCE_PATH")
	setString(&c.Persistence.Redis.Addr, "REDIS_ADDR")
	setString(&c.Persistence.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Persistence.Redis.DB, "REDIS_DB")
	setString(&c.Persistence.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Persistence.S3.AccessKey, "S3_ACCESS_KEY")
	setString(&c.Persistence.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&c.Persistence.S3.UseSSL, "S3_USE_SSL")
	setString(&c.Persistence.S3.Region, "S3_REGION")
	setString(&c.Persistence.S3.Bucket, "S3_BUCKET")
	setString(&c.Persistence.Postgres.DSN, "DATABASE_URL")

	// Delivery
	setString(&c.Delivery.Scheduler, "DELIVERY_SCHEDULER")
	setString(&c.Delivery.Redis.Addr, "ASYNQ_REDIS_ADDR")
	setString(&c.Delivery.Redis.Password, "ASYNQ_REDIS_PASSWORD")
	setInt(&c.Delivery.Concurrency, "DELIVERY_CONCURRENCY")

	// Transport
	setString(&c.Transport.GatewayURL, "GATEWAY_URL")
	setString(&c.Transport.GatewayToken, "GATEWAY_TOKEN")
	setDuration(&c.Transport.Timeout, "GATEWAY_TIMEOUT")
	setInt(&c.Transport.MemoryHistory, "MEMORY_HISTORY")

	setDuration(&c.GC.Interval, "GC_INTERVAL")

	setBool(&c.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&c.RateLimit.RequestsPerMin, "RATE_LIMIT_REQUESTS")
	setInt(&c.RateLimit.HooksPerMin, "RATE_LIMIT_HOOKS")

	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func parseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Links.TokenLength < 6 || c.Links.TokenLength > 64 {
		return fmt.Errorf("token_length must be between 6 and 64 bytes")
	}

	if c.Transport.MemoryHistory < 0 {
		return fmt.Errorf("memory_history must not be negative")
	}

	if strings.Count(c.Links.LinkFormat, "%s") != 1 {
		return errors.New("link_format must contain exactly one %s")
	}

	switch c.Persistence.Backend {
	case "none":
	case "file":
		if c.Persistence.Path == "" {
			return fmt.Errorf("persistence path is required when backend is 'file'")
		}
	case "redis":
		if c.Persistence.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required when backend is 'redis'")
		}
	case "s3":
		if c.Persistence.S3.Endpoint == "" || c.Persistence.S3.Bucket == "" {
			return fmt.Errorf("s3 endpoint and bucket are required when backend is 's3'")
		}
	case "postgres":
		if c.Persistence.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required when backend is 'postgres'")
		}
	default:
		return fmt.Errorf("invalid persistence backend: %s (must be 'none', 'file', 'redis', 's3' or 'postgres')", c.Persistence.Backend)
	}

	if c.Persistence.Codec != "json" && c.Persistence.Codec != "cbor" {
		return fmt.Errorf("invalid persistence codec: %s (must be 'json' or 'cbor')", c.Persistence.Codec)
	}

	if c.Persistence.Compression != "none" && c.Persistence.Compression != "zstd" {
		return fmt.Errorf("invalid persistence compression: %s (must be 'none' or 'zstd')", c.Persistence.Compression)
	}

	if c.Persistence.Interval <= 0 {
		return fmt.Errorf("persistence interval must be positive")
	}

	switch c.Delivery.Scheduler {
	case "memory":
	case "asynq":
		if c.Delivery.Redis.Addr == "" {
			return fmt.Errorf("delivery redis addr is required when scheduler is 'asynq'")
		}
		if c.Delivery.Concurrency < 1 {
			return fmt.Errorf("delivery concurrency must be at least 1")
		}
	default:
		return fmt.Errorf("invalid delivery scheduler: %s (must be 'memory' or 'asynq')", c.Delivery.Scheduler)
	}

	if c.GC.Interval <= 0 {
		return fmt.Errorf("gc interval must be positive")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMin < 1 || c.RateLimit.HooksPerMin < 1) {
		return fmt.Errorf("rate limits must be at least 1 per minute")
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
