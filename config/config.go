package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port             string
	BindAddress      string
	DatabaseURL      string
	RedisHost        string
	RedisPort        string
	StateCacheTTL    time.Duration
	NatsURL          string
	NatsToken        string
	AdminToken       string
	JWTSecret        string
	AdminSessionTTL  time.Duration
	PresenceWindow   time.Duration
	RateLimit        int
	DefaultEventSlug string
	LogLevel         string
	CORSOrigins      []string
}

// fileConfig mirrors the keys accepted in the optional CONFIG_FILE overlay.
// Environment variables always win over the file.
type fileConfig struct {
	Port             string   `toml:"port"`
	BindAddress      string   `toml:"bind_address"`
	DatabaseURL      string   `toml:"database_url"`
	RedisHost        string   `toml:"redis_host"`
	RedisPort        string   `toml:"redis_port"`
	StateCacheTTL    string   `toml:"state_cache_ttl"`
	NatsURL          string   `toml:"nats_url"`
	PresenceWindow   string   `toml:"presence_window"`
	RateLimit        int      `toml:"rate_limit"`
	DefaultEventSlug string   `toml:"default_event_slug"`
	LogLevel         string   `toml:"log_level"`
	CORSOrigins      []string `toml:"cors_origins"`
}

func Load() (*Config, error) {
	// .env is optional when the variables come from the environment (Docker, CI).
	_ = godotenv.Load()

	file, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:             getEnv("PORT", orDefault(file.Port, "8080")),
		BindAddress:      getEnv("BIND_ADDRESS", orDefault(file.BindAddress, "")),
		DatabaseURL:      getEnv("DATABASE_URL", file.DatabaseURL),
		RedisHost:        getEnv("REDIS_HOST", orDefault(file.RedisHost, "localhost")),
		RedisPort:        getEnv("REDIS_PORT", orDefault(file.RedisPort, "6379")),
		NatsURL:          getEnv("NATS_URL", file.NatsURL),
		NatsToken:        os.Getenv("NATS_TOKEN"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		DefaultEventSlug: getEnv("DEFAULT_EVENT_SLUG", orDefault(file.DefaultEventSlug, "pr-demo")),
		LogLevel:         getEnv("LOG_LEVEL", orDefault(file.LogLevel, "info")),
		CORSOrigins:      file.CORSOrigins,
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = databaseURLFromParts()
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	if cfg.StateCacheTTL, err = getDuration("STATE_CACHE_TTL", orDefault(file.StateCacheTTL, "2s")); err != nil {
		return nil, err
	}
	if cfg.AdminSessionTTL, err = getDuration("ADMIN_SESSION_TTL", "12h"); err != nil {
		return nil, err
	}
	if cfg.PresenceWindow, err = getDuration("PRESENCE_WINDOW", orDefault(file.PresenceWindow, "30s")); err != nil {
		return nil, err
	}

	rateDefault := "600"
	if file.RateLimit > 0 {
		rateDefault = strconv.Itoa(file.RateLimit)
	}
	cfg.RateLimit, err = strconv.Atoi(getEnv("RATE_LIMIT", rateDefault))
	if err != nil {
		return nil, fmt.Errorf("config: RATE_LIMIT invalid: %w", err)
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.AdminToken
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.AdminToken) == "" {
		return errors.New("config: ADMIN_TOKEN is required")
	}
	parsed, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("config: DATABASE_URL invalid (%q): %w", c.DatabaseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config: DATABASE_URL invalid (%q): missing scheme or host", c.DatabaseURL)
	}
	if c.PresenceWindow <= 0 {
		return errors.New("config: PRESENCE_WINDOW must be positive")
	}
	if c.RateLimit <= 0 {
		return errors.New("config: RATE_LIMIT must be positive")
	}
	if c.DefaultEventSlug == "" {
		return errors.New("config: DEFAULT_EVENT_SLUG cannot be empty")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.BindAddress + ":" + c.Port
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fc, nil
}

func databaseURLFromParts() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("DB_USER", "eventquiz"), getEnv("DB_PASSWORD", "eventquiz")),
		Host:     getEnv("DB_HOST", "localhost") + ":" + getEnv("DB_PORT", "5432"),
		Path:     "/" + getEnv("DB_NAME", "eventquiz"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnv(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s invalid (%q): %w", key, raw, err)
	}
	return d, nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	return client
}

// InitLogging configures the process-wide logrus logger.
func InitLogging(cfg *Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	log.SetLevel(level)
}
