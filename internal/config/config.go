// internal/config/config.go
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime setting read from the environment.
type Config struct {
	Port     string
	BotToken string
	LogLevel string

	DBDriver    string
	SQLitePath  string
	DatabaseURL string

	RedisAddr string
	RedisDB   int

	HistorianQueue     string
	HistorianBatchSize int
	HistorianFlush     time.Duration

	MinPlayers int
	MaxPlayers int

	// TokenTTL bounds notification subscription tokens; 0 means no expiry.
	TokenTTL time.Duration
	// AuthSeed, when set, makes subscription tokens survive restarts.
	AuthSeed []byte
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("BOT_TOKEN", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("SQLITE_PATH", "parchi.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("HISTORIAN_QUEUE_NAME", "parchi_actions")
	v.SetDefault("HISTORIAN_BATCH_SIZE", 20)
	v.SetDefault("HISTORIAN_FLUSH_MS", 500)
	v.SetDefault("MIN_PLAYERS", 4)
	v.SetDefault("MAX_PLAYERS", 6)
	v.SetDefault("TOKEN_EXPIRE_TIME", "72h")
	v.SetDefault("AUTH_SEED", "")
}

// parseTokenExpireTime accepts a duration, or "never"/"0" for no expiry.
func parseTokenExpireTime(raw string) (time.Duration, error) {
	if raw == "never" || raw == "0" || raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse TOKEN_EXPIRE_TIME: %w", err)
	}
	return d, nil
}

// Load reads .env files (when present) into the process environment and
// builds a Config from it.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:               v.GetString("PORT"),
		BotToken:           v.GetString("BOT_TOKEN"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		DBDriver:           v.GetString("DB_DRIVER"),
		SQLitePath:         v.GetString("SQLITE_PATH"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisDB:            v.GetInt("REDIS_DB"),
		HistorianQueue:     v.GetString("HISTORIAN_QUEUE_NAME"),
		HistorianBatchSize: v.GetInt("HISTORIAN_BATCH_SIZE"),
		HistorianFlush:     time.Duration(v.GetInt("HISTORIAN_FLUSH_MS")) * time.Millisecond,
		MinPlayers:         v.GetInt("MIN_PLAYERS"),
		MaxPlayers:         v.GetInt("MAX_PLAYERS"),
	}
	ttl, err := parseTokenExpireTime(v.GetString("TOKEN_EXPIRE_TIME"))
	if err != nil {
		return nil, err
	}
	cfg.TokenTTL = ttl
	if raw := v.GetString("AUTH_SEED"); raw != "" {
		seed, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("AUTH_SEED must be hex: %w", err)
		}
		cfg.AuthSeed = seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.MinPlayers < 2 || c.MaxPlayers < c.MinPlayers {
		return fmt.Errorf("invalid player limits %d-%d", c.MinPlayers, c.MaxPlayers)
	}
	if c.HistorianBatchSize <= 0 {
		return fmt.Errorf("HISTORIAN_BATCH_SIZE must be positive, got %d", c.HistorianBatchSize)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
