package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	StorageBbolt  = "bbolt"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type Config struct {
	APIAddr   string `env:"API_ADDR, default=:8080"`
	AdminAddr string `env:"ADMIN_ADDR, default=localhost:8081"`
	// BaseURL is where actors reach each other's party routes.
	BaseURL string `env:"BASE_URL, default=http://localhost:8080"`

	APIKey         string        `env:"API_KEY"`
	JWKSURL        string        `env:"JWKS_URL"`
	TokenIssuer    string        `env:"TOKEN_ISSUER"`
	DevTokenSecret string        `env:"DEV_TOKEN_SECRET"`
	ClaimsCacheTTL time.Duration `env:"CLAIMS_CACHE_TTL, default=1m"`

	Storage   string `env:"STORAGE_BACKEND, default=bbolt"`
	DBFile    string `env:"PARLOR_DB, default=parlor.db"`
	RedisAddr string `env:"REDIS_ADDR, default=localhost:6379"`
	RedisDB   int    `env:"REDIS_DB, default=0"`

	RPCTimeout               time.Duration `env:"RPC_TIMEOUT, default=3s"`
	CloseGrace               time.Duration `env:"CLOSE_GRACE, default=1500ms"`
	RoomHistoryLimit         int           `env:"ROOM_HISTORY_LIMIT, default=1000"`
	RoomIdleTimeout          time.Duration `env:"ROOM_IDLE_TIMEOUT, default=5m"`
	LobbyLiveMembership      bool          `env:"LOBBY_LIVE_MEMBERSHIP, default=true"`
	LobbyBroadcastMembership bool          `env:"LOBBY_BROADCAST_MEMBERSHIP, default=true"`

	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogFormat string `env:"LOG_FORMAT, default=text"`
}

// Load reads the configuration from the environment.
// In cliMode token verification settings are not required.
func Load(ctx context.Context, cliMode bool) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}

	if !cliMode && c.JWKSURL == "" && c.DevTokenSecret == "" {
		return fmt.Errorf("one of JWKS_URL or DEV_TOKEN_SECRET is required")
	}

	if c.RPCTimeout <= 0 {
		return fmt.Errorf("RPC_TIMEOUT must be greater than 0")
	}

	if c.CloseGrace < 0 {
		return fmt.Errorf("CLOSE_GRACE must not be negative")
	}

	if c.RoomHistoryLimit <= 0 {
		return fmt.Errorf("ROOM_HISTORY_LIMIT must be greater than 0")
	}

	if c.RoomIdleTimeout < 0 {
		return fmt.Errorf("ROOM_IDLE_TIMEOUT must not be negative")
	}

	switch c.Storage {
	case StorageBbolt, StorageRedis, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage)
	}

	return nil
}
