// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SETTLED_* environment variables.
type Config struct {
	Admin      AdminConfig      `toml:"admin"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Settlement SettlementConfig `toml:"settlement"`
	Oracle     OracleConfig     `toml:"oracle"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// AdminConfig holds the administrative key material. The admin account
// registers oracles and arbitrates challenges.
type AdminConfig struct {
	Address          string `toml:"address"`
	APISecret        string `toml:"api_secret"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// snapshot archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SettlementConfig holds the market and pool engine parameters.
type SettlementConfig struct {
	// EscrowAddress holds pooled funds and committed stakes.
	EscrowAddress string `toml:"escrow_address"`
	// TradingFeeBps is charged on every trade against the pool.
	TradingFeeBps int64 `toml:"trading_fee_bps"`
	// PayoutFeeBps is taken from each gross winnings payout.
	PayoutFeeBps int64 `toml:"payout_fee_bps"`
	// DisputeWindowSecs is how long after resolution a result can be
	// disputed.
	DisputeWindowSecs int64 `toml:"dispute_window_secs"`
	// DisputeStake is escrowed when opening a dispute.
	DisputeStake int64 `toml:"dispute_stake"`
	// MaxLiquidityCap bounds total liquidity per market; 0 = unbounded.
	MaxLiquidityCap int64 `toml:"max_liquidity_cap"`
}

// OracleConfig holds the attestation and consensus parameters.
type OracleConfig struct {
	ConsensusThreshold  int   `toml:"consensus_threshold"`
	MaxOracles          int   `toml:"max_oracles"`
	MinChallengeStake   int64 `toml:"min_challenge_stake"`
	ChallengePeriodSecs int64 `toml:"challenge_period_secs"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimitPerMin caps requests per client per minute; 0 disables.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// NotifyConfig holds operator alert channels. Events lists the event types
// to forward; empty forwards everything.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketsettle",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketsettle-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Settlement: SettlementConfig{
			TradingFeeBps:     20,
			PayoutFeeBps:      1000,
			DisputeWindowSecs: 7 * 24 * 3600,
			DisputeStake:      1000,
			MaxLiquidityCap:   0,
		},
		Oracle: OracleConfig{
			ConsensusThreshold:  2,
			MaxOracles:          10,
			MinChallengeStake:   1000,
			ChallengePeriodSecs: 7 * 24 * 3600,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 600,
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "market_disputed", "market_cancelled", "challenge_resolved"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"memory":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, memory, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Admin
	if c.Admin.Address == "" {
		errs = append(errs, "admin: address must not be empty")
	} else if !common.IsHexAddress(c.Admin.Address) {
		errs = append(errs, fmt.Sprintf("admin: address %q is not a valid hex address", c.Admin.Address))
	}
	if c.Admin.EncryptedKeyPath != "" && c.Admin.KeyPassword == "" {
		errs = append(errs, "admin: key_password is required when encrypted_key_path is set")
	}

	// Postgres and Redis checks are skipped entirely in memory mode.
	if strings.ToLower(c.Mode) != "memory" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Settlement
	if c.Settlement.EscrowAddress == "" {
		errs = append(errs, "settlement: escrow_address must not be empty")
	} else if !common.IsHexAddress(c.Settlement.EscrowAddress) {
		errs = append(errs, fmt.Sprintf("settlement: escrow_address %q is not a valid hex address", c.Settlement.EscrowAddress))
	}
	if c.Settlement.TradingFeeBps < 0 || c.Settlement.TradingFeeBps >= 10000 {
		errs = append(errs, fmt.Sprintf("settlement: trading_fee_bps must be 0-9999, got %d", c.Settlement.TradingFeeBps))
	}
	if c.Settlement.PayoutFeeBps < 0 || c.Settlement.PayoutFeeBps >= 10000 {
		errs = append(errs, fmt.Sprintf("settlement: payout_fee_bps must be 0-9999, got %d", c.Settlement.PayoutFeeBps))
	}
	if c.Settlement.DisputeWindowSecs <= 0 {
		errs = append(errs, "settlement: dispute_window_secs must be > 0")
	}
	if c.Settlement.DisputeStake <= 0 {
		errs = append(errs, "settlement: dispute_stake must be > 0")
	}
	if c.Settlement.MaxLiquidityCap < 0 {
		errs = append(errs, "settlement: max_liquidity_cap must be >= 0")
	}

	// Oracle
	if c.Oracle.ConsensusThreshold < 1 {
		errs = append(errs, "oracle: consensus_threshold must be >= 1")
	}
	if c.Oracle.MaxOracles < 1 {
		errs = append(errs, "oracle: max_oracles must be >= 1")
	}
	if c.Oracle.ConsensusThreshold > c.Oracle.MaxOracles {
		errs = append(errs, "oracle: consensus_threshold must not exceed max_oracles")
	}
	if c.Oracle.MinChallengeStake <= 0 {
		errs = append(errs, "oracle: min_challenge_stake must be > 0")
	}
	if c.Oracle.ChallengePeriodSecs <= 0 {
		errs = append(errs, "oracle: challenge_period_secs must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
