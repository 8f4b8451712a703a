package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Admin.Address = "0x00000000000000000000000000000000000000ad"
	cfg.Settlement.EscrowAddress = "0x00000000000000000000000000000000000000ee"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.Settlement.TradingFeeBps = 20_000
	cfg.Oracle.ConsensusThreshold = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "unknown mode"))
	assert.True(t, strings.Contains(msg, "trading_fee_bps"))
	assert.True(t, strings.Contains(msg, "consensus_threshold"))
}

func TestValidateAdminAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Admin.Address = "not-an-address"
	assert.Error(t, cfg.Validate())

	cfg.Admin.Address = ""
	assert.Error(t, cfg.Validate())
}

func TestMemoryModeSkipsBackendChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "memory"
	cfg.Postgres = PostgresConfig{}
	cfg.Redis = RedisConfig{}
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SETTLED_MODE", "server")
	t.Setenv("SETTLED_SETTLEMENT_TRADING_FEE_BPS", "35")
	t.Setenv("SETTLED_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SETTLED_POSTGRES_RUN_MIGRATIONS", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, int64(35), cfg.Settlement.TradingFeeBps)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Admin.APISecret = "topsecret"
	cfg.S3.SecretKey = "aws-secret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Admin.APISecret)
	assert.Equal(t, "***", out.S3.SecretKey)

	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
