package config

import (
	"testing"
	"time"

	"github.com/mselser95/predict-session/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("OPERATOR_PRIVATE_KEY", testKey)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "USDC", cfg.SessionAsset)
	assert.Equal(t, types.Units(100), cfg.DefaultLiquidity)
	assert.Equal(t, int64(2500), cfg.WithdrawCapBPS)
	assert.Equal(t, "local", cfg.SigningMode)
	assert.Equal(t, 1, cfg.SignatureQuorum)
	assert.Equal(t, 30*time.Second, cfg.SignatureTimeout)
	assert.Equal(t, "memory", cfg.StorageMode)
	assert.True(t, cfg.RequireIntentSignatures)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("SIGNING_MODE", "relay")
	t.Setenv("RELAY_WS_URL", "ws://relay.local/sign")
	t.Setenv("DEFAULT_LIQUIDITY", "250.5")
	t.Setenv("SIGNATURE_QUORUM", "0")
	t.Setenv("SIGNATURE_TIMEOUT", "5s")
	t.Setenv("LOCAL_SIGNER_KEYS", " a, ,b ")
	t.Setenv("REQUIRE_INTENT_SIGNATURES", "false")
	t.Setenv("STORAGE_MODE", "postgres")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, types.Amount(250_500_000), cfg.DefaultLiquidity)
	assert.Equal(t, 0, cfg.SignatureQuorum)
	assert.Equal(t, 5*time.Second, cfg.SignatureTimeout)
	assert.Equal(t, []string{"a", "b"}, cfg.LocalSignerKeys)
	assert.False(t, cfg.RequireIntentSignatures)
	assert.Equal(t, "postgres", cfg.StorageMode)
}

func TestLoadFromEnv_BadLiquidity(t *testing.T) {
	t.Setenv("OPERATOR_PRIVATE_KEY", testKey)
	t.Setenv("DEFAULT_LIQUIDITY", "lots")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:                 "8080",
			SessionAsset:             "USDC",
			DefaultLiquidity:         types.Units(100),
			WithdrawCapBPS:           2500,
			SigningMode:              "local",
			OperatorPrivateKey:       testKey,
			SignatureTimeout:         time.Second,
			SignatureRetryMultiplier: 2,
			StorageMode:              "memory",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty-port", mutate: func(c *Config) { c.HTTPPort = "" }, wantErr: "HTTP_PORT"},
		{name: "zero-liquidity", mutate: func(c *Config) { c.DefaultLiquidity = 0 }, wantErr: "DEFAULT_LIQUIDITY"},
		{name: "cap-too-large", mutate: func(c *Config) { c.WithdrawCapBPS = 10_001 }, wantErr: "WITHDRAW_CAP_BPS"},
		{name: "local-without-keys", mutate: func(c *Config) { c.OperatorPrivateKey = "" }, wantErr: "SIGNING_MODE=local"},
		{name: "relay-without-url", mutate: func(c *Config) { c.SigningMode = "relay" }, wantErr: "RELAY_WS_URL"},
		{name: "unknown-signing", mutate: func(c *Config) { c.SigningMode = "hsm" }, wantErr: "SIGNING_MODE"},
		{name: "zero-timeout", mutate: func(c *Config) { c.SignatureTimeout = 0 }, wantErr: "SIGNATURE_TIMEOUT"},
		{name: "negative-quorum", mutate: func(c *Config) { c.SignatureQuorum = -1 }, wantErr: "SIGNATURE_QUORUM"},
		{name: "slow-retry", mutate: func(c *Config) { c.SignatureRetryMultiplier = 0.5 }, wantErr: "SIGNATURE_RETRY_MULTIPLIER"},
		{name: "unknown-storage", mutate: func(c *Config) { c.StorageMode = "console" }, wantErr: "STORAGE_MODE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetters_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "ten")
	t.Setenv("X_FLOAT", "fast")
	t.Setenv("X_DURATION", "soon")
	t.Setenv("X_BOOL", "maybe")

	assert.Equal(t, 7, getIntOrDefault("X_INT", 7))
	assert.Equal(t, 1.5, getFloat64OrDefault("X_FLOAT", 1.5))
	assert.Equal(t, time.Minute, getDurationOrDefault("X_DURATION", time.Minute))
	assert.True(t, getBoolOrDefault("X_BOOL", true))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
