package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mselser95/predict-session/pkg/types"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Sessions
	SessionAsset            string
	DefaultLiquidity        types.Amount
	WithdrawCapBPS          int64
	RequireIntentSignatures bool
	CacheTTL                time.Duration

	// Counter-signatures
	SigningMode              string // "local" or "relay"
	OperatorPrivateKey       string
	LocalSignerKeys          []string
	RelayWSURL               string
	RelayDialTimeout         time.Duration
	RelayPingInterval        time.Duration
	RelayReconnectInitial    time.Duration
	RelayReconnectMax        time.Duration
	RelayReconnectMult       float64
	SignatureTimeout         time.Duration
	SignatureQuorum          int
	SignatureRetryInitial    time.Duration
	SignatureRetryMax        time.Duration
	SignatureRetryMultiplier float64

	// Chain
	ChainRPCURL         string
	ChainConfirmations  uint64
	ChainPollInterval   time.Duration
	ConfirmationTimeout time.Duration

	// Storage
	StorageMode  string // "postgres" or "memory"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	liquidity, err := getAmountOrDefault("DEFAULT_LIQUIDITY", types.Units(100))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		SessionAsset:            getEnvOrDefault("SESSION_ASSET", "USDC"),
		DefaultLiquidity:        liquidity,
		WithdrawCapBPS:          int64(getIntOrDefault("WITHDRAW_CAP_BPS", 2500)),
		RequireIntentSignatures: getBoolOrDefault("REQUIRE_INTENT_SIGNATURES", true),
		CacheTTL:                getDurationOrDefault("CACHE_TTL", 30*time.Second),

		SigningMode:              getEnvOrDefault("SIGNING_MODE", "local"),
		OperatorPrivateKey:       os.Getenv("OPERATOR_PRIVATE_KEY"),
		LocalSignerKeys:          getListOrDefault("LOCAL_SIGNER_KEYS"),
		RelayWSURL:               os.Getenv("RELAY_WS_URL"),
		RelayDialTimeout:         getDurationOrDefault("RELAY_DIAL_TIMEOUT", 10*time.Second),
		RelayPingInterval:        getDurationOrDefault("RELAY_PING_INTERVAL", 10*time.Second),
		RelayReconnectInitial:    getDurationOrDefault("RELAY_RECONNECT_INITIAL_DELAY", 1*time.Second),
		RelayReconnectMax:        getDurationOrDefault("RELAY_RECONNECT_MAX_DELAY", 30*time.Second),
		RelayReconnectMult:       getFloat64OrDefault("RELAY_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		SignatureTimeout:         getDurationOrDefault("SIGNATURE_TIMEOUT", 30*time.Second),
		SignatureQuorum:          getIntOrDefault("SIGNATURE_QUORUM", 1),
		SignatureRetryInitial:    getDurationOrDefault("SIGNATURE_RETRY_INITIAL", 250*time.Millisecond),
		SignatureRetryMax:        getDurationOrDefault("SIGNATURE_RETRY_MAX", 5*time.Second),
		SignatureRetryMultiplier: getFloat64OrDefault("SIGNATURE_RETRY_MULTIPLIER", 2.0),

		ChainRPCURL:         os.Getenv("CHAIN_RPC_URL"),
		ChainConfirmations:  uint64(getIntOrDefault("CHAIN_CONFIRMATIONS", 1)),
		ChainPollInterval:   getDurationOrDefault("CHAIN_POLL_INTERVAL", 2*time.Second),
		ConfirmationTimeout: getDurationOrDefault("CONFIRMATION_TIMEOUT", 2*time.Minute),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", "memory"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "predict"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "predict123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "predict_session"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.SessionAsset == "" {
		return fmt.Errorf("SESSION_ASSET cannot be empty")
	}

	if c.DefaultLiquidity <= 0 {
		return fmt.Errorf("DEFAULT_LIQUIDITY must be positive, got %s", c.DefaultLiquidity)
	}

	if c.WithdrawCapBPS <= 0 || c.WithdrawCapBPS > 10_000 {
		return fmt.Errorf("WITHDRAW_CAP_BPS must be between 1 and 10000, got %d", c.WithdrawCapBPS)
	}

	switch c.SigningMode {
	case "local":
		if c.OperatorPrivateKey == "" && len(c.LocalSignerKeys) == 0 {
			return fmt.Errorf("SIGNING_MODE=local needs OPERATOR_PRIVATE_KEY or LOCAL_SIGNER_KEYS")
		}
	case "relay":
		if c.RelayWSURL == "" {
			return fmt.Errorf("SIGNING_MODE=relay needs RELAY_WS_URL")
		}
	default:
		return fmt.Errorf("SIGNING_MODE must be 'local' or 'relay', got %q", c.SigningMode)
	}

	if c.SignatureTimeout <= 0 {
		return fmt.Errorf("SIGNATURE_TIMEOUT must be positive, got %v", c.SignatureTimeout)
	}

	if c.SignatureQuorum < 0 {
		return fmt.Errorf("SIGNATURE_QUORUM cannot be negative, got %d", c.SignatureQuorum)
	}

	if c.SignatureRetryMultiplier < 1 {
		return fmt.Errorf("SIGNATURE_RETRY_MULTIPLIER must be at least 1, got %f", c.SignatureRetryMultiplier)
	}

	if c.StorageMode != "memory" && c.StorageMode != "postgres" {
		return fmt.Errorf("STORAGE_MODE must be 'memory' or 'postgres', got %q", c.StorageMode)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getAmountOrDefault parses a decimal amount. Unlike the other getters a bad
// value is an error, since a silently defaulted amount changes pricing.
func getAmountOrDefault(key string, defaultValue types.Amount) (types.Amount, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	amount, err := types.ParseAmount(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	return amount, nil
}

func getListOrDefault(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
