package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the gateway configuration.
type Config struct {
	Environment string
	AppID       string

	HTTPAddr string
	TCPAddr  string

	// DatabaseURL selects the PostgreSQL ledger; when empty the gateway
	// falls back to a local SQLite ledger at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	RedisAddr string

	// SettlementURL selects the HTTP payout backend; empty runs the
	// in-process simulator.
	SettlementURL     string
	SettlementAsset   string
	SettlementWallet  string
	SettlementTimeout time.Duration
	LedgerTimeout     time.Duration

	ApprovalRate float64
	MaxAmount    decimal.Decimal

	RateLimitCapacity  int
	RateLimitRefill    float64
	MaxBodyBytes       int64
	TerminalAllowCIDRs []string
}

// Load loads configuration from environment variables. Development defaults
// are permissive; production requires the durable backends.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:       getenv("APP_ENV", "development"),
		AppID:             getenv("APP_ID", "default-app-id"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		TCPAddr:           getenv("TCP_ADDR", ":8583"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getenv("SQLITE_PATH", "gateway.db"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		SettlementURL:     os.Getenv("SETTLEMENT_URL"),
		SettlementAsset:   getenv("SETTLEMENT_ASSET", "USDT_TRC20"),
		SettlementWallet:  os.Getenv("SETTLEMENT_WALLET"),
		SettlementTimeout: getenvDuration("SETTLEMENT_TIMEOUT_MS", 5*time.Second),
		LedgerTimeout:     getenvDuration("LEDGER_TIMEOUT_MS", 5*time.Second),
		ApprovalRate:      getenvFloat("APPROVAL_RATE", 0.5),
		RateLimitCapacity: getenvInt("API_RATE_LIMIT_CAPACITY", 20),
		RateLimitRefill:   getenvFloat("API_RATE_LIMIT_REFILL_PER_SEC", 10),
		MaxBodyBytes:      int64(getenvInt("API_MAX_BODY_BYTES", 1<<20)),
	}

	if v := os.Getenv("MAX_AMOUNT"); v != "" {
		max, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("MAX_AMOUNT must be a decimal number: %w", err)
		}
		cfg.MaxAmount = max
	}

	if v := os.Getenv("TCP_IP_ALLOWLIST"); v != "" {
		cfg.TerminalAllowCIDRs = strings.Split(v, ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ApprovalRate < 0 || c.ApprovalRate > 1 {
		return errors.New("APPROVAL_RATE must be between 0 and 1")
	}

	if c.MaxAmount.IsNegative() {
		return errors.New("MAX_AMOUNT must not be negative")
	}

	if c.SettlementURL != "" && c.SettlementWallet == "" {
		return errors.New("SETTLEMENT_WALLET is required when SETTLEMENT_URL is set")
	}

	// Development may run on the local SQLite file; production and staging
	// must use the shared database and a real payout backend.
	if c.Environment == "production" || c.Environment == "staging" {
		var missing []string
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if c.SettlementURL == "" {
			missing = append(missing, "SETTLEMENT_URL")
		}
		if len(missing) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
		}
	}

	return nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	ms := getenvInt(key, 0)
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
