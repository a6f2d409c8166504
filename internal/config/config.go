package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	TxRetryLimit   int
	KeyStrategy    string
	AccountsTable  string
	HistoryBackend string
	HistorySQLite  string
	CDCShards      int
	CDCBatchSize   int
	CDCPollPeriod  time.Duration
	AllowedOrigins []string
}

// Load reads configuration from the environment. CONFIG_FILE may name a
// yaml file whose keys match the environment variable names; the
// environment wins.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("TX_RETRY_LIMIT", 3)
	v.SetDefault("IDEMPOTENCY_KEY_STRATEGY", "requestTime")
	v.SetDefault("ACCOUNTS_TABLE", "Wallet")
	v.SetDefault("HISTORY_BACKEND", "postgres")
	v.SetDefault("HISTORY_SQLITE_PATH", "./data/history.db")
	v.SetDefault("CDC_SHARD_COUNT", 1)
	v.SetDefault("CDC_BATCH_SIZE", 100)
	v.SetDefault("CDC_POLL_INTERVAL", "1s")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		DBSource:       v.GetString("DB_SOURCE"),
		Port:           v.GetString("SERVER_PORT"),
		Env:            v.GetString("ENVIRONMENT"),
		TxRetryLimit:   v.GetInt("TX_RETRY_LIMIT"),
		KeyStrategy:    v.GetString("IDEMPOTENCY_KEY_STRATEGY"),
		AccountsTable:  v.GetString("ACCOUNTS_TABLE"),
		HistoryBackend: strings.ToLower(v.GetString("HISTORY_BACKEND")),
		HistorySQLite:  v.GetString("HISTORY_SQLITE_PATH"),
		CDCShards:      v.GetInt("CDC_SHARD_COUNT"),
		CDCBatchSize:   v.GetInt("CDC_BATCH_SIZE"),
		CDCPollPeriod:  v.GetDuration("CDC_POLL_INTERVAL"),
		AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if cfg.TxRetryLimit < 1 {
		return nil, fmt.Errorf("TX_RETRY_LIMIT must be at least 1, got %d", cfg.TxRetryLimit)
	}
	if cfg.CDCShards < 1 {
		return nil, fmt.Errorf("CDC_SHARD_COUNT must be at least 1, got %d", cfg.CDCShards)
	}
	switch cfg.HistoryBackend {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("HISTORY_BACKEND must be postgres or sqlite, got %q", cfg.HistoryBackend)
	}
	return cfg, nil
}

// HistoryDSN is the connection string for the configured history backend.
func (c *Config) HistoryDSN() string {
	if c.HistoryBackend == "sqlite" {
		return c.HistorySQLite
	}
	return c.DBSource
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
