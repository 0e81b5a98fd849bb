package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"papertrader/internal/adapters/logger"
	"papertrader/internal/ports"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Account
	SessionID   string
	InitialCash float64

	// Market data
	Symbol        string
	KlineInterval string
	APIKey        string // Optional, market data is public
	SecretKey     string
	IsTestnet     bool

	// Persistence
	StoreDriver string
	DBPath      string
	PostgresDSN string

	// Risk limits, 0 disables
	MaxOrderNotional float64
	MaxPositionQty   float64

	// Logging
	LogLevel logger.LogLevel

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// A missing .env is fine; plain env vars still apply.
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{}
	var err error
	var errs []string

	cfg.SessionID = getEnv("SESSION_ID", "default")

	cfg.InitialCash, err = getEnvAsFloatRequired("INITIAL_CASH", 100000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CASH: %v", err))
	} else if cfg.InitialCash <= 0 {
		errs = append(errs, "INITIAL_CASH must be positive")
	}

	cfg.Symbol = strings.ToUpper(getEnv("SYMBOL", "ETHUSDT"))
	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "1m")

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	if (cfg.APIKey == "") != (cfg.SecretKey == "") {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set together")
	}
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite))
	cfg.DBPath = getEnv("DB_PATH", "./data/paper_trading.db")
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", "")
	switch cfg.StoreDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.PostgresDSN == "" {
			errs = append(errs, "POSTGRES_DSN must be set when STORE_DRIVER=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.StoreDriver))
	}

	cfg.MaxOrderNotional, err = getEnvAsFloatRequired("MAX_ORDER_NOTIONAL", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ORDER_NOTIONAL: %v", err))
	} else if cfg.MaxOrderNotional < 0 {
		errs = append(errs, "MAX_ORDER_NOTIONAL cannot be negative")
	}
	cfg.MaxPositionQty, err = getEnvAsFloatRequired("MAX_POSITION_QTY", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_QTY: %v", err))
	} else if cfg.MaxPositionQty < 0 {
		errs = append(errs, "MAX_POSITION_QTY cannot be negative")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: configuration validation failed: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}
