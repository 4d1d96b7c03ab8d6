package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration sourced from the environment.
// It is distinct from botconfig.Config, which is the persisted, user-editable
// trading configuration.
type Config struct {
	Host      string
	Port      int
	DataDir   string
	MasterKey string
	LogLevel  string
	DevMode   bool

	// LiveBrokerName, when set, registers one live broker.Port backed by
	// the given OAuth vendor endpoints. Empty disables live trading;
	// paper_trading remains available regardless.
	LiveBrokerName     string
	LiveBrokerBaseURL  string
	LiveBrokerLoginURL string
}

// Load reads configuration from environment variables, loading a .env file
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:      getEnv("APP_HOST", "127.0.0.1"),
		Port:      getEnvAsInt("APP_PORT", 8080),
		DataDir:   getEnv("APP_DATA_DIR", defaultDataDir()),
		MasterKey: getEnv("APP_MASTER_KEY", ""),
		LogLevel:  getEnv("APP_LOG_LEVEL", "info"),
		DevMode:   getEnvAsBool("APP_DEV_MODE", false),

		LiveBrokerName:     getEnv("APP_LIVE_BROKER_NAME", ""),
		LiveBrokerBaseURL:  getEnv("APP_LIVE_BROKER_BASE_URL", ""),
		LiveBrokerLoginURL: getEnv("APP_LIVE_BROKER_LOGIN_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants required before the process can run.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("APP_DATA_DIR is required")
	}
	switch c.LogLevel {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("APP_LOG_LEVEL must be one of error|warn|info|debug, got %q", c.LogLevel)
	}
	return nil
}

// RequireMasterKey validates that a master key is present; called lazily by
// anything that touches the credential vault with a live broker, since paper
// trading does not need one.
func (c *Config) RequireMasterKey() error {
	if c.MasterKey == "" {
		return fmt.Errorf("APP_MASTER_KEY is required for live broker credential storage")
	}
	return nil
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".kiteflow-trader")
	}
	return "./data"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
