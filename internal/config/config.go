package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

type Config struct {
	Port                      string
	VerifyToken               string
	WhatsAppToken             string
	PhoneNumberID             string
	WhatsAppBusinessAccountID string
	GraphAPIVersion           string

	DBDriver       string
	DBPath         string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBLogLevel     string
	DBMaxIdleConns int
	DBMaxOpenConns int

	Redis RedisConfig

	DispatchInterval time.Duration
	DispatchWorkers  int
	LeaseTTL         time.Duration

	LogLevel  string
	LogFormat string
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	cfg := &Config{
		Port:                      getEnv("PORT", "8080"),
		VerifyToken:               getEnv("VERIFY_TOKEN", ""),
		WhatsAppToken:             getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:             getEnv("PHONE_NUMBER_ID", ""),
		WhatsAppBusinessAccountID: getEnv("WABA_ID", ""),
		GraphAPIVersion:           getEnv("GRAPH_API_VERSION", "v19.0"),

		DBDriver:       strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBPath:         getEnv("DB_PATH", "./whatsapp.db"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "whatsapp_crm"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBLogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 50),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		DispatchInterval: getEnvAsDuration("DISPATCH_INTERVAL", time.Minute),
		DispatchWorkers:  getEnvAsInt("DISPATCH_WORKERS", 8),
		LeaseTTL:         getEnvAsDuration("LEASE_TTL", 2*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.DispatchWorkers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive")
	}
	if c.DispatchInterval <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL must be positive")
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("LEASE_TTL must be positive")
	}
	return nil
}

// PostgresDSN builds the libpq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}
