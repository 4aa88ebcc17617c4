package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Provisioning backends
const (
	ProvisionerOpenRouter = "openrouter"
	ProvisionerStatic     = "static"
)

// Config holds configuration for the ledger service.
type Config struct {
	HTTPPort        string
	LogLevel        string
	Local           bool
	ShutdownTimeout time.Duration
	StoreBackend    string
	EncryptionKey   string // base64 AES key, required for the postgres store
	Database        DatabaseConfig
	Cache           CacheConfig
	Redis           RedisConfig
	Provisioning    ProvisioningConfig
	Currency        CurrencyConfig
	Ingest          IngestConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds key lookup cache settings
type CacheConfig struct {
	KeyCacheSize int
	KeyCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings.
// An empty Address keeps the usage queue in memory.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProvisioningConfig holds vendor key provisioning settings
type ProvisioningConfig struct {
	Backend       string
	BaseURL       string
	APIKey        string
	Timeout       time.Duration // per vendor call, enforced by the key service
	MaxRetries    int
	RetryBackoff  time.Duration
	DemoFallback  bool // issue demo credentials when the vendor fails
	KeyNamePrefix string
}

// CurrencyConfig holds conversion settings
type CurrencyConfig struct {
	TablePath        string          // optional YAML table replacing the built-in one
	MarkupPercentage decimal.Decimal // spread added to every exchange rate, in percent
}

// Spread returns the markup as a fraction
func (c CurrencyConfig) Spread() decimal.Decimal {
	return c.MarkupPercentage.Div(decimal.NewFromInt(100))
}

// IngestConfig holds usage queue worker settings
type IngestConfig struct {
	QueueName    string
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue, nil
	}

	d, err := decimal.NewFromString(strings.TrimSpace(val))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Load reads an optional .env file, then configuration from environment
// variables. Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	cfg, err := Parse(envFiles...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads the environment without cross-field validation. Tools that
// only need part of the configuration use it instead of Load.
func Parse(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	markup, err := getEnvDecimal("MARKUP_PERCENTAGE", decimal.NewFromInt(10))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:        getEnvString("HTTP_PORT", "8080"),
		LogLevel:        getEnvString("LOG_LEVEL", "info"),
		Local:           getEnvBool("LOCAL", false),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		StoreBackend:    strings.ToLower(getEnvString("STORE_BACKEND", StoreMemory)),
		EncryptionKey:   getEnvString("ENCRYPTION_KEY", ""),
		Database: DatabaseConfig{
			URL:             getEnvString("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			KeyCacheSize: getEnvInt("CACHE_KEY_SIZE", 1000),
			KeyCacheTTL:  getEnvDuration("CACHE_KEY_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Provisioning: ProvisioningConfig{
			Backend:       strings.ToLower(getEnvString("PROVISIONING_BACKEND", ProvisionerOpenRouter)),
			BaseURL:       getEnvString("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:        getEnvString("OPENROUTER_PROVISIONING_KEY", ""),
			Timeout:       getEnvDuration("PROVISIONING_TIMEOUT", 10*time.Second),
			MaxRetries:    getEnvInt("PROVISIONING_MAX_RETRIES", 1),
			RetryBackoff:  getEnvDuration("PROVISIONING_RETRY_BACKOFF", 500*time.Millisecond),
			DemoFallback:  getEnvBool("PROVISIONING_DEMO_FALLBACK", false),
			KeyNamePrefix: getEnvString("KEY_NAME_PREFIX", "Tuma"),
		},
		Currency: CurrencyConfig{
			TablePath:        getEnvString("CURRENCY_TABLE_PATH", ""),
			MarkupPercentage: markup,
		},
		Ingest: IngestConfig{
			QueueName:    getEnvString("INGEST_QUEUE_NAME", "usage"),
			BatchSize:    getEnvInt("INGEST_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("INGEST_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("INGEST_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("INGEST_RETRY_BACKOFF", 1*time.Second),
		},
	}

	return cfg, nil
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.Provisioning.Backend {
	case ProvisionerStatic:
	case ProvisionerOpenRouter:
		if c.Provisioning.APIKey == "" {
			return fmt.Errorf("OPENROUTER_PROVISIONING_KEY is required for the openrouter provisioner")
		}
	default:
		return fmt.Errorf("unknown PROVISIONING_BACKEND %q", c.Provisioning.Backend)
	}

	if c.Currency.MarkupPercentage.IsNegative() {
		return fmt.Errorf("MARKUP_PERCENTAGE must not be negative")
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive")
	}
	if c.Ingest.MaxRetries < 0 {
		return fmt.Errorf("INGEST_MAX_RETRIES must not be negative")
	}
	return nil
}
