package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers understood by STORAGE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	AppEnv   string
	LogLevel string

	HTTPPort           string
	GRPCPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	// Remote checkout API
	CheckoutAPIURL   string
	APITimeout       time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	// Flow behaviour
	PersistDebounce      time.Duration
	CompletionDelay      time.Duration
	SubmissionStaleAfter time.Duration
	FlowIdleTimeout      time.Duration
	FlowSweepInterval    time.Duration

	// Storage
	StorageDriver string
	FileDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	SQLitePath    string
	DBHost        string
	DBPort        int
	DBUser        string
	DBPassword    string
	DBName        string
	MongoURI      string
	MongoDatabase string

	// Events
	KafkaBrokers []string
	KafkaTopic   string
}

func Load() *Config {
	return &Config{
		AppEnv:   getEnv("APP_ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		GRPCPort:           getEnv("GRPC_PORT", "50060"),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: 1 << 20, // 1MB

		CheckoutAPIURL:   getEnv("CHECKOUT_API_URL", "http://localhost:3000/api/checkout"),
		APITimeout:       getEnvDuration("CHECKOUT_API_TIMEOUT", 10*time.Second),
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Second),
		BreakerThreshold: uint32(getEnvInt("BREAKER_FAILURE_THRESHOLD", 5)),
		BreakerTimeout:   getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		PersistDebounce:      getEnvDuration("PERSIST_DEBOUNCE", 300*time.Millisecond),
		CompletionDelay:      getEnvDuration("COMPLETION_DELAY", 1500*time.Millisecond),
		SubmissionStaleAfter: getEnvDuration("SUBMISSION_STALE_AFTER", 2*time.Minute),
		FlowIdleTimeout:      getEnvDuration("FLOW_IDLE_TIMEOUT", 30*time.Minute),
		FlowSweepInterval:    getEnvDuration("FLOW_SWEEP_INTERVAL", time.Minute),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", DriverMemory)),
		FileDir:       getEnv("STORAGE_FILE_DIR", "./data/checkout"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisTTL:      getEnvDuration("REDIS_TTL", 24*time.Hour),
		SQLitePath:    getEnv("SQLITE_PATH", "./data/checkout.db"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnvInt("DB_PORT", 5432),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "checkout_flow"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "checkout_flow"),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "checkout-outbox"),
	}
}

const maxRetryAttempts = 10

// Validate checks the values Load could not default sensibly.
func (c *Config) Validate() error {
	var errs []error

	if c.CheckoutAPIURL == "" {
		errs = append(errs, errors.New("CHECKOUT_API_URL is required"))
	}
	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > maxRetryAttempts {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be between 1 and %d, got %d", maxRetryAttempts, c.RetryMaxAttempts))
	}
	if c.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("RETRY_BASE_DELAY must be positive"))
	}
	if c.PersistDebounce < 0 {
		errs = append(errs, errors.New("PERSIST_DEBOUNCE must not be negative"))
	}

	switch c.StorageDriver {
	case DriverMemory:
	case DriverFile:
		if c.FileDir == "" {
			errs = append(errs, errors.New("STORAGE_FILE_DIR is required for the file driver"))
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis driver"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DBHost == "" || c.DBName == "" {
			errs = append(errs, errors.New("DB_HOST and DB_NAME are required for the postgres driver"))
		}
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
