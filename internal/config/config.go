package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	NodeID      int64

	HTTPAddr     string
	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	MigrateOnStart    bool

	Store StoreConfig

	DefaultTenantID int64
	InventoryRoot   string

	WorkerConcurrency int
	WorkerQueueSize   int
	WorkerInterval    time.Duration
	WorkerPeriodic    bool

	// TrackRate is the per-tenant sustained rate of /v1/track calls per
	// second; zero disables limiting.
	TrackRate  float64
	TrackBurst int
}

// StoreConfig selects the shared ephemeral store used by the accumulator,
// debounce flags and the cluster lock.
type StoreConfig struct {
	Backend   string
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Shards    int
}

const (
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "lantern"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		NodeID:       getenvInt64("NODE_ID", 1),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:       getenv("DATABASE_TYPE", "postgres"),
		DBHost:       getenv("DATABASE_HOST", "localhost"),
		DBPort:       getenv("DATABASE_PORT", "5432"),
		DBName:       getenv("DATABASE_NAME", "lantern"),
		DBUser:       getenv("DATABASE_USER", "postgres"),
		DBPassword:   getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:    getenv("DATABASE_SSLMODE", "disable"),
		DBPath:       getenv("DATABASE_PATH", "lantern.db"),

		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		MigrateOnStart:    getenvBool("MIGRATE_ON_START", true),

		Store: StoreConfig{
			Backend:   normalizeBackend(getenv("STORE_BACKEND", StoreBackendRedis)),
			Addr:      getenv("REDIS_ADDR", "localhost:6379"),
			Password:  getenv("REDIS_PASSWORD", ""),
			DB:        getenvInt("REDIS_DB", 0),
			KeyPrefix: strings.TrimSpace(getenv("REDIS_KEY_PREFIX", "lantern")),
			Shards:    getenvInt("ACCUMULATOR_SHARDS", 16),
		},

		DefaultTenantID: getenvInt64("DEFAULT_TENANT", 1),
		InventoryRoot:   strings.TrimSpace(getenv("INVENTORY_ROOT", "templates")),

		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 2),
		WorkerQueueSize:   getenvInt("WORKER_QUEUE_SIZE", 64),
		WorkerInterval:    getenvDuration("WORKER_INTERVAL", 5*time.Minute),
		WorkerPeriodic:    getenvBool("WORKER_PERIODIC", false),

		TrackRate:  getenvFloat("TRACK_RATE_LIMIT", 0),
		TrackBurst: getenvInt("TRACK_RATE_BURST", 200),
	}

	return cfg
}

func (c Config) UsesRedis() bool {
	return c.Store.Backend == StoreBackendRedis
}

func normalizeBackend(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case StoreBackendMemory:
		return StoreBackendMemory
	default:
		return StoreBackendRedis
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, value, def)
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, value, def)
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, value, def)
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, value, def)
		return def
	}
	return parsed
}
