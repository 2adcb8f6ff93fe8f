package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	StoreDriver string
	DB          DBConfig
	Mongo       MongoConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	Auth        AuthConfig
	Assets      AssetConfig
	Sweep       SweepConfig

	StrictStatusTransitions bool
	EnforceCatalog          bool
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// MongoConfig holds the document store configuration
type MongoConfig struct {
	URI      string
	Database string
}

// KafkaConfig holds the broker configuration. An empty broker list disables Kafka.
type KafkaConfig struct {
	Brokers       []string
	OrdersTopic   string
	ConsumerGroup string
}

// OutboxConfig tunes the outbox processor
type OutboxConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
}

// AuthConfig holds the bearer token settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// AssetConfig configures the image store. An empty bucket disables uploads.
type AssetConfig struct {
	Bucket          string
	BaseURL         string
	Folder          string
	CredentialsFile string
	MaxUploadBytes  int64
	MaxDimension    uint
}

// SweepConfig configures the daily overdue sweep
type SweepConfig struct {
	Enabled  bool
	Hour     int
	Minute   int
	Location *time.Location
	OnStart  bool
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")

	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)

	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := getEnv(key, "")

	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(raw)

	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")

	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)

	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string

	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseClock parses an HH:MM wall-clock time
func ParseClock(raw string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))

	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", raw)
	}
	return t.Hour(), t.Minute(), nil
}

// Load reads the configuration from environment variables and returns a Config struct.
// A .env file in the working directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Env:         getEnv("APP_ENV", "development"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "orders"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DATABASE", "orders"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			OrdersTopic:   getEnv("KAFKA_ORDERS_TOPIC", "orders"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_ISSUER", ""),
		},
		Assets: AssetConfig{
			Bucket:          getEnv("ASSET_BUCKET", ""),
			BaseURL:         getEnv("ASSET_BASE_URL", "https://storage.googleapis.com"),
			Folder:          getEnv("ASSET_FOLDER", "orders"),
			CredentialsFile: getEnv("ASSET_CREDENTIALS_FILE", ""),
		},
	}

	var err error

	if cfg.Port, err = getEnvInt("PORT", 8080); err != nil {
		return nil, err
	}

	if cfg.DB.Port, err = getEnvInt("DB_PORT", 5432); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case DriverPostgres, DriverMongo, DriverMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.Outbox.PollingInterval, err = getEnvDuration("OUTBOX_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}

	if cfg.Outbox.BatchSize, err = getEnvInt("OUTBOX_BATCH_SIZE", 10); err != nil {
		return nil, err
	}

	if cfg.Outbox.MaxRetries, err = getEnvInt("OUTBOX_MAX_RETRIES", 3); err != nil {
		return nil, err
	}

	maxUpload, err := getEnvInt("UPLOAD_MAX_BYTES", 5<<20)

	if err != nil {
		return nil, err
	}
	cfg.Assets.MaxUploadBytes = int64(maxUpload)

	maxDimension, err := getEnvInt("ASSET_MAX_DIMENSION", 1200)

	if err != nil {
		return nil, err
	}

	if maxDimension <= 0 {
		return nil, fmt.Errorf("invalid ASSET_MAX_DIMENSION: must be positive")
	}
	cfg.Assets.MaxDimension = uint(maxDimension)

	if cfg.Sweep.Enabled, err = getEnvBool("SWEEP_ENABLED", true); err != nil {
		return nil, err
	}

	if cfg.Sweep.OnStart, err = getEnvBool("SWEEP_ON_START", false); err != nil {
		return nil, err
	}

	if cfg.Sweep.Hour, cfg.Sweep.Minute, err = ParseClock(getEnv("SWEEP_AT", "00:00")); err != nil {
		return nil, fmt.Errorf("invalid SWEEP_AT: %w", err)
	}

	if cfg.Sweep.Location, err = time.LoadLocation(getEnv("SWEEP_TIMEZONE", "Local")); err != nil {
		return nil, fmt.Errorf("invalid SWEEP_TIMEZONE: %w", err)
	}

	if cfg.StrictStatusTransitions, err = getEnvBool("STRICT_STATUS_TRANSITIONS", false); err != nil {
		return nil, err
	}

	if cfg.EnforceCatalog, err = getEnvBool("ENFORCE_CATALOG", false); err != nil {
		return nil, err
	}

	if cfg.Auth.JWTSecret == "" && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required when APP_ENV=%s", cfg.Env)
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in a development environment
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "test"
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
