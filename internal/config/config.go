package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage drivers for the durable consent store.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env            string `env:"APP_ENV" envDefault:"development"`
	DebugOverride  bool   `env:"ANALYTICS_DEBUG" envDefault:"false"`
	RequireConsent bool   `env:"ANALYTICS_REQUIRE_CONSENT" envDefault:"true"`
	ConsentKey     string `env:"ANALYTICS_CONSENT_KEY" envDefault:"analytics-consent"`
	SessionKey     string `env:"ANALYTICS_SESSION_KEY" envDefault:"analytics-session-id"`
	QueueMaxSize   int    `env:"ANALYTICS_QUEUE_MAX_SIZE" envDefault:"1000"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON        bool   `env:"LOG_JSON" envDefault:"true"`
	OTelEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Storage   StorageConfig   `envPrefix:"STORAGE_"`
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	GA4       GA4Config       `envPrefix:"GA4_"`
	Plausible PlausibleConfig `envPrefix:"PLAUSIBLE_"`
	Warehouse WarehouseConfig `envPrefix:"WAREHOUSE_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
}

type StorageConfig struct {
	Driver      string `env:"DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"analytics.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`
}

type HTTPConfig struct {
	Port                   string        `env:"PORT" envDefault:"8080"`
	MaxBodyBytes           int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	RateLimitMetricsPerMin int           `env:"RATE_LIMIT_METRICS_PER_MIN" envDefault:"20"`
	APIKeys                []string      `env:"API_KEYS" envSeparator:","`
	ShutdownTimeout        time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type GA4Config struct {
	Enabled       bool          `env:"ENABLED" envDefault:"false"`
	MeasurementID string        `env:"MEASUREMENT_ID"`
	APISecret     string        `env:"API_SECRET"`
	Endpoint      string        `env:"ENDPOINT"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

type PlausibleConfig struct {
	Enabled  bool          `env:"ENABLED" envDefault:"false"`
	Domain   string        `env:"DOMAIN"`
	Endpoint string        `env:"ENDPOINT"`
	SiteURL  string        `env:"SITE_URL"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

type WarehouseConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"false"`
	PostgresDSN  string        `env:"POSTGRES_DSN"`
	QueueMaxSize int           `env:"QUEUE_MAX_SIZE" envDefault:"10000"`
	BatchMaxSize int           `env:"BATCH_MAX_SIZE" envDefault:"500"`
	BatchMaxWait time.Duration `env:"BATCH_MAX_WAIT" envDefault:"50ms"`
}

type KafkaConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Brokers string `env:"BROKERS"`
	Topic   string `env:"TOPIC" envDefault:"analytics-events"`
}

// Production reports whether the process runs in the production context.
func (c Config) Production() bool { return strings.EqualFold(c.Env, "production") }

// WarehouseDSN falls back to the storage DSN when the warehouse has none.
func (c Config) WarehouseDSN() string {
	if c.Warehouse.PostgresDSN != "" {
		return c.Warehouse.PostgresDSN
	}
	return c.Storage.PostgresDSN
}

// Load reads envFile (when it exists) into the environment and parses
// the configuration from it. Variables already set in the environment win
// over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late. Missing
// provider credentials are not checked here; they disable the provider at
// initialization instead.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			errs = append(errs, errors.New("STORAGE_SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("STORAGE_POSTGRES_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	if c.Warehouse.Enabled && c.WarehouseDSN() == "" {
		errs = append(errs, errors.New("WAREHOUSE_POSTGRES_DSN or STORAGE_POSTGRES_DSN is required when the warehouse is enabled"))
	}
	if c.ConsentKey == "" || c.SessionKey == "" {
		errs = append(errs, errors.New("storage keys must not be empty"))
	}
	if c.QueueMaxSize <= 0 {
		errs = append(errs, errors.New("ANALYTICS_QUEUE_MAX_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
