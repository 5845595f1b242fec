package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	GRPC      GRPCConfig      `envPrefix:"GRPC_"`
	Mongo     MongoConfig     `envPrefix:"MONGO_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	DB        DBConfig        `envPrefix:"DB_"`
	Catalog   CatalogConfig   `envPrefix:"CATALOG_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
	Payment   PaymentConfig   `envPrefix:"PAYMENT_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Checkout  CheckoutConfig  `envPrefix:"CHECKOUT_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
	LogLevel  string          `env:"LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Port               string        `env:"PORT" envDefault:"8080"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxRequestBodySize int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

type GRPCConfig struct {
	Port string `env:"PORT" envDefault:"50060"`
}

type MongoConfig struct {
	URI      string `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"DATABASE" envDefault:"marketplace"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type DBConfig struct {
	Host           string `env:"HOST" envDefault:"localhost"`
	Port           int    `env:"PORT" envDefault:"5432"`
	User           string `env:"USER" envDefault:"postgres"`
	Password       string `env:"PASSWORD" envDefault:"postgres"`
	Name           string `env:"NAME" envDefault:"marketplace"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"./internal/repository/migrations"`
}

type CatalogConfig struct {
	DSN            string        `env:"DSN" envDefault:"file:catalog.db?_pragma=foreign_keys(1)"`
	MigrationsPath string        `env:"MIGRATIONS_PATH" envDefault:"./internal/catalog/migrations"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"2s"`
	CacheTTL       time.Duration `env:"CACHE_TTL" envDefault:"5m"`
}

type KafkaConfig struct {
	Brokers []string      `env:"BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Topic   string        `env:"ORDERS_TOPIC" envDefault:"orders.confirmed"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
	Enabled bool          `env:"ENABLED" envDefault:"true"`
}

type PaymentConfig struct {
	BaseURL   string        `env:"BASE_URL" envDefault:"https://api.razorpay.com/v1"`
	KeyID     string        `env:"KEY_ID"`
	KeySecret string        `env:"KEY_SECRET"`
	Currency  string        `env:"CURRENCY" envDefault:"INR"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"10s"`
	IntentTTL time.Duration `env:"INTENT_TTL" envDefault:"30m"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type CheckoutConfig struct {
	LockTTL time.Duration `env:"LOCK_TTL" envDefault:"15s"`
}

type TelemetryConfig struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"marketplace"`
	Endpoint    string `env:"EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// a missing .env is normal outside local development
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.Payment.KeySecret == "" {
		errs = append(errs, errors.New("PAYMENT_KEY_SECRET is required"))
	}
	return errors.Join(errs...)
}
