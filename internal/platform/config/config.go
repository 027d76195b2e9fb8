package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all configuration for a service
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Archiver  ArchiverConfig  `mapstructure:"archiver"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Version   string          `mapstructure:"version"`
}

// ServiceConfig holds service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name" envconfig:"SERVICE_NAME"`
	Environment string `mapstructure:"environment" envconfig:"ENVIRONMENT" default:"development"`
}

// HTTPConfig holds HTTP server configuration. A zero rate limit
// disables request throttling.
type HTTPConfig struct {
	Port               int           `mapstructure:"port" envconfig:"HTTP_PORT" default:"9321"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout" envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout" envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" envconfig:"HTTP_RATE_LIMIT_PER_MINUTE" default:"600"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst" envconfig:"HTTP_RATE_LIMIT_BURST" default:"1200"`
}

// MongoConfig holds document store configuration
type MongoConfig struct {
	URI            string        `mapstructure:"uri" envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	Database       string        `mapstructure:"database" envconfig:"MONGO_DATABASE" default:"labtasker"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" envconfig:"MONGO_CONNECT_TIMEOUT" default:"10s"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size" envconfig:"MONGO_MAX_POOL_SIZE" default:"100"`
}

// RedisConfig holds Redis configuration. Redis is optional; when disabled
// the credential cache and sweeper lock degrade to store-only paths.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled" envconfig:"REDIS_ENABLED" default:"false"`
	Host         string        `mapstructure:"host" envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `mapstructure:"port" envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `mapstructure:"password" envconfig:"REDIS_PASSWORD"`
	DB           int           `mapstructure:"db" envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `mapstructure:"pool_size" envconfig:"REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// KafkaConfig holds Kafka configuration for lifecycle events
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `mapstructure:"brokers" envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic   string   `mapstructure:"topic" envconfig:"KAFKA_TOPIC" default:"labtasker.events"`
}

// SweeperConfig holds the timeout sweeper configuration
type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval" envconfig:"SWEEPER_INTERVAL" default:"10s"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" envconfig:"SWEEPER_LOCK_TTL" default:"30s"`
}

// ArchiverConfig holds the S3 archival job configuration. Disabled unless
// a bucket is configured.
type ArchiverConfig struct {
	Enabled         bool          `mapstructure:"enabled" envconfig:"ARCHIVER_ENABLED" default:"false"`
	Bucket          string        `mapstructure:"bucket" envconfig:"ARCHIVER_BUCKET"`
	Region          string        `mapstructure:"region" envconfig:"ARCHIVER_REGION" default:"us-east-1"`
	Endpoint        string        `mapstructure:"endpoint" envconfig:"ARCHIVER_ENDPOINT"`
	AccessKeyID     string        `mapstructure:"access_key_id" envconfig:"ARCHIVER_ACCESS_KEY_ID"`
	SecretAccessKey string        `mapstructure:"secret_access_key" envconfig:"ARCHIVER_SECRET_ACCESS_KEY"`
	Retention       time.Duration `mapstructure:"retention" envconfig:"ARCHIVER_RETENTION" default:"720h"`
	Schedule        time.Duration `mapstructure:"schedule" envconfig:"ARCHIVER_SCHEDULE" default:"24h"`
}

// AuthConfig holds credential verification configuration
type AuthConfig struct {
	BcryptCost    int           `mapstructure:"bcrypt_cost" envconfig:"BCRYPT_COST" default:"0"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl" envconfig:"CREDENTIAL_TTL" default:"5m"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled bool   `mapstructure:"tracing_enabled" envconfig:"TRACING_ENABLED" default:"false"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint" envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
	ServiceName    string `mapstructure:"service_name" envconfig:"TELEMETRY_SERVICE_NAME"`
}

// Load loads configuration from files and environment
func Load(serviceName string) (*Config, error) {
	var cfg Config

	cfg.Service.Name = serviceName
	cfg.Telemetry.ServiceName = serviceName

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("$HOME/.labtasker")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	// LABTASKER_-prefixed variables win over the bare ones
	if err := envconfig.Process("LABTASKER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process service env vars: %w", err)
	}

	if cfg.Archiver.Bucket != "" {
		cfg.Archiver.Enabled = true
	}

	if version := os.Getenv("VERSION"); version != "" {
		cfg.Version = version
	} else if cfg.Version == "" {
		cfg.Version = "dev"
	}

	return &cfg, nil
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
