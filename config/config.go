package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/protocol"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/selection"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"clover-api" yaml:"app_name"`
	Port                          int    `env:"PORT" env-default:"3010" yaml:"port"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info" yaml:"log_level"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false" yaml:"pretty_logs"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"60" yaml:"http_server_write_timeout_seconds"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"30" yaml:"http_server_read_timeout_seconds"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"30" yaml:"http_server_idle_timeout_seconds"`
	ReadHeaderTimeoutSeconds      int    `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10" yaml:"http_server_read_header_timeout_seconds"`
	MaxHeaderBytes                int    `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000" yaml:"http_server_max_header_bytes"` // 64KB
	StartupMaxAttempts            int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5" yaml:"startup_max_attempts"`
	MatcherDefinitionsPath        string `env:"MATCHER_DEFINITIONS_PATH" env-default:"" yaml:"matcher_definitions_path"`

	// Persistence
	StoreDriver                 string        `env:"STORE_DRIVER" env-default:"postgres" yaml:"store_driver"`
	DatabaseHost                string        `env:"DB_HOST" env-default:"localhost" yaml:"db_host"`
	DatabasePort                int           `env:"DB_PORT" env-default:"5432" yaml:"db_port"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:"postgres" yaml:"db_user_name"`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:"" yaml:"db_password"`
	DatabaseName                string        `env:"DB_NAME" env-default:"clover" yaml:"db_name"`
	DatabaseSSLMode             string        `env:"DB_SSL_MODE" env-default:"disable" yaml:"db_ssl_mode"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25" yaml:"db_max_open_conns"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10" yaml:"db_max_idle_conns"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"30m" yaml:"db_conn_max_lifetime"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg" yaml:"db_migration_folder_path"`
	DatabaseMigrationVersion    uint          `env:"DB_MIGRATION_VERSION" env-default:"0" yaml:"db_migration_version"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0" yaml:"db_migration_force"`

	// Kafka producer (project events)
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false" yaml:"kafka_enabled"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092" yaml:"kafka_brokers"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"linkage-events" yaml:"kafka_output_topic"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100" yaml:"kafka_batch_size"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100" yaml:"kafka_batch_timeout_ms"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1" yaml:"kafka_required_acks"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy" yaml:"kafka_compression"`

	// Redis (project locks)
	RedisEnabled  bool          `env:"REDIS_ENABLED" env-default:"false" yaml:"redis_enabled"`
	RedisHost     string        `env:"REDIS_HOST" env-default:"localhost" yaml:"redis_host"`
	RedisPort     int           `env:"REDIS_PORT" env-default:"6379" yaml:"redis_port"`
	RedisPassword string        `env:"REDIS_PASSWORD" env-default:"" yaml:"redis_password"`
	RedisDB       int           `env:"REDIS_DB" env-default:"0" yaml:"redis_db"`
	LockTTL       time.Duration `env:"PROJECT_LOCK_TTL" env-default:"1m" yaml:"project_lock_ttl"`
	LockWait      time.Duration `env:"PROJECT_LOCK_WAIT" env-default:"0s" yaml:"project_lock_wait"`

	// Tracing
	TracingEnabled  bool   `env:"TRACING_ENABLED" env-default:"false" yaml:"tracing_enabled"`
	TracingEndpoint string `env:"TRACING_OTLP_ENDPOINT" env-default:"localhost:4317" yaml:"tracing_otlp_endpoint"`
	TracingProtocol string `env:"TRACING_OTLP_PROTOCOL" env-default:"grpc" yaml:"tracing_otlp_protocol"`
	TracingInsecure bool   `env:"TRACING_OTLP_INSECURE" env-default:"true" yaml:"tracing_otlp_insecure"`

	// Link improvement defaults, overridable per project config
	ParentEndpoint         string  `env:"PARENT_ENDPOINT" env-default:"" yaml:"parent_endpoint"`
	ParentTimeoutSeconds   int     `env:"PARENT_TIMEOUT_SECONDS" env-default:"30" yaml:"parent_timeout_seconds"`
	SelectionStrategy      string  `env:"LINK_SELECTION_STRATEGY" env-default:"BUCKETS" yaml:"link_selection_strategy"`
	BalancedSelectionOnly  bool    `env:"BALANCED_SELECTION_ONLY" env-default:"false" yaml:"balanced_selection_only"`
	MinUncertainty         float64 `env:"MIN_UNCERTAINTY" env-default:"0.2" yaml:"min_uncertainty"`
	ReportOnlyOnce         bool    `env:"REPORT_ONLY_ONCE" env-default:"true" yaml:"report_only_once"`
	WishMethod             string  `env:"WISH_METHOD" env-default:"DBSLeipzig/DUMMY" yaml:"wish_method"`
	MinAttributeSimilarity float64 `env:"MIN_ATTRIBUTE_SIMILARITY" env-default:"0.4" yaml:"min_attribute_similarity"`
	MergeFanOut            int     `env:"MERGE_FAN_OUT" env-default:"8" yaml:"merge_fan_out"`
}

// Load reads an optional .env file, then the optional YAML file at path,
// then the environment. Environment variables win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if _, err := selection.ParseStrategy(c.SelectionStrategy); err != nil {
		return err
	}
	if c.MinUncertainty < 0 || c.MinUncertainty > 1 {
		return fmt.Errorf("MIN_UNCERTAINTY must be within [0, 1], got %v", c.MinUncertainty)
	}
	return nil
}

func (c *Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migration() database.MigrationConfig {
	return database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             c.DatabaseMigrationVersion,
		Force:               c.DatabaseMigrationForce,
	}
}

func (c *Config) Kafka() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaOutputTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: time.Duration(c.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) ProjectLock() redis.ProjectLockConfig {
	return redis.ProjectLockConfig{
		TTL:  c.LockTTL,
		Wait: c.LockWait,
	}
}

func (c *Config) Tracing() exporters.OTLPConfig {
	otlp := exporters.DefaultOTLPConfig()
	otlp.Endpoint = c.TracingEndpoint
	otlp.Protocol = c.TracingProtocol
	otlp.Insecure = c.TracingInsecure
	return otlp
}

func (c *Config) ParentClient() httpclient.Config {
	client := httpclient.DefaultConfig()
	client.Timeout = time.Duration(c.ParentTimeoutSeconds) * time.Second
	return client
}

func (c *Config) Selection() selection.Config {
	sel := selection.DefaultConfig()
	if strategy, err := selection.ParseStrategy(c.SelectionStrategy); err == nil {
		sel.Strategy = strategy
	}
	sel.MinUncertainty = c.MinUncertainty
	sel.BalancedSelectionOnly = c.BalancedSelectionOnly
	return sel
}

func (c *Config) Protocol() protocol.Config {
	return protocol.Config{
		WishMethod:             c.WishMethod,
		MinAttributeSimilarity: c.MinAttributeSimilarity,
		ReportOnlyOnce:         c.ReportOnlyOnce,
		ParentEndpoint:         c.ParentEndpoint,
	}
}

func (c *Config) Lifecycle() lifecycle.Config {
	return lifecycle.Config{FanOut: c.MergeFanOut}
}
