package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"

	TransportKafka = "kafka"
	TransportRedis = "redis"
	TransportNone  = "none"
)

// Config is read once at startup from the environment
type Config struct {
	StorageBackend string
	DatabaseURL    string

	DynamoEventsTable    string
	DynamoSnapshotsTable string
	DynamoEndpoint       string

	Transport          string
	KafkaBrokers       []string
	KafkaConsumerGroup string
	RedisURL           string
	EventChannel       string
	CommandChannel     string

	SnapshotThreshold  int
	SnapshotRetain     int
	ResetConcurrency   int
	ResetCheckInterval time.Duration
	RebuildOnStart     bool

	MetricsAddr string
	LogLevel    string
}

// Load reads the configuration and validates it
func Load() (*Config, error) {
	cfg := &Config{
		StorageBackend: getEnv("STORAGE_BACKEND", BackendPostgres),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		DynamoEventsTable:    getEnv("DYNAMO_EVENTS_TABLE", "ledger-events"),
		DynamoSnapshotsTable: getEnv("DYNAMO_SNAPSHOTS_TABLE", "ledger-snapshots"),
		DynamoEndpoint:       os.Getenv("DYNAMO_ENDPOINT"),

		Transport:          getEnv("TRANSPORT", TransportKafka),
		KafkaBrokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "ledger-projector"),
		RedisURL:           os.Getenv("REDIS_URL"),
		EventChannel:       getEnv("EVENT_CHANNEL", getEnv("KAFKA_TOPIC", "ledger-events")),
		CommandChannel:     getEnv("COMMAND_CHANNEL", "ledger-commands"),

		MetricsAddr: os.Getenv("METRICS_ADDR"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	var errs []error
	var err error
	if cfg.SnapshotThreshold, err = getEnvInt("SNAPSHOT_THRESHOLD", 100); err != nil {
		errs = append(errs, err)
	}
	if cfg.SnapshotRetain, err = getEnvInt("SNAPSHOT_RETAIN", 2); err != nil {
		errs = append(errs, err)
	}
	if cfg.ResetConcurrency, err = getEnvInt("RESET_CONCURRENCY", 8); err != nil {
		errs = append(errs, err)
	}
	if cfg.ResetCheckInterval, err = getEnvDuration("RESET_CHECK_INTERVAL", time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.RebuildOnStart, err = getEnvBool("REBUILD_ON_START", true); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendDynamoDB:
		if c.DynamoEventsTable == "" || c.DynamoSnapshotsTable == "" {
			errs = append(errs, errors.New("DYNAMO_EVENTS_TABLE and DYNAMO_SNAPSHOTS_TABLE are required for the dynamodb backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}

	switch c.Transport {
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka transport"))
		}
	case TransportRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis transport"))
		}
	case TransportNone:
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT %q", c.Transport))
	}

	if c.SnapshotThreshold < 1 {
		errs = append(errs, errors.New("SNAPSHOT_THRESHOLD must be positive"))
	}
	if c.SnapshotRetain < 1 {
		errs = append(errs, errors.New("SNAPSHOT_RETAIN must be positive"))
	}
	if c.ResetConcurrency < 1 {
		errs = append(errs, errors.New("RESET_CONCURRENCY must be positive"))
	}
	if c.ResetCheckInterval < 0 {
		errs = append(errs, errors.New("RESET_CHECK_INTERVAL must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
