// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Shard, Gateway, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Shard    ShardConfig    `yaml:"shard"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest  string `yaml:"documentIngest"`
	IndexComplete   string `yaml:"indexComplete"`
	CacheInvalidate string `yaml:"cacheInvalidate"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// RuntimeConfig controls how a single shard process is deployed: where its
// data lives, what it is addressed as, and who its peers are. It is not part
// of the persisted ShardConfig — it is supplied at process start and never
// changes for the lifetime of the process.
type RuntimeConfig struct {
	Name         string            `yaml:"name"`
	ListenAddr   string            `yaml:"listenAddr"`
	DataDir      string            `yaml:"dataDir"`
	PeerAddrs    map[string]string `yaml:"peerAddrs"`
	TickInterval time.Duration     `yaml:"tickInterval"`
}

// IDType is the immutable document identifier discipline a shard is
// configured with at creation.
type IDType string

const (
	IDTypeString  IDType = "string"
	IDTypeInteger IDType = "integer"
)

// ReplicaKind discriminates the two ReplicaDescriptor shapes.
type ReplicaKind string

const (
	ReplicaKindRegion ReplicaKind = "region"
	ReplicaKindLocal  ReplicaKind = "local"
)

// ReplicaDescriptor is a tagged union addressing a replica either by region
// name (with a "prefer this region" hint) or by a stable local identifier.
type ReplicaDescriptor struct {
	Kind ReplicaKind `yaml:"kind" json:"kind"`
	Name string      `yaml:"name,omitempty" json:"name,omitempty"`
	ID   string      `yaml:"id,omitempty" json:"id,omitempty"`
}

// Key returns the descriptor's addressing key regardless of kind.
func (r ReplicaDescriptor) Key() string {
	if r.Kind == ReplicaKindLocal {
		return r.ID
	}
	return r.Name
}

// Validate reports whether the descriptor is well-formed: non-empty key,
// recognised kind.
func (r ReplicaDescriptor) Validate() error {
	switch r.Kind {
	case ReplicaKindRegion:
		if r.Name == "" {
			return fmt.Errorf("region replica descriptor requires a non-empty name")
		}
	case ReplicaKindLocal:
		if r.ID == "" {
			return fmt.Errorf("local replica descriptor requires a non-empty id")
		}
	default:
		return fmt.Errorf("unknown replica descriptor kind %q", r.Kind)
	}
	return nil
}

// ShardConfig is the persistent configuration of a single index shard, as
// specified in spec.md section 3. It is stored via pkg/kv and merged into on
// every Configure call.
type ShardConfig struct {
	IDType              IDType              `yaml:"idType" json:"idType"`
	TickIntervalMs      int64               `yaml:"tickIntervalMs" json:"tickIntervalMs"`
	PurgeCountThreshold int64               `yaml:"purgeCountThreshold" json:"purgeCountThreshold"`
	PurgeTargetCount    int64               `yaml:"purgeTargetCount" json:"purgeTargetCount"`
	SizeThresholdBytes  int64               `yaml:"sizeThresholdBytes" json:"sizeThresholdBytes"`
	ColdShardPrefix     string              `yaml:"coldShardPrefix" json:"coldShardPrefix"`
	ColdShardCapacity   int64               `yaml:"coldShardCapacity" json:"coldShardCapacity"`
	CurrentColdIndex    int                 `yaml:"currentColdIndex" json:"currentColdIndex"`
	Replicas            []ReplicaDescriptor `yaml:"replicas" json:"replicas"`
	ReadOnly            bool                `yaml:"readOnly" json:"readOnly"`
}

// DefaultSizeThresholdBytes is the hard-coded 10 GB-class ceiling from
// spec.md section 3.
const DefaultSizeThresholdBytes int64 = 9_000_000_000

// MinTickIntervalMs is the minimum permitted scheduler tick, per spec.md.
const MinTickIntervalMs int64 = 1_000

// DefaultTickIntervalMs is applied when a ShardConfig omits TickIntervalMs.
const DefaultTickIntervalMs int64 = 60_000

// Normalize fills in defaults and clamps out-of-range values, mirroring
// spec.md's defaulting rules for ShardConfig.
func (c *ShardConfig) Normalize() {
	if c.TickIntervalMs == 0 {
		c.TickIntervalMs = DefaultTickIntervalMs
	}
	if c.TickIntervalMs < MinTickIntervalMs {
		c.TickIntervalMs = MinTickIntervalMs
	}
	if c.SizeThresholdBytes == 0 {
		c.SizeThresholdBytes = DefaultSizeThresholdBytes
	}
}

// Merge applies non-zero fields of patch onto c, following the "merge into
// persistent config" semantics of Shard.Configure (spec.md section 4.4).
// IDType is immutable once it has been set; callers enforce that separately.
func (c *ShardConfig) Merge(patch ShardConfig) {
	if patch.IDType != "" {
		c.IDType = patch.IDType
	}
	if patch.TickIntervalMs != 0 {
		c.TickIntervalMs = patch.TickIntervalMs
	}
	if patch.PurgeCountThreshold != 0 {
		c.PurgeCountThreshold = patch.PurgeCountThreshold
	}
	if patch.PurgeTargetCount != 0 {
		c.PurgeTargetCount = patch.PurgeTargetCount
	}
	if patch.SizeThresholdBytes != 0 {
		c.SizeThresholdBytes = patch.SizeThresholdBytes
	}
	if patch.ColdShardPrefix != "" {
		c.ColdShardPrefix = patch.ColdShardPrefix
	}
	if patch.ColdShardCapacity != 0 {
		c.ColdShardCapacity = patch.ColdShardCapacity
	}
	if patch.Replicas != nil {
		c.Replicas = patch.Replicas
	}
	if patch.ReadOnly {
		c.ReadOnly = true
	}
	c.Normalize()
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls distributed tracing (sample rate, endpoint).
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// GatewayConfig holds the API gateway port and upstream service addresses.
type GatewayConfig struct {
	Port         int    `yaml:"port"`
	PrimaryAddr  string `yaml:"primaryAddr"`
	ReplicaAddr  string `yaml:"replicaAddr"`
	IngestionURL string `yaml:"ingestionUrl"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	cfg.Shard.Normalize()
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "shardcore",
			User:            "shardcore",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "shardcore-group",
			Topics: KafkaTopics{
				DocumentIngest:  "document-ingest",
				IndexComplete:   "index.complete",
				CacheInvalidate: "cache-invalidate",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Runtime: RuntimeConfig{
			Name:         "primary",
			ListenAddr:   ":9300",
			DataDir:      "./data/primary",
			PeerAddrs:    map[string]string{},
			TickInterval: 60 * time.Second,
		},
		Shard: ShardConfig{
			IDType:              IDTypeString,
			TickIntervalMs:      DefaultTickIntervalMs,
			PurgeCountThreshold: 1_000_000,
			PurgeTargetCount:    800_000,
			SizeThresholdBytes:  DefaultSizeThresholdBytes,
			ColdShardPrefix:     "cold",
			ColdShardCapacity:   250_000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Gateway: GatewayConfig{
			Port:         8082,
			PrimaryAddr:  "localhost:9300",
			ReplicaAddr:  "localhost:9300",
			IngestionURL: "http://localhost:8081",
		},
	}
}

// applyEnvOverrides reads SC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SC_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SC_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SC_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SC_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SC_RUNTIME_NAME"); v != "" {
		cfg.Runtime.Name = v
	}
	if v := os.Getenv("SC_RUNTIME_LISTEN_ADDR"); v != "" {
		cfg.Runtime.ListenAddr = v
	}
	if v := os.Getenv("SC_RUNTIME_DATA_DIR"); v != "" {
		cfg.Runtime.DataDir = v
	}
	if v := os.Getenv("SC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SC_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("SC_GATEWAY_PRIMARY_ADDR"); v != "" {
		cfg.Gateway.PrimaryAddr = v
	}
	if v := os.Getenv("SC_GATEWAY_REPLICA_ADDR"); v != "" {
		cfg.Gateway.ReplicaAddr = v
	}
	if v := os.Getenv("SC_GATEWAY_INGESTION_URL"); v != "" {
		cfg.Gateway.IngestionURL = v
	}
}
