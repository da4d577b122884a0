// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, etc.).
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
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of search requests each client may make per
	// RateWindow; 0 disables limiting.
	RateLimit  int           `yaml:"rateLimit"`
	RateWindow time.Duration `yaml:"rateWindow"`
	// AdminKey, when set, must be presented as X-Admin-Key on reload,
	// rebuild and cache invalidation requests.
	AdminKey string `yaml:"adminKey"`
}

// PostgresConfig holds PostgreSQL connection parameters. Postgres is only
// used when the indexer's artifact store is set to "postgres".
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

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables rebuild notifications.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexBuilt string `yaml:"indexBuilt"`
	// QueryLog receives one event per answered search; empty disables it.
	QueryLog string `yaml:"queryLog"`
}

// RedisConfig holds Redis connection and caching parameters. An empty Addr
// keeps the query cache in-process only.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls where the corpus is read from, how it is split into
// documents, which embedder is used, and where artifacts are persisted.
type IndexerConfig struct {
	CorpusDir     string        `yaml:"corpusDir"`
	SourceFormat  string        `yaml:"sourceFormat"`
	ChunkSize     int           `yaml:"chunkSize"`
	ArtifactDir   string        `yaml:"artifactDir"`
	ArtifactStore string        `yaml:"artifactStore"`
	Embedding     string        `yaml:"embedding"`
	EmbeddingDim  int           `yaml:"embeddingDim"`
	Tokenizer     string        `yaml:"tokenizer"`
	ReadWorkers   int           `yaml:"readWorkers"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watchDebounce"`
	RandomSeed    int64         `yaml:"randomSeed"`
}

// SearchConfig controls query defaults and result caching.
type SearchConfig struct {
	DefaultStrategy string `yaml:"defaultStrategy"`
	DefaultLimit    int    `yaml:"defaultLimit"`
	MaxResults      int    `yaml:"maxResults"`
	CosineMatch     string `yaml:"cosineMatch"`
	CacheSize       int    `yaml:"cacheSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
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
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	return defaultConfig()
}

// Validate rejects enumerated settings the indexer and engine do not know.
func (c *Config) Validate() error {
	if err := oneOf("indexer.sourceFormat", c.Indexer.SourceFormat, "plain", "transcript"); err != nil {
		return err
	}
	if err := oneOf("indexer.artifactStore", c.Indexer.ArtifactStore, "file", "postgres"); err != nil {
		return err
	}
	if err := oneOf("indexer.embedding", c.Indexer.Embedding, "random", "hashed"); err != nil {
		return err
	}
	if err := oneOf("indexer.tokenizer", c.Indexer.Tokenizer, "legacy", "canonical"); err != nil {
		return err
	}
	if err := oneOf("search.defaultStrategy", c.Search.DefaultStrategy, "boolean", "tfidf", "cosine"); err != nil {
		return err
	}
	if err := oneOf("search.cosineMatch", c.Search.CosineMatch, "substring", "token"); err != nil {
		return err
	}
	if c.Indexer.ChunkSize <= 0 {
		return fmt.Errorf("indexer.chunkSize must be positive, got %d", c.Indexer.ChunkSize)
	}
	if c.Indexer.Embedding == "hashed" && c.Indexer.EmbeddingDim <= 0 {
		return fmt.Errorf("indexer.embeddingDim must be positive for hashed embeddings, got %d", c.Indexer.EmbeddingDim)
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %s", field, value, strings.Join(allowed, ", "))
}

// defaultConfig returns a Config with defaults suited to local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateWindow:      time.Minute,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "retrieval",
			User:            "retrieval",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "retrieval-searcher",
			Topics: KafkaTopics{
				IndexBuilt: "index.built",
				QueryLog:   "search.queries",
			},
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			CorpusDir:     "raw_data",
			SourceFormat:  "plain",
			ChunkSize:     3,
			ArtifactDir:   "public/data",
			ArtifactStore: "file",
			Embedding:     "random",
			EmbeddingDim:  256,
			Tokenizer:     "legacy",
			ReadWorkers:   4,
			WatchDebounce: 500 * time.Millisecond,
		},
		Search: SearchConfig{
			DefaultStrategy: "boolean",
			DefaultLimit:    0,
			MaxResults:      100,
			CosineMatch:     "substring",
			CacheSize:       1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads RS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RS_ADMIN_KEY"); v != "" {
		cfg.Server.AdminKey = v
	}
	if v := os.Getenv("RS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RS_CORPUS_DIR"); v != "" {
		cfg.Indexer.CorpusDir = v
	}
	if v := os.Getenv("RS_ARTIFACT_DIR"); v != "" {
		cfg.Indexer.ArtifactDir = v
	}
	if v := os.Getenv("RS_ARTIFACT_STORE"); v != "" {
		cfg.Indexer.ArtifactStore = v
	}
	if v := os.Getenv("RS_EMBEDDING"); v != "" {
		cfg.Indexer.Embedding = v
	}
	if v := os.Getenv("RS_TOKENIZER"); v != "" {
		cfg.Indexer.Tokenizer = v
	}
	if v := os.Getenv("RS_SEARCH_STRATEGY"); v != "" {
		cfg.Search.DefaultStrategy = v
	}
	if v := os.Getenv("RS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
