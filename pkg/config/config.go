// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// index, text pipeline, corpus, search API and the optional cache, feed and
// catalogue backends.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Search    SearchConfig    `yaml:"search"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Catalogue CatalogueConfig `yaml:"catalogue"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of requests one client may make per
	// RateWindow; 0 disables limiting.
	RateLimit  int           `yaml:"rateLimit"`
	RateWindow time.Duration `yaml:"rateWindow"`
}

// IndexConfig locates the posting file and vocabulary on disk and tunes the
// batched merge.
type IndexConfig struct {
	DataDir        string `yaml:"dataDir"`
	PostingsFile   string `yaml:"postingsFile"`
	VocabularyFile string `yaml:"vocabularyFile"`
	BatchSize      int    `yaml:"batchSize"`
	FlushThreshold int    `yaml:"flushThreshold"`
	// VectorSeed seeds document index vectors; 0 picks a random seed.
	VectorSeed uint64 `yaml:"vectorSeed"`
}

// PostingsPath returns the live posting-list file path.
func (c IndexConfig) PostingsPath() string {
	return filepath.Join(c.DataDir, c.PostingsFile)
}

// TempPostingsPath returns the path the merge writes to before the rename.
func (c IndexConfig) TempPostingsPath() string {
	return c.PostingsPath() + ".tmp"
}

// VocabularyPath returns the bbolt file holding the persisted vocabulary.
func (c IndexConfig) VocabularyPath() string {
	return filepath.Join(c.DataDir, c.VocabularyFile)
}

// TokenizerConfig selects the line and word filters applied, identically, at
// index and query time.
type TokenizerConfig struct {
	Lowercase        bool `yaml:"lowercase"`
	DeleteCharacters bool `yaml:"deleteCharacters"`
	StopWords        bool `yaml:"stopWords"`
	Stemming         bool `yaml:"stemming"`
	MinLength        int  `yaml:"minLength"`
}

// CorpusConfig describes the folder of collection files to index.
type CorpusConfig struct {
	Folder     string        `yaml:"folder"`
	FilePrefix string        `yaml:"filePrefix"`
	Watch      bool          `yaml:"watch"`
	Debounce   time.Duration `yaml:"debounce"`
}

// SearchConfig controls query result limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxResults   int `yaml:"maxResults"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
	// BatchSize is the number of ingest events merged together.
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
	IndexComplete  string `yaml:"indexComplete"`
}

// CatalogueConfig selects the SQL database that stores document titles.
type CatalogueConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
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

// DSN returns the data source name for the configured driver.
func (c CatalogueConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
		)
	}
	return c.Path
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
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
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

// Default returns a Config suitable for indexing a local corpus folder.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateWindow:      time.Minute,
		},
		Index: IndexConfig{
			DataDir:        "data",
			PostingsFile:   "index.pl",
			VocabularyFile: "index_voc.db",
			BatchSize:      5,
			FlushThreshold: 1000000,
		},
		Tokenizer: TokenizerConfig{
			Lowercase:        true,
			DeleteCharacters: true,
			Stemming:         true,
		},
		Corpus: CorpusConfig{
			FilePrefix: "la",
			Debounce:   400 * time.Millisecond,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxResults:   100,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "text-indexing",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				IndexComplete:  "index-complete",
			},
			BatchSize:    500,
			BatchTimeout: 5 * time.Second,
		},
		Catalogue: CatalogueConfig{
			Driver:          "sqlite",
			Path:            "data/catalogue.db",
			Host:            "localhost",
			Port:            5432,
			Database:        "textindexing",
			User:            "textindexing",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Index.DataDir == "" {
		return fmt.Errorf("index.dataDir must not be empty")
	}
	if c.Index.PostingsFile == "" || c.Index.VocabularyFile == "" {
		return fmt.Errorf("index.postingsFile and index.vocabularyFile must not be empty")
	}
	if c.Index.BatchSize < 1 {
		return fmt.Errorf("index.batchSize must be positive, got %d", c.Index.BatchSize)
	}
	if c.Index.FlushThreshold < 1 {
		return fmt.Errorf("index.flushThreshold must be positive, got %d", c.Index.FlushThreshold)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		return fmt.Errorf("server.rateWindow must be positive when rateLimit is set")
	}
	switch c.Catalogue.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("catalogue.driver must be sqlite or postgres, got %q", c.Catalogue.Driver)
	}
	if c.Search.DefaultLimit < 1 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: defaultLimit=%d maxResults=%d",
			c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// applyEnvOverrides reads TI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TI_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("TI_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("TI_INDEX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.BatchSize = n
		}
	}
	if v := os.Getenv("TI_CORPUS_FOLDER"); v != "" {
		cfg.Corpus.Folder = v
	}
	if v := os.Getenv("TI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("TI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("TI_CATALOGUE_DRIVER"); v != "" {
		cfg.Catalogue.Driver = v
	}
	if v := os.Getenv("TI_CATALOGUE_HOST"); v != "" {
		cfg.Catalogue.Host = v
	}
	if v := os.Getenv("TI_CATALOGUE_PASSWORD"); v != "" {
		cfg.Catalogue.Password = v
	}
	if v := os.Getenv("TI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
