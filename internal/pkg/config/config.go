package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	MaxEventSize         int64         `env:"MAX_EVENT_SIZE_BYTES" envDefault:"1048576"`       // 1MB
	WALDir               string        `env:"WAL_DIR" envDefault:"./wal"`
	WALSegmentSize       int64         `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"104857600"`   // 100MB
	WALMaxDiskSize       int64         `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB
	RedisAddr            string        `env:"REDIS_ADDR,required"`
	RedisHealthInterval  time.Duration `env:"REDIS_HEALTH_INTERVAL" envDefault:"5s"`
	PostgresURL          string        `env:"POSTGRES_URL,required"`
	CollectorKeyCacheTTL time.Duration `env:"COLLECTOR_KEY_CACHE_TTL" envDefault:"5m"`
	PIIRedactionFields   string        `env:"PII_REDACTION_FIELDS" envDefault:"author_handle,author_name,author.handle,author.id,phone,email"`
	IngestServerAddr     string        `env:"INGEST_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr      string        `env:"ADMIN_SERVER_ADDR" envDefault:":8081"`

	CycleInterval time.Duration `env:"CYCLE_INTERVAL" envDefault:"5m"`
	SeenTTL       time.Duration `env:"SEEN_TTL" envDefault:"168h"`
	ZoneLockTTL   time.Duration `env:"ZONE_LOCK_TTL" envDefault:"2m"`
	TuningFile    string        `env:"TUNING_FILE"`

	Stream    StreamConfig    `envPrefix:"STREAM_"`
	Embedding EmbeddingConfig `envPrefix:"EMBEDDING_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
	Tuning    Tuning          `envPrefix:"TUNING_"`
}

// StreamConfig names the Redis keys shared by the ingest server and the engine.
type StreamConfig struct {
	Events     string `env:"EVENTS" envDefault:"argos:events"`
	DLQ        string `env:"DLQ" envDefault:"argos:events:dlq"`
	Group      string `env:"GROUP" envDefault:"argos-engine"`
	Consumer   string `env:"CONSUMER" envDefault:"engine-1"`
	MaxLen     int64  `env:"MAX_LEN" envDefault:"1000000"`
	SeenPrefix string `env:"SEEN_PREFIX" envDefault:"argos:seen:"`
	LockPrefix string `env:"LOCK_PREFIX" envDefault:"argos:zone-lock:"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Endpoint string        `env:"ENDPOINT"`
	Model    string        `env:"MODEL" envDefault:"paraphrase-multilingual-MiniLM-L12-v2"`
	APIKey   string        `env:"API_KEY"`
	Dims     int           `env:"DIMS" envDefault:"768"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"30s"`
	RPS      float64       `env:"RPS" envDefault:"10"`
	Burst    int           `env:"BURST" envDefault:"5"`
}

// KafkaConfig configures output publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string `env:"BROKERS" envSeparator:","`
	ClusterTopic string   `env:"CLUSTER_TOPIC" envDefault:"argos.clusters"`
	ZoneTopic    string   `env:"ZONE_TOPIC" envDefault:"argos.zones"`
}

// Load reads configuration from environment variables, then overlays the
// YAML tuning file if TUNING_FILE is set. Values in the file win.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.TuningFile != "" {
		if err := cfg.Tuning.overlay(cfg.TuningFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Embedding.Dims <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIMS must be positive"))
	}
	if c.CycleInterval <= 0 {
		errs = append(errs, errors.New("CYCLE_INTERVAL must be positive"))
	}
	if err := c.Tuning.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RedactionFields splits PIIRedactionFields.
func (c *Config) RedactionFields() []string {
	var out []string
	for _, f := range strings.Split(c.PIIRedactionFields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (t *Tuning) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return nil
}
