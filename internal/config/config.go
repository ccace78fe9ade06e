package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	// Optional: enables the sync run log and the pgvector backend
	DatabaseURL string `envconfig:"DATABASE_URL"`
	// Defaults to a size derived from WorkerConcurrency
	DatabaseMaxConns        int32         `envconfig:"DATABASE_MAX_CONNS"`
	DatabaseMaxConnLifetime time.Duration `envconfig:"DATABASE_MAX_CONN_LIFETIME" default:"30m"`

	VectorBackend    string `envconfig:"VECTOR_BACKEND" default:"qdrant"`
	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey     string `envconfig:"QDRANT_API_KEY"`
	QdrantUseTLS     bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"chimera_docs"`
	VectorDimensions int    `envconfig:"VECTOR_DIMENSIONS" default:"384"`

	Neo4jURI      string `envconfig:"NEO4J_URI"`
	Neo4jUser     string `envconfig:"NEO4J_USER" default:"neo4j"`
	Neo4jPassword string `envconfig:"NEO4J_PASSWORD"`
	Neo4jDatabase string `envconfig:"NEO4J_DATABASE" default:"neo4j"`

	RedisAddr         string `envconfig:"REDIS_ADDR"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
	RedisDB           int    `envconfig:"REDIS_DB" default:"0"`
	QueueName         string `envconfig:"QUEUE_NAME" default:"chimera_etl_tasks"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"2"`

	OpenAIAPIKey   string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string  `envconfig:"OPENAI_BASE_URL"`
	ChatModel      string  `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	ExtractionRPS  float64 `envconfig:"EXTRACTION_RPS" default:"2"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"chimera-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	PromptsPath string `envconfig:"PROMPTS_PATH"`

	// Comma separated static keys; auth is disabled when empty
	APIKeys     string `envconfig:"API_KEYS"`
	CORSOrigins string `envconfig:"CORS_ORIGINS" default:"*"`

	VectorBatchSize    int `envconfig:"VECTOR_BATCH_SIZE" default:"10"`
	KnowledgeBatchSize int `envconfig:"KNOWLEDGE_BATCH_SIZE" default:"1"`

	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
	IndexTimeout      time.Duration `envconfig:"INDEX_TIMEOUT" default:"10s"`
	GraphTimeout      time.Duration `envconfig:"GRAPH_TIMEOUT" default:"5s"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CHIMERA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.VectorBackend {
	case "qdrant", "memory":
	case "pgvector":
		if c.DatabaseURL == "" {
			return fmt.Errorf("vector backend pgvector requires CHIMERA_DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown vector backend %q", c.VectorBackend)
	}
	if c.VectorBatchSize <= 0 || c.KnowledgeBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasGraph() bool {
	return c.Neo4jURI != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// StaticAPIKeys returns the configured API keys with blanks removed.
func (c *Config) StaticAPIKeys() []string {
	return splitList(c.APIKeys)
}

// AllowedOrigins returns the CORS origins with blanks removed.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
