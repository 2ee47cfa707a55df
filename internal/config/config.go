package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"lexio"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"lexio"`

	MongoURI      string `envconfig:"MONGO_URI" default:"mongodb://mongo:27017"`
	MongoDatabase string `envconfig:"MONGO_DB" default:"lexio"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	S3Bucket     string `envconfig:"S3_BUCKET" default:"lexio-documents"`
	S3Region     string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint   string `envconfig:"S3_ENDPOINT"` // set for MinIO-compatible endpoints
	AWSAccessKey string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	EmbedModel   string `envconfig:"EMBED_MODEL" default:"gemini-embedding-001"`

	// Embedding pipeline policy. Defaults match production behavior; every
	// value is overridable because they are tuning knobs, not invariants.
	EmbedDimension       int `envconfig:"EMBED_DIMENSION" default:"3072"`
	EmbedWindowSize      int `envconfig:"EMBED_WINDOW_SIZE" default:"5"`
	VectorFlushSize      int `envconfig:"VECTOR_FLUSH_SIZE" default:"100"`
	MinEmbedChars        int `envconfig:"MIN_EMBED_CHARS" default:"50"`
	PageWordWindow       int `envconfig:"PAGE_WORD_WINDOW" default:"500"`
	IngestTimeoutSeconds int `envconfig:"INGEST_TIMEOUT_SECONDS" default:"300"`

	EnableAPI            bool   `envconfig:"ENABLE_API" default:"true"`
	EnableReingestWorker bool   `envconfig:"ENABLE_REINGEST_WORKER" default:"true"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort         int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath       string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB    int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	MaxUploadsPerOwner int    `envconfig:"MAX_UPLOADS_PER_OWNER" default:"1000"` // 0 disables the quota

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("%w: S3_BUCKET", ErrMissingRequired)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("EMBED_DIMENSION must be positive, got %d", c.EmbedDimension)
	}
	if c.EmbedWindowSize <= 0 {
		return fmt.Errorf("EMBED_WINDOW_SIZE must be positive, got %d", c.EmbedWindowSize)
	}
	if c.VectorFlushSize <= 0 {
		return fmt.Errorf("VECTOR_FLUSH_SIZE must be positive, got %d", c.VectorFlushSize)
	}
	return nil
}

func (c *Config) IngestTimeout() time.Duration {
	return time.Duration(c.IngestTimeoutSeconds) * time.Second
}
