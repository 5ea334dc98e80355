package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"swoopkb-diagrams"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenRouterAPIKey  string `envconfig:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string `envconfig:"OPENROUTER_BASE_URL"`
	GenerationModel   string `envconfig:"GENERATION_MODEL"`
	QAModel           string `envconfig:"QA_MODEL"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL"`

	// Operator token for admin routes. Empty disables admin endpoints.
	AdminToken string `envconfig:"ADMIN_TOKEN"`

	GenerationTimeout       time.Duration `envconfig:"GENERATION_TIMEOUT" default:"90s"`
	GenerationPollInterval  time.Duration `envconfig:"GENERATION_POLL_INTERVAL" default:"5s"`
	GenerationBatchSize     int           `envconfig:"GENERATION_BATCH_SIZE" default:"10"`
	MaxRegenerationAttempts int           `envconfig:"MAX_REGENERATION_ATTEMPTS" default:"3"`
	DailyGenerationLimit    int           `envconfig:"DAILY_GENERATION_LIMIT" default:"10"`

	ReviewInterval      time.Duration `envconfig:"REVIEW_INTERVAL" default:"24h"`
	ReviewPollInterval  time.Duration `envconfig:"REVIEW_POLL_INTERVAL" default:"10m"`
	ReviewBatchSize     int           `envconfig:"REVIEW_BATCH_SIZE" default:"100"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("SWOOPKB", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
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

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenRouter() bool {
	return c.OpenRouterAPIKey != ""
}
