package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"issuedigger"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"issuedigger"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd     string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost       string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP       string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxMsgSize  int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"1048576"` // 1MB
	NSQMaxAttempts uint16 `envconfig:"NSQ_MAX_ATTEMPTS" default:"5"`

	// GitHub App
	AppSlug                 string `envconfig:"GITHUB_APP_SLUG"`
	AppID                   int64  `envconfig:"GITHUB_APP_ID"`
	AppPrivateKey           string `envconfig:"GITHUB_APP_PRIVATE_KEY"`
	WebhookSecret           string `envconfig:"GITHUB_APP_WEBHOOK_SECRET"`
	AppOwner                string `envconfig:"GITHUB_APP_OWNER"`
	OnboardingLookbackLimit int    `envconfig:"GITHUB_ONBOARDING_LOOKBACK_LIMIT" default:"1000"`
	GitHubAPIURL            string `envconfig:"GITHUB_API_URL"`
	ProjectURL              string `envconfig:"PROJECT_URL" default:"https://github.com/alexpovel/issuedigger"`

	// Models
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	SummaryModel     string `envconfig:"SUMMARY_MODEL" default:"gemini-1.5-flash"`
	EmbedConcurrency int64  `envconfig:"EMBED_CONCURRENCY" default:"8"`

	SimilarIssues         int     `envconfig:"N_SIMILAR_ISSUES" default:"3"`
	WorkerConcurrency     int     `envconfig:"WORKER_CONCURRENCY" default:"10"`
	BookkeepingPageSize   int     `envconfig:"BOOKKEEPING_PAGE_SIZE" default:"100"`
	BackfillRatePerSecond float64 `envconfig:"BACKFILL_RATE_PER_SECOND" default:"20"`
	EnableAPI             bool    `envconfig:"ENABLE_API" default:"true"`
	EnableWorker          bool    `envconfig:"ENABLE_WORKER" default:"true"`
	MigrationPath         string  `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort          int   `envconfig:"SERVER_PORT" default:"8081"`
	MaxWebhookBodyBytes int64 `envconfig:"MAX_WEBHOOK_BODY_BYTES" default:"26214400"` // GitHub caps payloads at 25MB

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	// Keys pasted into a single-line env var usually carry literal \n.
	cfg.AppPrivateKey = strings.ReplaceAll(cfg.AppPrivateKey, `\n`, "\n")

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
	if c.AppSlug == "" {
		return fmt.Errorf("%w: GITHUB_APP_SLUG", ErrMissingRequired)
	}
	if c.EnableAPI && c.WebhookSecret == "" {
		return fmt.Errorf("%w: GITHUB_APP_WEBHOOK_SECRET", ErrMissingRequired)
	}
	// Both roles talk to GitHub: the API reacts to commands, the worker backfills and answers.
	if c.AppID == 0 {
		return fmt.Errorf("%w: GITHUB_APP_ID", ErrMissingRequired)
	}
	if c.AppPrivateKey == "" {
		return fmt.Errorf("%w: GITHUB_APP_PRIVATE_KEY", ErrMissingRequired)
	}
	if c.EnableWorker && c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
	}
	if c.SimilarIssues < 1 {
		return fmt.Errorf("N_SIMILAR_ISSUES must be positive, got %d", c.SimilarIssues)
	}
	return nil
}
