package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"storyforge/internal/domain"
)

// Config represents application configuration loaded from environment
// variables. Quality thresholds and pricing values are deliberate policy
// knobs rather than inlined constants.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns        int32         `env:"DB_MIN_CONNS" envDefault:"1"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"30m"`
	DBConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"10s"`

	StoragePath    string `env:"STORAGE_PATH" envDefault:"./storage"`
	StorageBaseURL string `env:"STORAGE_BASE_URL" envDefault:"http://localhost:8080/static"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	// Two cost/quality tiers: the standard model structures requests and
	// scores images, the light model only rewrites prompts.
	ModelStandard string `env:"MODEL_STANDARD" envDefault:"gpt-4o"`
	ModelLight    string `env:"MODEL_LIGHT" envDefault:"gpt-4o-mini"`

	ImageAPIKey  string `env:"IMAGE_API_KEY"`
	ImageBaseURL string `env:"IMAGE_BASE_URL"`
	// ImageRatePerMin bounds synthesis calls across one worker process.
	ImageRatePerMin int `env:"IMAGE_RATE_PER_MINUTE" envDefault:"10"`

	CheckoutSecret  string `env:"CHECKOUT_SECRET"`
	WebhookSecret   string `env:"WEBHOOK_SECRET"`
	CheckoutBaseURL string `env:"CHECKOUT_BASE_URL"`

	PagesPerBook      int           `env:"PAGES_PER_BOOK" envDefault:"10"`
	PageSleep         time.Duration `env:"PAGE_SLEEP" envDefault:"15s"`
	MaxPageAttempts   int           `env:"MAX_PAGE_ATTEMPTS" envDefault:"3"`
	PreviewCandidates int           `env:"PREVIEW_CANDIDATES" envDefault:"3"`

	// Pass thresholds over the evaluator sub-scores (1-5 scale) and the
	// style-purity hard floor below which a page is never accepted.
	QualityMinStyle       int `env:"QUALITY_MIN_STYLE" envDefault:"4"`
	QualityMinBackground  int `env:"QUALITY_MIN_BACKGROUND" envDefault:"3"`
	QualityMinAnatomy     int `env:"QUALITY_MIN_ANATOMY" envDefault:"3"`
	QualityMinComposition int `env:"QUALITY_MIN_COMPOSITION" envDefault:"3"`
	QualityStyleFloor     int `env:"QUALITY_STYLE_FLOOR" envDefault:"2"`

	BookBaseCents       int64 `env:"BOOK_BASE_CENTS" envDefault:"2999"`
	BookBaseItems       int   `env:"BOOK_BASE_ITEMS" envDefault:"10"`
	BookPageCents       int64 `env:"BOOK_PAGE_CENTS" envDefault:"199"`
	LibraryBaseCents    int64 `env:"LIBRARY_BASE_CENTS" envDefault:"1999"`
	LibraryBaseItems    int   `env:"LIBRARY_BASE_ITEMS" envDefault:"10"`
	LibraryItemCents    int64 `env:"LIBRARY_ITEM_CENTS" envDefault:"149"`
	CreditCents         int64 `env:"CREDIT_CENTS" envDefault:"99"`
	RegenerationCredits int   `env:"REGENERATION_CREDITS" envDefault:"1"`
	Currency            string `env:"CURRENCY" envDefault:"usd"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	TaskPollInterval time.Duration `env:"TASK_POLL_INTERVAL" envDefault:"2s"`
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

// BookPricing returns the pricing rule for book orders: the base price
// covers BookBaseItems pages, each page above that adds BookPageCents.
func (c *Config) BookPricing() domain.Pricing {
	return domain.Pricing{
		BaseCents:      c.BookBaseCents,
		BaseItems:      c.BookBaseItems,
		IncrementCents: c.BookPageCents,
	}
}

// LibraryPricing returns the pricing rule for cross-order page selections.
func (c *Config) LibraryPricing() domain.Pricing {
	return domain.Pricing{
		BaseCents:      c.LibraryBaseCents,
		BaseItems:      c.LibraryBaseItems,
		IncrementCents: c.LibraryItemCents,
	}
}
