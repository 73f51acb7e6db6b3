package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
)

// Config holds the complete application configuration, loadable from
// environment variables (DISCOUNT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (DISCOUNT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
	Discounts   DiscountsConfig
	Idempotency IdempotencyConfig
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// DiscountsConfig controls stacking behavior.
type DiscountsConfig struct {
	StackingOrder      []string `default:"percentage,fixed" usage:"Discount type groups in processing order" flag:"stacking-order"`
	MaxTotalPercentage float64  `default:"100" usage:"Pooled cap on total percentage deducted" flag:"max-total-percentage"`
	RoundingMode       string   `default:"round" usage:"Final amount rounding: round, ceil, or floor" flag:"rounding-mode"`
	Precision          int      `default:"2" usage:"Decimal places of monetary amounts"`
	DefaultMaxUses     int      `default:"1" usage:"Per-user cap for discounts without one (0 = unlimited)" flag:"default-max-uses"`
}

// IdempotencyConfig bounds how long a concurrent apply call waits for the
// idempotency-key holder before adopting its placeholder.
type IdempotencyConfig struct {
	PollInterval time.Duration `default:"100ms" usage:"Interval between idempotency polls" flag:"poll-interval"`
	PollAttempts int           `default:"50" usage:"Max idempotency polls before takeover" flag:"poll-attempts"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DISCOUNT",
		Files:     []string{"config.yaml", "/etc/discounts/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set DISCOUNT_DATABASE_URL or DATABASE_URL")
	}
	switch m := discount.RoundingMode(cfg.Discounts.RoundingMode); m {
	case discount.RoundNearest, discount.RoundCeil, discount.RoundFloor:
	default:
		return nil, errors.Errorf("unknown rounding mode %q", cfg.Discounts.RoundingMode)
	}

	return &cfg, nil
}

// EngineConfig converts the loaded configuration into the engine's immutable
// stacking configuration.
func (c *Config) EngineConfig() discount.Config {
	order := make([]discount.Type, 0, len(c.Discounts.StackingOrder))
	for _, t := range c.Discounts.StackingOrder {
		order = append(order, discount.Type(t))
	}
	return discount.Config{
		StackingOrder:   order,
		MaxTotalPercent: decimal.NewFromFloat(c.Discounts.MaxTotalPercentage),
		RoundingMode:    discount.RoundingMode(c.Discounts.RoundingMode),
		Precision:       int32(c.Discounts.Precision),
		DefaultMaxUses:  c.Discounts.DefaultMaxUses,
		PollInterval:    c.Idempotency.PollInterval,
		PollAttempts:    c.Idempotency.PollAttempts,
	}
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT to the DISCOUNT_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
