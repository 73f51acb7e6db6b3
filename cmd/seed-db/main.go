// Command seed-db loads discount definitions from a JSON file into the
// catalog and optionally assigns every seeded discount to a demo user.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
	"github.com/Zafeer999/hipster-task2/internal/repository"
)

type discountJSON struct {
	Code           string          `json:"code"`
	Type           string          `json:"type"`
	Value          decimal.Decimal `json:"value"`
	Priority       int             `json:"priority"`
	StartsAt       *time.Time      `json:"starts_at"`
	EndsAt         *time.Time      `json:"ends_at"`
	MaxUsesPerUser *int            `json:"max_uses_per_user"`
	UsageLimit     *int            `json:"usage_limit"`
}

func main() {
	var (
		databaseURL   string
		discountsFile string
		demoUserID    int64
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discountsFile, "discounts-file", "db/seed/discounts.json", "path to discounts JSON file")
	flag.Int64Var(&demoUserID, "demo-user", 0, "assign every seeded discount to this user id (0 = skip)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, discountsFile, demoUserID); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, discountsFile string, demoUserID int64) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	data, err := os.ReadFile(discountsFile)
	if err != nil {
		return errors.Wrapf(err, "read %s", discountsFile)
	}

	var entries []discountJSON
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.Wrapf(err, "parse %s", discountsFile)
	}

	discounts := repository.NewDiscountRepository(pool)
	assignments := repository.NewAssignmentRepository(pool)

	now := time.Now()
	for _, e := range entries {
		id, err := discounts.Create(ctx, &discount.Discount{
			Code:           e.Code,
			Type:           discount.Type(e.Type),
			Value:          e.Value,
			Priority:       e.Priority,
			StartsAt:       e.StartsAt,
			EndsAt:         e.EndsAt,
			Active:         true,
			MaxUsesPerUser: e.MaxUsesPerUser,
			UsageLimit:     e.UsageLimit,
		})
		if err != nil {
			return errors.Wrapf(err, "seed discount %q", e.Code)
		}
		slog.Info("seeded discount", slog.Int64("id", id), slog.String("code", e.Code))

		if demoUserID != 0 {
			if _, _, err := assignments.FirstOrCreate(ctx, demoUserID, id, now); err != nil {
				return errors.Wrapf(err, "assign discount %q to user %d", e.Code, demoUserID)
			}
		}
	}

	slog.Info("seeded discounts", slog.Int("count", len(entries)))
	return nil
}
