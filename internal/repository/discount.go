package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
)

// discountColumns collapses the legacy expires_at column into the effective
// end of the validity window. expires_at wins when both are set.
const discountColumns = `id, COALESCE(code, ''), discount_type, value, priority,
	starts_at, COALESCE(expires_at, ends_at), active, max_uses_per_user, usage_limit`

const (
	getDiscountByIDSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`

	createDiscountSQL = `INSERT INTO discounts
		(code, discount_type, value, priority, starts_at, ends_at, active, max_uses_per_user, usage_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	upsertDiscountByCodeSQL = `INSERT INTO discounts (code, discount_type, value, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (code) WHERE code IS NOT NULL
		DO UPDATE SET discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			active = TRUE,
			updated_at = now()
		RETURNING id`
)

var _ discount.Catalog = (*DiscountRepository)(nil)

// DiscountRepository provides access to the discount catalog backed by
// PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// GetByID loads one discount definition. Returns discount.ErrNotFound when
// no row exists.
func (r *DiscountRepository) GetByID(ctx context.Context, id int64) (*discount.Discount, error) {
	rows, err := r.pool.Query(ctx, getDiscountByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding discount %d: %w", id, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount %d: %w", id, err)
	}
	return &d, nil
}

// Create inserts a new catalog entry and returns its generated id.
func (r *DiscountRepository) Create(ctx context.Context, d *discount.Discount) (int64, error) {
	var code *string
	if d.Code != "" {
		code = &d.Code
	}

	var id int64
	err := r.pool.QueryRow(ctx, createDiscountSQL,
		code, string(d.Type), d.Value, d.Priority,
		d.StartsAt, d.EndsAt, d.Active, d.MaxUsesPerUser, d.UsageLimit,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating discount %q: %w", d.Code, err)
	}
	return id, nil
}

// UpsertByCode inserts or refreshes a code-keyed catalog entry, reactivating
// it when it already exists. Used by bulk code ingestion.
func (r *DiscountRepository) UpsertByCode(ctx context.Context, code string, typ discount.Type, value decimal.Decimal) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, upsertDiscountByCodeSQL, code, string(typ), value).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting discount %q: %w", code, err)
	}
	return id, nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d   discount.Discount
		typ string
	)
	err := row.Scan(
		&d.ID, &d.Code, &typ, &d.Value, &d.Priority,
		&d.StartsAt, &d.EndsAt, &d.Active, &d.MaxUsesPerUser, &d.UsageLimit,
	)
	d.Type = discount.Type(typ)
	return d, err
}
