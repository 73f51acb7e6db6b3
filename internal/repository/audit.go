package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Zafeer999/hipster-task2/internal/domain/audit"
)

const (
	auditColumns = `id, idempotency_key, user_id, discount_id, action,
		applied, original_amount, final_amount, meta, created_at`

	// The unique idempotency_key constraint arbitrates concurrent apply
	// calls: exactly one insert wins, everyone else gets zero rows back.
	beginApplySQL = `INSERT INTO discount_audits (idempotency_key, user_id, action, original_amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`

	findTerminalSQL = `SELECT ` + auditColumns + `
		FROM discount_audits WHERE idempotency_key = $1 AND action <> $2`

	findByKeySQL = `SELECT ` + auditColumns + `
		FROM discount_audits WHERE idempotency_key = $1`

	finalizeAuditSQL = `UPDATE discount_audits
		SET action = $2, applied = $3, original_amount = $4, final_amount = $5, meta = $6, updated_at = now()
		WHERE id = $1 AND action = 'in_progress'`

	createAppliedAuditSQL = `INSERT INTO discount_audits
		(idempotency_key, user_id, action, applied, original_amount, final_amount, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	createAuditSQL = `INSERT INTO discount_audits
		(idempotency_key, user_id, discount_id, action, applied, original_amount, final_amount, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
)

var _ audit.Ledger = (*AuditRepository)(nil)

// AuditRepository implements audit.Ledger backed by PostgreSQL.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository returns an AuditRepository that uses the given pool.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// BeginApply atomically inserts an in-progress placeholder for (key, user).
// The second result reports whether this call created the placeholder.
func (r *AuditRepository) BeginApply(ctx context.Context, key string, userID int64, original decimal.Decimal) (int64, bool, error) {
	var id int64
	err := r.pool.QueryRow(ctx, beginApplySQL,
		key, userID, string(audit.ActionInProgress), original,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("beginning apply for key %q: %w", key, err)
	}
	return id, true, nil
}

// FindTerminal returns the terminal record for the key, or nil when none
// exists yet.
func (r *AuditRepository) FindTerminal(ctx context.Context, key string) (*audit.Record, error) {
	return r.findOne(ctx, findTerminalSQL, key, string(audit.ActionInProgress))
}

// FindByKey returns any record for the key, terminal or placeholder, or nil
// when none exists.
func (r *AuditRepository) FindByKey(ctx context.Context, key string) (*audit.Record, error) {
	return r.findOne(ctx, findByKeySQL, key)
}

// Finalize transitions an in-progress record to the given terminal action.
func (r *AuditRepository) Finalize(ctx context.Context, recordID int64, action audit.Action, applied []audit.AppliedEntry, original, final decimal.Decimal, meta map[string]any) error {
	appliedJSON, err := marshalApplied(applied)
	if err != nil {
		return err
	}
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, finalizeAuditSQL,
		recordID, string(action), appliedJSON, original, final, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("finalizing audit %d: %w", recordID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit %d is not in progress", recordID)
	}
	return nil
}

// Record inserts a terminal record and returns its id.
func (r *AuditRepository) Record(ctx context.Context, rec *audit.Record) (int64, error) {
	var appliedJSON []byte
	if rec.Applied != nil {
		var err error
		if appliedJSON, err = marshalApplied(rec.Applied); err != nil {
			return 0, err
		}
	}

	metaJSON, err := marshalMeta(rec.Meta)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.pool.QueryRow(ctx, createAuditSQL,
		rec.IdempotencyKey, rec.UserID, rec.DiscountID, string(rec.Action),
		appliedJSON, rec.OriginalAmount, rec.FinalAmount, metaJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("recording %s audit: %w", rec.Action, err)
	}
	return id, nil
}

// marshalMeta serializes free-form metadata for the JSONB column; empty
// metadata stores NULL.
func marshalMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit meta: %w", err)
	}
	return b, nil
}

func (r *AuditRepository) findOne(ctx context.Context, sql string, args ...any) (*audit.Record, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("finding audit record: %w", err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanAuditRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding audit record: %w", err)
	}
	return &rec, nil
}

func scanAuditRecord(row pgx.CollectableRow) (audit.Record, error) {
	var (
		rec         audit.Record
		action      string
		appliedJSON []byte
		metaJSON    []byte
	)
	err := row.Scan(
		&rec.ID, &rec.IdempotencyKey, &rec.UserID, &rec.DiscountID, &action,
		&appliedJSON, &rec.OriginalAmount, &rec.FinalAmount, &metaJSON, &rec.CreatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Action = audit.Action(action)

	if appliedJSON != nil {
		if err := json.Unmarshal(appliedJSON, &rec.Applied); err != nil {
			return rec, fmt.Errorf("unmarshaling applied entries: %w", err)
		}
	}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &rec.Meta); err != nil {
			return rec, fmt.Errorf("unmarshaling audit meta: %w", err)
		}
	}
	return rec, nil
}
