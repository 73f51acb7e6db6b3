package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Zafeer999/hipster-task2/internal/domain/audit"
	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
)

const (
	assignmentColumns = `id, user_id, discount_id, assigned_at, revoked_at, usage_count`

	createAssignmentSQL = `INSERT INTO user_discounts (user_id, discount_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, discount_id) DO NOTHING
		RETURNING ` + assignmentColumns

	getAssignmentSQL = `SELECT ` + assignmentColumns + `
		FROM user_discounts WHERE user_id = $1 AND discount_id = $2`

	// COALESCE keeps revocation terminal: a second revoke leaves the
	// original timestamp untouched.
	revokeAssignmentSQL = `UPDATE user_discounts
		SET revoked_at = COALESCE(revoked_at, $3), updated_at = now()
		WHERE user_id = $1 AND discount_id = $2`

	listCandidatesSQL = `SELECT ud.id, ud.user_id, ud.discount_id, ud.assigned_at, ud.revoked_at, ud.usage_count,
			d.id, COALESCE(d.code, ''), d.discount_type, d.value, d.priority,
			d.starts_at, COALESCE(d.expires_at, d.ends_at), d.active, d.max_uses_per_user, d.usage_limit
		FROM user_discounts ud
		JOIN discounts d ON d.id = ud.discount_id
		WHERE ud.user_id = $1 AND ud.revoked_at IS NULL`

	// Locked in id order so concurrent apply calls sharing candidates
	// cannot deadlock.
	lockAssignmentsSQL = `SELECT id FROM user_discounts
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	getUsageCountSQL = `SELECT usage_count FROM user_discounts WHERE id = $1`

	incrementUsageSQL = `UPDATE user_discounts
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1`

	incrementUsageCappedSQL = `UPDATE user_discounts
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1 AND usage_count < $2`
)

var _ discount.Store = (*AssignmentRepository)(nil)

// AssignmentRepository implements discount.Store backed by PostgreSQL.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository returns an AssignmentRepository that uses the
// given pool.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// FirstOrCreate inserts the (user, discount) assignment or returns the
// existing one. The unique constraint on the pair makes concurrent calls
// converge on a single row.
func (r *AssignmentRepository) FirstOrCreate(ctx context.Context, userID, discountID int64, at time.Time) (*discount.Assignment, bool, error) {
	rows, err := r.pool.Query(ctx, createAssignmentSQL, userID, discountID, at)
	if err != nil {
		return nil, false, fmt.Errorf("creating assignment (%d, %d): %w", userID, discountID, err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, scanAssignment)
	if err == nil {
		return &a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("creating assignment (%d, %d): %w", userID, discountID, err)
	}

	// Insert conflicted: another caller created the row first.
	existing, err := r.Find(ctx, userID, discountID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("assignment (%d, %d) vanished after conflict", userID, discountID)
	}
	return existing, false, nil
}

// Find returns the assignment for (user, discount), or nil when none exists.
func (r *AssignmentRepository) Find(ctx context.Context, userID, discountID int64) (*discount.Assignment, error) {
	rows, err := r.pool.Query(ctx, getAssignmentSQL, userID, discountID)
	if err != nil {
		return nil, fmt.Errorf("finding assignment (%d, %d): %w", userID, discountID, err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, scanAssignment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding assignment (%d, %d): %w", userID, discountID, err)
	}
	return &a, nil
}

// Revoke marks the assignment revoked. It reports false when no assignment
// exists for the pair; revoking an already-revoked assignment reports true
// without changing the stored timestamp.
func (r *AssignmentRepository) Revoke(ctx context.Context, userID, discountID int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, revokeAssignmentSQL, userID, discountID, at)
	if err != nil {
		return false, fmt.Errorf("revoking assignment (%d, %d): %w", userID, discountID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListActive returns all non-revoked assignments for the user joined with
// their discount definitions.
func (r *AssignmentRepository) ListActive(ctx context.Context, userID int64) ([]discount.Candidate, error) {
	rows, err := r.pool.Query(ctx, listCandidatesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments for user %d: %w", userID, err)
	}

	candidates, err := pgx.CollectRows(rows, scanCandidate)
	if err != nil {
		return nil, fmt.Errorf("listing assignments for user %d: %w", userID, err)
	}
	return candidates, nil
}

// txRetries bounds restarts of the apply transaction after a serialization
// failure or deadlock.
const txRetries = 3

// InTx runs fn inside one database transaction, committing when fn returns
// nil and rolling back otherwise. Serialization failures restart the whole
// transaction, including fn, up to txRetries times.
func (r *AssignmentRepository) InTx(ctx context.Context, fn func(tx discount.ApplyTx) error) error {
	var err error
	for attempt := 0; attempt <= txRetries; attempt++ {
		err = r.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (r *AssignmentRepository) runTx(ctx context.Context, fn func(tx discount.ApplyTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&applyTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// applyTx implements discount.ApplyTx on top of one pgx transaction.
type applyTx struct {
	tx pgx.Tx
}

var _ discount.ApplyTx = (*applyTx)(nil)

func (t *applyTx) LockAssignments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := t.tx.Query(ctx, lockAssignmentsSQL, ids)
	if err != nil {
		return fmt.Errorf("locking assignments: %w", err)
	}
	rows.Close()
	return rows.Err()
}

func (t *applyTx) UsageCount(ctx context.Context, assignmentID int64) (int, error) {
	var count int
	if err := t.tx.QueryRow(ctx, getUsageCountSQL, assignmentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("reading usage count for assignment %d: %w", assignmentID, err)
	}
	return count, nil
}

// TryIncrementUsage is the cap authority: the conditional update either
// claims a usage slot or affects zero rows.
func (t *applyTx) TryIncrementUsage(ctx context.Context, assignmentID int64, cap int) (bool, error) {
	if cap < 0 {
		if _, err := t.tx.Exec(ctx, incrementUsageSQL, assignmentID); err != nil {
			return false, fmt.Errorf("incrementing usage for assignment %d: %w", assignmentID, err)
		}
		return true, nil
	}

	tag, err := t.tx.Exec(ctx, incrementUsageCappedSQL, assignmentID, cap)
	if err != nil {
		return false, fmt.Errorf("incrementing usage for assignment %d: %w", assignmentID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *applyTx) FinalizeAudit(ctx context.Context, recordID int64, applied []audit.AppliedEntry, original, final decimal.Decimal, meta map[string]any) error {
	appliedJSON, err := marshalApplied(applied)
	if err != nil {
		return err
	}
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, finalizeAuditSQL,
		recordID, string(audit.ActionApplied), appliedJSON, original, final, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("finalizing audit %d: %w", recordID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit %d is not in progress", recordID)
	}
	return nil
}

func (t *applyTx) CreateAppliedAudit(ctx context.Context, key string, userID int64, applied []audit.AppliedEntry, original, final decimal.Decimal, meta map[string]any) (int64, error) {
	appliedJSON, err := marshalApplied(applied)
	if err != nil {
		return 0, err
	}
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return 0, err
	}

	var id int64
	err = t.tx.QueryRow(ctx, createAppliedAuditSQL,
		key, userID, string(audit.ActionApplied), appliedJSON, original, final, metaJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating applied audit for key %q: %w", key, err)
	}
	return id, nil
}

func marshalApplied(applied []audit.AppliedEntry) ([]byte, error) {
	if applied == nil {
		applied = []audit.AppliedEntry{}
	}
	b, err := json.Marshal(applied)
	if err != nil {
		return nil, fmt.Errorf("marshaling applied entries: %w", err)
	}
	return b, nil
}

func scanAssignment(row pgx.CollectableRow) (discount.Assignment, error) {
	var a discount.Assignment
	var assignedAt *time.Time
	err := row.Scan(&a.ID, &a.UserID, &a.DiscountID, &assignedAt, &a.RevokedAt, &a.UsageCount)
	if assignedAt != nil {
		a.AssignedAt = *assignedAt
	}
	return a, err
}

func scanCandidate(row pgx.CollectableRow) (discount.Candidate, error) {
	var (
		c          discount.Candidate
		assignedAt *time.Time
		typ        string
	)
	err := row.Scan(
		&c.Assignment.ID, &c.Assignment.UserID, &c.Assignment.DiscountID,
		&assignedAt, &c.Assignment.RevokedAt, &c.Assignment.UsageCount,
		&c.Discount.ID, &c.Discount.Code, &typ, &c.Discount.Value, &c.Discount.Priority,
		&c.Discount.StartsAt, &c.Discount.EndsAt, &c.Discount.Active,
		&c.Discount.MaxUsesPerUser, &c.Discount.UsageLimit,
	)
	if assignedAt != nil {
		c.Assignment.AssignedAt = *assignedAt
	}
	c.Discount.Type = discount.Type(typ)
	return c, err
}
