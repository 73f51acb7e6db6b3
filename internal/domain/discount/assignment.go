package discount

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zafeer999/hipster-task2/internal/domain/audit"
)

// Assignment links a discount to a user. It carries its own usage counter,
// independent of the discount definition. An assignment is unique per
// (user, discount) pair and is never deleted; revocation is terminal.
type Assignment struct {
	ID         int64
	UserID     int64
	DiscountID int64
	AssignedAt time.Time
	RevokedAt  *time.Time
	UsageCount int
}

// IsRevoked reports whether the assignment has been revoked.
func (a *Assignment) IsRevoked() bool {
	return a.RevokedAt != nil
}

// Candidate couples an assignment with its discount definition for
// apply-time selection.
type Candidate struct {
	Assignment Assignment
	Discount   Discount
}

// Store persists assignments. Usage counts are mutated exclusively through
// ApplyTx.TryIncrementUsage so cap enforcement stays atomic under
// concurrent callers.
type Store interface {
	// FirstOrCreate returns the existing assignment for (user, discount)
	// or creates a new one. The second result reports whether a row was
	// created by this call.
	FirstOrCreate(ctx context.Context, userID, discountID int64, at time.Time) (*Assignment, bool, error)

	// Find returns the assignment for (user, discount), or nil when none
	// exists.
	Find(ctx context.Context, userID, discountID int64) (*Assignment, error)

	// Revoke sets revoked_at on the assignment. It reports false when no
	// assignment exists for the pair.
	Revoke(ctx context.Context, userID, discountID int64, at time.Time) (bool, error)

	// ListActive returns all non-revoked assignments for the user joined
	// with their discount definitions. Window and cap filtering happen in
	// the engine.
	ListActive(ctx context.Context, userID int64) ([]Candidate, error)

	// InTx runs fn inside one storage transaction. The transaction is
	// retried by the caller's storage layer policy; an error from fn rolls
	// everything back.
	InTx(ctx context.Context, fn func(tx ApplyTx) error) error
}

// ApplyTx is the transactional surface the engine drives during one apply
// call: row locks, fresh usage reads, conditional increments, and the
// terminal audit write, all committed atomically.
type ApplyTx interface {
	// LockAssignments acquires row-level locks on the given assignment ids,
	// serializing concurrent apply calls that share candidates.
	LockAssignments(ctx context.Context, ids []int64) error

	// UsageCount reads the current usage counter under the lock.
	UsageCount(ctx context.Context, assignmentID int64) (int, error)

	// TryIncrementUsage increments the usage counter by one only while it
	// is below cap, in a single conditional update. It reports false when
	// the conditional update affected no rows. A negative cap means
	// unlimited and increments unconditionally.
	TryIncrementUsage(ctx context.Context, assignmentID int64, cap int) (bool, error)

	// FinalizeAudit transitions a placeholder audit record to its terminal
	// 'applied' state inside the transaction.
	FinalizeAudit(ctx context.Context, recordID int64, applied []audit.AppliedEntry, original, final decimal.Decimal, meta map[string]any) error

	// CreateAppliedAudit inserts a terminal 'applied' audit record inside
	// the transaction and returns its id.
	CreateAppliedAudit(ctx context.Context, key string, userID int64, applied []audit.AppliedEntry, original, final decimal.Decimal, meta map[string]any) (int64, error)
}
