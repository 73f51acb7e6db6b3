// Package audit defines the append-mostly audit trail for discount actions
// and the ledger interface whose idempotency-key uniqueness arbitrates which
// caller executes an apply.
package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Action enumerates audit record states. Exactly one terminal (non
// in-progress) record may exist per idempotency key; a record transitions
// from ActionInProgress to a terminal action exactly once.
type Action string

const (
	ActionAssigned   Action = "assigned"
	ActionRevoked    Action = "revoked"
	ActionApplied    Action = "applied"
	ActionInProgress Action = "in_progress"
)

// IsTerminal reports whether the action is a final state.
func (a Action) IsTerminal() bool {
	return a != ActionInProgress && a != ""
}

// AppliedEntry records one discount's contribution within an apply: the
// configured value, the cent-exact amount deducted, and the running balance
// remaining after this step.
type AppliedEntry struct {
	DiscountID int64           `json:"discount_id"`
	Type       string          `json:"type"`
	Value      decimal.Decimal `json:"value"`
	Amount     decimal.Decimal `json:"amount"`
	After      decimal.Decimal `json:"after"`
}

// Record is one audit row. DiscountID is set for single-discount actions
// (assign, revoke) and nil for apply actions, which carry the full Applied
// list instead.
type Record struct {
	ID             int64
	IdempotencyKey string
	UserID         int64
	DiscountID     *int64
	Action         Action
	Applied        []AppliedEntry
	OriginalAmount *decimal.Decimal
	FinalAmount    *decimal.Decimal
	Meta           map[string]any
	CreatedAt      time.Time
}

// Ledger persists audit records. Implementations must enforce uniqueness of
// the idempotency key (globally and per user) at the storage layer; the
// engine relies on that constraint, not on pre-reads.
type Ledger interface {
	// BeginApply atomically inserts an in-progress placeholder for
	// (key, user). The second result reports whether this call created the
	// placeholder; false means another record, placeholder or terminal,
	// already owns the key.
	BeginApply(ctx context.Context, key string, userID int64, original decimal.Decimal) (int64, bool, error)

	// FindTerminal returns the terminal record for the key, or nil when
	// none exists yet.
	FindTerminal(ctx context.Context, key string) (*Record, error)

	// FindByKey returns any record for the key, terminal or placeholder,
	// or nil when none exists.
	FindByKey(ctx context.Context, key string) (*Record, error)

	// Finalize transitions the record to the given terminal action,
	// attaching the applied breakdown, amounts, and metadata.
	Finalize(ctx context.Context, recordID int64, action Action, applied []AppliedEntry, original, final decimal.Decimal, meta map[string]any) error

	// Record inserts a terminal record (assign, revoke, or a keyless
	// apply) and returns its id.
	Record(ctx context.Context, rec *Record) (int64, error)
}
