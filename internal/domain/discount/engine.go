package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Zafeer999/hipster-task2/internal/domain/audit"
)

// Sentinel errors for apply input validation. Both are raised before any
// state change.
var (
	ErrInvalidAmount         = errors.New("amount must not be negative")
	ErrIdempotencyKeyTooLong = errors.New("idempotency key exceeds 128 bytes")
)

// maxIdempotencyKeyLen bounds client-supplied idempotency keys.
const maxIdempotencyKeyLen = 128

// ApplyOptions carries optional per-call context for Apply.
type ApplyOptions struct {
	// IdempotencyKey is an opaque client token. When set, retried or
	// concurrent calls with the same key observe one canonical result.
	IdempotencyKey string
	// Meta is free-form context stored on the audit record.
	Meta map[string]any
}

// Result is the outcome of one Apply call. Applied is empty when no
// discount qualified.
type Result struct {
	Original decimal.Decimal
	Final    decimal.Decimal
	Applied  []audit.AppliedEntry
	AuditID  int64
	// AlreadyExecuted reports that the result was read back from a prior
	// terminal audit record for the same idempotency key.
	AlreadyExecuted bool
}

// Sink receives fire-and-forget notifications of engine outcomes.
// Implementations live in internal/event.
type Sink interface {
	DiscountAssigned(ctx context.Context, userID, discountID int64)
	DiscountRevoked(ctx context.Context, userID, discountID int64)
	DiscountApplied(ctx context.Context, userID int64, applied []audit.AppliedEntry, original, final decimal.Decimal)
}

// Engine orchestrates discount selection, atomic cap enforcement,
// cent-exact computation, and audit recording. It is safe for concurrent
// use; all shared mutable state lives in the Store and Ledger.
type Engine struct {
	catalog Catalog
	store   Store
	ledger  audit.Ledger
	sink    Sink
	cfg     Config

	now func() time.Time
}

// NewEngine constructs an Engine. The configuration is captured immutably;
// zero-value fields other than DefaultMaxUses fall back to DefaultConfig
// values (a zero DefaultMaxUses means unlimited).
func NewEngine(catalog Catalog, store Store, ledger audit.Ledger, sink Sink, cfg Config) *Engine {
	return &Engine{
		catalog: catalog,
		store:   store,
		ledger:  ledger,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// Assign idempotently grants the discount to the user. Re-assigning an
// existing pair (revoked or not) returns the existing row unchanged.
func (e *Engine) Assign(ctx context.Context, userID, discountID int64) (*Assignment, error) {
	d, err := e.catalog.GetByID(ctx, discountID)
	if err != nil {
		return nil, errors.Wrap(err, "load discount")
	}

	a, created, err := e.store.FirstOrCreate(ctx, userID, d.ID, e.now())
	if err != nil {
		return nil, errors.Wrap(err, "create assignment")
	}

	e.sink.DiscountAssigned(ctx, userID, d.ID)

	if _, err := e.ledger.Record(ctx, &audit.Record{
		IdempotencyKey: uuid.NewString(),
		UserID:         userID,
		DiscountID:     &d.ID,
		Action:         audit.ActionAssigned,
		Meta:           map[string]any{"created": created},
	}); err != nil {
		return nil, errors.Wrap(err, "record assignment audit")
	}

	return a, nil
}

// Revoke terminally revokes the user's assignment. It reports false when no
// assignment exists; revocation of an already-revoked assignment is a no-op
// returning true.
func (e *Engine) Revoke(ctx context.Context, userID, discountID int64) (bool, error) {
	ok, err := e.store.Revoke(ctx, userID, discountID, e.now())
	if err != nil {
		return false, errors.Wrap(err, "revoke assignment")
	}
	if !ok {
		return false, nil
	}

	e.sink.DiscountRevoked(ctx, userID, discountID)

	if _, err := e.ledger.Record(ctx, &audit.Record{
		IdempotencyKey: uuid.NewString(),
		UserID:         userID,
		DiscountID:     &discountID,
		Action:         audit.ActionRevoked,
	}); err != nil {
		return false, errors.Wrap(err, "record revocation audit")
	}

	return true, nil
}

// EligibleFor reports whether the discount would be considered for the user
// right now: active window, assignment present and not revoked, usage below
// the effective cap.
func (e *Engine) EligibleFor(ctx context.Context, userID, discountID int64) (bool, error) {
	d, err := e.catalog.GetByID(ctx, discountID)
	if err != nil {
		return false, errors.Wrap(err, "load discount")
	}
	if !d.IsActiveNow(e.now()) {
		return false, nil
	}

	a, err := e.store.Find(ctx, userID, discountID)
	if err != nil {
		return false, errors.Wrap(err, "load assignment")
	}
	if a == nil || a.IsRevoked() {
		return false, nil
	}

	if cap := d.usageCap(e.cfg.DefaultMaxUses); cap != capUnlimited && a.UsageCount >= cap {
		return false, nil
	}
	return true, nil
}

// EligibleForUser returns every discount across the user's non-revoked
// assignments that currently satisfies the eligibility conditions. Order is
// not significant.
func (e *Engine) EligibleForUser(ctx context.Context, userID int64) ([]Discount, error) {
	candidates, err := e.store.ListActive(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list assignments")
	}

	now := e.now()
	eligible := make([]Discount, 0, len(candidates))
	for _, c := range candidates {
		if !c.Discount.IsActiveNow(now) {
			continue
		}
		if cap := c.Discount.usageCap(e.cfg.DefaultMaxUses); cap != capUnlimited && c.Assignment.UsageCount >= cap {
			continue
		}
		eligible = append(eligible, c.Discount)
	}
	return eligible, nil
}

// Apply selects and applies the user's eligible discounts to amount and
// returns the resulting price breakdown. See ApplyOptions for idempotent
// execution. A storage failure is safe to retry with the same key.
func (e *Engine) Apply(ctx context.Context, userID int64, amount decimal.Decimal, opts ApplyOptions) (*Result, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	key := opts.IdempotencyKey
	if len(key) > maxIdempotencyKeyLen {
		return nil, ErrIdempotencyKeyTooLong
	}

	var placeholderID int64
	if key != "" {
		// Fast path: a terminal record for this key always wins.
		if rec, err := e.ledger.FindTerminal(ctx, key); err != nil {
			return nil, errors.Wrap(err, "check idempotency key")
		} else if rec != nil {
			return resultFromRecord(rec), nil
		}

		id, created, err := e.ledger.BeginApply(ctx, key, userID, amount)
		if err != nil {
			return nil, errors.Wrap(err, "create audit placeholder")
		}
		if created {
			placeholderID = id
		} else {
			// Another caller owns the key. Poll for its terminal result.
			rec, err := e.awaitTerminal(ctx, key)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				return resultFromRecord(rec), nil
			}

			// Poll ceiling exceeded: the placeholder holder presumably
			// crashed. Adopt its record and execute ourselves.
			existing, err := e.ledger.FindByKey(ctx, key)
			if err != nil {
				return nil, errors.Wrap(err, "load stale placeholder")
			}
			if existing != nil {
				if existing.Action.IsTerminal() {
					return resultFromRecord(existing), nil
				}
				placeholderID = existing.ID
				zctx.From(ctx).Info("adopting stale idempotency placeholder",
					zap.String("key", key),
					zap.Int64("audit_id", placeholderID),
				)
			}
		}
	}

	return e.execute(ctx, userID, amount, key, placeholderID, opts.Meta)
}

// awaitTerminal polls the ledger for a terminal record at the configured
// interval, up to the configured attempt ceiling. It returns nil (with no
// error) when the ceiling is exceeded.
func (e *Engine) awaitTerminal(ctx context.Context, key string) (*audit.Record, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < e.cfg.PollAttempts; attempt++ {
		rec, err := e.ledger.FindTerminal(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "poll for terminal audit")
		}
		if rec != nil {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, nil
}

// execute runs the selection and application stages for one apply call.
func (e *Engine) execute(ctx context.Context, userID int64, amount decimal.Decimal, key string, placeholderID int64, meta map[string]any) (*Result, error) {
	now := e.now()

	candidates, err := e.store.ListActive(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list assignments")
	}

	active := candidates[:0:0]
	for _, c := range candidates {
		if c.Discount.IsActiveNow(now) {
			active = append(active, c)
		}
	}

	precision := e.cfg.Precision
	originalCents := toCents(amount, precision)
	original := fromCents(originalCents, precision)

	if len(active) == 0 {
		auditID, err := e.recordEmptyApply(ctx, key, userID, placeholderID, original, meta)
		if err != nil {
			return nil, err
		}
		return &Result{
			Original: original,
			Final:    original,
			Applied:  []audit.AppliedEntry{},
			AuditID:  auditID,
		}, nil
	}

	groups := orderCandidates(active, e.cfg.StackingOrder)

	var (
		applied      []audit.AppliedEntry
		runningCents int64
		auditID      int64
	)

	err = e.store.InTx(ctx, func(tx ApplyTx) error {
		// Reset in case the storage layer retries the transaction.
		applied = nil
		runningCents = originalCents

		var ids []int64
		for _, g := range groups {
			for _, c := range g {
				ids = append(ids, c.Assignment.ID)
			}
		}
		if err := tx.LockAssignments(ctx, ids); err != nil {
			return errors.Wrap(err, "lock assignments")
		}

		for _, g := range groups {
			switch g[0].Discount.Type {
			case TypePercentage:
				entries, remaining, err := e.applyPercentageGroup(ctx, tx, g, originalCents, runningCents)
				if err != nil {
					return err
				}
				applied = append(applied, entries...)
				runningCents = remaining
			case TypeFixed:
				entries, remaining, err := e.applyFixedGroup(ctx, tx, g, runningCents)
				if err != nil {
					return err
				}
				applied = append(applied, entries...)
				runningCents = remaining
			default:
				// Non-built-in types are handled by plug-in calculators
				// outside the stacking protocol.
				zctx.From(ctx).Debug("skipping unknown discount type group",
					zap.String("type", string(g[0].Discount.Type)),
				)
			}
		}

		final := fromCents(runningCents, precision)
		if placeholderID != 0 {
			if err := tx.FinalizeAudit(ctx, placeholderID, applied, original, final, meta); err != nil {
				return errors.Wrap(err, "finalize audit")
			}
			auditID = placeholderID
			return nil
		}

		k := key
		if k == "" {
			k = uuid.NewString()
		}
		id, err := tx.CreateAppliedAudit(ctx, k, userID, applied, original, final, meta)
		if err != nil {
			return errors.Wrap(err, "create audit")
		}
		auditID = id
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "apply transaction")
	}

	final := roundAmount(fromCents(runningCents, precision), precision, e.cfg.RoundingMode)
	if applied == nil {
		applied = []audit.AppliedEntry{}
	}

	e.sink.DiscountApplied(ctx, userID, applied, original, final)

	return &Result{
		Original: roundAmount(original, precision, e.cfg.RoundingMode),
		Final:    final,
		Applied:  applied,
		AuditID:  auditID,
	}, nil
}

// pctSelection is a tentatively selected percentage candidate with the
// portion of its percentage that fits under the pooled cap.
type pctSelection struct {
	cand Candidate
	pct  decimal.Decimal
}

// applyPercentageGroup walks ordered percentage candidates, pools their
// percentages under MaxTotalPercent, commits usage increments with the
// conditional update, and distributes the total deduction in exact cents.
func (e *Engine) applyPercentageGroup(ctx context.Context, tx ApplyTx, group []Candidate, originalCents, runningCents int64) ([]audit.AppliedEntry, int64, error) {
	// Selection stage: tentative picks based on usage counts read under
	// the row locks.
	var (
		selected     []pctSelection
		percentTotal decimal.Decimal
	)
	for _, c := range group {
		remaining := e.cfg.MaxTotalPercent.Sub(percentTotal)
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		would := decimal.Min(c.Discount.Value, remaining)
		if would.LessThanOrEqual(decimal.Zero) {
			continue
		}

		cap := c.Discount.usageCap(e.cfg.DefaultMaxUses)
		if cap != capUnlimited {
			usage, err := tx.UsageCount(ctx, c.Assignment.ID)
			if err != nil {
				return nil, 0, errors.Wrap(err, "read usage count")
			}
			if usage >= cap {
				continue
			}
		}

		selected = append(selected, pctSelection{cand: c, pct: would})
		percentTotal = percentTotal.Add(would)
	}

	// Commit stage: the conditional increment is the authority. A zero-row
	// update means a concurrent caller consumed the last slot; the
	// candidate is dropped from this call entirely.
	committed := selected[:0]
	for _, s := range selected {
		cap := s.cand.Discount.usageCap(e.cfg.DefaultMaxUses)
		ok, err := tx.TryIncrementUsage(ctx, s.cand.Assignment.ID, cap)
		if err != nil {
			return nil, 0, errors.Wrap(err, "increment usage")
		}
		if !ok {
			percentTotal = percentTotal.Sub(s.pct)
			zctx.From(ctx).Debug("discount lost usage race",
				zap.Int64("discount_id", s.cand.Discount.ID),
			)
			continue
		}
		committed = append(committed, s)
	}

	if len(committed) == 0 || percentTotal.LessThanOrEqual(decimal.Zero) {
		return nil, runningCents, nil
	}

	totalCents := decimal.NewFromInt(originalCents).Mul(percentTotal).Div(hundred).Round(0).IntPart()
	percents := make([]decimal.Decimal, len(committed))
	for i, s := range committed {
		percents[i] = s.pct
	}
	shares := distributeCents(originalCents, totalCents, percents)

	entries := make([]audit.AppliedEntry, len(committed))
	for i, s := range committed {
		runningCents -= shares[i]
		entries[i] = audit.AppliedEntry{
			DiscountID: s.cand.Discount.ID,
			Type:       string(TypePercentage),
			Value:      s.pct,
			Amount:     fromCents(shares[i], e.cfg.Precision),
			After:      fromCents(runningCents, e.cfg.Precision),
		}
	}
	return entries, runningCents, nil
}

// applyFixedGroup walks ordered fixed candidates, committing each against
// the then-current running balance. Deductions are clamped so the balance
// never goes negative; a candidate is skipped before its usage is burned
// when nothing remains to deduct.
func (e *Engine) applyFixedGroup(ctx context.Context, tx ApplyTx, group []Candidate, runningCents int64) ([]audit.AppliedEntry, int64, error) {
	var entries []audit.AppliedEntry
	for _, c := range group {
		fixedCents := toCents(c.Discount.Value, e.cfg.Precision)
		if fixedCents <= 0 {
			continue
		}
		if runningCents <= 0 {
			break
		}

		cap := c.Discount.usageCap(e.cfg.DefaultMaxUses)
		if cap != capUnlimited {
			usage, err := tx.UsageCount(ctx, c.Assignment.ID)
			if err != nil {
				return nil, 0, errors.Wrap(err, "read usage count")
			}
			if usage >= cap {
				continue
			}
		}

		ok, err := tx.TryIncrementUsage(ctx, c.Assignment.ID, cap)
		if err != nil {
			return nil, 0, errors.Wrap(err, "increment usage")
		}
		if !ok {
			continue
		}

		deduct := fixedCents
		if deduct > runningCents {
			deduct = runningCents
		}
		runningCents -= deduct

		entries = append(entries, audit.AppliedEntry{
			DiscountID: c.Discount.ID,
			Type:       string(TypeFixed),
			Value:      c.Discount.Value,
			Amount:     fromCents(deduct, e.cfg.Precision),
			After:      fromCents(runningCents, e.cfg.Precision),
		})
	}
	return entries, runningCents, nil
}

// recordEmptyApply writes the terminal audit for an apply that matched no
// discounts, finalizing the placeholder when one exists.
func (e *Engine) recordEmptyApply(ctx context.Context, key string, userID int64, placeholderID int64, original decimal.Decimal, meta map[string]any) (int64, error) {
	if placeholderID != 0 {
		if err := e.ledger.Finalize(ctx, placeholderID, audit.ActionApplied, []audit.AppliedEntry{}, original, original, meta); err != nil {
			return 0, errors.Wrap(err, "finalize audit")
		}
		return placeholderID, nil
	}

	k := key
	if k == "" {
		k = uuid.NewString()
	}
	id, err := e.ledger.Record(ctx, &audit.Record{
		IdempotencyKey: k,
		UserID:         userID,
		Action:         audit.ActionApplied,
		Applied:        []audit.AppliedEntry{},
		OriginalAmount: &original,
		FinalAmount:    &original,
		Meta:           meta,
	})
	if err != nil {
		return 0, errors.Wrap(err, "record audit")
	}
	return id, nil
}

// resultFromRecord converts a previously stored terminal audit record into
// an already-executed apply result.
func resultFromRecord(rec *audit.Record) *Result {
	res := &Result{
		Applied:         rec.Applied,
		AuditID:         rec.ID,
		AlreadyExecuted: true,
	}
	if rec.OriginalAmount != nil {
		res.Original = *rec.OriginalAmount
	}
	if rec.FinalAmount != nil {
		res.Final = *rec.FinalAmount
	}
	if res.Applied == nil {
		res.Applied = []audit.AppliedEntry{}
	}
	return res
}
