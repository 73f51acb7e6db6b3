// Package event delivers assignment, revocation, and application
// notifications to external consumers. Delivery is fire-and-forget: the
// engine never consumes a return value and never fails an operation because
// a sink misbehaved.
package event

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Zafeer999/hipster-task2/internal/domain/audit"
)

// Sink receives discount lifecycle notifications.
type Sink interface {
	DiscountAssigned(ctx context.Context, userID, discountID int64)
	DiscountRevoked(ctx context.Context, userID, discountID int64)
	DiscountApplied(ctx context.Context, userID int64, applied []audit.AppliedEntry, original, final decimal.Decimal)
}

// LogSink writes every notification to a zap logger. It is the default sink
// when no external broadcaster is wired.
type LogSink struct {
	lg *zap.Logger
}

// NewLogSink returns a Sink logging at Info level.
func NewLogSink(lg *zap.Logger) *LogSink {
	return &LogSink{lg: lg}
}

func (s *LogSink) DiscountAssigned(_ context.Context, userID, discountID int64) {
	s.lg.Info("discount assigned",
		zap.Int64("user_id", userID),
		zap.Int64("discount_id", discountID),
	)
}

func (s *LogSink) DiscountRevoked(_ context.Context, userID, discountID int64) {
	s.lg.Info("discount revoked",
		zap.Int64("user_id", userID),
		zap.Int64("discount_id", discountID),
	)
}

func (s *LogSink) DiscountApplied(_ context.Context, userID int64, applied []audit.AppliedEntry, original, final decimal.Decimal) {
	s.lg.Info("discounts applied",
		zap.Int64("user_id", userID),
		zap.Int("count", len(applied)),
		zap.String("original", original.String()),
		zap.String("final", final.String()),
	)
}

// Multi fans one notification out to several sinks in order.
type Multi []Sink

func (m Multi) DiscountAssigned(ctx context.Context, userID, discountID int64) {
	for _, s := range m {
		s.DiscountAssigned(ctx, userID, discountID)
	}
}

func (m Multi) DiscountRevoked(ctx context.Context, userID, discountID int64) {
	for _, s := range m {
		s.DiscountRevoked(ctx, userID, discountID)
	}
}

func (m Multi) DiscountApplied(ctx context.Context, userID int64, applied []audit.AppliedEntry, original, final decimal.Decimal) {
	for _, s := range m {
		s.DiscountApplied(ctx, userID, applied, original, final)
	}
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) DiscountAssigned(context.Context, int64, int64) {}
func (Nop) DiscountRevoked(context.Context, int64, int64)  {}
func (Nop) DiscountApplied(context.Context, int64, []audit.AppliedEntry, decimal.Decimal, decimal.Decimal) {
}
